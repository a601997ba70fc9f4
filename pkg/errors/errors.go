package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 用于统一管理业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError // 默认返回服务器错误
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeTokenInvalid = 10003
	CodeTokenExpired = 10004

	// 传输相关 20000-20999
	CodeTransportClosed = 20001
	CodeChannelNotFound = 20002
	CodeSubscribeFailed = 20003

	// 请求相关 21000-21999
	CodeRequestFailed        = 21001
	CodeConversationNotFound = 21002
	CodePinRejected          = 21003
	CodeInvalidParams        = 21004

	// 协议相关 22000-22999
	CodeBadEventPayload = 22001

	// 系统错误 50000-50999
	CodeServerError = 50001
	CodeStoreError  = 50002
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrTokenInvalid = NewError(CodeTokenInvalid, "token is invalid")
	ErrTokenExpired = NewError(CodeTokenExpired, "token has expired")
)

// 传输相关
var (
	ErrTransportClosed = NewError(CodeTransportClosed, "transport connection closed")
	ErrChannelNotFound = NewError(CodeChannelNotFound, "channel is not subscribed")
	ErrSubscribeFailed = NewError(CodeSubscribeFailed, "channel subscribe failed")
)

// 请求相关
var (
	ErrRequestFailed        = NewError(CodeRequestFailed, "backend request failed")
	ErrConversationNotFound = NewError(CodeConversationNotFound, "conversation not found")
	ErrPinRejected          = NewError(CodePinRejected, "pin update rejected by server")
	ErrInvalidParams        = NewError(CodeInvalidParams, "invalid parameters")
)

// 协议相关
var (
	ErrBadEventPayload = NewError(CodeBadEventPayload, "malformed event payload")
)

// 系统相关
var (
	ErrServerError = NewError(CodeServerError, "internal server error")
	ErrStoreError  = NewError(CodeStoreError, "snapshot store error")
)
