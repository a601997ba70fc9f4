package model

import "encoding/json"

// ============== 频道事件 (服务端 -> 客户端) ==============

// Envelope 频道事件封装
// 一个频道上复用多种事件，事件名 + 原始载荷
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UserRef 事件中携带的用户信息
type UserRef struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// NewMessageEvent new-message 事件载荷
type NewMessageEvent struct {
	ConversationID string          `json:"conversationId"`
	Message        *MessageSummary `json:"message,omitempty"`
}

// PresenceEvent user-online / user-offline 事件载荷
type PresenceEvent struct {
	UserID string   `json:"userId"`
	User   *UserRef `json:"user,omitempty"`
}

// TypingEvent typing / stop-typing 事件载荷
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}
