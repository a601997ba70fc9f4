package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sudooom.study.sync/internal/config"
	"sudooom.study.sync/internal/model"
	apperrors "sudooom.study.sync/pkg/errors"
)

const defaultPageLimit = 50

// Client REST 后端客户端
// 会话、消息、置顶都由外部后端持有，这里只做取数和提交
type Client struct {
	baseURL    string
	token      string
	pageLimit  int
	httpClient *http.Client
}

// NewClient 创建 REST 客户端
func NewClient(cfg config.APIConfig, token string) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = defaultPageLimit
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      token,
		pageLimit:  pageLimit,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListConversations 权威全量拉取会话列表
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var conversations []model.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// MessagesAfter 拉取某会话在水位线之后的消息，升序返回
func (c *Client) MessagesAfter(ctx context.Context, conversationID string, after time.Time) ([]model.MessageSummary, error) {
	path := fmt.Sprintf("/conversations/%s/messages?after=%s&limit=%s",
		url.PathEscape(conversationID),
		url.QueryEscape(after.UTC().Format(time.RFC3339Nano)),
		strconv.Itoa(c.pageLimit))

	var messages []model.MessageSummary
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// UpdatePin 提交置顶状态变更，返回服务端确认后的会话
func (c *Client) UpdatePin(ctx context.Context, conversationID string, isPinned bool) (*model.Conversation, error) {
	body := struct {
		IsPinned bool `json:"isPinned"`
	}{IsPinned: isPinned}

	var conversation model.Conversation
	path := fmt.Sprintf("/conversations/%s/pin", url.PathEscape(conversationID))
	if err := c.doJSON(ctx, http.MethodPut, path, body, &conversation); err != nil {
		if apperrors.Is(err, apperrors.ErrRequestFailed) {
			return nil, apperrors.ErrPinRejected.Wrap(err)
		}
		return nil, err
	}
	return &conversation, nil
}

// doJSON 发送请求并解析 JSON 响应
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.ErrInvalidParams.Wrap(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.ErrRequestFailed.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.ErrRequestFailed.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 错误体形如 {"error": "..."}，解析失败就用状态码
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return apperrors.ErrRequestFailed.Wrap(fmt.Errorf("%s %s: %s", method, path, errBody.Error))
		}
		return apperrors.ErrRequestFailed.Wrap(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.ErrRequestFailed.Wrap(err)
	}
	return nil
}
