package presence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"sudooom.study.sync/internal/channel"
	"sudooom.study.sync/internal/model"
	"sudooom.study.sync/internal/transport"
)

// 直聊副标题只有两档，不建模更细的在线状态粒度
const (
	SubtitleOnline   = "Online"
	SubtitleLastSeen = "Last seen recently"
)

// ChannelClient 订阅能力的最小抽象，由 transport.Client 实现
type ChannelClient interface {
	Subscribe(channelName string) (*transport.ChannelHandle, error)
	Unsubscribe(channelName string) error
}

// trackState 单个会话频道的跟踪状态
type trackState struct {
	online map[string]struct{}
	handle *transport.ChannelHandle
}

// Tracker 在线状态跟踪器
// 每个会话的 presence 频道对应一个在线用户集合，
// 订阅时创建，退订时整体丢弃
type Tracker struct {
	client   ChannelClient
	mu       sync.RWMutex
	tracking map[string]*trackState // conversationId -> 跟踪状态
	logger   *slog.Logger
}

// NewTracker 创建在线状态跟踪器
func NewTracker(client ChannelClient, logger *slog.Logger) *Tracker {
	return &Tracker{
		client:   client,
		tracking: make(map[string]*trackState),
		logger:   logger.With("component", "presence"),
	}
}

// Track 订阅会话的 presence 频道并开始维护在线集合
// 返回频道句柄，调用方可以在上面继续绑定同频道的其他事件。
// 跟踪状态只有在句柄就位后才对外可见，并发 Track 同一会话拿到的
// 都是同一个已初始化的句柄
func (t *Tracker) Track(conversationID string) (*transport.ChannelHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.tracking[conversationID]; ok {
		// 已在跟踪，引用计数交给 transport 层
		if _, err := t.client.Subscribe(channel.BuildPresenceChannel(conversationID)); err != nil {
			return nil, err
		}
		return st.handle, nil
	}

	handle, err := t.client.Subscribe(channel.BuildPresenceChannel(conversationID))
	if err != nil {
		return nil, err
	}

	t.tracking[conversationID] = &trackState{
		online: make(map[string]struct{}),
		handle: handle,
	}

	handle.Bind(channel.EventUserOnline, func(data json.RawMessage) {
		if userID := decodeUserID(data); userID != "" {
			t.setOnline(conversationID, userID)
		}
	})
	handle.Bind(channel.EventUserOffline, func(data json.RawMessage) {
		if userID := decodeUserID(data); userID != "" {
			t.setOffline(conversationID, userID)
		}
	})

	return handle, nil
}

// Untrack 退订并丢弃会话的在线集合
func (t *Tracker) Untrack(conversationID string) {
	t.mu.Lock()
	delete(t.tracking, conversationID)
	t.mu.Unlock()

	if err := t.client.Unsubscribe(channel.BuildPresenceChannel(conversationID)); err != nil {
		t.logger.Debug("Presence unsubscribe failed",
			"conversation_id", conversationID,
			"error", err)
	}
}

// decodeUserID 容错解析事件载荷，缺字段当作空处理
func decodeUserID(data json.RawMessage) string {
	var payload model.PresenceEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	if payload.UserID != "" {
		return payload.UserID
	}
	if payload.User != nil {
		return payload.User.ID
	}
	return ""
}

// setOnline 加入在线集合，重复加入是幂等的
func (t *Tracker) setOnline(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.tracking[conversationID]
	if !ok {
		// 已退订，迟到事件直接丢弃
		return
	}
	st.online[userID] = struct{}{}
}

// setOffline 移除在线用户，移除不存在的 id 是 no-op
func (t *Tracker) setOffline(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.tracking[conversationID]; ok {
		delete(st.online, userID)
	}
}

// IsOnline 判断用户是否在会话频道中在线
func (t *Tracker) IsOnline(conversationID, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.tracking[conversationID]
	if !ok {
		return false
	}
	_, online := st.online[userID]
	return online
}

// OnlineCount 返回会话频道中的在线人数
func (t *Tracker) OnlineCount(conversationID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if st, ok := t.tracking[conversationID]; ok {
		return len(st.online)
	}
	return 0
}

// Subtitle 生成会话副标题
// direct 看对端是否在线，群聊显示在线人数
func (t *Tracker) Subtitle(conv *model.Conversation, viewerUserID string) string {
	if conv.Kind == model.KindDirect {
		peer := conv.Peer(viewerUserID)
		if peer != nil && t.IsOnline(conv.ID, peer.UserID) {
			return SubtitleOnline
		}
		return SubtitleLastSeen
	}

	count := t.OnlineCount(conv.ID)
	if count == 1 {
		return "1 member online"
	}
	return fmt.Sprintf("%d members online", count)
}
