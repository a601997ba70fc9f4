package typing

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sudooom.study.sync/internal/channel"
	"sudooom.study.sync/internal/model"
	"sudooom.study.sync/internal/transport"
)

const (
	// DefaultThrottle 本地 typing-start 节流窗口
	DefaultThrottle = 2 * time.Second

	// DefaultExpiry 远端条目过期窗口
	// typing-stop 丢失时，卡住的指示器最多存活这么久
	DefaultExpiry = 4 * time.Second

	// DefaultSweepInterval 过期清扫间隔
	DefaultSweepInterval = time.Second
)

// Emitter 发送能力的最小抽象，由 transport.Client 实现
type Emitter interface {
	Emit(channelName, event string, payload interface{}) error
}

// localState 本地输入节流状态
type localState struct {
	sent  bool
	timer *time.Timer
}

// Coordinator 输入状态协调器
// 本地侧按会话节流 typing-start/stop 的发送，
// 远端侧维护带过期时间的 typing 用户集合，静默视为隐式停止
type Coordinator struct {
	emitter      Emitter
	viewerUserID string

	throttle      time.Duration
	expiry        time.Duration
	sweepInterval time.Duration

	mu     sync.Mutex
	local  map[string]*localState       // conversationId -> 节流状态
	remote map[string]map[string]time.Time // conversationId -> userId -> 过期时间

	logger *slog.Logger
}

// NewCoordinator 创建输入状态协调器
func NewCoordinator(emitter Emitter, viewerUserID string, throttle, expiry, sweepInterval time.Duration, logger *slog.Logger) *Coordinator {
	// 设置默认值
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	return &Coordinator{
		emitter:       emitter,
		viewerUserID:  viewerUserID,
		throttle:      throttle,
		expiry:        expiry,
		sweepInterval: sweepInterval,
		local:         make(map[string]*localState),
		remote:        make(map[string]map[string]time.Time),
		logger:        logger.With("component", "typing"),
	}
}

// Keystroke 本地按键信号
// 节流窗口内只发一次 typing-start，空闲超过窗口后补发 typing-stop
func (c *Coordinator) Keystroke(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.local[conversationID]
	if !ok {
		st = &localState{}
		c.local[conversationID] = st
	}

	if !st.sent {
		st.sent = true
		c.emit(conversationID, channel.EventTyping)
	}

	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(c.throttle, func() {
		c.idleStop(conversationID)
	})
}

// idleStop 节流定时器到期，发送 typing-stop 并清除已发送标记
func (c *Coordinator) idleStop(conversationID string) {
	c.mu.Lock()
	st, ok := c.local[conversationID]
	if !ok || !st.sent {
		c.mu.Unlock()
		return
	}
	st.sent = false
	st.timer = nil
	c.mu.Unlock()

	c.emit(conversationID, channel.EventStopTyping)
}

// emit 发送 typing 事件，fire-and-forget，失败只记日志
func (c *Coordinator) emit(conversationID, event string) {
	payload := model.TypingEvent{
		ConversationID: conversationID,
		UserID:         c.viewerUserID,
	}
	if err := c.emitter.Emit(channel.BuildPresenceChannel(conversationID), event, payload); err != nil {
		c.logger.Debug("Typing emit failed",
			"conversation_id", conversationID,
			"event", event,
			"error", err)
	}
}

// BindRemote 将频道句柄上的 typing 事件接入远端集合
func (c *Coordinator) BindRemote(handle *transport.ChannelHandle, conversationID string) {
	handle.Bind(channel.EventTyping, func(data json.RawMessage) {
		if userID := decodeUserID(data); userID != "" {
			c.HandleRemoteStart(conversationID, userID)
		}
	})
	handle.Bind(channel.EventStopTyping, func(data json.RawMessage) {
		if userID := decodeUserID(data); userID != "" {
			c.HandleRemoteStop(conversationID, userID)
		}
	})
}

func decodeUserID(data json.RawMessage) string {
	var payload model.TypingEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.UserID
}

// HandleRemoteStart 远端用户开始输入，登记过期时间
func (c *Coordinator) HandleRemoteStart(conversationID, userID string) {
	if userID == c.viewerUserID {
		// 自己的回显不显示
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.remote[conversationID]
	if !ok {
		set = make(map[string]time.Time)
		c.remote[conversationID] = set
	}
	set[userID] = time.Now().Add(c.expiry)
}

// HandleRemoteStop 远端用户显式停止输入，立即移除
func (c *Coordinator) HandleRemoteStop(conversationID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if set, ok := c.remote[conversationID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(c.remote, conversationID)
		}
	}
}

// TypingUsers 返回会话中正在输入的用户 id，已过期的条目读取时顺带过滤
func (c *Coordinator) TypingUsers(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.remote[conversationID]
	if !ok {
		return nil
	}

	now := time.Now()
	var users []string
	for userID, deadline := range set {
		if now.After(deadline) {
			delete(set, userID)
			continue
		}
		users = append(users, userID)
	}
	if len(set) == 0 {
		delete(c.remote, conversationID)
	}

	sort.Strings(users)
	return users
}

// Run 启动过期清扫循环（阻塞，应在 goroutine 中调用）
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep 移除所有过期的远端条目
func (c *Coordinator) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for conversationID, set := range c.remote {
		for userID, deadline := range set {
			if now.After(deadline) {
				delete(set, userID)
			}
		}
		if len(set) == 0 {
			delete(c.remote, conversationID)
		}
	}
}

// Close 停止所有本地节流定时器，防止视图销毁后继续发事件
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, st := range c.local {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.sent = false
	}
}
