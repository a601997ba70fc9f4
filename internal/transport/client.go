package transport

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"sudooom.study.sync/internal/channel"
	"sudooom.study.sync/internal/config"
	"sudooom.study.sync/internal/model"
	apperrors "sudooom.study.sync/pkg/errors"
)

// Handler 频道事件处理函数
type Handler func(data json.RawMessage)

// Subscription 底层订阅句柄
type Subscription interface {
	Unsubscribe() error
}

// Conn 传输连接的最小抽象
// 生产环境由 NATS 连接实现，测试中用内存假总线替代
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (Subscription, error)
	IsConnected() bool
	Close()
}

// natsConn 基于 nats.Conn 的实现
// 断线后订阅由 nats.go 自动保留并在重连时恢复，
// 因此这里不需要额外的重订阅记录
type natsConn struct {
	conn *nats.Conn
}

func (n *natsConn) Publish(subject string, data []byte) error {
	return n.conn.Publish(subject, data)
}

func (n *natsConn) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	return n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

func (n *natsConn) IsConnected() bool {
	return n.conn.IsConnected()
}

func (n *natsConn) Close() {
	n.conn.Close()
}

// Dial 建立 NATS 连接
func Dial(cfg config.NATSConfig, logger *slog.Logger) (Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("Transport disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Transport reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	return &natsConn{conn: conn}, nil
}

// ChannelHandle 频道句柄
// 同名频道的重复订阅共享同一个句柄，处理函数按注册顺序调用
type ChannelHandle struct {
	name     string
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// Bind 注册事件处理函数，同一事件可注册多个
func (h *ChannelHandle) Bind(event string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = append(h.handlers[event], handler)
}

// dispatch 按注册顺序调用事件的所有处理函数
func (h *ChannelHandle) dispatch(event string, data json.RawMessage) {
	h.mu.RLock()
	handlers := h.handlers[event]
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}

type channelSub struct {
	refCount int
	sub      Subscription
	handle   *ChannelHandle
}

// Client 频道客户端
// 订阅按频道名引用计数，计数归零才真正退订
type Client struct {
	conn     Conn
	mu       sync.Mutex
	channels map[string]*channelSub
	logger   *slog.Logger
}

// NewClient 创建频道客户端
func NewClient(conn Conn, logger *slog.Logger) *Client {
	return &Client{
		conn:     conn,
		channels: make(map[string]*channelSub),
		logger:   logger,
	}
}

// Subscribe 订阅频道，幂等：同名频道返回同一句柄并增加引用计数
func (c *Client) Subscribe(channelName string) (*ChannelHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cs, ok := c.channels[channelName]; ok {
		cs.refCount++
		return cs.handle, nil
	}

	handle := &ChannelHandle{
		name:     channelName,
		handlers: make(map[string][]Handler),
	}

	sub, err := c.conn.Subscribe(channel.Subject(channelName), func(data []byte) {
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			// 坏事件只丢弃，不能让一条脏数据拖垮整个列表
			c.logger.Debug("Dropping malformed channel event",
				"channel", channelName,
				"error", err)
			return
		}
		handle.dispatch(env.Event, env.Data)
	})
	if err != nil {
		return nil, apperrors.ErrSubscribeFailed.Wrap(err)
	}

	c.channels[channelName] = &channelSub{
		refCount: 1,
		sub:      sub,
		handle:   handle,
	}
	c.logger.Debug("Channel subscribed", "channel", channelName)

	return handle, nil
}

// Unsubscribe 减少引用计数，归零时撤销底层订阅
func (c *Client) Unsubscribe(channelName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs, ok := c.channels[channelName]
	if !ok {
		return apperrors.ErrChannelNotFound
	}

	cs.refCount--
	if cs.refCount > 0 {
		return nil
	}

	delete(c.channels, channelName)
	c.logger.Debug("Channel unsubscribed", "channel", channelName)
	return cs.sub.Unsubscribe()
}

// Emit 向频道发送事件，调用方视角 fire-and-forget
func (c *Client) Emit(channelName, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.ErrBadEventPayload.Wrap(err)
	}

	env, err := json.Marshal(model.Envelope{Event: event, Data: data})
	if err != nil {
		return apperrors.ErrBadEventPayload.Wrap(err)
	}

	return c.conn.Publish(channel.Subject(channelName), env)
}

// IsConnected 返回底层连接是否存活
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// RefCount 返回频道当前引用计数，0 表示未订阅
func (c *Client) RefCount(channelName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cs, ok := c.channels[channelName]; ok {
		return cs.refCount
	}
	return 0
}

// Close 关闭底层连接
func (c *Client) Close() {
	c.conn.Close()
}
