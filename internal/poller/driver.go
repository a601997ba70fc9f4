package poller

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"sudooom.study.sync/internal/model"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultJitter   = 2 * time.Second
)

// Fetcher 按水位线拉取会话新消息，由 api.Client 实现
type Fetcher interface {
	MessagesAfter(ctx context.Context, conversationID string, after time.Time) ([]model.MessageSummary, error)
}

// Applier 合并入口，由 listsync.Synchronizer 实现
// 轮询结果和推送走完全相同的合并路径
type Applier interface {
	IDs() ([]string, error)
	ApplyIncomingMessage(conversationID string, message model.MessageSummary) error
}

// Driver 轮询兜底驱动
// 固定间隔加抖动，对每个已知会话并发拉取水位线之后的消息；
// 单个会话失败只记日志跳过，不影响本轮其他会话，也不回退水位线
type Driver struct {
	fetcher Fetcher
	applier Applier
	pool    *Pool

	interval time.Duration
	jitter   time.Duration

	mu        sync.Mutex
	watermark time.Time
	onAdvance func(time.Time) // 水位线推进回调（快照持久化用，可为 nil）

	logger *slog.Logger
}

// NewDriver 创建轮询驱动
func NewDriver(fetcher Fetcher, applier Applier, pool *Pool, interval, jitter time.Duration, logger *slog.Logger) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if jitter < 0 {
		jitter = DefaultJitter
	}

	return &Driver{
		fetcher:   fetcher,
		applier:   applier,
		pool:      pool,
		interval:  interval,
		jitter:    jitter,
		watermark: time.Now(),
		logger:    logger.With("component", "poller"),
	}
}

// SetWatermark 设置水位线（快照热启动时恢复用）
func (d *Driver) SetWatermark(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !t.IsZero() {
		d.watermark = t
	}
}

// Watermark 返回当前水位线
func (d *Driver) Watermark() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watermark
}

// OnAdvance 注册水位线推进回调
func (d *Driver) OnAdvance(fn func(time.Time)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAdvance = fn
}

// Run 启动轮询循环（阻塞，应在 goroutine 中调用）
func (d *Driver) Run(ctx context.Context) {
	d.logger.Info("Polling fallback started",
		"interval", d.interval,
		"jitter", d.jitter)

	timer := time.NewTimer(d.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Polling fallback stopped")
			return
		case <-timer.C:
			d.pollOnce(ctx)
			timer.Reset(d.nextDelay())
		}
	}
}

// nextDelay 间隔加随机抖动，避免对后端的整点齐射
func (d *Driver) nextDelay() time.Duration {
	if d.jitter <= 0 {
		return d.interval
	}
	return d.interval + time.Duration(rand.Int63n(int64(d.jitter)))
}

// pollOnce 执行一轮轮询
// 水位线取本轮开始时刻，全部会话结算后才推进；
// 轮询中途产生的消息最多被重复拉到一次，由合并层的去重吸收
func (d *Driver) pollOnce(ctx context.Context) {
	ids, err := d.applier.IDs()
	if err != nil {
		d.logger.Warn("Poll skipped, conversation ids unavailable", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	roundStart := time.Now()
	after := d.Watermark()

	var wg sync.WaitGroup
	for _, conversationID := range ids {
		conversationID := conversationID
		wg.Add(1)
		submitted := d.pool.Submit(func() {
			defer wg.Done()
			d.pollConversation(ctx, conversationID, after)
		})
		if !submitted {
			wg.Done()
			return
		}
	}
	wg.Wait()

	d.advance(roundStart)
}

// pollConversation 拉取单个会话的增量并按时间升序灌入合并入口
func (d *Driver) pollConversation(ctx context.Context, conversationID string, after time.Time) {
	messages, err := d.fetcher.MessagesAfter(ctx, conversationID, after)
	if err != nil {
		// 尽力而为的兜底通道：失败跳过，下一轮再试
		d.logger.Warn("Poll fetch failed",
			"conversation_id", conversationID,
			"error", err)
		return
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	for _, message := range messages {
		if err := d.applier.ApplyIncomingMessage(conversationID, message); err != nil {
			d.logger.Warn("Poll apply failed",
				"conversation_id", conversationID,
				"message_id", message.ID,
				"error", err)
			return
		}
	}
}

// advance 推进共享水位线
func (d *Driver) advance(t time.Time) {
	d.mu.Lock()
	d.watermark = t
	fn := d.onAdvance
	d.mu.Unlock()

	if fn != nil {
		fn(t)
	}
}
