package listsync

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"sudooom.study.sync/internal/model"
)

var (
	ErrStopped             = errors.New("synchronizer stopped")
	ErrConversationMissing = errors.New("conversation not found")
)

// recentLimit 每个会话保留的最近已应用消息 id 数量
// 推送和轮询可能交错重复投递同一条消息，靠这个窗口保证幂等
const recentLimit = 128

const defaultQueueSize = 256

// Lister 权威全量拉取，由 api.Client 实现
type Lister interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
}

// PinUpdater 置顶提交，由 api.Client 实现
type PinUpdater interface {
	UpdatePin(ctx context.Context, conversationID string, isPinned bool) (*model.Conversation, error)
}

// entry 会话及其去重状态
type entry struct {
	conv        *model.Conversation
	recentIDs   map[string]struct{}
	recentQueue []string
}

func (e *entry) seen(messageID string) bool {
	_, ok := e.recentIDs[messageID]
	return ok
}

func (e *entry) remember(messageID string) {
	e.recentIDs[messageID] = struct{}{}
	e.recentQueue = append(e.recentQueue, messageID)
	if len(e.recentQueue) > recentLimit {
		oldest := e.recentQueue[0]
		e.recentQueue = e.recentQueue[1:]
		delete(e.recentIDs, oldest)
	}
}

// Synchronizer 会话列表同步器
// 推送事件、轮询结果和本地操作都汇入同一个合并入口，
// 全部状态变更经由单消费者邮箱串行化，业务态不加锁
type Synchronizer struct {
	viewerUserID string
	lister       Lister
	pins         PinUpdater

	commands chan func()
	done     chan struct{}

	// 以下状态只允许邮箱循环触碰
	entries    map[string]*entry
	order      []*entry
	selectedID string

	logger *slog.Logger
}

// New 创建会话列表同步器
func New(viewerUserID string, lister Lister, pins PinUpdater, queueSize int, logger *slog.Logger) *Synchronizer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Synchronizer{
		viewerUserID: viewerUserID,
		lister:       lister,
		pins:         pins,
		commands:     make(chan func(), queueSize),
		done:         make(chan struct{}),
		entries:      make(map[string]*entry),
		logger:       logger.With("component", "listsync"),
	}
}

// Run 启动邮箱消费循环（阻塞，应在 goroutine 中调用）
func (s *Synchronizer) Run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.commands:
			cmd()
		}
	}
}

// post 投递命令并等待执行完成
func (s *Synchronizer) post(cmd func()) error {
	executed := make(chan struct{})
	wrapped := func() {
		cmd()
		close(executed)
	}

	select {
	case <-s.done:
		return ErrStopped
	case s.commands <- wrapped:
	}

	select {
	case <-s.done:
		return ErrStopped
	case <-executed:
		return nil
	}
}

// LoadInitial 权威拉取并整体替换内存列表
func (s *Synchronizer) LoadInitial(ctx context.Context) ([]model.Conversation, error) {
	conversations, err := s.lister.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Replace(conversations); err != nil {
		return nil, err
	}
	return s.Snapshot()
}

// Replace 用给定列表整体替换内存状态（权威拉取或快照热启动）
func (s *Synchronizer) Replace(conversations []model.Conversation) error {
	return s.post(func() {
		s.entries = make(map[string]*entry, len(conversations))
		s.order = s.order[:0]
		for i := range conversations {
			conv := conversations[i]
			e := &entry{
				conv:      &conv,
				recentIDs: make(map[string]struct{}),
			}
			if conv.LastMessage != nil {
				e.remember(conv.LastMessage.ID)
			}
			s.entries[conv.ID] = e
			s.order = append(s.order, e)
		}
		s.resort()
	})
}

// ApplyIncomingMessage 核心合并规则
// 推送与轮询共用同一入口；重复消息 id 是严格 no-op
func (s *Synchronizer) ApplyIncomingMessage(conversationID string, message model.MessageSummary) error {
	return s.post(func() {
		s.applyMessage(conversationID, message)
	})
}

func (s *Synchronizer) applyMessage(conversationID string, message model.MessageSummary) {
	e, ok := s.entries[conversationID]
	if !ok {
		// 会话必须先存在才能接收消息更新，会话创建走另外的路径
		s.logger.Debug("Message for unknown conversation ignored",
			"conversation_id", conversationID,
			"message_id", message.ID)
		return
	}

	if message.ID == "" || e.seen(message.ID) {
		return
	}
	e.remember(message.ID)

	// 正在查看该会话、或收到自己消息的回显，都不能涨未读数
	if conversationID != s.selectedID && message.SenderID != s.viewerUserID {
		e.conv.UnreadCount++
	}

	// lastMessage 整体替换；乱序迟到的旧消息只计数，不回退 updatedAt
	if !message.CreatedAt.Before(e.conv.UpdatedAt) {
		msg := message
		e.conv.LastMessage = &msg
		e.conv.UpdatedAt = message.CreatedAt
	}

	s.resort()
}

// Select 将会话设为当前打开的会话并清零未读
// 本地即时生效，已读回执的服务端同步不在此路径
func (s *Synchronizer) Select(conversationID string) error {
	return s.post(func() {
		s.selectedID = conversationID
		if e, ok := s.entries[conversationID]; ok {
			e.conv.UnreadCount = 0
		}
	})
}

// Deselect 取消选中
func (s *Synchronizer) Deselect() error {
	return s.post(func() {
		s.selectedID = ""
	})
}

// TogglePin 乐观翻转置顶状态并提交服务端，失败时回滚并把错误交还调用方
func (s *Synchronizer) TogglePin(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var (
		newPinned bool
		prevAt    *time.Time
		found     bool
	)

	// 第一步：在循环内乐观翻转
	if err := s.post(func() {
		e, ok := s.entries[conversationID]
		if !ok {
			return
		}
		found = true
		prevAt = e.conv.PinnedAt
		newPinned = !e.conv.IsPinned
		e.conv.IsPinned = newPinned
		if newPinned {
			now := time.Now()
			e.conv.PinnedAt = &now
		} else {
			e.conv.PinnedAt = nil
		}
		s.resort()
	}); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrConversationMissing
	}

	// 第二步：循环外提交服务端，不阻塞其他事件的合并
	confirmed, err := s.pins.UpdatePin(ctx, conversationID, newPinned)
	if err != nil {
		// 回滚乐观变更，错误向上抛给 UI 层展示
		rollbackErr := s.post(func() {
			e, ok := s.entries[conversationID]
			if !ok {
				return
			}
			e.conv.IsPinned = !newPinned
			e.conv.PinnedAt = prevAt
			s.resort()
		})
		if rollbackErr != nil {
			return nil, rollbackErr
		}
		return nil, err
	}

	// 用服务端确认的 pinnedAt 对齐本地状态
	var result *model.Conversation
	if err := s.post(func() {
		e, ok := s.entries[conversationID]
		if !ok {
			return
		}
		e.conv.IsPinned = confirmed.IsPinned
		e.conv.PinnedAt = confirmed.PinnedAt
		s.resort()
		snapshot := *e.conv
		result = &snapshot
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// Snapshot 返回按排序不变量排列的列表副本
func (s *Synchronizer) Snapshot() ([]model.Conversation, error) {
	var result []model.Conversation
	err := s.post(func() {
		result = make([]model.Conversation, 0, len(s.order))
		for _, e := range s.order {
			result = append(result, *e.conv)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get 返回单个会话的副本
func (s *Synchronizer) Get(conversationID string) (*model.Conversation, error) {
	var result *model.Conversation
	err := s.post(func() {
		if e, ok := s.entries[conversationID]; ok {
			snapshot := *e.conv
			result = &snapshot
		}
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrConversationMissing
	}
	return result, nil
}

// SelectedID 返回当前选中的会话 id
func (s *Synchronizer) SelectedID() (string, error) {
	var id string
	err := s.post(func() {
		id = s.selectedID
	})
	return id, err
}

// IDs 返回当前已知的会话 id 列表（轮询驱动用）
func (s *Synchronizer) IDs() ([]string, error) {
	var ids []string
	err := s.post(func() {
		ids = make([]string, 0, len(s.order))
		for _, e := range s.order {
			ids = append(ids, e.conv.ID)
		}
	})
	return ids, err
}

// resort 按 (isPinned desc, updatedAt desc) 重排
func (s *Synchronizer) resort() {
	sort.SliceStable(s.order, func(i, j int) bool {
		return model.Less(s.order[i].conv, s.order[j].conv)
	})
}
