package listsync

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.study.sync/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// mockBackend 同时实现 Lister 和 PinUpdater
type mockBackend struct {
	conversations []model.Conversation
	pinErr        error
	pinCalls      int
}

func (m *mockBackend) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	return m.conversations, nil
}

func (m *mockBackend) UpdatePin(ctx context.Context, conversationID string, isPinned bool) (*model.Conversation, error) {
	m.pinCalls++
	if m.pinErr != nil {
		return nil, m.pinErr
	}
	conv := model.Conversation{ID: conversationID, IsPinned: isPinned}
	if isPinned {
		at := t0.Add(time.Hour)
		conv.PinnedAt = &at
	}
	return &conv, nil
}

func directConv(id string, updatedAt time.Time) model.Conversation {
	return model.Conversation{
		ID:   id,
		Kind: model.KindDirect,
		Participants: []model.Participant{
			{UserID: "viewer", UserName: "Me", Role: model.RoleMember, JoinedAt: t0},
			{UserID: "peer-" + id, UserName: "Peer " + id, Role: model.RoleMember, JoinedAt: t0},
		},
		UpdatedAt: updatedAt,
	}
}

func msg(id, senderID string, createdAt time.Time) model.MessageSummary {
	return model.MessageSummary{
		ID:        id,
		SenderID:  senderID,
		Body:      "body of " + id,
		CreatedAt: createdAt,
	}
}

func startSynchronizer(t *testing.T, backend *mockBackend) *Synchronizer {
	t.Helper()
	s := New("viewer", backend, backend, 0, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)

	_, err := s.LoadInitial(context.Background())
	require.NoError(t, err)
	return s
}

func ids(conversations []model.Conversation) []string {
	out := make([]string, 0, len(conversations))
	for _, c := range conversations {
		out = append(out, c.ID)
	}
	return out
}

func TestApplyIncomingMessage_UnreadCounting(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{
		directConv("a", t0),
		directConv("b", t0),
	}}
	s := startSynchronizer(t, backend)

	// 未选中、他人发送：计数
	require.NoError(t, s.ApplyIncomingMessage("a", msg("m1", "peer-a", t0.Add(time.Second))))
	require.NoError(t, s.ApplyIncomingMessage("a", msg("m2", "peer-a", t0.Add(2*time.Second))))

	conv, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.UnreadCount)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "m2", conv.LastMessage.ID)
	assert.Equal(t, t0.Add(2*time.Second), conv.UpdatedAt)
}

func TestApplyIncomingMessage_SelfEchoDoesNotCount(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{directConv("a", t0)}}
	s := startSynchronizer(t, backend)

	// 自己消息的回显：lastMessage 更新，未读不涨
	require.NoError(t, s.ApplyIncomingMessage("a", msg("m1", "viewer", t0.Add(time.Second))))

	conv, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "m1", conv.LastMessage.ID)
}

func TestApplyIncomingMessage_SelectedDoesNotCount(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{directConv("c", t0)}}
	s := startSynchronizer(t, backend)

	require.NoError(t, s.Select("c"))

	// 正在查看的会话收到他人消息：未读保持 0
	require.NoError(t, s.ApplyIncomingMessage("c", msg("m1", "peer-c", t0.Add(time.Second))))

	conv, err := s.Get("c")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Equal(t, "m1", conv.LastMessage.ID)
}

func TestApplyIncomingMessage_DuplicateIsNoOp(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{directConv("a", t0)}}
	s := startSynchronizer(t, backend)

	m := msg("m1", "peer-a", t0.Add(time.Second))

	// 同一条消息经推送和轮询各到达一次
	require.NoError(t, s.ApplyIncomingMessage("a", m))
	require.NoError(t, s.ApplyIncomingMessage("a", m))

	conv, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestApplyIncomingMessage_InterleavedDuplicates(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{directConv("a", t0)}}
	s := startSynchronizer(t, backend)

	m1 := msg("m1", "peer-a", t0.Add(time.Second))
	m2 := msg("m2", "peer-a", t0.Add(2*time.Second))

	// A,B,A 式的交错重复也必须只各计一次
	require.NoError(t, s.ApplyIncomingMessage("a", m1))
	require.NoError(t, s.ApplyIncomingMessage("a", m2))
	require.NoError(t, s.ApplyIncomingMessage("a", m1))

	conv, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.UnreadCount)
	assert.Equal(t, "m2", conv.LastMessage.ID)
}

func TestApplyIncomingMessage_UnknownConversationIgnored(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{directConv("a", t0)}}
	s := startSynchronizer(t, backend)

	require.NoError(t, s.ApplyIncomingMessage("ghost", msg("m1", "peer-x", t0.Add(time.Second))))

	snapshot, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(snapshot))
}

func TestApplyIncomingMessage_StaleTimestampDoesNotRegress(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{directConv("a", t0)}}
	s := startSynchronizer(t, backend)

	require.NoError(t, s.ApplyIncomingMessage("a", msg("m2", "peer-a", t0.Add(10*time.Second))))
	// 迟到的旧消息：仍计入未读，但不回退 lastMessage/updatedAt
	require.NoError(t, s.ApplyIncomingMessage("a", msg("m1", "peer-a", t0.Add(time.Second))))

	conv, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.UnreadCount)
	assert.Equal(t, "m2", conv.LastMessage.ID)
	assert.Equal(t, t0.Add(10*time.Second), conv.UpdatedAt)
}

func TestOrdering_PinnedFirst(t *testing.T) {
	pinnedAt := t0.Add(-time.Hour)
	b := directConv("b", t0.Add(-10*time.Second))
	b.IsPinned = true
	b.PinnedAt = &pinnedAt

	backend := &mockBackend{conversations: []model.Conversation{
		directConv("a", t0),
		b,
	}}
	s := startSynchronizer(t, backend)

	// A 收到更新的消息，但 B 置顶，置顶优先于时间序
	require.NoError(t, s.ApplyIncomingMessage("a", msg("m1", "peer-a", t0.Add(time.Second))))

	snapshot, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(snapshot))
}

func TestOrdering_WithinGroupByUpdatedAtDesc(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{
		directConv("a", t0.Add(-3*time.Minute)),
		directConv("b", t0.Add(-2*time.Minute)),
		directConv("c", t0.Add(-time.Minute)),
	}}
	s := startSynchronizer(t, backend)

	snapshot, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(snapshot))

	require.NoError(t, s.ApplyIncomingMessage("a", msg("m1", "peer-a", t0)))

	snapshot, err = s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, ids(snapshot))
}

func TestSelect_ClearsUnreadAndStaysCleared(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{
		directConv("a", t0),
		directConv("b", t0.Add(-time.Minute)),
	}}
	s := startSynchronizer(t, backend)

	require.NoError(t, s.ApplyIncomingMessage("a", msg("m1", "peer-a", t0.Add(time.Second))))
	require.NoError(t, s.Select("a"))

	conv, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)

	// 切换选中到 b 后，b 的消息不影响 a 的未读数
	require.NoError(t, s.Select("b"))
	require.NoError(t, s.ApplyIncomingMessage("b", msg("m2", "peer-b", t0.Add(2*time.Second))))

	conv, err = s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)

	// a 再收到新消息才重新计数
	require.NoError(t, s.ApplyIncomingMessage("a", msg("m3", "peer-a", t0.Add(3*time.Second))))
	conv, err = s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestTogglePin_Optimistic(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{
		directConv("a", t0),
		directConv("b", t0.Add(time.Minute)),
	}}
	s := startSynchronizer(t, backend)

	conv, err := s.TogglePin(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, conv.IsPinned)
	assert.NotNil(t, conv.PinnedAt)
	assert.Equal(t, 1, backend.pinCalls)

	snapshot, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(snapshot))

	// 再次翻转取消置顶
	conv, err = s.TogglePin(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, conv.IsPinned)
	assert.Nil(t, conv.PinnedAt)

	snapshot, err = s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(snapshot))
}

func TestTogglePin_RollbackOnServerFailure(t *testing.T) {
	backend := &mockBackend{
		conversations: []model.Conversation{
			directConv("a", t0),
			directConv("b", t0.Add(time.Minute)),
		},
		pinErr: errors.New("server rejected"),
	}
	s := startSynchronizer(t, backend)

	_, err := s.TogglePin(context.Background(), "a")
	require.Error(t, err)

	// 乐观变更已回滚，排序恢复
	conv, getErr := s.Get("a")
	require.NoError(t, getErr)
	assert.False(t, conv.IsPinned)
	assert.Nil(t, conv.PinnedAt)

	snapshot, snapErr := s.Snapshot()
	require.NoError(t, snapErr)
	assert.Equal(t, []string{"b", "a"}, ids(snapshot))
}

func TestTogglePin_UnknownConversation(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{directConv("a", t0)}}
	s := startSynchronizer(t, backend)

	_, err := s.TogglePin(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrConversationMissing)
	assert.Equal(t, 0, backend.pinCalls)
}

func TestReplace_DedupesInitialLastMessage(t *testing.T) {
	last := msg("m1", "peer-a", t0)
	conv := directConv("a", t0)
	conv.LastMessage = &last

	backend := &mockBackend{conversations: []model.Conversation{conv}}
	s := startSynchronizer(t, backend)

	// 轮询重新取回已是 lastMessage 的那条消息：严格 no-op
	require.NoError(t, s.ApplyIncomingMessage("a", last))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCount)
}

func TestIDs_FollowsOrder(t *testing.T) {
	backend := &mockBackend{conversations: []model.Conversation{
		directConv("a", t0.Add(-time.Minute)),
		directConv("b", t0),
	}}
	s := startSynchronizer(t, backend)

	got, err := s.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, got)
}
