package server

import (
	"sync"

	"sudooom.study.sync/internal/listsync"
	"sudooom.study.sync/internal/presence"
	"sudooom.study.sync/internal/typing"
)

// Session 当前打开会话的编排
// 选中会话时订阅它的 presence 频道并接入 typing 事件，
// 切换选中时退订上一个，保证每个频道只有一轮绑定
type Session struct {
	list     *listsync.Synchronizer
	presence *presence.Tracker
	typing   *typing.Coordinator

	mu     sync.Mutex
	openID string
}

// NewSession 创建会话编排器
func NewSession(list *listsync.Synchronizer, tracker *presence.Tracker, coordinator *typing.Coordinator) *Session {
	return &Session{
		list:     list,
		presence: tracker,
		typing:   coordinator,
	}
}

// Open 打开会话：清零未读、跟踪 presence、接入 typing
func (s *Session) Open(conversationID string) error {
	if err := s.list.Select(conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openID == conversationID {
		return nil
	}

	if s.openID != "" {
		s.presence.Untrack(s.openID)
	}

	handle, err := s.presence.Track(conversationID)
	if err != nil {
		s.openID = ""
		return err
	}
	s.typing.BindRemote(handle, conversationID)
	s.openID = conversationID
	return nil
}

// Close 关闭当前会话，取消选中并停掉频道订阅
func (s *Session) Close() error {
	s.mu.Lock()
	if s.openID != "" {
		s.presence.Untrack(s.openID)
		s.openID = ""
	}
	s.mu.Unlock()

	return s.list.Deselect()
}

// OpenID 返回当前打开的会话 id
func (s *Session) OpenID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openID
}
