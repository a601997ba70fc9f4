package server

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"sudooom.study.sync/internal/listsync"
	"sudooom.study.sync/internal/model"
	"sudooom.study.sync/internal/presence"
	"sudooom.study.sync/internal/typing"
	"sudooom.study.sync/pkg/response"
)

// ConversationView 渲染层消费的视图模型
// 在同步状态之上叠加显示名、副标题和输入指示
type ConversationView struct {
	model.Conversation
	DisplayName   string   `json:"displayName"`
	Subtitle      string   `json:"subtitle"`
	TypingUserIDs []string `json:"typingUserIds,omitempty"`
}

// Handler 本地 HTTP 接口
type Handler struct {
	viewerUserID string
	list         *listsync.Synchronizer
	presence     *presence.Tracker
	typing       *typing.Coordinator
	session      *Session
	logger       *slog.Logger
}

// NewHandler 创建接口处理器
func NewHandler(viewerUserID string, list *listsync.Synchronizer, tracker *presence.Tracker, coordinator *typing.Coordinator, session *Session, logger *slog.Logger) *Handler {
	return &Handler{
		viewerUserID: viewerUserID,
		list:         list,
		presence:     tracker,
		typing:       coordinator,
		session:      session,
		logger:       logger,
	}
}

// ListConversations 返回按排序不变量排列的会话视图
// GET /api/v1/conversations
func (h *Handler) ListConversations(c *gin.Context) {
	conversations, err := h.list.Snapshot()
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	views := make([]ConversationView, 0, len(conversations))
	for i := range conversations {
		views = append(views, h.buildView(&conversations[i]))
	}
	response.Success(c, views)
}

// OpenConversation 打开会话：本地清零未读并接入该会话的实时频道
// POST /api/v1/conversations/:id/open
func (h *Handler) OpenConversation(c *gin.Context) {
	conversationID := c.Param("id")

	conv, err := h.list.Get(conversationID)
	if err != nil {
		if errors.Is(err, listsync.ErrConversationMissing) {
			response.NotFound(c)
			return
		}
		response.ErrorFromAppError(c, err)
		return
	}

	if err := h.session.Open(conversationID); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	conv.UnreadCount = 0
	view := h.buildView(conv)
	response.Success(c, view)
}

// TogglePin 乐观置顶翻转，服务端拒绝时已回滚，错误原样交给渲染层
// POST /api/v1/conversations/:id/pin
func (h *Handler) TogglePin(c *gin.Context) {
	conversationID := c.Param("id")

	conv, err := h.list.TogglePin(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, listsync.ErrConversationMissing) {
			response.NotFound(c)
			return
		}
		h.logger.Warn("Pin toggle rolled back",
			"conversation_id", conversationID,
			"error", err)
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, h.buildView(conv))
}

// Typing 本地按键信号，节流后的 typing 事件由协调器发出
// POST /api/v1/conversations/:id/typing
func (h *Handler) Typing(c *gin.Context) {
	conversationID := c.Param("id")

	if _, err := h.list.Get(conversationID); err != nil {
		if errors.Is(err, listsync.ErrConversationMissing) {
			response.NotFound(c)
			return
		}
		response.ErrorFromAppError(c, err)
		return
	}

	h.typing.Keystroke(conversationID)
	response.Success(c, nil)
}

func (h *Handler) buildView(conv *model.Conversation) ConversationView {
	return ConversationView{
		Conversation:  *conv,
		DisplayName:   conv.DisplayName(h.viewerUserID),
		Subtitle:      h.presence.Subtitle(conv, h.viewerUserID),
		TypingUserIDs: h.typing.TypingUsers(conv.ID),
	}
}
