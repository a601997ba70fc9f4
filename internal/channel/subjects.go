package channel

// 频道名与 NATS Subject 的映射
// 逻辑频道名保持与后端契约一致（conversation-updates / presence-{id}），
// 落到总线上时统一挂在 study.chan. 前缀下
const (
	// SubjectPrefix 所有频道 Subject 前缀
	SubjectPrefix = "study.chan."

	// ConversationUpdates 全局会话更新频道（按 viewer 订阅）
	ConversationUpdates = "conversation-updates"

	// PresencePrefix 会话在线状态频道前缀
	// 完整格式: presence-{conversationId}
	PresencePrefix = "presence-"
)

// ============== 事件名 ==============

const (
	EventNewMessage  = "new-message"
	EventUserOnline  = "user-online"
	EventUserOffline = "user-offline"
	EventTyping      = "typing"
	EventStopTyping  = "stop-typing"
)

// BuildPresenceChannel 构建会话在线状态频道名
func BuildPresenceChannel(conversationID string) string {
	return PresencePrefix + conversationID
}

// BuildUpdatesChannel 构建 viewer 的会话更新频道名
func BuildUpdatesChannel(viewerUserID string) string {
	return ConversationUpdates + "." + viewerUserID
}

// Subject 将逻辑频道名映射为 NATS Subject
func Subject(channelName string) string {
	return SubjectPrefix + channelName
}
