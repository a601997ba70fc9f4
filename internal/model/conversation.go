package model

import "time"

// Kind 会话类型
type Kind string

const (
	KindDirect     Kind = "direct"
	KindGroup      Kind = "group"
	KindStudyGroup Kind = "study_group"
)

// Role 会话成员角色
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Participant 会话成员
// 每个用户在一个会话中只有一条记录，direct 会话恰好两条
type Participant struct {
	UserID     string     `json:"userId"`
	UserName   string     `json:"userName"`
	AvatarURL  string     `json:"avatarUrl,omitempty"`
	Role       Role       `json:"role"`
	JoinedAt   time.Time  `json:"joinedAt"`
	LastReadAt *time.Time `json:"lastReadAt,omitempty"`
}

// MessageSummary 列表视图所需的消息最小投影
// 一旦作为 lastMessage 挂到会话上就不可变，新消息到达时整体替换
type MessageSummary struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Conversation 会话
// 列表中的位置完全由 (isPinned desc, updatedAt desc) 决定，其他字段不影响排序
type Conversation struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Name         string          `json:"name,omitempty"`
	AvatarURL    string          `json:"avatarUrl,omitempty"`
	Participants []Participant   `json:"participants"`
	LastMessage  *MessageSummary `json:"lastMessage,omitempty"`
	UnreadCount  int             `json:"unreadCount"`
	IsPinned     bool            `json:"isPinned"`
	PinnedAt     *time.Time      `json:"pinnedAt,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// DisplayName 解析显示名称
// 有显式名称时直接使用；direct 会话取对端成员的名称
func (c *Conversation) DisplayName(viewerUserID string) string {
	if c.Name != "" {
		return c.Name
	}
	if c.Kind == KindDirect {
		for i := range c.Participants {
			if c.Participants[i].UserID != viewerUserID {
				return c.Participants[i].UserName
			}
		}
	}
	return c.ID
}

// Peer 返回 direct 会话的对端成员，非 direct 或找不到时返回 nil
func (c *Conversation) Peer(viewerUserID string) *Participant {
	if c.Kind != KindDirect {
		return nil
	}
	for i := range c.Participants {
		if c.Participants[i].UserID != viewerUserID {
			return &c.Participants[i]
		}
	}
	return nil
}

// Less 列表排序不变量：置顶优先，组内按 updatedAt 降序
// id 作为最后的决胜项，保证排序结果稳定
func Less(a, b *Conversation) bool {
	if a.IsPinned != b.IsPinned {
		return a.IsPinned
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}
