package model

import "time"

// Conversation 当前用户视角下的私信会话
// 置顶、免打扰、未读数和手动排序都是每个参与者各自的
type Conversation struct {
	ID            string    `json:"id" validate:"required,uuid"`
	UserID        string    `json:"user_id" validate:"required,uuid"`
	PeerID        string    `json:"peer_id" validate:"required,uuid"`
	PeerName      string    `json:"peer_name,omitempty"`
	PeerAvatar    string    `json:"peer_avatar,omitempty"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	Pinned        bool      `json:"pinned"`
	Muted         bool      `json:"muted"`
	UnreadCount   int       `json:"unread_count" validate:"gte=0"`
	// DisplayOrder 手动排序值：置顶为负数，普通为正数，未手动排序时为空
	DisplayOrder *int `json:"display_order,omitempty"`
}

// OrderUpdate 一条排序变更
type OrderUpdate struct {
	ConversationID string `json:"conversation_id"`
	Pinned         bool   `json:"pinned"`
	DisplayOrder   int    `json:"display_order"`
}

// IntPtr 辅助构造排序值
func IntPtr(v int) *int {
	return &v
}
