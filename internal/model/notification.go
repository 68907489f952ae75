package model

import "time"

// NotificationKind 通知类型
type NotificationKind string

const (
	NotifyFriendRequest  NotificationKind = "friend_request"
	NotifyFriendAccepted NotificationKind = "friend_accepted"
	NotifyPostLiked      NotificationKind = "post_liked"
	NotifyPostComment    NotificationKind = "post_comment"
	NotifyMessage        NotificationKind = "message"
)

// Notification 站内通知
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	ActorID   string            `json:"actor_id,omitempty"`
	Kind      NotificationKind  `json:"kind"`
	Title     string            `json:"title"`
	Body      string            `json:"body,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"created_at"`
}
