package model

import "time"

// FriendRequestStatus 好友请求状态
type FriendRequestStatus int

const (
	FriendRequestPending  FriendRequestStatus = 0
	FriendRequestAccepted FriendRequestStatus = 1
	FriendRequestRejected FriendRequestStatus = 2
)

// FriendRequest 好友请求
type FriendRequest struct {
	ID           string              `json:"id"`
	FromUserID   string              `json:"from_user_id"`
	ToUserID     string              `json:"to_user_id"`
	FromUsername string              `json:"from_username,omitempty"`
	Message      string              `json:"message,omitempty"`
	Status       FriendRequestStatus `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Friend 好友
type Friend struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Online         bool      `json:"online"`
	Since          time.Time `json:"since"`
}
