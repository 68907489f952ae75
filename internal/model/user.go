package model

import "time"

// User 用户
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Campus       string    `json:"campus,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Settings 用户隐私设置
type Settings struct {
	UserID string `json:"user_id"`
	// ReadReceipts 关闭后既不向对方发送已读，也不显示对方的已读
	ReadReceipts bool `json:"read_receipts"`
}

// DefaultSettings 默认设置
func DefaultSettings(userID string) Settings {
	return Settings{UserID: userID, ReadReceipts: true}
}
