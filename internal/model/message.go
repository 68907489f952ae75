package model

import (
	"strings"
	"time"
)

// TempIDPrefix 本地临时消息ID前缀，服务端ID为 UUID，不会以此开头
const TempIDPrefix = "temp-"

// MessageStatus 消息状态
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
	// StatusFailed 仅存在于本地：发送后迟迟未确认，等待用户重试或丢弃
	StatusFailed MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusFailed:    0,
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusSeen:      4,
}

// Rank 状态先后次序，未知状态为 -1
func (s MessageStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Valid 是否为已知状态
func (s MessageStatus) Valid() bool {
	return s.Rank() >= 0
}

// Persistable 是否允许写入数据表
func (s MessageStatus) Persistable() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusSeen
}

// Advance 状态只进不退
func Advance(cur, next MessageStatus) MessageStatus {
	if next.Rank() > cur.Rank() {
		return next
	}
	return cur
}

// Message 私信消息
type Message struct {
	ID             string        `json:"id" validate:"required"`
	ConversationID string        `json:"conversation_id" validate:"required,uuid"`
	SenderID       string        `json:"sender_id" validate:"required,uuid"`
	ReceiverID     string        `json:"receiver_id" validate:"required,uuid"`
	Content        string        `json:"content,omitempty" validate:"max=4000"`
	ImageURL       string        `json:"image_url,omitempty" validate:"omitempty,url"`
	Status         MessageStatus `json:"status" validate:"required,oneof=sent delivered seen"`
	IsRead         bool          `json:"is_read"`
	ReplyToID      string        `json:"reply_to_id,omitempty" validate:"omitempty,uuid"`
	ClientID       string        `json:"client_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at" validate:"required"`
}

// IsTemp 是否为尚未确认的本地消息
func (m *Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// HasImage 是否为图片消息
func (m *Message) HasImage() bool {
	return m.ImageURL != ""
}

// SameContent 文本和图片都一致
func (m *Message) SameContent(other *Message) bool {
	return m.Content == other.Content && m.ImageURL == other.ImageURL
}

// Draft 待发送的消息内容，文字与图片二选一
type Draft struct {
	ConversationID string
	ReceiverID     string
	Content        string
	Image          *Upload
	ReplyToID      string
}

// Upload 待上传的图片
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Valid 文字与图片有且只有一个
func (d *Draft) Valid() bool {
	hasText := strings.TrimSpace(d.Content) != ""
	hasImage := d.Image != nil && len(d.Image.Data) > 0
	return hasText != hasImage
}
