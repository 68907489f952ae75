package model

import "time"

// Reaction 单个用户对消息的表情回应
type Reaction struct {
	MessageID string    `json:"message_id" validate:"required,uuid"`
	UserID    string    `json:"user_id" validate:"required,uuid"`
	Emoji     string    `json:"emoji" validate:"required,max=16"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionSummary 按表情聚合后的回应
type ReactionSummary struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
	Mine  bool   `json:"mine"`
}

// Pin 会话内被置顶的消息
type Pin struct {
	MessageID      string    `json:"message_id" validate:"required,uuid"`
	ConversationID string    `json:"conversation_id" validate:"required,uuid"`
	PinnedBy       string    `json:"pinned_by" validate:"required,uuid"`
	PinnedAt       time.Time `json:"pinned_at" validate:"required"`
}

// Typing 输入状态广播
type Typing struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid"`
	UserID         string `json:"user_id" validate:"required,uuid"`
	Typing         bool   `json:"typing"`
}
