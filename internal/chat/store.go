package chat

import (
	"context"
	"time"

	"sudooom.planverse/internal/model"
)

// MessageStore 消息表
type MessageStore interface {
	InsertMessage(ctx context.Context, m *model.Message) (*model.Message, error)
	// RecentMessages 最近 limit 条，按创建时间升序
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	// MessagesSince 创建时间不早于 since 的消息，按创建时间升序
	MessagesSince(ctx context.Context, conversationID string, since time.Time, limit int) ([]model.Message, error)
	UpdateMessageStatus(ctx context.Context, conversationID string, ids []string, status model.MessageStatus) error
}

// ReactionStore 回应表
type ReactionStore interface {
	ListReactions(ctx context.Context, conversationID string) ([]model.Reaction, error)
	AddReaction(ctx context.Context, conversationID string, r model.Reaction) error
	RemoveReaction(ctx context.Context, conversationID string, r model.Reaction) error
}

// PinStore 置顶表
type PinStore interface {
	ListPins(ctx context.Context, conversationID string) ([]model.Pin, error)
	PinMessage(ctx context.Context, p model.Pin) error
	UnpinMessage(ctx context.Context, conversationID, messageID string) error
}

// Store 会话线程需要的全部数据访问
type Store interface {
	MessageStore
	ReactionStore
	PinStore
}

// Uploader 图片上传，返回公开访问地址
type Uploader interface {
	Upload(ctx context.Context, ownerID string, u *model.Upload) (string, error)
}
