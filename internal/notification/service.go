// Package notification 站内通知：业务方投递到 Kafka，消费端写入 Redis 并推给在线会话
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sudooom.planverse/internal/metrics"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/repository"
	appErrors "sudooom.planverse/shared/errors"
)

// ErrNotFound 通知不在列表中
var ErrNotFound = repository.ErrNotFound

// Publisher 通知出口
type Publisher interface {
	Publish(ctx context.Context, n model.Notification) error
}

// Deliverer 在线推送，用户没有会话时返回 false
type Deliverer interface {
	Deliver(n model.Notification) bool
}

// Service 通知服务
type Service struct {
	store     Store
	publisher Publisher
	deliverer Deliverer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Options 构造参数
type Options struct {
	Store Store
	// Publisher 为空时直接写入，不经过 Kafka
	Publisher Publisher
	Deliverer Deliverer
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// NewService 创建
func NewService(o Options) *Service {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Service{
		store:     o.Store,
		publisher: o.Publisher,
		deliverer: o.Deliverer,
		metrics:   o.Metrics,
		logger:    o.Logger,
		now:       time.Now,
	}
}

// SetDeliverer 会话管理器创建之后再接上
func (s *Service) SetDeliverer(d Deliverer) {
	s.deliverer = d
}

// Notify 投递一条通知，Kafka 不可用时退化为直接写入
func (s *Service) Notify(ctx context.Context, n model.Notification) error {
	if n.UserID == "" || n.UserID == n.ActorID {
		return nil
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	n.Read = false

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, n)
		if err == nil {
			s.metrics.Notification("published")
			return nil
		}
		s.logger.Warn("Failed to publish notification, writing directly", "userId", n.UserID, "kind", n.Kind, "error", err)
	}
	return s.Handle(ctx, n)
}

// Handle 消费端：写入列表并推送给在线会话
func (s *Service) Handle(ctx context.Context, n model.Notification) error {
	if err := s.store.Push(ctx, n); err != nil {
		s.metrics.Notification("failed")
		return err
	}
	s.metrics.Notification("stored")
	if s.deliverer != nil && s.deliverer.Deliver(n) {
		s.metrics.Notification("delivered")
	}
	return nil
}

// List 最近的通知
func (s *Service) List(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	return s.store.List(ctx, userID, limit)
}

// UnreadCount 未读数
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	list, err := s.store.List(ctx, userID, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range list {
		if !item.Read {
			n++
		}
	}
	return n, nil
}

// MarkRead 标记单条已读
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	err := s.store.MarkRead(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		return appErrors.ErrNotificationNotFound
	}
	return err
}

// MarkAllRead 全部已读
func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	return s.store.MarkAllRead(ctx, userID)
}
