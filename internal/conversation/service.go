package conversation

import (
	"context"
	"log/slog"
	"time"

	"sudooom.planverse/internal/event"
	"sudooom.planverse/internal/loop"
	"sudooom.planverse/internal/metrics"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/realtime"
	"sudooom.planverse/internal/schema"
	"sudooom.planverse/internal/task"
	appErrors "sudooom.planverse/shared/errors"
)

// Store 会话成员表
type Store interface {
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	// UpdateDisplayOrders 批量写入排序值，要么全部成功要么全部失败
	UpdateDisplayOrders(ctx context.Context, userID string, updates []model.OrderUpdate) error
	// SetConversationPinned 切换置顶并清空排序值
	SetConversationPinned(ctx context.Context, userID, conversationID string, pinned bool) error
	SetConversationMuted(ctx context.Context, userID, conversationID string, muted bool) error
	ResetUnread(ctx context.Context, userID, conversationID string) error
}

// Service 会话列表与平台之间的同步，所有方法都在所属事件循环中调用
type Service struct {
	userID    string
	list      *List
	store     Store
	loop      loop.Loop
	clock     task.Clock
	sink      event.Sink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	ioTimeout time.Duration

	// inflight 尚未完成的排序写入数，大于零时暂停后台刷新
	inflight int
	// stale 暂停期间有刷新被跳过，或有写入失败，写入全部完成后重新拉取
	stale  bool
	loaded bool
}

// Options 构造参数
type Options struct {
	UserID    string
	Store     Store
	Loop      loop.Loop
	Clock     task.Clock
	Sink      event.Sink
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	IOTimeout time.Duration
}

// NewService 创建
func NewService(o Options) *Service {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Sink == nil {
		o.Sink = event.Discard
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = task.Wall{}
	}
	return &Service{
		userID:    o.UserID,
		list:      NewList(),
		store:     o.Store,
		loop:      o.Loop,
		clock:     o.Clock,
		sink:      o.Sink,
		metrics:   o.Metrics,
		logger:    o.Logger,
		ioTimeout: o.IOTimeout,
	}
}

// Loaded 是否已完成首次加载
func (s *Service) Loaded() bool { return s.loaded }

// Sorted 排好序的会话列表
func (s *Service) Sorted() []model.Conversation { return s.list.Sorted() }

// Get 单个会话
func (s *Service) Get(id string) (model.Conversation, bool) { return s.list.Get(id) }

// UnreadTotal 未读总数
func (s *Service) UnreadTotal() int { return s.list.UnreadTotal() }

// Refresh 后台刷新，排序写入进行中时跳过
func (s *Service) Refresh() {
	if s.inflight > 0 {
		s.stale = true
		return
	}
	s.fetch(nil)
}

// fetch 拉取全部会话并替换，done 在替换后执行
func (s *Service) fetch(done func(error)) {
	s.io(func(ctx context.Context) func() {
		rows, err := s.store.ListConversations(ctx, s.userID)
		return func() {
			if err != nil {
				s.logger.Warn("Failed to fetch conversations", "user", s.userID, "error", err)
			} else if s.inflight == 0 {
				s.list.Replace(rows)
				s.loaded = true
				s.emit()
			} else {
				s.stale = true
			}
			if done != nil {
				done(err)
			}
		}
	})
}

// Reorder 拖动排序
func (s *Service) Reorder(id string, toIndex int) error {
	updates, err := s.list.Reorder(id, toIndex)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrCrossPartition) {
			s.metrics.Reorder("rejected")
			s.notice(err)
		}
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	s.emit()

	s.inflight++
	s.io(func(ctx context.Context) func() {
		err := s.store.UpdateDisplayOrders(ctx, s.userID, updates)
		return func() {
			s.inflight--
			if err != nil {
				s.metrics.Reorder("failed")
				s.metrics.Rollback("reorder")
				s.logger.Warn("Failed to persist conversation order", "user", s.userID, "error", err)
				s.notice(appErrors.ErrReorderFailed.Wrap(err))
				s.stale = true
			} else {
				s.metrics.Reorder("ok")
			}
			if s.inflight == 0 && s.stale {
				s.stale = false
				s.fetch(nil)
			}
		}
	})
	return nil
}

// MarkRead 本地清零未读并写回平台
func (s *Service) MarkRead(id string) {
	if _, ok := s.list.items[id]; !ok {
		return
	}
	if s.list.MarkRead(id) {
		s.emit()
	}
	s.io(func(ctx context.Context) func() {
		if err := s.store.ResetUnread(ctx, s.userID, id); err != nil {
			s.logger.Debug("Failed to reset unread", "conversation", id, "error", err)
		}
		return nil
	})
}

// SetPinned 乐观切换置顶，失败时重新拉取
func (s *Service) SetPinned(id string, pinned bool) error {
	if _, ok := s.list.items[id]; !ok {
		return appErrors.ErrConversationNotFound
	}
	if !s.list.SetPinned(id, pinned) {
		return nil
	}
	s.emit()

	s.io(func(ctx context.Context) func() {
		err := s.store.SetConversationPinned(ctx, s.userID, id, pinned)
		return func() {
			if err != nil {
				s.rollback("pin", err)
				s.fetch(nil)
			}
		}
	})
	return nil
}

// SetMuted 乐观切换免打扰，失败时恢复
func (s *Service) SetMuted(id string, muted bool) error {
	if _, ok := s.list.items[id]; !ok {
		return appErrors.ErrConversationNotFound
	}
	if !s.list.SetMuted(id, muted) {
		return nil
	}
	s.emit()

	s.io(func(ctx context.Context) func() {
		err := s.store.SetConversationMuted(ctx, s.userID, id, muted)
		return func() {
			if err != nil {
				s.list.SetMuted(id, !muted)
				s.rollback("mute", err)
			}
		}
	})
	return nil
}

// Touch 新消息到达
func (s *Service) Touch(m *model.Message, open bool) {
	if s.list.Touch(m, s.userID, open) {
		s.emit()
	}
}

// HandleChange 会话成员行变更，主题为当前用户ID
func (s *Service) HandleChange(c realtime.Change) {
	if c.Table != realtime.TableConversations || c.Topic != s.userID {
		return
	}
	s.metrics.RealtimeEvent(c.Table, string(c.Type))

	if c.Type == realtime.Delete {
		raw := c.Old
		if len(raw) == 0 {
			raw = c.Record
		}
		row, err := schema.DecodeConversation(raw)
		if err != nil {
			s.reject(err)
			return
		}
		if s.list.Delete(row.ID) {
			s.emit()
		}
		return
	}

	row, err := schema.DecodeConversation(c.Record)
	if err != nil {
		s.reject(err)
		return
	}
	if row.UserID != s.userID {
		return
	}
	if s.inflight > 0 {
		s.stale = true
		return
	}
	s.list.Upsert(*row)
	s.emit()
}

func (s *Service) reject(err error) {
	s.metrics.InvalidPayload()
	s.logger.Warn("Dropping invalid conversation payload", "user", s.userID, "error", err)
}

func (s *Service) rollback(op string, err error) {
	s.metrics.Rollback(op)
	s.logger.Warn("Conversation update rolled back", "user", s.userID, "op", op, "error", err)
	s.notice(appErrors.ErrUpdateFailed.Wrap(err))
	s.emit()
}

func (s *Service) io(work func(ctx context.Context) func()) {
	s.loop.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.ioTimeout)
		defer cancel()

		done := work(ctx)
		if done != nil {
			s.loop.Post(done)
		}
	})
}

func (s *Service) emit() {
	s.sink(event.Event{Kind: event.KindConversations, Data: s.list.Sorted(), At: s.clock.Now()})
}

func (s *Service) notice(err error) {
	s.sink(event.NewNotice("", err))
}
