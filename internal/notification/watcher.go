package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/realtime"
	"sudooom.planverse/internal/schema"
)

// OnlineChecker 在线状态查询
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Watcher 监听全部新消息，接收者不在线时发一条私信通知
// 同一会话在 quiet 时间内只通知一次
type Watcher struct {
	notifier *Service
	online   OnlineChecker
	quiet    time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// NewWatcher 创建
func NewWatcher(notifier *Service, online OnlineChecker, quiet time.Duration) *Watcher {
	if quiet <= 0 {
		quiet = time.Minute
	}
	return &Watcher{
		notifier: notifier,
		online:   online,
		quiet:    quiet,
		now:      time.Now,
		logger:   slog.Default(),
		last:     make(map[string]time.Time),
	}
}

// Start 订阅整张消息表
func (w *Watcher) Start(bus realtime.Bus) (realtime.Subscription, error) {
	return bus.Subscribe(realtime.TableMessages, "*", func(c realtime.Change) {
		if c.Type != realtime.Insert {
			return
		}
		go w.handle(c)
	})
}

func (w *Watcher) handle(c realtime.Change) {
	m, err := schema.DecodeMessage(c.Record)
	if err != nil {
		w.logger.Debug("Ignoring invalid message row", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if w.online != nil {
		online, err := w.online.IsOnline(ctx, m.ReceiverID)
		if err != nil {
			w.logger.Warn("Failed to check presence", "userId", m.ReceiverID, "error", err)
		}
		if online {
			return
		}
	}
	if !w.due(m.ReceiverID + ":" + m.ConversationID) {
		return
	}

	body := m.Content
	if m.HasImage() {
		body = "[图片]"
	}
	n := model.Notification{
		UserID:  m.ReceiverID,
		ActorID: m.SenderID,
		Kind:    model.NotifyMessage,
		Title:   "你有一条新私信",
		Body:    body,
		Meta:    map[string]string{"conversation_id": m.ConversationID, "message_id": m.ID},
	}
	if err := w.notifier.Notify(ctx, n); err != nil {
		w.logger.Warn("Failed to notify offline receiver", "userId", m.ReceiverID, "error", err)
	}
}

func (w *Watcher) due(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if last, ok := w.last[key]; ok && now.Sub(last) < w.quiet {
		return false
	}
	for k, t := range w.last {
		if now.Sub(t) >= w.quiet {
			delete(w.last, k)
		}
	}
	w.last[key] = now
	return true
}
