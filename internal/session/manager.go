package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.planverse/internal/event"
	"sudooom.planverse/internal/loop"
	"sudooom.planverse/internal/metrics"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/presence"
	"sudooom.planverse/internal/task"
	"sudooom.planverse/shared/snowflake"
)

// LoopFactory 为新会话创建事件循环
type LoopFactory func(userID string) Runner

// ManagerOptions 构造参数
type ManagerOptions struct {
	Config   Config
	Platform Platform
	Clock    task.Clock
	IDs      *snowflake.Node
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// Online 可为空，非空时会话存活期间维持在线状态
	Online *presence.Online
	// NewLoop 为空时使用单协程 workerpool
	NewLoop   LoopFactory
	QueueSize int
	// IdleTTL 没有订阅者且超过该时长未使用的会话被回收
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

type entry struct {
	session *Session
	cancel  context.CancelFunc
	closer  func()
	// closing 已被回收或关闭选中，Get 不再返回它
	closing bool
}

// Manager 按需创建会话，回收空闲会话
type Manager struct {
	opts   ManagerOptions
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager 创建
func NewManager(o ManagerOptions) *Manager {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 10 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.NewLoop == nil {
		logger := o.Logger
		size := o.QueueSize
		o.NewLoop = func(string) Runner { return loop.NewSerial(size, logger) }
	}
	return &Manager{
		opts:     o,
		logger:   o.Logger,
		sessions: make(map[string]*entry),
	}
}

// Get 获取或创建用户会话
func (m *Manager) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	if e, ok := m.sessions[userID]; ok && !e.closing {
		// 持锁刷新使用时间，Sweep 的空闲判断与此互斥
		e.session.touch()
		m.mu.Unlock()
		return e.session, nil
	}

	runner := m.opts.NewLoop(userID)
	s := New(Options{
		UserID:   userID,
		Config:   m.opts.Config,
		Platform: m.opts.Platform,
		Loop:     runner,
		Clock:    m.opts.Clock,
		IDs:      m.opts.IDs,
		Metrics:  m.opts.Metrics,
		Logger:   m.logger,
	})
	e := &entry{session: s, closer: func() {}}
	if c, ok := runner.(interface{ Close() }); ok {
		e.closer = c.Close
	}
	m.sessions[userID] = e
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		m.remove(userID, e)
		return nil, err
	}

	if m.opts.Online != nil {
		liveCtx, cancel := context.WithCancel(context.Background())
		m.mu.Lock()
		e.cancel = cancel
		m.mu.Unlock()
		go m.opts.Online.Keepalive(liveCtx, userID)
	}
	go m.announce(userID, true)

	m.logger.Info("Session started", "userId", userID)
	return s, nil
}

// Lookup 只查找已存在的会话
func (m *Manager) Lookup(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[userID]
	if !ok || e.closing {
		return nil, false
	}
	return e.session, true
}

// Len 会话数
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Deliver 把通知推给在线用户，用户没有会话时返回 false
func (m *Manager) Deliver(n model.Notification) bool {
	s, ok := m.Lookup(n.UserID)
	if !ok {
		return false
	}
	s.Deliver(n)
	return true
}

// Push 把事件推给在线用户，用户没有会话时返回 false
func (m *Manager) Push(userID string, e event.Event) bool {
	s, ok := m.Lookup(userID)
	if !ok {
		return false
	}
	s.Push(e)
	return true
}

// ApplySettings 设置变更后更新在线会话
func (m *Manager) ApplySettings(settings model.Settings) {
	if s, ok := m.Lookup(settings.UserID); ok {
		s.ApplySettings(settings)
	}
}

// RefreshFriends 好友关系变化后刷新双方会话
func (m *Manager) RefreshFriends(userIDs ...string) {
	for _, id := range userIDs {
		if s, ok := m.Lookup(id); ok {
			s.RefreshFriends()
		}
	}
}

// announce 通知在线好友上下线
func (m *Manager) announce(userID string, online bool) {
	if m.opts.Platform.Friends == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	friends, err := m.opts.Platform.Friends.ListFriends(ctx, userID)
	if err != nil {
		m.logger.Debug("Failed to list friends for presence", "userId", userID, "error", err)
		return
	}
	for _, f := range friends {
		if s, ok := m.Lookup(f.UserID); ok {
			s.SetPresence(userID, online)
		}
	}
}

// Run 定期回收空闲会话，直到 ctx 结束后关闭全部会话
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.StopAll()
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep 回收一次
func (m *Manager) Sweep() int {
	deadline := m.opts.Clock.Now().Add(-m.opts.IdleTTL)

	m.mu.Lock()
	idle := make(map[string]*entry)
	for id, e := range m.sessions {
		if !e.closing && e.session.Subscribers() == 0 && e.session.IdleSince().Before(deadline) {
			e.closing = true
			idle[id] = e
		}
	}
	m.mu.Unlock()

	for id, e := range idle {
		m.stop(id, e)
	}
	if len(idle) > 0 {
		m.logger.Info("Evicted idle sessions", "count", len(idle))
	}
	return len(idle)
}

// StopAll 关闭全部会话
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make(map[string]*entry, len(m.sessions))
	for id, e := range m.sessions {
		if !e.closing {
			e.closing = true
			all[id] = e
		}
	}
	m.mu.Unlock()

	for id, e := range all {
		m.stop(id, e)
	}
}

// stop 关闭已标记 closing 的会话；期间 Get 可能已为该用户建立新会话
func (m *Manager) stop(userID string, e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.session.Stop(ctx); err != nil {
		m.logger.Warn("Failed to stop session", "userId", userID, "error", err)
	}
	m.remove(userID, e)
	if _, ok := m.Lookup(userID); !ok {
		m.announce(userID, false)
	}
}

func (m *Manager) remove(userID string, e *entry) {
	m.mu.Lock()
	if cur, ok := m.sessions[userID]; ok && cur == e {
		delete(m.sessions, userID)
	}
	cancel := e.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.closer()
}
