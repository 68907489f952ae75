// Package session 每个登录用户一个会话，持有该用户全部客户端状态
//
// 用户操作、实时事件、定时器和 I/O 完成回调都投递到会话自己的串行事件循环，
// 状态只在循环中修改，不另外加锁。
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sudooom.planverse/internal/chat"
	"sudooom.planverse/internal/conversation"
	"sudooom.planverse/internal/event"
	"sudooom.planverse/internal/loop"
	"sudooom.planverse/internal/metrics"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/presence"
	"sudooom.planverse/internal/realtime"
	"sudooom.planverse/internal/receipts"
	"sudooom.planverse/internal/schema"
	"sudooom.planverse/internal/store"
	"sudooom.planverse/internal/task"
	appErrors "sudooom.planverse/shared/errors"
	"sudooom.planverse/shared/snowflake"
)

// Runner 会话使用的事件循环
type Runner interface {
	loop.Loop
	// Do 在循环中执行 fn 并等待完成
	Do(ctx context.Context, fn func()) error
}

// SettingsStore 用户设置
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (model.Settings, error)
}

// FriendLister 好友列表
type FriendLister interface {
	ListFriends(ctx context.Context, userID string) ([]model.Friend, error)
}

// NotificationLister 通知列表
type NotificationLister interface {
	List(ctx context.Context, userID string, limit int) ([]model.Notification, error)
}

// Platform 会话需要的全部平台能力
type Platform struct {
	Messages      chat.Store
	Uploader      chat.Uploader
	Receipts      receipts.Store
	Conversations conversation.Store
	Settings      SettingsStore
	// Friends 与 Notifications 可为空
	Friends       FriendLister
	Notifications NotificationLister
	Bus           realtime.Bus
}

// Config 时间参数
type Config struct {
	Chat         chat.Options
	PollInterval time.Duration
	TypingTTL    time.Duration
	TypingRate   float64
	ReadDebounce time.Duration
	IOTimeout    time.Duration
	// SubscriberBuffer 每个 SSE 订阅者的缓冲区，写满时丢弃
	SubscriberBuffer int
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Chat:             chat.DefaultOptions(),
		PollInterval:     5 * time.Second,
		TypingTTL:        3 * time.Second,
		TypingRate:       1,
		ReadDebounce:     800 * time.Millisecond,
		IOTimeout:        10 * time.Second,
		SubscriberBuffer: 64,
	}
}

type openThread struct {
	thread *chat.Thread
	subs   []realtime.Subscription
}

// Session 一个用户的同步状态
type Session struct {
	userID   string
	cfg      Config
	platform Platform
	loop     Runner
	clock    task.Clock
	ids      *snowflake.Node
	metrics  *metrics.Metrics
	logger   *slog.Logger

	state   *store.Store
	convs   *conversation.Service
	typing  *presence.Typing
	marker  *receipts.Marker
	threads map[string]*openThread

	globalSubs  []realtime.Subscription
	removeState func()
	pollTimer   task.Timer
	polling     bool
	stopped     bool

	subMu   sync.Mutex
	subSeq  int
	subs    map[int]chan event.Event
	lastUse atomic.Int64
}

// Options 构造参数
type Options struct {
	UserID   string
	Config   Config
	Platform Platform
	Loop     Runner
	Clock    task.Clock
	IDs      *snowflake.Node
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// New 创建会话，需调用 Start 后才开始同步
func New(o Options) *Session {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Config.SubscriberBuffer <= 0 {
		o.Config.SubscriberBuffer = 64
	}
	logger := o.Logger.With("userId", o.UserID)

	s := &Session{
		userID:   o.UserID,
		cfg:      o.Config,
		platform: o.Platform,
		loop:     o.Loop,
		clock:    o.Clock,
		ids:      o.IDs,
		metrics:  o.Metrics,
		logger:   logger,
		state:    store.New(o.UserID),
		threads:  make(map[string]*openThread),
		subs:     make(map[int]chan event.Event),
	}
	s.convs = conversation.NewService(conversation.Options{
		UserID:    o.UserID,
		Store:     o.Platform.Conversations,
		Loop:      o.Loop,
		Clock:     o.Clock,
		Sink:      s.emit,
		Metrics:   o.Metrics,
		Logger:    logger,
		IOTimeout: o.Config.IOTimeout,
	})
	s.typing = presence.NewTyping(presence.TypingOptions{
		UserID:  o.UserID,
		TTL:     o.Config.TypingTTL,
		Rate:    o.Config.TypingRate,
		Bus:     o.Platform.Bus,
		Loop:    o.Loop,
		Clock:   o.Clock,
		Sink:    s.emit,
		Metrics: o.Metrics,
		Logger:  logger,
	})
	s.marker = receipts.NewMarker(receipts.Options{
		UserID:    o.UserID,
		Delay:     o.Config.ReadDebounce,
		Store:     o.Platform.Receipts,
		Loop:      o.Loop,
		Clock:     o.Clock,
		Enabled:   s.state.ReadReceipts,
		OnRead:    s.onRead,
		IOTimeout: o.Config.IOTimeout,
		Logger:    logger,
	})
	s.touch()
	return s
}

// UserID 用户ID
func (s *Session) UserID() string { return s.userID }

// State 应用状态
func (s *Session) State() *store.Store { return s.state }

// Start 订阅实时通道并加载首屏数据
func (s *Session) Start(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		bus := s.platform.Bus
		sub, err := bus.Subscribe(realtime.TableConversations, s.userID, s.post(s.convs.HandleChange))
		if err != nil {
			s.logger.Warn("Failed to subscribe conversations", "error", err)
		} else {
			s.globalSubs = append(s.globalSubs, sub)
		}
		s.removeState = bus.OnStateChange(func(connected bool) {
			s.loop.Post(func() { s.onConnection(connected) })
		})
		if !bus.Connected() {
			s.startPolling()
		}

		s.convs.Refresh()
		s.loadSettings()
		s.loadFriends()
		s.loadNotifications()
		s.metrics.SessionOpened()
	})
}

func (s *Session) loadSettings() {
	s.io(func(ctx context.Context) func() {
		settings, err := s.platform.Settings.GetSettings(ctx, s.userID)
		return func() {
			if err != nil {
				s.logger.Warn("Failed to load settings", "error", err)
				return
			}
			s.state.Settings.Set(settings)
		}
	})
}

func (s *Session) loadFriends() {
	if s.platform.Friends == nil {
		return
	}
	s.io(func(ctx context.Context) func() {
		friends, err := s.platform.Friends.ListFriends(ctx, s.userID)
		return func() {
			if err != nil {
				s.logger.Warn("Failed to load friends", "error", err)
				return
			}
			online := make(map[string]bool, len(friends))
			for _, f := range friends {
				if f.Online {
					online[f.UserID] = true
				}
			}
			s.state.Friends.Set(friends)
			s.state.Presence.Set(online)
			s.emit(event.Event{Kind: event.KindPresence, Data: online, At: s.clock.Now()})
		}
	})
}

func (s *Session) loadNotifications() {
	if s.platform.Notifications == nil {
		return
	}
	s.io(func(ctx context.Context) func() {
		list, err := s.platform.Notifications.List(ctx, s.userID, 50)
		return func() {
			if err != nil {
				s.logger.Warn("Failed to load notifications", "error", err)
				return
			}
			s.state.Notifications.Set(list)
		}
	})
}

// RefreshFriends 好友关系变化后重新加载
func (s *Session) RefreshFriends() {
	s.loop.Post(s.loadFriends)
}

// Conversations 排好序的会话列表
func (s *Session) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	err := s.do(ctx, func() error {
		out = s.convs.Sorted()
		return nil
	})
	return out, err
}

// Open 打开会话并等待首屏消息加载完成
func (s *Session) Open(ctx context.Context, conversationID string) (chat.View, error) {
	loaded := make(chan error, 1)
	var view chat.View
	err := s.do(ctx, func() error {
		ot, err := s.open(conversationID)
		if err != nil {
			return err
		}
		if ot.thread.Loaded() {
			view = ot.thread.Snapshot()
			s.displayed(conversationID)
			loaded <- nil
			return nil
		}
		ot.thread.Load(func(err error) {
			loaded <- err
		})
		return nil
	})
	if err != nil {
		return chat.View{}, err
	}

	select {
	case err := <-loaded:
		if err != nil {
			return chat.View{}, appErrors.ErrDBError.Wrap(err)
		}
	case <-ctx.Done():
		return chat.View{}, ctx.Err()
	}

	if view.ConversationID != "" {
		return view, nil
	}
	err = s.do(ctx, func() error {
		ot, ok := s.threads[conversationID]
		if !ok {
			return appErrors.ErrConversationNotFound
		}
		view = ot.thread.Snapshot()
		s.displayed(conversationID)
		return nil
	})
	return view, err
}

// open 在循环中创建线程并订阅它的实时主题
func (s *Session) open(conversationID string) (*openThread, error) {
	if ot, ok := s.threads[conversationID]; ok {
		return ot, nil
	}
	conv, ok := s.convs.Get(conversationID)
	if !ok {
		return nil, appErrors.ErrConversationNotFound
	}

	th := chat.NewThread(conversationID, s.userID, conv.PeerID, s.cfg.Chat, chat.Deps{
		Store:        s.platform.Messages,
		Uploader:     s.platform.Uploader,
		Loop:         s.loop,
		Clock:        s.clock,
		IDs:          s.ids,
		Sink:         s.emit,
		Metrics:      s.metrics,
		Logger:       s.logger,
		ReadReceipts: s.state.ReadReceipts,
	})
	ot := &openThread{thread: th}

	bus := s.platform.Bus
	for _, table := range []string{realtime.TableMessages, realtime.TableReactions, realtime.TablePins, realtime.TableTyping} {
		handler := s.post(th.HandleChange)
		switch table {
		case realtime.TableMessages:
			handler = s.post(func(c realtime.Change) { s.onMessageChange(th, c) })
		case realtime.TableTyping:
			handler = s.post(s.typing.HandleChange)
		}
		sub, err := bus.Subscribe(table, conversationID, handler)
		if err != nil {
			s.logger.Warn("Failed to subscribe", "table", table, "conversation", conversationID, "error", err)
			continue
		}
		ot.subs = append(ot.subs, sub)
	}
	s.threads[conversationID] = ot
	return ot, nil
}

// onMessageChange 消息变更先交给线程合并，再更新会话列表预览和已读
func (s *Session) onMessageChange(th *chat.Thread, c realtime.Change) {
	th.HandleChange(c)
	if c.Type != realtime.Insert {
		return
	}
	m, err := schema.DecodeMessage(c.Record)
	if err != nil {
		return
	}
	s.convs.Touch(m, true)
	if m.ReceiverID == s.userID {
		s.displayed(th.ID())
	}
}

func (s *Session) displayed(conversationID string) {
	ot, ok := s.threads[conversationID]
	if !ok {
		return
	}
	if len(ot.thread.UnreadIncoming()) > 0 {
		s.marker.Displayed(conversationID)
		return
	}
	if c, ok := s.convs.Get(conversationID); ok && c.UnreadCount > 0 {
		s.marker.Displayed(conversationID)
	}
}

// onRead 防抖写入完成：会话列表的未读数无论是否开启回执都清零
func (s *Session) onRead(conversationID string, ids []string) {
	s.convs.MarkRead(conversationID)
	if ot, ok := s.threads[conversationID]; ok && len(ids) > 0 {
		ot.thread.ApplyRead(ids)
	}
}

// CloseConversation 关闭会话，停止订阅和定时器
func (s *Session) CloseConversation(ctx context.Context, conversationID string) error {
	return s.do(ctx, func() error {
		s.closeThread(conversationID)
		return nil
	})
}

func (s *Session) closeThread(conversationID string) {
	ot, ok := s.threads[conversationID]
	if !ok {
		return
	}
	for _, sub := range ot.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("Failed to unsubscribe", "conversation", conversationID, "error", err)
		}
	}
	ot.thread.Close()
	s.typing.Forget(conversationID)
	s.marker.Cancel(conversationID)
	delete(s.threads, conversationID)
}

// Send 发送消息，会话未打开时自动打开
func (s *Session) Send(ctx context.Context, conversationID string, d model.Draft) (model.Message, error) {
	var out model.Message
	err := s.do(ctx, func() error {
		ot, err := s.open(conversationID)
		if err != nil {
			return err
		}
		if !ot.thread.Loaded() {
			ot.thread.Load(nil)
		}
		out, err = ot.thread.Send(d)
		if err == nil {
			s.typing.Notify(conversationID, false)
		}
		return err
	})
	return out, err
}

// Retry 重发失败的消息
func (s *Session) Retry(ctx context.Context, tempID string) error {
	return s.withMessage(ctx, tempID, func(th *chat.Thread) error { return th.Retry(tempID) })
}

// Discard 丢弃失败的消息
func (s *Session) Discard(ctx context.Context, tempID string) error {
	return s.withMessage(ctx, tempID, func(th *chat.Thread) error { return th.Discard(tempID) })
}

// ToggleReaction 切换表情回应
func (s *Session) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	return s.withMessage(ctx, messageID, func(th *chat.Thread) error { return th.ToggleReaction(messageID, emoji) })
}

// Pin 置顶消息
func (s *Session) Pin(ctx context.Context, messageID string) error {
	return s.withMessage(ctx, messageID, func(th *chat.Thread) error { return th.Pin(messageID) })
}

// Unpin 取消置顶消息
func (s *Session) Unpin(ctx context.Context, messageID string) error {
	return s.withMessage(ctx, messageID, func(th *chat.Thread) error { return th.Unpin(messageID) })
}

// withMessage 找到包含该消息的已打开会话
func (s *Session) withMessage(ctx context.Context, messageID string, fn func(th *chat.Thread) error) error {
	return s.do(ctx, func() error {
		for _, ot := range s.threads {
			for _, m := range ot.thread.Messages() {
				if m.ID == messageID {
					return fn(ot.thread)
				}
			}
		}
		return appErrors.ErrMessageNotFound
	})
}

// Reorder 拖动会话排序
func (s *Session) Reorder(ctx context.Context, conversationID string, toIndex int) error {
	return s.do(ctx, func() error { return s.convs.Reorder(conversationID, toIndex) })
}

// MarkRead 打开会话后标记已读
func (s *Session) MarkRead(ctx context.Context, conversationID string) error {
	return s.do(ctx, func() error {
		if _, ok := s.convs.Get(conversationID); !ok {
			return appErrors.ErrConversationNotFound
		}
		s.marker.Displayed(conversationID)
		return nil
	})
}

// SetPinned 置顶会话
func (s *Session) SetPinned(ctx context.Context, conversationID string, pinned bool) error {
	return s.do(ctx, func() error { return s.convs.SetPinned(conversationID, pinned) })
}

// SetMuted 会话免打扰
func (s *Session) SetMuted(ctx context.Context, conversationID string, muted bool) error {
	return s.do(ctx, func() error { return s.convs.SetMuted(conversationID, muted) })
}

// Typing 广播自己的输入状态，返回是否被节流
func (s *Session) Typing(ctx context.Context, conversationID string, typing bool) (bool, error) {
	var sent bool
	err := s.do(ctx, func() error {
		if _, ok := s.convs.Get(conversationID); !ok {
			return appErrors.ErrConversationNotFound
		}
		sent = s.typing.Notify(conversationID, typing)
		return nil
	})
	return sent, err
}

// ApplySettings 设置已保存后更新会话状态，已打开的会话按新设置重新渲染
func (s *Session) ApplySettings(settings model.Settings) {
	s.loop.Post(func() {
		s.state.Settings.Set(settings)
		for _, ot := range s.threads {
			s.emit(event.Event{Kind: event.KindMessages, ConversationID: ot.thread.ID(), Data: ot.thread.Snapshot(), At: s.clock.Now()})
		}
	})
}

// Deliver 推送一条新通知
func (s *Session) Deliver(n model.Notification) {
	s.loop.Post(func() {
		s.state.Notifications.Update(func(cur []model.Notification) ([]model.Notification, bool) {
			for _, item := range cur {
				if item.ID == n.ID {
					return cur, false
				}
			}
			return append([]model.Notification{n}, cur...), true
		})
		s.emit(event.Event{Kind: event.KindNotification, Data: n, At: s.clock.Now()})
	})
}

// Push 推送会话之外产生的事件，例如动态的乐观更新
func (s *Session) Push(e event.Event) {
	s.loop.Post(func() {
		if !s.stopped {
			s.emit(e)
		}
	})
}

// SetPresence 好友上下线
func (s *Session) SetPresence(userID string, online bool) {
	s.loop.Post(func() {
		s.state.Presence.Update(func(cur map[string]bool) (map[string]bool, bool) {
			if cur[userID] == online {
				return cur, false
			}
			if online {
				cur[userID] = true
			} else {
				delete(cur, userID)
			}
			return cur, true
		})
		s.emit(event.Event{Kind: event.KindPresence, Data: s.state.Presence.Load(), At: s.clock.Now()})
	})
}

// onConnection 实时通道断开时轮询，恢复后补拉一次
func (s *Session) onConnection(connected bool) {
	if s.stopped {
		return
	}
	if connected {
		s.stopPolling()
		s.logger.Info("Realtime channel recovered, catching up")
		s.catchUp()
		return
	}
	s.logger.Warn("Realtime channel lost, switching to polling")
	s.startPolling()
}

func (s *Session) startPolling() {
	if s.polling {
		return
	}
	s.polling = true
	s.schedulePoll()
}

func (s *Session) schedulePoll() {
	s.pollTimer = s.clock.AfterFunc(s.cfg.PollInterval, func() {
		s.loop.PostTimer(func() {
			if !s.polling || s.stopped {
				return
			}
			s.catchUp()
			s.schedulePoll()
		})
	})
}

func (s *Session) stopPolling() {
	s.polling = false
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
}

// Polling 是否处于轮询模式
func (s *Session) Polling(ctx context.Context) (bool, error) {
	var polling bool
	err := s.do(ctx, func() error {
		polling = s.polling
		return nil
	})
	return polling, err
}

func (s *Session) catchUp() {
	s.convs.Refresh()
	for _, ot := range s.threads {
		ot.thread.Poll()
	}
}

// Subscribe 订阅视图事件，用于 SSE
func (s *Session) Subscribe() (<-chan event.Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.subSeq++
	id := s.subSeq
	ch := make(chan event.Event, s.cfg.SubscriberBuffer)
	s.subs[id] = ch
	s.touch()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.touch()
	}
}

// Subscribers 当前 SSE 订阅数
func (s *Session) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

// IdleSince 最近一次被使用的时间
func (s *Session) IdleSince() time.Time {
	return time.Unix(0, s.lastUse.Load())
}

func (s *Session) touch() {
	s.lastUse.Store(s.clock.Now().UnixNano())
}

// emit 在事件循环中调用，订阅者读得慢时丢弃
func (s *Session) emit(e event.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.logger.Debug("Dropping event for slow subscriber", "kind", e.Kind)
		}
	}
}

// Stop 关闭全部订阅和定时器
func (s *Session) Stop(ctx context.Context) error {
	err := s.loop.Do(ctx, func() {
		if s.stopped {
			return
		}
		s.stopped = true
		s.stopPolling()
		for id := range s.threads {
			s.closeThread(id)
		}
		for _, sub := range s.globalSubs {
			_ = sub.Unsubscribe()
		}
		s.globalSubs = nil
		if s.removeState != nil {
			s.removeState()
		}
		s.typing.Stop()
		s.marker.Stop()
		s.metrics.SessionClosed()
	})

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subMu.Unlock()
	return err
}

// do 在循环中执行并返回 fn 的错误
func (s *Session) do(ctx context.Context, fn func() error) error {
	s.touch()
	var err error
	if derr := s.loop.Do(ctx, func() {
		if s.stopped {
			err = appErrors.ErrServerError.WithMessage("会话已关闭")
			return
		}
		err = fn()
	}); derr != nil {
		return derr
	}
	return err
}

// post 把实时回调转到事件循环
func (s *Session) post(h realtime.Handler) realtime.Handler {
	return func(c realtime.Change) {
		s.loop.Post(func() {
			if !s.stopped {
				h(c)
			}
		})
	}
}

func (s *Session) io(work func(ctx context.Context) func()) {
	s.loop.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.IOTimeout)
		defer cancel()

		if done := work(ctx); done != nil {
			s.loop.Post(done)
		}
	})
}
