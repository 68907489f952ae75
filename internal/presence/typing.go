// Package presence 输入状态和在线状态
package presence

import (
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"sudooom.planverse/internal/event"
	"sudooom.planverse/internal/loop"
	"sudooom.planverse/internal/metrics"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/realtime"
	"sudooom.planverse/internal/schema"
	"sudooom.planverse/internal/task"
)

// TypingEvent 广播事件名
const TypingEvent = "typing"

type typingState struct {
	userID string
	gen    uint64
	timer  task.Timer
}

// TypingOptions 构造参数
type TypingOptions struct {
	UserID string
	// TTL 收到开始输入后多久没有新事件视为停止
	TTL time.Duration
	// Rate 每秒最多发送的开始输入广播数
	Rate  float64
	Bus   realtime.Bus
	Loop  loop.Loop
	Clock task.Clock
	Sink  event.Sink

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Typing 会话级的对方输入状态，以及自己输入状态的节流广播
// 所有方法都在所属事件循环中调用
type Typing struct {
	me    string
	ttl   time.Duration
	rate  rate.Limit
	bus   realtime.Bus
	loop  loop.Loop
	clock task.Clock
	sink  event.Sink

	metrics *metrics.Metrics
	logger  *slog.Logger

	gen      uint64
	states   map[string]*typingState
	limiters map[string]*rate.Limiter
}

// NewTyping 创建
func NewTyping(o TypingOptions) *Typing {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Sink == nil {
		o.Sink = event.Discard
	}
	if o.TTL <= 0 {
		o.TTL = 3 * time.Second
	}
	if o.Rate <= 0 {
		o.Rate = 1
	}
	return &Typing{
		me:       o.UserID,
		ttl:      o.TTL,
		rate:     rate.Limit(o.Rate),
		bus:      o.Bus,
		loop:     o.Loop,
		clock:    o.Clock,
		sink:     o.Sink,
		metrics:  o.Metrics,
		logger:   o.Logger,
		states:   make(map[string]*typingState),
		limiters: make(map[string]*rate.Limiter),
	}
}

// HandleChange 处理输入状态广播，后到的事件覆盖先到的
func (t *Typing) HandleChange(c realtime.Change) {
	if c.Table != realtime.TableTyping {
		return
	}
	t.metrics.RealtimeEvent(c.Table, string(c.Type))

	ev, err := schema.DecodeTyping(c.Record)
	if err != nil {
		t.metrics.InvalidPayload()
		t.logger.Warn("Dropping invalid typing payload", "error", err)
		return
	}
	if ev.UserID == t.me || ev.ConversationID != c.Topic {
		return
	}
	if ev.Typing {
		t.start(ev.ConversationID, ev.UserID)
	} else {
		t.clear(ev.ConversationID)
	}
}

func (t *Typing) start(conversationID, userID string) {
	t.gen++
	gen := t.gen

	st, existed := t.states[conversationID]
	if existed && st.timer != nil {
		st.timer.Stop()
	}
	st = &typingState{userID: userID, gen: gen}
	st.timer = t.clock.AfterFunc(t.ttl, func() {
		t.loop.PostTimer(func() { t.expire(conversationID, gen) })
	})
	t.states[conversationID] = st
	if !existed {
		t.emit(conversationID, userID, true)
	}
}

// expire 只清除仍是同一次开始输入的状态
func (t *Typing) expire(conversationID string, gen uint64) {
	st, ok := t.states[conversationID]
	if !ok || st.gen != gen {
		return
	}
	delete(t.states, conversationID)
	t.emit(conversationID, st.userID, false)
}

func (t *Typing) clear(conversationID string) {
	st, ok := t.states[conversationID]
	if !ok {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(t.states, conversationID)
	t.emit(conversationID, st.userID, false)
}

// IsTyping 对方是否正在输入
func (t *Typing) IsTyping(conversationID string) bool {
	_, ok := t.states[conversationID]
	return ok
}

// Active 正在输入的会话ID，有序
func (t *Typing) Active() []string {
	out := make([]string, 0, len(t.states))
	for id := range t.states {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Notify 广播自己的输入状态；开始输入按会话节流，停止输入总是发送
// 返回是否实际发出
func (t *Typing) Notify(conversationID string, typing bool) bool {
	if typing && !t.limiter(conversationID).AllowN(t.clock.Now(), 1) {
		return false
	}
	c, err := realtime.NewChange(realtime.Broadcast, realtime.TableTyping, conversationID, model.Typing{
		ConversationID: conversationID,
		UserID:         t.me,
		Typing:         typing,
	})
	if err != nil {
		t.logger.Warn("Failed to build typing broadcast", "error", err)
		return false
	}
	c.Event = TypingEvent

	t.loop.Go(func() {
		if err := t.bus.Publish(c); err != nil {
			t.logger.Debug("Failed to publish typing", "conversation", conversationID, "error", err)
		}
	})
	return true
}

func (t *Typing) limiter(conversationID string) *rate.Limiter {
	l, ok := t.limiters[conversationID]
	if !ok {
		l = rate.NewLimiter(t.rate, 1)
		t.limiters[conversationID] = l
	}
	return l
}

// Forget 关闭会话时清理
func (t *Typing) Forget(conversationID string) {
	if st, ok := t.states[conversationID]; ok && st.timer != nil {
		st.timer.Stop()
	}
	delete(t.states, conversationID)
	delete(t.limiters, conversationID)
}

// Stop 停止全部定时器
func (t *Typing) Stop() {
	for id := range t.states {
		t.Forget(id)
	}
}

func (t *Typing) emit(conversationID, userID string, typing bool) {
	t.sink(event.Event{
		Kind:           event.KindTyping,
		ConversationID: conversationID,
		Data:           model.Typing{ConversationID: conversationID, UserID: userID, Typing: typing},
		At:             t.clock.Now(),
	})
}
