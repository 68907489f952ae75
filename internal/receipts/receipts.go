// Package receipts 已读回执：延迟合并标记已读，以及按隐私设置决定状态显示
package receipts

import (
	"context"
	"log/slog"
	"time"

	"sudooom.planverse/internal/loop"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/task"
)

// DisplayStatus 消息在界面上显示的状态
// 关闭已读回执的用户也看不到自己发出消息的已读状态，seen 显示为 delivered
func DisplayStatus(m *model.Message, me string, readReceipts bool) model.MessageStatus {
	if !readReceipts && m.SenderID == me && m.Status == model.StatusSeen {
		return model.StatusDelivered
	}
	return m.Status
}

// Store 已读写入
type Store interface {
	// MarkMessagesRead 把会话里发给 readerID 的未读消息标记为已读并置为 seen，返回被修改的ID
	MarkMessagesRead(ctx context.Context, conversationID, readerID string) ([]string, error)
}

// ReadFunc 标记完成回调，在事件循环中执行；未开启回执时 ids 为空
type ReadFunc func(conversationID string, ids []string)

// Marker 每个会话独立防抖，连续展示只在静默 delay 之后写一次
type Marker struct {
	me      string
	delay   time.Duration
	store   Store
	loop    loop.Loop
	clock   task.Clock
	enabled func() bool
	onRead  ReadFunc
	timeout time.Duration
	logger  *slog.Logger

	timers map[string]task.Timer
}

// Options 构造参数
type Options struct {
	UserID    string
	Delay     time.Duration
	Store     Store
	Loop      loop.Loop
	Clock     task.Clock
	Enabled   func() bool
	OnRead    ReadFunc
	IOTimeout time.Duration
	Logger    *slog.Logger
}

// NewMarker 创建
func NewMarker(o Options) *Marker {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = 10 * time.Second
	}
	if o.Enabled == nil {
		o.Enabled = func() bool { return true }
	}
	if o.OnRead == nil {
		o.OnRead = func(string, []string) {}
	}
	return &Marker{
		me:      o.UserID,
		delay:   o.Delay,
		store:   o.Store,
		loop:    o.Loop,
		clock:   o.Clock,
		enabled: o.Enabled,
		onRead:  o.OnRead,
		timeout: o.IOTimeout,
		logger:  o.Logger,
		timers:  make(map[string]task.Timer),
	}
}

// Displayed 会话中的未读消息已展示，需在事件循环中调用
func (m *Marker) Displayed(conversationID string) {
	if t, ok := m.timers[conversationID]; ok {
		t.Stop()
	}
	m.timers[conversationID] = m.clock.AfterFunc(m.delay, func() {
		m.loop.PostTimer(func() { m.flush(conversationID) })
	})
}

// Pending 是否有待写入的会话
func (m *Marker) Pending(conversationID string) bool {
	_, ok := m.timers[conversationID]
	return ok
}

// Cancel 取消某会话的待写入
func (m *Marker) Cancel(conversationID string) {
	if t, ok := m.timers[conversationID]; ok {
		t.Stop()
		delete(m.timers, conversationID)
	}
}

// Stop 取消全部
func (m *Marker) Stop() {
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Marker) flush(conversationID string) {
	delete(m.timers, conversationID)

	if !m.enabled() {
		m.onRead(conversationID, nil)
		return
	}

	m.loop.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		ids, err := m.store.MarkMessagesRead(ctx, conversationID, m.me)
		if err != nil {
			m.logger.Warn("Failed to mark messages read", "conversation", conversationID, "error", err)
			ids = nil
		}
		m.loop.Post(func() { m.onRead(conversationID, ids) })
	})
}
