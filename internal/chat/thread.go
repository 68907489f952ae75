package chat

import (
	"context"
	"log/slog"
	"time"

	"sudooom.planverse/internal/event"
	"sudooom.planverse/internal/loop"
	"sudooom.planverse/internal/metrics"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/realtime"
	"sudooom.planverse/internal/receipts"
	"sudooom.planverse/internal/schema"
	"sudooom.planverse/internal/task"
	appErrors "sudooom.planverse/shared/errors"
	"sudooom.planverse/shared/snowflake"
)

// UnconfirmedPolicy 确认超时后如何处理仍在发送中的临时消息
type UnconfirmedPolicy string

const (
	// PolicySurface 标记为失败，由用户重试或丢弃
	PolicySurface UnconfirmedPolicy = "surface"
	// PolicyDrop 直接从列表移除
	PolicyDrop UnconfirmedPolicy = "drop"
)

// 确认来源，用于指标
const (
	sourceRealtime = "realtime"
	sourceFallback = "fallback"
	sourcePoll     = "poll"
	sourceLoad     = "load"
)

// Options 时间参数
type Options struct {
	ConfirmWindow  time.Duration
	FallbackDelay  time.Duration
	ConfirmTimeout time.Duration
	Policy         UnconfirmedPolicy
	PageSize       int
	IOTimeout      time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		ConfirmWindow:  5 * time.Second,
		FallbackDelay:  3 * time.Second,
		ConfirmTimeout: 15 * time.Second,
		Policy:         PolicySurface,
		PageSize:       50,
		IOTimeout:      10 * time.Second,
	}
}

// Deps 依赖
type Deps struct {
	Store    Store
	Uploader Uploader
	Loop     loop.Loop
	Clock    task.Clock
	IDs      *snowflake.Node
	Sink     event.Sink
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// ReadReceipts 当前用户是否开启已读回执
	ReadReceipts func() bool
}

type pending struct {
	draft    model.Draft
	sentAt   time.Time
	fallback task.Timer
	timeout  task.Timer
}

func (p *pending) stop() {
	if p.fallback != nil {
		p.fallback.Stop()
		p.fallback = nil
	}
	if p.timeout != nil {
		p.timeout.Stop()
		p.timeout = nil
	}
}

// Thread 一个已打开会话的消息时间线
// 除 New 以外的所有方法都必须在所属事件循环中调用
type Thread struct {
	id   string
	me   string
	peer string
	opts Options
	deps Deps

	messages  []model.Message
	pending   map[string]*pending
	reactions *Reactions
	pins      Pins
	loaded    bool
	closed    bool
}

// NewThread 创建
func NewThread(conversationID, me, peer string, opts Options, deps Deps) *Thread {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sink == nil {
		deps.Sink = event.Discard
	}
	if deps.ReadReceipts == nil {
		deps.ReadReceipts = func() bool { return true }
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 10 * time.Second
	}
	if opts.Policy == "" {
		opts.Policy = PolicySurface
	}
	return &Thread{
		id:        conversationID,
		me:        me,
		peer:      peer,
		opts:      opts,
		deps:      deps,
		pending:   make(map[string]*pending),
		reactions: NewReactions(),
	}
}

// ID 会话ID
func (t *Thread) ID() string { return t.id }

// Peer 对方用户ID
func (t *Thread) Peer() string { return t.peer }

// Loaded 首屏数据是否已加载
func (t *Thread) Loaded() bool { return t.loaded }

// Load 拉取最近消息、回应和置顶，与本地尚未确认的消息合并
// done 可为 nil，加载结束后在事件循环中调用
func (t *Thread) Load(done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	t.io(func(ctx context.Context) func() {
		msgs, err := t.deps.Store.RecentMessages(ctx, t.id, t.opts.PageSize)
		if err != nil {
			return func() {
				t.deps.Logger.Warn("Failed to load messages", "conversation", t.id, "error", err)
				t.notice(appErrors.ErrDBError.Wrap(err))
				done(err)
			}
		}
		reactions, rerr := t.deps.Store.ListReactions(ctx, t.id)
		pins, perr := t.deps.Store.ListPins(ctx, t.id)
		return func() {
			t.mergeAll(msgs, sourceLoad)
			if rerr == nil {
				t.reactions.Reset(reactions)
			}
			if perr == nil {
				t.pins.Reset(pins)
			}
			t.loaded = true
			t.emit()
			done(nil)
		}
	})
}

// Send 乐观发送：立即追加临时消息，异步持久化
func (t *Thread) Send(d model.Draft) (model.Message, error) {
	if !d.Valid() {
		return model.Message{}, appErrors.ErrInvalidContent
	}
	d.ConversationID, d.ReceiverID = t.id, t.peer

	now := t.deps.Clock.Now()
	temp := model.Message{
		ID:             model.TempIDPrefix + t.deps.IDs.Generate().String(),
		ConversationID: t.id,
		SenderID:       t.me,
		ReceiverID:     t.peer,
		Content:        d.Content,
		Status:         model.StatusSending,
		ReplyToID:      d.ReplyToID,
		CreatedAt:      now,
	}
	t.messages = insertSorted(t.messages, temp)

	p := &pending{draft: d, sentAt: now}
	t.pending[temp.ID] = p
	p.timeout = t.after(t.opts.ConfirmTimeout, func() { t.onConfirmTimeout(temp.ID) })
	t.emit()

	t.persist(temp.ID, d)
	return temp, nil
}

func (t *Thread) persist(tempID string, d model.Draft) {
	t.deps.Loop.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.opts.IOTimeout)
		defer cancel()

		row := &model.Message{
			ConversationID: t.id,
			SenderID:       t.me,
			ReceiverID:     t.peer,
			Content:        d.Content,
			Status:         model.StatusSent,
			ReplyToID:      d.ReplyToID,
			ClientID:       tempID,
		}

		if d.Image != nil {
			url, err := t.deps.Uploader.Upload(ctx, t.me, d.Image)
			if err != nil {
				t.deps.Loop.Post(func() { t.onSendFailed(tempID, "upload", appErrors.ErrUploadFailed.Wrap(err)) })
				return
			}
			row.Content = ""
			row.ImageURL = url
			t.deps.Loop.Post(func() { t.onUploaded(tempID, url) })
		}

		saved, err := t.deps.Store.InsertMessage(ctx, row)
		t.deps.Loop.Post(func() {
			if err != nil {
				t.onSendFailed(tempID, "persist", appErrors.ErrSendFailed.Wrap(err))
				return
			}
			t.onPersisted(tempID, saved)
		})
	})
}

func (t *Thread) onUploaded(tempID, url string) {
	if i := indexOf(t.messages, tempID); i >= 0 {
		t.messages[i].ImageURL = url
		t.emit()
	}
}

func (t *Thread) onSendFailed(tempID, stage string, err error) {
	if t.closed {
		return
	}
	p, ok := t.pending[tempID]
	if !ok {
		return
	}
	p.stop()
	delete(t.pending, tempID)
	t.messages, _ = Remove(t.messages, tempID)

	t.deps.Metrics.SendFailed(stage)
	t.deps.Logger.Warn("Message send failed", "conversation", t.id, "temp", tempID, "stage", stage, "error", err)
	t.notice(err)
	t.emit()
}

// onPersisted 写入成功；若实时通道迟迟没有推送 INSERT，延迟后主动拉取
func (t *Thread) onPersisted(tempID string, saved *model.Message) {
	if t.closed {
		return
	}
	p, ok := t.pending[tempID]
	if !ok {
		// 已被实时事件确认，或已被超时丢弃：用写入结果补齐
		if saved != nil && indexOf(t.messages, saved.ID) < 0 {
			t.apply(*saved, sourceFallback)
			t.emit()
		}
		return
	}
	if t.isFailed(tempID) {
		// 超时后才写入成功，直接用写入结果确认
		if saved != nil && t.apply(*saved, sourceFallback) {
			t.emit()
		}
		return
	}
	if !t.isTempPending(tempID) {
		return
	}
	p.fallback = t.after(t.opts.FallbackDelay, func() { t.onFallback(tempID) })
}

func (t *Thread) onFallback(tempID string) {
	if t.closed {
		return
	}
	if p, ok := t.pending[tempID]; ok {
		p.fallback = nil
	} else {
		return
	}
	t.io(func(ctx context.Context) func() {
		msgs, err := t.deps.Store.RecentMessages(ctx, t.id, t.opts.PageSize)
		return func() {
			if err != nil {
				t.deps.Logger.Warn("Fallback fetch failed", "conversation", t.id, "error", err)
				return
			}
			if t.mergeAll(msgs, sourceFallback) {
				t.emit()
			}
		}
	})
}

func (t *Thread) onConfirmTimeout(tempID string) {
	if t.closed {
		return
	}
	p, ok := t.pending[tempID]
	if !ok {
		return
	}
	p.timeout = nil
	i := indexOf(t.messages, tempID)
	if i < 0 || t.messages[i].Status != model.StatusSending {
		return
	}
	if p.fallback != nil {
		p.fallback.Stop()
		p.fallback = nil
	}

	t.deps.Metrics.MessageUnconfirmed(string(t.opts.Policy))
	t.deps.Logger.Warn("Message not confirmed in time", "conversation", t.id, "temp", tempID, "policy", t.opts.Policy)

	if t.opts.Policy == PolicyDrop {
		delete(t.pending, tempID)
		t.messages, _ = Remove(t.messages, tempID)
	} else {
		t.messages[i].Status = model.StatusFailed
		t.notice(appErrors.ErrMessageUnconfirmed)
	}
	t.emit()
}

// Retry 重发一条失败的消息
// 先拉取一次，确认服务端确实没有这条消息再重发，避免重复
func (t *Thread) Retry(tempID string) error {
	if !t.isFailed(tempID) {
		return appErrors.ErrNotPending
	}
	draft := t.pending[tempID].draft

	t.io(func(ctx context.Context) func() {
		msgs, err := t.deps.Store.RecentMessages(ctx, t.id, t.opts.PageSize)
		return func() {
			if err != nil {
				// 无法确认服务端状态时不重发，保持失败等待下一次重试
				t.deps.Logger.Warn("Retry check fetch failed", "conversation", t.id, "temp", tempID, "error", err)
				t.notice(appErrors.ErrDBError.Wrap(err))
				t.emit()
				return
			}
			t.mergeAll(msgs, sourceFallback)
			if !t.isFailed(tempID) {
				t.emit()
				return
			}
			delete(t.pending, tempID)
			t.messages, _ = Remove(t.messages, tempID)
			if _, serr := t.Send(draft); serr != nil {
				t.notice(serr)
				t.emit()
			}
		}
	})
	return nil
}

// Discard 丢弃一条失败的消息
func (t *Thread) Discard(tempID string) error {
	if !t.isFailed(tempID) {
		return appErrors.ErrNotPending
	}
	delete(t.pending, tempID)
	t.messages, _ = Remove(t.messages, tempID)
	t.emit()
	return nil
}

// HandleChange 处理实时变更，重复投递由合并逻辑吸收
func (t *Thread) HandleChange(c realtime.Change) {
	if t.closed || c.Topic != t.id {
		return
	}
	t.deps.Metrics.RealtimeEvent(c.Table, string(c.Type))

	switch c.Table {
	case realtime.TableMessages:
		t.handleMessageChange(c)
	case realtime.TableReactions:
		t.handleReactionChange(c)
	case realtime.TablePins:
		t.handlePinChange(c)
	}
}

func (t *Thread) handleMessageChange(c realtime.Change) {
	switch c.Type {
	case realtime.Insert, realtime.Update:
		m, err := schema.DecodeMessage(c.Record)
		if err != nil {
			t.rejectPayload(c, err)
			return
		}
		if m.ConversationID != t.id {
			return
		}
		if t.apply(*m, sourceRealtime) {
			t.emit()
		}
	case realtime.Delete:
		raw := c.Old
		if len(raw) == 0 {
			raw = c.Record
		}
		m, err := schema.DecodeMessage(raw)
		if err != nil {
			t.rejectPayload(c, err)
			return
		}
		var removed bool
		if t.messages, removed = Remove(t.messages, m.ID); removed {
			t.reactions.Drop(m.ID)
			t.pins.Remove(m.ID)
			t.emit()
		}
	}
}

func (t *Thread) handleReactionChange(c realtime.Change) {
	raw := c.Record
	if c.Type == realtime.Delete && len(c.Old) > 0 {
		raw = c.Old
	}
	r, err := schema.DecodeReaction(raw)
	if err != nil {
		t.rejectPayload(c, err)
		return
	}
	var changed bool
	switch c.Type {
	case realtime.Insert:
		changed = t.reactions.Add(*r)
	case realtime.Delete:
		changed = t.reactions.Remove(*r)
	}
	if changed {
		t.emit()
	}
}

func (t *Thread) handlePinChange(c realtime.Change) {
	raw := c.Record
	if c.Type == realtime.Delete && len(c.Old) > 0 {
		raw = c.Old
	}
	p, err := schema.DecodePin(raw)
	if err != nil {
		t.rejectPayload(c, err)
		return
	}
	var changed bool
	switch c.Type {
	case realtime.Insert:
		changed = t.pins.Add(*p)
	case realtime.Delete:
		_, changed = t.pins.Remove(p.MessageID)
	}
	if changed {
		t.emit()
	}
}

func (t *Thread) rejectPayload(c realtime.Change, err error) {
	t.deps.Metrics.InvalidPayload()
	t.deps.Logger.Warn("Dropping invalid realtime payload", "table", c.Table, "type", c.Type, "error", err)
}

// Poll 实时通道不可用时的补偿拉取
func (t *Thread) Poll() {
	since, ok := t.latestServerTime()
	t.io(func(ctx context.Context) func() {
		var (
			msgs []model.Message
			err  error
		)
		if ok {
			msgs, err = t.deps.Store.MessagesSince(ctx, t.id, since.Add(-t.opts.ConfirmWindow), t.opts.PageSize)
		} else {
			msgs, err = t.deps.Store.RecentMessages(ctx, t.id, t.opts.PageSize)
		}
		return func() {
			if err != nil {
				t.deps.Logger.Debug("Poll failed", "conversation", t.id, "error", err)
				return
			}
			if t.mergeAll(msgs, sourcePoll) {
				t.emit()
			}
		}
	})
}

// ToggleReaction 乐观切换自己的表情回应，失败时回滚
func (t *Thread) ToggleReaction(messageID, emoji string) error {
	i := indexOf(t.messages, messageID)
	if i < 0 || t.messages[i].IsTemp() {
		return appErrors.ErrMessageNotFound
	}
	r := model.Reaction{MessageID: messageID, UserID: t.me, Emoji: emoji, CreatedAt: t.deps.Clock.Now()}
	removing := t.reactions.Has(messageID, emoji, t.me)
	if removing {
		t.reactions.Remove(r)
	} else {
		t.reactions.Add(r)
	}
	t.emit()

	t.io(func(ctx context.Context) func() {
		var err error
		if removing {
			err = t.deps.Store.RemoveReaction(ctx, t.id, r)
		} else {
			err = t.deps.Store.AddReaction(ctx, t.id, r)
		}
		return func() {
			if err == nil {
				return
			}
			if removing {
				t.reactions.Add(r)
			} else {
				t.reactions.Remove(r)
			}
			t.rollback("reaction", err)
		}
	})
	return nil
}

// Pin 乐观置顶消息
func (t *Thread) Pin(messageID string) error {
	i := indexOf(t.messages, messageID)
	if i < 0 || t.messages[i].IsTemp() {
		return appErrors.ErrMessageNotFound
	}
	if t.pins.Has(messageID) {
		return nil
	}
	pin := model.Pin{MessageID: messageID, ConversationID: t.id, PinnedBy: t.me, PinnedAt: t.deps.Clock.Now()}
	t.pins.Add(pin)
	t.emit()

	t.io(func(ctx context.Context) func() {
		err := t.deps.Store.PinMessage(ctx, pin)
		return func() {
			if err != nil {
				t.pins.Remove(messageID)
				t.rollback("pin", err)
			}
		}
	})
	return nil
}

// Unpin 乐观取消置顶
func (t *Thread) Unpin(messageID string) error {
	pin, ok := t.pins.Remove(messageID)
	if !ok {
		return nil
	}
	t.emit()

	t.io(func(ctx context.Context) func() {
		err := t.deps.Store.UnpinMessage(ctx, t.id, messageID)
		return func() {
			if err != nil {
				t.pins.Add(pin)
				t.rollback("unpin", err)
			}
		}
	})
	return nil
}

// UnreadIncoming 发给自己且未读的消息
func (t *Thread) UnreadIncoming() []string {
	var ids []string
	for i := range t.messages {
		m := &t.messages[i]
		if m.ReceiverID == t.me && !m.IsRead && !m.IsTemp() {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// ApplyRead 本地标记已读
func (t *Thread) ApplyRead(ids []string) {
	changed := false
	for _, id := range ids {
		if i := indexOf(t.messages, id); i >= 0 {
			m := &t.messages[i]
			if !m.IsRead || m.Status != model.StatusSeen {
				m.IsRead = true
				m.Status = model.Advance(m.Status, model.StatusSeen)
				changed = true
			}
		}
	}
	if changed {
		t.emit()
	}
}

// MessageView 消息加上显示状态和回应
type MessageView struct {
	model.Message
	DisplayStatus model.MessageStatus     `json:"display_status"`
	Reactions     []model.ReactionSummary `json:"reactions,omitempty"`
	Retryable     bool                    `json:"retryable,omitempty"`
}

// View 会话视图
type View struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageView `json:"messages"`
	Pins           []model.Pin   `json:"pins"`
	Loaded         bool          `json:"loaded"`
}

// Snapshot 当前视图的副本
func (t *Thread) Snapshot() View {
	rr := t.deps.ReadReceipts()
	views := make([]MessageView, len(t.messages))
	for i := range t.messages {
		m := t.messages[i]
		views[i] = MessageView{
			Message:       m,
			DisplayStatus: receipts.DisplayStatus(&m, t.me, rr),
			Reactions:     t.reactions.Summaries(m.ID, t.me),
			Retryable:     m.Status == model.StatusFailed,
		}
	}
	return View{ConversationID: t.id, Messages: views, Pins: t.pins.List(), Loaded: t.loaded}
}

// Messages 消息列表副本
func (t *Thread) Messages() []model.Message {
	out := make([]model.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Close 停止全部定时器，之后到达的回调被忽略
func (t *Thread) Close() {
	t.closed = true
	for id, p := range t.pending {
		p.stop()
		delete(t.pending, id)
	}
}

// apply 合并单条服务端消息并维护待确认表，返回列表是否变化
func (t *Thread) apply(m model.Message, source string) bool {
	var res MergeResult
	t.messages, res = Merge(t.messages, m, t.opts.ConfirmWindow)

	if res.Outcome == Confirmed {
		if p, ok := t.pending[res.TempID]; ok {
			p.stop()
			delete(t.pending, res.TempID)
			t.deps.Metrics.MessageConfirmed(source, p.sentAt)
		}
	}
	if res.Outcome == Inserted || res.Outcome == Confirmed {
		t.markDelivered(m)
	}
	return res.Outcome != Duplicate
}

func (t *Thread) mergeAll(msgs []model.Message, source string) bool {
	changed := false
	for _, m := range msgs {
		if t.apply(m, source) {
			changed = true
		}
	}
	return changed
}

// markDelivered 收到对方的新消息后回写 delivered
func (t *Thread) markDelivered(m model.Message) {
	if m.ReceiverID != t.me || m.Status != model.StatusSent {
		return
	}
	if i := indexOf(t.messages, m.ID); i >= 0 {
		t.messages[i].Status = model.StatusDelivered
	}
	t.io(func(ctx context.Context) func() {
		err := t.deps.Store.UpdateMessageStatus(ctx, t.id, []string{m.ID}, model.StatusDelivered)
		if err != nil {
			t.deps.Logger.Debug("Failed to mark delivered", "message", m.ID, "error", err)
		}
		return nil
	})
}

func (t *Thread) latestServerTime() (time.Time, bool) {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if !t.messages[i].IsTemp() {
			return t.messages[i].CreatedAt, true
		}
	}
	return time.Time{}, false
}

func (t *Thread) isTempPending(tempID string) bool {
	i := indexOf(t.messages, tempID)
	return i >= 0 && t.messages[i].Status == model.StatusSending
}

func (t *Thread) isFailed(tempID string) bool {
	if _, ok := t.pending[tempID]; !ok {
		return false
	}
	i := indexOf(t.messages, tempID)
	return i >= 0 && t.messages[i].Status == model.StatusFailed
}

func (t *Thread) rollback(op string, err error) {
	t.deps.Metrics.Rollback(op)
	t.deps.Logger.Warn("Optimistic update rolled back", "conversation", t.id, "op", op, "error", err)
	t.notice(appErrors.ErrUpdateFailed.Wrap(err))
	t.emit()
}

// io 在循环外执行阻塞操作，返回的回调（可为 nil）再回到循环中执行
func (t *Thread) io(work func(ctx context.Context) func()) {
	t.deps.Loop.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.opts.IOTimeout)
		defer cancel()

		done := work(ctx)
		if done == nil {
			return
		}
		t.deps.Loop.Post(func() {
			if !t.closed {
				done()
			}
		})
	})
}

// after 定时器回调统一回到事件循环执行
func (t *Thread) after(d time.Duration, fn func()) task.Timer {
	return t.deps.Clock.AfterFunc(d, func() { t.deps.Loop.PostTimer(fn) })
}

func (t *Thread) emit() {
	t.deps.Sink(event.Event{
		Kind:           event.KindMessages,
		ConversationID: t.id,
		Data:           t.Snapshot(),
		At:             t.deps.Clock.Now(),
	})
}

func (t *Thread) notice(err error) {
	t.deps.Sink(event.NewNotice(t.id, err))
}
