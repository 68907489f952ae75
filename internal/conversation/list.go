// Package conversation 当前用户的会话列表：置顶分区、手动排序、未读数
package conversation

import (
	"sort"
	"time"

	"sudooom.planverse/internal/model"
	appErrors "sudooom.planverse/shared/errors"
)

// List 会话列表的内存状态，不做任何 I/O
type List struct {
	items map[string]*model.Conversation
	// readAt 本地标记已读时会话最后一条消息的时间，刷新时据此忽略过期的未读数
	readAt map[string]time.Time
}

// NewList 创建
func NewList() *List {
	return &List{
		items:  make(map[string]*model.Conversation),
		readAt: make(map[string]time.Time),
	}
}

// Len 会话数
func (l *List) Len() int {
	return len(l.items)
}

// Get 按ID获取副本
func (l *List) Get(id string) (model.Conversation, bool) {
	c, ok := l.items[id]
	if !ok {
		return model.Conversation{}, false
	}
	return clone(c), true
}

// Sorted 排好序的副本：置顶在前；分区内有手动排序的按排序值升序，其余按最近消息时间倒序
func (l *List) Sorted() []model.Conversation {
	out := make([]model.Conversation, 0, len(l.items))
	for _, c := range l.items {
		out = append(out, clone(c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return less(&out[i], &out[j])
	})
	return out
}

func less(a, b *model.Conversation) bool {
	if a.Pinned != b.Pinned {
		return a.Pinned
	}
	ao, bo := a.DisplayOrder != nil, b.DisplayOrder != nil
	if ao != bo {
		return ao
	}
	if ao && *a.DisplayOrder != *b.DisplayOrder {
		return *a.DisplayOrder < *b.DisplayOrder
	}
	if !a.LastMessageAt.Equal(b.LastMessageAt) {
		return a.LastMessageAt.After(b.LastMessageAt)
	}
	return a.ID < b.ID
}

// Replace 用服务端数据整体替换，本地已读过的会话不会被旧的未读数覆盖
func (l *List) Replace(rows []model.Conversation) {
	next := make(map[string]*model.Conversation, len(rows))
	for i := range rows {
		c := rows[i]
		l.applyWatermark(&c)
		next[c.ID] = &c
	}
	for id := range l.readAt {
		if _, ok := next[id]; !ok {
			delete(l.readAt, id)
		}
	}
	l.items = next
}

// Upsert 合并单行变更
func (l *List) Upsert(row model.Conversation) {
	l.applyWatermark(&row)
	l.items[row.ID] = &row
}

// Delete 移除
func (l *List) Delete(id string) bool {
	if _, ok := l.items[id]; !ok {
		return false
	}
	delete(l.items, id)
	delete(l.readAt, id)
	return true
}

func (l *List) applyWatermark(c *model.Conversation) {
	at, ok := l.readAt[c.ID]
	if !ok {
		return
	}
	if c.LastMessageAt.After(at) {
		// 已读之后又来了新消息，以服务端为准
		delete(l.readAt, c.ID)
		return
	}
	c.UnreadCount = 0
}

// Reorder 把会话拖到排序后的 toIndex 位置
// 两端必须在同一分区；成功后两个分区都重新连续编号，返回排序值有变化的会话
func (l *List) Reorder(id string, toIndex int) ([]model.OrderUpdate, error) {
	sorted := l.Sorted()
	from := -1
	for i := range sorted {
		if sorted[i].ID == id {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, appErrors.ErrConversationNotFound
	}
	if toIndex < 0 || toIndex >= len(sorted) {
		return nil, appErrors.ErrInvalidParams
	}
	if sorted[toIndex].Pinned != sorted[from].Pinned {
		return nil, appErrors.ErrCrossPartition
	}

	moved := sorted[from]
	sorted = append(sorted[:from], sorted[from+1:]...)
	sorted = append(sorted[:toIndex], append([]model.Conversation{moved}, sorted[toIndex:]...)...)

	return l.renumber(sorted), nil
}

// renumber 置顶分区编号 -n..-1，普通分区 1..m
func (l *List) renumber(sorted []model.Conversation) []model.OrderUpdate {
	pinned := 0
	for i := range sorted {
		if sorted[i].Pinned {
			pinned++
		}
	}

	var updates []model.OrderUpdate
	next := -pinned
	unpinned := 1
	for i := range sorted {
		var order int
		if sorted[i].Pinned {
			order = next
			next++
		} else {
			order = unpinned
			unpinned++
		}
		c := l.items[sorted[i].ID]
		if c.DisplayOrder != nil && *c.DisplayOrder == order {
			continue
		}
		c.DisplayOrder = model.IntPtr(order)
		updates = append(updates, model.OrderUpdate{ConversationID: c.ID, Pinned: c.Pinned, DisplayOrder: order})
	}
	return updates
}

// MarkRead 本地清零未读数
func (l *List) MarkRead(id string) bool {
	c, ok := l.items[id]
	if !ok {
		return false
	}
	l.readAt[id] = c.LastMessageAt
	if c.UnreadCount == 0 {
		return false
	}
	c.UnreadCount = 0
	return true
}

// SetPinned 切换置顶，会话离开原分区，手动排序值清空
func (l *List) SetPinned(id string, pinned bool) bool {
	c, ok := l.items[id]
	if !ok || c.Pinned == pinned {
		return false
	}
	c.Pinned = pinned
	c.DisplayOrder = nil
	return true
}

// SetMuted 切换免打扰
func (l *List) SetMuted(id string, muted bool) bool {
	c, ok := l.items[id]
	if !ok || c.Muted == muted {
		return false
	}
	c.Muted = muted
	return true
}

// Touch 新消息更新会话预览，open 表示会话正在被查看
// 不比当前预览更新的消息被忽略，重复投递不会重复计数
func (l *List) Touch(m *model.Message, me string, open bool) bool {
	c, ok := l.items[m.ConversationID]
	if !ok || m.IsTemp() || !m.CreatedAt.After(c.LastMessageAt) {
		return false
	}
	c.LastMessageAt = m.CreatedAt
	c.LastMessage = Preview(m)
	if m.ReceiverID == me && !m.IsRead {
		if open {
			l.readAt[c.ID] = m.CreatedAt
		} else {
			c.UnreadCount++
		}
	}
	return true
}

// UnreadTotal 未免打扰会话的未读总数
func (l *List) UnreadTotal() int {
	n := 0
	for _, c := range l.items {
		if !c.Muted {
			n += c.UnreadCount
		}
	}
	return n
}

// Preview 会话列表里显示的最后一条消息
func Preview(m *model.Message) string {
	if m.HasImage() {
		return "[图片]"
	}
	r := []rune(m.Content)
	if len(r) > 60 {
		return string(r[:60]) + "…"
	}
	return m.Content
}

func clone(c *model.Conversation) model.Conversation {
	out := *c
	if c.DisplayOrder != nil {
		out.DisplayOrder = model.IntPtr(*c.DisplayOrder)
	}
	return out
}
