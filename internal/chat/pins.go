package chat

import (
	"sort"

	"sudooom.planverse/internal/model"
)

// Pins 会话内置顶消息，最近置顶的排在最前
type Pins struct {
	items []model.Pin
}

// Reset 用服务端数据替换
func (p *Pins) Reset(list []model.Pin) {
	p.items = p.items[:0]
	for _, pin := range list {
		p.Add(pin)
	}
}

// Add 添加，同一条消息已置顶时返回 false
func (p *Pins) Add(pin model.Pin) bool {
	if p.indexOf(pin.MessageID) >= 0 {
		return false
	}
	p.items = append(p.items, pin)
	sort.SliceStable(p.items, func(i, j int) bool {
		return p.items[i].PinnedAt.After(p.items[j].PinnedAt)
	})
	return true
}

// Remove 取消置顶，返回被移除的记录
func (p *Pins) Remove(messageID string) (model.Pin, bool) {
	i := p.indexOf(messageID)
	if i < 0 {
		return model.Pin{}, false
	}
	pin := p.items[i]
	p.items = append(p.items[:i], p.items[i+1:]...)
	return pin, true
}

// Has 是否已置顶
func (p *Pins) Has(messageID string) bool {
	return p.indexOf(messageID) >= 0
}

// List 副本
func (p *Pins) List() []model.Pin {
	out := make([]model.Pin, len(p.items))
	copy(out, p.items)
	return out
}

func (p *Pins) indexOf(messageID string) int {
	for i := range p.items {
		if p.items[i].MessageID == messageID {
			return i
		}
	}
	return -1
}
