package task

import (
	"sync"
	"time"
)

const (
	// DefaultSlotCount 默认槽位数量
	DefaultSlotCount = 512
	// DefaultTick 默认刻度
	DefaultTick = 50 * time.Millisecond
)

// TimeWheel 单层时间轮，超过一圈的任务靠圈数计数
type TimeWheel struct {
	tick  time.Duration
	slots []*Slot

	mu      sync.Mutex
	current int
	index   map[string]int // taskID -> 槽位
}

// NewTimeWheel 创建时间轮
func NewTimeWheel(tick time.Duration, slotCount int) *TimeWheel {
	if tick <= 0 {
		tick = DefaultTick
	}
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}

	tw := &TimeWheel{
		tick:  tick,
		slots: make([]*Slot, slotCount),
		index: make(map[string]int),
	}
	for i := range tw.slots {
		tw.slots[i] = NewSlot()
	}
	return tw
}

// Tick 刻度
func (tw *TimeWheel) Tick() time.Duration {
	return tw.tick
}

// Add 在 delay 之后触发任务，不足一个刻度按一个刻度计；同 ID 任务会被替换
func (tw *TimeWheel) Add(task *Task, delay time.Duration) {
	ticks := int((delay + tw.tick - 1) / tw.tick)
	if ticks < 1 {
		ticks = 1
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if old, ok := tw.index[task.ID]; ok {
		tw.slots[old].Remove(task.ID)
	}

	n := len(tw.slots)
	task.slot = (tw.current + ticks) % n
	task.rounds = (ticks - 1) / n
	tw.slots[task.slot].Add(task)
	tw.index[task.ID] = task.slot
}

// Remove 取消任务
func (tw *TimeWheel) Remove(taskID string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	slot, ok := tw.index[taskID]
	if !ok {
		return false
	}
	delete(tw.index, taskID)
	return tw.slots[slot].Remove(taskID)
}

// Advance 前进一格，返回到期任务
func (tw *TimeWheel) Advance() []*Task {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.current = (tw.current + 1) % len(tw.slots)
	due := tw.slots[tw.current].Expire()
	for _, t := range due {
		delete(tw.index, t.ID)
	}
	return due
}

// CurrentSlot 当前槽位
func (tw *TimeWheel) CurrentSlot() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.current
}

// Len 待触发任务总数
func (tw *TimeWheel) Len() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return len(tw.index)
}
