package loop

import "context"

// Manual 手动驱动的事件循环
// Go 立即同步执行，Post 只入队，调用 Drain 时才执行，便于测试控制事件交错顺序
type Manual struct {
	queue []func()
}

// NewManual 创建手动循环
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Post(fn func()) {
	m.queue = append(m.queue, fn)
}

func (m *Manual) PostTimer(fn func()) {
	m.Post(fn)
}

func (m *Manual) Go(fn func()) {
	fn()
}

// Pending 队列中待执行的任务数
func (m *Manual) Pending() int {
	return len(m.queue)
}

// Step 执行一个任务
func (m *Manual) Step() bool {
	if len(m.queue) == 0 {
		return false
	}
	fn := m.queue[0]
	m.queue = m.queue[1:]
	fn()
	return true
}

// Drain 执行到队列为空，包括执行过程中新入队的任务
func (m *Manual) Drain() {
	for m.Step() {
	}
}

// Do 同步执行 fn
func (m *Manual) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}
