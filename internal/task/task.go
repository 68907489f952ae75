package task

import (
	"context"
	"time"
)

// TaskFunc 任务执行函数
type TaskFunc func(ctx context.Context) error

// Task 延时任务
type Task struct {
	ID        string    // 唯一ID，重复添加会覆盖旧任务
	Target    string    // 操作对象，仅用于日志
	Fn        TaskFunc  // 执行函数
	CreatedAt time.Time // 创建时间

	rounds int // 还需转过的整圈数
	slot   int // 所在槽位
}

// NewTask 创建任务
func NewTask(id, target string, fn TaskFunc) *Task {
	return &Task{
		ID:        id,
		Target:    target,
		Fn:        fn,
		CreatedAt: time.Now(),
	}
}

// Execute 执行任务
func (t *Task) Execute(ctx context.Context) error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn(ctx)
}
