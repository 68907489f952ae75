package task

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler 基于时间轮的定时调度器
type Scheduler struct {
	wheel      *TimeWheel
	workerPool *WorkerPool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
	seq        atomic.Uint64

	runningMu sync.RWMutex
	running   bool
}

// NewScheduler 创建调度器
func NewScheduler(tick time.Duration, slotCount, workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		wheel:      NewTimeWheel(tick, slotCount),
		workerPool: NewWorkerPool(workerCount),
		ctx:        ctx,
		cancel:     cancel,
		logger:     slog.Default(),
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if s.running {
		return fmt.Errorf("调度器已经在运行中")
	}
	s.running = true

	s.workerPool.Start()
	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("定时调度器已启动", "tick", s.wheel.Tick(), "slots", len(s.wheel.slots))
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.wheel.Tick())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, t := range s.wheel.Advance() {
				s.workerPool.Submit(t)
			}
		}
	}
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.workerPool.Stop()
	s.logger.Info("定时调度器已停止")
}

// IsRunning 是否运行中
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}

// Schedule 在 delay 之后执行任务；同 ID 的旧任务被替换
func (s *Scheduler) Schedule(t *Task, delay time.Duration) error {
	if t == nil {
		return fmt.Errorf("任务不能为空")
	}
	if t.ID == "" {
		return fmt.Errorf("任务ID不能为空")
	}
	if !s.IsRunning() {
		return fmt.Errorf("调度器未运行")
	}

	s.wheel.Add(t, delay)
	return nil
}

// Cancel 取消任务
func (s *Scheduler) Cancel(taskID string) bool {
	return s.wheel.Remove(taskID)
}

// Now 当前时间
func (s *Scheduler) Now() time.Time {
	return time.Now()
}

// AfterFunc 实现 Clock；调度器未运行时退化为标准库定时器
func (s *Scheduler) AfterFunc(d time.Duration, fn func()) Timer {
	if !s.IsRunning() {
		return time.AfterFunc(d, fn)
	}

	id := "after-" + strconv.FormatUint(s.seq.Add(1), 10)
	t := NewTask(id, "", func(context.Context) error {
		fn()
		return nil
	})
	s.wheel.Add(t, d)
	return &wheelTimer{s: s, id: id}
}

// Stats 统计信息
func (s *Scheduler) Stats() map[string]any {
	return map[string]any{
		"running":     s.IsRunning(),
		"currentSlot": s.wheel.CurrentSlot(),
		"pending":     s.wheel.Len(),
		"workerCount": s.workerPool.workerCount,
	}
}

type wheelTimer struct {
	s  *Scheduler
	id string
}

func (t *wheelTimer) Stop() bool {
	return t.s.Cancel(t.id)
}
