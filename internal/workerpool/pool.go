package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed 协程池已关闭
var ErrClosed = errors.New("workerpool: closed")

// Task 任务函数
type Task func()

// Pool 固定数量的工作协程
// workers 为 1 时任务严格按提交顺序串行执行，可作为单线程事件循环使用
type Pool struct {
	workers   int
	taskQueue chan Task
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
	once      sync.Once
}

// New 创建协程池
func New(workers int, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		workers:   workers,
		taskQueue: make(chan Task, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// NewSerial 单协程的串行队列
func NewSerial(queueSize int, logger *slog.Logger) *Pool {
	return New(1, queueSize, logger)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.taskQueue:
			p.run(id, task)
		}
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panic recovered", "worker_id", id, "panic", r)
		}
	}()
	task()
}

// Submit 提交任务，队列满时阻塞直到有空位或协程池关闭
func (p *Pool) Submit(task Task) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.taskQueue <- task:
		return true
	}
}

// TrySubmit 队列满时立即返回 false
func (p *Pool) TrySubmit(task Task) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Do 提交任务并等待执行完成
// 不能在本池的任务内部调用，否则串行池会死锁
func (p *Pool) Do(ctx context.Context, task Task) error {
	done := make(chan struct{})
	ok := p.Submit(func() {
		defer close(done)
		task()
	})
	if !ok {
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrClosed
	}
}

// Closed 是否已关闭
func (p *Pool) Closed() bool {
	return p.ctx.Err() != nil
}

// Shutdown 关闭协程池并等待正在执行的任务结束，队列中剩余任务被丢弃
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}
