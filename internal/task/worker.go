package task

import (
	"context"
	"log/slog"
	"sync"
)

// WorkerPool 执行到期任务的协程池
type WorkerPool struct {
	workerCount int
	taskChan    chan *Task
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger
}

// NewWorkerPool 创建协程池
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 4
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: workerCount,
		taskChan:    make(chan *Task, workerCount*64),
		ctx:         ctx,
		cancel:      cancel,
		logger:      slog.Default(),
	}
}

// Start 启动
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Info("定时任务协程池已启动", "workerCount", wp.workerCount)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case t := <-wp.taskChan:
			if t != nil {
				wp.execute(id, t)
			}
		}
	}
}

func (wp *WorkerPool) execute(workerID int, t *Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("定时任务 panic",
				"workerID", workerID,
				"taskID", t.ID,
				"target", t.Target,
				"panic", r)
		}
	}()

	if err := t.Execute(wp.ctx); err != nil {
		wp.logger.Warn("定时任务执行失败",
			"taskID", t.ID,
			"target", t.Target,
			"error", err)
	}
}

// Submit 提交任务，队列满时阻塞直到有空位或协程池关闭
func (wp *WorkerPool) Submit(t *Task) bool {
	select {
	case wp.taskChan <- t:
		return true
	case <-wp.ctx.Done():
		return false
	default:
	}

	wp.logger.Warn("定时任务队列已满，任务将延迟执行", "taskID", t.ID)
	select {
	case wp.taskChan <- t:
		return true
	case <-wp.ctx.Done():
		return false
	}
}

// Stop 停止协程池，队列中未执行的任务被丢弃
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info("定时任务协程池已停止")
}
