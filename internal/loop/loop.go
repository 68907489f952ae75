// Package loop 提供单用户状态的串行事件循环
// 所有对会话内存状态的修改都经 Post 进入同一个循环执行，阻塞 I/O 经 Go 放到循环之外
package loop

import (
	"context"
	"log/slog"

	"sudooom.planverse/internal/workerpool"
)

// Loop 事件循环
type Loop interface {
	// Post 把 fn 排入循环，按提交顺序执行
	Post(fn func())
	// PostTimer 供定时器回调使用，入队不阻塞调用方
	PostTimer(fn func())
	// Go 在循环之外执行阻塞操作，完成后通常再 Post 回循环
	Go(fn func())
}

// Serial 基于单协程 workerpool 的事件循环
type Serial struct {
	pool   *workerpool.Pool
	logger *slog.Logger
}

// NewSerial 创建事件循环
func NewSerial(queueSize int, logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serial{
		pool:   workerpool.NewSerial(queueSize, logger),
		logger: logger,
	}
}

// Post 排入循环，循环已关闭时丢弃
func (s *Serial) Post(fn func()) {
	if !s.pool.Submit(fn) {
		s.logger.Debug("Event loop closed, dropping task")
	}
}

// PostTimer 先尝试非阻塞入队；队列已满时转交新协程排队，任务不会丢失
func (s *Serial) PostTimer(fn func()) {
	if s.pool.TrySubmit(fn) {
		return
	}
	if s.pool.Closed() {
		s.logger.Debug("Event loop closed, dropping timer task")
		return
	}
	s.logger.Warn("Event loop queue full, handing off timer task")
	go s.Post(fn)
}

// Go 启动协程执行阻塞操作
func (s *Serial) Go(fn func()) {
	go fn()
}

// Do 在循环内执行 fn 并等待完成
func (s *Serial) Do(ctx context.Context, fn func()) error {
	return s.pool.Do(ctx, fn)
}

// Close 关闭循环
func (s *Serial) Close() {
	s.pool.Shutdown()
}
