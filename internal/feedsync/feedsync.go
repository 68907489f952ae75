// Package feedsync 按 cron 表达式定时调用 feed-sync 云函数
package feedsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"sudooom.planverse/internal/task"
)

// FunctionName 云函数名
const FunctionName = "feed-sync"

// Invoker 云函数调用，*functions.Client 满足
type Invoker interface {
	Invoke(ctx context.Context, name string, payload any, out any) error
}

// Config 定时配置
type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	Cron    string        `mapstructure:"cron"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Request 发给云函数的参数
type Request struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Result 云函数返回
type Result struct {
	Synced int `json:"synced"`
}

// Syncer 定时同步器
type Syncer struct {
	cfg     Config
	inv     Invoker
	clock   task.Clock
	logger  *slog.Logger
	running atomic.Bool

	mu       sync.Mutex
	timer    task.Timer
	lastRun  time.Time
	lastSync int
}

// New 创建，cron 为空时每 15 分钟一次
func New(cfg Config, inv Invoker, clock task.Clock) (*Syncer, error) {
	if cfg.Cron == "" {
		cfg.Cron = "*/15 * * * *"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid feed sync cron expression: %s", cfg.Cron)
	}
	return &Syncer{cfg: cfg, inv: inv, clock: clock, logger: slog.Default()}, nil
}

// Next 下一次触发时间
func (s *Syncer) Next(now time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cfg.Cron, now.UTC(), false)
}

// Run 阻塞直到 ctx 取消
func (s *Syncer) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("Feed sync disabled")
		return nil
	}
	s.logger.Info("Feed sync scheduler started", "cron", s.cfg.Cron)
	if err := s.schedule(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.logger.Info("Feed sync scheduler stopping")
	return nil
}

func (s *Syncer) schedule(ctx context.Context) error {
	now := s.clock.Now()
	next, err := s.Next(now)
	if err != nil {
		return fmt.Errorf("compute next tick: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return nil
	}
	s.timer = s.clock.AfterFunc(next.Sub(now), func() {
		go s.fire(ctx)
		if err := s.schedule(ctx); err != nil {
			s.logger.Error("Feed sync reschedule failed", "error", err)
		}
	})
	return nil
}

func (s *Syncer) fire(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Feed sync run failed", "error", err)
	}
}

// RunOnce 立即同步一次，上一次未结束时跳过
func (s *Syncer) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Feed sync still running, skip")
		return nil
	}
	defer s.running.Store(false)

	now := s.clock.Now()
	s.mu.Lock()
	since := s.lastRun
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var res Result
	if err := s.inv.Invoke(ctx, FunctionName, Request{Since: since, Until: now}, &res); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastRun = now
	s.lastSync = res.Synced
	s.mu.Unlock()
	s.logger.Info("Feed sync finished", "synced", res.Synced)
	return nil
}

// LastRun 上次成功同步的时间和条数
func (s *Syncer) LastRun() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastSync
}
