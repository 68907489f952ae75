package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	StatusUp   = "up"
	StatusDown = "down"
)

// DepCheck 单项依赖检查，返回 nil 表示可用
type DepCheck func(ctx context.Context) error

// SessionCounter 在线会话计数
type SessionCounter interface {
	Len() int
}

// Status 健康状态
type Status struct {
	Service    string            `json:"service"`
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
	Sessions   int               `json:"sessions"`
	// Breaker 云函数熔断器状态
	Breaker string `json:"breaker,omitempty"`
}

type dep struct {
	name     string
	fn       DepCheck
	critical bool
}

// Checker 健康检查器
type Checker struct {
	service  string
	timeout  time.Duration
	deps     []dep
	sessions SessionCounter
	breaker  func() string
}

// NewChecker 创建健康检查器
func NewChecker(service string) *Checker {
	return &Checker{service: service, timeout: 2 * time.Second}
}

// Critical 注册关键依赖，不可用时 /ready 返回 503
func (h *Checker) Critical(name string, fn DepCheck) *Checker {
	h.deps = append(h.deps, dep{name: name, fn: fn, critical: true})
	return h
}

// Optional 注册非关键依赖，只体现在状态里
func (h *Checker) Optional(name string, fn DepCheck) *Checker {
	h.deps = append(h.deps, dep{name: name, fn: fn})
	return h
}

// WithSessions 附带会话数
func (h *Checker) WithSessions(c SessionCounter) *Checker {
	h.sessions = c
	return h
}

// WithBreaker 附带熔断器状态
func (h *Checker) WithBreaker(state func() string) *Checker {
	h.breaker = state
	return h
}

// Check 并发执行所有检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Service:    h.service,
		Healthy:    true,
		Components: make(map[string]string, len(h.deps)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range h.deps {
		wg.Add(1)
		go func(p dep) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			result := StatusUp
			if err := p.fn(pctx); err != nil {
				result = StatusDown
			}
			mu.Lock()
			status.Components[p.name] = result
			if result == StatusDown && p.critical {
				status.Healthy = false
			}
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if h.sessions != nil {
		status.Sessions = h.sessions.Len()
	}
	if h.breaker != nil {
		status.Breaker = h.breaker()
	}
	return status
}

// Names 已注册的依赖
func (h *Checker) Names() []string {
	names := make([]string, 0, len(h.deps))
	for _, p := range h.deps {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

// LiveHandler 进程存活
func (h *Checker) LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": h.service, "status": StatusUp})
	})
}

// ServeHTTP 就绪检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
