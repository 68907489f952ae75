package realtime

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Hub 进程内的实时通道，单实例部署和测试使用
// Publish 同步调用所有订阅者
type Hub struct {
	mu        sync.RWMutex
	seq       int
	subs      map[string]map[int]Handler
	listeners listeners
	down      atomic.Bool
}

// NewHub 创建进程内通道
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]Handler)}
}

type hubSub struct {
	hub *Hub
	key string
	id  int
}

func (s *hubSub) Unsubscribe() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if m, ok := s.hub.subs[s.key]; ok {
		delete(m, s.id)
		if len(m) == 0 {
			delete(s.hub.subs, s.key)
		}
	}
	return nil
}

// Subscribe 订阅
func (h *Hub) Subscribe(table, topic string, fn Handler) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := Subject(table, topic)
	if h.subs[key] == nil {
		h.subs[key] = make(map[int]Handler)
	}
	h.seq++
	h.subs[key][h.seq] = fn
	return &hubSub{hub: h, key: key, id: h.seq}, nil
}

// Publish 投递给精确主题和整表通配订阅者；断开状态下返回错误
func (h *Hub) Publish(c Change) error {
	if h.down.Load() {
		return fmt.Errorf("realtime: hub disconnected")
	}

	h.mu.RLock()
	var targets []Handler
	for _, key := range []string{Subject(c.Table, c.Topic), Subject(c.Table, "*")} {
		for _, fn := range h.subs[key] {
			targets = append(targets, fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		fn(c)
	}
	return nil
}

// OnStateChange 注册连接状态回调
func (h *Hub) OnStateChange(l StateListener) func() {
	return h.listeners.add(l)
}

// Connected 连接状态
func (h *Hub) Connected() bool {
	return !h.down.Load()
}

// SetConnected 模拟断线与恢复
func (h *Hub) SetConnected(connected bool) {
	if h.down.Swap(!connected) == !connected {
		return
	}
	h.listeners.notify(connected)
}

// Subscribers 某主题的订阅数
func (h *Hub) Subscribers(table, topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[Subject(table, topic)])
}
