// Package store 每个用户一份的应用状态，替代散落的包级单例
package store

import (
	"sync"

	"sudooom.planverse/internal/model"
)

// Slice 一块带版本号的状态
// Load 返回副本，Update 在锁内修改并递增版本，Subscribe 在修改后同步回调
type Slice[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
	clone   func(T) T
	seq     int
	subs    map[int]func(T, uint64)
}

// NewSlice 创建，clone 用于返回副本，为 nil 时按值复制
func NewSlice[T any](initial T, clone func(T) T) *Slice[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Slice[T]{value: initial, clone: clone, subs: make(map[int]func(T, uint64))}
}

// Load 当前值的副本
func (s *Slice[T]) Load() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clone(s.value)
}

// Version 当前版本号
func (s *Slice[T]) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Update 用 fn 的返回值替换当前值；fn 返回 false 时不写入
func (s *Slice[T]) Update(fn func(cur T) (T, bool)) uint64 {
	s.mu.Lock()
	next, ok := fn(s.clone(s.value))
	if !ok {
		v := s.version
		s.mu.Unlock()
		return v
	}
	s.value = next
	s.version++
	version := s.version
	snapshot := s.clone(next)
	subs := make([]func(T, uint64), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot, version)
	}
	return version
}

// Set 直接替换
func (s *Slice[T]) Set(v T) uint64 {
	return s.Update(func(T) (T, bool) { return v, true })
}

// Subscribe 订阅变更，返回取消函数
func (s *Slice[T]) Subscribe(fn func(v T, version uint64)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := s.seq
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Store 一个用户的应用状态
type Store struct {
	Friends       *Slice[[]model.Friend]
	Presence      *Slice[map[string]bool]
	Notifications *Slice[[]model.Notification]
	Settings      *Slice[model.Settings]
}

// New 创建
func New(userID string) *Store {
	return &Store{
		Friends:       NewSlice[[]model.Friend](nil, cloneSlice[model.Friend]),
		Presence:      NewSlice(map[string]bool{}, cloneMap),
		Notifications: NewSlice[[]model.Notification](nil, cloneNotifications),
		Settings:      NewSlice(model.DefaultSettings(userID), nil),
	}
}

// ReadReceipts 当前是否开启已读回执
func (s *Store) ReadReceipts() bool {
	return s.Settings.Load().ReadReceipts
}

// UnreadNotifications 未读通知数
func (s *Store) UnreadNotifications() int {
	n := 0
	for _, item := range s.Notifications.Load() {
		if !item.Read {
			n++
		}
	}
	return n
}

func cloneSlice[T any](v []T) []T {
	if v == nil {
		return nil
	}
	out := make([]T, len(v))
	copy(out, v)
	return out
}

func cloneMap(v map[string]bool) map[string]bool {
	out := make(map[string]bool, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func cloneNotifications(v []model.Notification) []model.Notification {
	out := cloneSlice(v)
	for i := range out {
		if out[i].Meta != nil {
			meta := make(map[string]string, len(out[i].Meta))
			for k, val := range out[i].Meta {
				meta[k] = val
			}
			out[i].Meta = meta
		}
	}
	return out
}
