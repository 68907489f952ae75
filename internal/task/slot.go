package task

import "sync"

// Slot 时间轮槽位
type Slot struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewSlot 创建槽位
func NewSlot() *Slot {
	return &Slot{tasks: make(map[string]*Task)}
}

// Add 添加任务
func (s *Slot) Add(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

// Remove 删除任务
func (s *Slot) Remove(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; ok {
		delete(s.tasks, taskID)
		return true
	}
	return false
}

// Expire 取出本轮到期的任务，未到期的任务圈数减一后留在槽内
func (s *Slot) Expire() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Task
	for id, t := range s.tasks {
		if t.rounds > 0 {
			t.rounds--
			continue
		}
		due = append(due, t)
		delete(s.tasks, id)
	}
	return due
}

// Count 槽内任务数
func (s *Slot) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
