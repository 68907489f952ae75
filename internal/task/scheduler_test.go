package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// TestSlotAddRemove 测试槽位添加和删除
func TestSlotAddRemove(t *testing.T) {
	slot := NewSlot()
	slot.Add(NewTask("t1", "conv-1", nil))
	slot.Add(NewTask("t2", "conv-2", nil))

	if slot.Count() != 2 {
		t.Errorf("期望任务数 = 2, 实际 = %d", slot.Count())
	}
	if !slot.Remove("t1") {
		t.Error("期望删除成功")
	}
	if slot.Remove("missing") {
		t.Error("期望删除不存在的任务失败")
	}
	if slot.Count() != 1 {
		t.Errorf("期望任务数 = 1, 实际 = %d", slot.Count())
	}
}

// TestSlotExpireRounds 测试圈数未归零的任务留在槽内
func TestSlotExpireRounds(t *testing.T) {
	slot := NewSlot()
	later := NewTask("later", "", nil)
	later.rounds = 1
	slot.Add(later)
	slot.Add(NewTask("now", "", nil))

	due := slot.Expire()
	if len(due) != 1 || due[0].ID != "now" {
		t.Fatalf("期望只到期 now, 实际 = %v", due)
	}
	if slot.Count() != 1 {
		t.Errorf("期望剩余1个任务, 实际 = %d", slot.Count())
	}
	if due = slot.Expire(); len(due) != 1 || due[0].ID != "later" {
		t.Errorf("期望第二圈到期 later, 实际 = %v", due)
	}
}

// TestTimeWheelAdvance 测试按刻度推进
func TestTimeWheelAdvance(t *testing.T) {
	wheel := NewTimeWheel(10*time.Millisecond, 8)
	wheel.Add(NewTask("t1", "", nil), 30*time.Millisecond)

	for i := 1; i <= 2; i++ {
		if due := wheel.Advance(); len(due) != 0 {
			t.Fatalf("第%d格不应有任务到期", i)
		}
	}
	if due := wheel.Advance(); len(due) != 1 {
		t.Fatalf("第3格期望到期1个任务, 实际 = %d", len(due))
	}
	if wheel.Len() != 0 {
		t.Errorf("期望时间轮为空, 实际 = %d", wheel.Len())
	}
}

// TestTimeWheelLongDelay 测试超过一圈的延时
func TestTimeWheelLongDelay(t *testing.T) {
	wheel := NewTimeWheel(10*time.Millisecond, 4)
	wheel.Add(NewTask("long", "", nil), 100*time.Millisecond)

	fired := 0
	for i := 1; i <= 10; i++ {
		due := wheel.Advance()
		if len(due) > 0 {
			fired = i
		}
	}
	if fired != 10 {
		t.Errorf("期望第10格触发, 实际 = %d", fired)
	}
}

// TestTimeWheelReplaceAndRemove 测试同ID替换与取消
func TestTimeWheelReplaceAndRemove(t *testing.T) {
	wheel := NewTimeWheel(10*time.Millisecond, 8)
	wheel.Add(NewTask("t1", "", nil), 10*time.Millisecond)
	wheel.Add(NewTask("t1", "", nil), 50*time.Millisecond)

	if wheel.Len() != 1 {
		t.Fatalf("期望替换后只有1个任务, 实际 = %d", wheel.Len())
	}
	if due := wheel.Advance(); len(due) != 0 {
		t.Error("旧任务不应触发")
	}
	if !wheel.Remove("t1") {
		t.Error("期望取消成功")
	}
	if wheel.Remove("t1") {
		t.Error("重复取消应失败")
	}
}

// TestSchedulerAfterFunc 测试调度器定时执行
func TestSchedulerAfterFunc(t *testing.T) {
	s := NewScheduler(5*time.Millisecond, 64, 2)
	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer s.Stop()

	var fired atomic.Int32
	done := make(chan struct{})
	s.AfterFunc(20*time.Millisecond, func() {
		fired.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("定时任务未在1秒内执行")
	}
	if fired.Load() != 1 {
		t.Errorf("期望执行1次, 实际 = %d", fired.Load())
	}
}

// TestSchedulerStopTimer 测试取消后不再执行
func TestSchedulerStopTimer(t *testing.T) {
	s := NewScheduler(5*time.Millisecond, 64, 2)
	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer s.Stop()

	var fired atomic.Int32
	timer := s.AfterFunc(30*time.Millisecond, func() { fired.Add(1) })
	if !timer.Stop() {
		t.Fatal("期望取消成功")
	}

	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("已取消的任务不应执行")
	}
}

// TestSchedulerPanicRecovered 测试任务 panic 不影响后续任务
func TestSchedulerPanicRecovered(t *testing.T) {
	s := NewScheduler(5*time.Millisecond, 64, 1)
	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer s.Stop()

	done := make(chan struct{})
	_ = s.Schedule(NewTask("boom", "", func(context.Context) error { panic("boom") }), 5*time.Millisecond)
	_ = s.Schedule(NewTask("ok", "", func(context.Context) error { close(done); return nil }), 20*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panic 之后的任务未执行")
	}
}

// TestSchedulerNotRunning 测试未启动时的行为
func TestSchedulerNotRunning(t *testing.T) {
	s := NewScheduler(5*time.Millisecond, 64, 1)

	if err := s.Schedule(NewTask("t1", "", nil), time.Millisecond); err == nil {
		t.Error("未启动时添加任务应返回错误")
	}

	done := make(chan struct{})
	s.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("未启动时 AfterFunc 应退化为标准定时器")
	}
}
