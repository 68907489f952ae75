package task

import (
	"testing"
	"time"
)

// TestManualClockOrder 测试按到期顺序触发
func TestManualClockOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	var got []string
	c.AfterFunc(300*time.Millisecond, func() { got = append(got, "b") })
	c.AfterFunc(100*time.Millisecond, func() {
		got = append(got, "a")
		c.AfterFunc(100*time.Millisecond, func() { got = append(got, "a2") })
	})
	stopped := c.AfterFunc(200*time.Millisecond, func() { got = append(got, "x") })
	if !stopped.Stop() {
		t.Fatal("期望取消成功")
	}

	c.Advance(250 * time.Millisecond)
	if len(got) != 2 || got[0] != "a" || got[1] != "a2" {
		t.Fatalf("期望 [a a2], 实际 = %v", got)
	}
	if !c.Now().Equal(start.Add(250 * time.Millisecond)) {
		t.Errorf("时间推进错误: %v", c.Now())
	}

	c.Advance(time.Second)
	if len(got) != 3 || got[2] != "b" {
		t.Fatalf("期望最后触发 b, 实际 = %v", got)
	}
	if c.Pending() != 0 {
		t.Errorf("期望无待触发定时器, 实际 = %d", c.Pending())
	}
}
