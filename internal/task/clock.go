package task

import "time"

// Timer 可取消的定时器
type Timer interface {
	// Stop 在触发前取消，返回是否成功取消
	Stop() bool
}

// Clock 时间来源，测试中替换为手动时钟
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Wall 系统时钟
type Wall struct{}

func (Wall) Now() time.Time { return time.Now() }

func (Wall) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
