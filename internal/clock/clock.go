package clock

import (
	"sync"
	"time"
)

// Clock 时间源；延迟通过 After 返回的通道实现，调用方与 ctx.Done() 一起 select
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real 系统时钟
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake 测试用时钟
// AutoAdvance 为 true 时，After 立即把时间推进 d 并返回已触发的通道
type Fake struct {
	mu          sync.Mutex
	now         time.Time
	waiters     []waiter
	AutoAdvance bool
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFake 创建测试时钟
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if f.AutoAdvance && d > 0 {
		f.now = f.now.Add(d)
	}
	deadline := f.now.Add(d)
	if !deadline.After(f.now) || f.AutoAdvance {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, waiter{deadline: deadline, ch: ch})
	return ch
}

// Advance 推进时间并触发到期的等待者
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.deadline.After(f.now) {
			w.ch <- f.now
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
}

// Set 设置当前时间（只能向前）
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	d := t.Sub(f.now)
	f.mu.Unlock()
	if d > 0 {
		f.Advance(d)
	}
}

// Waiters 当前挂起的等待者数量
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}
