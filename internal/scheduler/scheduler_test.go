package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mushroom-automation/internal/clock"
	"mushroom-automation/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type tickCall struct {
	environmentID string
	reading       *models.SensorReading
	fresh         bool
	now           time.Time
}

// recorder 记录 tick 调用
type recorder struct {
	mu    sync.Mutex
	calls []tickCall
	ch    chan tickCall
	panic map[string]bool
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan tickCall, 64), panic: make(map[string]bool)}
}

func (r *recorder) tick(_ context.Context, environmentID string, reading *models.SensorReading, fresh bool, now time.Time) error {
	r.mu.Lock()
	shouldPanic := r.panic[environmentID]
	r.panic[environmentID] = false
	r.calls = append(r.calls, tickCall{environmentID, reading, fresh, now})
	r.mu.Unlock()

	r.ch <- tickCall{environmentID, reading, fresh, now}
	if shouldPanic {
		panic("boom")
	}
	return nil
}

func (r *recorder) next(t *testing.T) tickCall {
	t.Helper()
	select {
	case c := <-r.ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}
	return tickCall{}
}

func reading(v float64, at time.Time) *models.SensorReading {
	return &models.SensorReading{
		EnvironmentID: "env-1",
		Timestamp:     at,
		Values:        map[models.Parameter]float64{models.ParamHumidity: v},
	}
}

func TestScheduler_TicksOnIntervalWithLatestReading(t *testing.T) {
	clk := clock.NewFake(t0)
	rec := newRecorder()
	s := New(rec.tick, clk, Config{DefaultInterval: time.Minute}, zap.NewNop())
	s.Register("env-1", 0)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Submit("env-1", reading(70, t0)))
	require.NoError(t, s.Submit("env-1", reading(75, t0.Add(10*time.Second))))
	require.NoError(t, s.Submit("env-1", reading(60, t0.Add(-10*time.Second)))) // 乱序的旧读数被忽略

	clk.Advance(time.Minute)
	call := rec.next(t)
	assert.Equal(t, "env-1", call.environmentID)
	require.NotNil(t, call.reading)
	assert.Equal(t, 75.0, call.reading.Values[models.ParamHumidity])
	assert.True(t, call.fresh)
	assert.Equal(t, t0.Add(time.Minute), call.now)

	// 没有新读数时下一个 tick 仍使用保留的最新读数，但不再标记为新读数
	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	clk.Advance(time.Minute)
	call = rec.next(t)
	assert.Equal(t, 75.0, call.reading.Values[models.ParamHumidity])
	assert.False(t, call.fresh)

	// 乱序的旧读数不算新读数
	require.NoError(t, s.Submit("env-1", reading(50, t0)))
	require.NoError(t, s.Trigger("env-1"))
	call = rec.next(t)
	assert.Equal(t, 75.0, call.reading.Values[models.ParamHumidity])
	assert.False(t, call.fresh)
}

func TestScheduler_PerEnvironmentInterval(t *testing.T) {
	clk := clock.NewFake(t0)
	rec := newRecorder()
	s := New(rec.tick, clk, Config{DefaultInterval: time.Minute}, zap.NewNop())
	s.Register("fast", 30*time.Second)
	s.Register("slow", 0)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return clk.Waiters() == 2 }, time.Second, time.Millisecond)
	clk.Advance(30 * time.Second)
	call := rec.next(t)
	assert.Equal(t, "fast", call.environmentID)
	assert.Nil(t, call.reading)

	require.Eventually(t, func() bool { return clk.Waiters() == 2 }, time.Second, time.Millisecond)
	clk.Advance(30 * time.Second)
	got := map[string]bool{rec.next(t).environmentID: true, rec.next(t).environmentID: true}
	assert.Equal(t, map[string]bool{"fast": true, "slow": true}, got)
}

func TestScheduler_PanicIsolated(t *testing.T) {
	clk := clock.NewFake(t0)
	rec := newRecorder()
	rec.panic["env-bad"] = true
	s := New(rec.tick, clk, Config{}, zap.NewNop())
	s.Register("env-bad", 0)
	s.Register("env-good", 0)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.Trigger("env-bad"))
	assert.Equal(t, "env-bad", rec.next(t).environmentID)

	require.NoError(t, s.Trigger("env-good"))
	assert.Equal(t, "env-good", rec.next(t).environmentID)

	// panic 之后该环境继续运行
	require.NoError(t, s.Trigger("env-bad"))
	assert.Equal(t, "env-bad", rec.next(t).environmentID)
}

func TestScheduler_QueueOverflowKeepsNewest(t *testing.T) {
	clk := clock.NewFake(t0)
	rec := newRecorder()
	s := New(rec.tick, clk, Config{QueueSize: 1}, zap.NewNop())
	s.Register("env-1", time.Hour)

	// 未启动时读数排队，溢出时丢弃最旧的
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Submit("env-1", reading(float64(70+i), t0.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.Trigger("env-1"))
	call := rec.next(t)
	require.NotNil(t, call.reading)
	assert.Equal(t, 74.0, call.reading.Values[models.ParamHumidity])
}

func TestScheduler_UnregisterAndErrors(t *testing.T) {
	clk := clock.NewFake(t0)
	rec := newRecorder()
	s := New(rec.tick, clk, Config{}, zap.NewNop())
	s.Register("env-1", 0)
	s.Register("env-2", 0)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()))
	assert.Equal(t, []string{"env-1", "env-2"}, s.Registered())

	s.Unregister("env-1")
	assert.Equal(t, []string{"env-2"}, s.Registered())

	err := s.Submit("env-1", reading(70, t0))
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.True(t, errors.Is(s.Trigger("env-1"), models.ErrNotFound))

	// 注销不存在的环境是空操作
	s.Unregister("missing")
}

func TestScheduler_StopWaitsForWorkers(t *testing.T) {
	clk := clock.NewFake(t0)
	rec := newRecorder()
	s := New(rec.tick, clk, Config{}, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))

	s.Register("env-late", 0)
	require.NoError(t, s.Trigger("env-late"))
	assert.Equal(t, "env-late", rec.next(t).environmentID)

	s.Stop()
	s.Stop()
}
