package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"mushroom-automation/internal/clock"
	"mushroom-automation/internal/models"

	"go.uber.org/zap"
)

// TickFunc 单个环境的一次评估；reading 为最近一次读数（可能为 nil）
// fresh 表示该读数自上次 tick 以来首次交付，只有新读数才需要入库
type TickFunc func(ctx context.Context, environmentID string, reading *models.SensorReading, fresh bool, now time.Time) error

// Config 调度配置
type Config struct {
	DefaultInterval time.Duration
	QueueSize       int
}

// Scheduler 每个环境一个 goroutine：通过带缓冲通道接收读数，保留最新读数，按环境间隔执行 tick
// 同一环境的 tick 严格串行，不同环境并行
type Scheduler struct {
	tick   TickFunc
	clock  clock.Clock
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	workers map[string]*worker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type worker struct {
	environmentID string
	interval      time.Duration
	readings      chan *models.SensorReading
	intervals     chan time.Duration
	trigger       chan struct{}
	cancel        context.CancelFunc
	done          chan struct{}
}

// New 创建调度器
func New(tick TickFunc, clk clock.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Scheduler{
		tick:    tick,
		clock:   clk,
		config:  cfg,
		logger:  logger,
		workers: make(map[string]*worker),
	}
}

// Start 启动调度器（已注册的环境开始运行）
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, w := range s.workers {
		s.launch(w)
	}
	s.logger.Info("Scheduler started",
		zap.Int("environments", len(s.workers)),
		zap.Duration("default_interval", s.config.DefaultInterval),
	)
	return nil
}

// Stop 停止所有环境并等待进行中的 tick 结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()
	s.logger.Info("Scheduler stopped")
}

// Register 注册环境；已注册时只更新间隔。interval<=0 使用默认间隔
func (s *Scheduler) Register(environmentID string, interval time.Duration) {
	if interval <= 0 {
		interval = s.config.DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.workers[environmentID]; ok {
		if w.interval != interval {
			w.interval = interval
			select {
			case w.intervals <- interval:
			default:
				// 旧值还未被读取，替换掉
				select {
				case <-w.intervals:
				default:
				}
				w.intervals <- interval
			}
		}
		return
	}

	w := &worker{
		environmentID: environmentID,
		interval:      interval,
		readings:      make(chan *models.SensorReading, s.config.QueueSize),
		intervals:     make(chan time.Duration, 1),
		trigger:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	s.workers[environmentID] = w
	if s.ctx != nil {
		s.launch(w)
	}
	s.logger.Info("Environment registered",
		zap.String("environment_id", environmentID),
		zap.Duration("interval", interval),
	)
}

// Unregister 注销环境并等待其 goroutine 退出
func (s *Scheduler) Unregister(environmentID string) {
	s.mu.Lock()
	w, ok := s.workers[environmentID]
	if ok {
		delete(s.workers, environmentID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	s.logger.Info("Environment unregistered", zap.String("environment_id", environmentID))
}

// Submit 投递读数；队列满时丢弃最旧的读数
func (s *Scheduler) Submit(environmentID string, reading *models.SensorReading) error {
	s.mu.Lock()
	w, ok := s.workers[environmentID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: environment %s is not scheduled", models.ErrNotFound, environmentID)
	}

	for {
		select {
		case w.readings <- reading:
			return nil
		default:
		}
		select {
		case <-w.readings:
			s.logger.Debug("Reading queue full, dropping oldest",
				zap.String("environment_id", environmentID),
			)
		default:
		}
	}
}

// Trigger 立即执行一次 tick（不影响定时）
func (s *Scheduler) Trigger(environmentID string) error {
	s.mu.Lock()
	w, ok := s.workers[environmentID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: environment %s is not scheduled", models.ErrNotFound, environmentID)
	}
	select {
	case w.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Registered 已注册的环境
func (s *Scheduler) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.workers))
	for id := range s.workers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// launch 启动环境 goroutine（调用方持有 s.mu）
func (s *Scheduler) launch(w *worker) {
	ctx, cancel := context.WithCancel(s.ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	interval := w.interval
	done := w.done
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		s.run(ctx, w, interval)
	}()
}

func (s *Scheduler) run(ctx context.Context, w *worker, interval time.Duration) {
	var latest *models.SensorReading
	fresh := false
	keep := func(r *models.SensorReading) {
		if r == nil {
			return
		}
		if latest == nil || !r.Timestamp.Before(latest.Timestamp) {
			latest = r
			fresh = true
		}
	}
	drain := func() {
		for {
			select {
			case r := <-w.readings:
				keep(r)
			default:
				return
			}
		}
	}

	timer := s.clock.After(interval)
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-w.readings:
			keep(r)
		case d := <-w.intervals:
			interval = d
			timer = s.clock.After(interval)
		case <-w.trigger:
			drain()
			s.runTick(ctx, w.environmentID, latest, fresh)
			fresh = false
		case <-timer:
			drain()
			s.runTick(ctx, w.environmentID, latest, fresh)
			fresh = false
			timer = s.clock.After(interval)
		}
	}
}

// runTick 执行一次 tick；panic 被恢复并记录，不影响其他环境
func (s *Scheduler) runTick(ctx context.Context, environmentID string, reading *models.SensorReading, fresh bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Tick panicked",
				zap.String("environment_id", environmentID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if err := s.tick(ctx, environmentID, reading, fresh, s.clock.Now()); err != nil {
		s.logger.Error("Tick failed",
			zap.String("environment_id", environmentID),
			zap.Error(err),
		)
	}
}
