package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mushroom-automation/common/database"
	mqttcommon "mushroom-automation/common/mqtt"
	rediscommon "mushroom-automation/common/redis"
	"mushroom-automation/internal/actuator"
	"mushroom-automation/internal/alerts"
	"mushroom-automation/internal/cache"
	"mushroom-automation/internal/catalog"
	"mushroom-automation/internal/clock"
	"mushroom-automation/internal/config"
	"mushroom-automation/internal/consumer"
	"mushroom-automation/internal/dispatcher"
	"mushroom-automation/internal/environment"
	"mushroom-automation/internal/evaluator"
	"mushroom-automation/internal/models"
	"mushroom-automation/internal/phase"
	"mushroom-automation/internal/repository"
	"mushroom-automation/internal/scheduler"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MQTTClient MQTT 发布/订阅能力（common/mqtt.Client 实现）
type MQTTClient interface {
	actuator.PubSub
}

// Dependencies 外部依赖；为空的字段按配置创建或禁用
type Dependencies struct {
	Clock   clock.Clock
	Catalog *catalog.Catalog
	Store   *repository.Store
	Redis   *redis.Client
	MQTT    MQTTClient
	// Controller 非空时优先于 MQTT 执行器控制
	Controller actuator.Controller
	Scripts    dispatcher.ScriptRunner
}

// AutomationService 自动化服务（整合各层）
type AutomationService struct {
	config *config.Config
	clock  clock.Clock
	logger *zap.Logger

	store       *repository.Store
	catalog     *catalog.Catalog
	redisClient *redis.Client

	// 各层组件
	environments   *environment.Manager
	ruleState      cache.RuleState
	memoryState    *cache.MemoryRuleState
	snapshots      *cache.SnapshotCache
	evaluator      *evaluator.Evaluator
	alerts         *alerts.Manager
	controller     actuator.Controller
	mqttController *actuator.MQTTController
	dispatcher     *dispatcher.Dispatcher
	transitioner   *phase.Transitioner
	monitor        *phase.Monitor
	scheduler      *scheduler.Scheduler
	mqttConsumer   *consumer.MQTTConsumer
	streamConsumer *consumer.StreamConsumer

	closers []func() error

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewAutomationService 按配置连接外部依赖并创建服务
func NewAutomationService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*AutomationService, error) {
	deps := Dependencies{}
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// 1. 存储
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		db, err := database.NewPostgresDB(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if err := repository.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		deps.Store = repository.NewPostgresStore(db, logger)
	default:
		deps.Store = repository.NewMemoryStore()
	}
	closers = append(closers, deps.Store.Close)

	// 2. Redis
	if cfg.RedisEnabled {
		redisClient := rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, redisClient); err != nil {
			redisClient.Close()
			closeAll()
			return nil, err
		}
		deps.Redis = redisClient
		closers = append(closers, redisClient.Close)
	}

	// 3. MQTT
	if cfg.MQTTEnabled {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		deps.MQTT = mqttClient
		closers = append(closers, func() error {
			mqttClient.Disconnect()
			return nil
		})
	}

	svc, err := New(cfg, deps, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	svc.closers = closers
	return svc, nil
}

// New 使用给定依赖创建服务
func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*AutomationService, error) {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Store == nil {
		deps.Store = repository.NewMemoryStore()
	}

	s := &AutomationService{
		config:      cfg,
		clock:       deps.Clock,
		logger:      logger,
		store:       deps.Store,
		catalog:     deps.Catalog,
		redisClient: deps.Redis,
	}

	// 1. 环境状态
	s.environments = environment.NewManager(s.store.Environments, s.catalog, s.clock, logger)

	// 2. 规则运行期状态与快照缓存
	if deps.Redis != nil {
		s.ruleState = cache.NewRedisRuleState(deps.Redis, cfg.Automation.StateKeyPrefix, cfg.Automation.StateTTL, logger)
		s.snapshots = cache.NewSnapshotCache(deps.Redis, cfg.Cache.SnapshotKeyPrefix, cfg.Cache.SnapshotTTL, logger)
	} else {
		s.memoryState = cache.NewMemoryRuleState(cfg.Automation.StateTTL)
		s.ruleState = s.memoryState
	}

	// 3. 规则引擎
	s.evaluator = evaluator.NewEvaluator(s.store.Rules, s.ruleState, logger)
	s.evaluator.SetMaxReadingAge(cfg.Alerts.StaleAfter)

	// 4. 告警
	policy := alerts.DefaultPolicy()
	if cfg.Alerts.EscalationDelay > 0 {
		policy.DefaultEscalationDelay = cfg.Alerts.EscalationDelay
	}
	s.alerts = alerts.NewManager(s.store.Alerts, policy, s.clock, logger)
	s.alerts.RegisterNotifier(alerts.ChannelLog, alerts.NewLogNotifier(logger))
	webhook := alerts.NewWebhookNotifier(alerts.WebhookConfig{
		Endpoints: map[alerts.Channel]string{
			alerts.ChannelWebhook: cfg.Alerts.WebhookURL,
			alerts.ChannelEmail:   cfg.Alerts.EmailRelayURL,
			alerts.ChannelSMS:     cfg.Alerts.SMSRelayURL,
		},
		Timeout:    cfg.Alerts.NotifyTimeout,
		RetryCount: cfg.Alerts.NotifyRetryCount,
	}, logger)
	for _, ch := range webhook.Channels() {
		s.alerts.RegisterNotifier(ch, webhook)
	}
	if s.snapshots != nil {
		s.alerts.SetSnapshotCache(s.snapshots)
	}

	// 5. 执行器控制
	switch {
	case deps.Controller != nil:
		s.controller = deps.Controller
	case deps.MQTT != nil:
		s.mqttController = actuator.NewMQTTController(deps.MQTT, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, cfg.Automation.AckTimeout, logger)
		s.controller = s.mqttController
	default:
		s.controller = actuator.NewLogController(logger)
	}

	scripts := deps.Scripts
	if scripts == nil {
		if cfg.Automation.ScriptDir != "" {
			scripts = dispatcher.NewExecScriptRunner(cfg.Automation.ScriptDir, cfg.Automation.ScriptTimeout, logger)
		} else {
			scripts = dispatcher.NewDisabledScriptRunner(logger)
		}
	}

	// 6. 动作调度
	s.dispatcher = dispatcher.NewDispatcher(
		s.environments,
		s.controller,
		s.alerts,
		s.store.ActuatorLogs,
		scripts,
		s.clock,
		dispatcher.Config{
			MaxRetryAttempts: cfg.Automation.MaxRetryAttempts,
			MaxRetryDelay:    cfg.Automation.MaxRetryDelay,
		},
		logger,
	)

	// 7. 阶段推进与阈值监控
	s.transitioner = phase.NewTransitioner(s.catalog, s.environments, s.alerts, logger)
	s.monitor = phase.NewMonitor(s.catalog, s.alerts, phase.MonitorConfig{
		AutoResolve: cfg.Alerts.AutoResolve,
		StaleAfter:  cfg.Alerts.StaleAfter,
	}, logger)

	// 8. 调度器
	s.scheduler = scheduler.New(s.tick, s.clock, scheduler.Config{
		DefaultInterval: cfg.Automation.TickInterval,
		QueueSize:       cfg.Automation.QueueSize,
	}, logger)

	// 9. 读数接入
	if deps.MQTT != nil {
		s.mqttConsumer = consumer.NewMQTTConsumer(deps.MQTT, consumer.MQTTConfig{
			TopicPrefix:  cfg.MQTT.TopicPrefix,
			QoS:          cfg.MQTT.QoS,
			Stream:       cfg.Stream.Name,
			StreamMaxLen: cfg.Stream.MaxLen,
		}, deps.Redis, s.scheduler, s.clock, logger)
	}
	if deps.Redis != nil {
		s.streamConsumer = consumer.NewStreamConsumer(deps.Redis, consumer.StreamConfig{
			Stream:   cfg.Stream.Name,
			Group:    cfg.Stream.Group,
			Consumer: cfg.Stream.Consumer,
		}, s.scheduler, logger)
	}

	return s, nil
}

// Start 启动服务
func (s *AutomationService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("automation service already started")
	}

	s.logger.Info("Starting automation service",
		zap.String("storage_backend", s.config.StorageBackend),
		zap.Bool("redis_enabled", s.redisClient != nil),
		zap.Bool("mqtt_enabled", s.mqttConsumer != nil),
	)

	// 1. 注册已有环境
	envs, err := s.environments.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list environments: %w", err)
	}
	for _, env := range envs {
		s.scheduler.Register(env.ID, env.TickInterval)
	}

	// 2. 执行器确认订阅
	if s.mqttController != nil {
		if err := s.mqttController.Start(); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// 3. 调度器
	if err := s.scheduler.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// 4. 读数接入
	if s.streamConsumer != nil {
		s.goRun("stream consumer", func() error { return s.streamConsumer.Start(runCtx) })
	}
	if s.mqttConsumer != nil {
		s.goRun("mqtt consumer", func() error { return s.mqttConsumer.Start(runCtx) })
	}

	// 5. 周期维护：告警升级、状态清理
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.maintain(runCtx)
	}()

	s.started = true
	return nil
}

func (s *AutomationService) goRun(name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			s.logger.Error("Background component exited with error",
				zap.String("component", name),
				zap.Error(err),
			)
		}
	}()
}

// Stop 停止服务
func (s *AutomationService) Stop() error {
	s.mu.Lock()
	started := s.started
	cancel := s.cancel
	s.started = false
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("Stopping automation service")

	if started {
		if s.mqttConsumer != nil {
			s.mqttConsumer.Stop()
		}
		cancel()
		s.scheduler.Stop()
		s.wg.Wait()
		if s.mqttController != nil {
			if err := s.mqttController.Stop(); err != nil {
				s.logger.Error("Failed to stop actuator controller", zap.Error(err))
			}
		}
	}

	// 等待进行中的通知投递
	s.alerts.Wait()

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error("Failed to close resource", zap.Error(err))
		}
	}
	s.closers = nil
	return nil
}

// maintain 周期执行告警升级和内存状态清理
func (s *AutomationService) maintain(ctx context.Context) {
	interval := s.config.Alerts.EscalationInterval
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(interval):
		}

		now := s.clock.Now()
		if n, err := s.alerts.Escalate(ctx, now); err != nil {
			s.logger.Error("Failed to escalate alerts", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("Alerts escalated", zap.Int("count", n))
		}
		if s.memoryState != nil {
			if n := s.memoryState.Sweep(now); n > 0 {
				s.logger.Debug("Expired rule state swept", zap.Int("count", n))
			}
		}
	}
}

// tick 单个环境的一次评估：读数 → 规则评估 → 动作调度 → 阈值监控 → 阶段检查
func (s *AutomationService) tick(ctx context.Context, environmentID string, reading *models.SensorReading, fresh bool, now time.Time) error {
	// 1. 新读数入库；重复 tick 时保留的旧读数不再写入
	if reading != nil && fresh {
		if err := s.store.Readings.Append(ctx, reading); err != nil {
			s.logger.Error("Failed to persist reading",
				zap.String("environment_id", environmentID),
				zap.Error(err),
			)
			// 继续处理，不中断
		}
		if _, err := s.environments.ApplyReading(ctx, reading); err != nil {
			return fmt.Errorf("failed to apply reading: %w", err)
		}
	}

	env, err := s.environments.Get(ctx, environmentID)
	if err != nil {
		return err
	}

	// 2. 维护中的环境不执行自动化
	var triggered []*models.AutomationRule
	if env.Status != models.EnvironmentMaintenance {
		results, err := s.evaluator.Evaluate(ctx, env, reading, now)
		if err != nil {
			return err
		}
		triggered = evaluator.Triggered(results)

		// 3. 按优先级顺序调度，同一 tick 内执行器先到先得
		claims := dispatcher.NewClaims()
		for _, rule := range triggered {
			outcomes := s.dispatcher.Dispatch(ctx, rule, environmentID, claims)
			s.logOutcomes(rule, environmentID, outcomes)
		}

		if len(triggered) > 0 {
			if env, err = s.environments.Get(ctx, environmentID); err != nil {
				return err
			}
		}
	}

	// 4. 阈值监控
	if err := s.monitor.Check(ctx, env, reading, triggered, now); err != nil {
		s.logger.Error("Threshold monitor failed",
			zap.String("environment_id", environmentID),
			zap.Error(err),
		)
		// 继续处理，不中断
	}

	// 5. 阶段推进
	result, err := s.transitioner.Check(ctx, env, now)
	if err != nil {
		s.logger.Error("Phase transition check failed",
			zap.String("environment_id", environmentID),
			zap.Error(err),
		)
	} else if result.Advanced {
		if env, err = s.environments.Get(ctx, environmentID); err != nil {
			return err
		}
	}

	// 6. 刷新快照缓存
	if s.snapshots != nil {
		if err := s.snapshots.PutEnvironment(ctx, env); err != nil {
			s.logger.Warn("Failed to cache environment snapshot",
				zap.String("environment_id", environmentID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *AutomationService) logOutcomes(rule *models.AutomationRule, environmentID string, outcomes []dispatcher.ActionOutcome) {
	for _, o := range outcomes {
		if o.Succeeded() {
			continue
		}
		s.logger.Info("Action not applied",
			zap.String("rule_id", rule.ID),
			zap.String("environment_id", environmentID),
			zap.Int("action_index", o.Index),
			zap.String("action_type", string(o.Kind)),
			zap.String("status", string(o.Status)),
			zap.String("reason", o.Reason),
			zap.Error(o.Err),
		)
	}
}
