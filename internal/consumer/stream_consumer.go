package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rediscommon "mushroom-automation/common/redis"
	"mushroom-automation/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	messagesProcessed int64
	messagesSucceeded int64
	messagesFailed    int64
	messagesSkipped   int64 // 环境未注册
	readErrors        int64
	lastProcessTime   time.Time
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	MessagesProcessed int64
	MessagesSucceeded int64
	MessagesFailed    int64
	MessagesSkipped   int64
	ReadErrors        int64
	LastProcessTime   time.Time
}

// GetSnapshot 获取指标快照
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		MessagesProcessed: m.messagesProcessed,
		MessagesSucceeded: m.messagesSucceeded,
		MessagesFailed:    m.messagesFailed,
		MessagesSkipped:   m.messagesSkipped,
		ReadErrors:        m.readErrors,
		LastProcessTime:   m.lastProcessTime,
	}
}

func (m *Metrics) record(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesProcessed++
	m.lastProcessTime = time.Now()
	switch outcome {
	case "succeeded":
		m.messagesSucceeded++
	case "skipped":
		m.messagesSkipped++
	default:
		m.messagesFailed++
	}
}

func (m *Metrics) incrementReadErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrors++
}

// StreamConfig Redis Streams 消费配置
type StreamConfig struct {
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64
	Block     time.Duration
}

// StreamConsumer Redis Streams 读数消费者
type StreamConsumer struct {
	client  *redis.Client
	cfg     StreamConfig
	sink    ReadingSink
	metrics *Metrics
	logger  *zap.Logger
}

// NewStreamConsumer 创建 Redis Streams 消费者
func NewStreamConsumer(client *redis.Client, cfg StreamConfig, sink ReadingSink, logger *zap.Logger) *StreamConsumer {
	if cfg.Stream == "" {
		cfg.Stream = SensorStream
	}
	if cfg.Group == "" {
		cfg.Group = "mushroom-automation"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "automation-1"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	return &StreamConsumer{
		client:  client,
		cfg:     cfg,
		sink:    sink,
		metrics: &Metrics{},
		logger:  logger,
	}
}

// Metrics 返回消费指标
func (c *StreamConsumer) Metrics() MetricsSnapshot {
	return c.metrics.GetSnapshot()
}

// Start 启动消费者（阻塞直到 ctx 取消）
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.client, c.cfg.Stream, c.cfg.Group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Sensor stream consumer started",
		zap.String("stream", c.cfg.Stream),
		zap.String("group", c.cfg.Group),
		zap.String("consumer", c.cfg.Consumer),
	)

	// 先补处理上次退出前未确认的消息
	if err := c.recoverPending(ctx); err != nil {
		c.logger.Warn("Failed to recover pending stream messages", zap.Error(err))
		// 继续处理，不中断
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Sensor stream consumer stopped")
			return nil
		default:
		}

		if err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.metrics.incrementReadErrors()
			c.logger.Error("Failed to consume sensor stream",
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

// recoverPending 处理本消费者名下的待确认消息
func (c *StreamConsumer) recoverPending(ctx context.Context) error {
	for {
		messages, err := rediscommon.ReadPending(ctx, c.client, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer, c.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to read pending messages: %w", err)
		}
		if len(messages) == 0 {
			return nil
		}
		c.logger.Info("Recovering pending stream messages", zap.Int("count", len(messages)))
		c.handleBatch(ctx, messages)
	}
}

// consumeOnce 读取并处理一批消息
func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(ctx, c.client, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer, c.cfg.BatchSize, c.cfg.Block)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}
	c.handleBatch(ctx, messages)
	return nil
}

func (c *StreamConsumer) handleBatch(ctx context.Context, messages []rediscommon.StreamMessage) {
	for _, msg := range messages {
		c.metrics.record(c.processMessage(msg))

		// 无法处理的消息同样确认，避免反复投递
		if err := rediscommon.Ack(ctx, c.client, c.cfg.Stream, c.cfg.Group, msg.ID); err != nil {
			c.logger.Error("Failed to ack stream message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
		}
	}
}

// processMessage 处理单条消息，返回结果分类
func (c *StreamConsumer) processMessage(msg rediscommon.StreamMessage) string {
	if len(msg.Values) == 0 {
		// 待确认期间已被 MAXLEN 裁剪
		return "skipped"
	}
	reading, err := decodeStreamReading(msg.Values)
	if err != nil {
		c.logger.Warn("Dropping malformed stream message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return "failed"
	}

	if err := c.sink.Submit(reading.EnvironmentID, reading); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.logger.Debug("Reading for unregistered environment",
				zap.String("environment_id", reading.EnvironmentID),
				zap.String("message_id", msg.ID),
			)
			return "skipped"
		}
		c.logger.Error("Failed to submit reading",
			zap.String("environment_id", reading.EnvironmentID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return "failed"
	}
	return "succeeded"
}
