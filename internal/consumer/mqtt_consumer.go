package consumer

import (
	"context"
	"fmt"

	mqttcommon "mushroom-automation/common/mqtt"
	rediscommon "mushroom-automation/common/redis"
	"mushroom-automation/internal/clock"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SensorStream 传感器读数流
const SensorStream = "mushroom:sensor:stream"

// DefaultStreamMaxLen 读数流默认保留长度
const DefaultStreamMaxLen = 10000

// MQTTConfig MQTT 传感器消费配置
type MQTTConfig struct {
	TopicPrefix  string
	QoS          byte
	Stream       string
	StreamMaxLen int64
}

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 订阅传感器主题
// 配置了 Redis 时转发到 Redis Streams，否则直接提交给调度器
type MQTTConsumer struct {
	mqttClient  Subscriber
	redisClient *redis.Client
	sink        ReadingSink
	prefix      string
	qos         byte
	stream      string
	maxLen      int64
	clock       clock.Clock
	logger      *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	mqttClient Subscriber,
	cfg MQTTConfig,
	redisClient *redis.Client,
	sink ReadingSink,
	clk clock.Clock,
	logger *zap.Logger,
) *MQTTConsumer {
	if cfg.Stream == "" {
		cfg.Stream = SensorStream
	}
	if cfg.StreamMaxLen == 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}
	return &MQTTConsumer{
		mqttClient:  mqttClient,
		redisClient: redisClient,
		sink:        sink,
		prefix:      cfg.TopicPrefix,
		qos:         cfg.QoS,
		stream:      cfg.Stream,
		maxLen:      cfg.StreamMaxLen,
		clock:       clk,
		logger:      logger,
	}
}

// Start 启动消费者（阻塞直到 ctx 取消）
func (c *MQTTConsumer) Start(ctx context.Context) error {
	topic := mqttcommon.SensorWildcard(c.prefix)
	if err := c.mqttClient.Subscribe(topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to sensor topic: %w", err)
	}

	c.logger.Info("MQTT sensor consumer started",
		zap.String("topic", topic),
		zap.Bool("via_stream", c.redisClient != nil),
	)

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop() error {
	if err := c.mqttClient.Unsubscribe(mqttcommon.SensorWildcard(c.prefix)); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("MQTT sensor consumer stopped")
	return nil
}

// handleMessage 处理传感器报文
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	// 1. 从主题中提取环境ID
	environmentID, err := mqttcommon.EnvironmentFromTopic(c.prefix, topic)
	if err != nil {
		return err
	}

	// 2. 解析报文
	reading, err := ParseSensorPayload(environmentID, payload, c.clock.Now())
	if err != nil {
		c.logger.Warn("Dropping invalid sensor payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return err
	}

	// 3. 未启用 Redis 时直接提交
	if c.redisClient == nil {
		if err := c.sink.Submit(environmentID, reading); err != nil {
			return fmt.Errorf("failed to submit reading: %w", err)
		}
		return nil
	}

	// 4. 发布到 Redis Streams
	ctx := context.Background()
	if _, err := rediscommon.PublishJSONToStream(ctx, c.redisClient, c.stream, c.maxLen, reading); err != nil {
		return fmt.Errorf("failed to publish reading to stream: %w", err)
	}

	c.logger.Debug("Published sensor reading to Redis Streams",
		zap.String("environment_id", environmentID),
		zap.String("stream", c.stream),
	)
	return nil
}
