package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqttcommon "mushroom-automation/common/mqtt"
	"mushroom-automation/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PubSub MQTT 发布/订阅能力（common/mqtt.Client 实现）
type PubSub interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// ErrAckTimeout 设备在超时内未确认
var ErrAckTimeout = errors.New("actuator ack timeout")

// MQTTController 通过 MQTT 下发执行器命令并等待确认
// 命令主题：{prefix}/{environment_id}/actuators/{type}/set
// 确认主题：{prefix}/{environment_id}/actuators/ack
type MQTTController struct {
	client     PubSub
	prefix     string
	qos        byte
	ackTimeout time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]chan Ack
	started bool
}

// NewMQTTController 创建 MQTT 执行器控制器
func NewMQTTController(client PubSub, prefix string, qos byte, ackTimeout time.Duration, logger *zap.Logger) *MQTTController {
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	return &MQTTController{
		client:     client,
		prefix:     prefix,
		qos:        qos,
		ackTimeout: ackTimeout,
		logger:     logger,
		pending:    make(map[string]chan Ack),
	}
}

// Start 订阅确认主题
func (c *MQTTController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.client.Subscribe(mqttcommon.ActuatorAckWildcard(c.prefix), c.qos, c.handleAck); err != nil {
		return fmt.Errorf("failed to subscribe actuator acks: %w", err)
	}
	c.started = true
	c.logger.Info("Actuator controller started",
		zap.String("ack_topic", mqttcommon.ActuatorAckWildcard(c.prefix)),
	)
	return nil
}

// Stop 取消订阅
func (c *MQTTController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	return c.client.Unsubscribe(mqttcommon.ActuatorAckWildcard(c.prefix))
}

// SetActuator 下发命令并等待设备确认
func (c *MQTTController) SetActuator(ctx context.Context, cmd Command) error {
	if cmd.CommandID == "" {
		cmd.CommandID = uuid.NewString()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal actuator command: %w", err)
	}

	ackCh := make(chan Ack, 1)
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return fmt.Errorf("%w: actuator controller not started", models.ErrDispatchFailure)
	}
	c.pending[cmd.CommandID] = ackCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.CommandID)
		c.mu.Unlock()
	}()

	topic := mqttcommon.ActuatorSetTopic(c.prefix, cmd.EnvironmentID, string(cmd.Actuator))
	if err := c.client.Publish(topic, c.qos, false, payload); err != nil {
		return fmt.Errorf("%w: %v", models.ErrDispatchFailure, err)
	}

	c.logger.Debug("Actuator command published",
		zap.String("topic", topic),
		zap.String("command_id", cmd.CommandID),
		zap.Bool("state", cmd.On),
	)

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case ack := <-ackCh:
		if !ack.Success {
			return fmt.Errorf("%w: device rejected command %s: %s", models.ErrDispatchFailure, cmd.CommandID, ack.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %w (command %s)", models.ErrDispatchFailure, ErrAckTimeout, cmd.CommandID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleAck 处理设备确认
func (c *MQTTController) handleAck(topic string, payload []byte) error {
	var ack Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("failed to unmarshal actuator ack from %s: %w", topic, err)
	}
	if ack.CommandID == "" {
		return fmt.Errorf("actuator ack without command_id on %s", topic)
	}

	c.mu.Lock()
	ch, ok := c.pending[ack.CommandID]
	c.mu.Unlock()
	if !ok {
		// 超时后迟到的确认
		c.logger.Debug("Ack for unknown command",
			zap.String("topic", topic),
			zap.String("command_id", ack.CommandID),
		)
		return nil
	}

	select {
	case ch <- ack:
	default:
	}
	return nil
}
