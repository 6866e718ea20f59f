package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqttcommon "mushroom-automation/common/mqtt"
	"mushroom-automation/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBroker 内存 MQTT：发布命令后按 reply 回送确认
type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]mqttcommon.MessageHandler
	published []publishedMessage
	reply     func(cmd Command) *Ack
}

type publishedMessage struct {
	topic   string
	payload []byte
}

func newFakeBroker(reply func(cmd Command) *Ack) *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqttcommon.MessageHandler), reply: reply}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqttcommon.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.handlers, t)
	}
	return nil
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload []byte) error {
	b.mu.Lock()
	b.published = append(b.published, publishedMessage{topic: topic, payload: payload})
	handler := b.handlers["mushroom/+/actuators/ack"]
	b.mu.Unlock()

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return err
	}
	if b.reply == nil || handler == nil {
		return nil
	}
	ack := b.reply(cmd)
	if ack == nil {
		return nil
	}
	data, _ := json.Marshal(ack)
	ackTopic := strings.Replace(topic, "/actuators/"+string(cmd.Actuator)+"/set", "/actuators/ack", 1)
	go func() { _ = handler(ackTopic, data) }()
	return nil
}

func (b *fakeBroker) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, p := range b.published {
		out = append(out, p.topic)
	}
	return out
}

func TestMQTTController_AckedCommand(t *testing.T) {
	broker := newFakeBroker(func(cmd Command) *Ack {
		return &Ack{CommandID: cmd.CommandID, Success: true}
	})
	c := NewMQTTController(broker, "mushroom", 1, time.Second, zap.NewNop())
	require.NoError(t, c.Start())

	intensity := 60.0
	err := c.SetActuator(context.Background(), Command{
		CommandID:     "cmd-1",
		EnvironmentID: "env-1",
		Actuator:      models.ActuatorHumidifier,
		On:            true,
		Intensity:     &intensity,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"mushroom/env-1/actuators/humidifier/set"}, broker.topics())

	var sent Command
	require.NoError(t, json.Unmarshal(broker.published[0].payload, &sent))
	assert.Equal(t, "cmd-1", sent.CommandID)
	assert.True(t, sent.On)
	assert.Equal(t, 60.0, *sent.Intensity)
}

func TestMQTTController_DeviceRejects(t *testing.T) {
	broker := newFakeBroker(func(cmd Command) *Ack {
		return &Ack{CommandID: cmd.CommandID, Success: false, Error: "relay stuck"}
	})
	c := NewMQTTController(broker, "mushroom", 1, time.Second, zap.NewNop())
	require.NoError(t, c.Start())

	err := c.SetActuator(context.Background(), Command{EnvironmentID: "env-1", Actuator: models.ActuatorFan, On: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDispatchFailure))
	assert.Contains(t, err.Error(), "relay stuck")
}

func TestMQTTController_AckTimeout(t *testing.T) {
	broker := newFakeBroker(func(Command) *Ack { return nil })
	c := NewMQTTController(broker, "mushroom", 1, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, c.Start())

	err := c.SetActuator(context.Background(), Command{EnvironmentID: "env-1", Actuator: models.ActuatorFan, On: true})
	assert.True(t, errors.Is(err, models.ErrDispatchFailure))
	assert.True(t, errors.Is(err, ErrAckTimeout))

	// 迟到的确认被忽略
	handler := broker.handlers["mushroom/+/actuators/ack"]
	assert.NoError(t, handler("mushroom/env-1/actuators/ack", []byte(`{"command_id":"late","success":true}`)))
}

func TestMQTTController_ContextCancelled(t *testing.T) {
	broker := newFakeBroker(func(Command) *Ack { return nil })
	c := NewMQTTController(broker, "mushroom", 1, time.Minute, zap.NewNop())
	require.NoError(t, c.Start())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.SetActuator(ctx, Command{EnvironmentID: "env-1", Actuator: models.ActuatorLight})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMQTTController_NotStarted(t *testing.T) {
	c := NewMQTTController(newFakeBroker(nil), "mushroom", 1, time.Second, zap.NewNop())
	err := c.SetActuator(context.Background(), Command{EnvironmentID: "env-1", Actuator: models.ActuatorLight})
	assert.True(t, errors.Is(err, models.ErrDispatchFailure))
}

func TestMQTTController_MalformedAck(t *testing.T) {
	broker := newFakeBroker(nil)
	c := NewMQTTController(broker, "mushroom", 1, time.Second, zap.NewNop())
	require.NoError(t, c.Start())

	assert.Error(t, c.handleAck("mushroom/env-1/actuators/ack", []byte("not json")))
	assert.Error(t, c.handleAck("mushroom/env-1/actuators/ack", []byte(`{"success":true}`)))

	require.NoError(t, c.Stop())
	assert.Empty(t, broker.handlers)
}

func TestLogController(t *testing.T) {
	c := NewLogController(zap.NewNop())
	assert.NoError(t, c.SetActuator(context.Background(), Command{EnvironmentID: "env-1", Actuator: models.ActuatorMister, On: true}))
}
