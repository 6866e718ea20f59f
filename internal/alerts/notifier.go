package alerts

import (
	"context"
	"time"

	"mushroom-automation/internal/models"

	"go.uber.org/zap"
)

// Message 通知内容
type Message struct {
	AlertID         string               `json:"alert_id"`
	EnvironmentID   string               `json:"environment_id"`
	Type            models.AlertType     `json:"alert_type"`
	Severity        models.AlertSeverity `json:"severity"`
	Title           string               `json:"title"`
	Message         string               `json:"message"`
	TriggerValue    *float64             `json:"trigger_value,omitempty"`
	ThresholdValue  *float64             `json:"threshold_value,omitempty"`
	EscalationLevel int                  `json:"escalation_level"`
	Timestamp       time.Time            `json:"timestamp"`
}

// Notifier 通知发送方
type Notifier interface {
	Send(ctx context.Context, channel Channel, msg Message) error
}

func newMessage(a *models.Alert, now time.Time) Message {
	return Message{
		AlertID:         a.ID,
		EnvironmentID:   a.EnvironmentID,
		Type:            a.Type,
		Severity:        a.Severity,
		Title:           a.Title,
		Message:         a.Message,
		TriggerValue:    a.TriggerValue,
		ThresholdValue:  a.ThresholdValue,
		EscalationLevel: a.EscalationLevel,
		Timestamp:       now,
	}
}

// LogNotifier 将通知写入日志
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, channel Channel, msg Message) error {
	fields := []zap.Field{
		zap.String("channel", string(channel)),
		zap.String("alert_id", msg.AlertID),
		zap.String("environment_id", msg.EnvironmentID),
		zap.String("alert_type", string(msg.Type)),
		zap.String("severity", string(msg.Severity)),
		zap.String("title", msg.Title),
		zap.String("message", msg.Message),
		zap.Int("escalation_level", msg.EscalationLevel),
	}
	if msg.TriggerValue != nil {
		fields = append(fields, zap.Float64("trigger_value", *msg.TriggerValue))
	}

	switch msg.Severity {
	case models.SeverityHigh, models.SeverityCritical:
		n.logger.Warn("Alert notification", fields...)
	default:
		n.logger.Info("Alert notification", fields...)
	}
	return nil
}
