package actuator

import (
	"context"
	"time"

	"mushroom-automation/internal/models"

	"go.uber.org/zap"
)

// Command 执行器命令；重试时复用同一 CommandID，设备端按 ID 去重
type Command struct {
	CommandID       string              `json:"command_id"`
	EnvironmentID   string              `json:"environment_id"`
	Actuator        models.ActuatorType `json:"actuator_type"`
	On              bool                `json:"state"`
	Intensity       *float64            `json:"intensity,omitempty"`
	DurationSeconds int                 `json:"duration_seconds,omitempty"`
	IssuedAt        time.Time           `json:"issued_at"`
}

// Ack 设备对命令的确认
type Ack struct {
	CommandID string `json:"command_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Controller 执行器控制协作方；返回 nil 表示设备已确认
type Controller interface {
	SetActuator(ctx context.Context, cmd Command) error
}

// LogController 只记录日志的控制器（未接入设备时使用）
type LogController struct {
	logger *zap.Logger
}

// NewLogController 创建日志控制器
func NewLogController(logger *zap.Logger) *LogController {
	return &LogController{logger: logger}
}

func (c *LogController) SetActuator(_ context.Context, cmd Command) error {
	fields := []zap.Field{
		zap.String("command_id", cmd.CommandID),
		zap.String("environment_id", cmd.EnvironmentID),
		zap.String("actuator_type", string(cmd.Actuator)),
		zap.Bool("state", cmd.On),
	}
	if cmd.Intensity != nil {
		fields = append(fields, zap.Float64("intensity", *cmd.Intensity))
	}
	c.logger.Info("Actuator command", fields...)
	return nil
}
