package repository

import (
	"context"
	"time"

	"mushroom-automation/internal/models"
)

// EnvironmentRepository 环境仓库
type EnvironmentRepository interface {
	Create(ctx context.Context, env *models.Environment) error
	Get(ctx context.Context, id string) (*models.Environment, error)
	Update(ctx context.Context, env *models.Environment) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Environment, error)
}

// RuleRepository 自动化规则仓库；List 按 (priority, sequence) 升序返回
type RuleRepository interface {
	Save(ctx context.Context, rule *models.AutomationRule) (*models.AutomationRule, error)
	Get(ctx context.Context, id string) (*models.AutomationRule, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.AutomationRule, error)
}

// AlertFilter 告警查询条件
type AlertFilter struct {
	EnvironmentID string
	Statuses      []models.AlertStatus
	Types         []models.AlertType
	Limit         int
}

// AlertRepository 告警仓库
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	Update(ctx context.Context, alert *models.Alert) error
	Get(ctx context.Context, id string) (*models.Alert, error)
	// FindActive 查询 (environment, type) 的 active 告警，不存在时返回 ErrNotFound
	FindActive(ctx context.Context, environmentID string, alertType models.AlertType) (*models.Alert, error)
	List(ctx context.Context, filter AlertFilter) ([]*models.Alert, error)
}

// SensorReadingRepository 传感器读数仓库（只追加）
type SensorReadingRepository interface {
	Append(ctx context.Context, reading *models.SensorReading) error
	Latest(ctx context.Context, environmentID string) (*models.SensorReading, error)
	Range(ctx context.Context, environmentID string, from, to time.Time) ([]*models.SensorReading, error)
}

// ActuatorLogRepository 执行器日志仓库（只追加）
type ActuatorLogRepository interface {
	Append(ctx context.Context, log *models.ActuatorLog) error
	List(ctx context.Context, environmentID string, limit int) ([]*models.ActuatorLog, error)
}

// Store 进程级存储：所有仓库的集合，启动时创建、停止时关闭
type Store struct {
	Environments EnvironmentRepository
	Rules        RuleRepository
	Alerts       AlertRepository
	Readings     SensorReadingRepository
	ActuatorLogs ActuatorLogRepository

	closeFn func() error
}

// Close 释放底层资源
func (s *Store) Close() error {
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

func matchesAlert(a *models.Alert, f AlertFilter) bool {
	if f.EnvironmentID != "" && a.EnvironmentID != f.EnvironmentID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if a.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if a.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
