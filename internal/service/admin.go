package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"mushroom-automation/internal/consumer"
	"mushroom-automation/internal/models"
	"mushroom-automation/internal/repository"

	"go.uber.org/zap"
)

// ============================================
// 环境
// ============================================

// CreateEnvironment 创建环境并加入调度
func (s *AutomationService) CreateEnvironment(ctx context.Context, id, name, description string) (*models.Environment, error) {
	env, err := s.environments.Create(ctx, id, name, description)
	if err != nil {
		return nil, err
	}
	s.scheduler.Register(env.ID, env.TickInterval)
	return env, nil
}

// GetEnvironment 获取环境
func (s *AutomationService) GetEnvironment(ctx context.Context, environmentID string) (*models.Environment, error) {
	return s.environments.Get(ctx, environmentID)
}

// CachedEnvironment 优先从快照缓存读取环境，缓存不可用时回落到存储
func (s *AutomationService) CachedEnvironment(ctx context.Context, environmentID string) (*models.Environment, error) {
	if s.snapshots != nil {
		env, err := s.snapshots.GetEnvironment(ctx, environmentID)
		if err == nil {
			return env, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("Failed to read environment snapshot",
				zap.String("environment_id", environmentID),
				zap.Error(err),
			)
		}
	}
	return s.environments.Get(ctx, environmentID)
}

// ListEnvironments 列出环境
func (s *AutomationService) ListEnvironments(ctx context.Context) ([]*models.Environment, error) {
	return s.environments.List(ctx)
}

// DeleteEnvironment 删除环境并停止其调度
func (s *AutomationService) DeleteEnvironment(ctx context.Context, environmentID string) error {
	s.scheduler.Unregister(environmentID)
	if err := s.environments.Delete(ctx, environmentID); err != nil {
		return err
	}
	s.monitor.Forget(environmentID)
	if s.snapshots != nil {
		if err := s.snapshots.DeleteEnvironment(ctx, environmentID); err != nil {
			s.logger.Warn("Failed to drop environment snapshot",
				zap.String("environment_id", environmentID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// AssignSpecies 分配品种（phaseName 为空时从第一个阶段开始）
func (s *AutomationService) AssignSpecies(ctx context.Context, environmentID, speciesID, phaseName string) (*models.Environment, error) {
	return s.environments.AssignSpecies(ctx, environmentID, speciesID, phaseName)
}

// UnassignSpecies 取消品种分配
func (s *AutomationService) UnassignSpecies(ctx context.Context, environmentID string) (*models.Environment, error) {
	env, err := s.environments.UnassignSpecies(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	s.monitor.Forget(environmentID)
	return env, nil
}

// ChangePhase 手动切换阶段
func (s *AutomationService) ChangePhase(ctx context.Context, environmentID, phaseName string) (*models.Environment, error) {
	return s.environments.ChangePhase(ctx, environmentID, phaseName)
}

// SetOverride 设置手动覆盖
func (s *AutomationService) SetOverride(ctx context.Context, environmentID string, values map[string]models.OverrideValue, duration time.Duration) (*models.Environment, error) {
	return s.environments.SetOverride(ctx, environmentID, values, duration)
}

// ClearOverride 清除手动覆盖
func (s *AutomationService) ClearOverride(ctx context.Context, environmentID string) (*models.Environment, error) {
	return s.environments.ClearOverride(ctx, environmentID)
}

// SetStatus 设置环境状态
func (s *AutomationService) SetStatus(ctx context.Context, environmentID string, status models.EnvironmentStatus) (*models.Environment, error) {
	return s.environments.SetStatus(ctx, environmentID, status)
}

// UpdateAlertSettings 更新环境告警设置
func (s *AutomationService) UpdateAlertSettings(ctx context.Context, environmentID string, settings models.AlertSettings) (*models.Environment, error) {
	return s.environments.UpdateAlertSettings(ctx, environmentID, settings)
}

// SetTickInterval 设置环境评估间隔并同步到调度器
func (s *AutomationService) SetTickInterval(ctx context.Context, environmentID string, interval time.Duration) (*models.Environment, error) {
	env, err := s.environments.SetTickInterval(ctx, environmentID, interval)
	if err != nil {
		return nil, err
	}
	s.scheduler.Register(env.ID, env.TickInterval)
	return env, nil
}

// ============================================
// 读数
// ============================================

// SubmitReading 提交传感器读数
func (s *AutomationService) SubmitReading(reading *models.SensorReading) error {
	if reading == nil {
		return fmt.Errorf("%w: reading is nil", models.ErrValidation)
	}
	reading = reading.Clone()
	if reading.Quality == "" {
		reading.Quality = models.QualityGood
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = s.clock.Now()
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	return s.scheduler.Submit(reading.EnvironmentID, reading)
}

// SubmitPayload 提交设备原始报文（与 MQTT 上报格式一致）
func (s *AutomationService) SubmitPayload(environmentID string, payload []byte) error {
	reading, err := consumer.ParseSensorPayload(environmentID, payload, s.clock.Now())
	if err != nil {
		return err
	}
	return s.scheduler.Submit(environmentID, reading)
}

// TriggerEvaluation 立即执行一次环境评估
func (s *AutomationService) TriggerEvaluation(environmentID string) error {
	return s.scheduler.Trigger(environmentID)
}

// ReadingHistory 查询读数历史
func (s *AutomationService) ReadingHistory(ctx context.Context, environmentID string, from, to time.Time) ([]*models.SensorReading, error) {
	return s.store.Readings.Range(ctx, environmentID, from, to)
}

// ActuatorHistory 查询执行器日志
func (s *AutomationService) ActuatorHistory(ctx context.Context, environmentID string, limit int) ([]*models.ActuatorLog, error) {
	return s.store.ActuatorLogs.List(ctx, environmentID, limit)
}

// ============================================
// 规则
// ============================================

// UpsertRule 校验并保存规则
// 条件发生变化的规则清除运行期状态（持续时长按条件下标追踪）
func (s *AutomationService) UpsertRule(ctx context.Context, rule *models.AutomationRule) (*models.AutomationRule, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule is nil", models.ErrValidation)
	}
	rule = rule.Clone()
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if rule.PhaseName != "" && rule.SpeciesID != "" {
		if _, err := s.catalog.Phase(rule.SpeciesID, rule.PhaseName); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
		}
	}

	var previous *models.AutomationRule
	if rule.ID != "" {
		existing, err := s.store.Rules.Get(ctx, rule.ID)
		if err == nil {
			previous = existing
		}
	}

	saved, err := s.store.Rules.Save(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}

	if previous != nil && !reflect.DeepEqual(previous.Conditions, saved.Conditions) {
		s.forgetRule(ctx, saved.ID)
	}

	s.logger.Info("Rule saved",
		zap.String("rule_id", saved.ID),
		zap.String("rule_name", saved.Name),
		zap.Int("priority", saved.Priority),
		zap.Bool("enabled", saved.Enabled),
	)
	return saved, nil
}

// GetRule 获取规则
func (s *AutomationService) GetRule(ctx context.Context, ruleID string) (*models.AutomationRule, error) {
	return s.store.Rules.Get(ctx, ruleID)
}

// ListRules 按优先级列出规则
func (s *AutomationService) ListRules(ctx context.Context) ([]*models.AutomationRule, error) {
	return s.store.Rules.List(ctx)
}

// DeleteRule 删除规则及其运行期状态
func (s *AutomationService) DeleteRule(ctx context.Context, ruleID string) error {
	if err := s.store.Rules.Delete(ctx, ruleID); err != nil {
		return err
	}
	s.forgetRule(ctx, ruleID)
	s.logger.Info("Rule deleted", zap.String("rule_id", ruleID))
	return nil
}

func (s *AutomationService) forgetRule(ctx context.Context, ruleID string) {
	if err := s.ruleState.ForgetRule(ctx, ruleID); err != nil {
		s.logger.Warn("Failed to clear rule state",
			zap.String("rule_id", ruleID),
			zap.Error(err),
		)
	}
}

// ============================================
// 告警
// ============================================

// AcknowledgeAlert 确认告警
func (s *AutomationService) AcknowledgeAlert(ctx context.Context, alertID, user string) (*models.Alert, error) {
	return s.alerts.Acknowledge(ctx, alertID, user)
}

// ResolveAlert 解决告警
func (s *AutomationService) ResolveAlert(ctx context.Context, alertID, user string) (*models.Alert, error) {
	return s.alerts.Resolve(ctx, alertID, user)
}

// DismissAlert 忽略告警
func (s *AutomationService) DismissAlert(ctx context.Context, alertID, user string) (*models.Alert, error) {
	return s.alerts.Dismiss(ctx, alertID, user)
}

// GetAlert 获取告警
func (s *AutomationService) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	return s.alerts.Get(ctx, alertID)
}

// ListAlerts 查询告警
func (s *AutomationService) ListAlerts(ctx context.Context, filter repository.AlertFilter) ([]*models.Alert, error) {
	return s.alerts.List(ctx, filter)
}

// OpenAlerts 环境未结束的告警（active 与 acknowledged）
func (s *AutomationService) OpenAlerts(ctx context.Context, environmentID string) ([]*models.Alert, error) {
	return s.alerts.Open(ctx, environmentID)
}

// ============================================
// 品种目录
// ============================================

// ListSpecies 列出品种
func (s *AutomationService) ListSpecies() []models.Species {
	return s.catalog.List()
}

// PhasesFor 品种的生长阶段
func (s *AutomationService) PhasesFor(speciesID string) ([]models.Phase, error) {
	return s.catalog.PhasesFor(speciesID)
}
