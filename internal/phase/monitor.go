package phase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mushroom-automation/internal/alerts"
	"mushroom-automation/internal/catalog"
	"mushroom-automation/internal/models"

	"go.uber.org/zap"
)

// AlertService 阈值监控使用的告警能力
type AlertService interface {
	AlertRaiser
	ResolveByType(ctx context.Context, environmentID string, alertType models.AlertType, user, note string) (int, error)
}

// MonitorConfig 阈值监控配置
type MonitorConfig struct {
	// AutoResolve 读数回到目标范围后自动解决告警
	AutoResolve bool
	// StaleAfter 超过该时长没有新读数视为传感器离线，0 表示不检查
	StaleAfter time.Duration
}

// systemUser 自动解决告警时记录的操作者
const systemUser = "system"

// Monitor 阈值监控：读数超出当前阶段目标范围、且没有已触发规则覆盖该参数时，
// 持续 alert_delay_minutes 后触发越限告警
type Monitor struct {
	catalog *catalog.Catalog
	alerts  AlertService
	config  MonitorConfig
	logger  *zap.Logger

	mu       sync.Mutex
	outSince map[string]time.Time // environment_id|parameter -> 首次越限时间
}

// NewMonitor 创建阈值监控
func NewMonitor(cat *catalog.Catalog, alertService AlertService, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	return &Monitor{
		catalog:  cat,
		alerts:   alertService,
		config:   cfg,
		logger:   logger,
		outSince: make(map[string]time.Time),
	}
}

func outKey(environmentID string, p models.Parameter) string {
	return environmentID + "|" + string(p)
}

// Check 检查最新读数
// triggered 为本 tick 已触发的规则，其条件涉及的参数视为已由自动化处理
func (m *Monitor) Check(ctx context.Context, env *models.Environment, reading *models.SensorReading, triggered []*models.AutomationRule, now time.Time) error {
	if !env.Alerts.Enabled {
		return nil
	}

	if err := m.checkStaleness(ctx, env, reading, now); err != nil {
		return err
	}
	if reading == nil || reading.Quality == models.QualityBad {
		return nil
	}
	if env.SpeciesID == "" || env.CurrentPhase == "" {
		return nil
	}

	current, err := m.catalog.Phase(env.SpeciesID, env.CurrentPhase)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStateInconsistency, err)
	}

	handled := handledParameters(triggered)
	delay := time.Duration(env.Alerts.DelayMinutes) * time.Minute

	for _, p := range models.MonitoredParameters {
		target, ok := current.TargetFor(p)
		if !ok {
			continue
		}
		value, ok := reading.Value(p)
		if !ok {
			continue
		}

		if target.Contains(value) {
			m.backInRange(ctx, env.ID, p, value)
			continue
		}

		since := m.markOut(env.ID, p, now)
		if handled[p] {
			continue
		}
		if now.Sub(since) < delay {
			continue
		}

		high := value > target.Max
		alertType, _ := models.OutOfRangeAlertType(p, high)
		threshold := target.Min
		direction := "below"
		if high {
			threshold = target.Max
			direction = "above"
		}
		v := value
		if _, err := m.alerts.Raise(ctx, alerts.RaiseRequest{
			EnvironmentID:  env.ID,
			Type:           alertType,
			Severity:       models.SeverityMedium,
			Message:        fmt.Sprintf("%s %.1f is %s the %s target %.1f-%.1f", p, value, direction, current.Name, target.Min, target.Max),
			TriggerValue:   &v,
			ThresholdValue: &threshold,
		}); err != nil {
			m.logger.Error("Failed to raise threshold alert",
				zap.String("environment_id", env.ID),
				zap.String("parameter", string(p)),
				zap.Error(err),
			)
			// 继续处理，不中断
		}
	}
	return nil
}

func (m *Monitor) checkStaleness(ctx context.Context, env *models.Environment, reading *models.SensorReading, now time.Time) error {
	if m.config.StaleAfter <= 0 || env.Status != models.EnvironmentActive {
		return nil
	}
	if reading != nil && now.Sub(reading.Timestamp) < m.config.StaleAfter {
		if m.config.AutoResolve {
			if _, err := m.alerts.ResolveByType(ctx, env.ID, models.AlertSensorOffline, systemUser, "sensor readings resumed"); err != nil {
				return fmt.Errorf("failed to resolve sensor offline alert: %w", err)
			}
		}
		return nil
	}

	message := fmt.Sprintf("No sensor readings from %s", env.Name)
	if reading != nil {
		message = fmt.Sprintf("No sensor readings from %s since %s", env.Name, reading.Timestamp.Format(time.RFC3339))
	}
	if _, err := m.alerts.Raise(ctx, alerts.RaiseRequest{
		EnvironmentID: env.ID,
		Type:          models.AlertSensorOffline,
		Severity:      models.SeverityHigh,
		Message:       message,
	}); err != nil {
		return fmt.Errorf("failed to raise sensor offline alert: %w", err)
	}
	return nil
}

func (m *Monitor) markOut(environmentID string, p models.Parameter, now time.Time) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := outKey(environmentID, p)
	since, ok := m.outSince[key]
	if !ok {
		m.outSince[key] = now
		return now
	}
	return since
}

func (m *Monitor) backInRange(ctx context.Context, environmentID string, p models.Parameter, value float64) {
	m.mu.Lock()
	key := outKey(environmentID, p)
	delete(m.outSince, key)
	m.mu.Unlock()

	if !m.config.AutoResolve {
		return
	}
	for _, high := range []bool{true, false} {
		alertType, ok := models.OutOfRangeAlertType(p, high)
		if !ok {
			continue
		}
		note := fmt.Sprintf("%s back in range at %.1f", p, value)
		if _, err := m.alerts.ResolveByType(ctx, environmentID, alertType, systemUser, note); err != nil {
			m.logger.Warn("Failed to auto-resolve threshold alert",
				zap.String("environment_id", environmentID),
				zap.String("alert_type", string(alertType)),
				zap.Error(err),
			)
		}
	}
}

// Forget 清除环境的越限计时（环境注销或重新分配品种时调用）
func (m *Monitor) Forget(environmentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range models.MonitoredParameters {
		delete(m.outSince, outKey(environmentID, p))
	}
}

func handledParameters(rules []*models.AutomationRule) map[models.Parameter]bool {
	out := make(map[models.Parameter]bool)
	for _, r := range rules {
		for _, c := range r.Conditions {
			out[c.Parameter] = true
		}
	}
	return out
}
