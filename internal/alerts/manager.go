package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mushroom-automation/internal/clock"
	"mushroom-automation/internal/models"
	"mushroom-automation/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// notifyTimeout 单次通知的超时（通知与 tick 解耦，不使用调用方 ctx）
const notifyTimeout = 10 * time.Second

// openStatuses 未关闭的告警状态
var openStatuses = []models.AlertStatus{models.AlertActive, models.AlertAcknowledged}

// RaiseRequest 告警请求
type RaiseRequest struct {
	EnvironmentID  string
	Type           models.AlertType
	Severity       models.AlertSeverity
	Title          string
	Message        string
	TriggerValue   *float64
	ThresholdValue *float64
	RuleID         string
}

// ActiveAlertCache 未关闭告警快照
type ActiveAlertCache interface {
	PutActiveAlerts(ctx context.Context, environmentID string, alerts []*models.Alert) error
}

// Manager 告警生命周期管理
// 职责：
// 1. 同一 (environment, type) 去重
// 2. 确认/解决/忽略状态机
// 3. 超时未确认的告警升级
// 4. 按严重级别路由通知（发出即忘）
type Manager struct {
	repo      repository.AlertRepository
	policy    Policy
	clock     clock.Clock
	logger    *zap.Logger
	notifiers map[Channel]Notifier
	snapshots ActiveAlertCache

	mu       sync.Mutex
	inflight sync.WaitGroup
}

// NewManager 创建告警管理器
func NewManager(repo repository.AlertRepository, policy Policy, clk clock.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		repo:      repo,
		policy:    policy,
		clock:     clk,
		logger:    logger,
		notifiers: make(map[Channel]Notifier),
	}
}

// RegisterNotifier 注册渠道的通知发送方
func (m *Manager) RegisterNotifier(channel Channel, n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers[channel] = n
}

// SetSnapshotCache 设置告警快照缓存（可选）
func (m *Manager) SetSnapshotCache(c ActiveAlertCache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = c
}

// Raise 触发告警
// 已有同类型未关闭告警时只更新 last_occurrence 与计数，不重复通知
func (m *Manager) Raise(ctx context.Context, req RaiseRequest) (*models.Alert, error) {
	if req.EnvironmentID == "" {
		return nil, fmt.Errorf("%w: environment_id is required", models.ErrValidation)
	}
	if _, err := models.ParseAlertType(string(req.Type)); err != nil {
		return nil, err
	}
	severity, err := models.ParseAlertSeverity(string(req.Severity))
	if err != nil {
		return nil, err
	}
	req.Severity = severity

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	existing, err := m.findOpen(ctx, req.EnvironmentID, req.Type)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return m.recordOccurrence(ctx, existing, req, now)
	}

	alert := &models.Alert{
		ID:              uuid.NewString(),
		EnvironmentID:   req.EnvironmentID,
		Type:            req.Type,
		Severity:        req.Severity,
		Status:          models.AlertActive,
		Title:           req.Title,
		Message:         req.Message,
		TriggerValue:    req.TriggerValue,
		ThresholdValue:  req.ThresholdValue,
		RuleID:          req.RuleID,
		FirstOccurrence: now,
		LastOccurrence:  now,
		OccurrenceCount: 1,
	}
	if alert.Title == "" {
		alert.Title = defaultTitle(req.Type)
	}
	deliveries := m.plan(alert, m.policy.ChannelsFor(alert.Severity), now)

	if err := m.repo.Create(ctx, alert); err != nil {
		if !errors.Is(err, models.ErrValidation) {
			return nil, fmt.Errorf("failed to create alert: %w", err)
		}
		// 并发写入时由唯一约束兜底，回到去重路径
		existing, findErr := m.repo.FindActive(ctx, req.EnvironmentID, req.Type)
		if findErr != nil {
			return nil, fmt.Errorf("failed to create alert: %w", err)
		}
		return m.recordOccurrence(ctx, existing, req, now)
	}

	m.logger.Info("Alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("environment_id", alert.EnvironmentID),
		zap.String("alert_type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
	)
	m.deliver(deliveries)
	m.refreshSnapshot(ctx, alert.EnvironmentID)
	return alert.Clone(), nil
}

// findOpen 只按 active 告警去重；已确认的告警不再合并新的发生
func (m *Manager) findOpen(ctx context.Context, environmentID string, alertType models.AlertType) (*models.Alert, error) {
	active, err := m.repo.FindActive(ctx, environmentID, alertType)
	if err == nil {
		return active, nil
	}
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to find active alert: %w", err)
}

func (m *Manager) recordOccurrence(ctx context.Context, alert *models.Alert, req RaiseRequest, now time.Time) (*models.Alert, error) {
	alert.LastOccurrence = now
	alert.OccurrenceCount++
	if req.TriggerValue != nil {
		alert.TriggerValue = req.TriggerValue
	}
	if req.Message != "" {
		alert.Message = req.Message
	}
	// 更高级别的新请求直接提升严重级别并重新通知
	var deliveries []delivery
	if req.Severity.Rank() > alert.Severity.Rank() {
		alert.Severity = req.Severity
		deliveries = m.plan(alert, m.policy.ChannelsFor(alert.Severity), now)
	}
	if deliveries == nil {
		// 未重新发送时同样记一次通知尝试
		alert.NotificationAttempts++
		alert.LastNotificationAttempt = &now
	}

	if err := m.repo.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to update alert occurrence: %w", err)
	}
	m.deliver(deliveries)
	m.logger.Debug("Alert occurrence deduplicated",
		zap.String("alert_id", alert.ID),
		zap.String("environment_id", alert.EnvironmentID),
		zap.String("alert_type", string(alert.Type)),
		zap.Int("occurrence_count", alert.OccurrenceCount),
	)
	return alert.Clone(), nil
}

// Acknowledge 确认告警
func (m *Manager) Acknowledge(ctx context.Context, alertID, user string) (*models.Alert, error) {
	return m.transition(ctx, alertID, models.AlertAcknowledged, user, "")
}

// Resolve 解决告警
func (m *Manager) Resolve(ctx context.Context, alertID, user string) (*models.Alert, error) {
	return m.transition(ctx, alertID, models.AlertResolved, user, "")
}

// Dismiss 忽略告警
func (m *Manager) Dismiss(ctx context.Context, alertID, user string) (*models.Alert, error) {
	return m.transition(ctx, alertID, models.AlertDismissed, user, "")
}

// transition 状态转换；重复的相同转换为空操作
func (m *Manager) transition(ctx context.Context, alertID string, next models.AlertStatus, user, note string) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, err := m.repo.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == next {
		return alert, nil
	}
	if !alert.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: alert %s cannot move from %s to %s",
			models.ErrInvalidTransition, alertID, alert.Status, next)
	}

	if err := m.apply(ctx, alert, next, user, note); err != nil {
		return nil, err
	}
	m.refreshSnapshot(ctx, alert.EnvironmentID)
	return alert.Clone(), nil
}

func (m *Manager) apply(ctx context.Context, alert *models.Alert, next models.AlertStatus, user, note string) error {
	now := m.clock.Now()
	previous := alert.Status
	alert.Status = next
	switch next {
	case models.AlertAcknowledged:
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = user
	case models.AlertResolved, models.AlertDismissed:
		alert.ResolvedAt = &now
		alert.ResolvedBy = user
	}
	if note != "" {
		if alert.Notes != "" {
			alert.Notes += "\n"
		}
		alert.Notes += note
	}

	if err := m.repo.Update(ctx, alert); err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	m.logger.Info("Alert status changed",
		zap.String("alert_id", alert.ID),
		zap.String("environment_id", alert.EnvironmentID),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
		zap.String("user", user),
	)
	return nil
}

// ResolveByType 自动解决 (environment, type) 的未关闭告警，返回解决数量
func (m *Manager) ResolveByType(ctx context.Context, environmentID string, alertType models.AlertType, user, note string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open, err := m.repo.List(ctx, repository.AlertFilter{
		EnvironmentID: environmentID,
		Statuses:      openStatuses,
		Types:         []models.AlertType{alertType},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list open alerts: %w", err)
	}

	resolved := 0
	for _, alert := range open {
		if err := m.apply(ctx, alert, models.AlertResolved, user, note); err != nil {
			m.logger.Error("Failed to auto-resolve alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
			// 继续处理，不中断
			continue
		}
		resolved++
	}
	if resolved > 0 {
		m.refreshSnapshot(ctx, environmentID)
	}
	return resolved, nil
}

// Escalate 升级超时未确认的 active 告警，返回升级数量
// 第 n 次升级发生在 first_occurrence + n*After，严重级别到 critical 为止
func (m *Manager) Escalate(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.repo.List(ctx, repository.AlertFilter{
		Statuses: []models.AlertStatus{models.AlertActive},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list active alerts: %w", err)
	}

	escalated := 0
	touched := make(map[string]bool)
	for _, alert := range active {
		if alert.Severity == models.SeverityCritical {
			continue
		}
		rule, ok := m.policy.escalationFor(alert.Type)
		if !ok {
			continue
		}
		due := alert.FirstOccurrence.Add(time.Duration(alert.EscalationLevel+1) * rule.After)
		if now.Before(due) {
			continue
		}

		previous := alert.Severity
		alert.Severity = alert.Severity.Next()
		alert.EscalationLevel++
		deliveries := m.plan(alert, mergeChannels(m.policy.ChannelsFor(alert.Severity), rule.Channels), now)

		if err := m.repo.Update(ctx, alert); err != nil {
			m.logger.Error("Failed to escalate alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
			// 继续处理，不中断
			continue
		}
		m.deliver(deliveries)
		m.logger.Warn("Alert escalated",
			zap.String("alert_id", alert.ID),
			zap.String("environment_id", alert.EnvironmentID),
			zap.String("alert_type", string(alert.Type)),
			zap.String("from_severity", string(previous)),
			zap.String("to_severity", string(alert.Severity)),
			zap.Int("escalation_level", alert.EscalationLevel),
		)
		escalated++
		touched[alert.EnvironmentID] = true
	}
	for environmentID := range touched {
		m.refreshSnapshot(ctx, environmentID)
	}
	return escalated, nil
}

// Get 查询告警
func (m *Manager) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	return m.repo.Get(ctx, alertID)
}

// List 查询告警列表
func (m *Manager) List(ctx context.Context, filter repository.AlertFilter) ([]*models.Alert, error) {
	return m.repo.List(ctx, filter)
}

// Open 查询环境的未关闭告警
func (m *Manager) Open(ctx context.Context, environmentID string) ([]*models.Alert, error) {
	return m.repo.List(ctx, repository.AlertFilter{
		EnvironmentID: environmentID,
		Statuses:      openStatuses,
	})
}

// Wait 等待已发出的通知完成
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// delivery 待发送的通知
type delivery struct {
	channel  Channel
	notifier Notifier
	msg      Message
}

// plan 登记通知记录（调用方负责持久化），返回待发送的通知
func (m *Manager) plan(alert *models.Alert, channels []Channel, now time.Time) []delivery {
	var out []delivery
	for _, ch := range channels {
		n, ok := m.notifiers[ch]
		if !ok {
			continue
		}
		switch ch {
		case ChannelEmail:
			alert.EmailSent = true
		case ChannelSMS:
			alert.SMSSent = true
		case ChannelWebhook:
			alert.WebhookSent = true
		}
		out = append(out, delivery{channel: ch, notifier: n})
	}
	if len(out) == 0 {
		return nil
	}
	alert.NotificationAttempts++
	alert.LastNotificationAttempt = &now
	msg := newMessage(alert, now)
	for i := range out {
		out[i].msg = msg
	}
	return out
}

// deliver 异步发送通知，失败只记录日志
func (m *Manager) deliver(deliveries []delivery) {
	for _, d := range deliveries {
		m.inflight.Add(1)
		go func(d delivery) {
			defer m.inflight.Done()
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if err := d.notifier.Send(ctx, d.channel, d.msg); err != nil {
				m.logger.Warn("Failed to send alert notification",
					zap.String("channel", string(d.channel)),
					zap.String("alert_id", d.msg.AlertID),
					zap.Error(err),
				)
			}
		}(d)
	}
}

func (m *Manager) refreshSnapshot(ctx context.Context, environmentID string) {
	if m.snapshots == nil {
		return
	}
	open, err := m.repo.List(ctx, repository.AlertFilter{
		EnvironmentID: environmentID,
		Statuses:      openStatuses,
	})
	if err != nil {
		m.logger.Warn("Failed to list open alerts for snapshot",
			zap.String("environment_id", environmentID),
			zap.Error(err),
		)
		return
	}
	if err := m.snapshots.PutActiveAlerts(ctx, environmentID, open); err != nil {
		m.logger.Warn("Failed to write alert snapshot",
			zap.String("environment_id", environmentID),
			zap.Error(err),
		)
	}
}

func defaultTitle(t models.AlertType) string {
	switch t {
	case models.AlertTemperatureHigh:
		return "Temperature too high"
	case models.AlertTemperatureLow:
		return "Temperature too low"
	case models.AlertHumidityHigh:
		return "Humidity too high"
	case models.AlertHumidityLow:
		return "Humidity too low"
	case models.AlertCO2High:
		return "CO2 too high"
	case models.AlertCO2Low:
		return "CO2 too low"
	case models.AlertSensorOffline:
		return "Sensor offline"
	case models.AlertActuatorFailure:
		return "Actuator failure"
	case models.AlertPhaseOverdue:
		return "Phase overdue"
	case models.AlertContaminationDetected:
		return "Contamination detected"
	case models.AlertSystemError:
		return "System error"
	}
	return "Alert"
}
