package models

import "time"

// Alert 告警（对应 alerts 表）
type Alert struct {
	ID             string        `json:"id"`
	EnvironmentID  string        `json:"environment_id"`
	Type           AlertType     `json:"alert_type"`
	Severity       AlertSeverity `json:"severity"`
	Status         AlertStatus   `json:"status"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	TriggerValue   *float64      `json:"trigger_value,omitempty"`
	ThresholdValue *float64      `json:"threshold_value,omitempty"`
	RuleID         string        `json:"rule_id,omitempty"`

	FirstOccurrence time.Time  `json:"first_occurrence"`
	LastOccurrence  time.Time  `json:"last_occurrence"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	Notes           string     `json:"notes,omitempty"`

	// 通知记录
	EmailSent               bool       `json:"email_sent"`
	SMSSent                 bool       `json:"sms_sent"`
	WebhookSent             bool       `json:"webhook_sent"`
	NotificationAttempts    int        `json:"notification_attempts"`
	LastNotificationAttempt *time.Time `json:"last_notification_attempt,omitempty"`
	OccurrenceCount         int        `json:"occurrence_count"`
	EscalationLevel         int        `json:"escalation_level"`
}

// Clone 深拷贝
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	c.TriggerValue = cloneFloat(a.TriggerValue)
	c.ThresholdValue = cloneFloat(a.ThresholdValue)
	c.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	c.ResolvedAt = cloneTime(a.ResolvedAt)
	c.LastNotificationAttempt = cloneTime(a.LastNotificationAttempt)
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}

// ActuatorLog 执行器动作日志（只追加）
type ActuatorLog struct {
	ID            string         `json:"id"`
	EnvironmentID string         `json:"environment_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Actuator      ActuatorType   `json:"actuator_type"`
	Action        ActuatorAction `json:"action"`
	PreviousState *bool          `json:"previous_state,omitempty"`
	NewState      *bool          `json:"new_state,omitempty"`
	Intensity     *float64       `json:"intensity,omitempty"`
	DurationSecs  int            `json:"duration_seconds,omitempty"`
	TriggerSource TriggerSource  `json:"trigger_source"`
	RuleID        string         `json:"trigger_rule_id,omitempty"`
	Reason        string         `json:"trigger_reason,omitempty"`
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
}
