package models

import (
	"fmt"
	"sort"
	"time"
)

// 规则优先级范围
const (
	MinPriority     = 0
	MaxPriority     = 1000
	DefaultPriority = 100
)

// AutomationRule 自动化规则
type AutomationRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"` // 越小越先评估

	// 作用域：已设置的字段必须全部匹配，全部为空表示全局规则
	SpeciesID     string `json:"species_id,omitempty"`
	EnvironmentID string `json:"environment_id,omitempty"`
	PhaseName     string `json:"phase_name,omitempty"`

	Logic                LogicOperator `json:"logic_operator"`
	CooldownMinutes      int           `json:"cooldown_minutes"`
	MaxExecutionsPerHour int           `json:"max_executions_per_hour,omitempty"` // 0 表示不限
	ActiveHours          *HourWindow   `json:"active_hours,omitempty"`

	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`

	Sequence  int64     `json:"sequence"` // 创建序号，同优先级时稳定排序
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Condition 规则条件
type Condition struct {
	Parameter          Parameter    `json:"parameter"`
	Operator           RuleOperator `json:"operator"`
	Threshold          float64      `json:"threshold"`
	ThresholdMax       *float64     `json:"threshold_max,omitempty"`
	DurationMinutes    int          `json:"duration_minutes,omitempty"`
	TimeWindow         *DayWindow   `json:"time_window,omitempty"`
	SensorType         string       `json:"sensor_type,omitempty"`
	IgnoreSensorErrors bool         `json:"ignore_sensor_errors,omitempty"`
}

// Action 规则动作（Kind 决定使用哪一个参数结构）
type Action struct {
	ExecutionOrder     int        `json:"execution_order"`
	Kind               ActionKind `json:"action_type"`
	DelayBeforeSeconds int        `json:"delay_before_seconds,omitempty"`
	RetryAttempts      int        `json:"retry_attempts,omitempty"`
	RetryDelaySeconds  int        `json:"retry_delay_seconds,omitempty"`
	RequiresPrevious   bool       `json:"requires_previous,omitempty"` // 前一个动作失败时跳过

	SetActuator  *SetActuatorParams  `json:"set_actuator,omitempty"`
	SendAlert    *SendAlertParams    `json:"send_alert,omitempty"`
	ChangePhase  *ChangePhaseParams  `json:"change_phase,omitempty"`
	Delay        *DelayParams        `json:"delay,omitempty"`
	CustomScript *CustomScriptParams `json:"custom_script,omitempty"`
}

// SetActuatorParams set_actuator 参数
type SetActuatorParams struct {
	Target          ActuatorType `json:"target_actuator"`
	State           bool         `json:"target_state"`
	Intensity       *float64     `json:"target_intensity,omitempty"` // 0-100
	DurationSeconds int          `json:"duration_seconds,omitempty"`
}

// SendAlertParams send_alert 参数
type SendAlertParams struct {
	AlertType AlertType     `json:"alert_type"`
	Severity  AlertSeverity `json:"alert_severity"`
	Title     string        `json:"title,omitempty"`
	Message   string        `json:"alert_message"`
}

// ChangePhaseParams change_phase 参数
type ChangePhaseParams struct {
	TargetPhase string `json:"target_phase_name"`
}

// DelayParams delay 参数
type DelayParams struct {
	Seconds int `json:"seconds"`
}

// CustomScriptParams custom_script 参数
type CustomScriptParams struct {
	ScriptPath string            `json:"script_path"`
	Parameters map[string]string `json:"script_parameters,omitempty"`
}

// AppliesTo 规则作用域是否匹配环境
func (r *AutomationRule) AppliesTo(env *Environment) bool {
	if r.EnvironmentID != "" && r.EnvironmentID != env.ID {
		return false
	}
	if r.SpeciesID != "" && r.SpeciesID != env.SpeciesID {
		return false
	}
	if r.PhaseName != "" && r.PhaseName != env.CurrentPhase {
		return false
	}
	return true
}

// Validate 校验规则；同时补全默认值并按 execution_order 排序动作
func (r *AutomationRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: rule name is required", ErrValidation)
	}
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d out of range %d-%d", ErrValidation, r.Priority, MinPriority, MaxPriority)
	}
	logic, err := ParseLogicOperator(string(r.Logic))
	if err != nil {
		return err
	}
	r.Logic = logic
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("%w: cooldown_minutes must not be negative", ErrValidation)
	}
	if r.MaxExecutionsPerHour < 0 {
		return fmt.Errorf("%w: max_executions_per_hour must not be negative", ErrValidation)
	}
	if r.ActiveHours != nil {
		if err := r.ActiveHours.Validate(); err != nil {
			return err
		}
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: rule %q has no conditions", ErrValidation, r.Name)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: rule %q has no actions", ErrValidation, r.Name)
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	for i := range r.Actions {
		if err := r.Actions[i].Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	sort.SliceStable(r.Actions, func(i, j int) bool {
		return r.Actions[i].ExecutionOrder < r.Actions[j].ExecutionOrder
	})
	return nil
}

// Validate 校验条件
func (c *Condition) Validate() error {
	if _, err := ParseParameter(string(c.Parameter)); err != nil {
		return err
	}
	if _, err := ParseRuleOperator(string(c.Operator)); err != nil {
		return err
	}
	if c.Operator.IsRange() {
		if c.ThresholdMax == nil {
			return fmt.Errorf("%w: operator %s requires threshold_max", ErrValidation, c.Operator)
		}
		if *c.ThresholdMax < c.Threshold {
			return fmt.Errorf("%w: threshold_max %.2f below threshold %.2f", ErrValidation, *c.ThresholdMax, c.Threshold)
		}
	}
	if c.Parameter == ParamHour && (c.Threshold < 0 || c.Threshold > 23) {
		return fmt.Errorf("%w: hour threshold must be within 0-23", ErrValidation)
	}
	if c.DurationMinutes < 0 {
		return fmt.Errorf("%w: duration_minutes must not be negative", ErrValidation)
	}
	if c.TimeWindow != nil {
		if err := c.TimeWindow.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate 校验动作：Kind 对应的参数必须存在且唯一
func (a *Action) Validate() error {
	if _, err := ParseActionKind(string(a.Kind)); err != nil {
		return err
	}
	if a.DelayBeforeSeconds < 0 || a.RetryAttempts < 0 || a.RetryDelaySeconds < 0 {
		return fmt.Errorf("%w: delays and retries must not be negative", ErrValidation)
	}

	payloads := 0
	for _, set := range []bool{a.SetActuator != nil, a.SendAlert != nil, a.ChangePhase != nil, a.Delay != nil, a.CustomScript != nil} {
		if set {
			payloads++
		}
	}
	if payloads != 1 {
		return fmt.Errorf("%w: action %s must carry exactly one payload", ErrValidation, a.Kind)
	}

	switch a.Kind {
	case ActionSetActuator:
		if a.SetActuator == nil {
			return fmt.Errorf("%w: set_actuator payload missing", ErrValidation)
		}
		if _, err := ParseActuatorType(string(a.SetActuator.Target)); err != nil {
			return err
		}
		if i := a.SetActuator.Intensity; i != nil && (*i < 0 || *i > 100) {
			return fmt.Errorf("%w: intensity must be within 0-100", ErrValidation)
		}
		if a.SetActuator.DurationSeconds < 0 {
			return fmt.Errorf("%w: duration_seconds must not be negative", ErrValidation)
		}
	case ActionSendAlert:
		if a.SendAlert == nil {
			return fmt.Errorf("%w: send_alert payload missing", ErrValidation)
		}
		if a.SendAlert.Message == "" {
			return fmt.Errorf("%w: alert_message is required", ErrValidation)
		}
		if a.SendAlert.AlertType == "" {
			a.SendAlert.AlertType = AlertCustom
		}
		if _, err := ParseAlertType(string(a.SendAlert.AlertType)); err != nil {
			return err
		}
		severity, err := ParseAlertSeverity(string(a.SendAlert.Severity))
		if err != nil {
			return err
		}
		a.SendAlert.Severity = severity
	case ActionChangePhase:
		if a.ChangePhase == nil || a.ChangePhase.TargetPhase == "" {
			return fmt.Errorf("%w: target_phase_name is required", ErrValidation)
		}
	case ActionDelay:
		if a.Delay == nil || a.Delay.Seconds < 0 {
			return fmt.Errorf("%w: delay seconds must not be negative", ErrValidation)
		}
	case ActionCustomScript:
		if a.CustomScript == nil || a.CustomScript.ScriptPath == "" {
			return fmt.Errorf("%w: script_path is required", ErrValidation)
		}
	}
	return nil
}

// Clone 深拷贝（仓储存取时使用，保证单条规则的原子编辑）
func (r *AutomationRule) Clone() *AutomationRule {
	if r == nil {
		return nil
	}
	c := *r
	if r.ActiveHours != nil {
		w := *r.ActiveHours
		c.ActiveHours = &w
	}
	c.Conditions = make([]Condition, len(r.Conditions))
	for i, cond := range r.Conditions {
		if cond.ThresholdMax != nil {
			m := *cond.ThresholdMax
			cond.ThresholdMax = &m
		}
		if cond.TimeWindow != nil {
			w := *cond.TimeWindow
			cond.TimeWindow = &w
		}
		c.Conditions[i] = cond
	}
	c.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		if a.SetActuator != nil {
			p := *a.SetActuator
			if p.Intensity != nil {
				v := *p.Intensity
				p.Intensity = &v
			}
			a.SetActuator = &p
		}
		if a.SendAlert != nil {
			p := *a.SendAlert
			a.SendAlert = &p
		}
		if a.ChangePhase != nil {
			p := *a.ChangePhase
			a.ChangePhase = &p
		}
		if a.Delay != nil {
			p := *a.Delay
			a.Delay = &p
		}
		if a.CustomScript != nil {
			p := *a.CustomScript
			p.Parameters = make(map[string]string, len(a.CustomScript.Parameters))
			for k, v := range a.CustomScript.Parameters {
				p.Parameters[k] = v
			}
			a.CustomScript = &p
		}
		c.Actions[i] = a
	}
	return &c
}
