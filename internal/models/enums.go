package models

import "fmt"

// EnvironmentStatus 环境（培养箱）状态
type EnvironmentStatus string

const (
	EnvironmentIdle        EnvironmentStatus = "idle"
	EnvironmentActive      EnvironmentStatus = "active"
	EnvironmentMaintenance EnvironmentStatus = "maintenance"
	EnvironmentError       EnvironmentStatus = "error" // 降级状态：执行器命令重试耗尽
)

// ParseEnvironmentStatus 解析环境状态
func ParseEnvironmentStatus(s string) (EnvironmentStatus, error) {
	switch v := EnvironmentStatus(s); v {
	case EnvironmentIdle, EnvironmentActive, EnvironmentMaintenance, EnvironmentError:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown environment status %q", ErrValidation, s)
}

// ActuatorType 执行器类型
type ActuatorType string

const (
	ActuatorFan        ActuatorType = "fan"
	ActuatorHumidifier ActuatorType = "humidifier"
	ActuatorHeatMat    ActuatorType = "heat_mat"
	ActuatorCO2Valve   ActuatorType = "co2_valve"
	ActuatorLight      ActuatorType = "light"
	ActuatorMister     ActuatorType = "mister"
	ActuatorExhaustFan ActuatorType = "exhaust_fan"
)

// ActuatorTypes 全部执行器类型（固定顺序）
var ActuatorTypes = []ActuatorType{
	ActuatorFan, ActuatorHumidifier, ActuatorHeatMat, ActuatorCO2Valve,
	ActuatorLight, ActuatorMister, ActuatorExhaustFan,
}

// ParseActuatorType 解析执行器类型
func ParseActuatorType(s string) (ActuatorType, error) {
	for _, t := range ActuatorTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown actuator type %q", ErrValidation, s)
}

// Parameter 传感器参数
type Parameter string

const (
	ParamTemperature Parameter = "temperature"
	ParamHumidity    Parameter = "humidity"
	ParamCO2         Parameter = "co2"
	ParamLightLevel  Parameter = "light_level"
	ParamAirflow     Parameter = "airflow"
	ParamHour        Parameter = "hour" // 当前小时（0-23），由评估时刻推导，不来自读数
)

// ParseParameter 解析条件参数名
func ParseParameter(s string) (Parameter, error) {
	switch v := Parameter(s); v {
	case ParamTemperature, ParamHumidity, ParamCO2, ParamLightLevel, ParamAirflow, ParamHour:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown parameter %q", ErrValidation, s)
}

// ReadingQuality 读数质量
type ReadingQuality string

const (
	QualityGood     ReadingQuality = "good"
	QualityDegraded ReadingQuality = "degraded"
	QualityBad      ReadingQuality = "bad"
)

// ParseReadingQuality 解析读数质量（空值视为 good）
func ParseReadingQuality(s string) (ReadingQuality, error) {
	switch v := ReadingQuality(s); v {
	case "":
		return QualityGood, nil
	case QualityGood, QualityDegraded, QualityBad:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown reading quality %q", ErrValidation, s)
}

// RuleOperator 条件比较运算符
type RuleOperator string

const (
	OpGreaterThan  RuleOperator = "gt"
	OpLessThan     RuleOperator = "lt"
	OpGreaterEqual RuleOperator = "gte"
	OpLessEqual    RuleOperator = "lte"
	OpEqual        RuleOperator = "eq"
	OpNotEqual     RuleOperator = "ne"
	OpBetween      RuleOperator = "between"
	OpNotBetween   RuleOperator = "not_between"
)

// eqTolerance eq/ne 比较的浮点容差
const eqTolerance = 1e-9

// ParseRuleOperator 解析比较运算符
func ParseRuleOperator(s string) (RuleOperator, error) {
	switch v := RuleOperator(s); v {
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual, OpBetween, OpNotBetween:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", ErrValidation, s)
}

// IsRange 是否为区间运算符
func (o RuleOperator) IsRange() bool {
	return o == OpBetween || o == OpNotBetween
}

// Compare 计算 value <op> threshold（区间运算符使用 [threshold, upper]，闭区间）
func (o RuleOperator) Compare(value, threshold, upper float64) bool {
	switch o {
	case OpGreaterThan:
		return value > threshold
	case OpLessThan:
		return value < threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return abs(value-threshold) <= eqTolerance
	case OpNotEqual:
		return abs(value-threshold) > eqTolerance
	case OpBetween:
		return value >= threshold && value <= upper
	case OpNotBetween:
		return value < threshold || value > upper
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// LogicOperator 条件组合逻辑
type LogicOperator string

const (
	LogicAnd LogicOperator = "and"
	LogicOr  LogicOperator = "or"
)

// ParseLogicOperator 解析逻辑运算符（空值视为 and）
func ParseLogicOperator(s string) (LogicOperator, error) {
	switch v := LogicOperator(s); v {
	case "":
		return LogicAnd, nil
	case LogicAnd, LogicOr:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown logic operator %q", ErrValidation, s)
}

// ActionKind 动作类型
type ActionKind string

const (
	ActionSetActuator  ActionKind = "set_actuator"
	ActionSendAlert    ActionKind = "send_alert"
	ActionChangePhase  ActionKind = "change_phase"
	ActionDelay        ActionKind = "delay"
	ActionCustomScript ActionKind = "custom_script"
)

// ParseActionKind 解析动作类型
func ParseActionKind(s string) (ActionKind, error) {
	switch v := ActionKind(s); v {
	case ActionSetActuator, ActionSendAlert, ActionChangePhase, ActionDelay, ActionCustomScript:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown action type %q", ErrValidation, s)
}

// AlertSeverity 告警级别
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

var severityRank = map[AlertSeverity]int{
	SeverityLow: 1, SeverityMedium: 2, SeverityHigh: 3, SeverityCritical: 4,
}

// ParseAlertSeverity 解析告警级别（空值视为 medium）
func ParseAlertSeverity(s string) (AlertSeverity, error) {
	if s == "" {
		return SeverityMedium, nil
	}
	v := AlertSeverity(s)
	if _, ok := severityRank[v]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown alert severity %q", ErrValidation, s)
}

// Rank 级别排序值（越大越严重）
func (s AlertSeverity) Rank() int {
	return severityRank[s]
}

// Next 升级后的级别（critical 保持不变）
func (s AlertSeverity) Next() AlertSeverity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// AlertStatus 告警状态
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertDismissed    AlertStatus = "dismissed"
)

// ParseAlertStatus 解析告警状态
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch v := AlertStatus(s); v {
	case AlertActive, AlertAcknowledged, AlertResolved, AlertDismissed:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown alert status %q", ErrValidation, s)
}

// IsTerminal resolved/dismissed 为终态
func (s AlertStatus) IsTerminal() bool {
	return s == AlertResolved || s == AlertDismissed
}

// CanTransitionTo 状态机：active → {acknowledged, resolved, dismissed}；acknowledged → {resolved, dismissed}
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	switch s {
	case AlertActive:
		return next == AlertAcknowledged || next == AlertResolved || next == AlertDismissed
	case AlertAcknowledged:
		return next == AlertResolved || next == AlertDismissed
	}
	return false
}

// AlertType 告警类型
type AlertType string

const (
	AlertTemperatureHigh       AlertType = "temperature_high"
	AlertTemperatureLow        AlertType = "temperature_low"
	AlertHumidityHigh          AlertType = "humidity_high"
	AlertHumidityLow           AlertType = "humidity_low"
	AlertCO2High               AlertType = "co2_high"
	AlertCO2Low                AlertType = "co2_low"
	AlertSensorOffline         AlertType = "sensor_offline"
	AlertActuatorFailure       AlertType = "actuator_failure"
	AlertPhaseOverdue          AlertType = "phase_overdue"
	AlertContaminationDetected AlertType = "contamination_detected"
	AlertSystemError           AlertType = "system_error"
	AlertCustom                AlertType = "custom"
)

// ParseAlertType 解析告警类型
func ParseAlertType(s string) (AlertType, error) {
	switch v := AlertType(s); v {
	case AlertTemperatureHigh, AlertTemperatureLow, AlertHumidityHigh, AlertHumidityLow,
		AlertCO2High, AlertCO2Low, AlertSensorOffline, AlertActuatorFailure, AlertPhaseOverdue,
		AlertContaminationDetected, AlertSystemError, AlertCustom:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown alert type %q", ErrValidation, s)
}

// OutOfRangeAlertType 参数越限对应的告警类型（high=true 表示超上限）
func OutOfRangeAlertType(p Parameter, high bool) (AlertType, bool) {
	switch p {
	case ParamTemperature:
		if high {
			return AlertTemperatureHigh, true
		}
		return AlertTemperatureLow, true
	case ParamHumidity:
		if high {
			return AlertHumidityHigh, true
		}
		return AlertHumidityLow, true
	case ParamCO2:
		if high {
			return AlertCO2High, true
		}
		return AlertCO2Low, true
	}
	return "", false
}

// TriggerSource 执行器动作触发来源
type TriggerSource string

const (
	TriggerAutomation TriggerSource = "automation"
	TriggerManual     TriggerSource = "manual"
	TriggerSchedule   TriggerSource = "schedule"
	TriggerAlert      TriggerSource = "alert"
)

// ActuatorAction 执行器动作
type ActuatorAction string

const (
	ActuatorOn     ActuatorAction = "on"
	ActuatorOff    ActuatorAction = "off"
	ActuatorAdjust ActuatorAction = "adjust"
)
