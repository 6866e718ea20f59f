package models

import (
	"fmt"
	"time"
)

// ActuatorState 执行器状态
type ActuatorState struct {
	On        bool     `json:"on"`
	Intensity *float64 `json:"intensity,omitempty"`
}

// OverrideValue 手动覆盖值：执行器类覆盖使用 State，参数类覆盖使用 Value
type OverrideValue struct {
	State *bool    `json:"state,omitempty"`
	Value *float64 `json:"value,omitempty"`
}

// 参数类覆盖键（覆盖会压制控制该参数的执行器）
const (
	OverrideTemperature = "temperature_override"
	OverrideHumidity    = "humidity_override"
	OverrideCO2         = "co2_override"
)

// parameterOverrideActuators 参数类覆盖压制的执行器
var parameterOverrideActuators = map[string][]ActuatorType{
	OverrideTemperature: {ActuatorHeatMat},
	OverrideHumidity:    {ActuatorHumidifier, ActuatorMister},
	OverrideCO2:         {ActuatorCO2Valve, ActuatorFan, ActuatorExhaustFan},
}

// ActuatorOverrideKey 执行器覆盖键，如 "humidifier_override"
func ActuatorOverrideKey(t ActuatorType) string {
	return string(t) + "_override"
}

// ValidOverrideKey 覆盖键是否合法
func ValidOverrideKey(key string) bool {
	if _, ok := parameterOverrideActuators[key]; ok {
		return true
	}
	for _, t := range ActuatorTypes {
		if ActuatorOverrideKey(t) == key {
			return true
		}
	}
	return false
}

// SensorSnapshot 最新传感器快照
type SensorSnapshot struct {
	Values    map[Parameter]float64 `json:"values"`
	Quality   ReadingQuality        `json:"quality"`
	Timestamp time.Time             `json:"timestamp"`
}

// AlertSettings 环境告警设置
type AlertSettings struct {
	Enabled      bool `json:"alert_enabled"`
	DelayMinutes int  `json:"alert_delay_minutes"` // 越限持续多久后才告警
}

// Environment 培养环境（培养箱）
type Environment struct {
	ID             string                         `json:"id"`
	Name           string                         `json:"name"`
	Description    string                         `json:"description,omitempty"`
	Status         EnvironmentStatus              `json:"status"`
	SpeciesID      string                         `json:"species_id,omitempty"`
	CurrentPhase   string                         `json:"current_phase,omitempty"`
	PhaseStartTime *time.Time                     `json:"phase_start_time,omitempty"`
	Latest         *SensorSnapshot                `json:"latest,omitempty"`
	Actuators      map[ActuatorType]ActuatorState `json:"actuators"`
	Overrides      map[string]OverrideValue       `json:"overrides,omitempty"`
	OverrideSetAt  *time.Time                     `json:"override_set_at,omitempty"`
	OverrideExpiry *time.Time                     `json:"override_expires_at,omitempty"`
	Alerts         AlertSettings                  `json:"alert_settings"`
	TickInterval   time.Duration                  `json:"tick_interval,omitempty"` // 0 表示使用全局默认
	CreatedAt      time.Time                      `json:"created_at"`
	UpdatedAt      time.Time                      `json:"updated_at"`
}

// NewEnvironment 创建空闲环境（执行器全部关闭，默认告警延迟15分钟）
func NewEnvironment(id, name string, now time.Time) *Environment {
	env := &Environment{
		ID:        id,
		Name:      name,
		Status:    EnvironmentIdle,
		Actuators: make(map[ActuatorType]ActuatorState, len(ActuatorTypes)),
		Alerts:    AlertSettings{Enabled: true, DelayMinutes: 15},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, t := range ActuatorTypes {
		env.Actuators[t] = ActuatorState{}
	}
	return env
}

// Validate 校验不变量：current_phase 为空当且仅当 species 为空
func (e *Environment) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: environment id is required", ErrValidation)
	}
	if _, err := ParseEnvironmentStatus(string(e.Status)); err != nil {
		return err
	}
	if (e.SpeciesID == "") != (e.CurrentPhase == "") {
		return fmt.Errorf("%w: environment %s has species %q with phase %q",
			ErrStateInconsistency, e.ID, e.SpeciesID, e.CurrentPhase)
	}
	for key := range e.Overrides {
		if !ValidOverrideKey(key) {
			return fmt.Errorf("%w: unknown override key %q", ErrValidation, key)
		}
	}
	return nil
}

// OverrideActive 覆盖是否生效（过期视为失效，惰性判断，不主动清理）
func (e *Environment) OverrideActive(now time.Time) bool {
	if len(e.Overrides) == 0 {
		return false
	}
	if e.OverrideExpiry != nil && !now.Before(*e.OverrideExpiry) {
		return false
	}
	return true
}

// OverrideFor 查找压制某执行器的生效覆盖，返回覆盖键
func (e *Environment) OverrideFor(t ActuatorType, now time.Time) (string, OverrideValue, bool) {
	if !e.OverrideActive(now) {
		return "", OverrideValue{}, false
	}
	key := ActuatorOverrideKey(t)
	if v, ok := e.Overrides[key]; ok {
		return key, v, true
	}
	for paramKey, actuators := range parameterOverrideActuators {
		v, ok := e.Overrides[paramKey]
		if !ok {
			continue
		}
		for _, a := range actuators {
			if a == t {
				return paramKey, v, true
			}
		}
	}
	return "", OverrideValue{}, false
}

// Clone 深拷贝
func (e *Environment) Clone() *Environment {
	if e == nil {
		return nil
	}
	c := *e
	c.PhaseStartTime = cloneTime(e.PhaseStartTime)
	c.OverrideSetAt = cloneTime(e.OverrideSetAt)
	c.OverrideExpiry = cloneTime(e.OverrideExpiry)
	if e.Latest != nil {
		snap := *e.Latest
		snap.Values = make(map[Parameter]float64, len(e.Latest.Values))
		for k, v := range e.Latest.Values {
			snap.Values[k] = v
		}
		c.Latest = &snap
	}
	c.Actuators = make(map[ActuatorType]ActuatorState, len(e.Actuators))
	for k, v := range e.Actuators {
		if v.Intensity != nil {
			i := *v.Intensity
			v.Intensity = &i
		}
		c.Actuators[k] = v
	}
	if e.Overrides != nil {
		c.Overrides = make(map[string]OverrideValue, len(e.Overrides))
		for k, v := range e.Overrides {
			c.Overrides[k] = v
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
