package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

func TestRuleOperator_Compare(t *testing.T) {
	tests := []struct {
		op       RuleOperator
		value    float64
		expected bool
	}{
		{OpGreaterThan, 81, true},
		{OpGreaterThan, 80, false},
		{OpGreaterEqual, 80, true},
		{OpLessThan, 78, true},
		{OpLessEqual, 80, true},
		{OpEqual, 80, true},
		{OpNotEqual, 80, false},
		{OpBetween, 85, true},
		{OpBetween, 91, false},
		{OpNotBetween, 91, true},
		{OpNotBetween, 90, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.op.Compare(tt.value, 80, 90))
		})
	}
}

func TestParseEnums_RejectUnknown(t *testing.T) {
	_, err := ParseRuleOperator("approx")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = ParseActionKind("reboot")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = ParseAlertStatus("closed")
	assert.True(t, errors.Is(err, ErrValidation))

	logic, err := ParseLogicOperator("")
	require.NoError(t, err)
	assert.Equal(t, LogicAnd, logic)

	sev, err := ParseAlertSeverity("")
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, sev)
}

func TestAlertStatus_StateMachine(t *testing.T) {
	assert.True(t, AlertActive.CanTransitionTo(AlertAcknowledged))
	assert.True(t, AlertActive.CanTransitionTo(AlertDismissed))
	assert.True(t, AlertAcknowledged.CanTransitionTo(AlertResolved))
	assert.False(t, AlertAcknowledged.CanTransitionTo(AlertActive))
	assert.False(t, AlertResolved.CanTransitionTo(AlertAcknowledged))
	assert.False(t, AlertDismissed.CanTransitionTo(AlertResolved))
	assert.True(t, AlertResolved.IsTerminal())
}

func TestAlertSeverity_Next(t *testing.T) {
	assert.Equal(t, SeverityMedium, SeverityLow.Next())
	assert.Equal(t, SeverityCritical, SeverityHigh.Next())
	assert.Equal(t, SeverityCritical, SeverityCritical.Next())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
}

func TestHourWindow_WrapsMidnight(t *testing.T) {
	w := HourWindow{Start: 22, End: 6}
	at := func(h int) time.Time { return time.Date(2024, 1, 1, h, 30, 0, 0, time.UTC) }

	assert.True(t, w.Contains(at(23)))
	assert.True(t, w.Contains(at(2)))
	assert.False(t, w.Contains(at(6)))
	assert.False(t, w.Contains(at(12)))

	day := HourWindow{Start: 8, End: 20}
	assert.True(t, day.Contains(at(8)))
	assert.False(t, day.Contains(at(20)))

	assert.True(t, HourWindow{Start: 5, End: 5}.Contains(at(17)))
}

func TestParseDayWindow(t *testing.T) {
	w, err := ParseDayWindow("06:30", "18:00")
	require.NoError(t, err)
	assert.True(t, w.Contains(time.Date(2024, 1, 1, 6, 30, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2024, 1, 1, 6, 29, 0, 0, time.UTC)))

	_, err = ParseDayWindow("25:00", "18:00")
	assert.True(t, errors.Is(err, ErrValidation))
}

func validRule() *AutomationRule {
	return &AutomationRule{
		Name:     "Raise humidity",
		Enabled:  true,
		Priority: 10,
		Conditions: []Condition{
			{Parameter: ParamHumidity, Operator: OpLessThan, Threshold: 80, DurationMinutes: 15},
		},
		Actions: []Action{
			{ExecutionOrder: 2, Kind: ActionSendAlert, SendAlert: &SendAlertParams{Message: "humidity low"}},
			{ExecutionOrder: 1, Kind: ActionSetActuator, SetActuator: &SetActuatorParams{Target: ActuatorHumidifier, State: true}},
		},
	}
}

func TestAutomationRule_Validate(t *testing.T) {
	r := validRule()
	require.NoError(t, r.Validate())

	assert.Equal(t, LogicAnd, r.Logic)
	assert.Equal(t, ActionSetActuator, r.Actions[0].Kind)
	assert.Equal(t, AlertCustom, r.Actions[1].SendAlert.AlertType)
	assert.Equal(t, SeverityMedium, r.Actions[1].SendAlert.Severity)
}

func TestAutomationRule_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *AutomationRule)
	}{
		{"priority out of range", func(r *AutomationRule) { r.Priority = 1001 }},
		{"no conditions", func(r *AutomationRule) { r.Conditions = nil }},
		{"between without max", func(r *AutomationRule) { r.Conditions[0].Operator = OpBetween }},
		{"unknown actuator", func(r *AutomationRule) { r.Actions[1].SetActuator.Target = "pump" }},
		{"payload mismatch", func(r *AutomationRule) {
			r.Actions[1].Delay = &DelayParams{Seconds: 5}
		}},
		{"bad active hours", func(r *AutomationRule) { r.ActiveHours = &HourWindow{Start: 3, End: 24} }},
		{"intensity too high", func(r *AutomationRule) { r.Actions[1].SetActuator.Intensity = floatPtr(120) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)
			err := r.Validate()
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}
}

func TestAutomationRule_AppliesTo(t *testing.T) {
	env := NewEnvironment("env-1", "Tent A", time.Now())
	env.SpeciesID = "lions-mane"
	env.CurrentPhase = "fruiting"

	assert.True(t, (&AutomationRule{}).AppliesTo(env))
	assert.True(t, (&AutomationRule{SpeciesID: "lions-mane"}).AppliesTo(env))
	assert.True(t, (&AutomationRule{SpeciesID: "lions-mane", PhaseName: "fruiting"}).AppliesTo(env))
	assert.False(t, (&AutomationRule{SpeciesID: "lions-mane", PhaseName: "colonization"}).AppliesTo(env))
	assert.False(t, (&AutomationRule{EnvironmentID: "env-2"}).AppliesTo(env))
}

func TestAutomationRule_CloneIsIndependent(t *testing.T) {
	r := validRule()
	r.Conditions[0].ThresholdMax = floatPtr(90)
	c := r.Clone()

	*c.Conditions[0].ThresholdMax = 95
	c.Actions[1].SetActuator.State = false

	assert.Equal(t, 90.0, *r.Conditions[0].ThresholdMax)
	assert.True(t, r.Actions[1].SetActuator.State)
}

func TestEnvironment_OverrideFor(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env := NewEnvironment("env-1", "Tent A", now)

	_, _, ok := env.OverrideFor(ActuatorHumidifier, now)
	assert.False(t, ok)

	env.Overrides = map[string]OverrideValue{"humidifier_override": {State: boolPtr(false)}}
	key, v, ok := env.OverrideFor(ActuatorHumidifier, now)
	require.True(t, ok)
	assert.Equal(t, "humidifier_override", key)
	assert.False(t, *v.State)

	env.Overrides = map[string]OverrideValue{OverrideHumidity: {Value: floatPtr(88)}}
	key, _, ok = env.OverrideFor(ActuatorMister, now)
	require.True(t, ok)
	assert.Equal(t, OverrideHumidity, key)

	_, _, ok = env.OverrideFor(ActuatorHeatMat, now)
	assert.False(t, ok)
}

func TestEnvironment_OverrideExpiresLazily(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env := NewEnvironment("env-1", "Tent A", now)
	expiry := now.Add(30 * time.Minute)
	env.Overrides = map[string]OverrideValue{"fan_override": {State: boolPtr(true)}}
	env.OverrideExpiry = &expiry

	assert.True(t, env.OverrideActive(now.Add(29*time.Minute)))
	assert.False(t, env.OverrideActive(now.Add(30*time.Minute)))
	assert.Len(t, env.Overrides, 1)
}

func TestEnvironment_Validate(t *testing.T) {
	env := NewEnvironment("env-1", "Tent A", time.Now())
	require.NoError(t, env.Validate())

	env.SpeciesID = "shiitake"
	assert.True(t, errors.Is(env.Validate(), ErrStateInconsistency))

	env.CurrentPhase = "colonization"
	require.NoError(t, env.Validate())

	env.Overrides = map[string]OverrideValue{"pump_override": {}}
	assert.True(t, errors.Is(env.Validate(), ErrValidation))
}

func TestSensorReading_Validate(t *testing.T) {
	r := &SensorReading{EnvironmentID: "env-1", Values: map[Parameter]float64{ParamHumidity: 78}}
	require.NoError(t, r.Validate())

	r.Values[ParamHour] = 3
	assert.True(t, errors.Is(r.Validate(), ErrValidation))

	assert.True(t, errors.Is((&SensorReading{EnvironmentID: "env-1"}).Validate(), ErrValidation))
}
