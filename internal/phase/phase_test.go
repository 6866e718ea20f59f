package phase

import (
	"context"
	"testing"
	"time"

	"mushroom-automation/internal/alerts"
	"mushroom-automation/internal/catalog"
	"mushroom-automation/internal/clock"
	"mushroom-automation/internal/environment"
	"mushroom-automation/internal/models"
	"mushroom-automation/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	envs   *environment.Manager
	alerts *alerts.Manager
	clock  *clock.Fake
	cat    *catalog.Catalog
}

func setup(t *testing.T, speciesID, phaseName string) *fixture {
	clk := clock.NewFake(t0)
	cat := catalog.Default()
	envs := environment.NewManager(repository.NewMemoryEnvironmentRepository(), cat, clk, zap.NewNop())
	alertManager := alerts.NewManager(repository.NewMemoryAlertRepository(), alerts.DefaultPolicy(), clk, zap.NewNop())

	ctx := context.Background()
	_, err := envs.Create(ctx, "env-1", "Tent A", "")
	require.NoError(t, err)
	if speciesID != "" {
		_, err = envs.AssignSpecies(ctx, "env-1", speciesID, phaseName)
		require.NoError(t, err)
	}
	return &fixture{envs: envs, alerts: alertManager, clock: clk, cat: cat}
}

func (f *fixture) env(t *testing.T) *models.Environment {
	env, err := f.envs.Get(context.Background(), "env-1")
	require.NoError(t, err)
	return env
}

func TestTransitioner_AutoAdvance(t *testing.T) {
	f := setup(t, "lions-mane", "colonization")
	tr := NewTransitioner(f.cat, f.envs, f.alerts, zap.NewNop())
	ctx := context.Background()

	result, err := tr.Check(ctx, f.env(t), t0.Add(9*day))
	require.NoError(t, err)
	assert.False(t, result.Advanced)

	f.clock.Set(t0.Add(10 * day))
	result, err = tr.Check(ctx, f.env(t), f.clock.Now())
	require.NoError(t, err)
	assert.True(t, result.Advanced)
	assert.Equal(t, "colonization", result.FromPhase)
	assert.Equal(t, "fruiting", result.ToPhase)

	env := f.env(t)
	assert.Equal(t, "fruiting", env.CurrentPhase)
	assert.Equal(t, t0.Add(10*day), *env.PhaseStartTime)
}

func TestTransitioner_KeepsConcurrentManualChange(t *testing.T) {
	f := setup(t, "lions-mane", "colonization")
	tr := NewTransitioner(f.cat, f.envs, f.alerts, zap.NewNop())
	ctx := context.Background()

	// tick 开始时的快照仍是 colonization
	f.clock.Set(t0.Add(10 * day))
	snapshot := f.env(t)

	// 检查前操作员手动切换阶段
	f.clock.Set(t0.Add(10*day + time.Minute))
	_, err := f.envs.ChangePhase(ctx, "env-1", "colonization")
	require.NoError(t, err)

	result, err := tr.Check(ctx, snapshot, f.clock.Now())
	require.NoError(t, err)
	assert.False(t, result.Advanced)

	env := f.env(t)
	assert.Equal(t, "colonization", env.CurrentPhase)
	assert.Equal(t, t0.Add(10*day+time.Minute), *env.PhaseStartTime)
}

func TestTransitioner_LastPhaseReadyForHarvest(t *testing.T) {
	f := setup(t, "lions-mane", "fruiting")
	tr := NewTransitioner(f.cat, f.envs, f.alerts, zap.NewNop())
	ctx := context.Background()

	result, err := tr.Check(ctx, f.env(t), t0.Add(10*day))
	require.NoError(t, err)
	assert.False(t, result.Overdue)

	result, err = tr.Check(ctx, f.env(t), t0.Add(11*day))
	require.NoError(t, err)
	assert.True(t, result.Overdue)
	assert.False(t, result.Advanced)

	// 重复检查只更新同一条告警
	_, err = tr.Check(ctx, f.env(t), t0.Add(12*day))
	require.NoError(t, err)

	open, err := f.alerts.Open(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.AlertPhaseOverdue, open[0].Type)
	assert.Equal(t, models.SeverityLow, open[0].Severity)
	assert.Equal(t, "Ready for harvest", open[0].Title)
	assert.Equal(t, 2, open[0].OccurrenceCount)
	assert.Equal(t, "fruiting", f.env(t).CurrentPhase)
}

func TestTransitioner_ManualPhaseNeverAdvances(t *testing.T) {
	f := setup(t, "shiitake", "colonization")
	tr := NewTransitioner(f.cat, f.envs, f.alerts, zap.NewNop())
	ctx := context.Background()

	result, err := tr.Check(ctx, f.env(t), t0.Add(25*day))
	require.NoError(t, err)
	assert.False(t, result.Advanced)
	assert.False(t, result.Overdue)

	result, err = tr.Check(ctx, f.env(t), t0.Add(31*day))
	require.NoError(t, err)
	assert.False(t, result.Advanced)
	assert.True(t, result.Overdue)
	assert.Equal(t, "colonization", f.env(t).CurrentPhase)
}

func TestTransitioner_NoSpecies(t *testing.T) {
	f := setup(t, "", "")
	tr := NewTransitioner(f.cat, f.envs, f.alerts, zap.NewNop())

	result, err := tr.Check(context.Background(), f.env(t), t0.Add(100*day))
	require.NoError(t, err)
	assert.Equal(t, TransitionResult{}, result)
}

func humidityReading(v float64, at time.Time) *models.SensorReading {
	return &models.SensorReading{
		EnvironmentID: "env-1",
		Timestamp:     at,
		Values: map[models.Parameter]float64{
			models.ParamTemperature: 18,
			models.ParamHumidity:    v,
			models.ParamCO2:         600,
		},
		Quality: models.QualityGood,
	}
}

func TestMonitor_AlertAfterDelay(t *testing.T) {
	f := setup(t, "lions-mane", "fruiting")
	m := NewMonitor(f.cat, f.alerts, MonitorConfig{AutoResolve: true}, zap.NewNop())
	ctx := context.Background()
	env := f.env(t)

	for minute := 0; minute < 15; minute++ {
		now := t0.Add(time.Duration(minute) * time.Minute)
		require.NoError(t, m.Check(ctx, env, humidityReading(78, now), nil, now))
	}
	open, err := f.alerts.Open(ctx, "env-1")
	require.NoError(t, err)
	assert.Empty(t, open)

	now := t0.Add(15 * time.Minute)
	require.NoError(t, m.Check(ctx, env, humidityReading(78, now), nil, now))
	open, err = f.alerts.Open(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.AlertHumidityLow, open[0].Type)
	assert.Equal(t, 78.0, *open[0].TriggerValue)
	assert.Equal(t, 85.0, *open[0].ThresholdValue)

	// 回到范围内自动解决
	now = t0.Add(20 * time.Minute)
	require.NoError(t, m.Check(ctx, env, humidityReading(87, now), nil, now))
	open, err = f.alerts.Open(ctx, "env-1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestMonitor_TriggeredRuleHandlesParameter(t *testing.T) {
	f := setup(t, "lions-mane", "fruiting")
	m := NewMonitor(f.cat, f.alerts, MonitorConfig{}, zap.NewNop())
	ctx := context.Background()
	env := f.env(t)
	env.Alerts.DelayMinutes = 0

	rule := &models.AutomationRule{
		Name: "humidify",
		Conditions: []models.Condition{
			{Parameter: models.ParamHumidity, Operator: models.OpLessThan, Threshold: 80},
		},
	}
	require.NoError(t, m.Check(ctx, env, humidityReading(70, t0), []*models.AutomationRule{rule}, t0))
	open, err := f.alerts.Open(ctx, "env-1")
	require.NoError(t, err)
	assert.Empty(t, open)

	require.NoError(t, m.Check(ctx, env, humidityReading(70, t0.Add(time.Minute)), nil, t0.Add(time.Minute)))
	open, err = f.alerts.Open(ctx, "env-1")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestMonitor_DisabledAndBadQuality(t *testing.T) {
	f := setup(t, "lions-mane", "fruiting")
	m := NewMonitor(f.cat, f.alerts, MonitorConfig{}, zap.NewNop())
	ctx := context.Background()

	env := f.env(t)
	env.Alerts.DelayMinutes = 0
	bad := humidityReading(40, t0)
	bad.Quality = models.QualityBad
	require.NoError(t, m.Check(ctx, env, bad, nil, t0))

	env.Alerts.Enabled = false
	require.NoError(t, m.Check(ctx, env, humidityReading(40, t0), nil, t0))

	open, err := f.alerts.Open(ctx, "env-1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestMonitor_SensorOffline(t *testing.T) {
	f := setup(t, "lions-mane", "fruiting")
	m := NewMonitor(f.cat, f.alerts, MonitorConfig{AutoResolve: true, StaleAfter: 10 * time.Minute}, zap.NewNop())
	ctx := context.Background()
	env := f.env(t)

	stale := humidityReading(87, t0)
	require.NoError(t, m.Check(ctx, env, stale, nil, t0.Add(11*time.Minute)))

	open, err := f.alerts.Open(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.AlertSensorOffline, open[0].Type)

	now := t0.Add(12 * time.Minute)
	require.NoError(t, m.Check(ctx, env, humidityReading(87, now), nil, now))
	open, err = f.alerts.Open(ctx, "env-1")
	require.NoError(t, err)
	assert.Empty(t, open)
}
