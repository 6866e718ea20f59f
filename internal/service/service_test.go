package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mushroom-automation/internal/actuator"
	"mushroom-automation/internal/clock"
	"mushroom-automation/internal/config"
	"mushroom-automation/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type recordingController struct {
	mu       sync.Mutex
	commands []actuator.Command
	times    []time.Time
	clock    clock.Clock
}

func (c *recordingController) SetActuator(_ context.Context, cmd actuator.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, cmd)
	c.times = append(c.times, c.clock.Now())
	return nil
}

func (c *recordingController) calls() []actuator.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]actuator.Command(nil), c.commands...)
}

func testConfig() *config.Config {
	cfg := &config.Config{StorageBackend: config.StorageMemory}
	cfg.Automation.TickInterval = time.Minute
	cfg.Automation.QueueSize = 4
	cfg.Automation.MaxRetryAttempts = 2
	cfg.Automation.MaxRetryDelay = time.Second
	cfg.Automation.StateTTL = time.Hour
	cfg.Automation.StateKeyPrefix = "test:rule:"
	cfg.Alerts.EscalationInterval = time.Minute
	cfg.Alerts.EscalationDelay = 30 * time.Minute
	cfg.Alerts.AutoResolve = true
	cfg.Cache.SnapshotKeyPrefix = "test:env:"
	cfg.Cache.SnapshotTTL = time.Minute
	cfg.MQTT.TopicPrefix = "mushroom"
	return cfg
}

type fixture struct {
	svc        *AutomationService
	clock      *clock.Fake
	controller *recordingController
}

func setupService(t *testing.T, redisClient *redis.Client) *fixture {
	clk := clock.NewFake(t0)
	controller := &recordingController{clock: clk}
	svc, err := New(testConfig(), Dependencies{
		Clock:      clk,
		Redis:      redisClient,
		Controller: controller,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { svc.Stop() })
	return &fixture{svc: svc, clock: clk, controller: controller}
}

// setupFruitingEnvironment 创建处于 Lion's Mane 出菇期的环境
func (f *fixture) setupFruitingEnvironment(t *testing.T, alertsEnabled bool) {
	ctx := context.Background()
	_, err := f.svc.CreateEnvironment(ctx, "env-1", "Tent A", "")
	require.NoError(t, err)
	_, err = f.svc.AssignSpecies(ctx, "env-1", "lions-mane", "fruiting")
	require.NoError(t, err)
	_, err = f.svc.UpdateAlertSettings(ctx, "env-1", models.AlertSettings{Enabled: alertsEnabled})
	require.NoError(t, err)
}

func humidifierRule() *models.AutomationRule {
	return &models.AutomationRule{
		Name:            "Raise humidity",
		Enabled:         true,
		Priority:        10,
		SpeciesID:       "lions-mane",
		PhaseName:       "fruiting",
		Logic:           models.LogicAnd,
		CooldownMinutes: 30,
		Conditions: []models.Condition{
			{Parameter: models.ParamHumidity, Operator: models.OpLessThan, Threshold: 85, DurationMinutes: 15},
		},
		Actions: []models.Action{
			{
				ExecutionOrder: 1,
				Kind:           models.ActionSetActuator,
				SetActuator:    &models.SetActuatorParams{Target: models.ActuatorHumidifier, State: true},
			},
		},
	}
}

func humidityReading(at time.Time, value float64) *models.SensorReading {
	return &models.SensorReading{
		EnvironmentID: "env-1",
		Timestamp:     at,
		Values:        map[models.Parameter]float64{models.ParamHumidity: value},
		Quality:       models.QualityGood,
	}
}

// tickAt 在指定分钟执行一次 tick
func (f *fixture) tickAt(t *testing.T, minute int, reading func(time.Time) *models.SensorReading) {
	now := t0.Add(time.Duration(minute) * time.Minute)
	f.clock.Set(now)
	require.NoError(t, f.svc.tick(context.Background(), "env-1", reading(now), true, now))
}

func TestTick_LionsManeHumidityScenario(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()
	f.setupFruitingEnvironment(t, false)
	_, err := f.svc.UpsertRule(ctx, humidifierRule())
	require.NoError(t, err)

	for m := 0; m <= 30; m++ {
		f.tickAt(t, m, func(now time.Time) *models.SensorReading { return humidityReading(now, 80) })
	}

	calls := f.controller.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.ActuatorHumidifier, calls[0].Actuator)
	assert.True(t, calls[0].On)
	assert.Equal(t, t0.Add(15*time.Minute), f.controller.times[0])

	env, err := f.svc.GetEnvironment(ctx, "env-1")
	require.NoError(t, err)
	assert.True(t, env.Actuators[models.ActuatorHumidifier].On)
	require.NotNil(t, env.Latest)
	assert.Equal(t, 80.0, env.Latest.Values[models.ParamHumidity])

	logs, err := f.svc.ActuatorHistory(ctx, "env-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)

	readings, err := f.svc.ReadingHistory(ctx, "env-1", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, readings, 31)
}

func TestTick_OverrideSuppressesRule(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()
	f.setupFruitingEnvironment(t, false)

	rule := humidifierRule()
	rule.Conditions[0].DurationMinutes = 0
	_, err := f.svc.UpsertRule(ctx, rule)
	require.NoError(t, err)

	off := false
	_, err = f.svc.SetOverride(ctx, "env-1", map[string]models.OverrideValue{
		models.OverrideHumidity: {State: &off},
	}, time.Hour)
	require.NoError(t, err)

	f.tickAt(t, 0, func(now time.Time) *models.SensorReading { return humidityReading(now, 70) })

	assert.Empty(t, f.controller.calls())
	env, err := f.svc.GetEnvironment(ctx, "env-1")
	require.NoError(t, err)
	assert.False(t, env.Actuators[models.ActuatorHumidifier].On)

	logs, err := f.svc.ActuatorHistory(ctx, "env-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "suppressed by override", logs[0].Reason)
}

func TestTick_MaintenanceSkipsAutomation(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()
	f.setupFruitingEnvironment(t, false)

	rule := humidifierRule()
	rule.Conditions[0].DurationMinutes = 0
	_, err := f.svc.UpsertRule(ctx, rule)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, "env-1", models.EnvironmentMaintenance)
	require.NoError(t, err)

	f.tickAt(t, 0, func(now time.Time) *models.SensorReading { return humidityReading(now, 70) })

	assert.Empty(t, f.controller.calls())
}

func TestTick_OutOfRangeRaisesAndResolvesAlert(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()
	f.setupFruitingEnvironment(t, true)

	temperature := func(v float64) func(time.Time) *models.SensorReading {
		return func(now time.Time) *models.SensorReading {
			return &models.SensorReading{
				EnvironmentID: "env-1",
				Timestamp:     now,
				Values:        map[models.Parameter]float64{models.ParamTemperature: v},
				Quality:       models.QualityGood,
			}
		}
	}

	f.tickAt(t, 0, temperature(26))
	f.tickAt(t, 1, temperature(26.5))

	open, err := f.svc.OpenAlerts(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.AlertTemperatureHigh, open[0].Type)
	assert.Equal(t, 2, open[0].OccurrenceCount)

	f.tickAt(t, 2, temperature(18))

	open, err = f.svc.OpenAlerts(ctx, "env-1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestAlertLifecycle_PassThrough(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()
	f.setupFruitingEnvironment(t, true)

	f.tickAt(t, 0, func(now time.Time) *models.SensorReading { return humidityReading(now, 60) })

	open, err := f.svc.OpenAlerts(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	id := open[0].ID

	acked, err := f.svc.AcknowledgeAlert(ctx, id, "grower")
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, acked.Status)

	again, err := f.svc.AcknowledgeAlert(ctx, id, "grower")
	require.NoError(t, err)
	assert.Equal(t, acked.AcknowledgedAt, again.AcknowledgedAt)

	resolved, err := f.svc.ResolveAlert(ctx, id, "grower")
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, resolved.Status)

	_, err = f.svc.DismissAlert(ctx, id, "grower")
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestUpsertRule_Validation(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()

	noConditions := humidifierRule()
	noConditions.Conditions = nil
	_, err := f.svc.UpsertRule(ctx, noConditions)
	assert.True(t, errors.Is(err, models.ErrValidation))

	unknownPhase := humidifierRule()
	unknownPhase.PhaseName = "pinning"
	_, err = f.svc.UpsertRule(ctx, unknownPhase)
	assert.True(t, errors.Is(err, models.ErrValidation))

	saved, err := f.svc.UpsertRule(ctx, humidifierRule())
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	rules, err := f.svc.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	require.NoError(t, f.svc.DeleteRule(ctx, saved.ID))
	_, err = f.svc.GetRule(ctx, saved.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestUpsertRule_ChangedConditionsResetDuration(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()
	f.setupFruitingEnvironment(t, false)

	saved, err := f.svc.UpsertRule(ctx, humidifierRule())
	require.NoError(t, err)

	for m := 0; m <= 10; m++ {
		f.tickAt(t, m, func(now time.Time) *models.SensorReading { return humidityReading(now, 80) })
	}

	// 阈值修改后持续时长重新计时
	saved.Conditions[0].Threshold = 84
	_, err = f.svc.UpsertRule(ctx, saved)
	require.NoError(t, err)

	for m := 11; m <= 20; m++ {
		f.tickAt(t, m, func(now time.Time) *models.SensorReading { return humidityReading(now, 80) })
	}
	assert.Empty(t, f.controller.calls())

	for m := 21; m <= 26; m++ {
		f.tickAt(t, m, func(now time.Time) *models.SensorReading { return humidityReading(now, 80) })
	}
	require.Len(t, f.controller.calls(), 1)
	assert.Equal(t, t0.Add(26*time.Minute), f.controller.times[0])
}

func TestSubmitReading(t *testing.T) {
	f := setupService(t, nil)

	err := f.svc.SubmitReading(nil)
	assert.True(t, errors.Is(err, models.ErrValidation))

	err = f.svc.SubmitReading(humidityReading(t0, 80))
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = f.svc.CreateEnvironment(context.Background(), "env-1", "Tent A", "")
	require.NoError(t, err)
	assert.NoError(t, f.svc.SubmitReading(humidityReading(time.Time{}, 80)))
	assert.NoError(t, f.svc.SubmitPayload("env-1", []byte(`{"humidity":81}`)))
	assert.Error(t, f.svc.SubmitPayload("env-1", []byte(`{}`)))
}

func TestStartStop_ProcessesSubmittedReadings(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()
	f.setupFruitingEnvironment(t, false)

	require.NoError(t, f.svc.Start(ctx))
	assert.Error(t, f.svc.Start(ctx))

	require.NoError(t, f.svc.SubmitReading(humidityReading(t0, 88)))
	require.NoError(t, f.svc.TriggerEvaluation("env-1"))

	require.Eventually(t, func() bool {
		env, err := f.svc.GetEnvironment(ctx, "env-1")
		return err == nil && env.Latest != nil && env.Latest.Values[models.ParamHumidity] == 88
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.svc.Stop())
}

func TestStartStop_RetainedReadingStoredOnce(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()
	f.setupFruitingEnvironment(t, true)

	require.NoError(t, f.svc.Start(ctx))
	defer f.svc.Stop()

	require.NoError(t, f.svc.SubmitReading(humidityReading(t0, 60)))

	// 每个 tick 都用保留的读数做阈值监控，告警发生次数随 tick 增加
	for ticks := 1; ticks <= 3; ticks++ {
		require.NoError(t, f.svc.TriggerEvaluation("env-1"))
		require.Eventually(t, func() bool {
			open, err := f.svc.OpenAlerts(ctx, "env-1")
			return err == nil && len(open) == 1 && open[0].OccurrenceCount == ticks
		}, 2*time.Second, 10*time.Millisecond)
	}

	hist, err := f.svc.ReadingHistory(ctx, "env-1", t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestDeleteEnvironment_Unschedules(t *testing.T) {
	f := setupService(t, nil)
	ctx := context.Background()
	f.setupFruitingEnvironment(t, false)

	require.NoError(t, f.svc.DeleteEnvironment(ctx, "env-1"))
	assert.Empty(t, f.svc.scheduler.Registered())

	_, err := f.svc.GetEnvironment(ctx, "env-1")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestTick_RedisSnapshotAndState(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := setupService(t, client)
	ctx := context.Background()
	f.setupFruitingEnvironment(t, true)

	// 未经 tick 时快照缓存为空，回落到存储
	env, err := f.svc.CachedEnvironment(ctx, "env-1")
	require.NoError(t, err)
	assert.Nil(t, env.Latest)

	f.tickAt(t, 0, func(now time.Time) *models.SensorReading { return humidityReading(now, 60) })

	assert.True(t, mr.Exists("test:env:environment:env-1"))
	env, err = f.svc.CachedEnvironment(ctx, "env-1")
	require.NoError(t, err)
	require.NotNil(t, env.Latest)
	assert.Equal(t, 60.0, env.Latest.Values[models.ParamHumidity])

	f.svc.alerts.Wait()
	assert.True(t, mr.Exists("test:env:alerts:env-1"))
}
