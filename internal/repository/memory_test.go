package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"mushroom-automation/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEnvironmentRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryEnvironmentRepository()
	ctx := context.Background()

	env := models.NewEnvironment("env-1", "Tent A", time.Now())
	require.NoError(t, repo.Create(ctx, env))

	got, err := repo.Get(ctx, "env-1")
	require.NoError(t, err)
	got.Actuators[models.ActuatorFan] = models.ActuatorState{On: true}

	again, err := repo.Get(ctx, "env-1")
	require.NoError(t, err)
	assert.False(t, again.Actuators[models.ActuatorFan].On)

	err = repo.Create(ctx, env)
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMemoryRuleRepository_OrderAndSequence(t *testing.T) {
	repo := NewMemoryRuleRepository()
	ctx := context.Background()

	low, err := repo.Save(ctx, &models.AutomationRule{Name: "low", Priority: 20})
	require.NoError(t, err)
	first, err := repo.Save(ctx, &models.AutomationRule{Name: "first", Priority: 10})
	require.NoError(t, err)
	second, err := repo.Save(ctx, &models.AutomationRule{Name: "second", Priority: 10})
	require.NoError(t, err)

	rules, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, []string{first.ID, second.ID, low.ID}, []string{rules[0].ID, rules[1].ID, rules[2].ID})

	// 更新保留原序号
	first.Name = "first-edited"
	updated, err := repo.Save(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first.Sequence, updated.Sequence)

	require.NoError(t, repo.Delete(ctx, low.ID))
	_, err = repo.Get(ctx, low.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMemoryAlertRepository_SingleActivePerType(t *testing.T) {
	repo := NewMemoryAlertRepository()
	ctx := context.Background()
	now := time.Now()

	a := &models.Alert{EnvironmentID: "env-1", Type: models.AlertHumidityLow, Status: models.AlertActive, LastOccurrence: now}
	require.NoError(t, repo.Create(ctx, a))

	dup := &models.Alert{EnvironmentID: "env-1", Type: models.AlertHumidityLow, Status: models.AlertActive}
	assert.True(t, errors.Is(repo.Create(ctx, dup), models.ErrValidation))

	found, err := repo.FindActive(ctx, "env-1", models.AlertHumidityLow)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	found.Status = models.AlertResolved
	require.NoError(t, repo.Update(ctx, found))

	_, err = repo.FindActive(ctx, "env-1", models.AlertHumidityLow)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	list, err := repo.List(ctx, AlertFilter{EnvironmentID: "env-1", Statuses: []models.AlertStatus{models.AlertResolved}})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemorySensorReadingRepository_Retention(t *testing.T) {
	repo := NewMemorySensorReadingRepository(2)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Append(ctx, &models.SensorReading{
			EnvironmentID: "env-1",
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			Values:        map[models.Parameter]float64{models.ParamHumidity: float64(80 + i)},
		}))
	}

	latest, err := repo.Latest(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, 82.0, latest.Values[models.ParamHumidity])

	all, err := repo.Range(ctx, "env-1", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryActuatorLogRepository_NewestFirst(t *testing.T) {
	repo := NewMemoryActuatorLogRepository(0)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, &models.ActuatorLog{EnvironmentID: "env-1", Reason: "first"}))
	require.NoError(t, repo.Append(ctx, &models.ActuatorLog{EnvironmentID: "env-1", Reason: "second"}))

	logs, err := repo.List(ctx, "env-1", 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "second", logs[0].Reason)
	assert.NotEmpty(t, logs[0].ID)
}
