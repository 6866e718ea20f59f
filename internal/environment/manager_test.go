package environment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mushroom-automation/internal/catalog"
	"mushroom-automation/internal/clock"
	"mushroom-automation/internal/models"
	"mushroom-automation/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func setupManager(t *testing.T) (*Manager, *repository.MemoryEnvironmentRepository, *clock.Fake) {
	repo := repository.NewMemoryEnvironmentRepository()
	clk := clock.NewFake(start)
	m := NewManager(repo, catalog.Default(), clk, zap.NewNop())

	_, err := m.Create(context.Background(), "env-1", "Tent A", "")
	require.NoError(t, err)
	return m, repo, clk
}

func boolPtr(v bool) *bool { return &v }

func TestAssignSpecies_FirstPhase(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	env, err := m.AssignSpecies(ctx, "env-1", "lions-mane", "")
	require.NoError(t, err)
	assert.Equal(t, "lions-mane", env.SpeciesID)
	assert.Equal(t, "colonization", env.CurrentPhase)
	assert.Equal(t, models.EnvironmentActive, env.Status)
	require.NotNil(t, env.PhaseStartTime)
	assert.Equal(t, start, *env.PhaseStartTime)
}

func TestAssignSpecies_UnknownPhase(t *testing.T) {
	m, _, _ := setupManager(t)

	_, err := m.AssignSpecies(context.Background(), "env-1", "lions-mane", "pinning")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = m.AssignSpecies(context.Background(), "env-1", "truffle", "")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestUnassignSpecies_ClearsPhaseAndOverride(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	_, err := m.AssignSpecies(ctx, "env-1", "shiitake", "")
	require.NoError(t, err)
	_, err = m.SetOverride(ctx, "env-1", map[string]models.OverrideValue{"fan_override": {State: boolPtr(true)}}, 0)
	require.NoError(t, err)

	env, err := m.UnassignSpecies(ctx, "env-1")
	require.NoError(t, err)
	assert.Empty(t, env.SpeciesID)
	assert.Empty(t, env.CurrentPhase)
	assert.Nil(t, env.Overrides)
	assert.Equal(t, models.EnvironmentIdle, env.Status)
}

func TestChangePhase_Validates(t *testing.T) {
	m, _, clk := setupManager(t)
	ctx := context.Background()

	_, err := m.ChangePhase(ctx, "env-1", "fruiting")
	assert.True(t, errors.Is(err, models.ErrValidation), "no species assigned")

	_, err = m.AssignSpecies(ctx, "env-1", "shiitake", "")
	require.NoError(t, err)

	_, err = m.ChangePhase(ctx, "env-1", "pinning")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	clk.Advance(21 * 24 * time.Hour)
	env, err := m.ChangePhase(ctx, "env-1", "consolidation")
	require.NoError(t, err)
	assert.Equal(t, "consolidation", env.CurrentPhase)
	assert.Equal(t, clk.Now(), *env.PhaseStartTime)
}

func TestSetOverride_WithExpiry(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	env, err := m.SetOverride(ctx, "env-1", map[string]models.OverrideValue{
		"humidifier_override": {State: boolPtr(false)},
	}, 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, env.OverrideExpiry)
	assert.Equal(t, start.Add(30*time.Minute), *env.OverrideExpiry)
	assert.True(t, env.OverrideActive(start.Add(10*time.Minute)))
	assert.False(t, env.OverrideActive(start.Add(31*time.Minute)))

	_, err = m.SetOverride(ctx, "env-1", map[string]models.OverrideValue{"pump_override": {State: boolPtr(true)}}, 0)
	assert.True(t, errors.Is(err, models.ErrValidation))

	env, err = m.ClearOverride(ctx, "env-1")
	require.NoError(t, err)
	assert.False(t, env.OverrideActive(start))
}

func TestApplyReading_IgnoresOlderReadings(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	_, err := m.ApplyReading(ctx, &models.SensorReading{
		EnvironmentID: "env-1",
		Timestamp:     start.Add(time.Minute),
		Values:        map[models.Parameter]float64{models.ParamHumidity: 78},
	})
	require.NoError(t, err)

	env, err := m.ApplyReading(ctx, &models.SensorReading{
		EnvironmentID: "env-1",
		Timestamp:     start,
		Values:        map[models.Parameter]float64{models.ParamHumidity: 95},
	})
	require.NoError(t, err)
	assert.Equal(t, 78.0, env.Latest.Values[models.ParamHumidity])
	assert.Equal(t, models.QualityGood, env.Latest.Quality)
}

func TestLoad_HealsPhaseOutsideSpecies(t *testing.T) {
	m, repo, _ := setupManager(t)
	ctx := context.Background()

	env, err := repo.Get(ctx, "env-1")
	require.NoError(t, err)
	env.SpeciesID = "enoki"
	env.CurrentPhase = "consolidation" // enoki has no consolidation phase
	require.NoError(t, repo.Update(ctx, env))

	healed, err := m.Get(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, "colonization", healed.CurrentPhase)

	stored, err := repo.Get(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, "colonization", stored.CurrentPhase)
}

func TestLoad_HealsUnknownSpecies(t *testing.T) {
	m, repo, _ := setupManager(t)
	ctx := context.Background()

	env, err := repo.Get(ctx, "env-1")
	require.NoError(t, err)
	env.SpeciesID = "retired-species"
	env.CurrentPhase = "fruiting"
	require.NoError(t, repo.Update(ctx, env))

	healed, err := m.Get(ctx, "env-1")
	require.NoError(t, err)
	assert.Empty(t, healed.SpeciesID)
	assert.Empty(t, healed.CurrentPhase)
	assert.Equal(t, models.EnvironmentIdle, healed.Status)
}

func TestMarkDegraded(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.MarkDegraded(ctx, "env-1", "humidifier unreachable"))
	env, err := m.Get(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnvironmentError, env.Status)

	assert.True(t, errors.Is(m.MarkDegraded(ctx, "missing", "x"), models.ErrNotFound))
}

func TestMutate_SerializesWriters(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Mutate(ctx, "env-1", func(env *models.Environment) (bool, error) {
				env.Alerts.DelayMinutes++
				return true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	env, err := m.Get(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, 15+50, env.Alerts.DelayMinutes)
}

func TestDelete(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Delete(ctx, "env-1"))
	_, err := m.Get(ctx, "env-1")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestAdvancePhase_ComparesCurrentPhase(t *testing.T) {
	m, _, clk := setupManager(t)
	ctx := context.Background()
	_, err := m.AssignSpecies(ctx, "env-1", "lions-mane", "colonization")
	require.NoError(t, err)

	_, advanced, err := m.AdvancePhase(ctx, "env-1", "fruiting", start, "colonization")
	require.NoError(t, err)
	assert.False(t, advanced)

	_, advanced, err = m.AdvancePhase(ctx, "env-1", "colonization", start.Add(-time.Hour), "fruiting")
	require.NoError(t, err)
	assert.False(t, advanced)

	clk.Advance(time.Hour)
	env, advanced, err := m.AdvancePhase(ctx, "env-1", "colonization", start, "fruiting")
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, "fruiting", env.CurrentPhase)
	assert.Equal(t, start.Add(time.Hour), *env.PhaseStartTime)
}
