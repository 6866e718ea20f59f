package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"mushroom-automation/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSnapshotCache_Environment(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewSnapshotCache(client, "mushroom:snapshot:", 5*time.Minute, zap.NewNop())
	ctx := context.Background()

	_, err := c.GetEnvironment(ctx, "env-1")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	env := models.NewEnvironment("env-1", "Tent A", time.Now())
	env.Actuators[models.ActuatorHumidifier] = models.ActuatorState{On: true}
	require.NoError(t, c.PutEnvironment(ctx, env))

	got, err := c.GetEnvironment(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, "Tent A", got.Name)
	assert.True(t, got.Actuators[models.ActuatorHumidifier].On)
	assert.Equal(t, 5*time.Minute, mr.TTL("mushroom:snapshot:environment:env-1"))
}

func TestSnapshotCache_ActiveAlerts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewSnapshotCache(client, "mushroom:snapshot:", time.Minute, zap.NewNop())
	ctx := context.Background()

	alerts, err := c.GetActiveAlerts(ctx, "env-1")
	require.NoError(t, err)
	assert.Empty(t, alerts)

	require.NoError(t, c.PutActiveAlerts(ctx, "env-1", []*models.Alert{
		{ID: "a-1", EnvironmentID: "env-1", Type: models.AlertHumidityLow, Status: models.AlertActive},
	}))

	alerts, err = c.GetActiveAlerts(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertHumidityLow, alerts[0].Type)

	require.NoError(t, c.DeleteEnvironment(ctx, "env-1"))
	assert.False(t, mr.Exists("mushroom:snapshot:alerts:env-1"))
}
