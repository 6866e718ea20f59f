package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCreateConsumerGroup_Idempotent(t *testing.T) {
	client := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "mushroom:sensor:stream", "automation"))
	require.NoError(t, CreateConsumerGroup(ctx, client, "mushroom:sensor:stream", "automation"))
}

func TestPublishAndRead(t *testing.T) {
	client := setupMiniRedis(t)
	ctx := context.Background()
	stream := "mushroom:sensor:stream"

	require.NoError(t, CreateConsumerGroup(ctx, client, stream, "automation"))

	_, err := PublishJSONToStream(ctx, client, stream, 0, map[string]interface{}{
		"environment_id": "env-1",
		"humidity":       78.5,
	})
	require.NoError(t, err)

	msgs, err := ReadFromStream(ctx, client, stream, "automation", "worker-1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, stream, msgs[0].Stream)
	assert.Contains(t, msgs[0].Values["data"], `"environment_id":"env-1"`)

	require.NoError(t, Ack(ctx, client, stream, "automation", msgs[0].ID))
}

func TestPublishToStream_Stringifies(t *testing.T) {
	client := setupMiniRedis(t)
	ctx := context.Background()

	_, err := PublishToStream(ctx, client, "s", 0, map[string]interface{}{
		"count": 3,
		"ok":    true,
		"value": 1.5,
	})
	require.NoError(t, err)

	entries, err := client.XRange(ctx, "s", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "3", entries[0].Values["count"])
	assert.Equal(t, "true", entries[0].Values["ok"])
	assert.Equal(t, "1.5", entries[0].Values["value"])
}

func TestPublishToStream_TrimsToMaxLen(t *testing.T) {
	client := setupMiniRedis(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := PublishToStream(ctx, client, "s", 5, map[string]interface{}{"i": i})
		require.NoError(t, err)
	}

	n, err := client.XLen(ctx, "s").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(20))
	assert.GreaterOrEqual(t, n, int64(5))
}

func TestReadPending_RedeliversUnacked(t *testing.T) {
	client := setupMiniRedis(t)
	ctx := context.Background()
	stream := "mushroom:sensor:stream"

	require.NoError(t, CreateConsumerGroup(ctx, client, stream, "automation"))
	_, err := PublishJSONToStream(ctx, client, stream, 0, map[string]interface{}{"environment_id": "env-1"})
	require.NoError(t, err)

	msgs, err := ReadFromStream(ctx, client, stream, "automation", "worker-1", 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// 未确认：同一消费者重启后仍能读到
	pending, err := ReadPending(ctx, client, stream, "automation", "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msgs[0].ID, pending[0].ID)

	require.NoError(t, Ack(ctx, client, stream, "automation", pending[0].ID))
	pending, err = ReadPending(ctx, client, stream, "automation", "worker-1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAck_NoIDs(t *testing.T) {
	client := setupMiniRedis(t)
	assert.NoError(t, Ack(context.Background(), client, "s", "g"))
}
