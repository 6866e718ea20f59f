package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "mushroom", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "mushroom", cfg.MQTT.TopicPrefix)

	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.False(t, cfg.RedisEnabled)
	assert.False(t, cfg.MQTTEnabled)

	assert.Equal(t, 60*time.Second, cfg.Automation.TickInterval)
	assert.Equal(t, 16, cfg.Automation.QueueSize)
	assert.Equal(t, 3, cfg.Automation.MaxRetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.Automation.MaxRetryDelay)
	assert.Equal(t, 24*time.Hour, cfg.Automation.StateTTL)
	assert.Equal(t, 5*time.Second, cfg.Automation.AckTimeout)
	assert.Equal(t, "", cfg.Automation.ScriptDir)

	assert.Equal(t, time.Minute, cfg.Alerts.EscalationInterval)
	assert.Equal(t, 30*time.Minute, cfg.Alerts.EscalationDelay)
	assert.True(t, cfg.Alerts.AutoResolve)
	assert.Equal(t, 10*time.Minute, cfg.Alerts.StaleAfter)

	assert.Equal(t, "mushroom:sensor:stream", cfg.Stream.Name)
	assert.Equal(t, int64(10000), cfg.Stream.MaxLen)
	assert.Equal(t, "mushroom-automation", cfg.Stream.Group)
	assert.NotEmpty(t, cfg.Stream.Consumer)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DB_HOST", "db.farm")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("STORAGE_BACKEND", "Postgres")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "redis.farm:6380")
	t.Setenv("MQTT_ENABLED", "1")
	t.Setenv("MQTT_TOPIC_PREFIX", "farm")
	t.Setenv("AUTOMATION_TICK_INTERVAL", "30s")
	t.Setenv("AUTOMATION_MAX_RETRY_ATTEMPTS", "5")
	t.Setenv("AUTOMATION_MAX_RETRY_DELAY", "10")
	t.Setenv("ALERT_AUTO_RESOLVE", "false")
	t.Setenv("ALERT_WEBHOOK_URL", "http://hooks.farm/alerts")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.farm", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, StoragePostgres, cfg.StorageBackend)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "redis.farm:6380", cfg.Redis.Addr)
	assert.True(t, cfg.MQTTEnabled)
	assert.Equal(t, "farm", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 30*time.Second, cfg.Automation.TickInterval)
	assert.Equal(t, 5, cfg.Automation.MaxRetryAttempts)
	assert.Equal(t, 10*time.Second, cfg.Automation.MaxRetryDelay)
	assert.False(t, cfg.Alerts.AutoResolve)
	assert.Equal(t, "http://hooks.farm/alerts", cfg.Alerts.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("AUTOMATION_QUEUE_SIZE", "many")
	t.Setenv("REDIS_ENABLED", "perhaps")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Automation.QueueSize)
	assert.False(t, cfg.RedisEnabled)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("unknown storage backend", func(t *testing.T) {
		t.Setenv("STORAGE_BACKEND", "mongo")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("non-positive tick interval", func(t *testing.T) {
		t.Setenv("AUTOMATION_TICK_INTERVAL", "0s")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("negative retry attempts", func(t *testing.T) {
		t.Setenv("AUTOMATION_MAX_RETRY_ATTEMPTS", "-1")
		_, err := Load()
		assert.Error(t, err)
	})
}
