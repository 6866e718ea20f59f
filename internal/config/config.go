package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mushroom-automation/common/config"
)

// 存储后端
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config 自动化服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// StorageBackend memory 或 postgres
	StorageBackend string
	// RedisEnabled 启用 Redis（规则状态、快照缓存、读数流）
	RedisEnabled bool
	// MQTTEnabled 启用 MQTT（传感器上报、执行器命令）
	MQTTEnabled bool

	Automation struct {
		TickInterval     time.Duration // 默认 tick 间隔
		QueueSize        int           // 每个环境的读数队列长度
		MaxRetryAttempts int           // 动作重试次数上限
		MaxRetryDelay    time.Duration // 单次重试等待上限
		StateTTL         time.Duration // 规则运行期状态过期时间
		StateKeyPrefix   string
		AckTimeout       time.Duration // 执行器确认超时
		ScriptDir        string        // custom_script 脚本目录，空表示禁用
		ScriptTimeout    time.Duration
	}

	Alerts struct {
		EscalationInterval time.Duration // 升级检查周期
		EscalationDelay    time.Duration // 未配置升级规则的类型的默认升级延迟
		AutoResolve        bool
		StaleAfter         time.Duration // 读数超时视为传感器离线，0 表示不检查
		WebhookURL         string
		EmailRelayURL      string
		SMSRelayURL        string
		NotifyTimeout      time.Duration
		NotifyRetryCount   int
	}

	Cache struct {
		SnapshotKeyPrefix string
		SnapshotTTL       time.Duration
	}

	Stream struct {
		Name     string
		MaxLen   int64 // 读数流近似保留长度
		Group    string
		Consumer string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "mushroom")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.ConnMaxLifetime = 30 * time.Minute
	cfg.Database.ConnectRetries = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.DialTimeout = 5 * time.Second
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "mushroom-automation")
	cfg.MQTT.QoS = 1
	cfg.MQTT.TopicPrefix = "mushroom"
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", StorageMemory))
	cfg.RedisEnabled = getEnvBool("REDIS_ENABLED", false)
	cfg.MQTTEnabled = getEnvBool("MQTT_ENABLED", false)

	// 自动化配置
	cfg.Automation.TickInterval = config.DurationFromEnv("AUTOMATION_TICK_INTERVAL", 60*time.Second)
	cfg.Automation.QueueSize = getEnvInt("AUTOMATION_QUEUE_SIZE", 16)
	cfg.Automation.MaxRetryAttempts = getEnvInt("AUTOMATION_MAX_RETRY_ATTEMPTS", 3)
	cfg.Automation.MaxRetryDelay = config.DurationFromEnv("AUTOMATION_MAX_RETRY_DELAY", 30*time.Second)
	cfg.Automation.StateTTL = config.DurationFromEnv("AUTOMATION_STATE_TTL", 24*time.Hour)
	cfg.Automation.StateKeyPrefix = getEnv("AUTOMATION_STATE_PREFIX", "mushroom:rule:")
	cfg.Automation.AckTimeout = config.DurationFromEnv("ACTUATOR_ACK_TIMEOUT", 5*time.Second)
	cfg.Automation.ScriptDir = getEnv("AUTOMATION_SCRIPT_DIR", "")
	cfg.Automation.ScriptTimeout = config.DurationFromEnv("AUTOMATION_SCRIPT_TIMEOUT", 30*time.Second)

	// 告警配置
	cfg.Alerts.EscalationInterval = config.DurationFromEnv("ALERT_ESCALATION_INTERVAL", time.Minute)
	cfg.Alerts.EscalationDelay = config.DurationFromEnv("ALERT_ESCALATION_DELAY", 30*time.Minute)
	cfg.Alerts.AutoResolve = getEnvBool("ALERT_AUTO_RESOLVE", true)
	cfg.Alerts.StaleAfter = config.DurationFromEnv("ALERT_SENSOR_STALE_AFTER", 10*time.Minute)
	cfg.Alerts.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	cfg.Alerts.EmailRelayURL = getEnv("ALERT_EMAIL_RELAY_URL", "")
	cfg.Alerts.SMSRelayURL = getEnv("ALERT_SMS_RELAY_URL", "")
	cfg.Alerts.NotifyTimeout = config.DurationFromEnv("ALERT_NOTIFY_TIMEOUT", 30*time.Second)
	cfg.Alerts.NotifyRetryCount = getEnvInt("ALERT_NOTIFY_RETRY_COUNT", 3)

	cfg.Cache.SnapshotKeyPrefix = getEnv("CACHE_SNAPSHOT_PREFIX", "mushroom:env:")
	cfg.Cache.SnapshotTTL = config.DurationFromEnv("CACHE_SNAPSHOT_TTL", 10*time.Minute)

	cfg.Stream.Name = getEnv("STREAM_NAME", "mushroom:sensor:stream")
	cfg.Stream.MaxLen = int64(getEnvInt("STREAM_MAX_LEN", 10000))
	cfg.Stream.Group = getEnv("STREAM_GROUP", "mushroom-automation")
	cfg.Stream.Consumer = getEnv("STREAM_CONSUMER", hostnameOr("automation-1"))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q: want memory or postgres", c.StorageBackend)
	}
	if c.Automation.TickInterval <= 0 {
		return fmt.Errorf("AUTOMATION_TICK_INTERVAL must be positive")
	}
	if c.Automation.QueueSize <= 0 {
		return fmt.Errorf("AUTOMATION_QUEUE_SIZE must be positive")
	}
	if c.Automation.MaxRetryAttempts < 0 {
		return fmt.Errorf("AUTOMATION_MAX_RETRY_ATTEMPTS must not be negative")
	}
	if c.MQTTEnabled && c.MQTT.Broker == "" {
		return fmt.Errorf("MQTT_BROKER is required when MQTT is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
