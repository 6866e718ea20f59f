package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	// ConnectRetries 启动时连接失败的重试次数
	ConnectRetries int
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// MQTTConfig MQTT 连接配置
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	TopicPrefix string // 主题前缀，如 "mushroom"
}

// GetDSN 组装 lib/pq 使用的 URL 形式连接串
func (c *DatabaseConfig) GetDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// LoadFromEnv 用 <prefix>_HOST、<prefix>_PORT 等变量覆盖已有值
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	c.Host = stringEnv(prefix+"_HOST", c.Host)
	c.Port = intEnv(prefix+"_PORT", c.Port)
	c.User = stringEnv(prefix+"_USER", c.User)
	c.Password = stringEnv(prefix+"_PASSWORD", c.Password)
	c.Database = stringEnv(prefix+"_NAME", c.Database)
	c.SSLMode = stringEnv(prefix+"_SSLMODE", c.SSLMode)
	c.MaxConns = intEnv(prefix+"_MAX_CONNS", c.MaxConns)
	c.MaxIdle = intEnv(prefix+"_MAX_IDLE", c.MaxIdle)
	c.ConnMaxLifetime = DurationFromEnv(prefix+"_CONN_MAX_LIFETIME", c.ConnMaxLifetime)
	c.ConnectRetries = intEnv(prefix+"_CONNECT_RETRIES", c.ConnectRetries)
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	c.Addr = stringEnv(prefix+"_ADDR", c.Addr)
	c.Password = stringEnv(prefix+"_PASSWORD", c.Password)
	c.DB = intEnv(prefix+"_DB", c.DB)
	c.PoolSize = intEnv(prefix+"_POOL_SIZE", c.PoolSize)
	c.DialTimeout = DurationFromEnv(prefix+"_DIAL_TIMEOUT", c.DialTimeout)
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	c.Broker = stringEnv(prefix+"_BROKER", c.Broker)
	c.ClientID = stringEnv(prefix+"_CLIENT_ID", c.ClientID)
	c.Username = stringEnv(prefix+"_USERNAME", c.Username)
	c.Password = stringEnv(prefix+"_PASSWORD", c.Password)
	// QoS 只接受 0-2
	if v := intEnv(prefix+"_QOS", -1); v >= 0 && v <= 2 {
		c.QoS = byte(v)
	}
	c.TopicPrefix = stringEnv(prefix+"_TOPIC_PREFIX", c.TopicPrefix)
}

// DurationFromEnv 读取时长类环境变量（支持 "90s"、"5m" 或纯秒数）
func DurationFromEnv(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func stringEnv(key, current string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return current
}

// intEnv 无法解析时保留原值
func intEnv(key string, current int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return current
}
