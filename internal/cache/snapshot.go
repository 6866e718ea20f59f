package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mushroom-automation/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SnapshotCache 环境与告警快照缓存（供看板等只读方快速读取）
type SnapshotCache struct {
	redisClient *redis.Client
	prefix      string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewSnapshotCache 创建快照缓存
func NewSnapshotCache(redisClient *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		redisClient: redisClient,
		prefix:      prefix,
		ttl:         ttl,
		logger:      logger,
	}
}

func (c *SnapshotCache) environmentKey(environmentID string) string {
	return fmt.Sprintf("%senvironment:%s", c.prefix, environmentID)
}

func (c *SnapshotCache) alertsKey(environmentID string) string {
	return fmt.Sprintf("%salerts:%s", c.prefix, environmentID)
}

// PutEnvironment 写入环境快照
func (c *SnapshotCache) PutEnvironment(ctx context.Context, env *models.Environment) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal environment snapshot: %w", err)
	}
	if err := c.redisClient.Set(ctx, c.environmentKey(env.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache environment snapshot: %w", err)
	}
	return nil
}

// GetEnvironment 读取环境快照，不存在时返回 ErrNotFound
func (c *SnapshotCache) GetEnvironment(ctx context.Context, environmentID string) (*models.Environment, error) {
	val, err := c.redisClient.Get(ctx, c.environmentKey(environmentID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: environment snapshot %s", models.ErrNotFound, environmentID)
		}
		return nil, fmt.Errorf("failed to get environment snapshot: %w", err)
	}
	var env models.Environment
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment snapshot: %w", err)
	}
	return &env, nil
}

// PutActiveAlerts 写入环境的未关闭告警列表
func (c *SnapshotCache) PutActiveAlerts(ctx context.Context, environmentID string, alerts []*models.Alert) error {
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	data, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts snapshot: %w", err)
	}
	if err := c.redisClient.Set(ctx, c.alertsKey(environmentID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache alerts snapshot: %w", err)
	}
	return nil
}

// GetActiveAlerts 读取环境的未关闭告警列表（缓存缺失时返回空列表）
func (c *SnapshotCache) GetActiveAlerts(ctx context.Context, environmentID string) ([]*models.Alert, error) {
	val, err := c.redisClient.Get(ctx, c.alertsKey(environmentID)).Result()
	if err != nil {
		if err == redis.Nil {
			return []*models.Alert{}, nil
		}
		return nil, fmt.Errorf("failed to get alerts snapshot: %w", err)
	}
	var alerts []*models.Alert
	if err := json.Unmarshal([]byte(val), &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alerts snapshot: %w", err)
	}
	return alerts, nil
}

// DeleteEnvironment 删除环境相关快照
func (c *SnapshotCache) DeleteEnvironment(ctx context.Context, environmentID string) error {
	if err := c.redisClient.Del(ctx, c.environmentKey(environmentID), c.alertsKey(environmentID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}
