package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisRuleState 基于 Redis 的规则状态（多实例部署时共享）
//
// 键格式：
//
//	{prefix}duration:{rule_id}:{condition_index}:{environment_id}  首次为真时间（UnixNano，带 TTL）
//	{prefix}last:{rule_id}:{environment_id}                         最近触发时间（不过期，冷却可能长于 TTL）
//	{prefix}execs:{rule_id}:{environment_id}                        ZSET，score 为触发时间（毫秒）
type RedisRuleState struct {
	redisClient *redis.Client
	prefix      string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewRedisRuleState 创建 Redis 规则状态
func NewRedisRuleState(redisClient *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisRuleState {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRuleState{
		redisClient: redisClient,
		prefix:      prefix,
		ttl:         ttl,
		logger:      logger,
	}
}

func (s *RedisRuleState) durationKey(key ConditionKey) string {
	return fmt.Sprintf("%sduration:%s", s.prefix, key.String())
}

func (s *RedisRuleState) lastKey(ruleID, environmentID string) string {
	return fmt.Sprintf("%slast:%s:%s", s.prefix, ruleID, environmentID)
}

func (s *RedisRuleState) execsKey(ruleID, environmentID string) string {
	return fmt.Sprintf("%sexecs:%s:%s", s.prefix, ruleID, environmentID)
}

func (s *RedisRuleState) MarkTrue(ctx context.Context, key ConditionKey, now time.Time) (time.Time, error) {
	k := s.durationKey(key)

	// 仅在不存在时写入首次为真时间
	if _, err := s.redisClient.SetNX(ctx, k, now.UnixNano(), s.ttl).Result(); err != nil {
		return time.Time{}, fmt.Errorf("failed to set duration state: %w", err)
	}

	val, err := s.redisClient.Get(ctx, k).Result()
	if err != nil {
		if err == redis.Nil {
			return now, nil
		}
		return time.Time{}, fmt.Errorf("failed to get duration state: %w", err)
	}
	// 刷新 TTL
	if err := s.redisClient.Expire(ctx, k, s.ttl).Err(); err != nil {
		s.logger.Warn("Failed to refresh duration TTL", zap.String("key", k), zap.Error(err))
	}

	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse duration state: %w", err)
	}
	return time.Unix(0, nanos), nil
}

func (s *RedisRuleState) Clear(ctx context.Context, key ConditionKey) error {
	if err := s.redisClient.Del(ctx, s.durationKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete duration state: %w", err)
	}
	return nil
}

func (s *RedisRuleState) LastTrigger(ctx context.Context, ruleID, environmentID string) (time.Time, bool, error) {
	val, err := s.redisClient.Get(ctx, s.lastKey(ruleID, environmentID)).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get last trigger: %w", err)
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse last trigger: %w", err)
	}
	return time.Unix(0, nanos), true, nil
}

func (s *RedisRuleState) RecordTrigger(ctx context.Context, ruleID, environmentID string, now time.Time) error {
	execs := s.execsKey(ruleID, environmentID)
	cutoff := now.Add(-time.Hour).UnixMilli()

	pipe := s.redisClient.TxPipeline()
	pipe.Set(ctx, s.lastKey(ruleID, environmentID), now.UnixNano(), 0)
	pipe.ZAdd(ctx, execs, &redis.Z{Score: float64(now.UnixMilli()), Member: now.UnixNano()})
	pipe.ZRemRangeByScore(ctx, execs, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, execs, time.Hour+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record trigger: %w", err)
	}
	return nil
}

func (s *RedisRuleState) ExecutionsSince(ctx context.Context, ruleID, environmentID string, since time.Time) (int, error) {
	count, err := s.redisClient.ZCount(ctx, s.execsKey(ruleID, environmentID),
		"("+strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return int(count), nil
}

func (s *RedisRuleState) ForgetRule(ctx context.Context, ruleID string) error {
	patterns := []string{
		fmt.Sprintf("%sduration:%s:*", s.prefix, ruleID),
		fmt.Sprintf("%slast:%s:*", s.prefix, ruleID),
		fmt.Sprintf("%sexecs:%s:*", s.prefix, ruleID),
	}
	for _, pattern := range patterns {
		iter := s.redisClient.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := s.redisClient.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete rule state: %w", err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan rule state: %w", err)
		}
	}
	return nil
}
