package cache

import (
	"context"
	"fmt"
	"time"
)

// ConditionKey 持续时长追踪键：(rule_id, condition_index, environment_id)
type ConditionKey struct {
	RuleID         string
	ConditionIndex int
	EnvironmentID  string
}

func (k ConditionKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.RuleID, k.ConditionIndex, k.EnvironmentID)
}

// RuleState 规则运行期状态（持续时长起点、最近触发时间、近一小时执行次数）
type RuleState interface {
	// MarkTrue 条件为真时调用：首次为真则记录 now，返回首次为真的时间
	MarkTrue(ctx context.Context, key ConditionKey, now time.Time) (time.Time, error)
	// Clear 条件为假时清除记录（计时重置）
	Clear(ctx context.Context, key ConditionKey) error
	// LastTrigger 规则在该环境的最近触发时间
	LastTrigger(ctx context.Context, ruleID, environmentID string) (time.Time, bool, error)
	// RecordTrigger 记录一次触发
	RecordTrigger(ctx context.Context, ruleID, environmentID string, now time.Time) error
	// ExecutionsSince since 之后的触发次数
	ExecutionsSince(ctx context.Context, ruleID, environmentID string, since time.Time) (int, error)
	// ForgetRule 删除规则相关的全部状态
	ForgetRule(ctx context.Context, ruleID string) error
}
