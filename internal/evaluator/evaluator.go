package evaluator

import (
	"context"
	"fmt"
	"time"

	"mushroom-automation/internal/cache"
	"mushroom-automation/internal/models"
	"mushroom-automation/internal/repository"

	"go.uber.org/zap"
)

// SkipReason 规则未参与条件判断（或判断后不允许触发）的原因
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipDisabled     SkipReason = "disabled"
	SkipOutsideHours SkipReason = "outside active hours"
	SkipCooldown     SkipReason = "cooldown"
	SkipHourlyLimit  SkipReason = "hourly limit reached"
	SkipStateFailure SkipReason = "state unavailable"
)

// Result 单条规则的评估结果
type Result struct {
	Rule       *models.AutomationRule
	Matched    bool
	SkipReason SkipReason
}

// RuleSource 规则来源（按 priority, sequence 升序）
type RuleSource interface {
	List(ctx context.Context) ([]*models.AutomationRule, error)
}

// Evaluator 规则引擎
type Evaluator struct {
	rules  RuleSource
	state  cache.RuleState
	logger *zap.Logger
	// maxReadingAge 超过该时长的读数视为缺失，0 表示不限制
	maxReadingAge time.Duration
}

// NewEvaluator 创建规则引擎
func NewEvaluator(rules RuleSource, state cache.RuleState, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		rules:  rules,
		state:  state,
		logger: logger,
	}
}

// SetMaxReadingAge 设置读数有效期；过期读数不再维持持续时长计时
func (e *Evaluator) SetMaxReadingAge(d time.Duration) {
	e.maxReadingAge = d
}

// Evaluate 按优先级评估作用于该环境的全部规则
// 评估过程：
//  1. 跳过禁用、不在生效时段的规则
//  2. 评估条件（冷却期和小时上限内仍然评估，保持持续时长追踪连续）
//  3. 按 AND/OR 组合，冷却期/小时上限内的规则不触发
//  4. 触发时记录最近触发时间和小时执行计数
//
// 引擎不处理跨规则的执行器冲突，交给调度执行阶段
func (e *Evaluator) Evaluate(ctx context.Context, env *models.Environment, reading *models.SensorReading, now time.Time) ([]Result, error) {
	rules, err := e.rules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	repository.SortRules(rules)

	if reading != nil && e.maxReadingAge > 0 && now.Sub(reading.Timestamp) > e.maxReadingAge {
		e.logger.Debug("Ignoring stale reading for rule evaluation",
			zap.String("environment_id", env.ID),
			zap.Time("reading_time", reading.Timestamp),
		)
		reading = nil
	}

	results := make([]Result, 0, len(rules))
	for _, rule := range rules {
		if !rule.AppliesTo(env) {
			continue
		}
		results = append(results, e.evaluateRule(ctx, rule, env, reading, now))
	}
	return results, nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule *models.AutomationRule, env *models.Environment, reading *models.SensorReading, now time.Time) Result {
	result := Result{Rule: rule}

	// 1. 禁用或不在生效时段：不观察条件，持续时长计时重置
	if !rule.Enabled {
		result.SkipReason = SkipDisabled
		e.resetDurations(ctx, rule, env.ID)
		return result
	}
	if rule.ActiveHours != nil && !rule.ActiveHours.Contains(now) {
		result.SkipReason = SkipOutsideHours
		e.resetDurations(ctx, rule, env.ID)
		return result
	}

	// 2. 冷却与小时上限
	gate, err := e.gate(ctx, rule, env.ID, now)
	if err != nil {
		e.logger.Error("Failed to read rule state",
			zap.String("rule_id", rule.ID),
			zap.String("environment_id", env.ID),
			zap.Error(err),
		)
		result.SkipReason = SkipStateFailure
		return result
	}

	// 3. 条件评估与组合
	matched, err := e.evaluateConditions(ctx, rule, env.ID, reading, now)
	if err != nil {
		e.logger.Error("Failed to track condition duration",
			zap.String("rule_id", rule.ID),
			zap.String("environment_id", env.ID),
			zap.Error(err),
		)
		result.SkipReason = SkipStateFailure
		return result
	}
	if gate != SkipNone {
		result.SkipReason = gate
		return result
	}
	if !matched {
		return result
	}

	// 4. 触发
	if err := e.state.RecordTrigger(ctx, rule.ID, env.ID, now); err != nil {
		e.logger.Error("Failed to record rule trigger",
			zap.String("rule_id", rule.ID),
			zap.String("environment_id", env.ID),
			zap.Error(err),
		)
		result.SkipReason = SkipStateFailure
		return result
	}
	result.Matched = true

	e.logger.Info("Rule triggered",
		zap.String("rule_id", rule.ID),
		zap.String("rule_name", rule.Name),
		zap.String("environment_id", env.ID),
		zap.Int("priority", rule.Priority),
	)
	return result
}

func (e *Evaluator) gate(ctx context.Context, rule *models.AutomationRule, environmentID string, now time.Time) (SkipReason, error) {
	if rule.CooldownMinutes > 0 {
		last, ok, err := e.state.LastTrigger(ctx, rule.ID, environmentID)
		if err != nil {
			return SkipNone, err
		}
		if ok && now.Sub(last) < time.Duration(rule.CooldownMinutes)*time.Minute {
			return SkipCooldown, nil
		}
	}
	if rule.MaxExecutionsPerHour > 0 {
		count, err := e.state.ExecutionsSince(ctx, rule.ID, environmentID, now.Add(-time.Hour))
		if err != nil {
			return SkipNone, err
		}
		if count >= rule.MaxExecutionsPerHour {
			return SkipHourlyLimit, nil
		}
	}
	return SkipNone, nil
}

// evaluateConditions 评估全部条件（不短路，保证每个条件的持续时长都被追踪）
func (e *Evaluator) evaluateConditions(ctx context.Context, rule *models.AutomationRule, environmentID string, reading *models.SensorReading, now time.Time) (bool, error) {
	allTrue := true
	anyTrue := false
	for i := range rule.Conditions {
		ok, err := e.evaluateCondition(ctx, rule, i, environmentID, reading, now)
		if err != nil {
			return false, err
		}
		allTrue = allTrue && ok
		anyTrue = anyTrue || ok
	}
	if rule.Logic == models.LogicOr {
		return anyTrue, nil
	}
	return allTrue, nil
}

func (e *Evaluator) evaluateCondition(ctx context.Context, rule *models.AutomationRule, index int, environmentID string, reading *models.SensorReading, now time.Time) (bool, error) {
	cond := &rule.Conditions[index]
	key := cache.ConditionKey{RuleID: rule.ID, ConditionIndex: index, EnvironmentID: environmentID}

	holds := instantTruth(cond, reading, now)
	if cond.DurationMinutes <= 0 {
		return holds, nil
	}

	if !holds {
		return false, e.state.Clear(ctx, key)
	}
	firstTrue, err := e.state.MarkTrue(ctx, key, now)
	if err != nil {
		return false, err
	}
	return now.Sub(firstTrue) >= time.Duration(cond.DurationMinutes)*time.Minute, nil
}

// instantTruth 条件在当前时刻是否成立（不考虑持续时长）
func instantTruth(cond *models.Condition, reading *models.SensorReading, now time.Time) bool {
	if cond.TimeWindow != nil && !cond.TimeWindow.Contains(now) {
		return false
	}

	var value float64
	if cond.Parameter == models.ParamHour {
		value = float64(now.Hour())
	} else {
		if reading == nil {
			return false
		}
		if reading.Quality == models.QualityBad && !cond.IgnoreSensorErrors {
			return false
		}
		if cond.SensorType != "" && reading.SensorType != "" && cond.SensorType != reading.SensorType {
			return false
		}
		v, ok := reading.Value(cond.Parameter)
		if !ok {
			return false
		}
		value = v
	}

	upper := cond.Threshold
	if cond.ThresholdMax != nil {
		upper = *cond.ThresholdMax
	}
	return cond.Operator.Compare(value, cond.Threshold, upper)
}

func (e *Evaluator) resetDurations(ctx context.Context, rule *models.AutomationRule, environmentID string) {
	for i, cond := range rule.Conditions {
		if cond.DurationMinutes <= 0 {
			continue
		}
		key := cache.ConditionKey{RuleID: rule.ID, ConditionIndex: i, EnvironmentID: environmentID}
		if err := e.state.Clear(ctx, key); err != nil {
			e.logger.Warn("Failed to reset condition duration",
				zap.String("rule_id", rule.ID),
				zap.Int("condition_index", i),
				zap.Error(err),
			)
		}
	}
}

// Triggered 过滤出已触发的规则（保持优先级顺序）
func Triggered(results []Result) []*models.AutomationRule {
	var out []*models.AutomationRule
	for _, r := range results {
		if r.Matched {
			out = append(out, r.Rule)
		}
	}
	return out
}
