package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mushroom-automation/internal/actuator"
	"mushroom-automation/internal/alerts"
	"mushroom-automation/internal/clock"
	"mushroom-automation/internal/environment"
	"mushroom-automation/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReasonSuppressedByOverride 被手动覆盖压制的执行器动作日志原因
const ReasonSuppressedByOverride = "suppressed by override"

// Status 动作执行结果
type Status string

const (
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusSuppressed Status = "suppressed"
	StatusConflict   Status = "conflict"
)

// ActionOutcome 单个动作的执行结果
type ActionOutcome struct {
	Index    int
	Kind     models.ActionKind
	Status   Status
	Reason   string
	Attempts int
	Err      error
}

// Succeeded 动作是否成功（requires_previous 以此判断）
func (o ActionOutcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// StateManager 环境状态读写
type StateManager interface {
	Mutate(ctx context.Context, environmentID string, fn environment.MutateFunc) (*models.Environment, error)
	ChangePhase(ctx context.Context, environmentID, phaseName string) (*models.Environment, error)
	MarkDegraded(ctx context.Context, environmentID, reason string) error
}

// AlertRaiser 告警触发方
type AlertRaiser interface {
	Raise(ctx context.Context, req alerts.RaiseRequest) (*models.Alert, error)
}

// ActuatorLogWriter 执行器日志写入方
type ActuatorLogWriter interface {
	Append(ctx context.Context, log *models.ActuatorLog) error
}

// Config 调度执行配置
type Config struct {
	// MaxRetryAttempts 单个动作重试次数上限（叠加在 retry_attempts 之上）
	MaxRetryAttempts int
	// MaxRetryDelay 单次重试等待上限
	MaxRetryDelay time.Duration
}

// Dispatcher 动作调度执行
type Dispatcher struct {
	state      StateManager
	controller actuator.Controller
	alerts     AlertRaiser
	logs       ActuatorLogWriter
	scripts    ScriptRunner
	clock      clock.Clock
	config     Config
	logger     *zap.Logger
}

// NewDispatcher 创建动作调度器
func NewDispatcher(
	state StateManager,
	controller actuator.Controller,
	alertRaiser AlertRaiser,
	logs ActuatorLogWriter,
	scripts ScriptRunner,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.MaxRetryAttempts < 0 {
		cfg.MaxRetryAttempts = 0
	}
	return &Dispatcher{
		state:      state,
		controller: controller,
		alerts:     alertRaiser,
		logs:       logs,
		scripts:    scripts,
		clock:      clk,
		config:     cfg,
		logger:     logger,
	}
}

// Dispatch 按 execution_order 执行已触发规则的动作
// 失败的动作不阻塞后续动作，除非后续动作设置了 requires_previous
// ctx 取消时中止当前动作，剩余动作记为 skipped
func (d *Dispatcher) Dispatch(ctx context.Context, rule *models.AutomationRule, environmentID string, claims *Claims) []ActionOutcome {
	if claims == nil {
		claims = NewClaims()
	}
	outcomes := make([]ActionOutcome, 0, len(rule.Actions))

	for i := range rule.Actions {
		action := &rule.Actions[i]
		outcome := ActionOutcome{Index: i, Kind: action.Kind}

		if ctx.Err() != nil {
			outcome.Status = StatusSkipped
			outcome.Reason = "cancelled"
			outcomes = append(outcomes, outcome)
			continue
		}

		if action.RequiresPrevious && i > 0 && !outcomes[i-1].Succeeded() {
			outcome.Status = StatusSkipped
			outcome.Reason = "previous action did not succeed"
			outcomes = append(outcomes, outcome)
			continue
		}

		// 前置延迟：定时恢复，不阻塞其他环境
		if action.DelayBeforeSeconds > 0 {
			if err := d.wait(ctx, time.Duration(action.DelayBeforeSeconds)*time.Second); err != nil {
				outcome.Status = StatusSkipped
				outcome.Reason = "cancelled"
				outcome.Err = err
				outcomes = append(outcomes, outcome)
				continue
			}
		}

		switch action.Kind {
		case models.ActionSetActuator:
			outcome = d.setActuator(ctx, rule, action, environmentID, claims, outcome)
		case models.ActionSendAlert:
			outcome = d.sendAlert(ctx, rule, action, environmentID, outcome)
		case models.ActionChangePhase:
			outcome = d.changePhase(ctx, action, environmentID, outcome)
		case models.ActionDelay:
			outcome = d.delay(ctx, action, outcome)
		case models.ActionCustomScript:
			outcome = d.customScript(ctx, action, environmentID, outcome)
		default:
			outcome.Status = StatusFailed
			outcome.Err = fmt.Errorf("%w: unsupported action kind %s", models.ErrValidation, action.Kind)
		}

		if outcome.Status == StatusFailed {
			d.logger.Warn("Action failed",
				zap.String("rule_id", rule.ID),
				zap.String("environment_id", environmentID),
				zap.Int("action_index", i),
				zap.String("action_type", string(action.Kind)),
				zap.Error(outcome.Err),
			)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// attempts 动作的总尝试次数
func (d *Dispatcher) attempts(action *models.Action) int {
	retries := action.RetryAttempts
	if retries > d.config.MaxRetryAttempts {
		retries = d.config.MaxRetryAttempts
	}
	return 1 + retries
}

// retryDelay 重试间隔
func (d *Dispatcher) retryDelay(action *models.Action) time.Duration {
	delay := time.Duration(action.RetryDelaySeconds) * time.Second
	if d.config.MaxRetryDelay > 0 && delay > d.config.MaxRetryDelay {
		delay = d.config.MaxRetryDelay
	}
	return delay
}

func (d *Dispatcher) wait(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	select {
	case <-d.clock.After(dur):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setActuator 执行器动作
// 每次尝试都在环境锁内：重新读取覆盖设置、检查占用、下发命令、确认后回写状态
func (d *Dispatcher) setActuator(ctx context.Context, rule *models.AutomationRule, action *models.Action, environmentID string, claims *Claims, outcome ActionOutcome) ActionOutcome {
	params := action.SetActuator
	cmd := actuator.Command{
		CommandID:       uuid.NewString(),
		EnvironmentID:   environmentID,
		Actuator:        params.Target,
		On:              params.State,
		Intensity:       params.Intensity,
		DurationSeconds: params.DurationSeconds,
	}

	total := d.attempts(action)
	var lastErr error
	for attempt := 1; attempt <= total; attempt++ {
		if attempt > 1 {
			if err := d.wait(ctx, d.retryDelay(action)); err != nil {
				outcome.Status = StatusFailed
				outcome.Reason = "cancelled"
				outcome.Err = err
				return outcome
			}
		}
		outcome.Attempts = attempt

		var previous models.ActuatorState
		done := false
		_, err := d.state.Mutate(ctx, environmentID, func(env *models.Environment) (bool, error) {
			now := d.clock.Now()
			previous = env.Actuators[params.Target]

			if key, _, ok := env.OverrideFor(params.Target, now); ok {
				outcome.Status = StatusSuppressed
				outcome.Reason = ReasonSuppressedByOverride
				d.logger.Info("Action suppressed by override",
					zap.String("rule_id", rule.ID),
					zap.String("environment_id", environmentID),
					zap.String("actuator_type", string(params.Target)),
					zap.String("override_key", key),
				)
				done = true
				return false, nil
			}

			if owner, ok := claims.Claim(params.Target, rule.ID); !ok {
				outcome.Status = StatusConflict
				outcome.Reason = fmt.Sprintf("actuator claimed by rule %s", owner)
				d.logger.Info("Actuator already claimed this tick",
					zap.String("rule_id", rule.ID),
					zap.String("environment_id", environmentID),
					zap.String("actuator_type", string(params.Target)),
					zap.String("owner_rule_id", owner),
				)
				done = true
				return false, nil
			}

			if params.DurationSeconds == 0 && sameState(previous, params) {
				outcome.Status = StatusSucceeded
				outcome.Reason = "already in requested state"
				done = true
				return false, nil
			}

			cmd.IssuedAt = now
			if err := d.controller.SetActuator(ctx, cmd); err != nil {
				return false, err
			}
			env.Actuators[params.Target] = models.ActuatorState{On: params.State, Intensity: cloneFloat(params.Intensity)}
			outcome.Status = StatusSucceeded
			done = true
			return true, nil
		})
		if err == nil && done {
			if outcome.Status == StatusSuppressed || (outcome.Status == StatusSucceeded && outcome.Reason == "") {
				d.appendLog(ctx, rule, environmentID, params, previous, outcome, nil)
			}
			return outcome
		}
		if err == nil {
			err = fmt.Errorf("%w: actuator command not applied", models.ErrDispatchFailure)
		}
		lastErr = err

		if errors.Is(err, models.ErrNotFound) || ctx.Err() != nil {
			break
		}
		d.logger.Warn("Actuator command attempt failed",
			zap.String("rule_id", rule.ID),
			zap.String("environment_id", environmentID),
			zap.String("actuator_type", string(params.Target)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", total),
			zap.Error(err),
		)
	}

	outcome.Status = StatusFailed
	outcome.Err = lastErr
	d.appendLog(ctx, rule, environmentID, params, models.ActuatorState{}, outcome, lastErr)

	if ctx.Err() != nil || errors.Is(lastErr, models.ErrNotFound) {
		return outcome
	}
	d.degrade(ctx, rule, environmentID, params.Target, outcome.Attempts, lastErr)
	return outcome
}

// degrade 重试耗尽：标记环境 error 并触发 system_error 告警
func (d *Dispatcher) degrade(ctx context.Context, rule *models.AutomationRule, environmentID string, target models.ActuatorType, attempts int, cause error) {
	reason := fmt.Sprintf("actuator %s unreachable after %d attempts", target, attempts)
	if err := d.state.MarkDegraded(ctx, environmentID, reason); err != nil {
		d.logger.Error("Failed to mark environment degraded",
			zap.String("environment_id", environmentID),
			zap.Error(err),
		)
	}
	if d.alerts == nil {
		return
	}
	if _, err := d.alerts.Raise(ctx, alerts.RaiseRequest{
		EnvironmentID: environmentID,
		Type:          models.AlertSystemError,
		Severity:      models.SeverityHigh,
		Title:         "Actuator command failed",
		Message:       fmt.Sprintf("%s: %v", reason, cause),
		RuleID:        rule.ID,
	}); err != nil {
		d.logger.Error("Failed to raise system error alert",
			zap.String("environment_id", environmentID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) appendLog(ctx context.Context, rule *models.AutomationRule, environmentID string, params *models.SetActuatorParams, previous models.ActuatorState, outcome ActionOutcome, cause error) {
	if d.logs == nil {
		return
	}
	prev := previous.On
	next := params.State
	action := models.ActuatorOff
	if params.State {
		action = models.ActuatorOn
		if params.Intensity != nil && previous.On {
			action = models.ActuatorAdjust
		}
	}

	entry := &models.ActuatorLog{
		EnvironmentID: environmentID,
		Timestamp:     d.clock.Now(),
		Actuator:      params.Target,
		Action:        action,
		PreviousState: &prev,
		NewState:      &next,
		Intensity:     cloneFloat(params.Intensity),
		DurationSecs:  params.DurationSeconds,
		TriggerSource: models.TriggerAutomation,
		RuleID:        rule.ID,
		Reason:        rule.Name,
		Success:       outcome.Status == StatusSucceeded,
	}
	if outcome.Status == StatusSuppressed {
		entry.Reason = ReasonSuppressedByOverride
		entry.NewState = &prev
	}
	if cause != nil {
		entry.Error = cause.Error()
		entry.PreviousState = nil
		entry.NewState = nil
	}
	if err := d.logs.Append(ctx, entry); err != nil {
		d.logger.Warn("Failed to append actuator log",
			zap.String("environment_id", environmentID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) sendAlert(ctx context.Context, rule *models.AutomationRule, action *models.Action, environmentID string, outcome ActionOutcome) ActionOutcome {
	outcome.Attempts = 1
	if d.alerts == nil {
		outcome.Status = StatusSkipped
		outcome.Reason = "alerts not configured"
		return outcome
	}
	params := action.SendAlert
	_, err := d.alerts.Raise(ctx, alerts.RaiseRequest{
		EnvironmentID: environmentID,
		Type:          params.AlertType,
		Severity:      params.Severity,
		Title:         params.Title,
		Message:       params.Message,
		RuleID:        rule.ID,
	})
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		return outcome
	}
	outcome.Status = StatusSucceeded
	return outcome
}

func (d *Dispatcher) changePhase(ctx context.Context, action *models.Action, environmentID string, outcome ActionOutcome) ActionOutcome {
	outcome.Attempts = 1
	if _, err := d.state.ChangePhase(ctx, environmentID, action.ChangePhase.TargetPhase); err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		return outcome
	}
	outcome.Status = StatusSucceeded
	return outcome
}

func (d *Dispatcher) delay(ctx context.Context, action *models.Action, outcome ActionOutcome) ActionOutcome {
	outcome.Attempts = 1
	if err := d.wait(ctx, time.Duration(action.Delay.Seconds)*time.Second); err != nil {
		outcome.Status = StatusFailed
		outcome.Reason = "cancelled"
		outcome.Err = err
		return outcome
	}
	outcome.Status = StatusSucceeded
	return outcome
}

func (d *Dispatcher) customScript(ctx context.Context, action *models.Action, environmentID string, outcome ActionOutcome) ActionOutcome {
	if d.scripts == nil {
		outcome.Status = StatusSkipped
		outcome.Reason = "scripts not configured"
		return outcome
	}
	total := d.attempts(action)
	var lastErr error
	for attempt := 1; attempt <= total; attempt++ {
		if attempt > 1 {
			if err := d.wait(ctx, d.retryDelay(action)); err != nil {
				lastErr = err
				break
			}
		}
		outcome.Attempts = attempt
		lastErr = d.scripts.Run(ctx, environmentID, *action.CustomScript)
		if lastErr == nil {
			outcome.Status = StatusSucceeded
			return outcome
		}
		if errors.Is(lastErr, models.ErrValidation) {
			break
		}
	}
	outcome.Status = StatusFailed
	outcome.Err = lastErr
	return outcome
}

func sameState(current models.ActuatorState, params *models.SetActuatorParams) bool {
	if current.On != params.State {
		return false
	}
	if params.Intensity == nil {
		return true
	}
	return current.Intensity != nil && *current.Intensity == *params.Intensity
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}
