package phase

import (
	"context"
	"fmt"
	"time"

	"mushroom-automation/internal/alerts"
	"mushroom-automation/internal/catalog"
	"mushroom-automation/internal/models"

	"go.uber.org/zap"
)

// day 阶段时长单位
const day = 24 * time.Hour

// PhaseChanger 阶段切换（比较当前阶段后再写入）
type PhaseChanger interface {
	AdvancePhase(ctx context.Context, environmentID, fromPhase string, expectedStart time.Time, toPhase string) (*models.Environment, bool, error)
}

// AlertRaiser 告警触发方
type AlertRaiser interface {
	Raise(ctx context.Context, req alerts.RaiseRequest) (*models.Alert, error)
}

// TransitionResult 阶段检查结果
type TransitionResult struct {
	Advanced  bool
	FromPhase string
	ToPhase   string
	Overdue   bool
}

// Transitioner 阶段推进检查
type Transitioner struct {
	catalog *catalog.Catalog
	phases  PhaseChanger
	alerts  AlertRaiser
	logger  *zap.Logger
}

// NewTransitioner 创建阶段推进检查
func NewTransitioner(cat *catalog.Catalog, phases PhaseChanger, alertRaiser AlertRaiser, logger *zap.Logger) *Transitioner {
	return &Transitioner{
		catalog: cat,
		phases:  phases,
		alerts:  alertRaiser,
		logger:  logger,
	}
}

// Check 检查阶段是否到期
// 规则：
//   - auto_transition 阶段在 now-phase_start >= typical_duration_days 时推进到下一阶段
//   - 最后一个阶段到期时触发 phase_overdue（low，"ready for harvest"）
//   - 非自动阶段不推进，超过 max_duration_days 时触发 phase_overdue
func (t *Transitioner) Check(ctx context.Context, env *models.Environment, now time.Time) (TransitionResult, error) {
	result := TransitionResult{FromPhase: env.CurrentPhase}
	if env.SpeciesID == "" || env.CurrentPhase == "" || env.PhaseStartTime == nil {
		return result, nil
	}

	current, err := t.catalog.Phase(env.SpeciesID, env.CurrentPhase)
	if err != nil {
		return result, fmt.Errorf("%w: %v", models.ErrStateInconsistency, err)
	}
	next, err := t.catalog.PhaseAfter(env.SpeciesID, env.CurrentPhase)
	if err != nil {
		return result, err
	}

	elapsed := now.Sub(*env.PhaseStartTime)
	typical := time.Duration(current.TypicalDurationDays) * day

	switch {
	case next == nil:
		if elapsed < typical {
			return result, nil
		}
		result.Overdue = true
		return result, t.raiseOverdue(ctx, env, current, elapsed, "Ready for harvest",
			fmt.Sprintf("Batch in %s has completed its final phase %s after %.1f days: ready for harvest",
				env.Name, current.Name, elapsed.Hours()/24))

	case current.AutoTransition:
		if elapsed < typical {
			return result, nil
		}
		_, advanced, err := t.phases.AdvancePhase(ctx, env.ID, current.Name, *env.PhaseStartTime, next.Name)
		if err != nil {
			return result, fmt.Errorf("failed to advance phase: %w", err)
		}
		if !advanced {
			return result, nil
		}
		result.Advanced = true
		result.ToPhase = next.Name
		t.logger.Info("Phase advanced automatically",
			zap.String("environment_id", env.ID),
			zap.String("species_id", env.SpeciesID),
			zap.String("from", current.Name),
			zap.String("to", next.Name),
			zap.Float64("elapsed_days", elapsed.Hours()/24),
		)
		return result, nil

	default:
		limit := time.Duration(current.MaxDurationDays) * day
		if current.MaxDurationDays <= 0 || elapsed < limit {
			return result, nil
		}
		result.Overdue = true
		return result, t.raiseOverdue(ctx, env, current, elapsed, "Phase overdue",
			fmt.Sprintf("Phase %s in %s has run %.1f days, beyond the expected %d days; consider moving to %s",
				current.Name, env.Name, elapsed.Hours()/24, current.MaxDurationDays, next.Name))
	}
}

func (t *Transitioner) raiseOverdue(ctx context.Context, env *models.Environment, current *models.Phase, elapsed time.Duration, title, message string) error {
	days := elapsed.Hours() / 24
	threshold := float64(current.TypicalDurationDays)
	_, err := t.alerts.Raise(ctx, alerts.RaiseRequest{
		EnvironmentID:  env.ID,
		Type:           models.AlertPhaseOverdue,
		Severity:       models.SeverityLow,
		Title:          title,
		Message:        message,
		TriggerValue:   &days,
		ThresholdValue: &threshold,
	})
	if err != nil {
		return fmt.Errorf("failed to raise phase overdue alert: %w", err)
	}
	return nil
}
