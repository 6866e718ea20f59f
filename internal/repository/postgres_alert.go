package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"mushroom-automation/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresAlertRepository 告警仓库（PostgreSQL）
type PostgresAlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresAlertRepository 创建告警仓库
func NewPostgresAlertRepository(db *sql.DB, logger *zap.Logger) *PostgresAlertRepository {
	return &PostgresAlertRepository{db: db, logger: logger}
}

const alertColumns = `
	id, environment_id, alert_type, severity, status, title, message,
	trigger_value, threshold_value, rule_id, first_occurrence, last_occurrence,
	acknowledged_at, acknowledged_by, resolved_at, resolved_by, notes,
	email_sent, sms_sent, webhook_sent, notification_attempts, last_notification_attempt,
	occurrence_count, escalation_level`

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var triggerValue, thresholdValue sql.NullFloat64
	var ruleID, ackBy, resolvedBy, notes sql.NullString
	var ackAt, resolvedAt, lastAttempt sql.NullTime

	err := row.Scan(
		&a.ID,
		&a.EnvironmentID,
		&a.Type,
		&a.Severity,
		&a.Status,
		&a.Title,
		&a.Message,
		&triggerValue,
		&thresholdValue,
		&ruleID,
		&a.FirstOccurrence,
		&a.LastOccurrence,
		&ackAt,
		&ackBy,
		&resolvedAt,
		&resolvedBy,
		&notes,
		&a.EmailSent,
		&a.SMSSent,
		&a.WebhookSent,
		&a.NotificationAttempts,
		&lastAttempt,
		&a.OccurrenceCount,
		&a.EscalationLevel,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	a.TriggerValue = floatPtr(triggerValue)
	a.ThresholdValue = floatPtr(thresholdValue)
	a.RuleID = ruleID.String
	a.AcknowledgedAt = timePtr(ackAt)
	a.AcknowledgedBy = ackBy.String
	a.ResolvedAt = timePtr(resolvedAt)
	a.ResolvedBy = resolvedBy.String
	a.Notes = notes.String
	a.LastNotificationAttempt = timePtr(lastAttempt)
	return &a, nil
}

// Create 创建告警；违反 active 唯一约束时返回 ErrValidation
func (r *PostgresAlertRepository) Create(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.EnvironmentID, string(a.Type), string(a.Severity), string(a.Status), a.Title, a.Message,
		nullFloat(a.TriggerValue), nullFloat(a.ThresholdValue), nullString(a.RuleID),
		a.FirstOccurrence, a.LastOccurrence,
		nullTime(a.AcknowledgedAt), nullString(a.AcknowledgedBy),
		nullTime(a.ResolvedAt), nullString(a.ResolvedBy), nullString(a.Notes),
		a.EmailSent, a.SMSSent, a.WebhookSent, a.NotificationAttempts, nullTime(a.LastNotificationAttempt),
		a.OccurrenceCount, a.EscalationLevel,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: active %s alert already exists for environment %s",
				models.ErrValidation, a.Type, a.EnvironmentID)
		}
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// Update 更新告警的可变字段
func (r *PostgresAlertRepository) Update(ctx context.Context, a *models.Alert) error {
	query := `
		UPDATE alerts SET
			severity = $2,
			status = $3,
			title = $4,
			message = $5,
			trigger_value = $6,
			threshold_value = $7,
			last_occurrence = $8,
			acknowledged_at = $9,
			acknowledged_by = $10,
			resolved_at = $11,
			resolved_by = $12,
			notes = $13,
			email_sent = $14,
			sms_sent = $15,
			webhook_sent = $16,
			notification_attempts = $17,
			last_notification_attempt = $18,
			occurrence_count = $19,
			escalation_level = $20
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		a.ID, string(a.Severity), string(a.Status), a.Title, a.Message,
		nullFloat(a.TriggerValue), nullFloat(a.ThresholdValue), a.LastOccurrence,
		nullTime(a.AcknowledgedAt), nullString(a.AcknowledgedBy),
		nullTime(a.ResolvedAt), nullString(a.ResolvedBy), nullString(a.Notes),
		a.EmailSent, a.SMSSent, a.WebhookSent, a.NotificationAttempts, nullTime(a.LastNotificationAttempt),
		a.OccurrenceCount, a.EscalationLevel,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: alert %s", models.ErrNotFound, a.ID)
	}
	return nil
}

// Get 获取告警
func (r *PostgresAlertRepository) Get(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	a, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: alert %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// FindActive 查询 (environment, type) 的 active 告警
func (r *PostgresAlertRepository) FindActive(ctx context.Context, environmentID string, alertType models.AlertType) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE environment_id = $1
		  AND alert_type = $2
		  AND status = 'active'
		LIMIT 1`

	a, err := scanAlert(r.db.QueryRowContext(ctx, query, environmentID, string(alertType)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: no active %s alert for environment %s", models.ErrNotFound, alertType, environmentID)
		}
		return nil, fmt.Errorf("failed to find active alert: %w", err)
	}
	return a, nil
}

// List 按条件查询告警（最近发生的在前）
func (r *PostgresAlertRepository) List(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	var where []string
	var args []interface{}
	argIndex := 1

	if filter.EnvironmentID != "" {
		where = append(where, fmt.Sprintf("environment_id = $%d", argIndex))
		args = append(args, filter.EnvironmentID)
		argIndex++
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, fmt.Sprintf("status = ANY($%d)", argIndex))
		args = append(args, pq.Array(statuses))
		argIndex++
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		where = append(where, fmt.Sprintf("alert_type = ANY($%d)", argIndex))
		args = append(args, pq.Array(types))
		argIndex++
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_occurrence DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			r.logger.Warn("Failed to scan alert row", zap.Error(err))
			continue // 继续处理，不中断
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return out, nil
}
