package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mushroom-automation/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PostgresSensorReadingRepository 传感器读数仓库（PostgreSQL）
type PostgresSensorReadingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresSensorReadingRepository 创建读数仓库
func NewPostgresSensorReadingRepository(db *sql.DB, logger *zap.Logger) *PostgresSensorReadingRepository {
	return &PostgresSensorReadingRepository{db: db, logger: logger}
}

func scanReading(row rowScanner) (*models.SensorReading, error) {
	var reading models.SensorReading
	var values []byte
	var sensorType sql.NullString

	if err := row.Scan(&reading.EnvironmentID, &reading.Timestamp, &values, &reading.Quality, &sensorType); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(values, &reading.Values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel values: %w", err)
	}
	reading.SensorType = sensorType.String
	return &reading, nil
}

// Append 追加读数
func (r *PostgresSensorReadingRepository) Append(ctx context.Context, reading *models.SensorReading) error {
	values, err := json.Marshal(reading.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal channel values: %w", err)
	}

	query := `
		INSERT INTO sensor_readings (environment_id, recorded_at, channel_values, quality, sensor_type)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query,
		reading.EnvironmentID, reading.Timestamp, values, string(reading.Quality), nullString(reading.SensorType),
	); err != nil {
		return fmt.Errorf("failed to append sensor reading: %w", err)
	}
	return nil
}

// Latest 获取环境最新读数
func (r *PostgresSensorReadingRepository) Latest(ctx context.Context, environmentID string) (*models.SensorReading, error) {
	query := `
		SELECT environment_id, recorded_at, channel_values, quality, sensor_type
		FROM sensor_readings
		WHERE environment_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`
	reading, err := scanReading(r.db.QueryRowContext(ctx, query, environmentID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: no readings for environment %s", models.ErrNotFound, environmentID)
		}
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	return reading, nil
}

// Range 获取时间段内的读数（按时间升序）
func (r *PostgresSensorReadingRepository) Range(ctx context.Context, environmentID string, from, to time.Time) ([]*models.SensorReading, error) {
	query := `
		SELECT environment_id, recorded_at, channel_values, quality, sensor_type
		FROM sensor_readings
		WHERE environment_id = $1
		  AND recorded_at >= $2
		  AND recorded_at <= $3
		ORDER BY recorded_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, environmentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []*models.SensorReading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			r.logger.Warn("Failed to scan sensor reading", zap.Error(err))
			continue
		}
		out = append(out, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return out, nil
}

// PostgresActuatorLogRepository 执行器日志仓库（PostgreSQL）
type PostgresActuatorLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresActuatorLogRepository 创建执行器日志仓库
func NewPostgresActuatorLogRepository(db *sql.DB, logger *zap.Logger) *PostgresActuatorLogRepository {
	return &PostgresActuatorLogRepository{db: db, logger: logger}
}

// Append 追加执行器日志
func (r *PostgresActuatorLogRepository) Append(ctx context.Context, l *models.ActuatorLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}

	query := `
		INSERT INTO actuator_logs (
			id, environment_id, logged_at, actuator_type, action, previous_state, new_state,
			intensity, duration_seconds, trigger_source, trigger_rule_id, trigger_reason, success, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	if _, err := r.db.ExecContext(ctx, query,
		l.ID, l.EnvironmentID, l.Timestamp, string(l.Actuator), string(l.Action),
		nullBool(l.PreviousState), nullBool(l.NewState), nullFloat(l.Intensity), l.DurationSecs,
		string(l.TriggerSource), nullString(l.RuleID), nullString(l.Reason), l.Success, nullString(l.Error),
	); err != nil {
		return fmt.Errorf("failed to append actuator log: %w", err)
	}
	return nil
}

// List 按时间倒序返回最近的日志（limit<=0 时取100条）
func (r *PostgresActuatorLogRepository) List(ctx context.Context, environmentID string, limit int) ([]*models.ActuatorLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, environment_id, logged_at, actuator_type, action, previous_state, new_state,
		       intensity, duration_seconds, trigger_source, trigger_rule_id, trigger_reason, success, error
		FROM actuator_logs
		WHERE environment_id = $1
		ORDER BY logged_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, environmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query actuator logs: %w", err)
	}
	defer rows.Close()

	var out []*models.ActuatorLog
	for rows.Next() {
		var l models.ActuatorLog
		var prev, next sql.NullBool
		var intensity sql.NullFloat64
		var ruleID, reason, errMsg sql.NullString
		if err := rows.Scan(
			&l.ID, &l.EnvironmentID, &l.Timestamp, &l.Actuator, &l.Action, &prev, &next,
			&intensity, &l.DurationSecs, &l.TriggerSource, &ruleID, &reason, &l.Success, &errMsg,
		); err != nil {
			r.logger.Warn("Failed to scan actuator log", zap.Error(err))
			continue
		}
		l.PreviousState = boolPtr(prev)
		l.NewState = boolPtr(next)
		l.Intensity = floatPtr(intensity)
		l.RuleID = ruleID.String
		l.Reason = reason.String
		l.Error = errMsg.String
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate actuator logs: %w", err)
	}
	return out, nil
}
