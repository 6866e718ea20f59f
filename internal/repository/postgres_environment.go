package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mushroom-automation/internal/models"

	"go.uber.org/zap"
)

// PostgresEnvironmentRepository 环境仓库（PostgreSQL）
type PostgresEnvironmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresEnvironmentRepository 创建环境仓库
func NewPostgresEnvironmentRepository(db *sql.DB, logger *zap.Logger) *PostgresEnvironmentRepository {
	return &PostgresEnvironmentRepository{db: db, logger: logger}
}

const environmentColumns = `
	id, name, description, status, species_id, current_phase, phase_start_time,
	latest, actuators, overrides, override_set_at, override_expires_at,
	alert_enabled, alert_delay_minutes, tick_interval_ms, created_at, updated_at`

type environmentJSON struct {
	latest, actuators, overrides []byte
}

func encodeEnvironment(env *models.Environment) (environmentJSON, error) {
	var out environmentJSON
	var err error
	if env.Latest != nil {
		if out.latest, err = json.Marshal(env.Latest); err != nil {
			return out, fmt.Errorf("failed to marshal latest snapshot: %w", err)
		}
	}
	if out.actuators, err = json.Marshal(env.Actuators); err != nil {
		return out, fmt.Errorf("failed to marshal actuators: %w", err)
	}
	if len(env.Overrides) > 0 {
		if out.overrides, err = json.Marshal(env.Overrides); err != nil {
			return out, fmt.Errorf("failed to marshal overrides: %w", err)
		}
	}
	return out, nil
}

func scanEnvironment(row rowScanner) (*models.Environment, error) {
	var env models.Environment
	var speciesID, currentPhase sql.NullString
	var phaseStart, overrideSetAt, overrideExpiry sql.NullTime
	var latest, actuators, overrides []byte
	var tickMs int64

	err := row.Scan(
		&env.ID,
		&env.Name,
		&env.Description,
		&env.Status,
		&speciesID,
		&currentPhase,
		&phaseStart,
		&latest,
		&actuators,
		&overrides,
		&overrideSetAt,
		&overrideExpiry,
		&env.Alerts.Enabled,
		&env.Alerts.DelayMinutes,
		&tickMs,
		&env.CreatedAt,
		&env.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	env.SpeciesID = speciesID.String
	env.CurrentPhase = currentPhase.String
	env.PhaseStartTime = timePtr(phaseStart)
	env.OverrideSetAt = timePtr(overrideSetAt)
	env.OverrideExpiry = timePtr(overrideExpiry)
	env.TickInterval = time.Duration(tickMs) * time.Millisecond

	if len(latest) > 0 {
		var snap models.SensorSnapshot
		if err := json.Unmarshal(latest, &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal latest snapshot: %w", err)
		}
		env.Latest = &snap
	}
	env.Actuators = make(map[models.ActuatorType]models.ActuatorState)
	if len(actuators) > 0 {
		if err := json.Unmarshal(actuators, &env.Actuators); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actuators: %w", err)
		}
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &env.Overrides); err != nil {
			return nil, fmt.Errorf("failed to unmarshal overrides: %w", err)
		}
	}
	return &env, nil
}

// Create 创建环境
func (r *PostgresEnvironmentRepository) Create(ctx context.Context, env *models.Environment) error {
	if env.ID == "" {
		return fmt.Errorf("%w: environment id is required", models.ErrValidation)
	}
	enc, err := encodeEnvironment(env)
	if err != nil {
		return err
	}

	query := `INSERT INTO environments (` + environmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = r.db.ExecContext(ctx, query,
		env.ID, env.Name, env.Description, string(env.Status),
		nullString(env.SpeciesID), nullString(env.CurrentPhase), nullTime(env.PhaseStartTime),
		enc.latest, enc.actuators, enc.overrides,
		nullTime(env.OverrideSetAt), nullTime(env.OverrideExpiry),
		env.Alerts.Enabled, env.Alerts.DelayMinutes, env.TickInterval.Milliseconds(),
		env.CreatedAt, env.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: environment %s already exists", models.ErrValidation, env.ID)
		}
		return fmt.Errorf("failed to create environment: %w", err)
	}
	return nil
}

// Get 获取环境
func (r *PostgresEnvironmentRepository) Get(ctx context.Context, id string) (*models.Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE id = $1`

	env, err := scanEnvironment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: environment %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	return env, nil
}

// Update 更新环境（整行替换）
func (r *PostgresEnvironmentRepository) Update(ctx context.Context, env *models.Environment) error {
	enc, err := encodeEnvironment(env)
	if err != nil {
		return err
	}

	query := `
		UPDATE environments SET
			name = $2,
			description = $3,
			status = $4,
			species_id = $5,
			current_phase = $6,
			phase_start_time = $7,
			latest = $8,
			actuators = $9,
			overrides = $10,
			override_set_at = $11,
			override_expires_at = $12,
			alert_enabled = $13,
			alert_delay_minutes = $14,
			tick_interval_ms = $15,
			updated_at = $16
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		env.ID, env.Name, env.Description, string(env.Status),
		nullString(env.SpeciesID), nullString(env.CurrentPhase), nullTime(env.PhaseStartTime),
		enc.latest, enc.actuators, enc.overrides,
		nullTime(env.OverrideSetAt), nullTime(env.OverrideExpiry),
		env.Alerts.Enabled, env.Alerts.DelayMinutes, env.TickInterval.Milliseconds(),
		env.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update environment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: environment %s", models.ErrNotFound, env.ID)
	}
	return nil
}

// Delete 删除环境
func (r *PostgresEnvironmentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM environments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: environment %s", models.ErrNotFound, id)
	}
	return nil
}

// List 列出全部环境
func (r *PostgresEnvironmentRepository) List(ctx context.Context) ([]*models.Environment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+environmentColumns+` FROM environments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	var out []*models.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			r.logger.Warn("Failed to scan environment row", zap.Error(err))
			continue // 继续处理，不中断
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate environments: %w", err)
	}
	return out, nil
}
