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

// PostgresRuleRepository 自动化规则仓库（PostgreSQL）
// 作用域与排序字段单独成列，条件和动作整体存放在 definition JSONB 中，单条规则的编辑在一条语句内完成
type PostgresRuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresRuleRepository 创建规则仓库
func NewPostgresRuleRepository(db *sql.DB, logger *zap.Logger) *PostgresRuleRepository {
	return &PostgresRuleRepository{db: db, logger: logger}
}

func scanRule(row rowScanner) (*models.AutomationRule, error) {
	var id string
	var sequence int64
	var definition []byte
	var createdAt, updatedAt time.Time

	if err := row.Scan(&id, &sequence, &definition, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var rule models.AutomationRule
	if err := json.Unmarshal(definition, &rule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule definition %s: %w", id, err)
	}
	rule.ID = id
	rule.Sequence = sequence
	rule.CreatedAt = createdAt
	rule.UpdatedAt = updatedAt
	return &rule, nil
}

// Save 新建或整体替换规则
func (r *PostgresRuleRepository) Save(ctx context.Context, rule *models.AutomationRule) (*models.AutomationRule, error) {
	stored := rule.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	definition, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule definition: %w", err)
	}

	query := `
		INSERT INTO automation_rules (
			id, name, enabled, priority, species_id, environment_id, phase_name,
			definition, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			priority = EXCLUDED.priority,
			species_id = EXCLUDED.species_id,
			environment_id = EXCLUDED.environment_id,
			phase_name = EXCLUDED.phase_name,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at
		RETURNING sequence, created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		stored.ID, stored.Name, stored.Enabled, stored.Priority,
		nullString(stored.SpeciesID), nullString(stored.EnvironmentID), nullString(stored.PhaseName),
		definition, time.Now(),
	).Scan(&stored.Sequence, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}

	r.logger.Debug("Rule saved",
		zap.String("rule_id", stored.ID),
		zap.Int("priority", stored.Priority),
	)
	return stored, nil
}

// Get 获取规则
func (r *PostgresRuleRepository) Get(ctx context.Context, id string) (*models.AutomationRule, error) {
	query := `SELECT id, sequence, definition, created_at, updated_at FROM automation_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: rule %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// Delete 删除规则
func (r *PostgresRuleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: rule %s", models.ErrNotFound, id)
	}
	return nil
}

// List 按 (priority, sequence) 升序列出全部规则
func (r *PostgresRuleRepository) List(ctx context.Context) ([]*models.AutomationRule, error) {
	query := `
		SELECT id, sequence, definition, created_at, updated_at
		FROM automation_rules
		ORDER BY priority ASC, sequence ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*models.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			r.logger.Warn("Failed to scan rule row", zap.Error(err))
			continue // 继续处理，不中断
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return out, nil
}
