package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements 自动化核心所需的表（幂等）
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS environments (
		id                   TEXT PRIMARY KEY,
		name                 TEXT NOT NULL,
		description          TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL,
		species_id           TEXT,
		current_phase        TEXT,
		phase_start_time     TIMESTAMPTZ,
		latest               JSONB,
		actuators            JSONB NOT NULL DEFAULT '{}',
		overrides            JSONB,
		override_set_at      TIMESTAMPTZ,
		override_expires_at  TIMESTAMPTZ,
		alert_enabled        BOOLEAN NOT NULL DEFAULT TRUE,
		alert_delay_minutes  INTEGER NOT NULL DEFAULT 15,
		tick_interval_ms     BIGINT NOT NULL DEFAULT 0,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS automation_rules (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		enabled         BOOLEAN NOT NULL,
		priority        INTEGER NOT NULL,
		species_id      TEXT,
		environment_id  TEXT,
		phase_name      TEXT,
		sequence        BIGSERIAL,
		definition      JSONB NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_automation_rules_priority ON automation_rules (priority, sequence)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id                        TEXT PRIMARY KEY,
		environment_id            TEXT NOT NULL,
		alert_type                TEXT NOT NULL,
		severity                  TEXT NOT NULL,
		status                    TEXT NOT NULL,
		title                     TEXT NOT NULL,
		message                   TEXT NOT NULL,
		trigger_value             DOUBLE PRECISION,
		threshold_value           DOUBLE PRECISION,
		rule_id                   TEXT,
		first_occurrence          TIMESTAMPTZ NOT NULL,
		last_occurrence           TIMESTAMPTZ NOT NULL,
		acknowledged_at           TIMESTAMPTZ,
		acknowledged_by           TEXT,
		resolved_at               TIMESTAMPTZ,
		resolved_by               TEXT,
		notes                     TEXT,
		email_sent                BOOLEAN NOT NULL DEFAULT FALSE,
		sms_sent                  BOOLEAN NOT NULL DEFAULT FALSE,
		webhook_sent              BOOLEAN NOT NULL DEFAULT FALSE,
		notification_attempts     INTEGER NOT NULL DEFAULT 0,
		last_notification_attempt TIMESTAMPTZ,
		occurrence_count          INTEGER NOT NULL DEFAULT 1,
		escalation_level          INTEGER NOT NULL DEFAULT 0
	)`,
	// 同一 (environment, type) 最多一个 active 告警
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_alerts_active ON alerts (environment_id, alert_type) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS sensor_readings (
		id              BIGSERIAL PRIMARY KEY,
		environment_id  TEXT NOT NULL,
		recorded_at     TIMESTAMPTZ NOT NULL,
		channel_values  JSONB NOT NULL,
		quality         TEXT NOT NULL,
		sensor_type     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sensor_readings_env_time ON sensor_readings (environment_id, recorded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS actuator_logs (
		id               TEXT PRIMARY KEY,
		environment_id   TEXT NOT NULL,
		logged_at        TIMESTAMPTZ NOT NULL,
		actuator_type    TEXT NOT NULL,
		action           TEXT NOT NULL,
		previous_state   BOOLEAN,
		new_state        BOOLEAN,
		intensity        DOUBLE PRECISION,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		trigger_source   TEXT NOT NULL,
		trigger_rule_id  TEXT,
		trigger_reason   TEXT,
		success          BOOLEAN NOT NULL,
		error            TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actuator_logs_env_time ON actuator_logs (environment_id, logged_at DESC)`,
}

// EnsureSchema 确保所需表和索引存在
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
