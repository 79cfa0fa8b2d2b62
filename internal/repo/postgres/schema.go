package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pipelines (
		pipeline_id      TEXT PRIMARY KEY,
		project_id       TEXT NOT NULL,
		name             TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		spec             JSONB NOT NULL,
		content_sha256   TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		created_by       TEXT NOT NULL DEFAULT '',
		UNIQUE (project_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS datasets (
		dataset_id       TEXT PRIMARY KEY,
		project_id       TEXT NOT NULL,
		name             TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		format           TEXT NOT NULL,
		source           TEXT NOT NULL,
		content_sha256   TEXT NOT NULL DEFAULT '',
		options          JSONB NOT NULL DEFAULT '{}',
		created_at       TIMESTAMPTZ NOT NULL,
		created_by       TEXT NOT NULL DEFAULT '',
		UNIQUE (project_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id           TEXT PRIMARY KEY,
		project_id       TEXT NOT NULL,
		pipeline_id      TEXT NOT NULL REFERENCES pipelines (pipeline_id),
		kind             TEXT NOT NULL,
		mode             TEXT NOT NULL,
		epoch            INTEGER NOT NULL,
		num_steps        INTEGER NOT NULL,
		warmup_steps     INTEGER NOT NULL DEFAULT -1,
		min_records_per_second DOUBLE PRECISION NOT NULL DEFAULT 0,
		datasets         JSONB NOT NULL,
		status           TEXT NOT NULL,
		report           JSONB,
		sample_key       TEXT,
		sample_sha256    TEXT,
		error            TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL,
		created_by       TEXT NOT NULL DEFAULT '',
		started_at       TIMESTAMPTZ,
		ended_at         TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS pipeline_runs_project_pipeline_idx
		ON pipeline_runs (project_id, pipeline_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		event_id         BIGSERIAL PRIMARY KEY,
		occurred_at      TIMESTAMPTZ NOT NULL,
		actor            TEXT NOT NULL,
		action           TEXT NOT NULL,
		resource_type    TEXT NOT NULL,
		resource_id      TEXT NOT NULL,
		request_id       TEXT,
		ip               TEXT,
		user_agent       TEXT,
		payload          JSONB NOT NULL,
		integrity_sha256 TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lineage_events (
		event_id         BIGSERIAL PRIMARY KEY,
		occurred_at      TIMESTAMPTZ NOT NULL,
		actor            TEXT NOT NULL,
		request_id       TEXT,
		subject_type     TEXT NOT NULL,
		subject_id       TEXT NOT NULL,
		predicate        TEXT NOT NULL,
		object_type      TEXT NOT NULL,
		object_id        TEXT NOT NULL,
		metadata         JSONB NOT NULL,
		integrity_sha256 TEXT NOT NULL
	)`,
}

// EnsureSchema creates the registry tables when they do not exist yet.
// Statements are idempotent so services can run it at startup.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
