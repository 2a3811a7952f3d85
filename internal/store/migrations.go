package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all slurm-proxy tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		uuid          TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		username      TEXT NOT NULL,
		cwd           TEXT NOT NULL,
		cmd           TEXT NOT NULL DEFAULT '',
		params        TEXT NOT NULL DEFAULT '[]',
		dirs          TEXT NOT NULL,
		resource_spec TEXT NOT NULL,
		notification  TEXT,
		created_at    TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS monitors (
		task_uuid      TEXT PRIMARY KEY,
		prep_job_id    INTEGER NOT NULL DEFAULT -1,
		main_job_id    INTEGER NOT NULL,
		state          TEXT NOT NULL DEFAULT 'PENDING',
		created_at     TEXT NOT NULL,
		last_polled_at TEXT,
		notified_at    TEXT,
		FOREIGN KEY (task_uuid) REFERENCES tasks(uuid)
	)`,

	// One active monitor per scheduler job id.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_monitors_main_job_id ON monitors(main_job_id)`,

	// The reconciliation loop scans by state and created_at window.
	`CREATE INDEX IF NOT EXISTS idx_monitors_state ON monitors(state)`,
	`CREATE INDEX IF NOT EXISTS idx_monitors_created_at ON monitors(created_at)`,
}

// migrate applies the schema to db.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
