package sqlite

import (
	"context"
	"database/sql"
)

// Migrate runs all database migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		// Runs table
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			work_dir TEXT NOT NULL,
			equilibration_steps INTEGER NOT NULL,
			start_ordinal INTEGER NOT NULL DEFAULT 1,
			status INTEGER NOT NULL DEFAULT 0,
			failed_ordinal INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			metadata_json TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			updated_at DATETIME NOT NULL
		)`,

		// Stage results table
		`CREATE TABLE IF NOT EXISTS run_stages (
			run_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			name TEXT NOT NULL,
			kind INTEGER NOT NULL,
			state INTEGER NOT NULL DEFAULT 10,
			exit_code INTEGER NOT NULL DEFAULT 0,
			failure INTEGER NOT NULL DEFAULT 0,
			failed_step INTEGER NOT NULL DEFAULT 0,
			missing_outputs_json TEXT,
			missing_inputs_json TEXT,
			message TEXT,
			started_at DATETIME,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (run_id, ordinal),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,

		// Indexes for efficient queries
		`CREATE INDEX IF NOT EXISTS idx_runs_work_dir ON runs(work_dir, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
	}

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	return nil
}
