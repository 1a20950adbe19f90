package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/mdprep/internal/storage"
	"github.com/example/mdprep/pipeline/domain"
)

type runRepo struct {
	tx *sql.Tx
}

const runColumns = `id, work_dir, equilibration_steps, start_ordinal, status, failed_ordinal,
	message, metadata_json, started_at, finished_at, updated_at`

func (r *runRepo) Create(ctx context.Context, run *domain.RunRecord) error {
	metadataJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.WorkDir, run.EquilibrationSteps, run.StartOrdinal, run.Status, run.FailedOrdinal,
		run.Message, string(metadataJSON), run.StartedAt, run.FinishedAt, run.UpdatedAt)
	return err
}

func (r *runRepo) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return run, err
}

func (r *runRepo) Update(ctx context.Context, run *domain.RunRecord) error {
	metadataJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return err
	}

	result, err := r.tx.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, failed_ordinal = ?, message = ?, metadata_json = ?, finished_at = ?, updated_at = ?
		WHERE id = ?
	`, run.Status, run.FailedOrdinal, run.Message, string(metadataJSON), run.FinishedAt, run.UpdatedAt, run.ID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *runRepo) List(ctx context.Context, opts storage.ListOptions) ([]*domain.RunRecord, error) {
	var conds []string
	var args []any

	if opts.WorkDir != "" {
		conds = append(conds, "work_dir = ?")
		args = append(args, opts.WorkDir)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conds = append(conds, "status IN ("+strings.Join(placeholders, ",")+")")
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *runRepo) Delete(ctx context.Context, id string) error {
	_, err := r.tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.RunRecord, error) {
	run := &domain.RunRecord{}
	var message, metadataJSON sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(&run.ID, &run.WorkDir, &run.EquilibrationSteps, &run.StartOrdinal, &run.Status,
		&run.FailedOrdinal, &message, &metadataJSON, &run.StartedAt, &finishedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if message.Valid {
		run.Message = message.String
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &run.Metadata); err != nil {
			return nil, err
		}
	}
	if run.Metadata == nil {
		run.Metadata = make(map[string]string)
	}

	return run, nil
}
