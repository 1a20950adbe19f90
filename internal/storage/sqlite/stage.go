package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/example/mdprep/pipeline/domain"
)

type stageRepo struct {
	tx *sql.Tx
}

func (r *stageRepo) Put(ctx context.Context, stage *domain.StageRecord) error {
	missingJSON, err := json.Marshal(stage.MissingOutputs)
	if err != nil {
		return err
	}
	inputsJSON, err := json.Marshal(stage.MissingInputs)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO run_stages (
			run_id, ordinal, name, kind, state, exit_code, failure, failed_step,
			missing_outputs_json, missing_inputs_json, message, started_at, duration_ms, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, ordinal) DO UPDATE SET
			state = excluded.state,
			exit_code = excluded.exit_code,
			failure = excluded.failure,
			failed_step = excluded.failed_step,
			missing_outputs_json = excluded.missing_outputs_json,
			missing_inputs_json = excluded.missing_inputs_json,
			message = excluded.message,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at
	`, stage.RunID, stage.Ordinal, stage.Name, stage.Kind, stage.State, stage.ExitCode, stage.Failure,
		stage.FailedStep, string(missingJSON), string(inputsJSON), stage.Message, stage.StartedAt,
		stage.Duration.Milliseconds(), stage.UpdatedAt)
	return err
}

func (r *stageRepo) List(ctx context.Context, runID string) ([]*domain.StageRecord, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT run_id, ordinal, name, kind, state, exit_code, failure, failed_step,
			missing_outputs_json, missing_inputs_json, message, started_at, duration_ms, updated_at
		FROM run_stages WHERE run_id = ?
		ORDER BY ordinal
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []*domain.StageRecord
	for rows.Next() {
		stage := &domain.StageRecord{}
		var missingJSON, inputsJSON, message sql.NullString
		var startedAt sql.NullTime
		var durationMS int64

		err := rows.Scan(&stage.RunID, &stage.Ordinal, &stage.Name, &stage.Kind, &stage.State,
			&stage.ExitCode, &stage.Failure, &stage.FailedStep, &missingJSON, &inputsJSON, &message,
			&startedAt, &durationMS, &stage.UpdatedAt)
		if err != nil {
			return nil, err
		}

		if err := decodePaths(missingJSON, &stage.MissingOutputs); err != nil {
			return nil, err
		}
		if err := decodePaths(inputsJSON, &stage.MissingInputs); err != nil {
			return nil, err
		}
		if message.Valid {
			stage.Message = message.String
		}
		if startedAt.Valid {
			stage.StartedAt = &startedAt.Time
		}
		stage.Duration = time.Duration(durationMS) * time.Millisecond

		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

func decodePaths(raw sql.NullString, dst *[]string) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}
