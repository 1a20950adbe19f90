package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/mdprep/internal/storage"
	"github.com/example/mdprep/pipeline/domain"
)

func openMemory(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newRun(id, workDir string, started time.Time) *domain.RunRecord {
	return &domain.RunRecord{
		ID:                 id,
		WorkDir:            workDir,
		EquilibrationSteps: 2,
		StartOrdinal:       1,
		Status:             domain.RunStatusRunning,
		Metadata:           map[string]string{"engine": "gmx"},
		StartedAt:          started,
		UpdatedAt:          started,
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	now := time.Now().UTC().Truncate(time.Second)

	err := storage.Update(ctx, s, func(uow storage.UnitOfWork) error {
		return uow.Runs().Create(ctx, newRun("run-1", "/work", now))
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = storage.Update(ctx, s, func(uow storage.UnitOfWork) error {
		run, err := uow.Runs().Get(ctx, "run-1")
		if err != nil {
			return err
		}
		finished := now.Add(time.Minute)
		run.Status = domain.RunStatusFailed
		run.FailedOrdinal = 3
		run.Message = "mdrun exited with code 1"
		run.FinishedAt = &finished
		run.UpdatedAt = finished
		return uow.Runs().Update(ctx, run)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	var got *domain.RunRecord
	err = storage.Update(ctx, s, func(uow storage.UnitOfWork) error {
		var err error
		got, err = uow.Runs().Get(ctx, "run-1")
		return err
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.RunStatusFailed || got.FailedOrdinal != 3 {
		t.Errorf("run = %+v", got)
	}
	if got.ResumeOrdinal() != 3 {
		t.Errorf("ResumeOrdinal() = %d, want 3", got.ResumeOrdinal())
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not persisted")
	}
	if got.Metadata["engine"] != "gmx" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestGetMissingRun(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	err := storage.Update(ctx, s, func(uow storage.UnitOfWork) error {
		_, err := uow.Runs().Get(ctx, "nope")
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestStagePutReplaces(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	now := time.Now().UTC()

	err := storage.Update(ctx, s, func(uow storage.UnitOfWork) error {
		if err := uow.Runs().Create(ctx, newRun("run-1", "/work", now)); err != nil {
			return err
		}
		for i, name := range []string{"minimization", "equilibration1", "production"} {
			err := uow.Stages().Put(ctx, &domain.StageRecord{
				RunID: "run-1", Ordinal: i + 1, Name: name,
				Kind: domain.StageKindMinimization, State: domain.StageStatePending, UpdatedAt: now,
			})
			if err != nil {
				return err
			}
		}
		return uow.Stages().Put(ctx, &domain.StageRecord{
			RunID: "run-1", Ordinal: 2, Name: "equilibration1",
			Kind: domain.StageKindEquilibration, State: domain.StageStateFailed,
			ExitCode: 0, Failure: domain.FailureMissingOutput, FailedStep: domain.CommandStepRun,
			MissingOutputs: []string{"/work/equilibration1.cpt"},
			Duration:       1500 * time.Millisecond, UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	run, stages, err := storage.LatestRun(ctx, s, "/work")
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.ID != "run-1" {
		t.Errorf("run = %s", run.ID)
	}
	if len(stages) != 3 {
		t.Fatalf("got %d stages, want 3", len(stages))
	}
	eq := stages[1]
	if eq.State != domain.StageStateFailed || eq.Failure != domain.FailureMissingOutput {
		t.Errorf("stage = %+v", eq)
	}
	if len(eq.MissingOutputs) != 1 || eq.MissingOutputs[0] != "/work/equilibration1.cpt" {
		t.Errorf("missing outputs = %v", eq.MissingOutputs)
	}
	if eq.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v", eq.Duration)
	}
	if stages[0].MissingOutputs != nil {
		t.Errorf("pending stage has missing outputs %v", stages[0].MissingOutputs)
	}
}

func TestStageMissingInputsKeptApart(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	now := time.Now().UTC()

	err := storage.Update(ctx, s, func(uow storage.UnitOfWork) error {
		if err := uow.Runs().Create(ctx, newRun("run-1", "/work", now)); err != nil {
			return err
		}
		return uow.Stages().Put(ctx, &domain.StageRecord{
			RunID: "run-1", Ordinal: 1, Name: "minimization",
			Kind: domain.StageKindMinimization, State: domain.StageStateFailed,
			ExitCode: -1, Failure: domain.FailureMissingInput,
			MissingInputs: []string{"/inputs/step3_input.gro"},
			UpdatedAt:     now,
		})
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	_, stages, err := storage.LatestRun(ctx, s, "/work")
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if len(stages) != 1 {
		t.Fatalf("got %d stages, want 1", len(stages))
	}
	if got := stages[0].MissingInputs; len(got) != 1 || got[0] != "/inputs/step3_input.gro" {
		t.Errorf("missing inputs = %v", got)
	}
	if stages[0].MissingOutputs != nil {
		t.Errorf("missing outputs = %v, want none", stages[0].MissingOutputs)
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	base := time.Now().UTC()

	err := storage.Update(ctx, s, func(uow storage.UnitOfWork) error {
		for i, id := range []string{"old", "mid", "new"} {
			if err := uow.Runs().Create(ctx, newRun(id, "/work", base.Add(time.Duration(i)*time.Hour))); err != nil {
				return err
			}
		}
		return uow.Runs().Create(ctx, newRun("other", "/elsewhere", base.Add(10*time.Hour)))
	})
	if err != nil {
		t.Fatal(err)
	}

	var runs []*domain.RunRecord
	err = storage.Update(ctx, s, func(uow storage.UnitOfWork) error {
		var err error
		runs, err = uow.Runs().List(ctx, storage.ListOptions{WorkDir: "/work", Limit: 2})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		ids := make([]string, len(runs))
		for i, r := range runs {
			ids[i] = r.ID
		}
		t.Errorf("runs = %v, want [new mid]", ids)
	}
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	now := time.Now().UTC()

	err := storage.Update(ctx, s, func(uow storage.UnitOfWork) error {
		if err := uow.Runs().Create(ctx, newRun("run-1", "/work", now)); err != nil {
			return err
		}
		if err := uow.Stages().Put(ctx, &domain.StageRecord{RunID: "run-1", Ordinal: 1, Name: "minimization", UpdatedAt: now}); err != nil {
			return err
		}
		return uow.Runs().Delete(ctx, "run-1")
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := storage.LatestRun(ctx, s, "/work"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("LatestRun error = %v, want ErrNotFound", err)
	}
}
