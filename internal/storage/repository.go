// Package storage defines the run ledger: a durable record of pipeline runs
// and their stage states, used to report status and suggest where to resume.
package storage

import (
	"context"

	"github.com/example/mdprep/pipeline/domain"
)

// ListOptions provides filtering options for list operations.
type ListOptions struct {
	// WorkDir filters runs by work directory (empty = all)
	WorkDir string

	// Statuses to filter by (empty = all)
	Statuses []domain.RunStatus

	// Pagination; newest first
	Limit  int
	Offset int
}

// RunRepository provides access to RunRecord storage.
type RunRepository interface {
	// Create creates a new run.
	Create(ctx context.Context, run *domain.RunRecord) error

	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (*domain.RunRecord, error)

	// Update updates an existing run.
	Update(ctx context.Context, run *domain.RunRecord) error

	// List lists runs, newest first.
	List(ctx context.Context, opts ListOptions) ([]*domain.RunRecord, error)

	// Delete deletes a run and its stages.
	Delete(ctx context.Context, id string) error
}

// StageRepository provides access to StageRecord storage.
type StageRepository interface {
	// Put creates or replaces the record for (RunID, Ordinal).
	Put(ctx context.Context, stage *domain.StageRecord) error

	// List lists a run's stages in ordinal order.
	List(ctx context.Context, runID string) ([]*domain.StageRecord, error)
}

// UnitOfWork provides transactional access to all repositories.
type UnitOfWork interface {
	Runs() RunRepository
	Stages() StageRepository

	Commit() error
	Rollback() error
}

// Storage provides the main entry point for storage operations.
type Storage interface {
	// Begin starts a new transaction and returns a UnitOfWork.
	Begin(ctx context.Context) (UnitOfWork, error)

	// Close closes the storage connection.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}

// Update runs fn in a transaction and commits when it returns nil.
func Update(ctx context.Context, s Storage, fn func(UnitOfWork) error) error {
	uow, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := fn(uow); err != nil {
		return err
	}
	return uow.Commit()
}

// LatestRun returns the newest run recorded for workDir with its stages.
func LatestRun(ctx context.Context, s Storage, workDir string) (*domain.RunRecord, []*domain.StageRecord, error) {
	var (
		run    *domain.RunRecord
		stages []*domain.StageRecord
	)
	err := Update(ctx, s, func(uow UnitOfWork) error {
		runs, err := uow.Runs().List(ctx, ListOptions{WorkDir: workDir, Limit: 1})
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return domain.ErrNotFound
		}
		run = runs[0]
		stages, err = uow.Stages().List(ctx, run.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return run, stages, nil
}
