package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/mdprep/internal/artifacts"
	"github.com/example/mdprep/internal/logging"
	"github.com/example/mdprep/internal/observability"
	"github.com/example/mdprep/internal/storage"
	"github.com/example/mdprep/pipeline/domain"
)

const ledgerTimeout = 5 * time.Second

// Runner drives a PipelinePlan through its stages strictly in order.
// It never retries: the first failed stage halts the run and later stages
// stay pending.
type Runner struct {
	executor    StageExecutor
	idGenerator func() string

	ledger    storage.Storage
	publisher artifacts.Store
	metrics   *observability.Metrics
	observer  Observer
}

// NewRunner creates a Runner.
func NewRunner(executor StageExecutor, idGenerator func() string) *Runner {
	return &Runner{
		executor:    executor,
		idGenerator: idGenerator,
		metrics:     observability.NewMetrics(),
		observer:    nopObserver{},
	}
}

// WithLedger records every state transition in s.
func (r *Runner) WithLedger(s storage.Storage) *Runner {
	r.ledger = s
	return r
}

// WithPublisher uploads the final outputs of a successful run.
func (r *Runner) WithPublisher(p artifacts.Store) *Runner {
	r.publisher = p
	return r
}

// WithMetrics sets the metrics sink. Pass the same instance to the Executor.
func (r *Runner) WithMetrics(m *observability.Metrics) *Runner {
	if m != nil {
		r.metrics = m
	}
	return r
}

// WithObserver sets the progress observer.
func (r *Runner) WithObserver(o Observer) *Runner {
	if o != nil {
		r.observer = o
	}
	return r
}

// Preflight renders every stage's parameter file. A template error here
// means no engine process is started.
func (r *Runner) Preflight(ctx context.Context, plan *domain.PipelinePlan) error {
	for _, stage := range plan.Stages() {
		if err := r.executor.Prepare(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}

// Run executes plan. The returned report is never nil once preflight passed,
// even when the run failed. A stage failure is returned as
// *domain.StageExecutionFailure.
func (r *Runner) Run(ctx context.Context, plan *domain.PipelinePlan) (*domain.RunReport, error) {
	if plan == nil || plan.Len() == 0 {
		return nil, domain.NewConfigurationError("plan", "no stages to run")
	}

	report := domain.NewRunReport(r.idGenerator(), plan)
	logger := logging.FromContext(ctx).With("run_id", report.RunID)
	ctx = logging.WithLogger(ctx, logger)

	if err := r.Preflight(ctx, plan); err != nil {
		logger.Error("preflight failed", "error", err)
		return nil, err
	}

	report.Status = domain.RunStatusRunning
	report.StartedAt = time.Now()
	r.recordStart(ctx, report)

	logger.Info("pipeline started", "stages", plan.Len(), "first_ordinal", plan.FirstOrdinal())

	for i, stage := range plan.Stages() {
		if err := report.Transition(i, domain.StageStateRunning); err != nil {
			return report, err
		}
		r.recordStage(ctx, report, i)
		r.observer.StageStarted(stage)

		result, err := r.executor.Execute(ctx, stage)
		if err != nil {
			// Interrupted or template error; outputs on disk are untrusted.
			if result == nil {
				result = &domain.ExecutionResult{
					StageName: stage.Name,
					Ordinal:   stage.Ordinal,
					Kind:      stage.Kind,
					ExitCode:  -1,
					Message:   err.Error(),
				}
			}
			r.failStage(ctx, report, i, result)
			r.finish(ctx, report, err.Error())
			return report, err
		}

		if result.Success && i == plan.Len()-1 {
			checkFinalOutputs(plan, result)
		}
		report.Results[i] = result
		r.observer.StageFinished(stage, result)

		if !result.Success {
			r.failStage(ctx, report, i, result)
			failure := &domain.StageExecutionFailure{Result: *result}
			r.finish(ctx, report, failure.Error())
			return report, failure
		}

		if err := report.Transition(i, domain.StageStateSucceeded); err != nil {
			return report, err
		}
		r.metrics.StageDuration().WithLabels(stage.Kind.Label()).Observe(result.Duration)
		r.metrics.StagesCompleted().Inc()
		r.recordStage(ctx, report, i)
		logger.Info("stage succeeded", "stage", stage.Name, "duration", result.Duration.Round(time.Millisecond))
	}

	report.Status = domain.RunStatusSucceeded
	r.finish(ctx, report, "")
	logger.Info("pipeline succeeded", "duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Second))

	r.publish(ctx, report)
	return report, nil
}

// checkFinalOutputs fails the last stage when an artifact of a complete run,
// such as the production run input, is absent or empty.
func checkFinalOutputs(plan *domain.PipelinePlan, result *domain.ExecutionResult) {
	missing := missingPaths(plan.FinalOutputs(), true)
	if len(missing) == 0 {
		return
	}
	result.Success = false
	result.Failure = domain.FailureMissingOutput
	result.FailedStep = domain.CommandStepRun
	result.MissingOutputs = missing
}

func (r *Runner) failStage(ctx context.Context, report *domain.RunReport, i int, result *domain.ExecutionResult) {
	report.Results[i] = result
	if err := report.Transition(i, domain.StageStateFailed); err != nil {
		logging.FromContext(ctx).Error("invalid transition", "error", err)
	}
	report.Status = domain.RunStatusFailed
	report.FailedOrdinal = result.Ordinal
	r.metrics.StageFailures().WithLabels(result.Failure.String()).Inc()
	r.recordStage(ctx, report, i)

	logging.FromContext(ctx).Error("stage failed",
		"stage", result.StageName,
		"ordinal", result.Ordinal,
		"failure", result.Failure,
		"exit_code", result.ExitCode,
		"missing", result.MissingOutputs)
}

// finish stamps the report, persists the final status and writes the metrics
// snapshot into the work directory.
func (r *Runner) finish(ctx context.Context, report *domain.RunReport, message string) {
	logger := logging.FromContext(ctx)
	report.FinishedAt = time.Now()

	if r.ledger != nil {
		err := r.withLedger(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
			run, err := uow.Runs().Get(ctx, report.RunID)
			if err != nil {
				return err
			}
			finished := report.FinishedAt
			run.Status = report.Status
			run.FailedOrdinal = report.FailedOrdinal
			run.Message = message
			run.FinishedAt = &finished
			run.UpdatedAt = finished
			return uow.Runs().Update(ctx, run)
		})
		if err != nil {
			logger.Warn("ledger update failed", "error", err)
		}
	}

	path, err := r.metrics.Snapshot().WriteFile(report.Plan.WorkDir())
	if err != nil {
		logger.Warn("metrics snapshot not written", "error", err)
		return
	}
	logger.Debug("metrics snapshot written", "path", path)
}

func (r *Runner) publish(ctx context.Context, report *domain.RunReport) {
	if r.publisher == nil {
		return
	}
	logger := logging.FromContext(ctx)
	keys, err := artifacts.Publish(ctx, r.publisher, report.RunID, report.Plan.FinalOutputs())
	if err != nil {
		logger.Error("artifact publishing failed", "published", len(keys), "error", err)
		return
	}
	logger.Info("artifacts published", "count", len(keys))
}

func (r *Runner) recordStart(ctx context.Context, report *domain.RunReport) {
	if r.ledger == nil {
		return
	}
	err := r.withLedger(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		now := report.StartedAt
		err := uow.Runs().Create(ctx, &domain.RunRecord{
			ID:                 report.RunID,
			WorkDir:            report.Plan.WorkDir(),
			EquilibrationSteps: report.Plan.EquilibrationSteps(),
			StartOrdinal:       report.Plan.FirstOrdinal(),
			Status:             report.Status,
			StartedAt:          now,
			UpdatedAt:          now,
		})
		if err != nil {
			return err
		}
		for i, stage := range report.Plan.Stages() {
			if err := uow.Stages().Put(ctx, stageRecord(report, i, stage)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logging.FromContext(ctx).Warn("ledger unavailable, run not recorded", "error", err)
		r.ledger = nil
	}
}

func (r *Runner) recordStage(ctx context.Context, report *domain.RunReport, i int) {
	if r.ledger == nil {
		return
	}
	stage := report.Plan.Stage(i)
	err := r.withLedger(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		return uow.Stages().Put(ctx, stageRecord(report, i, stage))
	})
	if err != nil {
		logging.FromContext(ctx).Warn("ledger stage update failed", "stage", stage.Name, "error", err)
	}
}

// withLedger runs fn in a transaction. fn receives a context detached from
// ctx's cancellation so an interrupted run still records its final state.
func (r *Runner) withLedger(ctx context.Context, fn func(context.Context, storage.UnitOfWork) error) error {
	start := time.Now()
	defer func() { r.metrics.LedgerWrite().Observe(time.Since(start)) }()

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	return storage.Update(lctx, r.ledger, func(uow storage.UnitOfWork) error {
		return fn(lctx, uow)
	})
}

func stageRecord(report *domain.RunReport, i int, stage domain.StageSpec) *domain.StageRecord {
	rec := &domain.StageRecord{
		RunID:     report.RunID,
		Ordinal:   stage.Ordinal,
		Name:      stage.Name,
		Kind:      stage.Kind,
		State:     report.States[i],
		UpdatedAt: time.Now(),
	}
	rec.ApplyResult(report.Results[i])
	return rec
}

// IsStageFailure reports whether err is a stage failure and returns it.
func IsStageFailure(err error) (*domain.StageExecutionFailure, bool) {
	var failure *domain.StageExecutionFailure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

// Summary returns one log-friendly line describing the report.
func Summary(report *domain.RunReport) string {
	if report == nil {
		return "no run"
	}
	s := fmt.Sprintf("run %s: %s, %d/%d stages succeeded", report.RunID, report.Status, report.Completed(), report.Plan.Len())
	if report.FailedOrdinal > 0 {
		s += fmt.Sprintf(", failed at stage %d", report.FailedOrdinal)
	}
	return s
}

var _ slog.LogValuer = (*reportValue)(nil)

type reportValue struct{ r *domain.RunReport }

// LogValue groups the report fields for structured logs.
func (v *reportValue) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", v.r.RunID),
		slog.String("status", v.r.Status.String()),
		slog.Int("completed", v.r.Completed()),
		slog.Int("failed_ordinal", v.r.FailedOrdinal),
	)
}

// LogReport wraps a report for slog attributes.
func LogReport(r *domain.RunReport) slog.LogValuer {
	return &reportValue{r: r}
}
