package domain

import (
	"fmt"
	"time"
)

// FailureKind records why a stage failed.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureEngineExit means the engine reported failure with a non-zero exit.
	FailureEngineExit
	// FailureMissingOutput means the engine exited cleanly but a declared
	// output is missing or empty. This can indicate a crash without a clean exit.
	FailureMissingOutput
	// FailureMissingInput means a declared input did not exist before execution.
	FailureMissingInput
	// FailureEngineStart means the engine binary could not be started.
	FailureEngineStart
)

func (f FailureKind) String() string {
	switch f {
	case FailureNone:
		return "NONE"
	case FailureEngineExit:
		return "ENGINE_EXIT"
	case FailureMissingOutput:
		return "MISSING_OUTPUT"
	case FailureMissingInput:
		return "MISSING_INPUT"
	case FailureEngineStart:
		return "ENGINE_START"
	default:
		return "UNKNOWN"
	}
}

// ExecutionResult is produced per stage and decides whether the runner continues.
type ExecutionResult struct {
	StageName string
	Ordinal   int
	Kind      StageKind
	Success   bool
	ExitCode  int

	Failure    FailureKind
	FailedStep CommandStep

	// MissingOutputs lists expected outputs that were absent or empty.
	MissingOutputs []string

	// MissingInputs lists stage inputs absent when the stage started.
	MissingInputs []string

	// Message holds engine output tail or a start error, for diagnosis.
	Message string

	StartedAt time.Time
	Duration  time.Duration
}

// RunStatus describes the state of a whole pipeline run.
type RunStatus int

const (
	RunStatusPending   RunStatus = 0
	RunStatusRunning   RunStatus = 10
	RunStatusSucceeded RunStatus = 20
	RunStatusFailed    RunStatus = 30
)

func (s RunStatus) String() string {
	switch s {
	case RunStatusPending:
		return "PENDING"
	case RunStatusRunning:
		return "RUNNING"
	case RunStatusSucceeded:
		return "SUCCEEDED"
	case RunStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if this is a final status.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// RunReport is the inspectable state of a pipeline run, complete or partial.
type RunReport struct {
	RunID  string
	Plan   *PipelinePlan
	Status RunStatus

	// States and Results are indexed by position in Plan.
	States  []StageState
	Results []*ExecutionResult

	// FailedOrdinal is the full-plan ordinal of the failing stage, 0 if none.
	FailedOrdinal int

	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRunReport creates a report with every stage pending.
func NewRunReport(runID string, plan *PipelinePlan) *RunReport {
	states := make([]StageState, plan.Len())
	for i := range states {
		states[i] = StageStatePending
	}
	return &RunReport{
		RunID:   runID,
		Plan:    plan,
		Status:  RunStatusPending,
		States:  states,
		Results: make([]*ExecutionResult, plan.Len()),
	}
}

// Transition moves stage i to a new state.
func (r *RunReport) Transition(i int, to StageState) error {
	from := r.States[i]
	if !ValidStageTransition(from, to) {
		return fmt.Errorf("%w: cannot transition stage %s from %s to %s",
			ErrInvalidState, r.Plan.stages[i].Name, from, to)
	}
	r.States[i] = to
	return nil
}

// Completed returns the number of stages that succeeded.
func (r *RunReport) Completed() int {
	n := 0
	for _, s := range r.States {
		if s == StageStateSucceeded {
			n++
		}
	}
	return n
}

// FailedResult returns the result of the failing stage, if any.
func (r *RunReport) FailedResult() *ExecutionResult {
	for i, s := range r.States {
		if s == StageStateFailed {
			return r.Results[i]
		}
	}
	return nil
}
