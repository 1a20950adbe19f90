package domain

import "time"

// RunRecord is the persisted summary of one pipeline run.
type RunRecord struct {
	ID                 string
	WorkDir            string
	EquilibrationSteps int
	// StartOrdinal is 1 for a full run, higher when resumed.
	StartOrdinal  int
	Status        RunStatus
	FailedOrdinal int
	Message       string
	Metadata      map[string]string
	StartedAt     time.Time
	FinishedAt    *time.Time
	UpdatedAt     time.Time
}

// ResumeOrdinal is the ordinal to pass to --from after a failed run.
func (r *RunRecord) ResumeOrdinal() int {
	if r.Status != RunStatusFailed {
		return 0
	}
	return r.FailedOrdinal
}

// StageRecord is the persisted state of one stage within a run.
type StageRecord struct {
	RunID          string
	Ordinal        int
	Name           string
	Kind           StageKind
	State          StageState
	ExitCode       int
	Failure        FailureKind
	FailedStep     CommandStep
	MissingOutputs []string
	MissingInputs  []string
	Message        string
	StartedAt      *time.Time
	Duration       time.Duration
	UpdatedAt      time.Time
}

// ApplyResult copies the outcome of an execution into the record.
func (s *StageRecord) ApplyResult(r *ExecutionResult) {
	if r == nil {
		return
	}
	s.ExitCode = r.ExitCode
	s.Failure = r.Failure
	s.FailedStep = r.FailedStep
	s.MissingOutputs = append([]string(nil), r.MissingOutputs...)
	s.MissingInputs = append([]string(nil), r.MissingInputs...)
	s.Message = r.Message
	s.Duration = r.Duration
	if !r.StartedAt.IsZero() {
		started := r.StartedAt
		s.StartedAt = &started
	}
}
