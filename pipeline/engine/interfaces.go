// Package engine is the boundary to the external MD engine. The orchestrator
// only observes exit codes and output files; it never parses engine logs.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/example/mdprep/pipeline/domain"
)

// ErrEngineStart is returned when the engine process could not be started.
var ErrEngineStart = errors.New("engine could not be started")

// Engine runs the two per-stage engine commands.
type Engine interface {
	// Preprocess compiles a run-input artifact from parameters, structure,
	// topology, index and an optional checkpoint.
	// A non-zero exit is reported in the artifact's Invocation, not as an error.
	Preprocess(ctx context.Context, cmd domain.PreprocessCommand) (*Artifact, error)

	// Execute runs a previously compiled artifact.
	// A non-zero exit is reported in the Invocation, not as an error.
	Execute(ctx context.Context, artifact *Artifact, cmd domain.RunCommand) (*Invocation, error)
}

// Invocation records one finished engine process.
type Invocation struct {
	// Args is the full command line, binary first.
	Args []string

	ExitCode int
	Duration time.Duration

	// Output is the tail of combined stdout and stderr.
	Output string
}

// Succeeded reports a zero exit code.
func (i *Invocation) Succeeded() bool {
	return i != nil && i.ExitCode == 0
}

// Artifact is the run-input file produced by Preprocess.
type Artifact struct {
	Path       string
	Invocation Invocation
}
