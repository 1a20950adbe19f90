// Package runner executes a pipeline plan stage by stage, halting at the
// first failure.
package runner

import (
	"context"

	"github.com/example/mdprep/pipeline/domain"
	"github.com/example/mdprep/pipeline/mdp"
)

// TemplateRenderer writes one parameter file.
type TemplateRenderer interface {
	Render(req mdp.Request) error
}

// StageExecutor runs a single stage.
type StageExecutor interface {
	// Prepare renders the stage's parameter file without invoking the engine.
	Prepare(ctx context.Context, stage domain.StageSpec) error

	// Execute runs the stage. Stage failures are reported in the result;
	// the error is reserved for template errors and interruption.
	Execute(ctx context.Context, stage domain.StageSpec) (*domain.ExecutionResult, error)
}

// Observer is notified as stages start and finish.
type Observer interface {
	StageStarted(stage domain.StageSpec)
	StageFinished(stage domain.StageSpec, result *domain.ExecutionResult)
}

type nopObserver struct{}

func (nopObserver) StageStarted(domain.StageSpec)                           {}
func (nopObserver) StageFinished(domain.StageSpec, *domain.ExecutionResult) {}
