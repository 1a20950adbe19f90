package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/example/mdprep/internal/logging"
	"github.com/example/mdprep/internal/observability"
	"github.com/example/mdprep/pipeline/domain"
	"github.com/example/mdprep/pipeline/engine"
	"github.com/example/mdprep/pipeline/mdp"
)

// messageLines is how many trailing lines of engine output a failed result keeps.
const messageLines = 20

// Executor renders a stage's parameters, invokes the engine twice and checks
// the declared outputs. Engine output is never parsed; only exit codes and
// files on disk decide the outcome.
type Executor struct {
	engine   engine.Engine
	renderer TemplateRenderer
	metrics  *observability.Metrics
}

// NewExecutor creates an Executor.
func NewExecutor(eng engine.Engine, renderer TemplateRenderer) *Executor {
	return &Executor{
		engine:   eng,
		renderer: renderer,
		metrics:  observability.NewMetrics(),
	}
}

// WithMetrics sets the metrics sink.
func (e *Executor) WithMetrics(m *observability.Metrics) *Executor {
	if m != nil {
		e.metrics = m
	}
	return e
}

// Prepare implements StageExecutor.
func (e *Executor) Prepare(ctx context.Context, stage domain.StageSpec) error {
	start := time.Now()
	err := e.renderer.Render(mdp.Request{
		Template:  stage.TemplatePath,
		Output:    stage.ParameterFile,
		Values:    stage.Substitutions,
		Overrides: stage.Overrides,
	})
	e.metrics.RenderDuration().Observe(time.Since(start))
	if err != nil {
		return fmt.Errorf("stage %s: %w", stage.Name, err)
	}
	logging.FromContext(ctx).Debug("rendered parameters", "stage", stage.Name, "file", stage.ParameterFile)
	return nil
}

// Execute implements StageExecutor.
func (e *Executor) Execute(ctx context.Context, stage domain.StageSpec) (*domain.ExecutionResult, error) {
	logger := logging.FromContext(ctx).With("stage", stage.Name, "ordinal", stage.Ordinal)
	result := &domain.ExecutionResult{
		StageName: stage.Name,
		Ordinal:   stage.Ordinal,
		Kind:      stage.Kind,
		StartedAt: time.Now(),
	}
	defer func() { result.Duration = time.Since(result.StartedAt) }()

	if missing := missingPaths(stage.Inputs, false); len(missing) > 0 {
		logger.Error("stage inputs missing", "missing", missing)
		fail(result, domain.FailureMissingInput, domain.CommandStepNone, -1, nil, "")
		result.MissingInputs = missing
		return result, nil
	}

	if err := e.Prepare(ctx, stage); err != nil {
		return nil, err
	}

	logger.Info("preprocessing", "parameters", stage.Preprocess.Parameters)
	art, err := e.engine.Preprocess(ctx, stage.Preprocess)
	if err != nil {
		return e.invocationError(result, domain.CommandStepPreprocess, err)
	}
	e.observe(domain.CommandStepPreprocess, &art.Invocation)
	if !art.Invocation.Succeeded() {
		logger.Error("preprocess failed", "exit_code", art.Invocation.ExitCode)
		return fail(result, domain.FailureEngineExit, domain.CommandStepPreprocess,
			art.Invocation.ExitCode, nil, tailLines(art.Invocation.Output, messageLines)), nil
	}
	if missing := missingPaths([]string{art.Path}, true); len(missing) > 0 {
		logger.Error("preprocess produced no run input", "missing", missing)
		return fail(result, domain.FailureMissingOutput, domain.CommandStepPreprocess, 0, missing, ""), nil
	}

	logger.Info("running", "input", art.Path, "args", stage.Run.ExtraArgs)
	inv, err := e.engine.Execute(ctx, art, stage.Run)
	if err != nil {
		return e.invocationError(result, domain.CommandStepRun, err)
	}
	e.observe(domain.CommandStepRun, inv)
	result.ExitCode = inv.ExitCode
	if !inv.Succeeded() {
		logger.Error("run failed", "exit_code", inv.ExitCode)
		return fail(result, domain.FailureEngineExit, domain.CommandStepRun,
			inv.ExitCode, nil, tailLines(inv.Output, messageLines)), nil
	}

	// A clean exit is not enough: the engine can die without a non-zero code.
	if missing := missingPaths(stage.Outputs, true); len(missing) > 0 {
		logger.Error("outputs missing after clean exit", "missing", missing)
		return fail(result, domain.FailureMissingOutput, domain.CommandStepRun,
			inv.ExitCode, missing, tailLines(inv.Output, messageLines)), nil
	}

	result.Success = true
	return result, nil
}

// invocationError turns an engine error into a failed result when the engine
// could not start. Interruption is returned as an error.
func (e *Executor) invocationError(result *domain.ExecutionResult, step domain.CommandStep, err error) (*domain.ExecutionResult, error) {
	if errors.Is(err, engine.ErrEngineStart) {
		e.metrics.EngineInvocations().WithLabels(step.String()).Inc()
		return fail(result, domain.FailureEngineStart, step, -1, nil, err.Error()), nil
	}
	return nil, fmt.Errorf("stage %s %s: %w", result.StageName, step, err)
}

func (e *Executor) observe(step domain.CommandStep, inv *engine.Invocation) {
	e.metrics.EngineInvocations().WithLabels(step.String()).Inc()
	e.metrics.EngineDuration().WithLabels(step.String()).Observe(inv.Duration)
}

func fail(r *domain.ExecutionResult, kind domain.FailureKind, step domain.CommandStep, code int, missing []string, msg string) *domain.ExecutionResult {
	r.Success = false
	r.Failure = kind
	r.FailedStep = step
	r.ExitCode = code
	r.MissingOutputs = missing
	r.Message = msg
	return r
}

// missingPaths returns the paths that do not exist, and with nonEmpty also
// those that are empty.
func missingPaths(paths []string, nonEmpty bool) []string {
	var missing []string
	for _, p := range paths {
		info, err := os.Stat(p)
		switch {
		case err != nil, info.IsDir():
			missing = append(missing, p)
		case nonEmpty && info.Size() == 0:
			missing = append(missing, p)
		}
	}
	return missing
}

func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
