package runner

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mdprep/pipeline/domain"
	"github.com/example/mdprep/pipeline/engine"
	"github.com/example/mdprep/pipeline/mdp"
)

func TestExecuteMissingInputStartsNoEngine(t *testing.T) {
	h := newHarness(t, 0)
	p := h.plan(t)
	require.NoError(t, os.Remove(h.cfg.Inputs.Structure))

	exec := NewExecutor(h.engine, mdp.NewRenderer())
	result, err := exec.Execute(context.Background(), p.Stage(0))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, domain.FailureMissingInput, result.Failure)
	assert.Contains(t, result.MissingInputs, h.cfg.Inputs.Structure)
	assert.Empty(t, result.MissingOutputs)
	failure := &domain.StageExecutionFailure{Result: *result}
	assert.Contains(t, failure.Error(), "inputs are missing: "+h.cfg.Inputs.Structure)
	assert.Empty(t, h.engine.GetCalls())
}

func TestExecuteEmptyOutputCountsAsMissing(t *testing.T) {
	h := newHarness(t, 0)
	p := h.plan(t)
	stage := p.Stage(0)

	eng := &emptyLogEngine{FakeEngine: h.engine, path: stage.Output(domain.ExtLog)}
	result, err := NewExecutor(eng, mdp.NewRenderer()).Execute(context.Background(), stage)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, domain.FailureMissingOutput, result.Failure)
	assert.Equal(t, []string{stage.Output(domain.ExtLog)}, result.MissingOutputs)
}

func TestExecuteMissingRunInput(t *testing.T) {
	h := newHarness(t, 0)
	h.engine.OmitOutputs("minimization", domain.ExtRunInput)
	stage := h.plan(t).Stage(0)

	result, err := NewExecutor(h.engine, mdp.NewRenderer()).Execute(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureMissingOutput, result.Failure)
	assert.Equal(t, domain.CommandStepPreprocess, result.FailedStep)
	assert.Equal(t, []string{stage.Artifact()}, result.MissingOutputs)
	assert.Len(t, h.engine.GetCalls(), 1)
}

func TestPrepareIsIdempotent(t *testing.T) {
	h := newHarness(t, 1)
	stage := h.plan(t).Stage(1)
	exec := NewExecutor(h.engine, mdp.NewRenderer())

	require.NoError(t, exec.Prepare(context.Background(), stage))
	first, err := os.ReadFile(stage.ParameterFile)
	require.NoError(t, err)

	require.NoError(t, exec.Prepare(context.Background(), stage))
	second, err := os.ReadFile(stage.ParameterFile)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Empty(t, h.engine.GetCalls())
}

func TestTailLines(t *testing.T) {
	assert.Equal(t, "c\nd", tailLines("a\nb\nc\nd\n", 2))
	assert.Equal(t, "", tailLines("\n", 3))
}

// emptyLogEngine truncates one output after a clean run.
type emptyLogEngine struct {
	*engine.FakeEngine
	path string
}

func (e *emptyLogEngine) Execute(ctx context.Context, art *engine.Artifact, cmd domain.RunCommand) (*engine.Invocation, error) {
	inv, err := e.FakeEngine.Execute(ctx, art, cmd)
	if err != nil {
		return nil, err
	}
	return inv, os.Truncate(e.path, 0)
}
