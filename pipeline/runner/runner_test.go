package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mdprep/internal/artifacts"
	"github.com/example/mdprep/internal/observability"
	"github.com/example/mdprep/internal/storage"
	"github.com/example/mdprep/internal/storage/sqlite"
	"github.com/example/mdprep/pipeline/domain"
	"github.com/example/mdprep/pipeline/engine"
	"github.com/example/mdprep/pipeline/mdp"
	"github.com/example/mdprep/pipeline/plan"
)

const (
	minimizationTemplate = "integrator = steep\nnsteps = 5000 ; ${STAGE}\n"
	equilibrationTemplate = "define                  = -DPOSRES\n" +
		"integrator = md\nnsteps = 125000 ; step ${STEP} bb=${POSRES_FC_BB} sc=${POSRES_FC_SC}\n"
	productionTemplate = "integrator = md\nnsteps = 500000 ; ordinal ${ORDINAL}\n"
)

type harness struct {
	cfg     domain.PipelineConfig
	engine  *engine.FakeEngine
	metrics *observability.Metrics
	ledger  *sqlite.SQLiteStorage
	ids     int
}

func newHarness(t *testing.T, steps int) *harness {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"step3_input.gro":           "structure\n",
		"topol.top":                 "topology\n",
		"index.ndx":                 "index\n",
		"step4.0_minimization.mdp":  minimizationTemplate,
		"step4.1_equilibration.mdp": equilibrationTemplate,
		"step5_production.mdp":      productionTemplate,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	ledger, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	cfg := domain.PipelineConfig{
		Inputs: domain.InputFiles{
			Structure: filepath.Join(dir, "step3_input.gro"),
			Topology:  filepath.Join(dir, "topol.top"),
			Index:     filepath.Join(dir, "index.ndx"),
		},
		TemplatesDir: dir,
		WorkDir:      filepath.Join(dir, "work"),
	}
	cfg.SetEquilibrationSteps(steps)

	return &harness{
		cfg:     cfg,
		engine:  engine.NewFakeEngine(),
		metrics: observability.NewMetrics(),
		ledger:  ledger,
	}
}

func (h *harness) plan(t *testing.T) *domain.PipelinePlan {
	t.Helper()
	p, err := plan.Build(h.cfg)
	require.NoError(t, err)
	return p
}

func (h *harness) runner() *Runner {
	exec := NewExecutor(h.engine, mdp.NewRenderer()).WithMetrics(h.metrics)
	return NewRunner(exec, func() string {
		h.ids++
		return fmt.Sprintf("run-%d", h.ids)
	}).WithLedger(h.ledger).WithMetrics(h.metrics)
}

func TestRunSucceeds(t *testing.T) {
	h := newHarness(t, 2)
	p := h.plan(t)
	store := artifacts.NewMemoryStore(os.ReadFile)

	report, err := h.runner().WithPublisher(store).Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSucceeded, report.Status)
	assert.Equal(t, 4, report.Completed())
	assert.Equal(t, []string{"minimization", "equilibration1", "equilibration2", "production"}, h.engine.StagesInvoked())

	calls := h.engine.GetCalls()
	require.Len(t, calls, 8)
	for i, c := range calls {
		want := domain.CommandStepPreprocess
		if i%2 == 1 {
			want = domain.CommandStepRun
		}
		assert.Equal(t, want, c.Step, "call %d", i)
	}

	for _, out := range p.FinalOutputs() {
		assert.FileExists(t, out)
	}

	eq2, err := os.ReadFile(p.Stage(2).ParameterFile)
	require.NoError(t, err)
	assert.Contains(t, string(eq2), "-DPOSRES -DPOSRES_FC_BB=300 -DPOSRES_FC_SC=30")
	assert.Contains(t, string(eq2), "step 2 bb=300 sc=30")

	published, err := store.List(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"production.gro", "production.log", "production.edr", "production.xtc", "production.tpr"}, published)

	assert.FileExists(t, filepath.Join(p.WorkDir(), observability.MetricsFile))
	assert.Equal(t, int64(4), h.metrics.Snapshot().StagesCompleted)

	run, stages, err := storage.LatestRun(context.Background(), h.ledger, p.WorkDir())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	require.Len(t, stages, 4)
	for _, s := range stages {
		assert.Equal(t, domain.StageStateSucceeded, s.State, s.Name)
	}
}

func TestRunCleanExitWithMissingOutputFails(t *testing.T) {
	h := newHarness(t, 2)
	h.engine.OmitOutputs("equilibration1", domain.ExtCheckpoint)
	p := h.plan(t)

	report, err := h.runner().Run(context.Background(), p)
	require.Error(t, err)

	failure, ok := IsStageFailure(err)
	require.True(t, ok, "error = %v", err)
	assert.Equal(t, 2, failure.Ordinal())

	result := report.Results[1]
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, domain.FailureMissingOutput, result.Failure)
	assert.Contains(t, result.MissingOutputs, p.Stage(1).Output(domain.ExtCheckpoint))

	assert.Equal(t, []domain.StageState{
		domain.StageStateSucceeded, domain.StageStateFailed, domain.StageStatePending, domain.StageStatePending,
	}, report.States)
}

func TestRunHaltsAtFailingStage(t *testing.T) {
	h := newHarness(t, 1)
	h.engine.FailRun("equilibration1", 1)
	p := h.plan(t)
	require.Equal(t, 3, p.Len())

	minimization := p.Stage(0)

	report, err := h.runner().Run(context.Background(), p)
	require.ErrorIs(t, err, domain.ErrStageExecution)

	var failure *domain.StageExecutionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 2, failure.Ordinal())
	assert.Equal(t, "equilibration1", failure.Result.StageName)
	assert.Equal(t, 1, failure.Result.ExitCode)
	assert.Equal(t, domain.CommandStepRun, failure.Result.FailedStep)
	assert.Contains(t, failure.Error(), "exited with code 1")

	for _, out := range minimization.Outputs {
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, filepath.Base(out)+"\n", string(data), "stage 1 output %s was modified", out)
	}

	assert.NotContains(t, h.engine.StagesInvoked(), "production")
	assert.Equal(t, domain.StageStatePending, report.States[2])
	assert.Nil(t, report.Results[2])
	assert.Equal(t, domain.RunStatusFailed, report.Status)

	run, stages, err := storage.LatestRun(context.Background(), h.ledger, p.WorkDir())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, 2, run.ResumeOrdinal())
	require.Len(t, stages, 3)
	assert.Equal(t, domain.StageStateFailed, stages[1].State)
	assert.Equal(t, domain.StageStatePending, stages[2].State)
}

func TestRunResumesFromFailedStage(t *testing.T) {
	h := newHarness(t, 1)
	h.engine.FailRun("equilibration1", 1)
	_, err := h.runner().Run(context.Background(), h.plan(t))
	require.Error(t, err)

	delete(h.engine.RunExit, "equilibration1")
	h.engine.Reset()
	h.cfg.StartAt = 2

	report, err := h.runner().Run(context.Background(), h.plan(t))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, report.Status)
	assert.Equal(t, []string{"equilibration1", "production"}, h.engine.StagesInvoked())

	run, _, err := storage.LatestRun(context.Background(), h.ledger, report.Plan.WorkDir())
	require.NoError(t, err)
	assert.Equal(t, report.RunID, run.ID)
	assert.Equal(t, 2, run.StartOrdinal)
}

func TestPreflightTemplateErrorStartsNoEngine(t *testing.T) {
	h := newHarness(t, 1)
	tmpl := filepath.Join(h.cfg.TemplatesDir, "step5_production.mdp")
	require.NoError(t, os.WriteFile(tmpl, []byte("nsteps = ${PRODUCTION_STEPS}\n"), 0o644))
	p := h.plan(t)

	report, err := h.runner().Run(context.Background(), p)
	require.ErrorIs(t, err, domain.ErrTemplate)
	assert.Nil(t, report)
	assert.Empty(t, h.engine.GetCalls())

	var terr *domain.TemplateError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []string{"PRODUCTION_STEPS"}, terr.Missing)

	_, _, err = storage.LatestRun(context.Background(), h.ledger, p.WorkDir())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPreprocessFailureSkipsRun(t *testing.T) {
	h := newHarness(t, 0)
	h.engine.FailPreprocess("minimization", 1)

	report, err := h.runner().Run(context.Background(), h.plan(t))
	failure, ok := IsStageFailure(err)
	require.True(t, ok)
	assert.Equal(t, 1, failure.Ordinal())
	assert.Equal(t, domain.CommandStepPreprocess, failure.Result.FailedStep)
	assert.Contains(t, failure.Result.Message, "simulated grompp failure")
	assert.Len(t, h.engine.GetCalls(), 1)
	assert.Equal(t, domain.StageStatePending, report.States[1])
}

func TestEngineStartFailure(t *testing.T) {
	h := newHarness(t, 0)
	h.engine.StartErr = errors.New("gmx: not found")

	_, err := h.runner().Run(context.Background(), h.plan(t))
	failure, ok := IsStageFailure(err)
	require.True(t, ok)
	assert.Equal(t, domain.FailureEngineStart, failure.Result.Failure)
	assert.Equal(t, -1, failure.Result.ExitCode)
	assert.Contains(t, failure.Error(), "could not start")
}

func TestRunInterrupted(t *testing.T) {
	h := newHarness(t, 1)
	h.engine.Delay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report, err := h.runner().Run(ctx, h.plan(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	_, isFailure := IsStageFailure(err)
	assert.False(t, isFailure)
	assert.Equal(t, domain.RunStatusFailed, report.Status)
	assert.Equal(t, domain.StageStateFailed, report.States[0])
	assert.Equal(t, 1, report.FailedOrdinal)

	run, stages, err := storage.LatestRun(context.Background(), h.ledger, report.Plan.WorkDir())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.FailedOrdinal)
	assert.NotNil(t, run.FinishedAt)
	require.Len(t, stages, 3)
	assert.Equal(t, domain.StageStateFailed, stages[0].State)
	assert.Equal(t, domain.StageStatePending, stages[1].State)
}

// removingEngine deletes a stage's run input once mdrun returns.
type removingEngine struct {
	*engine.FakeEngine
	stage string
}

func (e *removingEngine) Execute(ctx context.Context, artifact *engine.Artifact, cmd domain.RunCommand) (*engine.Invocation, error) {
	inv, err := e.FakeEngine.Execute(ctx, artifact, cmd)
	if err == nil && filepath.Base(cmd.DefaultName) == e.stage {
		if rmErr := os.Remove(artifact.Path); rmErr != nil {
			return nil, rmErr
		}
	}
	return inv, err
}

func TestRunMissingFinalOutputFailsProduction(t *testing.T) {
	h := newHarness(t, 1)
	p := h.plan(t)
	eng := &removingEngine{FakeEngine: h.engine, stage: "production"}
	exec := NewExecutor(eng, mdp.NewRenderer()).WithMetrics(h.metrics)
	r := NewRunner(exec, func() string { return "run-final" }).WithLedger(h.ledger).WithMetrics(h.metrics)

	report, err := r.Run(context.Background(), p)
	failure, ok := IsStageFailure(err)
	require.True(t, ok, "error = %v", err)
	assert.Equal(t, 3, failure.Ordinal())
	assert.Equal(t, domain.FailureMissingOutput, failure.Result.Failure)

	production, _ := p.Final()
	assert.Equal(t, domain.RunStatusFailed, report.Status)
	assert.Equal(t, 3, report.FailedOrdinal)
	assert.Equal(t, []domain.StageState{
		domain.StageStateSucceeded, domain.StageStateSucceeded, domain.StageStateFailed,
	}, report.States)

	failed := report.FailedResult()
	require.NotNil(t, failed)
	assert.Equal(t, "production", failed.StageName)
	assert.Equal(t, []string{production.Artifact()}, failed.MissingOutputs)
	assert.Equal(t, int64(2), h.metrics.Snapshot().StagesCompleted)

	run, stages, err := storage.LatestRun(context.Background(), h.ledger, p.WorkDir())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, 3, run.ResumeOrdinal())
	require.Len(t, stages, 3)
	assert.Equal(t, domain.StageStateFailed, stages[2].State)
	assert.Equal(t, []string{production.Artifact()}, stages[2].MissingOutputs)
}

func TestSummary(t *testing.T) {
	h := newHarness(t, 1)
	h.engine.FailRun("production", 2)
	report, _ := h.runner().Run(context.Background(), h.plan(t))

	s := Summary(report)
	assert.True(t, strings.HasPrefix(s, "run run-1: FAILED, 2/3 stages succeeded"), s)
	assert.Contains(t, s, "failed at stage 3")
}
