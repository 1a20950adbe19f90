package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/example/mdprep/pipeline/domain"
)

// FakeCall records one call made to a FakeEngine.
type FakeCall struct {
	Step  domain.CommandStep
	Stage string
	Args  []string
}

// FakeEngine is a test double for Engine. It never spawns processes; it
// writes placeholder output files so output verification can be exercised.
type FakeEngine struct {
	mu sync.Mutex

	// Calls tracks every invocation in order.
	Calls []FakeCall

	// PreprocessExit and RunExit set a non-zero exit code per stage name.
	PreprocessExit map[string]int
	RunExit        map[string]int

	// Omit lists output extensions a stage "forgets" to write while still
	// exiting cleanly.
	Omit map[string][]string

	// StartErr makes every call fail to start, as if the binary were missing.
	StartErr error

	// Produce is the list of extensions written by a clean run.
	Produce []string

	// Delay adds artificial delay to every call.
	Delay time.Duration
}

// NewFakeEngine creates a FakeEngine that produces every engine output.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		PreprocessExit: make(map[string]int),
		RunExit:        make(map[string]int),
		Omit:           make(map[string][]string),
		Produce: []string{
			domain.ExtCoordinates, domain.ExtCheckpoint, domain.ExtLog,
			domain.ExtEnergy, domain.ExtTrajectory,
		},
	}
}

// FailPreprocess makes the preprocess step of a stage exit with code.
func (f *FakeEngine) FailPreprocess(stage string, code int) *FakeEngine {
	f.PreprocessExit[stage] = code
	return f
}

// FailRun makes the run step of a stage exit with code.
func (f *FakeEngine) FailRun(stage string, code int) *FakeEngine {
	f.RunExit[stage] = code
	return f
}

// OmitOutputs makes a stage exit cleanly without writing the given extensions.
func (f *FakeEngine) OmitOutputs(stage string, exts ...string) *FakeEngine {
	f.Omit[stage] = append(f.Omit[stage], exts...)
	return f
}

// Preprocess implements Engine.
func (f *FakeEngine) Preprocess(ctx context.Context, cmd domain.PreprocessCommand) (*Artifact, error) {
	stage := stageName(cmd.Output)
	args := PreprocessArgs(cmd)
	if err := f.begin(ctx, domain.CommandStepPreprocess, stage, args); err != nil {
		return nil, err
	}

	f.mu.Lock()
	code := f.PreprocessExit[stage]
	f.mu.Unlock()

	inv := Invocation{Args: append([]string{"gmx"}, args...), ExitCode: code}
	if code == 0 && !f.omits(stage, domain.ExtRunInput) {
		if err := writePlaceholder(cmd.Output, "run input for "+stage); err != nil {
			return nil, err
		}
	}
	if code != 0 {
		inv.Output = fmt.Sprintf("Fatal error: simulated grompp failure for %s", stage)
	}
	return &Artifact{Path: cmd.Output, Invocation: inv}, nil
}

// Execute implements Engine.
func (f *FakeEngine) Execute(ctx context.Context, artifact *Artifact, cmd domain.RunCommand) (*Invocation, error) {
	stage := filepath.Base(cmd.DefaultName)
	args := RunArgs(cmd)
	if err := f.begin(ctx, domain.CommandStepRun, stage, args); err != nil {
		return nil, err
	}

	f.mu.Lock()
	code := f.RunExit[stage]
	produce := append([]string(nil), f.Produce...)
	f.mu.Unlock()

	inv := &Invocation{Args: append([]string{"gmx"}, args...), ExitCode: code}
	if code != 0 {
		inv.Output = fmt.Sprintf("Fatal error: simulated mdrun failure for %s", stage)
		return inv, nil
	}
	for _, ext := range produce {
		if f.omits(stage, ext) {
			continue
		}
		if err := writePlaceholder(cmd.DefaultName+ext, stage+ext); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

func (f *FakeEngine) begin(ctx context.Context, step domain.CommandStep, stage string, args []string) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, FakeCall{Step: step, Stage: stage, Args: args})
	startErr := f.StartErr
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if startErr != nil {
		return fmt.Errorf("%w: %v", ErrEngineStart, startErr)
	}
	return nil
}

func (f *FakeEngine) omits(stage, ext string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.Omit[stage] {
		if e == ext {
			return true
		}
	}
	return false
}

// GetCalls returns a copy of all recorded calls.
func (f *FakeEngine) GetCalls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]FakeCall, len(f.Calls))
	copy(calls, f.Calls)
	return calls
}

// StagesInvoked returns stage names in first-call order.
func (f *FakeEngine) StagesInvoked() []string {
	var stages []string
	seen := make(map[string]bool)
	for _, c := range f.GetCalls() {
		if !seen[c.Stage] {
			seen[c.Stage] = true
			stages = append(stages, c.Stage)
		}
	}
	return stages
}

// Reset clears recorded calls.
func (f *FakeEngine) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = nil
}

func stageName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func writePlaceholder(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content+"\n"), 0o644)
}
