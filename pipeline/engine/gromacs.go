package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/mdprep/pipeline/domain"
)

const defaultTailBytes = 8 << 10

// GromacsEngine implements Engine by shelling out to `gmx grompp` and
// `gmx mdrun`.
type GromacsEngine struct {
	// Binary is the gmx executable (gmx, gmx_mpi, or a full path).
	Binary string

	// Stdout and Stderr receive live engine output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// TailBytes is how much output is kept in Invocation.Output.
	TailBytes int
}

// NewGromacsEngine creates a GromacsEngine after checking the binary is on PATH.
func NewGromacsEngine(binary string) (*GromacsEngine, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "gmx"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%w: gromacs binary %q not found: %v", ErrEngineStart, binary, err)
	}
	return &GromacsEngine{Binary: binary, TailBytes: defaultTailBytes}, nil
}

// WithOutput sets the writers that receive live engine output.
func (e *GromacsEngine) WithOutput(stdout, stderr io.Writer) *GromacsEngine {
	e.Stdout = stdout
	e.Stderr = stderr
	return e
}

// PreprocessArgs builds the grompp argument list (without the binary).
func PreprocessArgs(cmd domain.PreprocessCommand) []string {
	args := []string{"grompp",
		"-f", cmd.Parameters,
		"-o", cmd.Output,
		"-c", cmd.Structure,
	}
	if cmd.Reference != "" {
		args = append(args, "-r", cmd.Reference)
	}
	if cmd.Checkpoint != "" {
		args = append(args, "-t", cmd.Checkpoint)
	}
	args = append(args,
		"-p", cmd.Topology,
		"-n", cmd.Index,
		"-maxwarn", strconv.Itoa(cmd.MaxWarnings),
	)
	return args
}

// RunArgs builds the mdrun argument list (without the binary).
func RunArgs(cmd domain.RunCommand) []string {
	args := []string{"mdrun", "-v", "-s", cmd.Input, "-deffnm", cmd.DefaultName}
	return append(args, cmd.ExtraArgs...)
}

// Preprocess implements Engine.
func (e *GromacsEngine) Preprocess(ctx context.Context, cmd domain.PreprocessCommand) (*Artifact, error) {
	inv, err := e.invoke(ctx, filepath.Dir(cmd.Output), PreprocessArgs(cmd))
	if err != nil {
		return nil, err
	}
	return &Artifact{Path: cmd.Output, Invocation: *inv}, nil
}

// Execute implements Engine.
func (e *GromacsEngine) Execute(ctx context.Context, artifact *Artifact, cmd domain.RunCommand) (*Invocation, error) {
	if artifact != nil && cmd.Input == "" {
		cmd.Input = artifact.Path
	}
	return e.invoke(ctx, filepath.Dir(cmd.DefaultName), RunArgs(cmd))
}

func (e *GromacsEngine) invoke(ctx context.Context, dir string, args []string) (*Invocation, error) {
	binary := e.Binary
	if binary == "" {
		binary = "gmx"
	}
	limit := e.TailBytes
	if limit <= 0 {
		limit = defaultTailBytes
	}

	tail := &tailBuffer{limit: limit}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	cmd.Stdout = teeWriter(e.Stdout, tail)
	cmd.Stderr = teeWriter(e.Stderr, tail)

	start := time.Now()
	err := cmd.Run()
	inv := &Invocation{
		Args:     append([]string{binary}, args...),
		Duration: time.Since(start),
		Output:   tail.String(),
	}

	if ctx.Err() != nil {
		// Interrupted by the operator; partial outputs are untrusted.
		return nil, fmt.Errorf("%s %s interrupted: %w", binary, args[0], ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		inv.ExitCode = 0
	case errors.As(err, &exitErr):
		inv.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("%w: %s %s: %v", ErrEngineStart, binary, args[0], err)
	}
	return inv, nil
}

func teeWriter(w io.Writer, tail *tailBuffer) io.Writer {
	if w == nil {
		return tail
	}
	return io.MultiWriter(w, tail)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
