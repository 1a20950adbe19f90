package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// StageKind describes what a stage does in the pipeline.
type StageKind int

const (
	StageKindUnknown       StageKind = 0
	StageKindMinimization  StageKind = 10
	StageKindEquilibration StageKind = 20
	StageKindProduction    StageKind = 30
)

func (k StageKind) String() string {
	switch k {
	case StageKindMinimization:
		return "MINIMIZATION"
	case StageKindEquilibration:
		return "EQUILIBRATION"
	case StageKindProduction:
		return "PRODUCTION"
	default:
		return "UNKNOWN"
	}
}

// Label is the lower-case form used for metric labels and config keys.
func (k StageKind) Label() string {
	return strings.ToLower(k.String())
}

// StageState describes where a stage is in a pipeline run.
type StageState int

const (
	StageStateUnknown   StageState = 0
	StageStatePending   StageState = 10 // Not started
	StageStateRunning   StageState = 20 // Engine invocations in progress
	StageStateSucceeded StageState = 30 // All outputs verified
	StageStateFailed    StageState = 40 // Halted the pipeline
)

func (s StageState) String() string {
	switch s {
	case StageStatePending:
		return "PENDING"
	case StageStateRunning:
		return "RUNNING"
	case StageStateSucceeded:
		return "SUCCEEDED"
	case StageStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the stage is in a terminal state.
func (s StageState) IsFinal() bool {
	return s == StageStateSucceeded || s == StageStateFailed
}

// ValidStageTransition checks if a state transition is valid.
// Valid transitions: PENDING -> RUNNING -> SUCCEEDED | FAILED
func ValidStageTransition(from, to StageState) bool {
	switch from {
	case StageStatePending:
		return to == StageStateRunning
	case StageStateRunning:
		return to == StageStateSucceeded || to == StageStateFailed
	case StageStateSucceeded, StageStateFailed:
		return false // Terminal states
	default:
		return to == StageStatePending // Allow setting initial state
	}
}

// CommandStep names one of the two engine invocations of a stage.
type CommandStep int

const (
	CommandStepNone       CommandStep = 0
	CommandStepPreprocess CommandStep = 1
	CommandStepRun        CommandStep = 2
)

func (c CommandStep) String() string {
	switch c {
	case CommandStepPreprocess:
		return "preprocess"
	case CommandStepRun:
		return "run"
	default:
		return "none"
	}
}

// PreprocessCommand compiles a run-input artifact from parameters, structure
// and topology (gmx grompp).
type PreprocessCommand struct {
	Parameters string
	Structure  string
	// Reference is the restraint reference structure. Empty when the stage
	// applies no positional restraints.
	Reference string
	// Checkpoint seeds the stage from the previous stage's end state. Empty
	// when the previous stage produced none.
	Checkpoint  string
	Topology    string
	Index       string
	Output      string
	MaxWarnings int
}

// RunCommand executes a run-input artifact (gmx mdrun).
type RunCommand struct {
	Input string
	// DefaultName is the path prefix every engine output is named after.
	DefaultName string
	ExtraArgs   []string
}

// EngineCommand is one ordered engine invocation of a stage.
type EngineCommand struct {
	Step       CommandStep
	Preprocess *PreprocessCommand
	Run        *RunCommand
}

// StageSpec describes one pipeline stage. Minimization, equilibration and
// production all use this type; only equilibration carries a Restraint.
type StageSpec struct {
	Name    string
	Ordinal int
	Kind    StageKind

	TemplatePath  string
	ParameterFile string
	Restraint     *RestraintLevel

	// Substitutions fill ${NAME} placeholders in the template.
	Substitutions map[string]string

	// Overrides replace or append MDP parameters after substitution.
	Overrides map[string]string

	// Inputs must all exist before the stage executes.
	Inputs []string

	// Outputs must all exist and be non-empty after execution.
	Outputs []string

	Preprocess PreprocessCommand
	Run        RunCommand
}

// Commands returns the engine invocations in the order they run.
func (s StageSpec) Commands() []EngineCommand {
	pre := s.Preprocess
	run := s.Run
	return []EngineCommand{
		{Step: CommandStepPreprocess, Preprocess: &pre},
		{Step: CommandStepRun, Run: &run},
	}
}

// Artifact is the run-input file the preprocess step produces.
func (s StageSpec) Artifact() string {
	return s.Preprocess.Output
}

// ChainedOutputs returns the outputs the next stage starts from: the final
// coordinates and, when the stage writes one, the checkpoint.
func (s StageSpec) ChainedOutputs() []string {
	var chained []string
	for _, out := range s.Outputs {
		switch filepath.Ext(out) {
		case ExtCoordinates, ExtCheckpoint:
			chained = append(chained, out)
		}
	}
	return chained
}

// Output returns the declared output with the given extension, or "".
func (s StageSpec) Output(ext string) string {
	for _, out := range s.Outputs {
		if filepath.Ext(out) == ext {
			return out
		}
	}
	return ""
}

func (s StageSpec) String() string {
	if s.Restraint != nil {
		return fmt.Sprintf("%d:%s [%s]", s.Ordinal, s.Name, s.Restraint)
	}
	return fmt.Sprintf("%d:%s", s.Ordinal, s.Name)
}

// Engine file extensions.
const (
	ExtParameters  = ".mdp"
	ExtRunInput    = ".tpr"
	ExtCoordinates = ".gro"
	ExtCheckpoint  = ".cpt"
	ExtLog         = ".log"
	ExtEnergy      = ".edr"
	ExtTrajectory  = ".xtc"
)
