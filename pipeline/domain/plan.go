package domain

import "fmt"

// PipelinePlan is the ordered, immutable stage list of one run.
// Build a new plan to run with different parameters.
type PipelinePlan struct {
	stages             []StageSpec
	equilibrationSteps int
	workDir            string
}

// NewPipelinePlan creates a plan from an ordered stage list.
func NewPipelinePlan(workDir string, equilibrationSteps int, stages []StageSpec) *PipelinePlan {
	copied := make([]StageSpec, len(stages))
	for i, s := range stages {
		copied[i] = cloneStage(s)
	}
	return &PipelinePlan{
		stages:             copied,
		equilibrationSteps: equilibrationSteps,
		workDir:            workDir,
	}
}

// Len returns the number of stages in the plan.
func (p *PipelinePlan) Len() int { return len(p.stages) }

// WorkDir is the directory every stage writes into.
func (p *PipelinePlan) WorkDir() string { return p.workDir }

// EquilibrationSteps is the equilibration step count the plan was built from.
func (p *PipelinePlan) EquilibrationSteps() int { return p.equilibrationSteps }

// Stage returns the i-th stage (0-based position in this plan).
func (p *PipelinePlan) Stage(i int) StageSpec { return cloneStage(p.stages[i]) }

// Stages returns a copy of the stage list.
func (p *PipelinePlan) Stages() []StageSpec {
	out := make([]StageSpec, len(p.stages))
	for i, s := range p.stages {
		out[i] = cloneStage(s)
	}
	return out
}

// FirstOrdinal is the full-plan ordinal of the first stage. It is 1 unless
// the plan was narrowed with From.
func (p *PipelinePlan) FirstOrdinal() int {
	if len(p.stages) == 0 {
		return 0
	}
	return p.stages[0].Ordinal
}

// Final returns the last stage, normally production.
func (p *PipelinePlan) Final() (StageSpec, bool) {
	if len(p.stages) == 0 {
		return StageSpec{}, false
	}
	return p.Stage(len(p.stages) - 1), true
}

// FinalOutputs are the artifacts a fully successful run leaves behind:
// the production structure, log, energy trace and run-input, plus the
// trajectory when one is expected.
func (p *PipelinePlan) FinalOutputs() []string {
	final, ok := p.Final()
	if !ok || final.Kind != StageKindProduction {
		return nil
	}
	var outs []string
	for _, ext := range []string{ExtCoordinates, ExtLog, ExtEnergy, ExtTrajectory} {
		if out := final.Output(ext); out != "" {
			outs = append(outs, out)
		}
	}
	return append(outs, final.Artifact())
}

// From returns a new plan starting at the given full-plan ordinal. It is used
// to resume after a manual fix without recomputing earlier stages.
func (p *PipelinePlan) From(ordinal int) (*PipelinePlan, error) {
	for i, s := range p.stages {
		if s.Ordinal == ordinal {
			return NewPipelinePlan(p.workDir, p.equilibrationSteps, p.stages[i:]), nil
		}
	}
	return nil, NewConfigurationError("start_at", "no stage with ordinal %d (plan has %d stages)", ordinal, len(p.stages))
}

func cloneStage(s StageSpec) StageSpec {
	if s.Restraint != nil {
		r := *s.Restraint
		s.Restraint = &r
	}
	s.Substitutions = cloneMap(s.Substitutions)
	s.Overrides = cloneMap(s.Overrides)
	s.Inputs = append([]string(nil), s.Inputs...)
	s.Outputs = append([]string(nil), s.Outputs...)
	s.Run.ExtraArgs = append([]string(nil), s.Run.ExtraArgs...)
	return s
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (p *PipelinePlan) String() string {
	return fmt.Sprintf("plan(%d stages, %d equilibration steps, workdir=%s)",
		len(p.stages), p.equilibrationSteps, p.workDir)
}
