// Package plan derives the ordered stage list of a pipeline run from its
// configuration.
//
// Every stage consumes the coordinates (and checkpoint, when one exists) of
// the stage before it. Topology and index files are shared unchanged. All
// configuration problems, including missing input files, are reported here so
// no engine process starts for a run that cannot complete.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/example/mdprep/pipeline/domain"
	"github.com/example/mdprep/pipeline/restraint"
)

// Stage names.
const (
	MinimizationStage  = "minimization"
	ProductionStage    = "production"
	equilibrationStage = "equilibration"
)

// EquilibrationStage returns the name of equilibration step i (1-based).
func EquilibrationStage(i int) string {
	return equilibrationStage + strconv.Itoa(i)
}

// Build validates cfg, checks the input files exist and returns the plan.
func Build(cfg domain.PipelineConfig) (*domain.PipelinePlan, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	paths, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	if missing := missingFiles(paths.required()); len(missing) > 0 {
		return nil, &domain.ConfigurationError{
			Field:   "inputs",
			Reason:  "input files do not exist",
			Missing: missing,
		}
	}

	var levels []domain.RestraintLevel
	if cfg.EquilibrationSteps > 0 {
		levels, err = restraint.Schedule(cfg.EquilibrationSteps)
		if err != nil {
			return nil, err
		}
	}

	b := &builder{cfg: cfg, paths: paths}
	stages := make([]domain.StageSpec, 0, 2+len(levels))
	stages = append(stages, b.minimization())
	for _, level := range levels {
		stages = append(stages, b.equilibration(stages[len(stages)-1], level))
	}
	stages = append(stages, b.production(stages[len(stages)-1]))

	p := domain.NewPipelinePlan(paths.workDir, cfg.EquilibrationSteps, stages)
	if cfg.StartAt <= 1 {
		return p, nil
	}
	return narrow(p, cfg.StartAt)
}

// narrow returns the plan starting at ordinal, after checking the outputs the
// first remaining stage chains from are on disk.
func narrow(p *domain.PipelinePlan, ordinal int) (*domain.PipelinePlan, error) {
	resumed, err := p.From(ordinal)
	if err != nil {
		return nil, err
	}
	previous := p.Stage(ordinal - 2)
	if missing := missingFiles(previous.ChainedOutputs()); len(missing) > 0 {
		return nil, &domain.ConfigurationError{
			Field:   "start_at",
			Reason:  fmt.Sprintf("cannot resume at stage %d: outputs of %q are missing", ordinal, previous.Name),
			Missing: missing,
		}
	}
	return resumed, nil
}

type resolvedPaths struct {
	workDir    string
	structure  string
	reference  string
	descriptor string
	topology   string
	index      string

	minimizationTemplate  string
	equilibrationTemplate string
	productionTemplate    string
}

func (r resolvedPaths) required() []string {
	req := []string{r.structure, r.reference, r.topology, r.index}
	if r.descriptor != "" {
		req = append(req, r.descriptor)
	}
	return req
}

func resolve(cfg domain.PipelineConfig) (resolvedPaths, error) {
	var r resolvedPaths
	targets := []struct {
		dst   *string
		src   string
		field string
	}{
		{&r.workDir, cfg.WorkDir, "work_dir"},
		{&r.structure, cfg.Inputs.Structure, "inputs.structure"},
		{&r.reference, cfg.Inputs.Reference, "inputs.reference"},
		{&r.descriptor, cfg.Inputs.Descriptor, "inputs.descriptor"},
		{&r.topology, cfg.Inputs.Topology, "inputs.topology"},
		{&r.index, cfg.Inputs.Index, "inputs.index"},
		{&r.minimizationTemplate, templatePath(cfg.TemplatesDir, cfg.Templates.Minimization), "templates.minimization"},
		{&r.equilibrationTemplate, templatePath(cfg.TemplatesDir, cfg.Templates.Equilibration), "templates.equilibration"},
		{&r.productionTemplate, templatePath(cfg.TemplatesDir, cfg.Templates.Production), "templates.production"},
	}
	for _, t := range targets {
		if t.src == "" {
			continue
		}
		abs, err := filepath.Abs(t.src)
		if err != nil {
			return r, domain.NewConfigurationError(t.field, "cannot resolve %q: %v", t.src, err)
		}
		*t.dst = abs
	}
	return r, nil
}

// missingFiles returns the paths that do not exist or are directories.
func missingFiles(paths []string) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			missing = append(missing, p)
		}
	}
	return missing
}

type builder struct {
	cfg   domain.PipelineConfig
	paths resolvedPaths
	next  int
}

// stage fills the fields every kind shares.
func (b *builder) stage(name string, kind domain.StageKind, template string) domain.StageSpec {
	b.next++
	prefix := filepath.Join(b.paths.workDir, name)
	s := domain.StageSpec{
		Name:          name,
		Ordinal:       b.next,
		Kind:          kind,
		TemplatePath:  template,
		ParameterFile: prefix + domain.ExtParameters,
		Substitutions: map[string]string{
			"STAGE":   name,
			"ORDINAL": strconv.Itoa(b.next),
			"OUTPUT":  prefix,
		},
		Overrides: map[string]string{},
	}
	s.Preprocess = domain.PreprocessCommand{
		Parameters:  s.ParameterFile,
		Topology:    b.paths.topology,
		Index:       b.paths.index,
		Output:      prefix + domain.ExtRunInput,
		MaxWarnings: b.cfg.MaxWarnings,
	}
	s.Run = domain.RunCommand{
		Input:       s.Preprocess.Output,
		DefaultName: prefix,
	}
	return s
}

func (b *builder) minimization() domain.StageSpec {
	s := b.stage(MinimizationStage, domain.StageKindMinimization, b.paths.minimizationTemplate)
	s.Preprocess.Structure = b.paths.structure
	s.Preprocess.Reference = b.paths.reference
	s.Inputs = []string{b.paths.structure, b.paths.reference, b.paths.topology, b.paths.index}
	s.Outputs = outputs(s.Run.DefaultName, domain.ExtCoordinates, domain.ExtLog, domain.ExtEnergy)
	s.Run.ExtraArgs = append([]string(nil), b.cfg.RunArgs.Minimization...)
	mergeInto(s.Overrides, b.cfg.Overrides.Minimization)
	return s
}

func (b *builder) equilibration(prev domain.StageSpec, level domain.RestraintLevel) domain.StageSpec {
	s := b.stage(EquilibrationStage(level.StepIndex), domain.StageKindEquilibration, b.paths.equilibrationTemplate)
	r := level
	s.Restraint = &r

	s.Substitutions["STEP"] = strconv.Itoa(level.StepIndex)
	s.Substitutions["POSRES_FC_BB"] = domain.FormatForceConstant(level.BackboneFC)
	s.Substitutions["POSRES_FC_SC"] = domain.FormatForceConstant(level.SidechainFC)
	s.Substitutions["POSRES_DEFINE"] = level.Define()

	b.chain(&s, prev)
	s.Preprocess.Reference = b.paths.reference
	s.Inputs = append(s.Inputs, b.paths.reference, b.paths.topology, b.paths.index)
	s.Outputs = outputs(s.Run.DefaultName, domain.ExtCoordinates, domain.ExtCheckpoint, domain.ExtLog, domain.ExtEnergy)
	s.Run.ExtraArgs = append([]string(nil), b.cfg.RunArgs.Equilibration...)

	if !b.cfg.KeepDefine {
		s.Overrides["define"] = level.Define()
	}
	mergeInto(s.Overrides, b.cfg.Overrides.Equilibration)
	mergeInto(s.Overrides, b.cfg.Overrides.EquilibrationSteps[level.StepIndex])
	return s
}

func (b *builder) production(prev domain.StageSpec) domain.StageSpec {
	s := b.stage(ProductionStage, domain.StageKindProduction, b.paths.productionTemplate)
	b.chain(&s, prev)
	s.Inputs = append(s.Inputs, b.paths.topology, b.paths.index)

	exts := []string{domain.ExtCoordinates, domain.ExtCheckpoint, domain.ExtLog, domain.ExtEnergy}
	if !b.cfg.SkipTrajectory {
		exts = append(exts, domain.ExtTrajectory)
	}
	s.Outputs = outputs(s.Run.DefaultName, exts...)
	s.Run.ExtraArgs = append([]string(nil), b.cfg.RunArgs.Production...)
	mergeInto(s.Overrides, b.cfg.Overrides.Production)
	return s
}

// chain makes s start from the end state of prev.
func (b *builder) chain(s *domain.StageSpec, prev domain.StageSpec) {
	s.Preprocess.Structure = prev.Output(domain.ExtCoordinates)
	s.Preprocess.Checkpoint = prev.Output(domain.ExtCheckpoint)
	s.Inputs = append(s.Inputs, prev.ChainedOutputs()...)
}

func outputs(prefix string, exts ...string) []string {
	out := make([]string, len(exts))
	for i, ext := range exts {
		out[i] = prefix + ext
	}
	return out
}

func mergeInto(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

// Describe returns one human-readable line per stage, in order.
func Describe(p *domain.PipelinePlan) []string {
	lines := make([]string, 0, p.Len())
	for _, s := range p.Stages() {
		line := fmt.Sprintf("%d. %-16s %-13s %s", s.Ordinal, s.Name, s.Kind, filepath.Base(s.TemplatePath))
		if s.Restraint != nil {
			line += fmt.Sprintf("  bb=%s sc=%s",
				domain.FormatForceConstant(s.Restraint.BackboneFC),
				domain.FormatForceConstant(s.Restraint.SidechainFC))
		}
		if len(s.Overrides) > 0 {
			keys := make([]string, 0, len(s.Overrides))
			for k := range s.Overrides {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			line += fmt.Sprintf("  overrides=%v", keys)
		}
		lines = append(lines, line)
	}
	return lines
}

// templatePath resolves a template name against dir. Absolute names are used
// as given.
func templatePath(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
