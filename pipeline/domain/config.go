package domain

import (
	"fmt"
	"strings"
)

// MaxEquilibrationSteps is the length of the fixed restraint schedule.
const MaxEquilibrationSteps = 5

// InputFiles are the prepared inputs every run consumes unchanged.
type InputFiles struct {
	// Structure is the starting coordinate file (step3_input.gro).
	Structure string `yaml:"structure"`

	// Reference is the restraint reference structure. Defaults to Structure.
	Reference string `yaml:"reference,omitempty"`

	// Descriptor is the structure topology descriptor (step3_input.psf).
	// Optional; checked for existence only when set.
	Descriptor string `yaml:"descriptor,omitempty"`

	// Topology is the force-field topology (topol.top).
	Topology string `yaml:"topology"`

	// Index is the atom-group index file (index.ndx).
	Index string `yaml:"index"`
}

// TemplateNames are the parameter template file names inside TemplatesDir.
// An absolute name is used as given.
type TemplateNames struct {
	Minimization  string `yaml:"minimization"`
	Equilibration string `yaml:"equilibration"`
	Production    string `yaml:"production"`
}

// StageOverrides are integrator settings applied on top of rendered templates.
// They never touch restraints; those come from the schedule.
type StageOverrides struct {
	Minimization  map[string]string `yaml:"minimization,omitempty"`
	Equilibration map[string]string `yaml:"equilibration,omitempty"`
	Production    map[string]string `yaml:"production,omitempty"`

	// EquilibrationSteps overrides a single equilibration step, keyed by
	// its 1-based step index. Applied after Equilibration.
	EquilibrationSteps map[int]map[string]string `yaml:"equilibration_steps,omitempty"`
}

// RunArgs are extra arguments passed to the engine run command per stage kind.
// A nil slice selects the default; an empty slice passes nothing.
type RunArgs struct {
	Minimization  []string `yaml:"minimization"`
	Equilibration []string `yaml:"equilibration"`
	Production    []string `yaml:"production"`
}

// PipelineConfig holds everything needed to build a PipelinePlan.
type PipelineConfig struct {
	// EquilibrationSteps is the number of restrained equilibration stages (0-5).
	// Default: 1
	EquilibrationSteps int `yaml:"equilibration_steps"`

	Inputs InputFiles `yaml:"inputs"`

	// TemplatesDir holds the parameter templates.
	// Default: "."
	TemplatesDir string        `yaml:"templates_dir"`
	Templates    TemplateNames `yaml:"templates"`

	// WorkDir receives every rendered file and engine output.
	// Default: "."
	WorkDir string `yaml:"work_dir"`

	// MaxWarnings is passed to the preprocess step.
	// Default: 1
	MaxWarnings int `yaml:"max_warnings"`

	Overrides StageOverrides `yaml:"overrides,omitempty"`
	RunArgs   RunArgs        `yaml:"run_args,omitempty"`

	// KeepDefine leaves the template's define line alone instead of
	// rewriting it with the step's restraint force constants.
	KeepDefine bool `yaml:"keep_define,omitempty"`

	// SkipTrajectory drops the production trajectory from the expected outputs.
	SkipTrajectory bool `yaml:"skip_trajectory,omitempty"`

	// StartAt resumes from the given 1-based stage ordinal. 0 or 1 runs
	// the whole plan.
	StartAt int `yaml:"-"`

	// stepsSet distinguishes an explicit 0 from an unset step count.
	stepsSet bool
}

// DefaultConfig returns the default configuration, matching CHARMM-GUI's
// GROMACS input naming.
func DefaultConfig() PipelineConfig {
	return PipelineConfig{
		EquilibrationSteps: 1,
		Inputs: InputFiles{
			Structure: "step3_input.gro",
			Topology:  "topol.top",
			Index:     "index.ndx",
		},
		TemplatesDir: ".",
		Templates: TemplateNames{
			Minimization:  "step4.0_minimization.mdp",
			Equilibration: "step4.1_equilibration.mdp",
			Production:    "step5_production.mdp",
		},
		WorkDir:     ".",
		MaxWarnings: 1,
		RunArgs: RunArgs{
			Minimization:  []string{},
			Equilibration: []string{"-nb", "gpu"},
			Production:    []string{"-nb", "gpu", "-pme", "gpu"},
		},
	}
}

// SetEquilibrationSteps sets the step count explicitly, so 0 survives WithDefaults.
func (c *PipelineConfig) SetEquilibrationSteps(n int) {
	c.EquilibrationSteps = n
	c.stepsSet = true
}

// WithDefaults returns a new config with defaults applied for zero values.
func (c PipelineConfig) WithDefaults() PipelineConfig {
	d := DefaultConfig()
	if c.EquilibrationSteps == 0 && !c.stepsSet {
		c.EquilibrationSteps = d.EquilibrationSteps
	}
	if c.Inputs.Structure == "" {
		c.Inputs.Structure = d.Inputs.Structure
	}
	if c.Inputs.Reference == "" {
		c.Inputs.Reference = c.Inputs.Structure
	}
	if c.Inputs.Topology == "" {
		c.Inputs.Topology = d.Inputs.Topology
	}
	if c.Inputs.Index == "" {
		c.Inputs.Index = d.Inputs.Index
	}
	if c.TemplatesDir == "" {
		c.TemplatesDir = d.TemplatesDir
	}
	if c.Templates.Minimization == "" {
		c.Templates.Minimization = d.Templates.Minimization
	}
	if c.Templates.Equilibration == "" {
		c.Templates.Equilibration = d.Templates.Equilibration
	}
	if c.Templates.Production == "" {
		c.Templates.Production = d.Templates.Production
	}
	if c.WorkDir == "" {
		c.WorkDir = d.WorkDir
	}
	if c.MaxWarnings == 0 {
		c.MaxWarnings = d.MaxWarnings
	}
	if c.RunArgs.Minimization == nil {
		c.RunArgs.Minimization = d.RunArgs.Minimization
	}
	if c.RunArgs.Equilibration == nil {
		c.RunArgs.Equilibration = d.RunArgs.Equilibration
	}
	if c.RunArgs.Production == nil {
		c.RunArgs.Production = d.RunArgs.Production
	}
	return c
}

// Validate checks that the configuration is valid. It does not touch the filesystem.
func (c *PipelineConfig) Validate() error {
	if c.EquilibrationSteps < 0 || c.EquilibrationSteps > MaxEquilibrationSteps {
		return NewConfigurationError("equilibration_steps",
			"must be between 0 and %d, got %d", MaxEquilibrationSteps, c.EquilibrationSteps)
	}
	if c.MaxWarnings < 0 {
		return NewConfigurationError("max_warnings", "must not be negative, got %d", c.MaxWarnings)
	}
	if c.StartAt < 0 || c.StartAt > c.EquilibrationSteps+2 {
		return NewConfigurationError("start_at",
			"must be between 1 and %d, got %d", c.EquilibrationSteps+2, c.StartAt)
	}
	required := []struct{ field, value string }{
		{"inputs.structure", c.Inputs.Structure},
		{"inputs.topology", c.Inputs.Topology},
		{"inputs.index", c.Inputs.Index},
		{"templates.minimization", c.Templates.Minimization},
		{"templates.equilibration", c.Templates.Equilibration},
		{"templates.production", c.Templates.Production},
		{"work_dir", c.WorkDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return NewConfigurationError(r.field, "is required")
		}
	}
	for step := range c.Overrides.EquilibrationSteps {
		if step < 1 || step > c.EquilibrationSteps {
			return NewConfigurationError("overrides.equilibration_steps",
				"step %d is outside 1..%d", step, c.EquilibrationSteps)
		}
	}
	if err := validateOverrideKeys(c.Overrides.Minimization, true); err != nil {
		return err
	}
	if err := validateOverrideKeys(c.Overrides.Production, true); err != nil {
		return err
	}
	if err := validateOverrideKeys(c.Overrides.Equilibration, c.KeepDefine); err != nil {
		return err
	}
	for _, m := range c.Overrides.EquilibrationSteps {
		if err := validateOverrideKeys(m, c.KeepDefine); err != nil {
			return err
		}
	}
	return nil
}

func validateOverrideKeys(m map[string]string, allowDefine bool) error {
	for k := range m {
		key := strings.TrimSpace(k)
		if key == "" || strings.ContainsAny(key, "=;\n") {
			return NewConfigurationError("overrides", "invalid parameter name %q", k)
		}
		if !allowDefine && strings.EqualFold(key, "define") {
			return &ConfigurationError{
				Field:  "overrides",
				Reason: fmt.Sprintf("%q is owned by the restraint schedule; set keep_define to manage it yourself", k),
			}
		}
	}
	return nil
}
