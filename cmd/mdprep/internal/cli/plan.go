package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/mdprep/cmd/mdprep/internal/ui"
	"github.com/example/mdprep/pipeline/domain"
	"github.com/example/mdprep/pipeline/engine"
	"github.com/example/mdprep/pipeline/plan"
)

var (
	planSteps    int
	planFrom     int
	planCommands bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the stages a run would execute",
	Long: `Build the pipeline plan and print it without running anything.

All inputs are checked, so a missing structure, topology, index or template
is reported here exactly as "mdprep run" would report it.

EXAMPLES:
  # Stages for three equilibration steps
  mdprep plan --steps 3

  # Include the GROMACS command lines
  mdprep plan --steps 3 --commands`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().IntVarP(&planSteps, "steps", "n", -1, "number of equilibration steps, 0 to 5 (default from config)")
	planCmd.Flags().IntVar(&planFrom, "from", 0, "first stage ordinal")
	planCmd.Flags().BoolVar(&planCommands, "commands", false, "print grompp and mdrun command lines")
}

func runPlan(cmd *cobra.Command, args []string) error {
	p, err := buildPlan(planSteps, planFrom)
	if err != nil {
		return err
	}

	ui.PrintHeader("Pipeline Plan")
	ui.PrintInfo(fmt.Sprintf("Work dir: %s", p.WorkDir()))
	ui.PrintInfo(fmt.Sprintf("Equilibration steps: %d", p.EquilibrationSteps()))
	ui.PrintInfo("")

	for i, line := range plan.Describe(p) {
		ui.PrintInfo(line)
		if planCommands {
			printCommands(p.Stage(i))
		}
	}

	ui.PrintInfo("")
	ui.PrintInfo("Final outputs:")
	for _, out := range p.FinalOutputs() {
		ui.PrintInfo("  " + out)
	}
	return nil
}

func printCommands(s domain.StageSpec) {
	for _, c := range s.Commands() {
		var args []string
		switch c.Step {
		case domain.CommandStepPreprocess:
			args = engine.PreprocessArgs(*c.Preprocess)
		case domain.CommandStepRun:
			args = engine.RunArgs(*c.Run)
		}
		ui.PrintDetail(cfg.Engine.Binary + " " + strings.Join(args, " "))
	}
}
