package cli

import (
	"github.com/spf13/cobra"

	"github.com/example/mdprep/cmd/mdprep/internal/ui"
	"github.com/example/mdprep/pipeline/mdp"
	"github.com/example/mdprep/pipeline/runner"
	"github.com/example/mdprep/pkg/id"
)

var renderSteps int

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render every stage's parameter file without running GROMACS",
	Long: `Render the .mdp file of every stage into the work directory.

This is the preflight check "mdprep run" performs before starting any engine
process. Unresolved ${NAME} placeholders are reported per template.

EXAMPLES:
  mdprep render --steps 5
  mdprep inspect equilibration5.mdp define`,
	RunE: runRender,
}

func init() {
	renderCmd.Flags().IntVarP(&renderSteps, "steps", "n", -1, "number of equilibration steps, 0 to 5 (default from config)")
}

func runRender(cmd *cobra.Command, args []string) error {
	p, err := buildPlan(renderSteps, 0)
	if err != nil {
		return err
	}
	if err := ensureDir(p.WorkDir()); err != nil {
		return err
	}

	// Prepare never reaches the engine.
	executor := runner.NewExecutor(nil, mdp.NewRenderer())
	if err := runner.NewRunner(executor, id.Run).Preflight(cmd.Context(), p); err != nil {
		return err
	}

	ui.PrintHeader("Rendered Parameter Files")
	for _, s := range p.Stages() {
		ui.PrintSuccess(s.ParameterFile)
	}
	return nil
}
