package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/mdprep/cmd/mdprep/internal/ui"
	"github.com/example/mdprep/internal/observability"
	"github.com/example/mdprep/internal/storage"
	"github.com/example/mdprep/pipeline/domain"
)

var (
	force        bool
	resetOutputs bool
	resetSteps   int
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget recorded runs and optionally remove stage outputs",
	Long: `Delete the ledger records of every run in the work directory.

With --outputs, the rendered parameter files, run-input files and all stage
outputs of the plan are removed too. Input files and templates are never
touched.

WARNING: This cannot be undone!

EXAMPLES:
  # Reset with confirmation prompt
  mdprep reset

  # Also delete outputs of a five-step plan, without prompting
  mdprep reset --outputs --steps 5 --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetOutputs, "outputs", false, "also remove stage outputs")
	resetCmd.Flags().IntVarP(&resetSteps, "steps", "n", -1, "equilibration steps of the plan whose outputs are removed")
}

func runReset(cmd *cobra.Command, args []string) error {
	var files []string
	if resetOutputs {
		p, err := buildPlan(resetSteps, 0)
		if err != nil {
			return err
		}
		files = stageFiles(p)
	}

	ledger, hasLedger, err := openLedger(cmd)
	if err != nil {
		return err
	}
	dir, err := absWorkDir()
	if err != nil {
		return err
	}
	var runs []*domain.RunRecord
	if hasLedger {
		defer ledger.Close()
		err := storage.Update(cmd.Context(), ledger, func(uow storage.UnitOfWork) error {
			var err error
			runs, err = uow.Runs().List(cmd.Context(), storage.ListOptions{WorkDir: dir})
			return err
		})
		if err != nil {
			return err
		}
	}

	if len(runs) == 0 && len(files) == 0 {
		ui.PrintInfo("Nothing to reset")
		return nil
	}

	ui.PrintInfo(fmt.Sprintf("Work dir: %s", dir))
	ui.PrintInfo(fmt.Sprintf("Recorded runs: %d", len(runs)))
	if resetOutputs {
		ui.PrintInfo(fmt.Sprintf("Stage files: %d", len(files)))
	}
	ui.PrintInfo("")

	// Confirm unless forced
	if !force {
		if !ui.Confirm("Are you sure you want to reset?") {
			ui.PrintInfo("Reset cancelled")
			return nil
		}
	}

	if len(runs) > 0 {
		ui.PrintStep("Removing run records")
		err := storage.Update(cmd.Context(), ledger, func(uow storage.UnitOfWork) error {
			for _, r := range runs {
				if err := uow.Runs().Delete(cmd.Context(), r.ID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to delete runs: %w", err)
		}
	}

	if len(files) > 0 {
		ui.PrintStep("Removing stage outputs")
		removed := 0
		for _, f := range files {
			err := os.Remove(f)
			switch {
			case err == nil:
				removed++
			case errors.Is(err, fs.ErrNotExist):
			default:
				ui.PrintWarning(fmt.Sprintf("Warning: %v", err))
			}
		}
		ui.PrintInfo(fmt.Sprintf("%d files removed", removed))
	}

	ui.PrintSuccess("Reset complete")
	return nil
}

// stageFiles lists everything a run of p writes, inputs excluded.
func stageFiles(p *domain.PipelinePlan) []string {
	var files []string
	for _, s := range p.Stages() {
		files = append(files, s.ParameterFile, s.Artifact())
		files = append(files, s.Outputs...)
		// mdrun also writes the final-frame checkpoint backup.
		files = append(files, s.Run.DefaultName+"_prev.cpt")
	}
	return append(files, filepath.Join(p.WorkDir(), observability.MetricsFile))
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
