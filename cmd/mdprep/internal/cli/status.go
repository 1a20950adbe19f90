package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/mdprep/cmd/mdprep/internal/ui"
	"github.com/example/mdprep/internal/storage"
	"github.com/example/mdprep/internal/storage/sqlite"
	"github.com/example/mdprep/pipeline/domain"
)

var (
	statusAll   bool
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest run and where to resume",
	Long: `Show the most recent run recorded in the ledger for the work directory.

Each stage is listed with its state, exit code and duration. After a failed
or interrupted run the resume command is printed.

EXAMPLES:
  # Latest run
  mdprep status

  # Recent runs in every work directory
  mdprep status --all`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false, "list recent runs in all work directories")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum runs listed with --all")
}

// openLedger opens the existing ledger. ok is false when there is none.
func openLedger(cmd *cobra.Command) (*sqlite.SQLiteStorage, bool, error) {
	path := cfg.LedgerPath()
	if path == "" {
		return nil, false, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	ledger, err := sqlite.Open(cmd.Context(), path)
	if err != nil {
		return nil, false, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return ledger, true, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ledger, ok, err := openLedger(cmd)
	if err != nil {
		return err
	}
	if !ok {
		ui.PrintInfo("No runs recorded")
		return nil
	}
	defer ledger.Close()

	if statusAll {
		return listRuns(cmd, ledger)
	}

	dir, err := absWorkDir()
	if err != nil {
		return err
	}
	run, stages, err := storage.LatestRun(cmd.Context(), ledger, dir)
	if errors.Is(err, domain.ErrNotFound) {
		ui.PrintInfo(fmt.Sprintf("No runs recorded for %s", dir))
		return nil
	}
	if err != nil {
		return err
	}

	ui.PrintHeader("mdprep Status")
	ui.PrintInfo(fmt.Sprintf("Run ID:   %s", run.ID))
	ui.PrintInfo(fmt.Sprintf("Work dir: %s", run.WorkDir))
	ui.PrintInfo(fmt.Sprintf("Started:  %s", run.StartedAt.Format("2006-01-02 15:04:05")))
	if run.FinishedAt != nil {
		ui.PrintInfo(fmt.Sprintf("Finished: %s (%s)", run.FinishedAt.Format("2006-01-02 15:04:05"),
			ui.FormatDuration(run.FinishedAt.Sub(run.StartedAt))))
	}
	ui.PrintInfo(fmt.Sprintf("Equilibration steps: %d", run.EquilibrationSteps))
	ui.PrintStatus(run.Status)
	ui.PrintInfo("")

	completed := 0
	rows := make([][]string, 0, len(stages))
	for _, s := range stages {
		if s.State == domain.StageStateSucceeded {
			completed++
		}
		exit := ""
		if s.State == domain.StageStateFailed {
			exit = strconv.Itoa(s.ExitCode)
		}
		duration := ""
		if s.Duration > 0 {
			duration = ui.FormatDuration(s.Duration)
		}
		rows = append(rows, []string{
			ui.StateSymbol(s.State), strconv.Itoa(s.Ordinal), s.Name, s.State.String(), exit, duration,
		})
	}
	ui.PrintTable([]string{" ", "#", "STAGE", "STATE", "EXIT", "DURATION"}, rows)
	ui.PrintInfo("")
	ui.PrintProgress(completed, len(stages), "Stages:")

	for _, s := range stages {
		if s.State != domain.StageStateFailed {
			continue
		}
		ui.PrintInfo("")
		ui.PrintError(fmt.Sprintf("%s failed: %s", s.Name, s.Failure))
		for _, m := range s.MissingInputs {
			ui.PrintInfo(fmt.Sprintf("Missing input: %s", m))
		}
		for _, m := range s.MissingOutputs {
			ui.PrintInfo(fmt.Sprintf("Missing: %s", m))
		}
		if s.Message != "" {
			ui.PrintDetail(s.Message)
		}
	}

	ui.PrintHeader("Next Steps")
	switch run.Status {
	case domain.RunStatusSucceeded:
		ui.PrintInfo("All stages succeeded. Production outputs are in the work directory.")
	case domain.RunStatusRunning:
		ui.PrintInfo("The run is in progress, or was killed before it could record its end.")
		ui.PrintInfo(fmt.Sprintf("If no mdprep process is running: mdprep run --steps %d --from %d",
			run.EquilibrationSteps, resumeFrom(run, stages)))
	default:
		ui.PrintInfo(fmt.Sprintf("Resume with: mdprep run --steps %d --from %d",
			run.EquilibrationSteps, resumeFrom(run, stages)))
		ui.PrintInfo("Or use 'mdprep reset' to start over")
	}
	return nil
}

// resumeFrom is the failed stage, or the first stage that did not succeed
// when the run never recorded its end.
func resumeFrom(run *domain.RunRecord, stages []*domain.StageRecord) int {
	if n := run.ResumeOrdinal(); n > 0 {
		return n
	}
	for _, s := range stages {
		if s.State != domain.StageStateSucceeded {
			return s.Ordinal
		}
	}
	return run.StartOrdinal
}

func listRuns(cmd *cobra.Command, ledger storage.Storage) error {
	var runs []*domain.RunRecord
	err := storage.Update(cmd.Context(), ledger, func(uow storage.UnitOfWork) error {
		var err error
		runs, err = uow.Runs().List(cmd.Context(), storage.ListOptions{Limit: statusLimit})
		return err
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.PrintInfo("No runs recorded")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		elapsed := ""
		if r.FinishedAt != nil {
			elapsed = ui.FormatDuration(r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
		}
		rows = append(rows, []string{
			r.ID, r.Status.String(), strconv.Itoa(r.EquilibrationSteps), strconv.Itoa(r.FailedOrdinal), elapsed, r.WorkDir,
		})
	}
	ui.PrintHeader("Recent Runs")
	ui.PrintTable([]string{"RUN", "STATUS", "STEPS", "FAILED AT", "ELAPSED", "WORK DIR"}, rows)
	return nil
}
