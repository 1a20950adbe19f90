package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/mdprep/cmd/mdprep/internal/ui"
	"github.com/example/mdprep/internal/artifacts"
	"github.com/example/mdprep/internal/logging"
	"github.com/example/mdprep/internal/observability"
	"github.com/example/mdprep/internal/storage/sqlite"
	"github.com/example/mdprep/pipeline/domain"
	"github.com/example/mdprep/pipeline/engine"
	"github.com/example/mdprep/pipeline/mdp"
	"github.com/example/mdprep/pipeline/runner"
	"github.com/example/mdprep/pkg/id"
)

var (
	runSteps     int
	runFrom      int
	runGmx       string
	runMaxWarn   int
	runNoLedger  bool
	runNoPublish bool
	runEngineOut bool
	runSkipTraj  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline",
	Long: `Run minimization, the equilibration steps and production in order.

Every stage renders its parameter file first. A template error stops the run
before any engine process starts. Stages then run strictly one after another;
the first failure halts the pipeline and later stages are not attempted.

The run can be interrupted with Ctrl+C. The running engine process is killed,
its partial outputs are left on disk, and the ledger records where to resume.

EXAMPLES:
  # Default: one equilibration step
  mdprep run

  # Five equilibration steps, stream GROMACS output
  mdprep run --steps 5 --engine-output

  # Resume at stage 3 after fixing the cause of a failure
  mdprep run --steps 5 --from 3

EXIT CODES:
  0    all stages succeeded
  1    a stage failed
  2    configuration or template error
  130  interrupted`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runSteps, "steps", "n", -1, "number of equilibration steps, 0 to 5 (default from config)")
	runCmd.Flags().IntVar(&runFrom, "from", 0, "resume at this stage ordinal")
	runCmd.Flags().StringVar(&runGmx, "gmx", "", "GROMACS binary (default from config)")
	runCmd.Flags().IntVar(&runMaxWarn, "maxwarn", -1, "grompp -maxwarn value (default from config)")
	runCmd.Flags().BoolVar(&runNoLedger, "no-ledger", false, "do not record the run in the ledger")
	runCmd.Flags().BoolVar(&runNoPublish, "no-publish", false, "do not upload final outputs")
	runCmd.Flags().BoolVar(&runEngineOut, "engine-output", false, "stream GROMACS output to the terminal")
	runCmd.Flags().BoolVar(&runSkipTraj, "skip-trajectory", false, "do not require a production trajectory")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle Ctrl+C gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			ui.PrintWarning("Interrupted! Stopping the running engine process...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if runGmx != "" {
		cfg.Engine.Binary = runGmx
	}
	if runMaxWarn >= 0 {
		cfg.MaxWarnings = runMaxWarn
	}
	if runSkipTraj {
		cfg.SkipTrajectory = true
	}

	fmt.Fprint(ui.Out, banner)

	p, err := buildPlan(runSteps, runFrom)
	if err != nil {
		return err
	}

	ui.PrintHeader("mdprep run")
	ui.PrintInfo(fmt.Sprintf("Work dir:            %s", p.WorkDir()))
	ui.PrintInfo(fmt.Sprintf("Equilibration steps: %d", p.EquilibrationSteps()))
	ui.PrintInfo(fmt.Sprintf("Stages:              %d (starting at %d)", p.Len(), p.FirstOrdinal()))
	ui.PrintInfo(fmt.Sprintf("GROMACS:             %s", cfg.Engine.Binary))
	ui.PrintInfo("")

	ui.PrintStep("Locating GROMACS")
	gmx, err := engine.NewGromacsEngine(cfg.Engine.Binary)
	if err != nil {
		return err
	}
	if runEngineOut {
		gmx.WithOutput(os.Stdout, os.Stderr)
	}
	ui.PrintSuccess(fmt.Sprintf("Using %s", gmx.Binary))

	if err := ensureDir(p.WorkDir()); err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	executor := runner.NewExecutor(gmx, mdp.NewRenderer()).WithMetrics(metrics)
	r := runner.NewRunner(executor, id.Run).
		WithMetrics(metrics).
		WithObserver(&progressObserver{last: p.FirstOrdinal() + p.Len() - 1})

	if path := cfg.LedgerPath(); path != "" && !runNoLedger {
		ledger, err := sqlite.Open(ctx, path)
		if err != nil {
			ui.PrintWarning(fmt.Sprintf("Ledger unavailable, run will not be recorded: %v", err))
		} else {
			defer ledger.Close()
			r.WithLedger(ledger)
		}
	}

	if cfg.Publish.Enabled() && !runNoPublish {
		store, err := artifacts.NewS3Store(cfg.Publish)
		if err != nil {
			return err
		}
		r.WithPublisher(store)
		ui.PrintInfo(fmt.Sprintf("Final outputs will be published to s3://%s", cfg.Publish.Bucket))
	}

	ui.PrintHeader("Stages")
	start := time.Now()
	report, err := r.Run(ctx, p)
	elapsed := time.Since(start)

	if report == nil {
		return err
	}
	logging.FromContext(ctx).Debug("run finished", "report", runner.LogReport(report))

	ui.PrintStatus(report.Status)
	ui.PrintInfo(runner.Summary(report))
	ui.PrintInfo(fmt.Sprintf("Time elapsed: %s", ui.FormatDuration(elapsed)))

	if err != nil {
		ui.PrintInfo("")
		if ctx.Err() != nil {
			ui.PrintInfo(fmt.Sprintf("Outputs of stage %d are incomplete and must not be used.", report.FailedOrdinal))
		}
		if report.FailedOrdinal > 0 {
			ui.PrintInfo(fmt.Sprintf("Resume with: mdprep run --steps %d --from %d",
				p.EquilibrationSteps(), report.FailedOrdinal))
		}
		return err
	}

	ui.PrintInfo("")
	ui.PrintSuccess("Production outputs:")
	for _, out := range p.FinalOutputs() {
		ui.PrintInfo(out)
	}
	snapshot := metrics.Snapshot()
	ui.PrintInfo("")
	snapshot.WriteText(ui.Out)
	return nil
}

// progressObserver prints stage progress lines.
type progressObserver struct {
	last int
}

func (o *progressObserver) StageStarted(stage domain.StageSpec) {
	ui.PrintStageStart(stage, o.last)
}

func (o *progressObserver) StageFinished(_ domain.StageSpec, result *domain.ExecutionResult) {
	ui.PrintResult(result)
}
