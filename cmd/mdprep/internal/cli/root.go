package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/mdprep/internal/config"
	"github.com/example/mdprep/internal/logging"
	"github.com/example/mdprep/pipeline/domain"
	"github.com/example/mdprep/pipeline/plan"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitStageFailed = 1
	ExitConfig      = 2
	ExitInterrupted = 130
)

var (
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string
	workDir    string

	// cfg is the effective configuration, loaded before every command.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mdprep",
	Short: "Run the GROMACS minimization, equilibration and production pipeline",
	Long: `mdprep runs a CHARMM-GUI GROMACS system through energy minimization,
0 to 5 equilibration steps with progressively weaker positional restraints,
and one production run.

Each stage renders its .mdp file from a template, then calls
"gmx grompp" and "gmx mdrun". Every stage starts from the previous stage's
coordinates and checkpoint. The first failing stage halts the pipeline and
is reported with its ordinal so the run can be resumed there.

RESTRAINT SCHEDULE (kJ/mol/nm^2):
  step  backbone  sidechain
  1     400       40
  2     300       30
  3     200       20
  4     100       10
  5     50        5

WORKFLOW:
  1. mdprep plan              (check inputs, show stages)
  2. mdprep run --steps 3
  3. mdprep status            (after a failure: where to resume)
  4. mdprep run --from <n>    (resume at stage n)

EXAMPLES:
  # Three equilibration steps with the default CHARMM-GUI file names
  mdprep run --steps 3

  # Use an MPI build and a config file
  mdprep --config system.yaml run --gmx gmx_mpi

  # Print the parameters of a rendered file
  mdprep inspect equilibration2.mdp nsteps dt define

CONFIGURATION:
  Settings come from mdprep.yaml, then .env, then MDPREP_* variables, then flags.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "pipeline configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().StringVarP(&workDir, "work-dir", "w", "", "directory for stage outputs")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return &domain.ConfigurationError{Field: "env-file", Reason: err.Error()}
	}

	loaded, err := config.Load(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if logFormat != "" {
		loaded.Log.Format = logFormat
	}
	if workDir != "" {
		loaded.WorkDir = workDir
	}
	cfg = loaded

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
	return nil
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, domain.ErrConfiguration), errors.Is(err, domain.ErrTemplate):
		return ExitConfig
	default:
		return ExitStageFailed
	}
}

// buildPlan builds the plan from the effective configuration. steps < 0
// keeps the configured step count; startAt 0 runs every stage.
func buildPlan(steps, startAt int) (*domain.PipelinePlan, error) {
	pc := cfg.PipelineConfig
	if steps >= 0 {
		pc.SetEquilibrationSteps(steps)
	}
	pc.StartAt = startAt
	return plan.Build(pc)
}

// absWorkDir is the work directory as the runner records it in the ledger.
func absWorkDir() (string, error) {
	dir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return "", &domain.ConfigurationError{Field: "work_dir", Reason: err.Error()}
	}
	return dir, nil
}
