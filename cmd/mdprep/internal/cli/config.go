package cli

import (
	"github.com/spf13/cobra"

	"github.com/example/mdprep/cmd/mdprep/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration after mdprep.yaml, .env, MDPREP_* variables and
flags have been applied. Secrets are redacted.

EXAMPLES:
  # Show configuration
  mdprep config

  # Start a config file from the defaults
  mdprep config > mdprep.yaml`,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	out, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = ui.Out.Write(out)
	return err
}
