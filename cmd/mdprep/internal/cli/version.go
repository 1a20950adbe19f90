package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/mdprep/cmd/mdprep/internal/ui"
)

const (
	version = "1.0.0"
	banner  = `
                  _
  _ __ ___   __| |_ __  _ __ ___ _ __
 | '_ ' _ \ / _' | '_ \| '__/ _ \ '_ \
 | | | | | | (_| | |_) | | |  __/ |_) |
 |_| |_| |_|\__,_| .__/|_|  \___| .__/
                 |_|             |_|
`
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the version of mdprep.`,
	Run:   runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Fprint(ui.Out, banner)
	ui.PrintInfo(fmt.Sprintf("Version: %s", version))
	ui.PrintInfo("GROMACS minimization, equilibration and production pipeline")
	ui.PrintInfo("")
	ui.PrintInfo("For help: mdprep --help")
}
