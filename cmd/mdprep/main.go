// Command mdprep runs a GROMACS system through minimization, restrained
// equilibration and production.
package main

import (
	"os"

	"github.com/example/mdprep/cmd/mdprep/internal/cli"
	"github.com/example/mdprep/cmd/mdprep/internal/ui"
)

func main() {
	if err := cli.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(cli.ExitCode(err))
	}
}
