package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/mdprep/cmd/mdprep/internal/ui"
	"github.com/example/mdprep/pipeline/mdp"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.mdp> [parameter...]",
	Short: "List the parameters of an .mdp file",
	Long: `List the parameters and current values of a GROMACS parameter file.

With parameter names, only those are printed. Dashes and underscores in
names are interchangeable, as in GROMACS.

EXAMPLES:
  mdprep inspect step5_production.mdp
  mdprep inspect equilibration1.mdp nsteps dt define`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	f := mdp.Parse(data)

	var rows [][]string
	if len(args) == 1 {
		for _, p := range f.Params() {
			rows = append(rows, []string{p.Key, p.Value})
		}
	} else {
		for _, key := range args[1:] {
			value, ok := f.Get(key)
			if !ok {
				value = "(not set)"
			}
			rows = append(rows, []string{key, value})
		}
	}

	ui.PrintHeader(args[0])
	if len(rows) == 0 {
		ui.PrintWarning("No parameters found")
		return nil
	}
	ui.PrintTable([]string{"PARAMETER", "VALUE"}, rows)
	ui.PrintInfo("")
	ui.PrintInfo(fmt.Sprintf("%d parameters", len(f.Keys())))
	return nil
}
