package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/example/mdprep/cmd/mdprep/internal/ui"
	"github.com/example/mdprep/pipeline/domain"
	"github.com/example/mdprep/pipeline/restraint"
)

var scheduleSteps int

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print the positional restraint schedule",
	Long: `Print the force constants applied during each equilibration step.

Backbone and side-chain restraints (kJ/mol/nm^2) are released step by step.
A run with n equilibration steps uses the first n rows.

EXAMPLES:
  mdprep schedule
  mdprep schedule --steps 3`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().IntVarP(&scheduleSteps, "steps", "n", 0, "only the first n steps (0 = full table)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	levels := restraint.Table()
	if scheduleSteps != 0 {
		var err error
		if levels, err = restraint.Schedule(scheduleSteps); err != nil {
			return err
		}
	}

	rows := make([][]string, 0, len(levels))
	for _, l := range levels {
		rows = append(rows, []string{
			strconv.Itoa(l.StepIndex),
			fmt.Sprintf("equilibration%d", l.StepIndex),
			domain.FormatForceConstant(l.BackboneFC),
			domain.FormatForceConstant(l.SidechainFC),
			l.Define(),
		})
	}

	ui.PrintHeader("Restraint Schedule")
	ui.PrintTable([]string{"STEP", "STAGE", "BACKBONE", "SIDECHAIN", "DEFINE"}, rows)
	return nil
}
