// Package restraint holds the fixed positional-restraint schedule used to
// release the solute gradually across equilibration.
package restraint

import (
	"github.com/example/mdprep/pipeline/domain"
)

// table is the validated reduction profile. Force constants never increase
// from one row to the next.
var table = [domain.MaxEquilibrationSteps]domain.RestraintLevel{
	{StepIndex: 1, BackboneFC: 400, SidechainFC: 40},
	{StepIndex: 2, BackboneFC: 300, SidechainFC: 30},
	{StepIndex: 3, BackboneFC: 200, SidechainFC: 20},
	{StepIndex: 4, BackboneFC: 100, SidechainFC: 10},
	{StepIndex: 5, BackboneFC: 50, SidechainFC: 5},
}

// Schedule returns the first n levels of the table, ordered by step index.
// n outside 1..5 is a configuration error; no interpolated schedules exist.
func Schedule(n int) ([]domain.RestraintLevel, error) {
	if n < 1 || n > len(table) {
		return nil, domain.NewConfigurationError("equilibration_steps",
			"restraint schedule needs 1 to %d steps, got %d", len(table), n)
	}
	levels := make([]domain.RestraintLevel, n)
	copy(levels, table[:n])
	return levels, nil
}

// Table returns a copy of the full schedule.
func Table() []domain.RestraintLevel {
	levels := make([]domain.RestraintLevel, len(table))
	copy(levels, table[:])
	return levels
}
