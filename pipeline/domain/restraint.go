package domain

import (
	"fmt"
	"strconv"
)

// RestraintLevel is one row of the equilibration restraint schedule.
type RestraintLevel struct {
	// StepIndex is the 1-based equilibration step.
	StepIndex int `json:"step_index" yaml:"step_index"`

	// BackboneFC is the backbone positional restraint force constant (FC_BB).
	BackboneFC float64 `json:"fc_bb" yaml:"fc_bb"`

	// SidechainFC is the side-chain positional restraint force constant (FC_SC).
	SidechainFC float64 `json:"fc_sc" yaml:"fc_sc"`
}

// Define returns the preprocessor defines that switch on positional
// restraints with this level's force constants, as used by CHARMM-GUI topologies.
func (r RestraintLevel) Define() string {
	return fmt.Sprintf("-DPOSRES -DPOSRES_FC_BB=%s -DPOSRES_FC_SC=%s",
		FormatForceConstant(r.BackboneFC), FormatForceConstant(r.SidechainFC))
}

func (r RestraintLevel) String() string {
	return fmt.Sprintf("step %d (FC_BB=%s, FC_SC=%s)", r.StepIndex,
		FormatForceConstant(r.BackboneFC), FormatForceConstant(r.SidechainFC))
}

// FormatForceConstant formats a force constant without trailing zeros.
func FormatForceConstant(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
