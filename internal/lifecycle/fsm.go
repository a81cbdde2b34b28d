// Package lifecycle implements the analysis phase state machine.
package lifecycle

import (
	"fmt"

	"github.com/introspect-labs/introspect/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.PhaseStatus][]types.PhaseStatus{
	types.PhasePending: {types.PhaseRunning},
	types.PhaseRunning: {types.PhaseDone, types.PhaseFailed, types.PhaseRunning},
	types.PhaseDone:    {},
	types.PhaseFailed:  {types.PhaseRunning},
}

// CanTransition checks if transitioning from one phase status to another is valid.
// Running -> Running is allowed so a stale running marker can be re-claimed
// after a crash; Failed -> Running allows a redelivered trigger to retry.
func CanTransition(from, to types.PhaseStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates the move, returning an error if it is invalid.
func Transition(from, to types.PhaseStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid phase transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the status is a terminal (final) state.
// Failed is terminal for emission purposes: the failure event has been sent.
func IsTerminal(status types.PhaseStatus) bool {
	return status == types.PhaseDone || status == types.PhaseFailed
}
