package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/introspect-labs/introspect/pkg/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to types.PhaseStatus
		want     bool
	}{
		{types.PhasePending, types.PhaseRunning, true},
		{types.PhaseRunning, types.PhaseDone, true},
		{types.PhaseRunning, types.PhaseFailed, true},
		{types.PhaseRunning, types.PhaseRunning, true}, // stale re-claim
		{types.PhaseFailed, types.PhaseRunning, true},  // retry after failure
		{types.PhasePending, types.PhaseDone, false},
		{types.PhasePending, types.PhaseFailed, false},
		{types.PhaseDone, types.PhaseRunning, false},
		{types.PhaseDone, types.PhaseFailed, false},
		{types.PhaseFailed, types.PhaseDone, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTransition_ReturnsErrorOnInvalidMove(t *testing.T) {
	assert.NoError(t, Transition(types.PhasePending, types.PhaseRunning))
	assert.Error(t, Transition(types.PhaseDone, types.PhaseRunning))
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(types.PhasePending))
	assert.False(t, IsTerminal(types.PhaseRunning))
	assert.True(t, IsTerminal(types.PhaseDone))
	assert.True(t, IsTerminal(types.PhaseFailed))
}
