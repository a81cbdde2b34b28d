// Package testutil provides shared test helpers.
package testutil

import (
	"testing"
	"time"

	"github.com/introspect-labs/introspect/internal/store/memory"
	"github.com/introspect-labs/introspect/pkg/types"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// WaitForOutboxEvent polls until the store holds an outbox event of the
// given type and status.
func WaitForOutboxEvent(t *testing.T, store *memory.Store, eventType types.EventType, status types.OutboxStatus, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		for _, ev := range store.Events() {
			if ev.EventType == eventType && ev.Status == status {
				return true
			}
		}
		return false
	}, "outbox event "+string(eventType)+" with status "+string(status))
}

// WaitForPhase polls until the task's phase reaches the given status.
func WaitForPhase(t *testing.T, store *memory.Store, unitKey string, phase types.Phase, status types.PhaseStatus, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		task, ok, err := store.GetTask(t.Context(), unitKey)
		if err != nil || !ok {
			return false
		}
		if phase == types.PhaseInstant {
			return task.InstantStatus == status
		}
		return task.DeepStatus == status
	}, "phase "+string(phase)+" of "+unitKey+" at "+string(status))
}
