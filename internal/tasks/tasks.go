// Package tasks tracks named background work so shutdown can drain it
// instead of killing it mid-flight.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Registry runs background functions and tracks them by name. Work
// started through the registry is counted until it returns, and Drain
// waits for the count to reach zero.
type Registry struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu       sync.Mutex
	wg       sync.WaitGroup
	inFlight map[string]int
	draining bool
}

// NewRegistry creates a registry whose tasks run under the given base
// context.
func NewRegistry(ctx context.Context, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	taskCtx, cancel := context.WithCancel(ctx)
	return &Registry{
		ctx:      taskCtx,
		cancel:   cancel,
		logger:   logger,
		inFlight: make(map[string]int),
	}
}

// Go starts fn in a goroutine under the registry's context. A draining
// registry refuses new work. The returned error from fn is logged, not
// propagated; background work reports failure through its own channels
// (events, alerts).
func (r *Registry) Go(name string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return fmt.Errorf("registry is draining, rejecting task %s", name)
	}
	r.inFlight[name]++
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.inFlight[name]--
			if r.inFlight[name] == 0 {
				delete(r.inFlight, name)
			}
			r.mu.Unlock()
			r.wg.Done()
		}()
		if err := fn(r.ctx); err != nil {
			r.logger.Error("background task failed", "task", name, "error", err)
		}
	}()
	return nil
}

// InFlight returns a snapshot of running task counts by name.
func (r *Registry) InFlight() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.inFlight))
	for name, n := range r.inFlight {
		out[name] = n
	}
	return out
}

// Drain stops accepting new tasks and waits for running ones to finish,
// up to ctx's deadline. On timeout the remaining tasks are cancelled.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return fmt.Errorf("drain timed out: %w", ctx.Err())
	}
}
