package printer

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// gate serializes connection-affecting work: at most one connect,
// disconnect, send or query holds it at a time.
type gate struct {
	sem *semaphore.Weighted
}

func newGate() *gate {
	return &gate{sem: semaphore.NewWeighted(1)}
}

// try takes the gate without waiting. Callers that lose the race are
// rejected rather than queued.
func (g *gate) try() (release func(), ok bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	return func() { g.sem.Release(1) }, true
}

// wait takes the gate, blocking until it is free or ctx ends. Only internal
// bookkeeping such as link-loss handling waits.
func (g *gate) wait(ctx context.Context) (release func(), err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}
