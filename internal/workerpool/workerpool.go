// Package workerpool provides the bounded worker pools shared across a run
// for I/O-bound fan-out (registry + OSV calls) and CPU-bound work (regex
// scanning, graph traversal), per spec.md §5.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent work via a weighted semaphore. It is the only
// throttle in the system: callers suspend on Acquire when saturated, and
// there is no additional queue.
type Pool struct {
	sem *semaphore.Weighted
	cap int64
}

// New creates a pool with the given capacity (max in-flight units).
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(capacity)), cap: int64(capacity)}
}

// NewCPUBound creates a pool sized to GOMAXPROCS, for regex/graph work.
func NewCPUBound() *Pool {
	return New(runtime.GOMAXPROCS(0))
}

// Cap returns the pool's capacity.
func (p *Pool) Cap() int { return int(p.cap) }

// Go runs fn once a slot is available, blocking until one is or ctx is
// cancelled. It releases the slot when fn returns.
func (p *Pool) Go(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Acquire blocks for n units of capacity; caller must call release().
func (p *Pool) Acquire(ctx context.Context, n int64) (release func(), err error) {
	if err := p.sem.Acquire(ctx, n); err != nil {
		return nil, err
	}
	return func() { p.sem.Release(n) }, nil
}
