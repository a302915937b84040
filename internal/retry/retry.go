// Package retry implements the stage-level retry-with-backoff policy from
// spec.md §4.10 / §7: on a transient (network-class) failure, retry at most
// twice with exponential backoff starting at 1s and doubling, composed with
// a per-name circuit breaker so a consistently failing upstream stops being
// hammered mid-run.
package retry

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	depguarderrors "github.com/container-kit/depguard/internal/errors"
)

// Policy configures a retry attempt budget.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// DefaultPolicy is the spec.md default: up to two retries (three attempts
// total), starting at 1s and doubling.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: time.Second}
}

// Func is a retryable unit of work.
type Func func(ctx context.Context) error

// Coordinator executes Funcs under a retry policy, with a circuit breaker
// keyed by name so that a single collapsing upstream degrades fast instead
// of retrying every single call.
type Coordinator struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds a Coordinator.
func New() *Coordinator {
	return &Coordinator{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (c *Coordinator) breaker(name string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[name] = cb
	return cb
}

// Execute runs fn under the default policy and name's circuit breaker.
func (c *Coordinator) Execute(ctx context.Context, name string, fn Func) error {
	return c.ExecuteWithPolicy(ctx, name, DefaultPolicy(), fn)
}

// ExecuteWithPolicy runs fn, retrying on depguarderrors.IsRetryable errors
// up to policy.MaxAttempts-1 additional times with exponential backoff.
// Non-retryable errors and context cancellation return immediately.
func (c *Coordinator) ExecuteWithPolicy(ctx context.Context, name string, policy Policy, fn Func) error {
	cb := c.breaker(name)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by MaxAttempts, not wall time

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return depguarderrors.New(depguarderrors.CodeCancelled, name, "context cancelled", err)
		}

		_, err := cb.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if isCircuitOpen(err) {
			return err
		}
		if !depguarderrors.IsRetryable(err) {
			return err
		}
		if attempt >= policy.MaxAttempts-1 {
			break
		}

		delay := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func isCircuitOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
