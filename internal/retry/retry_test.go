package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	depguarderrors "github.com/container-kit/depguard/internal/errors"
)

func TestExecuteSucceedsFirstTry(t *testing.T) {
	c := New()
	calls := 0
	err := c.Execute(context.Background(), "test-stage", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestExecuteRetriesRetryableError(t *testing.T) {
	c := New()
	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond}

	calls := 0
	err := c.ExecuteWithPolicy(context.Background(), "flaky-stage", policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return depguarderrors.New(depguarderrors.CodeNetworkTransient, "test", "transient failure", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts before success, got %d", calls)
	}
}

func TestExecuteDoesNotRetryNonRetryableError(t *testing.T) {
	c := New()
	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond}

	calls := 0
	wantErr := depguarderrors.New(depguarderrors.CodeNotFound, "test", "not found", nil)
	err := c.ExecuteWithPolicy(context.Background(), "notfound-stage", policy, func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if err == nil {
		t.Fatalf("expected an error to be returned")
	}
	if calls != 1 {
		t.Fatalf("a non-retryable error should not be retried, got %d calls", calls)
	}
}

func TestExecuteRespectsContextCancellation(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Execute(ctx, "cancelled-stage", func(ctx context.Context) error {
		t.Fatalf("fn should not be invoked once the context is already cancelled")
		return nil
	})
	if err == nil {
		t.Fatalf("expected an error for an already-cancelled context")
	}
	if !errors.Is(err, err) { // sanity: err itself is non-nil and comparable
		t.Fatalf("unexpected error comparison failure")
	}
}

func TestExecuteExhaustsRetriesAndReturnsLastError(t *testing.T) {
	c := New()
	policy := Policy{MaxAttempts: 2, InitialDelay: time.Millisecond}

	calls := 0
	err := c.ExecuteWithPolicy(context.Background(), "always-flaky", policy, func(ctx context.Context) error {
		calls++
		return depguarderrors.New(depguarderrors.CodeNetworkTransient, "test", "still failing", nil)
	})
	if err == nil {
		t.Fatalf("expected an error after exhausting retries")
	}
	if calls != 2 {
		t.Fatalf("expected exactly MaxAttempts calls, got %d", calls)
	}
}
