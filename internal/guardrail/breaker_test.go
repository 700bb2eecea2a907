package guardrail

import (
	"errors"
	"testing"
	"time"
)

func newTestBreaker(threshold int, reset time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if cb.State() != StateClosed {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %v", cb.State())
	}

	var openErr *CircuitOpenError
	if err := cb.Allow(); !errors.As(err, &openErr) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Fatalf("non-consecutive failures must not open the circuit, got %v", cb.State())
	}
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}

	time.Sleep(30 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %v", cb.State())
	}

	// First trial call passes, a second concurrent one is rejected.
	if err := cb.Allow(); err != nil {
		t.Fatalf("trial call should be allowed: %v", err)
	}
	if err := cb.Allow(); err == nil {
		t.Fatal("second call during half-open should be rejected")
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("successful trial should close the circuit, got %v", cb.State())
	}
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("trial call should be allowed: %v", err)
	}

	cb.RecordFailure()
	if err := cb.Allow(); err == nil {
		t.Fatal("failed trial must reopen the circuit")
	}
}

func TestBreakerReset(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after reset, got %v", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("allow after reset: %v", err)
	}
}
