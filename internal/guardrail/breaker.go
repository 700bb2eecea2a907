package guardrail

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of the pipeline breaker.
type CircuitState int

const (
	// StateClosed means normal operation, pipeline runs allowed.
	StateClosed CircuitState = iota

	// StateOpen means too many consecutive failures, runs blocked.
	StateOpen

	// StateHalfOpen means the breaker is probing for recovery.
	StateHalfOpen
)

// String returns a human-readable representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds breaker tuning.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive pipeline failures
	// before the circuit opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a trial
	// call is allowed through. Default: 30 seconds.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls is the number of trial calls allowed while
	// half-open. Default: 1.
	HalfOpenMaxCalls int
}

// DefaultCircuitBreakerConfig returns the defaults used by the engine.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitOpenError is returned by Allow while the circuit is open.
type CircuitOpenError struct {
	OpenedAt   time.Time
	RetryAfter time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("guardrail pipeline circuit open (opened at %s, retry after %s)",
		e.OpenedAt.Format(time.RFC3339), e.RetryAfter.Format(time.RFC3339))
}

// CircuitBreaker guards the whole guardrail pipeline with a single
// shared circuit. There is one instance per registry, not one per
// guardrail: an unhealthy subsystem is tripped as a unit.
//
// State transitions:
//   - Closed -> Open after FailureThreshold consecutive failures
//   - Open -> Half-Open after ResetTimeout
//   - Half-Open -> Closed on a successful trial call
//   - Half-Open -> Open on a failed trial call
//
// Thread-safe.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         CircuitState
	failures      int
	openedAt      time.Time
	halfOpenCalls int
}

// NewCircuitBreaker creates a breaker with the given configuration,
// filling unset fields from the defaults.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = def.ResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Allow checks whether a pipeline run may proceed. Returns nil to
// proceed or a *CircuitOpenError while the circuit is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.ResetTimeout {
			cb.state = StateHalfOpen
			cb.halfOpenCalls = 1
			return nil
		}
		return &CircuitOpenError{
			OpenedAt:   cb.openedAt,
			RetryAfter: cb.openedAt.Add(cb.config.ResetTimeout),
		}

	case StateHalfOpen:
		if cb.halfOpenCalls < cb.config.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			return nil
		}
		return &CircuitOpenError{
			OpenedAt:   cb.openedAt,
			RetryAfter: cb.openedAt.Add(cb.config.ResetTimeout),
		}

	default:
		return nil
	}
}

// RecordSuccess resets the failure counter, closing the circuit if a
// half-open trial succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0
}

// RecordFailure counts a pipeline failure and opens the circuit once
// the threshold is reached. A failed half-open trial reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}

	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.failures = cb.config.FailureThreshold
		cb.halfOpenCalls = 0

	case StateOpen:
		// Already open; the counter stays at threshold.
	}
}

// State returns the effective circuit state, reporting half-open once
// the reset timeout of an open circuit has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed. Useful for tests and manual
// recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0
}
