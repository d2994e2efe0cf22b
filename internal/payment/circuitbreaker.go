package payment

import (
	"sync"
	"time"
)

// breakerState is one of the three canonical circuit breaker states.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker trips after FailureThreshold consecutive failures and
// refuses calls for RecoveryTimeout, then allows a single trial call
// through (half-open) to decide whether to close again. Small hand-rolled
// mutex-guarded state rather than a third-party breaker library, since none
// of the wired dependencies cover this concern.
type CircuitBreaker struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration

	mu          sync.Mutex
	state       breakerState
	failures    int
	openedAt    time.Time
}

// NewCircuitBreaker builds a breaker starting in the closed state.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{FailureThreshold: failureThreshold, RecoveryTimeout: recoveryTimeout}
}

// Allow reports whether a call may proceed, and transitions OPEN -> HALF_OPEN
// once the recovery timeout has elapsed. Only the call that made that
// transition is admitted; further calls are refused while HALF_OPEN.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateHalfOpen:
		return false
	case stateOpen:
		if time.Since(b.openedAt) >= b.RecoveryTimeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
}

// RecordFailure increments the failure count and opens the breaker once
// FailureThreshold consecutive failures have been seen, or immediately if
// the trial half-open call itself failed.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = time.Now()
		return
	}
	b.failures++
	if b.failures >= b.FailureThreshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}
