// Package resilience provides the per-adapter failure-handling primitives:
// a three-state circuit breaker and a sliding-window rate limiter. Each
// source adapter owns one instance of each; state is never shared across
// adapters.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// touching the network.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig defines configuration for the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within FailureWindow
	// that opens the circuit.
	FailureThreshold int

	// FailureWindow is the trailing window over which failures count.
	FailureWindow time.Duration

	// Cooldown is how long an open circuit rejects calls before the next
	// attempt is allowed through as a half-open probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    5 * time.Minute,
		Cooldown:         15 * time.Minute,
	}
}

// CircuitBreaker is a three-state failure detector. Failures are tracked in
// a bounded time-ordered window; timestamps older than the window are pruned
// lazily on each check rather than on a timer.
type CircuitBreaker struct {
	config BreakerConfig
	now    func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures []time.Time // Bounded to FailureThreshold entries
	openedAt time.Time
	probing  bool // A half-open probe is in flight
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	return newCircuitBreaker(config, time.Now)
}

// newCircuitBreaker allows tests to inject a clock.
func newCircuitBreaker(config BreakerConfig, now func() time.Time) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		now:    now,
		state:  StateClosed,
	}
}

// Allow reports whether a call may proceed. In OPEN state it returns
// ErrCircuitOpen until the cooldown elapses, at which point the next call
// becomes the single HALF_OPEN probe. Callers that get a nil error must
// report the outcome via RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			return ErrCircuitOpen
		}
		// Cooldown elapsed: this call is the probe
		cb.state = StateHalfOpen
		cb.probing = true
		return nil

	case StateHalfOpen:
		// Exactly one probe allowed
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil

	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess registers a successful call. A successful half-open probe
// closes the circuit and clears the failure window.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.failures = nil
		cb.probing = false
	}
}

// RecordFailure registers a failed call. In CLOSED state the failure joins
// the window and may open the circuit; a failed half-open probe reopens it
// and restarts the cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	switch cb.state {
	case StateClosed:
		cb.pruneLocked(now)
		cb.failures = append(cb.failures, now)
		if len(cb.failures) >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = now
		}

	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = now
		cb.probing = false
	}
}

// pruneLocked drops failure timestamps older than the window.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.config.FailureWindow)
	kept := cb.failures[:0]
	for _, ts := range cb.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	cb.failures = kept
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the number of failures currently in the window.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.pruneLocked(cb.now())
	return len(cb.failures)
}

// BreakerStats is a snapshot of breaker state for reporting.
type BreakerStats struct {
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// Stats returns a snapshot of the breaker for the health report.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.pruneLocked(cb.now())

	stats := BreakerStats{
		State:    cb.state.String(),
		Failures: len(cb.failures),
	}
	if cb.state != StateClosed {
		stats.OpenedAt = cb.openedAt
	}
	return stats
}
