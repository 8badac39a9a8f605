package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when admission is denied locally; the call
// never reaches the network.
var ErrRateLimited = errors.New("rate limit exceeded")

// LimiterConfig defines configuration for the rate limiter.
type LimiterConfig struct {
	// Calls is the number of admissions allowed per Window.
	Calls int

	// Window is the trailing admission window.
	Window time.Duration
}

// DefaultLimiterConfig returns the default configuration.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Calls:  5,
		Window: time.Minute,
	}
}

// RateLimiter performs sliding-window admission control. A call is admitted
// only if fewer than the configured number of admissions fall within the
// trailing window; rejected calls do not consume a slot.
type RateLimiter struct {
	config LimiterConfig
	now    func() time.Time

	mu         sync.Mutex
	admissions []time.Time // Bounded to config.Calls entries
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(config LimiterConfig) *RateLimiter {
	return newRateLimiter(config, time.Now)
}

// newRateLimiter allows tests to inject a clock.
func newRateLimiter(config LimiterConfig, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		config: config,
		now:    now,
	}
}

// Allow reports whether a call is admitted, consuming a slot if so.
func (rl *RateLimiter) Allow() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.pruneLocked(now)

	if len(rl.admissions) >= rl.config.Calls {
		return ErrRateLimited
	}

	rl.admissions = append(rl.admissions, now)
	return nil
}

// pruneLocked drops admission timestamps that have left the window.
// Caller must hold rl.mu.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-rl.config.Window)
	kept := rl.admissions[:0]
	for _, ts := range rl.admissions {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rl.admissions = kept
}

// InWindow returns the number of admissions currently in the window.
func (rl *RateLimiter) InWindow() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.pruneLocked(rl.now())
	return len(rl.admissions)
}
