package fetch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/config"
	"github.com/aristath/marketdata/internal/resilience"
)

// Adapter wraps a provider with its own rate limiter and circuit breaker.
// One Adapter exists per upstream provider; its breaker and limiter state
// are owned by this adapter's call path alone.
type Adapter struct {
	provider Provider
	limiter  *resilience.RateLimiter
	breaker  *resilience.CircuitBreaker
	timeout  time.Duration
	log      zerolog.Logger
}

// NewAdapter builds the guarded adapter for a provider.
func NewAdapter(provider Provider, cfg config.ResilienceConfig, log zerolog.Logger) *Adapter {
	return &Adapter{
		provider: provider,
		limiter: resilience.NewRateLimiter(resilience.LimiterConfig{
			Calls:  cfg.RateLimitCalls,
			Window: cfg.RateLimitWindow,
		}),
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			FailureWindow:    cfg.BreakerFailureWindow,
			Cooldown:         cfg.BreakerCooldown,
		}),
		timeout: cfg.AdapterTimeout,
		log:     log.With().Str("adapter", provider.Name()).Logger(),
	}
}

// Name returns the adapter name.
func (a *Adapter) Name() string {
	return a.provider.Name()
}

// Enabled reports whether the underlying provider has its credentials.
func (a *Adapter) Enabled() bool {
	return a.provider.Enabled()
}

// Breaker exposes the circuit breaker for stats reporting.
func (a *Adapter) Breaker() *resilience.CircuitBreaker {
	return a.breaker
}

// Fetch runs the guarded call path. Rate-limit rejections are returned
// without breaker accounting: the breaker measures upstream health and a
// local admission denial never reached the network.
func (a *Adapter) Fetch(ctx context.Context, req Request) (Result, error) {
	if !a.provider.Enabled() {
		return Result{}, ErrAdapterDisabled
	}

	if err := a.limiter.Allow(); err != nil {
		a.log.Warn().
			Str("data_type", string(req.DataType)).
			Str("key", req.Key).
			Msg("Rate limit exceeded, rejecting call")
		return Result{}, err
	}

	if err := a.breaker.Allow(); err != nil {
		a.log.Debug().
			Str("data_type", string(req.DataType)).
			Str("key", req.Key).
			Msg("Circuit open, rejecting call")
		return Result{}, err
	}

	// Per-adapter timeout, independent of any caller-side deadline
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.provider.Fetch(callCtx, req)
	if err != nil {
		a.breaker.RecordFailure()
		a.log.Warn().
			Err(err).
			Str("data_type", string(req.DataType)).
			Str("key", req.Key).
			Msg("Fetch failed")
		return Result{}, err
	}

	a.breaker.RecordSuccess()
	return result, nil
}
