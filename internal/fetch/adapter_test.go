package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketdata/internal/config"
	"github.com/aristath/marketdata/internal/domain"
	"github.com/aristath/marketdata/internal/resilience"
)

// stubProvider is a scriptable provider for adapter and chain tests.
type stubProvider struct {
	name    string
	enabled bool

	mu     sync.Mutex
	calls  int
	result Result
	err    error
	delay  time.Duration
}

func newStubProvider(name string) *stubProvider {
	return &stubProvider{
		name:    name,
		enabled: true,
		result:  Result{Data: json.RawMessage(`{"ok":true}`)},
	}
}

func (p *stubProvider) Name() string  { return p.name }
func (p *stubProvider) Enabled() bool { return p.enabled }

func (p *stubProvider) Fetch(ctx context.Context, req Request) (Result, error) {
	p.mu.Lock()
	p.calls++
	delay, result, err := p.delay, p.result, p.err
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return result, err
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testResilienceConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		BreakerFailureThreshold: 3,
		BreakerFailureWindow:    300 * time.Second,
		BreakerCooldown:         900 * time.Second,
		RateLimitCalls:          100,
		RateLimitWindow:         time.Minute,
		AdapterTimeout:          time.Second,
	}
}

func TestAdapterSuccessPath(t *testing.T) {
	provider := newStubProvider("finnhub")
	adapter := NewAdapter(provider, testResilienceConfig(), zerolog.Nop())

	result, err := adapter.Fetch(context.Background(), Request{DataType: domain.DataTypePrice, Key: "AAPL"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result.Data))
	assert.Equal(t, 0, adapter.Breaker().FailureCount())
}

func TestAdapterDisabled(t *testing.T) {
	provider := newStubProvider("sec")
	provider.enabled = false
	adapter := NewAdapter(provider, testResilienceConfig(), zerolog.Nop())

	_, err := adapter.Fetch(context.Background(), Request{DataType: domain.DataTypeOwnership, Key: "AAPL"})
	assert.ErrorIs(t, err, ErrAdapterDisabled)
	assert.Equal(t, 0, provider.callCount())
}

func TestAdapterFailureCountsAgainstBreaker(t *testing.T) {
	provider := newStubProvider("finnhub")
	provider.err = errors.New("upstream 500")
	adapter := NewAdapter(provider, testResilienceConfig(), zerolog.Nop())

	_, err := adapter.Fetch(context.Background(), Request{DataType: domain.DataTypePrice, Key: "AAPL"})
	assert.Error(t, err)
	assert.Equal(t, 1, adapter.Breaker().FailureCount())
}

func TestAdapterOpensBreakerAndShortCircuits(t *testing.T) {
	provider := newStubProvider("finnhub")
	provider.err = errors.New("upstream 500")
	adapter := NewAdapter(provider, testResilienceConfig(), zerolog.Nop())

	req := Request{DataType: domain.DataTypePrice, Key: "AAPL"}
	for i := 0; i < 3; i++ {
		_, err := adapter.Fetch(context.Background(), req)
		assert.Error(t, err)
	}
	require.Equal(t, resilience.StateOpen, adapter.Breaker().State())

	// The next call is rejected without touching the provider
	before := provider.callCount()
	_, err := adapter.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, before, provider.callCount())
}

// Policy: a local rate-limit rejection never reached the network, so it
// must not move the circuit breaker.
func TestAdapterRateLimitRejectionSkipsBreakerAccounting(t *testing.T) {
	provider := newStubProvider("finnhub")
	cfg := testResilienceConfig()
	cfg.RateLimitCalls = 1
	adapter := NewAdapter(provider, cfg, zerolog.Nop())

	req := Request{DataType: domain.DataTypePrice, Key: "AAPL"}
	_, err := adapter.Fetch(context.Background(), req)
	require.NoError(t, err)

	_, err = adapter.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, resilience.ErrRateLimited)
	assert.Equal(t, 0, adapter.Breaker().FailureCount())
	assert.Equal(t, 1, provider.callCount())
}

func TestAdapterTimeoutCountsAsFailure(t *testing.T) {
	provider := newStubProvider("yahoo")
	provider.delay = 200 * time.Millisecond
	cfg := testResilienceConfig()
	cfg.AdapterTimeout = 20 * time.Millisecond
	adapter := NewAdapter(provider, cfg, zerolog.Nop())

	_, err := adapter.Fetch(context.Background(), Request{DataType: domain.DataTypePrice, Key: "AAPL"})
	assert.Error(t, err)
	assert.Equal(t, 1, adapter.Breaker().FailureCount())
}
