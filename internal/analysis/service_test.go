package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketdata/internal/cache"
	"github.com/aristath/marketdata/internal/cachestore"
	"github.com/aristath/marketdata/internal/config"
	"github.com/aristath/marketdata/internal/domain"
	"github.com/aristath/marketdata/internal/fetch"
)

// stubHistoryProvider serves a canned payload for history fetches.
type stubHistoryProvider struct {
	name   string
	result fetch.Result

	mu    sync.Mutex
	calls int
}

func (p *stubHistoryProvider) Name() string  { return p.name }
func (p *stubHistoryProvider) Enabled() bool { return true }

func (p *stubHistoryProvider) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.result, nil
}

func (p *stubHistoryProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// newTestManager builds a manager with empty chains, so price data comes
// from the cache; adapters are registered for source-override fetches only.
func newTestManager(t *testing.T, adapters ...*fetch.Adapter) *cache.Manager {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	_, err = db.Exec(cachestore.Schema)
	require.NoError(t, err)

	resolver := fetch.NewResolverWithChains(adapters, map[domain.DataType][]string{
		domain.DataTypePrice:    {},
		domain.DataTypeAnalysis: {},
	}, zerolog.Nop())

	return cache.NewManager(cachestore.NewStore(db), cachestore.NewTTLPolicy(nil), resolver, zerolog.Nop())
}

func newHistoryAdapter(provider *stubHistoryProvider) *fetch.Adapter {
	cfg := config.ResilienceConfig{
		BreakerFailureThreshold: 3,
		BreakerFailureWindow:    5 * time.Minute,
		BreakerCooldown:         15 * time.Minute,
		RateLimitCalls:          1000,
		RateLimitWindow:         time.Minute,
		AdapterTimeout:          5 * time.Second,
	}
	return fetch.NewAdapter(provider, cfg, zerolog.Nop())
}

func seedCloses(t *testing.T, manager *cache.Manager, symbol string, closes []float64) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"symbol": symbol, "closes": closes})
	require.NoError(t, err)
	require.NoError(t, manager.Put(context.Background(), domain.DataTypePrice, symbol, payload, "test"))
}

// trendingCloses builds a gently rising series long enough for MACD.
func trendingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.5 + 2*math.Sin(float64(i)/5)
	}
	return closes
}

func TestComputeStoresIndicators(t *testing.T) {
	manager := newTestManager(t)
	service := NewService(manager, "", zerolog.Nop())
	seedCloses(t, manager, "AAPL", trendingCloses(60))

	indicators, err := service.Compute(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", indicators.Symbol)
	assert.Equal(t, 60, indicators.Samples)
	assert.Greater(t, indicators.RSI14, 50.0, "rising series implies RSI above midline")
	assert.LessOrEqual(t, indicators.RSI14, 100.0)
	assert.Greater(t, indicators.SMA20, 0.0)
	assert.Greater(t, indicators.SMA50, 0.0)
	assert.WithinDuration(t, time.Now().UTC(), indicators.ComputedAt, 5*time.Second)

	// The result is now a cached analysis entry
	resp := manager.GetOrFetch(context.Background(), domain.DataTypeAnalysis, "AAPL", cache.Options{})
	require.Equal(t, domain.StatusOK, resp.Status)
	assert.Equal(t, SourceIndicators, resp.Result.Source)

	var stored Indicators
	require.NoError(t, json.Unmarshal(resp.Result.Data, &stored))
	assert.Equal(t, indicators.RSI14, stored.RSI14)
}

func TestComputeSkipsSMA50WhenShort(t *testing.T) {
	manager := newTestManager(t)
	service := NewService(manager, "", zerolog.Nop())
	seedCloses(t, manager, "AAPL", trendingCloses(40))

	indicators, err := service.Compute(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Zero(t, indicators.SMA50)
}

func TestComputeRejectsShortSeries(t *testing.T) {
	manager := newTestManager(t)
	service := NewService(manager, "", zerolog.Nop())
	seedCloses(t, manager, "AAPL", trendingCloses(10))

	_, err := service.Compute(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
}

func TestComputeFetchesHistoryForQuoteEntry(t *testing.T) {
	payload, err := json.Marshal(map[string]interface{}{"symbol": "AAPL", "closes": trendingCloses(60)})
	require.NoError(t, err)
	history := &stubHistoryProvider{name: "history", result: fetch.Result{Data: payload}}

	manager := newTestManager(t, newHistoryAdapter(history))
	service := NewService(manager, "history", zerolog.Nop())

	// A live-quote entry carries no close series
	quote, err := json.Marshal(map[string]interface{}{"symbol": "AAPL", "price": 191.2, "prev_close": 190.0})
	require.NoError(t, err)
	require.NoError(t, manager.Put(context.Background(), domain.DataTypePrice, "AAPL", quote, "stream"))

	indicators, err := service.Compute(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 60, indicators.Samples)
	assert.Equal(t, 1, history.callCount())
}

func TestComputeFailsWhenHistorySourceHasNoSeries(t *testing.T) {
	history := &stubHistoryProvider{name: "history", result: fetch.Result{Data: json.RawMessage(`{"price":191.2}`)}}

	manager := newTestManager(t, newHistoryAdapter(history))
	service := NewService(manager, "history", zerolog.Nop())
	seedCloses(t, manager, "AAPL", nil)

	_, err := service.Compute(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
	assert.Equal(t, 1, history.callCount())
}

func TestComputeNoPriceData(t *testing.T) {
	manager := newTestManager(t)
	service := NewService(manager, "", zerolog.Nop())

	_, err := service.Compute(context.Background(), "NOSUCH")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no price data")
}
