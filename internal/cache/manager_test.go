package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketdata/internal/cachestore"
	"github.com/aristath/marketdata/internal/config"
	"github.com/aristath/marketdata/internal/domain"
	"github.com/aristath/marketdata/internal/fetch"
)

// stubProvider is a scriptable upstream for manager tests.
type stubProvider struct {
	name    string
	enabled bool

	mu     sync.Mutex
	result fetch.Result
	err    error
	delay  time.Duration
	calls  int
}

func (p *stubProvider) Name() string  { return p.name }
func (p *stubProvider) Enabled() bool { return p.enabled }

func (p *stubProvider) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	p.mu.Lock()
	p.calls++
	result, err, delay := p.result, p.err, p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fetch.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return fetch.Result{}, err
	}
	return result, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *stubProvider) set(result fetch.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = result
	p.err = err
}

type managerFixture struct {
	manager *Manager
	store   *cachestore.Store
	alpha   *stubProvider
	beta    *stubProvider
	clock   *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testResilienceConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		BreakerFailureThreshold: 3,
		BreakerFailureWindow:    5 * time.Minute,
		BreakerCooldown:         15 * time.Minute,
		RateLimitCalls:          1000,
		RateLimitWindow:         time.Minute,
		AdapterTimeout:          5 * time.Second,
	}
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	_, err = db.Exec(cachestore.Schema)
	require.NoError(t, err)

	alpha := &stubProvider{name: "alpha", enabled: true, result: fetch.Result{Data: json.RawMessage(`{"v":"alpha"}`)}}
	beta := &stubProvider{name: "beta", enabled: true, result: fetch.Result{Data: json.RawMessage(`{"v":"beta"}`)}}

	log := zerolog.Nop()
	cfg := testResilienceConfig()
	adapters := []*fetch.Adapter{
		fetch.NewAdapter(alpha, cfg, log),
		fetch.NewAdapter(beta, cfg, log),
	}
	chains := map[domain.DataType][]string{
		domain.DataTypePrice:    {"alpha", "beta"},
		domain.DataTypeAnalysis: {},
	}
	resolver := fetch.NewResolverWithChains(adapters, chains, log)

	store := cachestore.NewStore(db)
	clock := &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}

	manager := NewManager(store, cachestore.NewTTLPolicy(nil), resolver, log)
	manager.now = clock.Now

	return &managerFixture{manager: manager, store: store, alpha: alpha, beta: beta, clock: clock}
}

func TestMissFetchesAndCaches(t *testing.T) {
	f := newManagerFixture(t)

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	require.Equal(t, domain.StatusOK, resp.Status)
	require.NotNil(t, resp.Result)
	assert.False(t, resp.Result.IsCached)
	assert.False(t, resp.Result.IsStale)
	assert.Equal(t, "alpha", resp.Result.Source)
	assert.Equal(t, 1, f.alpha.callCount())

	// The entry is persisted
	rec, err := f.store.Read("price:AAPL")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "alpha", rec.Source)
}

func TestFreshHitSkipsAdapters(t *testing.T) {
	f := newManagerFixture(t)

	f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	require.Equal(t, 1, f.alpha.callCount())

	f.clock.Advance(5 * time.Minute) // within the 15m price TTL

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	require.Equal(t, domain.StatusOK, resp.Status)
	assert.True(t, resp.Result.IsCached)
	assert.False(t, resp.Result.IsStale)
	assert.Equal(t, 1, f.alpha.callCount(), "fresh hit must not touch any adapter")
}

func TestStaleHitServedWithBackgroundRefresh(t *testing.T) {
	f := newManagerFixture(t)
	pool := NewRefreshPool(4, 5*time.Second, f.manager.Refresh, zerolog.Nop())
	f.manager.SetRefreshPool(pool)
	t.Cleanup(pool.Stop)

	f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	f.clock.Advance(20 * time.Minute) // past the 15m price TTL

	f.alpha.set(fetch.Result{Data: json.RawMessage(`{"v":"refreshed"}`)}, nil)

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	require.Equal(t, domain.StatusOK, resp.Status)
	assert.True(t, resp.Result.IsStale, "stale copy is served immediately")
	assert.JSONEq(t, `{"v":"alpha"}`, string(resp.Result.Data))

	// The background refresh rewrites the entry
	require.Eventually(t, func() bool {
		rec, err := f.store.Read("price:AAPL")
		if err != nil || rec == nil {
			return false
		}
		return string(rec.Payload) == `{"v":"refreshed"}`
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentStaleHitsTriggerOneRefresh(t *testing.T) {
	f := newManagerFixture(t)
	pool := NewRefreshPool(8, 5*time.Second, f.manager.Refresh, zerolog.Nop())
	f.manager.SetRefreshPool(pool)
	t.Cleanup(pool.Stop)

	f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	require.Equal(t, 1, f.alpha.callCount())
	f.clock.Advance(20 * time.Minute)

	// Keep the refresh in flight long enough for every goroutine to
	// observe the stale entry and attempt an enqueue.
	f.alpha.mu.Lock()
	f.alpha.delay = 200 * time.Millisecond
	f.alpha.mu.Unlock()

	started := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-started
			resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
			assert.Equal(t, domain.StatusOK, resp.Status)
		}()
	}
	close(started)
	wg.Wait()
	pool.Stop()

	// 1 initial fetch + exactly 1 deduplicated refresh
	assert.Equal(t, 2, f.alpha.callCount())
}

func TestForceRefreshAlwaysRunsChain(t *testing.T) {
	f := newManagerFixture(t)

	f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	require.Equal(t, 1, f.alpha.callCount())

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{ForceRefresh: true})
	require.Equal(t, domain.StatusOK, resp.Status)
	assert.False(t, resp.Result.IsCached)
	assert.Equal(t, 2, f.alpha.callCount())
}

func TestForceRefreshFailureServesStaleCopy(t *testing.T) {
	f := newManagerFixture(t)

	f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	f.alpha.set(fetch.Result{}, fmt.Errorf("upstream down"))
	f.beta.set(fetch.Result{}, fmt.Errorf("upstream down"))

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{ForceRefresh: true})
	require.Equal(t, domain.StatusOK, resp.Status)
	assert.True(t, resp.Result.IsCached)
	assert.JSONEq(t, `{"v":"alpha"}`, string(resp.Result.Data))
}

func TestChainExhaustedWithNoCopyFails(t *testing.T) {
	f := newManagerFixture(t)
	f.alpha.set(fetch.Result{}, fmt.Errorf("upstream down"))
	f.beta.set(fetch.Result{}, fmt.Errorf("upstream down"))

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	require.Equal(t, domain.StatusFailed, resp.Status)
	require.Error(t, resp.Reason)

	var exhausted *fetch.ExhaustedError
	assert.ErrorAs(t, resp.Reason, &exhausted)
}

func TestSourceOverrideUsesNamedAdapterOnly(t *testing.T) {
	f := newManagerFixture(t)

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{SourceOverride: "beta"})
	require.Equal(t, domain.StatusOK, resp.Status)
	assert.Equal(t, "beta", resp.Result.Source)
	assert.Equal(t, 0, f.alpha.callCount())
	assert.Equal(t, 1, f.beta.callCount())
}

func TestSourceOverrideUnknownAdapterFails(t *testing.T) {
	f := newManagerFixture(t)

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{SourceOverride: "nosuch"})
	require.Equal(t, domain.StatusFailed, resp.Status)
	assert.Contains(t, resp.Reason.Error(), "unknown source")
}

func TestEmptyChainMissIsEmpty(t *testing.T) {
	f := newManagerFixture(t)

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypeAnalysis, "AAPL", Options{})
	assert.Equal(t, domain.StatusEmpty, resp.Status)
	assert.Equal(t, 0, f.alpha.callCount())
}

func TestEmptyChainStaleHitStillServed(t *testing.T) {
	f := newManagerFixture(t)

	require.NoError(t, f.manager.Put(context.Background(), domain.DataTypeAnalysis, "AAPL", json.RawMessage(`{"rsi":55}`), "indicators"))
	f.clock.Advance(2 * time.Hour) // past the 1h analysis TTL

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypeAnalysis, "AAPL", Options{})
	require.Equal(t, domain.StatusOK, resp.Status)
	assert.True(t, resp.Result.IsStale)
}

func TestAuthoritativeEmptyNotCached(t *testing.T) {
	f := newManagerFixture(t)
	f.alpha.set(fetch.Result{Empty: true}, nil)

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "NOSUCH", Options{})
	assert.Equal(t, domain.StatusEmpty, resp.Status)
	// beta is never consulted: empty is an answer, not a failure
	assert.Equal(t, 0, f.beta.callCount())

	rec, err := f.store.Read("price:NOSUCH")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStoreReadFailureFallsThroughToChain(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(cachestore.Schema)
	require.NoError(t, err)

	alpha := &stubProvider{name: "alpha", enabled: true, result: fetch.Result{Data: json.RawMessage(`{"v":"alpha"}`)}}
	resolver := fetch.NewResolverWithChains(
		[]*fetch.Adapter{fetch.NewAdapter(alpha, testResilienceConfig(), zerolog.Nop())},
		map[domain.DataType][]string{domain.DataTypePrice: {"alpha"}},
		zerolog.Nop(),
	)
	manager := NewManager(cachestore.NewStore(db), cachestore.NewTTLPolicy(nil), resolver, zerolog.Nop())

	// Break the store: both the read and the write-through now fail,
	// so the chain answer is served uncached.
	require.NoError(t, db.Close())

	resp := manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	require.Equal(t, domain.StatusOK, resp.Status)
	assert.JSONEq(t, `{"v":"alpha"}`, string(resp.Result.Data))
	assert.False(t, resp.Result.IsCached)
	assert.Equal(t, 1, alpha.callCount())
}

func TestInvalidateForcesNextFetch(t *testing.T) {
	f := newManagerFixture(t)

	f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	require.NoError(t, f.manager.Invalidate(domain.DataTypePrice, "AAPL"))

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	require.Equal(t, domain.StatusOK, resp.Status)
	assert.False(t, resp.Result.IsCached)
	assert.Equal(t, 2, f.alpha.callCount())
}

func TestPutServesFreshHit(t *testing.T) {
	f := newManagerFixture(t)

	require.NoError(t, f.manager.Put(context.Background(), domain.DataTypePrice, "AAPL", json.RawMessage(`{"p":185.5}`), "stream"))

	resp := f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	require.Equal(t, domain.StatusOK, resp.Status)
	assert.True(t, resp.Result.IsCached)
	assert.Equal(t, "stream", resp.Result.Source)
	assert.Equal(t, 0, f.alpha.callCount())
}

func TestInvalidDataTypeFails(t *testing.T) {
	f := newManagerFixture(t)

	resp := f.manager.GetOrFetch(context.Background(), domain.DataType("bogus"), "AAPL", Options{})
	assert.Equal(t, domain.StatusFailed, resp.Status)

	resp = f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "", Options{})
	assert.Equal(t, domain.StatusFailed, resp.Status)
}

func TestRefreshDeletesEntryGoneUpstream(t *testing.T) {
	f := newManagerFixture(t)

	f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	f.alpha.set(fetch.Result{Empty: true}, nil)

	require.NoError(t, f.manager.Refresh(context.Background(), domain.DataTypePrice, "AAPL", nil))

	rec, err := f.store.Read("price:AAPL")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStats(t *testing.T) {
	f := newManagerFixture(t)

	f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "AAPL", Options{})
	f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "MSFT", Options{})
	f.clock.Advance(20 * time.Minute)
	f.manager.GetOrFetch(context.Background(), domain.DataTypePrice, "NVDA", Options{})

	stats, err := f.manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEntries)
	assert.Equal(t, int64(1), stats.FreshEntries)
	assert.Equal(t, int64(2), stats.StaleEntries)
	require.NotNil(t, stats.Ages)
	assert.Equal(t, float64(20*60), stats.Ages.Max)
	assert.LessOrEqual(t, stats.Ages.P50, stats.Ages.P90)
	assert.LessOrEqual(t, stats.Ages.P90, stats.Ages.P99)
}
