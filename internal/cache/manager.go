// Package cache implements the cache-through manager: every read goes
// through the persistent store first, falls back to the source chain on
// a miss, and serves stale data while a background refresh runs.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/cachestore"
	"github.com/aristath/marketdata/internal/domain"
	"github.com/aristath/marketdata/internal/fetch"
)

// Options tune a single GetOrFetch call.
type Options struct {
	// ForceRefresh bypasses the cached copy and always runs the chain.
	ForceRefresh bool

	// SourceOverride names a single adapter to use instead of the
	// configured chain.
	SourceOverride string

	// Params are passed through to the provider (date ranges, limits).
	Params map[string]string
}

// Manager coordinates the store, the TTL policy, the source chain and
// the background refresh pool.
type Manager struct {
	store    *cachestore.Store
	ttl      *cachestore.TTLPolicy
	resolver *fetch.Resolver
	pool     *RefreshPool
	log      zerolog.Logger
	now      func() time.Time
}

// NewManager creates a cache manager. The refresh pool is wired after
// construction because its refresh function closes over the manager.
func NewManager(store *cachestore.Store, ttl *cachestore.TTLPolicy, resolver *fetch.Resolver, log zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		ttl:      ttl,
		resolver: resolver,
		log:      log.With().Str("component", "cache_manager").Logger(),
		now:      time.Now,
	}
}

// SetRefreshPool attaches the background refresh pool. Without one,
// stale hits are still served but never refreshed in the background.
func (m *Manager) SetRefreshPool(pool *RefreshPool) {
	m.pool = pool
}

// Refresh re-runs the chain for one entry and writes the result through.
// It is the function the refresh pool executes.
func (m *Manager) Refresh(ctx context.Context, dataType domain.DataType, key string, params map[string]string) error {
	result, source, err := m.resolver.Run(ctx, fetch.Request{DataType: dataType, Key: key, Params: params})
	if err != nil {
		return err
	}
	if result.Empty {
		// The upstream now says no data exists; drop the stale copy
		// rather than serving it forever.
		return m.store.Delete(domain.CacheKey(dataType, key))
	}
	return m.writeThrough(dataType, key, result.Data, source)
}

// GetOrFetch returns the entry for (dataType, key), fetching from the
// source chain when the cache cannot serve it. Stale entries are served
// immediately with a background refresh scheduled.
func (m *Manager) GetOrFetch(ctx context.Context, dataType domain.DataType, key string, opts Options) domain.Response {
	if !dataType.Valid() {
		return domain.Failed(fmt.Errorf("unknown data type %q", dataType))
	}
	if key == "" {
		return domain.Failed(fmt.Errorf("key must not be empty"))
	}

	cacheKey := domain.CacheKey(dataType, key)
	now := m.now()

	if !opts.ForceRefresh && opts.SourceOverride == "" {
		rec, err := m.store.Read(cacheKey)
		if err != nil {
			// A broken store must not take reads down; treat as a
			// miss and let the chain answer.
			m.log.Warn().Err(err).Str("cache_key", cacheKey).Msg("Store read failed, falling through to fetch")
		} else if rec != nil {
			result := domain.NewCachedResult(dataType, key, rec.Payload, rec.Source, rec.FetchedAt, rec.TTL, true, now)
			if !result.IsStale {
				m.log.Debug().Str("cache_key", cacheKey).Msg("Fresh cache hit")
				return domain.OK(result)
			}

			m.log.Debug().
				Str("cache_key", cacheKey).
				Float64("age_seconds", result.CacheAgeSeconds).
				Msg("Stale cache hit, serving with background refresh")
			if m.pool != nil && m.resolver.HasSources(dataType) {
				m.pool.Enqueue(dataType, key, opts.Params)
			}
			return domain.OK(result)
		}
	}

	return m.fetchAndCache(ctx, dataType, key, cacheKey, opts)
}

func (m *Manager) fetchAndCache(ctx context.Context, dataType domain.DataType, key, cacheKey string, opts Options) domain.Response {
	req := fetch.Request{DataType: dataType, Key: key, Params: opts.Params}

	var (
		result fetch.Result
		source string
		err    error
	)
	if opts.SourceOverride != "" {
		result, source, err = m.runSingle(ctx, opts.SourceOverride, req)
	} else {
		if !m.resolver.HasSources(dataType) {
			// Derived types have no upstream; a miss cannot recover.
			m.log.Debug().Str("cache_key", cacheKey).Msg("Miss on derived type with no sources")
			return domain.Empty()
		}
		result, source, err = m.resolver.Run(ctx, req)
	}

	if err != nil {
		// Last resort: a stale copy beats a hard failure. This covers
		// force-refresh calls whose fetch failed.
		if rec, readErr := m.store.Read(cacheKey); readErr == nil && rec != nil {
			m.log.Warn().
				Err(err).
				Str("cache_key", cacheKey).
				Msg("Fetch failed, serving stale cached copy")
			return domain.OK(domain.NewCachedResult(dataType, key, rec.Payload, rec.Source, rec.FetchedAt, rec.TTL, true, m.now()))
		}
		m.log.Error().Err(err).Str("cache_key", cacheKey).Msg("Fetch failed with no cached fallback")
		return domain.Failed(err)
	}

	if result.Empty {
		m.log.Debug().Str("cache_key", cacheKey).Str("source", source).Msg("Source answered authoritatively empty")
		return domain.Empty()
	}

	if writeErr := m.writeThrough(dataType, key, result.Data, source); writeErr != nil {
		// The caller still gets the data; only persistence suffered.
		m.log.Warn().Err(writeErr).Str("cache_key", cacheKey).Msg("Store write failed, serving uncached result")
	}

	return domain.OK(domain.NewCachedResult(
		dataType, key, result.Data, source,
		m.now(), m.ttl.TTLFor(dataType), false, m.now(),
	))
}

func (m *Manager) runSingle(ctx context.Context, name string, req fetch.Request) (fetch.Result, string, error) {
	adapter, ok := m.resolver.Adapter(name)
	if !ok {
		return fetch.Result{}, "", fmt.Errorf("unknown source %q", name)
	}
	result, err := adapter.Fetch(ctx, req)
	if err != nil {
		return fetch.Result{}, "", fmt.Errorf("source %s: %w", name, err)
	}
	return result, name, nil
}

func (m *Manager) writeThrough(dataType domain.DataType, key string, payload json.RawMessage, source string) error {
	return m.store.Write(cachestore.Record{
		CacheKey:  domain.CacheKey(dataType, key),
		DataType:  dataType,
		Payload:   payload,
		Source:    source,
		FetchedAt: m.now(),
		TTL:       m.ttl.TTLFor(dataType),
	})
}

// Put writes an externally produced payload into the cache, used by the
// trade stream and the indicator producer. The entry gets the type's
// normal TTL and serves subsequent reads as a fresh hit.
func (m *Manager) Put(ctx context.Context, dataType domain.DataType, key string, payload json.RawMessage, source string) error {
	if !dataType.Valid() {
		return fmt.Errorf("unknown data type %q", dataType)
	}
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	return m.writeThrough(dataType, key, payload, source)
}

// Invalidate removes one entry. The next read for it is a miss.
func (m *Manager) Invalidate(dataType domain.DataType, key string) error {
	if !dataType.Valid() {
		return fmt.Errorf("unknown data type %q", dataType)
	}
	cacheKey := domain.CacheKey(dataType, key)
	if err := m.store.Delete(cacheKey); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", cacheKey, err)
	}
	m.log.Info().Str("cache_key", cacheKey).Msg("Cache entry invalidated")
	return nil
}
