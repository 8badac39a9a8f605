// Package cachestore provides the persistent cache for upstream provider
// responses. Payloads are stored as opaque JSON blobs together with their
// freshness metadata; the timestamp, TTL and payload are written atomically
// as one row so concurrent readers never observe torn freshness state.
package cachestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/marketdata/internal/domain"
)

// Schema is the cache database schema, applied by database.Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    cache_key   TEXT PRIMARY KEY,
    data_type   TEXT NOT NULL,
    payload     TEXT NOT NULL,
    source      TEXT NOT NULL,
    fetched_at  INTEGER NOT NULL,
    ttl_seconds INTEGER NOT NULL,
    expires_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_type ON cache_entries(data_type);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
`

// Record is one stored cache entry.
type Record struct {
	CacheKey  string
	DataType  domain.DataType
	Payload   json.RawMessage
	Source    string
	FetchedAt time.Time
	TTL       time.Duration
}

// Store provides cache operations backed by SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a new cache store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Write upserts an entry. The payload and its freshness metadata land in a
// single INSERT OR REPLACE so the row is always internally consistent.
func (s *Store) Write(rec Record) error {
	if rec.CacheKey == "" {
		return fmt.Errorf("cache key must not be empty")
	}
	if !rec.DataType.Valid() {
		return fmt.Errorf("invalid data type: %s", rec.DataType)
	}

	expiresAt := rec.FetchedAt.Add(rec.TTL).Unix()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cache_entries
		 (cache_key, data_type, payload, source, fetched_at, ttl_seconds, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.CacheKey,
		string(rec.DataType),
		string(rec.Payload),
		rec.Source,
		rec.FetchedAt.Unix(),
		int64(rec.TTL/time.Second),
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry %s: %w", rec.CacheKey, err)
	}

	return nil
}

// Read returns the entry for a key regardless of expiration status — the
// cache manager decides what to do with stale data. Returns nil, nil when
// the key doesn't exist.
func (s *Store) Read(key string) (*Record, error) {
	var (
		dataType   string
		payload    string
		source     string
		fetchedAt  int64
		ttlSeconds int64
	)

	err := s.db.QueryRow(
		`SELECT data_type, payload, source, fetched_at, ttl_seconds
		 FROM cache_entries WHERE cache_key = ?`,
		key,
	).Scan(&dataType, &payload, &source, &fetchedAt, &ttlSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	return &Record{
		CacheKey:  key,
		DataType:  domain.DataType(dataType),
		Payload:   json.RawMessage(payload),
		Source:    source,
		FetchedAt: time.Unix(fetchedAt, 0).UTC(),
		TTL:       time.Duration(ttlSeconds) * time.Second,
	}, nil
}

// Delete removes a specific entry.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE cache_key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

// DeleteExpired removes all rows whose expires_at is before now.
// Returns the number of rows deleted.
func (s *Store) DeleteExpired(now time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM cache_entries WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}

// TypeStat is the per-data-type freshness summary used by the stats report.
type TypeStat struct {
	DataType domain.DataType `json:"data_type"`
	Total    int64           `json:"total"`
	Fresh    int64           `json:"fresh"`
	Stale    int64           `json:"stale"`
	Oldest   time.Time       `json:"oldest"`
	Newest   time.Time       `json:"newest"`
}

// StatsByType aggregates entry counts and fetch-time bounds per data type.
// Pure query, no mutation.
func (s *Store) StatsByType(now time.Time) ([]TypeStat, error) {
	rows, err := s.db.Query(
		`SELECT data_type,
		        COUNT(*),
		        SUM(CASE WHEN expires_at >= ? THEN 1 ELSE 0 END),
		        MIN(fetched_at),
		        MAX(fetched_at)
		 FROM cache_entries
		 GROUP BY data_type
		 ORDER BY data_type`,
		now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache stats: %w", err)
	}
	defer rows.Close()

	var stats []TypeStat
	for rows.Next() {
		var (
			dataType string
			total    int64
			fresh    int64
			oldest   int64
			newest   int64
		)
		if err := rows.Scan(&dataType, &total, &fresh, &oldest, &newest); err != nil {
			return nil, fmt.Errorf("failed to scan cache stats row: %w", err)
		}
		stats = append(stats, TypeStat{
			DataType: domain.DataType(dataType),
			Total:    total,
			Fresh:    fresh,
			Stale:    total - fresh,
			Oldest:   time.Unix(oldest, 0).UTC(),
			Newest:   time.Unix(newest, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cache stats rows: %w", err)
	}

	return stats, nil
}

// EntryAges returns the age in seconds of every cached entry.
// Used for the age-distribution part of the freshness report.
func (s *Store) EntryAges(now time.Time) ([]float64, error) {
	rows, err := s.db.Query(`SELECT fetched_at FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry ages: %w", err)
	}
	defer rows.Close()

	var ages []float64
	for rows.Next() {
		var fetchedAt int64
		if err := rows.Scan(&fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry age: %w", err)
		}
		age := now.Sub(time.Unix(fetchedAt, 0)).Seconds()
		if age < 0 {
			age = 0
		}
		ages = append(ages, age)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entry ages: %w", err)
	}

	return ages, nil
}
