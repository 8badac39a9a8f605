package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceNone is the Source value for results not produced by any adapter.
const SourceNone = "none"

// CachedResult is the immutable envelope returned for every cache operation.
// It is created fresh on every successful lookup or fetch and never mutated.
type CachedResult struct {
	Data            json.RawMessage `json:"data"`
	DataType        DataType        `json:"data_type"`
	CacheKey        string          `json:"cache_key"`
	Source          string          `json:"source"`
	IsCached        bool            `json:"is_cached"`
	IsStale         bool            `json:"is_stale"`
	FetchedAt       time.Time       `json:"fetched_at"`
	CacheAgeSeconds float64         `json:"cache_age_seconds"`
	CacheAgeHuman   string          `json:"cache_age_human"`
	TTLSeconds      int64           `json:"ttl_seconds"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// NewCachedResult builds the envelope, deriving staleness and expiry from
// fetchedAt, ttl and now. Invariants held by construction:
// IsStale == (CacheAgeSeconds > TTLSeconds) and ExpiresAt == FetchedAt + ttl.
func NewCachedResult(dt DataType, key string, data json.RawMessage, source string, fetchedAt time.Time, ttl time.Duration, cached bool, now time.Time) CachedResult {
	if source == "" {
		source = SourceNone
	}
	age := now.Sub(fetchedAt)
	if age < 0 {
		age = 0
	}
	ttlSeconds := int64(ttl / time.Second)
	return CachedResult{
		Data:            data,
		DataType:        dt,
		CacheKey:        CacheKey(dt, key),
		Source:          source,
		IsCached:        cached,
		IsStale:         age.Seconds() > float64(ttlSeconds),
		FetchedAt:       fetchedAt,
		CacheAgeSeconds: age.Seconds(),
		CacheAgeHuman:   humanAge(age),
		TTLSeconds:      ttlSeconds,
		ExpiresAt:       fetchedAt.Add(ttl),
	}
}

// humanAge renders a duration in the coarsest sensible unit.
func humanAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%.1fh", age.Hours())
	default:
		return fmt.Sprintf("%.1fd", age.Hours()/24)
	}
}

// Status classifies the outcome of a cache lookup so callers can tell
// "upstream confirmed no data" apart from "all sources failed".
type Status string

const (
	// StatusOK means Result carries data (cached or freshly fetched).
	StatusOK Status = "ok"
	// StatusEmpty means there is legitimately no data: a cache miss on a
	// data type with no external sources, or an upstream that confirmed
	// the absence of data.
	StatusEmpty Status = "empty"
	// StatusFailed means every source was exhausted or unavailable.
	// Reason carries the collected failure context.
	StatusFailed Status = "failed"
)

// Response is the tri-state result of GetOrFetch.
type Response struct {
	Status Status        `json:"status"`
	Result *CachedResult `json:"result,omitempty"`
	Reason error         `json:"-"`
}

// OK builds a success response.
func OK(result CachedResult) Response {
	return Response{Status: StatusOK, Result: &result}
}

// Empty builds a "no data exists" response.
func Empty() Response {
	return Response{Status: StatusEmpty}
}

// Failed builds a failure response carrying its reason.
func Failed(reason error) Response {
	return Response{Status: StatusFailed, Reason: reason}
}
