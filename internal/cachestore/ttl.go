package cachestore

import (
	"time"

	"github.com/aristath/marketdata/internal/domain"
)

// Default TTLs for each data type. These are added to the fetch time when
// storing to calculate expires_at.
const (
	// Short-lived data (changes frequently)
	TTLPrice    = 15 * time.Minute // Quotes go stale fast during market hours
	TTLNews     = 30 * time.Minute
	TTLOptions  = 30 * time.Minute // Options chains move with the underlying
	TTLAnalysis = time.Hour        // Derived from cached prices, cheap to recompute

	// Daily data (time-sensitive signals)
	TTLInsider      = 24 * time.Hour // Insider transactions (time-sensitive signal)
	TTLFundamentals = 24 * time.Hour // Financial statements update with filings

	// Slow-moving series
	TTLMacro            = 12 * time.Hour // Macro series update on release schedules
	TTLEconomicCalendar = 12 * time.Hour

	// Weekly-ish data
	TTLCOT       = 7 * 24 * time.Hour // CFTC publishes COT reports weekly
	TTLOwnership = 7 * 24 * time.Hour // 13F-style ownership changes slowly
)

// defaultTTLs maps each data type to its built-in freshness duration.
var defaultTTLs = map[domain.DataType]time.Duration{
	domain.DataTypePrice:            TTLPrice,
	domain.DataTypeFundamentals:     TTLFundamentals,
	domain.DataTypeNews:             TTLNews,
	domain.DataTypeMacro:            TTLMacro,
	domain.DataTypeCOT:              TTLCOT,
	domain.DataTypeOwnership:        TTLOwnership,
	domain.DataTypeInsider:          TTLInsider,
	domain.DataTypeAnalysis:         TTLAnalysis,
	domain.DataTypeOptions:          TTLOptions,
	domain.DataTypeEconomicCalendar: TTLEconomicCalendar,
}

// TTLPolicy maps each data type to its freshness duration. Immutable after
// construction; data type is the only key.
type TTLPolicy struct {
	ttls map[domain.DataType]time.Duration
}

// NewTTLPolicy builds the policy from the defaults plus any overrides.
// An override of zero (or a negative value) keeps the default.
func NewTTLPolicy(overrides map[domain.DataType]time.Duration) *TTLPolicy {
	ttls := make(map[domain.DataType]time.Duration, len(defaultTTLs))
	for dt, ttl := range defaultTTLs {
		ttls[dt] = ttl
	}
	for dt, ttl := range overrides {
		if ttl > 0 && dt.Valid() {
			ttls[dt] = ttl
		}
	}
	return &TTLPolicy{ttls: ttls}
}

// TTLFor returns the freshness duration for a data type.
func (p *TTLPolicy) TTLFor(dt domain.DataType) time.Duration {
	return p.ttls[dt]
}
