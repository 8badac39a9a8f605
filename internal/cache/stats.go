package cache

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/marketdata/internal/cachestore"
)

// AgeQuantiles summarizes the age distribution of all cache entries.
type AgeQuantiles struct {
	P50 float64 `json:"p50_seconds"`
	P90 float64 `json:"p90_seconds"`
	P99 float64 `json:"p99_seconds"`
	Max float64 `json:"max_seconds"`
}

// Stats is the cache-wide statistics snapshot.
type Stats struct {
	TotalEntries int64                 `json:"total_entries"`
	FreshEntries int64                 `json:"fresh_entries"`
	StaleEntries int64                 `json:"stale_entries"`
	ByType       []cachestore.TypeStat `json:"by_type"`
	Ages         *AgeQuantiles         `json:"age_quantiles,omitempty"`
}

// Stats returns per-type entry counts plus age quantiles over every
// stored entry.
func (m *Manager) Stats() (Stats, error) {
	now := m.now()

	byType, err := m.store.StatsByType(now)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to collect type stats: %w", err)
	}

	stats := Stats{ByType: byType}
	for _, ts := range byType {
		stats.TotalEntries += ts.Total
		stats.FreshEntries += ts.Fresh
		stats.StaleEntries += ts.Stale
	}

	ages, err := m.store.EntryAges(now)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to collect entry ages: %w", err)
	}
	if len(ages) > 0 {
		sort.Float64s(ages)
		stats.Ages = &AgeQuantiles{
			P50: stat.Quantile(0.50, stat.Empirical, ages, nil),
			P90: stat.Quantile(0.90, stat.Empirical, ages, nil),
			P99: stat.Quantile(0.99, stat.Empirical, ages, nil),
			Max: ages[len(ages)-1],
		}
	}

	return stats, nil
}
