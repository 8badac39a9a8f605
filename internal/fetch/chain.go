package fetch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/domain"
)

// Adapter names used in chains.
const (
	AdapterFinnhub      = "finnhub"
	AdapterYahoo        = "yahoo"
	AdapterAlphaVantage = "alphavantage"
	AdapterFRED         = "fred"
	AdapterCFTC         = "cftc"
	AdapterSEC          = "sec"
)

// DefaultChains maps each data type to its ordered fallback chain.
// Loaded once at process start; data type is the only key. The analysis
// chain is empty: analysis is computed internally from other cached data
// and never fetched from an external source.
var DefaultChains = map[domain.DataType][]string{
	domain.DataTypePrice:            {AdapterFinnhub, AdapterYahoo},
	domain.DataTypeFundamentals:     {AdapterYahoo, AdapterAlphaVantage},
	domain.DataTypeNews:             {AdapterFinnhub, AdapterAlphaVantage},
	domain.DataTypeMacro:            {AdapterFRED},
	domain.DataTypeCOT:              {AdapterCFTC},
	domain.DataTypeOwnership:        {AdapterSEC, AdapterFinnhub},
	domain.DataTypeInsider:          {AdapterFinnhub, AdapterSEC},
	domain.DataTypeAnalysis:         {},
	domain.DataTypeOptions:          {AdapterYahoo},
	domain.DataTypeEconomicCalendar: {AdapterFinnhub, AdapterFRED},
}

// Resolver walks a data type's fallback chain: each adapter is called in
// order and the first non-error answer wins. Errors along the way are
// collected, not propagated individually.
type Resolver struct {
	adapters map[string]*Adapter
	chains   map[domain.DataType][]string
	log      zerolog.Logger
}

// NewResolver builds a resolver over the given adapters using DefaultChains.
func NewResolver(adapters []*Adapter, log zerolog.Logger) *Resolver {
	return NewResolverWithChains(adapters, DefaultChains, log)
}

// NewResolverWithChains allows custom chain tables (used in tests).
func NewResolverWithChains(adapters []*Adapter, chains map[domain.DataType][]string, log zerolog.Logger) *Resolver {
	byName := make(map[string]*Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Resolver{
		adapters: byName,
		chains:   chains,
		log:      log.With().Str("component", "fallback_chain").Logger(),
	}
}

// ChainFor returns the configured adapter names for a data type.
func (r *Resolver) ChainFor(dt domain.DataType) []string {
	return r.chains[dt]
}

// HasSources reports whether a data type has any external sources. Data
// types with empty chains (analysis) are produced internally; a cache miss
// for them is unrecoverable by fetching.
func (r *Resolver) HasSources(dt domain.DataType) bool {
	return len(r.chains[dt]) > 0
}

// Adapter returns a single adapter by name, for source-override calls.
func (r *Resolver) Adapter(name string) (*Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Adapters returns all registered adapters, for stats reporting.
func (r *Resolver) Adapters() map[string]*Adapter {
	return r.adapters
}

// Run walks the chain for req.DataType. Disabled adapters are skipped
// without being tried. The first adapter to answer wins — including an
// authoritative "no data" answer. If every adapter fails or is disabled,
// the collected errors are returned as an *ExhaustedError.
func (r *Resolver) Run(ctx context.Context, req Request) (Result, string, error) {
	chain := r.chains[req.DataType]
	collected := make(map[string]error)

	for _, name := range chain {
		adapter, ok := r.adapters[name]
		if !ok {
			r.log.Error().
				Str("adapter", name).
				Str("data_type", string(req.DataType)).
				Msg("Chain references unregistered adapter")
			continue
		}

		if !adapter.Enabled() {
			r.log.Debug().
				Str("adapter", name).
				Str("data_type", string(req.DataType)).
				Msg("Adapter disabled, skipping")
			collected[name] = ErrAdapterDisabled
			continue
		}

		result, err := adapter.Fetch(ctx, req)
		if err != nil {
			collected[name] = err
			continue
		}

		r.log.Debug().
			Str("adapter", name).
			Str("data_type", string(req.DataType)).
			Str("key", req.Key).
			Bool("empty", result.Empty).
			Msg("Chain resolved")
		return result, name, nil
	}

	return Result{}, "", &ExhaustedError{DataType: req.DataType, Errors: collected}
}
