// Package analysis derives technical indicators from cached price
// history. Indicator entries are produced locally and written into the
// cache; they have no upstream source, so a cache miss for them is final.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/cache"
	"github.com/aristath/marketdata/internal/domain"
	"github.com/aristath/marketdata/internal/utils"
)

// SourceIndicators labels cache entries produced by this service.
const SourceIndicators = "indicators"

// Minimum closes needed for the slowest indicator (MACD 26+9).
const minCloses = 35

// Indicators is the derived payload stored under the analysis type.
type Indicators struct {
	Symbol     string    `json:"symbol"`
	RSI14      float64   `json:"rsi_14"`
	SMA20      float64   `json:"sma_20"`
	SMA50      float64   `json:"sma_50,omitempty"`
	MACD       float64   `json:"macd"`
	MACDSignal float64   `json:"macd_signal"`
	MACDHist   float64   `json:"macd_hist"`
	LastClose  float64   `json:"last_close"`
	Samples    int       `json:"samples"`
	ComputedAt time.Time `json:"computed_at"`
}

// priceHistory mirrors the closes-bearing part of the cached price payload.
type priceHistory struct {
	Closes []float64 `json:"closes"`
}

// Service computes and stores indicator payloads.
type Service struct {
	manager       *cache.Manager
	historySource string
	log           zerolog.Logger
}

// NewService creates an analysis service. historySource names the
// adapter asked for a full close series when the cached price entry is
// a bare quote; empty disables that fallback.
func NewService(manager *cache.Manager, historySource string, log zerolog.Logger) *Service {
	return &Service{
		manager:       manager,
		historySource: historySource,
		log:           log.With().Str("service", "analysis").Logger(),
	}
}

// Compute derives indicators for symbol and stores them under the
// analysis type. The cached price entry is used when it carries a close
// series; quote-shaped entries (live stream writes, quote-only sources)
// trigger an explicit history fetch from the history source.
func (s *Service) Compute(ctx context.Context, symbol string) (*Indicators, error) {
	defer utils.OperationTimer("compute_indicators", s.log)()

	closes, err := s.closes(ctx, symbol, cache.Options{})
	if err != nil {
		return nil, err
	}
	if len(closes) < minCloses && s.historySource != "" {
		closes, err = s.closes(ctx, symbol, cache.Options{SourceOverride: s.historySource})
		if err != nil {
			return nil, err
		}
	}
	if len(closes) < minCloses {
		return nil, fmt.Errorf("need at least %d closes for %s, have %d", minCloses, symbol, len(closes))
	}

	indicators := s.compute(symbol, closes)

	payload, err := json.Marshal(indicators)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal indicators: %w", err)
	}
	if err := s.manager.Put(ctx, domain.DataTypeAnalysis, symbol, payload, SourceIndicators); err != nil {
		return nil, fmt.Errorf("failed to store indicators for %s: %w", symbol, err)
	}

	s.log.Debug().
		Str("symbol", symbol).
		Float64("rsi_14", indicators.RSI14).
		Msg("Indicators computed")
	return indicators, nil
}

func (s *Service) closes(ctx context.Context, symbol string, opts cache.Options) ([]float64, error) {
	resp := s.manager.GetOrFetch(ctx, domain.DataTypePrice, symbol, opts)
	switch resp.Status {
	case domain.StatusOK:
	case domain.StatusEmpty:
		return nil, fmt.Errorf("no price data exists for %s", symbol)
	default:
		return nil, fmt.Errorf("price fetch for %s failed: %w", symbol, resp.Reason)
	}

	var history priceHistory
	if err := json.Unmarshal(resp.Result.Data, &history); err != nil {
		return nil, fmt.Errorf("failed to parse price payload for %s: %w", symbol, err)
	}
	return history.Closes, nil
}

func (s *Service) compute(symbol string, closes []float64) *Indicators {
	rsi := talib.Rsi(closes, 14)
	sma20 := talib.Sma(closes, 20)
	macd, signal, hist := talib.Macd(closes, 12, 26, 9)

	indicators := &Indicators{
		Symbol:     symbol,
		RSI14:      last(rsi),
		SMA20:      last(sma20),
		MACD:       last(macd),
		MACDSignal: last(signal),
		MACDHist:   last(hist),
		LastClose:  closes[len(closes)-1],
		Samples:    len(closes),
		ComputedAt: time.Now().UTC(),
	}
	if len(closes) >= 50 {
		indicators.SMA50 = last(talib.Sma(closes, 50))
	}
	return indicators
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
