package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/marketdata/internal/cache"
	"github.com/aristath/marketdata/internal/domain"
)

// handleHealth handles liveness checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "marketdata",
	})
}

// handleGetData serves GET /api/data/{type}/{key}.
// Query parameters: force=true bypasses the cache, source=<name> pins a
// single adapter, plus pass-through provider params (from, to, range).
func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	dataType, err := domain.ParseDataType(chi.URLParam(r, "type"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := chi.URLParam(r, "key")

	opts := cache.Options{
		SourceOverride: r.URL.Query().Get("source"),
	}
	if force, _ := strconv.ParseBool(r.URL.Query().Get("force")); force {
		opts.ForceRefresh = true
	}
	opts.Params = passthroughParams(r)

	resp := s.manager.GetOrFetch(r.Context(), dataType, key, opts)
	switch resp.Status {
	case domain.StatusOK:
		s.writeJSON(w, http.StatusOK, resp.Result)
	case domain.StatusEmpty:
		s.writeError(w, http.StatusNotFound, "no data exists for this key")
	default:
		s.writeError(w, http.StatusBadGateway, resp.Reason.Error())
	}
}

// passthroughParams collects provider-level query parameters.
func passthroughParams(r *http.Request) map[string]string {
	params := make(map[string]string)
	for _, name := range []string{"from", "to", "range", "interval", "limit"} {
		if v := r.URL.Query().Get(name); v != "" {
			params[name] = v
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// handleInvalidate serves DELETE /api/data/{type}/{key}.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	dataType, err := domain.ParseDataType(chi.URLParam(r, "type"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := chi.URLParam(r, "key")

	if err := s.manager.Invalidate(dataType, key); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "invalidated",
		"cache_key": domain.CacheKey(dataType, key),
	})
}

// handleCacheStats serves GET /api/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleSources serves GET /api/sources: each adapter with its enabled
// flag and breaker state, plus the chain per data type.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	adapters := make(map[string]interface{})
	for name, adapter := range s.resolver.Adapters() {
		adapters[name] = map[string]interface{}{
			"enabled": adapter.Enabled(),
			"breaker": adapter.Breaker().Stats(),
		}
	}

	chains := make(map[string][]string)
	for _, dt := range domain.AllDataTypes {
		chains[dt.String()] = s.resolver.ChainFor(dt)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"adapters": adapters,
		"chains":   chains,
	})
}

// handleComputeAnalysis serves POST /api/analysis/{symbol}.
func (s *Server) handleComputeAnalysis(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	indicators, err := s.analysis.Compute(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, indicators)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
