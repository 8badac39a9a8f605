package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/marketdata/internal/database"
	"github.com/aristath/marketdata/internal/fetch"
	"github.com/aristath/marketdata/internal/reliability"
)

// BackupLister reports stored cache database backups.
type BackupLister interface {
	ListBackups(ctx context.Context) ([]reliability.ObjectInfo, error)
}

// SystemHandlers serves system monitoring endpoints.
type SystemHandlers struct {
	log      zerolog.Logger
	cacheDB  *database.DB
	resolver *fetch.Resolver
	backups  BackupLister
	started  time.Time
}

// NewSystemHandlers creates system handlers. backups may be nil when no
// backup destination is configured.
func NewSystemHandlers(log zerolog.Logger, cacheDB *database.DB, resolver *fetch.Resolver, backups BackupLister) *SystemHandlers {
	return &SystemHandlers{
		log:      log.With().Str("component", "system_handlers").Logger(),
		cacheDB:  cacheDB,
		resolver: resolver,
		backups:  backups,
		started:  time.Now(),
	}
}

// HandleListBackups serves GET /api/system/backups: the stored cache
// database backups, newest first.
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "backups are not configured"})
		return
	}

	objects, err := h.backups.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to list backups"})
		return
	}

	backups := make([]map[string]interface{}, 0, len(objects))
	for _, obj := range objects {
		backups = append(backups, map[string]interface{}{
			"key":           obj.Key,
			"size_bytes":    obj.Size,
			"last_modified": obj.LastModified.UTC(),
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(backups),
		"backups": backups,
	})
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// HandleSystemHealth serves GET /api/system/health: process stats, cache
// database size and the breaker state of every adapter.
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := h.getSystemStats()

	breakers := make(map[string]interface{})
	for name, adapter := range h.resolver.Adapters() {
		breakers[name] = adapter.Breaker().Stats()
	}

	response := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"cpu_percent":    cpuPct,
		"memory_percent": memPct,
		"cache_db_bytes": h.cacheDBSize(),
		"breakers":       breakers,
	}

	h.writeJSON(w, http.StatusOK, response)
}

// getSystemStats samples CPU over a short window so the endpoint stays
// responsive, plus instantaneous memory usage.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) cacheDBSize() int64 {
	if h.cacheDB == nil {
		return 0
	}
	info, err := os.Stat(h.cacheDB.Path())
	if err != nil {
		return 0
	}
	return info.Size()
}
