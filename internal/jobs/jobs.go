package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/cache"
	"github.com/aristath/marketdata/internal/domain"
	"github.com/aristath/marketdata/internal/reliability"
)

// MaintenanceJob keeps the cache database healthy: integrity check with
// recovery, then a WAL checkpoint so the log cannot grow unbounded.
type MaintenanceJob struct {
	health *reliability.DatabaseHealthService
	log    zerolog.Logger
}

// NewMaintenanceJob creates a maintenance job.
func NewMaintenanceJob(health *reliability.DatabaseHealthService, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		health: health,
		log:    log.With().Str("job", "db_maintenance").Logger(),
	}
}

// Name returns the job name.
func (j *MaintenanceJob) Name() string { return "db_maintenance" }

// Run executes the maintenance job.
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := j.health.CheckAndRecover(ctx); err != nil {
		return err
	}
	return j.health.Checkpoint(ctx)
}

// BackupJob uploads a cache database backup to the object store.
type BackupJob struct {
	backup *reliability.BackupService
	log    zerolog.Logger
}

// NewBackupJob creates a backup job.
func NewBackupJob(backup *reliability.BackupService, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backup: backup,
		log:    log.With().Str("job", "cache_backup").Logger(),
	}
}

// Name returns the job name.
func (j *BackupJob) Name() string { return "cache_backup" }

// Run executes the backup job.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return j.backup.Run(ctx)
}

// WarmupJob pre-fetches price and fundamentals for tracked symbols so
// interactive reads start from a warm cache.
type WarmupJob struct {
	manager *cache.Manager
	symbols []string
	log     zerolog.Logger
}

// NewWarmupJob creates a warmup job for the given symbols.
func NewWarmupJob(manager *cache.Manager, symbols []string, log zerolog.Logger) *WarmupJob {
	return &WarmupJob{
		manager: manager,
		symbols: symbols,
		log:     log.With().Str("job", "cache_warmup").Logger(),
	}
}

// Name returns the job name.
func (j *WarmupJob) Name() string { return "cache_warmup" }

// Run executes the warmup job. Individual symbol failures are logged
// and skipped; the warmup is best effort.
func (j *WarmupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	warmed := 0
	for _, symbol := range j.symbols {
		for _, dt := range []domain.DataType{domain.DataTypePrice, domain.DataTypeFundamentals} {
			resp := j.manager.GetOrFetch(ctx, dt, symbol, cache.Options{})
			if resp.Status == domain.StatusFailed {
				j.log.Warn().
					Err(resp.Reason).
					Str("symbol", symbol).
					Str("data_type", dt.String()).
					Msg("Warmup fetch failed")
				continue
			}
			warmed++
		}
	}

	j.log.Info().Int("entries", warmed).Int("symbols", len(j.symbols)).Msg("Cache warmup finished")
	return nil
}
