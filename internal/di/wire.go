// Package di provides dependency injection wiring and initialization.
package di

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/analysis"
	"github.com/aristath/marketdata/internal/cache"
	"github.com/aristath/marketdata/internal/cachestore"
	"github.com/aristath/marketdata/internal/clients/alphavantage"
	"github.com/aristath/marketdata/internal/clients/cftc"
	"github.com/aristath/marketdata/internal/clients/finnhub"
	"github.com/aristath/marketdata/internal/clients/fred"
	"github.com/aristath/marketdata/internal/clients/sec"
	"github.com/aristath/marketdata/internal/clients/yahoo"
	"github.com/aristath/marketdata/internal/config"
	"github.com/aristath/marketdata/internal/database"
	"github.com/aristath/marketdata/internal/domain"
	"github.com/aristath/marketdata/internal/fetch"
	"github.com/aristath/marketdata/internal/jobs"
	"github.com/aristath/marketdata/internal/reliability"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize the cache database and apply the schema
// 2. Build the source adapters and the fallback chain resolver
// 3. Build the cache manager with its refresh pool
// 4. Build services (analysis, health, backup, stream)
// 5. Register scheduled jobs
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
		Schema:  cachestore.Schema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	if err := cacheDB.Migrate(); err != nil {
		cacheDB.Close()
		return nil, fmt.Errorf("failed to apply cache schema: %w", err)
	}
	container.CacheDB = cacheDB

	container.Store = cachestore.NewStore(cacheDB.Conn())
	container.TTLPolicy = cachestore.NewTTLPolicy(ttlOverrides(cfg.TTL))

	providers := []fetch.Provider{
		finnhub.NewClient(cfg.FinnhubAPIKey, log),
		yahoo.NewClient(log),
		alphavantage.NewClient(cfg.AlphaVantageAPIKey, log),
		fred.NewClient(cfg.FREDAPIKey, log),
		cftc.NewClient(log),
		sec.NewClient(cfg.SECUserAgent, log),
	}
	adapters := make([]*fetch.Adapter, 0, len(providers))
	for _, p := range providers {
		adapters = append(adapters, fetch.NewAdapter(p, cfg.Resilience, log))
	}
	container.Resolver = fetch.NewResolver(adapters, log)

	container.Manager = cache.NewManager(container.Store, container.TTLPolicy, container.Resolver, log)
	container.RefreshPool = cache.NewRefreshPool(
		cfg.Refresh.MaxTasks,
		cfg.Refresh.TaskTimeout,
		container.Manager.Refresh,
		log,
	)
	container.Manager.SetRefreshPool(container.RefreshPool)

	// Yahoo is the only chain source returning a full close series, so
	// indicator computation pulls history from it when the cached price
	// entry is a bare quote.
	container.AnalysisService = analysis.NewService(container.Manager, fetch.AdapterYahoo, log)
	container.HealthService = reliability.NewDatabaseHealthService(cacheDB, log)

	if cfg.Backup != nil {
		s3Client, err := reliability.NewS3Client(*cfg.Backup, log)
		if err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to initialize backup client: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			cacheDB.Conn(),
			cacheDB.Path(),
			s3Client,
			cfg.Backup.Retention,
			log,
		)
	}

	if cfg.Stream.Enabled && cfg.FinnhubAPIKey != "" && len(cfg.Stream.Symbols) > 0 {
		container.Stream = finnhub.NewStream(cfg.FinnhubAPIKey, cfg.Stream.Symbols, container.Manager, log)
	}

	if err := registerJobs(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	return container, nil
}

// registerJobs schedules cleanup, maintenance, backup and warmup.
func registerJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	scheduler := jobs.NewScheduler(log)

	if err := scheduler.Register("@hourly", cachestore.NewCleanupJob(container.Store, log)); err != nil {
		return err
	}
	if err := scheduler.Register("0 2 * * *", jobs.NewMaintenanceJob(container.HealthService, log)); err != nil {
		return err
	}
	if container.BackupService != nil {
		if err := scheduler.Register("30 2 * * *", jobs.NewBackupJob(container.BackupService, log)); err != nil {
			return err
		}
	}
	if len(cfg.Stream.Symbols) > 0 {
		// Warm the same symbols the stream tracks before markets open
		if err := scheduler.Register("0 8 * * 1-5", jobs.NewWarmupJob(container.Manager, cfg.Stream.Symbols, log)); err != nil {
			return err
		}
	}

	container.Scheduler = scheduler
	return nil
}

// ttlOverrides converts configured per-type seconds into durations,
// dropping zeroes so defaults apply.
func ttlOverrides(t config.TTLOverrides) map[domain.DataType]time.Duration {
	seconds := map[domain.DataType]int{
		domain.DataTypePrice:            t.PriceSeconds,
		domain.DataTypeFundamentals:     t.FundamentalsSeconds,
		domain.DataTypeNews:             t.NewsSeconds,
		domain.DataTypeMacro:            t.MacroSeconds,
		domain.DataTypeCOT:              t.COTSeconds,
		domain.DataTypeOwnership:        t.OwnershipSeconds,
		domain.DataTypeInsider:          t.InsiderSeconds,
		domain.DataTypeAnalysis:         t.AnalysisSeconds,
		domain.DataTypeOptions:          t.OptionsSeconds,
		domain.DataTypeEconomicCalendar: t.EconomicCalendarSeconds,
	}

	overrides := make(map[domain.DataType]time.Duration)
	for dt, s := range seconds {
		if s > 0 {
			overrides[dt] = time.Duration(s) * time.Second
		}
	}
	return overrides
}
