/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application
 * dependencies. The Container is the single source of truth for all
 * service instances and is passed to the server for access to services.
 */
package di

import (
	"github.com/aristath/marketdata/internal/analysis"
	"github.com/aristath/marketdata/internal/cache"
	"github.com/aristath/marketdata/internal/cachestore"
	"github.com/aristath/marketdata/internal/clients/finnhub"
	"github.com/aristath/marketdata/internal/database"
	"github.com/aristath/marketdata/internal/fetch"
	"github.com/aristath/marketdata/internal/jobs"
	"github.com/aristath/marketdata/internal/reliability"
)

/**
 * Container holds all dependencies for the application.
 *
 * Wiring order matters: the database comes first, then the store and
 * TTL policy, then the source adapters and resolver, then the cache
 * manager with its refresh pool, and finally the services and jobs
 * that build on the manager.
 */
type Container struct {
	// Database
	CacheDB *database.DB // Persistent cache entries, WAL mode

	// Cache layer
	Store       *cachestore.Store
	TTLPolicy   *cachestore.TTLPolicy
	Resolver    *fetch.Resolver
	Manager     *cache.Manager
	RefreshPool *cache.RefreshPool

	// Services
	AnalysisService *analysis.Service
	HealthService   *reliability.DatabaseHealthService
	BackupService   *reliability.BackupService // nil when backup is disabled
	Stream          *finnhub.Stream            // nil when streaming is disabled

	// Scheduled jobs
	Scheduler *jobs.Scheduler
}

// Close releases all resources in reverse wiring order.
func (c *Container) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Stream != nil {
		c.Stream.Stop()
	}
	if c.RefreshPool != nil {
		c.RefreshPool.Stop()
	}
	if c.CacheDB != nil {
		c.CacheDB.Close()
	}
}
