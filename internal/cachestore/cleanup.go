package cachestore

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/utils"
)

// CleanupJob removes expired entries from the cache database.
// It should be scheduled to run daily.
type CleanupJob struct {
	store *Store
	log   zerolog.Logger
}

// NewCleanupJob creates a new cache cleanup job.
func NewCleanupJob(store *Store, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		store: store,
		log:   log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Run executes the cleanup job, removing all expired entries.
func (j *CleanupJob) Run() error {
	measure := utils.MeasureDBQuery("delete_expired_cache_entries", j.log)
	deleted, err := j.store.DeleteExpired(time.Now())
	measure(deleted)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired cache entries")
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Msg("Cleaned up expired cache entries")
	}

	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "cache_cleanup"
}
