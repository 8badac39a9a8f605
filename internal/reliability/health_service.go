package reliability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/database"
)

// DatabaseHealthService checks cache database integrity and attempts
// recovery when corruption is detected. The cache is rebuildable from
// upstream, so recovery may be lossy: a corrupt database is better
// repaired with dropped rows than left unusable.
type DatabaseHealthService struct {
	db  *database.DB
	log zerolog.Logger
}

// NewDatabaseHealthService creates a health service.
func NewDatabaseHealthService(db *database.DB, log zerolog.Logger) *DatabaseHealthService {
	return &DatabaseHealthService{
		db:  db,
		log: log.With().Str("service", "db_health").Logger(),
	}
}

// CheckAndRecover runs a quick integrity check and, on failure, tries
// to repair the database in place.
func (s *DatabaseHealthService) CheckAndRecover(ctx context.Context) error {
	if err := s.db.QuickCheck(ctx); err == nil {
		return nil
	}

	s.log.Warn().Msg("Quick check failed, running full integrity check")
	if err := s.db.HealthCheck(ctx); err == nil {
		return nil
	}

	s.log.Error().Msg("Integrity check failed, attempting recovery")
	for _, stmt := range []string{"REINDEX", "VACUUM"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.log.Warn().Err(err).Str("statement", stmt).Msg("Recovery statement failed")
		}
	}

	if err := s.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database unrecoverable: %w", err)
	}

	s.log.Info().Msg("Database recovered")
	return nil
}

// Checkpoint truncates the WAL so it cannot grow without bound.
func (s *DatabaseHealthService) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}
	return nil
}
