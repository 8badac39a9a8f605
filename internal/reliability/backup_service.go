package reliability

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/utils"
)

const backupPrefix = "marketdata/cache/"

// BackupService snapshots the cache database, compresses it and uploads
// it to the object store. Old backups beyond the retention count are
// rotated out after each successful upload.
type BackupService struct {
	db        *sql.DB
	dbPath    string
	s3        *S3Client
	retention int
	log       zerolog.Logger
}

// NewBackupService creates a backup service for the database at dbPath.
func NewBackupService(db *sql.DB, dbPath string, s3 *S3Client, retention int, log zerolog.Logger) *BackupService {
	if retention <= 0 {
		retention = 7
	}
	return &BackupService{
		db:        db,
		dbPath:    dbPath,
		s3:        s3,
		retention: retention,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// Run creates and uploads one backup, then rotates old ones. Rotation
// failure is logged but does not fail the backup.
func (s *BackupService) Run(ctx context.Context) error {
	timer := utils.NewTimer("cache_backup", s.log)

	snapshotPath, err := s.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	defer os.Remove(snapshotPath)

	archivePath := snapshotPath + ".gz"
	checksum, err := s.compress(snapshotPath, archivePath)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}
	defer os.Remove(archivePath)

	key := fmt.Sprintf("%s%s.db.gz", backupPrefix, time.Now().UTC().Format("20060102-150405"))
	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.s3.Upload(ctx, key, archive); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	duration := timer.StopWithContext(map[string]interface{}{
		"key":    key,
		"sha256": checksum,
	})
	s.log.Info().
		Str("key", key).
		Str("sha256", checksum).
		Dur("duration", duration).
		Msg("Cache database backup uploaded")

	if err := s.rotate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// snapshot produces a consistent copy of the database using VACUUM INTO,
// which works while WAL writers are active.
func (s *BackupService) snapshot(ctx context.Context) (string, error) {
	snapshotPath := filepath.Join(os.TempDir(), fmt.Sprintf("cache-backup-%d.db", time.Now().UnixNano()))

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", snapshotPath); err != nil {
		return "", fmt.Errorf("VACUUM INTO failed: %w", err)
	}
	return snapshotPath, nil
}

// compress gzips src into dst and returns the sha256 of the archive.
func (s *BackupService) compress(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	hash := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(out, hash))
	if _, err := io.Copy(gz, in); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// rotate deletes backups beyond the retention count, oldest first.
func (s *BackupService) rotate(ctx context.Context) error {
	objects, err := s.s3.List(ctx, backupPrefix)
	if err != nil {
		return err
	}
	if len(objects) <= s.retention {
		return nil
	}

	// List returns newest first; everything past retention goes
	for _, obj := range objects[s.retention:] {
		if err := s.s3.Delete(ctx, obj.Key); err != nil {
			return err
		}
		s.log.Debug().Str("key", obj.Key).Msg("Rotated out old backup")
	}
	return nil
}

// ListBackups returns the stored backups, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]ObjectInfo, error) {
	return s.s3.List(ctx, backupPrefix)
}
