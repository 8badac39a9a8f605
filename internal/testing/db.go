// Package testing provides test helpers for the marketdata project.
package testing

import (
	"os"
	"testing"

	"github.com/aristath/marketdata/internal/cachestore"
	"github.com/aristath/marketdata/internal/database"
	_ "modernc.org/sqlite"
)

// NewCacheDB creates a file-backed cache database for a test, with the
// cache schema applied. Returns the database and a cleanup function that
// closes the connection and removes the file. The cleanup function is
// safe to call more than once.
func NewCacheDB(t *testing.T) (*database.DB, func()) {
	t.Helper()

	// Each test gets its own temporary file so tests stay isolated.
	tmpFile, err := os.CreateTemp("", "test_cache_*.db")
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileCache,
		Name:    "cache",
		Schema:  cachestore.Schema,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database: %v", err)
		}
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			t.Logf("Warning: Failed to remove temporary database file %s: %v", tmpPath, err)
		}
	}
}
