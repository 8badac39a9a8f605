package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketdata/internal/reliability"
)

// stubBackupLister is a scriptable backup store listing.
type stubBackupLister struct {
	objects []reliability.ObjectInfo
	err     error
}

func (s *stubBackupLister) ListBackups(ctx context.Context) ([]reliability.ObjectInfo, error) {
	return s.objects, s.err
}

func backupFixture(backups BackupLister) *Server {
	return New(Config{
		Log:     zerolog.Nop(),
		DevMode: true,
		Backups: backups,
	})
}

func TestListBackups(t *testing.T) {
	lister := &stubBackupLister{objects: []reliability.ObjectInfo{
		{Key: "marketdata/cache/20260830-020000.db.gz", Size: 2048, LastModified: time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC)},
		{Key: "marketdata/cache/20260829-020000.db.gz", Size: 1024, LastModified: time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)},
	}}
	srv := backupFixture(lister)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/backups", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int `json:"count"`
		Backups []struct {
			Key       string `json:"key"`
			SizeBytes int64  `json:"size_bytes"`
		} `json:"backups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "marketdata/cache/20260830-020000.db.gz", body.Backups[0].Key)
	assert.Equal(t, int64(2048), body.Backups[0].SizeBytes)
}

func TestListBackupsNotConfigured(t *testing.T) {
	srv := backupFixture(nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/backups", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBackupsStoreFailure(t *testing.T) {
	srv := backupFixture(&stubBackupLister{err: errors.New("bucket unreachable")})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/backups", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
