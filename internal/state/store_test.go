package state

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deicer-io/deicer/internal/logging"
)

func sampleRecords() Records {
	updated := time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)
	return Records{
		"archive-vault-1": {
			JobID:      strPtr("job-abc"),
			Status:     StatusComplete,
			JobUpdated: &updated,
			Archives: []ArchiveRef{
				{ID: "arch-1", Description: "photos 2014", Size: 1024},
				{ID: "arch-2", Description: "", Size: 2048},
			},
		},
		"archive-vault-2": NewRecord(),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path, logging.Discard())

	want := sampleRecords()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"), logging.Discard())
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStoreMalformedFileIsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"archive-vault-1": {"job_id": "job-abc", "status": "COMP`},
		{"unknown status", `{"v1": {"job_id": null, "status": "DONE", "job_updated": null, "archives": []}}`},
		{"null record", `{"v1": null}`},
		{"not an object", `[1, 2, 3]`},
		{"null document", `null`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))

			var logs bytes.Buffer
			logger := logging.New(logging.Config{Level: logging.LevelWarn, Output: &logs})
			got, err := NewFileStore(path, logger).Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, got)
			assert.Contains(t, logs.String(), "malformed")
		})
	}
}

func TestFileStoreTruncatedFileThenRescan(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path, logging.Discard())

	require.NoError(t, store.Save(ctx, sampleRecords()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o600))

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, records)

	records.Register("archive-vault-1")
	require.NoError(t, store.Save(ctx, records))

	reloaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusNotStarted, reloaded["archive-vault-1"].Status)
}

func TestFileStoreWireFormat(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path, logging.Discard())

	rs := Records{}
	rs.Register("v1")
	require.NoError(t, store.Save(ctx, rs))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{`"job_id": null`, `"status": "NOT_STARTED"`, `"job_updated": null`, `"archives": []`} {
		assert.Contains(t, string(data), key)
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "state.json"), logging.Discard())
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(context.Background(), sampleRecords()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
	assert.Len(t, entries, 1)
}

func TestFileStoreUnreadablePathFails(t *testing.T) {
	dir := t.TempDir()
	// A directory at the state path cannot be read as a file.
	_, err := NewFileStore(dir, logging.Discard()).Load(context.Background())
	assert.Error(t, err)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(":memory:", logging.Discard())
	require.NoError(t, err)
	defer store.Close()

	want := sampleRecords()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Save replaces the whole mapping.
	delete(want, "archive-vault-2")
	require.NoError(t, store.Save(ctx, want))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStoreMalformedRow(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := OpenSQLite(path, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sampleRecords()))
	require.NoError(t, store.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE vaults SET record = '{"status": "COMP' WHERE vault = 'archive-vault-1'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err = OpenSQLite(path, logging.Discard())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(filepath.Join(dir, "campaign.json"), logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(filepath.Join(dir, "campaign.db"), logging.Discard())
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	rs := Records{}
	rs.Register("v1")
	require.NoError(t, store.Save(ctx, rs))

	rs["v1"].Status = StatusError
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusNotStarted, loaded["v1"].Status)
	assert.Equal(t, 1, store.Saves())
}
