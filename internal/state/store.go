package state

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/deicer-io/deicer/internal/logging"
)

// Store persists the records of one campaign.
//
// Load on a store that has never been saved returns an empty mapping.
// Save replaces the whole persisted mapping; after it returns, a crash
// leaves either the previous or the new mapping, never a mix.
type Store interface {
	Load(ctx context.Context) (Records, error)
	Save(ctx context.Context, records Records) error
	Close() error
}

// Open selects a backend from the path: ".db" and ".sqlite" files use
// SQLite, anything else is a JSON file.
func Open(path string, logger *logging.Logger) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path, logger)
	default:
		return NewFileStore(path, logger), nil
	}
}

// MemoryStore keeps records in memory. Saved mappings are deep-copied so
// callers cannot mutate what was persisted.
type MemoryStore struct {
	mu      sync.Mutex
	records Records
	saves   int

	// SaveErr, when set, is returned by Save.
	SaveErr error
}

// NewMemoryStore creates a MemoryStore seeded with records.
func NewMemoryStore(records Records) *MemoryStore {
	if records == nil {
		records = Records{}
	}
	return &MemoryStore{records: records.Clone()}
}

func (s *MemoryStore) Load(ctx context.Context) (Records, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, records Records) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.records = records.Clone()
	s.saves++
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Snapshot returns a copy of the last saved mapping.
func (s *MemoryStore) Snapshot() Records {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Clone()
}

var _ Store = (*MemoryStore)(nil)
