package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/deicer-io/deicer/internal/logging"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS vaults (
	vault   TEXT PRIMARY KEY,
	status  TEXT NOT NULL,
	record  TEXT NOT NULL
)`

// SQLiteStore persists records in a SQLite database, one row per vault.
type SQLiteStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// OpenSQLite opens (or creates) the database at path. Pass ":memory:" for an
// in-memory database.
func OpenSQLite(path string, logger *logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.Global()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("state: creating directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: pinging database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and avoids
	// "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: creating schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Load reads every row. Rows that cannot be decoded make the whole mapping
// malformed; this is logged and an empty mapping is returned.
func (s *SQLiteStore) Load(ctx context.Context) (Records, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT vault, status, record FROM vaults")
	if err != nil {
		return nil, fmt.Errorf("state: query: %w", err)
	}
	defer rows.Close()

	records := Records{}
	var malformed error
	for rows.Next() {
		var vault, status, raw string
		if err := rows.Scan(&vault, &status, &raw); err != nil {
			return nil, fmt.Errorf("state: scan: %w", err)
		}
		if malformed != nil {
			continue
		}
		rec, err := decodeRow(status, raw)
		if err != nil {
			malformed = fmt.Errorf("vault %q: %w", vault, err)
			continue
		}
		records[vault] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: rows: %w", err)
	}

	if malformed != nil {
		s.logger.Warnf("state database is malformed, starting from empty state", map[string]any{
			"error": malformed,
		})
		return Records{}, nil
	}
	return records, nil
}

func decodeRow(status, raw string) (*VaultRecord, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	var rec VaultRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rec.Status != st {
		return nil, fmt.Errorf("%w: status column %s disagrees with record %s", ErrMalformed, st, rec.Status)
	}
	if rec.Archives == nil {
		rec.Archives = []ArchiveRef{}
	}
	return &rec, nil
}

// Save replaces all rows in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, records Records) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM vaults"); err != nil {
		return fmt.Errorf("state: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO vaults (vault, status, record) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("state: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range records.IDs() {
		rec := records[id]
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("state: encode %q: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, id, string(rec.Status), string(raw)); err != nil {
			return fmt.Errorf("state: insert %q: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
