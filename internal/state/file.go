package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/deicer-io/deicer/internal/logging"
)

// FileStore persists records as a single JSON object.
type FileStore struct {
	path   string
	logger *logging.Logger
}

// NewFileStore creates a store backed by the file at path. The file is
// created on the first Save.
func NewFileStore(path string, logger *logging.Logger) *FileStore {
	if logger == nil {
		logger = logging.Global()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Load reads the file. A missing file yields an empty mapping. A file that
// cannot be decoded is logged and treated as empty so the next scan can
// rebuild the campaign.
func (s *FileStore) Load(ctx context.Context) (Records, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Records{}, nil
		}
		return nil, fmt.Errorf("state: read %s: %w", s.path, err)
	}

	records, err := decodeRecords(data)
	if err != nil {
		s.logger.Warnf("state file is malformed, starting from empty state", map[string]any{
			"path":  s.path,
			"error": err,
		})
		return Records{}, nil
	}
	return records, nil
}

func decodeRecords(data []byte) (Records, error) {
	var records Records
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if records == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	if err := records.validate(); err != nil {
		return nil, err
	}
	return records, nil
}

// Save writes the mapping to a temporary file in the same directory, syncs
// it, and renames it over the previous file.
func (s *FileStore) Save(ctx context.Context, records Records) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = Records{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("state: write %s: %w", s.path, err)
	}
	return nil
}

// Close is a no-op; the file is not held open between calls.
func (s *FileStore) Close() error { return nil }

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return err
	}

	// Persist the rename itself.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

var _ Store = (*FileStore)(nil)
