// Package persist keeps the last displayed state of the watcher so a restart
// can show something meaningful before the first event arrives. Corrupt or
// missing state always falls back to a documented default instead of failing.
package persist

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StorageKey identifies the display-state record in every backing store.
const StorageKey = "datetime-display-state"

// Record is the persisted display state.
type Record struct {
	CurrentTime string    `json:"currentTime"`
	LastUpdated time.Time `json:"lastUpdated"`
	Timezone    string    `json:"timezone"`
	Format      string    `json:"format"`
}

// DefaultRecord is what callers get when nothing valid was stored.
func DefaultRecord() Record {
	return Record{
		Timezone: "UTC",
		Format:   "DD/MM/YYYY HH:MM:SS",
	}
}

// Store persists the display state. Load never fails: absence or corruption
// yields the default record with ok=false.
type Store interface {
	Load() (rec Record, ok bool)
	Save(rec Record) error
	Close() error
}

// FileStore keeps the record as a single JSON file.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore builds a store writing to the given path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Load reads the record, falling back to the default when the file is absent
// or unreadable as JSON.
func (s *FileStore) Load() (Record, bool) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("could not read display state, using default", "path", s.path, "error", err)
		}
		return DefaultRecord(), false
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("display state is corrupt, using default", "path", s.path, "error", err)
		return DefaultRecord(), false
	}
	return rec, true
}

// Save writes the record atomically via a temp file rename.
func (s *FileStore) Save(rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }
