package persist

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/cockroachdb/pebble"
)

// PebbleStore keeps the record in an embedded Pebble database. It suits
// watchers that also track other local state and want crash-safe writes.
type PebbleStore struct {
	db     *pebble.DB
	logger *slog.Logger
}

// OpenPebbleStore opens (or creates) the database at dir.
func OpenPebbleStore(dir string, logger *slog.Logger) (*PebbleStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, logger: logger}, nil
}

// Load reads the record, falling back to the default when the key is absent
// or the stored bytes are not valid JSON.
func (s *PebbleStore) Load() (Record, bool) {
	val, closer, err := s.db.Get([]byte(StorageKey))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			s.logger.Warn("could not read display state, using default", "error", err)
		}
		return DefaultRecord(), false
	}

	raw := append([]byte(nil), val...)
	closer.Close()

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("display state is corrupt, using default", "error", err)
		return DefaultRecord(), false
	}
	return rec, true
}

// Save writes the record with a synced WAL so it survives a crash.
func (s *PebbleStore) Save(rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(StorageKey), raw, pebble.Sync)
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
