// Package state provides the durable key/value store that lets vigil survive
// its own restarts. Values are JSON text; writes are last-write-wins. The
// tracker keeps its whole aggregate under a single key (TrackerStateKey) so
// it never depends on multi-key atomicity.
package state

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/errors"
)

// TrackerStateKey is the single key holding the tracker's persisted aggregate.
const TrackerStateKey = "tracker_state"

// Store is the durable KV contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value at key, with found=false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Close releases resources owned by the store. Stores backed by a
	// shared database handle treat this as a no-op.
	Close() error
}

// GetJSON reads key and unmarshals its JSON value into out.
// Returns found=false (and leaves out untouched) when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, out interface{}) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, errors.Wrapf(err, "failed to decode state value for %q", key)
	}
	return true, nil
}

// SetJSON marshals v and writes it under key.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode state value for %q", key)
	}
	return s.Set(ctx, key, string(raw))
}

// Open selects a store backend from configuration. The sqlite backend (the
// default) reuses the shared database handle; redis opens its own client and
// owns its lifecycle.
func Open(cfg *config.Config, db *sql.DB) (Store, error) {
	switch cfg.State.Backend {
	case "", "sqlite":
		if db == nil {
			return nil, errors.New("sqlite state backend requires a database handle")
		}
		return NewSQLiteStore(db), nil
	case "redis":
		return NewRedisStore(cfg.State.Redis), nil
	default:
		return nil, errors.Newf("unknown state backend %q", cfg.State.Backend)
	}
}
