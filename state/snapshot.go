package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/logger"
)

// Snapshot is the versioned envelope for aggregates persisted under a single
// key. The version is a monotonically increasing counter owned by the caller;
// a write carrying a version at or below the stored one is stale (a slower
// writer losing the race) and gets dropped rather than clobbering newer state.
type Snapshot struct {
	Version int64           `json:"version"`
	Saved   time.Time       `json:"saved"`
	Data    json.RawMessage `json:"data"`
}

// LoadSnapshot reads the snapshot at key and unmarshals its payload into out.
// Returns the stored version, or 0 with found=false when the key is absent.
func LoadSnapshot(ctx context.Context, s Store, key string, out interface{}) (int64, bool, error) {
	var snap Snapshot
	found, err := GetJSON(ctx, s, key, &snap)
	if err != nil {
		return 0, false, errors.Wrapf(err, "failed to load snapshot %q", key)
	}
	if !found {
		return 0, false, nil
	}

	if err := json.Unmarshal(snap.Data, out); err != nil {
		return 0, false, errors.Wrapf(err, "failed to decode snapshot payload %q", key)
	}

	return snap.Version, true, nil
}

// SaveSnapshot writes data under key at the given version. Stale versions are
// logged and dropped without error; the caller keeps its in-memory state and
// will win a later write with a higher version.
func SaveSnapshot(ctx context.Context, s Store, key string, version int64, data interface{}) error {
	var existing Snapshot
	if found, err := GetJSON(ctx, s, key, &existing); err == nil && found && existing.Version >= version {
		logger.Warnw("Dropping stale snapshot write",
			"key", key,
			"version", version,
			"stored_version", existing.Version)
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "failed to encode snapshot payload %q", key)
	}

	snap := Snapshot{
		Version: version,
		Saved:   time.Now().UTC(),
		Data:    raw,
	}

	return SetJSON(ctx, s, key, snap)
}
