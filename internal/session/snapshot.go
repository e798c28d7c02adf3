package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
)

// ErrSnapshotNotFound indicates no snapshot file exists for the session id.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists one storage-state JSON file per session id. Writes
// are whole-file replace via a temp file and rename; reads tolerate a
// missing file as not-found. Only one process owns the directory, so no
// locking beyond that.
type SnapshotStore struct {
	dir    string
	logger *zap.Logger
}

// NewSnapshotStore creates the directory if needed.
func NewSnapshotStore(dir string, logger *zap.Logger) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot dir %s: %w", dir, err)
	}
	return &SnapshotStore{dir: dir, logger: logger.Named("snapshots")}, nil
}

// Path returns the snapshot file location for a session id.
func (ss *SnapshotStore) Path(id string) string {
	return filepath.Join(ss.dir, id+".json")
}

// Save replaces the session's snapshot file. A pre-OTP snapshot saved
// earlier is superseded by the post-OTP one under the same id.
func (ss *SnapshotStore) Save(id string, state *schemas.StorageState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", id, err)
	}
	tmp := ss.Path(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", id, err)
	}
	if err := os.Rename(tmp, ss.Path(id)); err != nil {
		return fmt.Errorf("replacing snapshot %s: %w", id, err)
	}
	ss.logger.Info("Snapshot written",
		zap.String("session_id", id),
		zap.Int("cookies", len(state.Cookies)))
	return nil
}

// Load reads and decodes a session's snapshot.
func (ss *SnapshotStore) Load(id string) (*schemas.StorageState, error) {
	raw, err := ss.LoadRaw(id)
	if err != nil {
		return nil, err
	}
	var state schemas.StorageState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", id, err)
	}
	return &state, nil
}

// LoadRaw returns the snapshot bytes without decoding, for callers that
// validate shape themselves.
func (ss *SnapshotStore) LoadRaw(id string) ([]byte, error) {
	raw, err := os.ReadFile(ss.Path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", id, err)
	}
	return raw, nil
}

// Delete removes a session's snapshot file. Missing files are fine.
func (ss *SnapshotStore) Delete(id string) error {
	err := os.Remove(ss.Path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing snapshot %s: %w", id, err)
	}
	return nil
}

// DeleteAll removes every snapshot file in the directory and returns how
// many were removed.
func (ss *SnapshotStore) DeleteAll() (int, error) {
	ids, err := ss.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := ss.Delete(id); err != nil {
			ss.logger.Warn("Snapshot delete failed", zap.String("session_id", id), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// List returns the session ids with a snapshot on disk.
func (ss *SnapshotStore) List() ([]string, error) {
	entries, err := os.ReadDir(ss.dir)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// LatestID resolves the most recently written snapshot by file mtime, the
// same rule the downstream export service applies to "latest".
func (ss *SnapshotStore) LatestID() (string, error) {
	ids, err := ss.List()
	if err != nil {
		return "", err
	}
	var (
		latest   string
		latestAt time.Time
	)
	for _, id := range ids {
		info, err := os.Stat(ss.Path(id))
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestAt) {
			latest = id
			latestAt = info.ModTime()
		}
	}
	if latest == "" {
		return "", ErrSnapshotNotFound
	}
	return latest, nil
}

// EvictOlderThan removes snapshots whose mtime is older than the cutoff,
// reclaiming files orphaned by a restart. Returns the count removed.
func (ss *SnapshotStore) EvictOlderThan(age time.Duration) (int, error) {
	ids, err := ss.List()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-age)
	removed := 0
	for _, id := range ids {
		info, err := os.Stat(ss.Path(id))
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := ss.Delete(id); err != nil {
				ss.logger.Warn("Snapshot eviction failed", zap.String("session_id", id), zap.Error(err))
				continue
			}
			removed++
			ss.logger.Info("Stale snapshot evicted", zap.String("session_id", id))
		}
	}
	return removed, nil
}
