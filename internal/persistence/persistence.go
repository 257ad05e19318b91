// Package persistence snapshots rooms to gzip-compressed JSON files and
// restores them at startup, per spec.md §4.5 and §6's persisted-state
// layout.
package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/marnikitta/livecoding/internal/wire"
)

// Snapshot is the persisted-state layout from spec.md §6:
// {events: [...], created: timestamp}. Unlike the original Python
// implementation (which gzips only the materialized text, discarding the
// operation log), this module persists the full event log so a restart
// never loses more than what a later compaction would have discarded
// anyway.
type Snapshot struct {
	Events  []wire.Operation `json:"events"`
	Created time.Time        `json:"created"`
}

// Store writes and reads room snapshots under a single directory, one
// {roomId}.gz file per room.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. dir must already exist.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(roomID string) string {
	return filepath.Join(s.dir, roomID+".gz")
}

// SaveRoom writes snap for roomID, via a write-new-then-rename sequence so
// a crash mid-write never leaves a truncated snapshot in the final
// location. The temp file is suffixed with a fresh UUID so concurrent
// flushes of different rooms never collide on the same temp name.
func (s *Store) SaveRoom(roomID string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persistence: marshal %s: %w", roomID, err)
	}

	tmpPath := filepath.Join(s.dir, fmt.Sprintf(".%s.%s.tmp", roomID, uuid.NewString()))
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("persistence: create temp file for %s: %w", roomID, err)
	}

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: gzip write for %s: %w", roomID, err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: gzip close for %s: %w", roomID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: fsync for %s: %w", roomID, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: close temp file for %s: %w", roomID, err)
	}

	if err := os.Rename(tmpPath, s.path(roomID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: rename into place for %s: %w", roomID, err)
	}
	return nil
}

// SaveRoomWithRetry retries SaveRoom with bounded exponential backoff,
// matching spec.md §4.5's "best-effort" framing: a transient disk error
// shouldn't abandon a snapshot on the first failure, but persistence must
// never block its caller indefinitely.
func (s *Store) SaveRoomWithRetry(ctx context.Context, roomID string, snap Snapshot) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return s.SaveRoom(roomID, snap)
	}
	return backoff.Retry(operation, policy)
}

// LoadRoom reads and decompresses roomID's snapshot. Returns os.IsNotExist
// on a missing file.
func (s *Store) LoadRoom(roomID string) (Snapshot, error) {
	f, err := os.Open(s.path(roomID))
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return Snapshot{}, fmt.Errorf("persistence: gzip reader for %s: %w", roomID, err)
	}
	defer gz.Close()

	var snap Snapshot
	dec := json.NewDecoder(gz)
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("persistence: decode %s: %w", roomID, err)
	}
	return snap, nil
}

// ListRoomIDs returns every roomId with a snapshot file in the store's
// directory, used to reconstruct the Registry at startup.
func (s *Store) ListRoomIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("persistence: list %s: %w", s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".gz"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			ids = append(ids, name[:len(name)-len(suffix)])
		}
	}
	return ids, nil
}
