package snapshot

import (
	"context"
	"sync"

	"github.com/lucaswhitaker22/specracer/model"
)

// MemoryBackend keeps snapshots in per-race slices, oldest first. It is
// the development and test backend, and the in-process fallback when no
// cache is configured. Everything returned is a copy.
type MemoryBackend struct {
	mu    sync.RWMutex
	races map[string][]model.RaceSnapshot
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{races: make(map[string][]model.RaceSnapshot)}
}

// Put appends a snapshot to its race's history.
func (b *MemoryBackend) Put(_ context.Context, snap *model.RaceSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *snap
	cp.State = *snap.State.Copy()
	b.races[snap.RaceID] = append(b.races[snap.RaceID], cp)
	return nil
}

// Get returns one snapshot by ID.
func (b *MemoryBackend) Get(_ context.Context, raceID, id string) (*model.RaceSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := range b.races[raceID] {
		if b.races[raceID][i].ID == id {
			cp := b.races[raceID][i]
			cp.State = *b.races[raceID][i].State.Copy()
			return &cp, nil
		}
	}
	return nil, ErrSnapshotNotFound
}

// IDs lists snapshot IDs newest first.
func (b *MemoryBackend) IDs(_ context.Context, raceID string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snaps := b.races[raceID]
	ids := make([]string, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		ids = append(ids, snaps[i].ID)
	}
	return ids, nil
}

// Trim drops the oldest snapshots beyond keep.
func (b *MemoryBackend) Trim(_ context.Context, raceID string, keep int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	snaps := b.races[raceID]
	if keep >= 0 && len(snaps) > keep {
		b.races[raceID] = append([]model.RaceSnapshot(nil), snaps[len(snaps)-keep:]...)
	}
	return nil
}

// Purge forgets a race entirely.
func (b *MemoryBackend) Purge(_ context.Context, raceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.races, raceID)
	return nil
}
