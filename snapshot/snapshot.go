package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	channerics "github.com/niceyeti/channerics/channels"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/lucaswhitaker22/specracer/model"
)

const (
	// DefaultPeriod is how often the sampler checkpoints each running race.
	DefaultPeriod = 10 * time.Second

	// DefaultMaxPerRace bounds retained snapshots per race; older ones
	// are dropped as new ones arrive.
	DefaultMaxPerRace = 50

	// DefaultTTL is how long backends keep snapshot blobs around.
	DefaultTTL = time.Hour
)

var (
	// ErrSnapshotNotFound means the backend has no such snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInvalidSnapshot means a stored snapshot failed validation and
	// must not be used for recovery.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

var snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "racer_snapshots_total",
	Help: "Snapshot operations, by result.",
}, []string{"result"})

// Backend stores snapshot blobs plus a newest-first index per race.
type Backend interface {
	Put(ctx context.Context, snap *model.RaceSnapshot) error
	Get(ctx context.Context, raceID, id string) (*model.RaceSnapshot, error)
	IDs(ctx context.Context, raceID string) ([]string, error)
	Trim(ctx context.Context, raceID string, keep int) error
	Purge(ctx context.Context, raceID string) error
}

// Store is the snapshot service: it stamps, checksums, persists, and
// re-validates snapshots, and enforces the per-race retention cap.
type Store struct {
	backend Backend
	max     int
	log     zerolog.Logger
	now     func() time.Time
}

// NewStore wraps a backend with retention and validation. max falls back
// to DefaultMaxPerRace when zero.
func NewStore(backend Backend, max int, logger zerolog.Logger) *Store {
	if max <= 0 {
		max = DefaultMaxPerRace
	}
	return &Store{
		backend: backend,
		max:     max,
		log:     logger.With().Str("component", "snapshots").Logger(),
		now:     time.Now,
	}
}

// Capture persists one checkpoint of a race state and trims retention.
// The caller must pass a state copy the engine no longer mutates.
func (s *Store) Capture(ctx context.Context, state *model.RaceState) (*model.RaceSnapshot, error) {
	snap := &model.RaceSnapshot{
		ID:          fmt.Sprintf("snap_%d_%s", s.now().UnixNano(), uuid.NewString()[:8]),
		RaceID:      state.ID,
		TickTimeSec: state.RaceTimeSec,
		WallTime:    s.now(),
		State:       *state.Copy(),
		Checksum:    Checksum(state),
	}
	if err := s.backend.Put(ctx, snap); err != nil {
		snapshotsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("store snapshot for %s: %w", state.ID, err)
	}
	if err := s.backend.Trim(ctx, state.ID, s.max); err != nil {
		s.log.Warn().Err(err).Str("race_id", state.ID).Msg("snapshot trim failed")
	}
	snapshotsTotal.WithLabelValues("captured").Inc()
	return snap, nil
}

// IDs lists retained snapshot IDs for a race, newest first.
func (s *Store) IDs(ctx context.Context, raceID string) ([]string, error) {
	return s.backend.IDs(ctx, raceID)
}

// Load fetches one snapshot and validates it. Corrupt snapshots return
// ErrInvalidSnapshot so callers can fall through to older ones.
func (s *Store) Load(ctx context.Context, raceID, id string) (*model.RaceSnapshot, error) {
	snap, err := s.backend.Get(ctx, raceID, id)
	if err != nil {
		return nil, err
	}
	if err := Validate(snap); err != nil {
		snapshotsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	return snap, nil
}

// Latest returns the newest snapshot that validates, skipping corrupt
// ones, or ErrSnapshotNotFound when none survive.
func (s *Store) Latest(ctx context.Context, raceID string) (*model.RaceSnapshot, error) {
	ids, err := s.backend.IDs(ctx, raceID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		snap, err := s.Load(ctx, raceID, id)
		if err != nil {
			s.log.Warn().Str("race_id", raceID).Str("snapshot_id", id).Err(err).Msg("skipping snapshot")
			continue
		}
		return snap, nil
	}
	return nil, ErrSnapshotNotFound
}

// CleanupRace drops every retained snapshot for a race. Called once the
// race's results are durably archived.
func (s *Store) CleanupRace(ctx context.Context, raceID string) error {
	return s.backend.Purge(ctx, raceID)
}

// StateSource yields the states the sampler should checkpoint.
type StateSource interface {
	ActiveStates() []*model.RaceState
}

// Sampler checkpoints every running race on a fixed period.
type Sampler struct {
	store  *Store
	source StateSource
	period time.Duration
	log    zerolog.Logger
}

// NewSampler builds a sampler; period falls back to DefaultPeriod.
func NewSampler(store *Store, source StateSource, period time.Duration, logger zerolog.Logger) *Sampler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Sampler{
		store:  store,
		source: source,
		period: period,
		log:    logger.With().Str("component", "snapshot_sampler").Logger(),
	}
}

// Run captures snapshots until done closes. A failed capture is logged
// and retried on the next period; the race itself is never disturbed.
func (s *Sampler) Run(ctx context.Context, done <-chan struct{}) {
	for range channerics.NewTicker(done, s.period) {
		for _, state := range s.source.ActiveStates() {
			if _, err := s.store.Capture(ctx, state); err != nil {
				s.log.Warn().Err(err).Str("race_id", state.ID).Msg("snapshot capture failed")
			}
		}
	}
}
