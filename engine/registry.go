package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/lucaswhitaker22/specracer/model"
)

// MaxRaceParticipants caps the field size of any single race.
const MaxRaceParticipants = 20

// Archiver persists final results durably once a race finishes.
type Archiver interface {
	ArchiveResult(ctx context.Context, result *model.RaceResult) error
}

// Cleaner removes per-race retained artifacts (snapshots, cached state)
// after results have been archived.
type Cleaner interface {
	CleanupRace(ctx context.Context, raceID string) error
}

// RegistryOptions configure race creation and lifecycle plumbing.
type RegistryOptions struct {
	Engine     Options
	JournalDir string
	Archiver   Archiver
	Cleaner    Cleaner

	// SinkFactory builds the publication consumers attached to every new
	// engine (broadcast, cache writer, recorder).
	SinkFactory func(raceID string) []Sink

	// OnAbnormal is invoked when a race halts on a tick panic, after the
	// broken engine has been deregistered.
	OnAbnormal func(raceID string, cause any)

	Logger zerolog.Logger
}

// Registry is the process-wide directory of live races. It creates
// engines, hands out references by race ID, and retires engines once
// their results are safely archived.
type Registry struct {
	mu       sync.Mutex
	engines  map[string]*Engine
	journals map[string]*EventJournal
	done     chan struct{}
	closed   bool

	opts RegistryOptions
	log  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		engines:  make(map[string]*Engine),
		journals: make(map[string]*EventJournal),
		done:     make(chan struct{}),
		opts:     opts,
		log:      opts.Logger.With().Str("component", "registry").Logger(),
	}
}

// Create builds a new race in the waiting state and starts its loop.
// maxParticipants defaults to the global cap when zero.
func (r *Registry) Create(trackID string, totalLaps, maxParticipants int) (*Engine, error) {
	if _, ok := model.TrackByID(trackID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotAvailable, trackID)
	}
	if totalLaps < 1 {
		return nil, fmt.Errorf("%w: total laps must be at least 1, got %d", ErrInvalidConfig, totalLaps)
	}
	if maxParticipants == 0 {
		maxParticipants = MaxRaceParticipants
	}
	if maxParticipants < 1 || maxParticipants > MaxRaceParticipants {
		return nil, fmt.Errorf("%w: max participants must be 1..%d, got %d", ErrInvalidConfig, MaxRaceParticipants, maxParticipants)
	}

	race := model.Race{
		ID:              newRaceID(),
		TrackID:         trackID,
		TotalLaps:       totalLaps,
		MaxParticipants: maxParticipants,
		Status:          model.RaceWaiting,
	}
	track, _ := model.TrackByID(trackID)
	return r.register(race.ID, func(opts Options) (*Engine, error) {
		return New(race, track, opts), nil
	})
}

// Adopt registers an engine rebuilt from a recovered state and resumes
// its loop. Used by crash recovery.
func (r *Registry) Adopt(state *model.RaceState) (*Engine, error) {
	track, ok := model.TrackByID(state.TrackID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotAvailable, state.TrackID)
	}
	return r.register(state.ID, func(opts Options) (*Engine, error) {
		return NewFromState(state, track, opts)
	})
}

func (r *Registry) register(raceID string, build func(Options) (*Engine, error)) (*Engine, error) {
	opts := r.opts.Engine
	opts.OnFinish = func(result *model.RaceResult) { r.retire(result) }
	opts.OnPanic = func(id string, cause any) { r.abnormalExit(id, cause) }
	var journal *EventJournal
	if r.opts.JournalDir != "" {
		j, err := NewEventJournal(r.opts.JournalDir, raceID)
		if err != nil {
			return nil, err
		}
		journal = j
		opts.Journal = j
	}

	eng, err := build(opts)
	if err != nil {
		return nil, err
	}
	if r.opts.SinkFactory != nil {
		for _, s := range r.opts.SinkFactory(raceID) {
			eng.AddSink(s)
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry is shut down")
	}
	r.engines[raceID] = eng
	if journal != nil {
		r.journals[raceID] = journal
	}
	n := len(r.engines)
	r.mu.Unlock()

	activeRaces.Set(float64(n))
	go eng.Run(r.done)
	r.log.Info().Str("race_id", raceID).Int("races", n).Msg("race registered")
	return eng, nil
}

// Get returns the engine for a race ID.
func (r *Registry) Get(raceID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eng, ok := r.engines[raceID]
	if !ok {
		return nil, ErrRaceNotFound
	}
	return eng, nil
}

// List returns state copies of every registered race, for listings and
// health probes.
func (r *Registry) List() []*model.RaceState {
	return lo.Map(r.all(), func(e *Engine, _ int) *model.RaceState {
		return e.State()
	})
}

// ActiveStates returns state copies of races that are currently running.
// The snapshot sampler captures from these.
func (r *Registry) ActiveStates() []*model.RaceState {
	states := lo.Filter(r.List(), func(s *model.RaceState, _ int) bool {
		return s.Status == model.RaceActive
	})
	return states
}

// Count returns how many races are registered.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Shutdown halts every engine without finishing its race, leaving active
// races recoverable from their snapshots, and waits for loops to exit.
// Idempotent.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	close(r.done)

	for _, eng := range r.all() {
		eng.Halt()
	}
	for _, eng := range r.all() {
		select {
		case <-eng.Done():
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) all() []*Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	return engines
}

// retire archives a finished race's results, runs cleanup, and only then
// drops the engine so late result queries still find it in the interim.
// The event journal is removed here; after an abnormal exit it stays on
// disk for recovery and postmortems.
func (r *Registry) retire(result *model.RaceResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.opts.Archiver != nil {
		if err := r.opts.Archiver.ArchiveResult(ctx, result); err != nil {
			r.log.Error().Err(err).Str("race_id", result.RaceID).Msg("archiving results failed")
		}
	}
	if r.opts.Cleaner != nil {
		if err := r.opts.Cleaner.CleanupRace(ctx, result.RaceID); err != nil {
			r.log.Warn().Err(err).Str("race_id", result.RaceID).Msg("race cleanup failed")
		}
	}

	r.mu.Lock()
	journal := r.journals[result.RaceID]
	r.mu.Unlock()
	if journal != nil {
		if err := journal.Remove(); err != nil {
			r.log.Warn().Err(err).Str("race_id", result.RaceID).Msg("journal removal failed")
		}
	}

	r.remove(result.RaceID)
	r.log.Info().Str("race_id", result.RaceID).Msg("race retired")
}

func (r *Registry) abnormalExit(raceID string, cause any) {
	r.remove(raceID)
	r.log.Error().Str("race_id", raceID).Interface("cause", cause).Msg("race exited abnormally")
	if r.opts.OnAbnormal != nil {
		r.opts.OnAbnormal(raceID, cause)
	}
}

func (r *Registry) remove(raceID string) {
	r.mu.Lock()
	delete(r.engines, raceID)
	delete(r.journals, raceID)
	n := len(r.engines)
	r.mu.Unlock()
	activeRaces.Set(float64(n))
}

// newRaceID builds an identifier that sorts by creation time and cannot
// collide across processes.
func newRaceID() string {
	return fmt.Sprintf("race_%d_%s", time.Now().UnixNano(), uuid.NewString()[:8])
}
