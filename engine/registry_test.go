package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaswhitaker22/specracer/model"
)

type fakeArchiver struct {
	mu      sync.Mutex
	results []*model.RaceResult
}

func (a *fakeArchiver) ArchiveResult(_ context.Context, result *model.RaceResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
	return nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

type fakeCleaner struct {
	mu    sync.Mutex
	races []string
}

func (c *fakeCleaner) CleanupRace(_ context.Context, raceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.races = append(c.races, raceID)
	return nil
}

func (c *fakeCleaner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.races)
}

func newTestRegistry(t *testing.T, opts RegistryOptions) *Registry {
	t.Helper()
	opts.Logger = zerolog.Nop()
	opts.Engine.Logger = zerolog.Nop()
	if opts.Engine.TickPeriod == 0 {
		// Keep background loops nearly idle; tests drive ticks directly.
		opts.Engine.TickPeriod = time.Hour
	}
	r := NewRegistry(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Shutdown(ctx)
	})
	return r
}

func TestCreateValidatesInput(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})

	_, err := r.Create("no-such-track", 3, 0)
	assert.ErrorIs(t, err, ErrTrackNotAvailable)

	_, err = r.Create("silverline", 0, 0)
	assert.Error(t, err)

	_, err = r.Create("silverline", 3, MaxRaceParticipants+1)
	assert.Error(t, err)
}

func TestCreateDefaultsAndIDs(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})

	a, err := r.Create("silverline", 3, 0)
	require.NoError(t, err)
	b, err := r.Create("silverline", 3, 12)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.RaceID(), "race_"))
	assert.NotEqual(t, a.RaceID(), b.RaceID())
	assert.Equal(t, MaxRaceParticipants, a.State().MaxParticipants)
	assert.Equal(t, 12, b.State().MaxParticipants)
	assert.Equal(t, 2, r.Count())
}

func TestGetUnknownRace(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})
	_, err := r.Get("race_0_missing")
	assert.ErrorIs(t, err, ErrRaceNotFound)
}

func TestListAndActiveStates(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})

	a, err := r.Create("silverline", 3, 0)
	require.NoError(t, err)
	_, err = r.Create("harbor-street", 2, 0)
	require.NoError(t, err)

	require.NoError(t, a.Join("alice", "apex-gt"))
	require.NoError(t, a.Start())

	assert.Len(t, r.List(), 2)
	active := r.ActiveStates()
	require.Len(t, active, 1)
	assert.Equal(t, a.RaceID(), active[0].ID)
}

func TestRetireArchivesCleansAndRemoves(t *testing.T) {
	archiver := &fakeArchiver{}
	cleaner := &fakeCleaner{}
	r := newTestRegistry(t, RegistryOptions{Archiver: archiver, Cleaner: cleaner})

	eng, err := r.Create("silverline", 2, 0)
	require.NoError(t, err)
	require.NoError(t, eng.Join("alice", "apex-gt"))
	require.NoError(t, eng.Start())

	// Abandoning the race finishes it and kicks off retirement.
	require.NoError(t, eng.Leave("alice"))

	require.Eventually(t, func() bool {
		return archiver.count() == 1 && cleaner.count() == 1 && r.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	archiver.mu.Lock()
	result := archiver.results[0]
	archiver.mu.Unlock()
	assert.Equal(t, eng.RaceID(), result.RaceID)

	cleaner.mu.Lock()
	cleaned := cleaner.races[0]
	cleaner.mu.Unlock()
	assert.Equal(t, eng.RaceID(), cleaned)
}

func TestAdoptResumesRecoveredState(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})

	src, err := r.Create("silverline", 3, 0)
	require.NoError(t, err)
	require.NoError(t, src.Join("alice", "apex-gt"))
	require.NoError(t, src.Start())

	state := src.State()
	state.ID = "race_99_adopted"
	state.RaceTimeSec = 42.5

	eng, err := r.Adopt(state)
	require.NoError(t, err)
	assert.Equal(t, "race_99_adopted", eng.RaceID())

	got, err := r.Get("race_99_adopted")
	require.NoError(t, err)
	assert.InDelta(t, 42.5, got.State().RaceTimeSec, 1e-9)
	assert.Equal(t, model.RaceActive, got.Status())
}

func TestAbnormalExitDeregistersAndNotifies(t *testing.T) {
	notified := make(chan string, 1)
	r := newTestRegistry(t, RegistryOptions{
		OnAbnormal: func(raceID string, _ any) { notified <- raceID },
	})

	eng, err := r.Create("silverline", 2, 0)
	require.NoError(t, err)
	require.NoError(t, eng.Join("alice", "apex-gt"))
	require.NoError(t, eng.Start())

	eng.mu.Lock()
	eng.queues = nil
	eng.mu.Unlock()
	assert.False(t, eng.Tick())

	select {
	case raceID := <-notified:
		assert.Equal(t, eng.RaceID(), raceID)
	case <-time.After(time.Second):
		t.Fatal("abnormal exit was not reported")
	}
	assert.Equal(t, 0, r.Count())
}

func TestShutdownStopsLoops(t *testing.T) {
	r := NewRegistry(RegistryOptions{
		Logger: zerolog.Nop(),
		Engine: Options{TickPeriod: time.Millisecond, Logger: zerolog.Nop()},
	})

	eng, err := r.Create("silverline", 2, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Shutdown(ctx)

	select {
	case <-eng.Done():
	case <-time.After(time.Second):
		t.Fatal("engine loop did not stop")
	}

	_, err = r.Create("silverline", 2, 0)
	assert.Error(t, err)
}

func TestJournalWiredWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, RegistryOptions{JournalDir: dir})

	eng, err := r.Create("silverline", 2, 0)
	require.NoError(t, err)
	require.NoError(t, eng.Join("alice", "apex-gt"))
	require.NoError(t, eng.Start())

	events, err := ReadJournal(eng.opts.Journal.Path())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventRaceStart, events[0].Type)
}
