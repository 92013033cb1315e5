package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaswhitaker22/specracer/model"
)

var errCorrupt = errors.New("checksum mismatch")

type fakeSnapshots struct {
	mu    sync.Mutex
	ids   []string
	snaps map[string]*model.RaceSnapshot
	calls atomic.Int64
	block chan struct{}
}

func (f *fakeSnapshots) IDs(_ context.Context, _ string) ([]string, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...), nil
}

func (f *fakeSnapshots) Load(_ context.Context, _ string, id string) (*model.RaceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[id]
	if !ok {
		return nil, errCorrupt
	}
	return snap, nil
}

type fakeConfigs struct {
	cfg *FallbackConfig
	err error
}

func (f *fakeConfigs) RaceConfig(_ context.Context, _ string) (*FallbackConfig, error) {
	return f.cfg, f.err
}

func validSnapshot(raceID string, tickTime float64) *model.RaceSnapshot {
	state := model.RaceState{
		Race:        model.Race{ID: raceID, TrackID: "silverline", TotalLaps: 3, MaxParticipants: 4, Status: model.RaceActive},
		CurrentLap:  2,
		RaceTimeSec: tickTime,
		Participants: map[string]*model.Participant{
			"alice": {PlayerID: "alice", CarID: "apex-gt", Position: 1, FuelPct: 61, Gear: 4,
				Location: model.Location{Lap: 2, Sector: 1, DistanceM: 820}},
		},
	}
	return &model.RaceSnapshot{ID: "snap_1", RaceID: raceID, TickTimeSec: tickTime, State: state}
}

func TestRecoverPrefersNewestValidSnapshot(t *testing.T) {
	snaps := &fakeSnapshots{
		ids: []string{"snap_2", "snap_1"},
		snaps: map[string]*model.RaceSnapshot{
			"snap_2": validSnapshot("race_1", 120.5),
			"snap_1": validSnapshot("race_1", 60.0),
		},
	}
	r := NewRecovery(snaps, &fakeConfigs{}, time.Second, zerolog.Nop())

	out := r.Recover(context.Background(), "race_1")
	require.Equal(t, RecoveredSnapshot, out.Kind)
	assert.Equal(t, "snap_2", out.SnapshotID)
	require.NotNil(t, out.State)
	assert.InDelta(t, 120.5, out.State.RaceTimeSec, 1e-9)
	assert.Equal(t, model.RaceActive, out.State.Status)
}

func TestRecoverSkipsCorruptSnapshots(t *testing.T) {
	snaps := &fakeSnapshots{
		ids: []string{"snap_bad", "snap_ok"},
		snaps: map[string]*model.RaceSnapshot{
			"snap_ok": validSnapshot("race_1", 60.0),
		},
	}
	r := NewRecovery(snaps, &fakeConfigs{}, time.Second, zerolog.Nop())

	out := r.Recover(context.Background(), "race_1")
	require.Equal(t, RecoveredSnapshot, out.Kind)
	assert.Equal(t, "snap_ok", out.SnapshotID)
	assert.InDelta(t, 60.0, out.State.RaceTimeSec, 1e-9)
}

func TestRecoverFallsBackToConfig(t *testing.T) {
	cfg := &FallbackConfig{
		Race: model.Race{ID: "race_1", TrackID: "silverline", TotalLaps: 3, MaxParticipants: 4},
		Participants: []FallbackParticipant{
			{PlayerID: "bob", CarID: "falcon-rs", JoinOrder: 2},
			{PlayerID: "alice", CarID: "apex-gt", JoinOrder: 1},
		},
	}
	r := NewRecovery(&fakeSnapshots{}, &fakeConfigs{cfg: cfg}, time.Second, zerolog.Nop())

	out := r.Recover(context.Background(), "race_1")
	require.Equal(t, RecoveredFallback, out.Kind)
	require.NotNil(t, out.State)
	assert.Equal(t, model.RaceActive, out.State.Status)
	assert.Equal(t, 1, out.State.CurrentLap)
	assert.Zero(t, out.State.RaceTimeSec)

	alice := out.State.Participants["alice"]
	bob := out.State.Participants["bob"]
	require.NotNil(t, alice)
	require.NotNil(t, bob)
	// Join order decides the restart grid.
	assert.Equal(t, 1, alice.Position)
	assert.Equal(t, 2, bob.Position)
	assert.InDelta(t, 100, alice.FuelPct, 1e-9)
	assert.Zero(t, alice.Tires.Max())
	assert.Equal(t, model.Location{Lap: 1, Sector: 1}, alice.Location)
}

func TestRecoverFailsWithoutSources(t *testing.T) {
	r := NewRecovery(&fakeSnapshots{}, &fakeConfigs{err: errors.New("connection refused")}, time.Second, zerolog.Nop())

	out := r.Recover(context.Background(), "race_1")
	assert.Equal(t, RecoveryFailed, out.Kind)
	assert.Nil(t, out.State)
	assert.Contains(t, out.Reason, "connection refused")
}

func TestRecoverMissingConfigFails(t *testing.T) {
	r := NewRecovery(&fakeSnapshots{}, &fakeConfigs{}, time.Second, zerolog.Nop())

	out := r.Recover(context.Background(), "race_1")
	assert.Equal(t, RecoveryFailed, out.Kind)
	assert.Equal(t, "no durable configuration", out.Reason)
}

func TestConcurrentRecoverySharesOneAttempt(t *testing.T) {
	snaps := &fakeSnapshots{
		ids:   []string{"snap_1"},
		snaps: map[string]*model.RaceSnapshot{"snap_1": validSnapshot("race_1", 30)},
		block: make(chan struct{}),
	}
	r := NewRecovery(snaps, &fakeConfigs{}, time.Second, zerolog.Nop())

	results := make(chan RecoveryOutcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- r.Recover(context.Background(), "race_1")
		}()
	}

	// Let both goroutines reach the coordinator before the source
	// unblocks, then both must see the single attempt's outcome.
	time.Sleep(50 * time.Millisecond)
	close(snaps.block)

	for i := 0; i < 2; i++ {
		select {
		case out := <-results:
			assert.Equal(t, RecoveredSnapshot, out.Kind)
		case <-time.After(2 * time.Second):
			t.Fatal("recovery did not complete")
		}
	}
	assert.EqualValues(t, 1, snaps.calls.Load())
}

func TestRecoveryAttemptsIndependentPerRace(t *testing.T) {
	snaps := &fakeSnapshots{
		ids:   []string{"snap_1"},
		snaps: map[string]*model.RaceSnapshot{"snap_1": validSnapshot("race_a", 10)},
	}
	r := NewRecovery(snaps, &fakeConfigs{}, time.Second, zerolog.Nop())

	a := r.Recover(context.Background(), "race_a")
	b := r.Recover(context.Background(), "race_b")
	assert.Equal(t, RecoveredSnapshot, a.Kind)
	assert.Equal(t, RecoveredSnapshot, b.Kind)
	assert.EqualValues(t, 2, snaps.calls.Load())
}
