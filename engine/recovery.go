package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucaswhitaker22/specracer/model"
)

// RecoveryKind classifies how a crashed race came back.
type RecoveryKind string

const (
	// RecoveredSnapshot means the newest valid snapshot was restored.
	RecoveredSnapshot RecoveryKind = "snapshot"
	// RecoveredFallback means no usable snapshot existed and the race
	// was rebuilt from its durable configuration at lap 1.
	RecoveredFallback RecoveryKind = "fallback"
	// RecoveryFailed means neither source could produce a state.
	RecoveryFailed RecoveryKind = "failed"
)

// RecoveryOutcome reports the result of one recovery attempt.
type RecoveryOutcome struct {
	Kind       RecoveryKind
	State      *model.RaceState
	SnapshotID string
	Reason     string
}

// SnapshotSource yields validated snapshots for a race. Load must reject
// snapshots whose checksum or structure is bad.
type SnapshotSource interface {
	IDs(ctx context.Context, raceID string) ([]string, error)
	Load(ctx context.Context, raceID, id string) (*model.RaceSnapshot, error)
}

// FallbackParticipant is the durable minimum kept per participant.
type FallbackParticipant struct {
	PlayerID  string
	CarID     string
	JoinOrder int
}

// FallbackConfig is the durable race configuration used when no snapshot
// survives.
type FallbackConfig struct {
	Race         model.Race
	Participants []FallbackParticipant
}

// ConfigSource loads the durable fallback configuration for a race.
type ConfigSource interface {
	RaceConfig(ctx context.Context, raceID string) (*FallbackConfig, error)
}

// Recovery rebuilds race state after an abnormal exit. Concurrent
// attempts for the same race collapse into one: later callers wait on
// the first attempt's outcome instead of racing it.
type Recovery struct {
	snapshots SnapshotSource
	fallback  ConfigSource
	timeout   time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	inflight map[string]*recoveryCall
}

type recoveryCall struct {
	done    chan struct{}
	outcome RecoveryOutcome
}

// NewRecovery wires a recovery coordinator to its state sources.
func NewRecovery(snapshots SnapshotSource, fallback ConfigSource, timeout time.Duration, logger zerolog.Logger) *Recovery {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recovery{
		snapshots: snapshots,
		fallback:  fallback,
		timeout:   timeout,
		log:       logger.With().Str("component", "recovery").Logger(),
		inflight:  make(map[string]*recoveryCall),
	}
}

// Recover produces the best available state for a race. The first caller
// runs the attempt; concurrent callers for the same race share its
// outcome.
func (r *Recovery) Recover(ctx context.Context, raceID string) RecoveryOutcome {
	r.mu.Lock()
	if call, ok := r.inflight[raceID]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.outcome
		case <-ctx.Done():
			return RecoveryOutcome{Kind: RecoveryFailed, Reason: ctx.Err().Error()}
		}
	}
	call := &recoveryCall{done: make(chan struct{})}
	r.inflight[raceID] = call
	r.mu.Unlock()

	call.outcome = r.recover(ctx, raceID)
	close(call.done)

	r.mu.Lock()
	delete(r.inflight, raceID)
	r.mu.Unlock()

	recoveriesTotal.WithLabelValues(string(call.outcome.Kind)).Inc()
	return call.outcome
}

func (r *Recovery) recover(ctx context.Context, raceID string) RecoveryOutcome {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	log := r.log.With().Str("race_id", raceID).Logger()

	// Newest snapshot first; corrupt or unreadable ones are skipped, not
	// fatal.
	ids, err := r.snapshots.IDs(ctx, raceID)
	if err != nil {
		log.Warn().Err(err).Msg("listing snapshots failed")
	}
	for _, id := range ids {
		snap, err := r.snapshots.Load(ctx, raceID, id)
		if err != nil {
			log.Warn().Str("snapshot_id", id).Err(err).Msg("snapshot rejected")
			continue
		}
		log.Info().Str("snapshot_id", id).Float64("tick_time_sec", snap.TickTimeSec).Msg("recovered from snapshot")
		state := snap.State.Copy()
		state.Status = model.RaceActive
		return RecoveryOutcome{Kind: RecoveredSnapshot, State: state, SnapshotID: id}
	}

	// No usable snapshot: rebuild from durable configuration and restart
	// the race from lap 1 with a fresh field.
	cfg, err := r.fallback.RaceConfig(ctx, raceID)
	if err != nil || cfg == nil {
		reason := "no durable configuration"
		if err != nil {
			reason = err.Error()
		}
		log.Error().Str("reason", reason).Msg("recovery failed")
		return RecoveryOutcome{Kind: RecoveryFailed, Reason: reason}
	}

	state := rebuildFromConfig(cfg)
	log.Info().Int("participants", len(state.Participants)).Msg("recovered from durable config, restarting at lap 1")
	return RecoveryOutcome{Kind: RecoveredFallback, State: state}
}

// rebuildFromConfig produces a lap-1 state: full fuel, fresh tires, and
// positions assigned by join order.
func rebuildFromConfig(cfg *FallbackConfig) *model.RaceState {
	race := cfg.Race
	race.Status = model.RaceActive

	parts := append([]FallbackParticipant(nil), cfg.Participants...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].JoinOrder < parts[j].JoinOrder })

	state := &model.RaceState{
		Race:         race,
		CurrentLap:   1,
		Participants: make(map[string]*model.Participant, len(parts)),
	}
	for i, fp := range parts {
		state.Participants[fp.PlayerID] = &model.Participant{
			PlayerID: fp.PlayerID,
			CarID:    fp.CarID,
			Position: i + 1,
			FuelPct:  100,
			Gear:     1,
			Location: model.Location{Lap: 1, Sector: 1},
		}
	}
	return state
}
