package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lucaswhitaker22/specracer/engine"
	"github.com/lucaswhitaker22/specracer/model"
)

type memoryParticipant struct {
	playerID  string
	carID     string
	joinOrder int
}

type memoryRace struct {
	race         model.Race
	participants map[string]memoryParticipant
	result       *model.RaceResult
}

// Memory is the in-process Durable used when no database is configured.
// State does not survive a restart, which also means fallback recovery
// degrades to Failed; that is the accepted dev-mode tradeoff.
type Memory struct {
	mu    sync.RWMutex
	races map[string]*memoryRace
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{races: make(map[string]*memoryRace)}
}

func (m *Memory) CreateRace(_ context.Context, race model.Race) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.races[race.ID] = &memoryRace{
		race:         race,
		participants: make(map[string]memoryParticipant),
	}
	return nil
}

func (m *Memory) AddParticipant(_ context.Context, raceID, playerID, carID string, joinOrder int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.races[raceID]
	if !ok {
		return ErrNotFound
	}
	r.participants[playerID] = memoryParticipant{playerID: playerID, carID: carID, joinOrder: joinOrder}
	return nil
}

func (m *Memory) RemoveParticipant(_ context.Context, raceID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.races[raceID]; ok {
		delete(r.participants, playerID)
	}
	return nil
}

func (m *Memory) MarkStarted(_ context.Context, raceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.races[raceID]
	if !ok {
		return ErrNotFound
	}
	r.race.Status = model.RaceActive
	r.race.StartedAt = &at
	return nil
}

func (m *Memory) ArchiveResult(_ context.Context, result *model.RaceResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.races[result.RaceID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	r.race.Status = model.RaceFinished
	r.race.EndedAt = &now
	cp := *result
	cp.Standings = append([]model.FinalResult(nil), result.Standings...)
	r.result = &cp
	return nil
}

func (m *Memory) RaceConfig(_ context.Context, raceID string) (*engine.FallbackConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.races[raceID]
	if !ok {
		return nil, nil
	}
	cfg := &engine.FallbackConfig{Race: r.race}
	for _, p := range r.participants {
		cfg.Participants = append(cfg.Participants, engine.FallbackParticipant{
			PlayerID:  p.playerID,
			CarID:     p.carID,
			JoinOrder: p.joinOrder,
		})
	}
	sort.Slice(cfg.Participants, func(i, j int) bool {
		return cfg.Participants[i].JoinOrder < cfg.Participants[j].JoinOrder
	})
	return cfg, nil
}

func (m *Memory) Results(_ context.Context, raceID string) (*model.RaceResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.races[raceID]
	if !ok || r.result == nil {
		return nil, ErrNotFound
	}
	cp := *r.result
	cp.Standings = append([]model.FinalResult(nil), r.result.Standings...)
	return &cp, nil
}

func (m *Memory) ActiveRaceIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, r := range m.races {
		if r.race.Status == model.RaceActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}
