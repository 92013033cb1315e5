package store

import (
	"context"
	"time"

	"github.com/lucaswhitaker22/specracer/engine"
	"github.com/lucaswhitaker22/specracer/model"
)

// Durable is the persistence surface the service depends on: race
// configuration on the way in, results on the way out, and the fallback
// data recovery needs. Postgres implements it for production, Memory
// for development and tests.
type Durable interface {
	CreateRace(ctx context.Context, race model.Race) error
	AddParticipant(ctx context.Context, raceID, playerID, carID string, joinOrder int) error
	RemoveParticipant(ctx context.Context, raceID, playerID string) error
	MarkStarted(ctx context.Context, raceID string, at time.Time) error
	ArchiveResult(ctx context.Context, result *model.RaceResult) error
	RaceConfig(ctx context.Context, raceID string) (*engine.FallbackConfig, error)
	Results(ctx context.Context, raceID string) (*model.RaceResult, error)
	ActiveRaceIDs(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

var (
	_ Durable = (*Postgres)(nil)
	_ Durable = (*Memory)(nil)
)
