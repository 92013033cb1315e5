// Package store holds the persistence layer: durable race configuration
// and results in Postgres, live state mirrored to Redis, and in-memory
// stand-ins for development and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lucaswhitaker22/specracer/engine"
	"github.com/lucaswhitaker22/specracer/model"
)

// ErrNotFound means the requested row does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS races (
	id               TEXT PRIMARY KEY,
	track_id         TEXT        NOT NULL,
	total_laps       INT         NOT NULL,
	max_participants INT         NOT NULL,
	status           TEXT        NOT NULL,
	race_time_sec    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL,
	started_at       TIMESTAMPTZ,
	ended_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS race_participants (
	race_id    TEXT NOT NULL REFERENCES races(id) ON DELETE CASCADE,
	player_id  TEXT NOT NULL,
	car_id     TEXT NOT NULL,
	join_order INT  NOT NULL,
	PRIMARY KEY (race_id, player_id)
);

CREATE TABLE IF NOT EXISTS race_results (
	race_id        TEXT             NOT NULL REFERENCES races(id) ON DELETE CASCADE,
	position       INT              NOT NULL,
	player_id      TEXT             NOT NULL,
	car_id         TEXT             NOT NULL,
	laps           INT              NOT NULL,
	total_time_sec DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (race_id, position)
);
`

// Postgres is the durable store. It carries the minimum needed to
// rebuild a race when every snapshot is lost, plus final results.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgres connects a pool and applies the schema.
func NewPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Postgres{pool: pool, log: logger.With().Str("component", "postgres").Logger()}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// Ping runs a connection round trip, for health probes.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateRace inserts the durable race row.
func (s *Postgres) CreateRace(ctx context.Context, race model.Race) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO races (id, track_id, total_laps, max_participants, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		race.ID, race.TrackID, race.TotalLaps, race.MaxParticipants, string(race.Status), race.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert race %s: %w", race.ID, err)
	}
	return nil
}

// AddParticipant records a join, keyed by join order for recovery grids.
func (s *Postgres) AddParticipant(ctx context.Context, raceID, playerID, carID string, joinOrder int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO race_participants (race_id, player_id, car_id, join_order)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (race_id, player_id) DO UPDATE SET car_id = EXCLUDED.car_id`,
		raceID, playerID, carID, joinOrder)
	if err != nil {
		return fmt.Errorf("insert participant %s/%s: %w", raceID, playerID, err)
	}
	return nil
}

// RemoveParticipant deletes a participant row after a leave.
func (s *Postgres) RemoveParticipant(ctx context.Context, raceID, playerID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM race_participants WHERE race_id = $1 AND player_id = $2`, raceID, playerID)
	if err != nil {
		return fmt.Errorf("delete participant %s/%s: %w", raceID, playerID, err)
	}
	return nil
}

// MarkStarted flips the race to active.
func (s *Postgres) MarkStarted(ctx context.Context, raceID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE races SET status = $2, started_at = $3 WHERE id = $1`,
		raceID, string(model.RaceActive), at)
	if err != nil {
		return fmt.Errorf("mark race %s started: %w", raceID, err)
	}
	return nil
}

// ArchiveResult finalizes a race in one transaction: status, end time,
// and the full standings.
func (s *Postgres) ArchiveResult(ctx context.Context, result *model.RaceResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive %s: %w", result.RaceID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE races SET status = $2, race_time_sec = $3, ended_at = now() WHERE id = $1`,
		result.RaceID, string(model.RaceFinished), result.RaceTimeSec); err != nil {
		return fmt.Errorf("finish race %s: %w", result.RaceID, err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM race_results WHERE race_id = $1`, result.RaceID); err != nil {
		return fmt.Errorf("clear results %s: %w", result.RaceID, err)
	}
	for _, line := range result.Standings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO race_results (race_id, position, player_id, car_id, laps, total_time_sec)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			result.RaceID, line.Position, line.PlayerID, line.CarID, line.Laps, line.TotalTimeSec); err != nil {
			return fmt.Errorf("insert result %s/%d: %w", result.RaceID, line.Position, err)
		}
	}
	return tx.Commit(ctx)
}

// RaceConfig loads the durable fallback used when no snapshot survives.
// A missing race yields (nil, nil).
func (s *Postgres) RaceConfig(ctx context.Context, raceID string) (*engine.FallbackConfig, error) {
	var cfg engine.FallbackConfig
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, track_id, total_laps, max_participants, status, created_at
		 FROM races WHERE id = $1`, raceID).
		Scan(&cfg.Race.ID, &cfg.Race.TrackID, &cfg.Race.TotalLaps, &cfg.Race.MaxParticipants, &status, &cfg.Race.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load race %s: %w", raceID, err)
	}
	cfg.Race.Status = model.RaceStatus(status)

	rows, err := s.pool.Query(ctx,
		`SELECT player_id, car_id, join_order FROM race_participants
		 WHERE race_id = $1 ORDER BY join_order`, raceID)
	if err != nil {
		return nil, fmt.Errorf("load participants %s: %w", raceID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p engine.FallbackParticipant
		if err := rows.Scan(&p.PlayerID, &p.CarID, &p.JoinOrder); err != nil {
			return nil, err
		}
		cfg.Participants = append(cfg.Participants, p)
	}
	return &cfg, rows.Err()
}

// Results returns archived standings for a finished race.
func (s *Postgres) Results(ctx context.Context, raceID string) (*model.RaceResult, error) {
	result := &model.RaceResult{RaceID: raceID}
	err := s.pool.QueryRow(ctx,
		`SELECT track_id, total_laps, race_time_sec FROM races WHERE id = $1 AND status = $2`,
		raceID, string(model.RaceFinished)).
		Scan(&result.TrackID, &result.TotalLaps, &result.RaceTimeSec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load race %s: %w", raceID, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT position, player_id, car_id, laps, total_time_sec
		 FROM race_results WHERE race_id = $1 ORDER BY position`, raceID)
	if err != nil {
		return nil, fmt.Errorf("load results %s: %w", raceID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var line model.FinalResult
		if err := rows.Scan(&line.Position, &line.PlayerID, &line.CarID, &line.Laps, &line.TotalTimeSec); err != nil {
			return nil, err
		}
		result.Standings = append(result.Standings, line)
	}
	return result, rows.Err()
}

// ActiveRaceIDs lists races still marked active, for the recovery sweep
// at process start.
func (s *Postgres) ActiveRaceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM races WHERE status = $1`, string(model.RaceActive))
	if err != nil {
		return nil, fmt.Errorf("list active races: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
