package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lucaswhitaker22/specracer/model"
)

// DefaultStateTTL is how long a mirrored race state stays in the cache
// without being refreshed by a tick.
const DefaultStateTTL = time.Hour

// Cache mirrors live race state into Redis under race_state:{raceId} so
// other processes and operators can read it without touching an engine.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCache wraps a Redis client. ttl falls back to DefaultStateTTL.
func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func stateKey(raceID string) string { return "race_state:" + raceID }

// PutState overwrites the cached state for a race.
func (c *Cache) PutState(ctx context.Context, state *model.RaceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", state.ID, err)
	}
	return c.client.Set(ctx, stateKey(state.ID), data, c.ttl).Err()
}

// GetState reads a cached state; ErrNotFound when absent.
func (c *Cache) GetState(ctx context.Context, raceID string) (*model.RaceState, error) {
	data, err := c.client.Get(ctx, stateKey(raceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var state model.RaceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", raceID, err)
	}
	return &state, nil
}

// DeleteState drops the cached state, part of post-race cleanup.
func (c *Cache) DeleteState(ctx context.Context, raceID string) error {
	return c.client.Del(ctx, stateKey(raceID)).Err()
}

// Ping checks cache liveness, for health probes.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// StateWriter decouples the tick path from cache I/O: Offer never
// blocks, and a writer goroutine drains the buffer. Under pressure older
// pending states are dropped; the cache is a mirror, not the record.
type StateWriter struct {
	cache   *Cache
	pending chan *model.RaceState
	log     zerolog.Logger
}

// NewStateWriter builds a writer with a bounded buffer.
func NewStateWriter(cache *Cache, buffer int, logger zerolog.Logger) *StateWriter {
	if buffer <= 0 {
		buffer = 64
	}
	return &StateWriter{
		cache:   cache,
		pending: make(chan *model.RaceState, buffer),
		log:     logger.With().Str("component", "state_writer").Logger(),
	}
}

// Offer queues a state for mirroring, dropping the oldest pending entry
// when the buffer is full.
func (w *StateWriter) Offer(state *model.RaceState) {
	for {
		select {
		case w.pending <- state:
			return
		default:
		}
		select {
		case <-w.pending:
		default:
		}
	}
}

// Run writes queued states until done closes.
func (w *StateWriter) Run(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case state := <-w.pending:
			writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := w.cache.PutState(writeCtx, state); err != nil {
				w.log.Warn().Err(err).Str("race_id", state.ID).Msg("state mirror failed")
			}
			cancel()
		}
	}
}
