package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lucaswhitaker22/specracer/model"
)

// RedisBackend stores snapshot blobs under race_snapshot:{raceId}:{id}
// and a newest-first index list under race_snapshots:{raceId}. Both
// carry a TTL so abandoned races age out even if cleanup never runs.
type RedisBackend struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisBackend wraps a Redis client. ttl falls back to DefaultTTL.
func NewRedisBackend(client redis.UniversalClient, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBackend{client: client, ttl: ttl}
}

func blobKey(raceID, id string) string { return "race_snapshot:" + raceID + ":" + id }
func indexKey(raceID string) string    { return "race_snapshots:" + raceID }

// Put writes the blob and pushes its ID onto the race index atomically.
func (b *RedisBackend) Put(ctx context.Context, snap *model.RaceSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, blobKey(snap.RaceID, snap.ID), data, b.ttl)
	pipe.LPush(ctx, indexKey(snap.RaceID), snap.ID)
	pipe.Expire(ctx, indexKey(snap.RaceID), b.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Get fetches and decodes one snapshot blob.
func (b *RedisBackend) Get(ctx context.Context, raceID, id string) (*model.RaceSnapshot, error) {
	data, err := b.client.Get(ctx, blobKey(raceID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap model.RaceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: undecodable blob: %v", ErrInvalidSnapshot, err)
	}
	return &snap, nil
}

// IDs returns the index list, newest first.
func (b *RedisBackend) IDs(ctx context.Context, raceID string) ([]string, error) {
	return b.client.LRange(ctx, indexKey(raceID), 0, -1).Result()
}

// Trim deletes blobs past the keep horizon and shortens the index.
func (b *RedisBackend) Trim(ctx context.Context, raceID string, keep int) error {
	if keep < 1 {
		return b.Purge(ctx, raceID)
	}
	evicted, err := b.client.LRange(ctx, indexKey(raceID), int64(keep), -1).Result()
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	for _, id := range evicted {
		pipe.Del(ctx, blobKey(raceID, id))
	}
	pipe.LTrim(ctx, indexKey(raceID), 0, int64(keep)-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Purge removes the index and every blob for a race.
func (b *RedisBackend) Purge(ctx context.Context, raceID string) error {
	ids, err := b.client.LRange(ctx, indexKey(raceID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := b.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, blobKey(raceID, id))
	}
	pipe.Del(ctx, indexKey(raceID))
	_, err = pipe.Exec(ctx)
	return err
}
