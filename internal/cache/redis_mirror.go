// Package cache keeps a Redis copy of room snapshots in front of the
// database snapshot row.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix           = "sketchboard:snapshot:"
	defaultGenerationPrefix = "sketchboard:generation:"
	defaultTTL              = 5 * time.Minute
)

// RedisSnapshotMirror stores serialized room snapshots with a TTL. Each
// room also has a generation counter that Invalidate bumps; Put only
// stores a snapshot read under the current generation.
type RedisSnapshotMirror struct {
	client           *redis.Client
	prefix           string
	generationPrefix string
	ttl              time.Duration
}

// NewRedisSnapshotMirror connects to redisURL and verifies the connection.
func NewRedisSnapshotMirror(redisURL string, ttl time.Duration) (*RedisSnapshotMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisSnapshotMirrorWithClient(client, ttl), nil
}

// NewRedisSnapshotMirrorWithClient wraps an existing client. A zero ttl
// selects five minutes.
func NewRedisSnapshotMirrorWithClient(client *redis.Client, ttl time.Duration) *RedisSnapshotMirror {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisSnapshotMirror{
		client:           client,
		prefix:           defaultPrefix,
		generationPrefix: defaultGenerationPrefix,
		ttl:              ttl,
	}
}

func (m *RedisSnapshotMirror) key(roomID string) string {
	return m.prefix + roomID
}

func (m *RedisSnapshotMirror) generationKey(roomID string) string {
	return m.generationPrefix + roomID
}

// Generation returns the room's invalidation counter; zero when the room
// was never invalidated.
func (m *RedisSnapshotMirror) Generation(ctx context.Context, roomID string) (int64, error) {
	generation, err := readGeneration(ctx, m.client, m.generationKey(roomID))
	if err != nil {
		return 0, fmt.Errorf("read snapshot generation: %w", err)
	}
	return generation, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, reader stringGetter, key string) (int64, error) {
	generation, err := reader.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return generation, err
}

// Get returns the mirrored snapshot; ok is false on a miss.
func (m *RedisSnapshotMirror) Get(ctx context.Context, roomID string) (canvas.Snapshot, bool, error) {
	raw, err := m.client.Get(ctx, m.key(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return canvas.Snapshot{}, false, nil
	}
	if err != nil {
		return canvas.Snapshot{}, false, fmt.Errorf("read snapshot mirror: %w", err)
	}
	var snapshot canvas.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		_ = m.client.Del(ctx, m.key(roomID)).Err()
		return canvas.Snapshot{}, false, nil
	}
	if snapshot.Shapes == nil {
		snapshot.Shapes = make(map[string]canvas.Shape)
	}
	return snapshot, true, nil
}

// Put stores a snapshot for the mirror TTL if the room's generation still
// equals generation. stored is false when an invalidation happened since
// the generation was read.
func (m *RedisSnapshotMirror) Put(ctx context.Context, snapshot canvas.Snapshot, generation int64) (bool, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}

	generationKey := m.generationKey(snapshot.RoomID)
	stored := false
	err = m.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, generationKey)
		if err != nil {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, m.key(snapshot.RoomID), raw, m.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		stored = true
		return nil
	}, generationKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("write snapshot mirror: %w", err)
	}
	return stored, nil
}

// Invalidate bumps the room's generation and drops its mirrored snapshot.
func (m *RedisSnapshotMirror) Invalidate(ctx context.Context, roomID string) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, m.generationKey(roomID))
		pipe.Del(ctx, m.key(roomID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate snapshot mirror: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (m *RedisSnapshotMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (m *RedisSnapshotMirror) Close() error {
	return m.client.Close()
}
