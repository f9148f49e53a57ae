// Package session keeps per-workspace history of in-flight and completed
// engine tasks so state survives dashboard reloads. The store is an
// injected key-value abstraction: Redis in production, in-memory in tests.
//
// There is exactly one writer per workspace (the tracking service), so
// operations are plain read-modify-write with last-write-wins semantics.
// Records can silently diverge from the engine's own bookkeeping if the
// engine purges or reissues task ids; that is accepted, not corrected.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adscope/adscope/pkg/models"
)

// MaxRecords bounds history growth per workspace. Inserts go to the head;
// the tail is evicted past the cap.
const MaxRecords = 50

// Store is the session-history interface. Implementations must be safe
// for concurrent use.
type Store interface {
	// Record inserts a new record at the head of the workspace's history,
	// evicting the oldest records past MaxRecords.
	Record(ctx context.Context, workspaceID uuid.UUID, rec models.SessionRecord) error
	// Update merges a patch into the record with the given task id.
	// Unknown task ids are a no-op, never an error.
	Update(ctx context.Context, workspaceID uuid.UUID, taskID string, patch models.SessionPatch) error
	// Remove deletes a single record by task id.
	Remove(ctx context.Context, workspaceID uuid.UUID, taskID string) error
	// Clear deletes the workspace's entire history.
	Clear(ctx context.Context, workspaceID uuid.UUID) error
	// List returns the history, newest first.
	List(ctx context.Context, workspaceID uuid.UUID) ([]models.SessionRecord, error)
	Ping(ctx context.Context) error
}

// RedisStore implements Store on go-redis/v9, one JSON-encoded list per
// workspace.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore from a Redis URL. Histories expire
// after ttl of inactivity; zero means no expiry.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Record(ctx context.Context, workspaceID uuid.UUID, rec models.SessionRecord) error {
	return s.mutate(ctx, workspaceID, func(recs []models.SessionRecord) []models.SessionRecord {
		return insertCapped(recs, rec)
	})
}

func (s *RedisStore) Update(ctx context.Context, workspaceID uuid.UUID, taskID string, patch models.SessionPatch) error {
	return s.mutate(ctx, workspaceID, func(recs []models.SessionRecord) []models.SessionRecord {
		applyPatch(recs, taskID, patch, time.Now().UTC())
		return recs
	})
}

func (s *RedisStore) Remove(ctx context.Context, workspaceID uuid.UUID, taskID string) error {
	return s.mutate(ctx, workspaceID, func(recs []models.SessionRecord) []models.SessionRecord {
		return removeByTaskID(recs, taskID)
	})
}

func (s *RedisStore) Clear(ctx context.Context, workspaceID uuid.UUID) error {
	return s.client.Del(ctx, HistoryKey(workspaceID)).Err()
}

func (s *RedisStore) List(ctx context.Context, workspaceID uuid.UUID) ([]models.SessionRecord, error) {
	return s.load(ctx, workspaceID)
}

func (s *RedisStore) load(ctx context.Context, workspaceID uuid.UUID) ([]models.SessionRecord, error) {
	raw, err := s.client.Get(ctx, HistoryKey(workspaceID)).Bytes()
	if err == redis.Nil {
		return []models.SessionRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	var recs []models.SessionRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("decode session history: %w", err)
	}
	return recs, nil
}

func (s *RedisStore) mutate(ctx context.Context, workspaceID uuid.UUID, fn func([]models.SessionRecord) []models.SessionRecord) error {
	recs, err := s.load(ctx, workspaceID)
	if err != nil {
		return err
	}
	recs = fn(recs)

	raw, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode session history: %w", err)
	}
	if err := s.client.Set(ctx, HistoryKey(workspaceID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session history: %w", err)
	}
	return nil
}

// IncrWithExpiry atomically increments a counter key and refreshes its
// expiry. Used by the rate-limit middleware.
func (s *RedisStore) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// insertCapped prepends rec and evicts from the tail past MaxRecords.
func insertCapped(recs []models.SessionRecord, rec models.SessionRecord) []models.SessionRecord {
	recs = append([]models.SessionRecord{rec}, recs...)
	if len(recs) > MaxRecords {
		recs = recs[:MaxRecords]
	}
	return recs
}

// applyPatch merges the patch into the record matching taskID, in place.
// Missing task ids are left alone.
func applyPatch(recs []models.SessionRecord, taskID string, patch models.SessionPatch, now time.Time) {
	for i := range recs {
		if recs[i].TaskID == taskID {
			patch.Apply(&recs[i], now)
			return
		}
	}
}

func removeByTaskID(recs []models.SessionRecord, taskID string) []models.SessionRecord {
	out := recs[:0]
	for _, r := range recs {
		if r.TaskID != taskID {
			out = append(out, r)
		}
	}
	return out
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
