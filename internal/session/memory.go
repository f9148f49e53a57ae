package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adscope/adscope/pkg/models"
)

// MemoryStore is an in-process Store used in tests and when running
// without Redis. Semantics match RedisStore.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[uuid.UUID][]models.SessionRecord
	counters map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[uuid.UUID][]models.SessionRecord),
		counters: make(map[string]int64),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Record(_ context.Context, workspaceID uuid.UUID, rec models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[workspaceID] = insertCapped(s.records[workspaceID], rec)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, workspaceID uuid.UUID, taskID string, patch models.SessionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	applyPatch(s.records[workspaceID], taskID, patch, time.Now().UTC())
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, workspaceID uuid.UUID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[workspaceID] = removeByTaskID(s.records[workspaceID], taskID)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, workspaceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, workspaceID)
	return nil
}

func (s *MemoryStore) List(_ context.Context, workspaceID uuid.UUID) ([]models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SessionRecord, len(s.records[workspaceID]))
	copy(out, s.records[workspaceID])
	return out, nil
}

func (s *MemoryStore) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

var _ Store = (*MemoryStore)(nil)
