package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu        sync.RWMutex
	records   map[string][]TurnRecord
	states    map[string][]byte
	retention int
}

func NewInMemoryStore(retention int) *InMemoryStore {
	if retention <= 0 {
		retention = DefaultTurnRetention
	}
	return &InMemoryStore{
		records:   make(map[string][]TurnRecord),
		states:    make(map[string][]byte),
		retention: retention,
	}
}

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) LoadState(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.states[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (s *InMemoryStore) SaveState(_ context.Context, key string, blob []byte) error {
	cp := make([]byte, len(blob))
	copy(cp, blob)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = cp
	return nil
}

func (s *InMemoryStore) DeleteState(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	arr := append(s.records[record.UserID], record)
	if over := len(arr) - s.retention; over > 0 {
		arr = append([]TurnRecord(nil), arr[over:]...)
	}
	s.records[record.UserID] = arr
	return nil
}

func (s *InMemoryStore) RecentContext(_ context.Context, userID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
