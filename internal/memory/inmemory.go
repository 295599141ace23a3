package memory

import (
	"context"
	"slices"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use. It keeps no
// users table; records for any user id are accepted.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64][]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[int64][]Record),
	}
}

func (s *InMemoryStore) Append(_ context.Context, record Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	record.ID = s.nextID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records[record.UserID] = append(s.records[record.UserID], record)
	return record, nil
}

func (s *InMemoryStore) Recent(_ context.Context, userID int64, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[userID]
	if limit <= 0 || len(arr) == 0 {
		return []Record{}, nil
	}

	out := slices.Clone(arr)
	slices.SortStableFunc(out, func(a, b Record) int {
		switch {
		case newerThan(a, b):
			return -1
		case newerThan(b, a):
			return 1
		default:
			return 0
		}
	})
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
