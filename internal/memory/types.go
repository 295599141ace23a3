package memory

import (
	"context"
	"time"
)

const (
	DefaultUserID   int64 = 1
	DefaultUserName       = "Default User"
)

// Record is one completed chat exchange. Records are append-only.
type Record struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Emotion   string    `json:"emotion"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves conversation records.
//
// Recent returns at most limit records for the user, newest first. Unknown
// users and non-positive limits yield an empty slice.
type Store interface {
	Append(ctx context.Context, record Record) (Record, error)
	Recent(ctx context.Context, userID int64, limit int) ([]Record, error)
	Ping(ctx context.Context) error
	Close() error
}

// Kind names the backend behind a Store for logs and readiness output.
func Kind(s Store) string {
	switch s.(type) {
	case *SQLiteStore:
		return "sqlite"
	case *PostgresStore:
		return "postgres"
	case *InMemoryStore:
		return "memory"
	default:
		return "custom"
	}
}

// newerThan orders by created_at then id, both descending.
func newerThan(a, b Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
