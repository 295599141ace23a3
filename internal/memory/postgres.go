package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT,
			message TEXT,
			response TEXT,
			emotion TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_created ON conversations (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			name TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	if _, err := pool.Exec(ctx,
		`INSERT INTO users (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		DefaultUserID, DefaultUserName,
	); err != nil {
		return fmt.Errorf("seed default user: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, record Record) (Record, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.CreatedAt = record.CreatedAt.UTC().Truncate(time.Microsecond)

	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (user_id, message, response, emotion, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		record.UserID,
		record.Message,
		record.Response,
		record.Emotion,
		record.CreatedAt,
	).Scan(&record.ID)
	if err != nil {
		return Record{}, fmt.Errorf("append conversation: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Recent(ctx context.Context, userID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, COALESCE(message, ''), COALESCE(response, ''), COALESCE(emotion, ''), created_at
		 FROM conversations WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, min(limit, 64))
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.Message, &r.Response, &r.Emotion, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
