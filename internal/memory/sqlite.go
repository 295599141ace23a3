package memory

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed-width so lexical order matches chronological order.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

// SQLiteStore persists conversations in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + q.Encode()
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER,
			message TEXT,
			response TEXT,
			emotion TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_created ON conversations (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			name TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", stmt, err)
		}
	}
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, name) VALUES (?, ?)`,
		DefaultUserID, DefaultUserName,
	); err != nil {
		return fmt.Errorf("seed default user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, record Record) (Record, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.CreatedAt = record.CreatedAt.UTC().Truncate(time.Microsecond)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, message, response, emotion, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		record.UserID,
		record.Message,
		record.Response,
		record.Emotion,
		record.CreatedAt.Format(sqliteTimeLayout),
	)
	if err != nil {
		return Record{}, fmt.Errorf("append conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("append conversation id: %w", err)
	}
	record.ID = id
	return record, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, userID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message, response, emotion, created_at
		 FROM conversations WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, min(limit, 64))
	for rows.Next() {
		var (
			r                          Record
			message, response, emotion sql.NullString
			createdAt                  any
		)
		if err := rows.Scan(&r.ID, &r.UserID, &message, &response, &emotion, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		r.Message, r.Response, r.Emotion = message.String, response.String, emotion.String
		if r.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
			return nil, fmt.Errorf("conversation %d: %w", r.ID, err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return items, nil
}

// parseSQLiteTime accepts both the driver's time.Time conversion of
// TIMESTAMP columns and raw text written by us or by CURRENT_TIMESTAMP.
func parseSQLiteTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parseSQLiteTimeText(string(t))
	case string:
		return parseSQLiteTimeText(t)
	default:
		return time.Time{}, fmt.Errorf("unexpected created_at type %T", v)
	}
}

func parseSQLiteTimeText(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{sqliteTimeLayout, time.DateTime, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable created_at %q", s)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path is the database file the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }
