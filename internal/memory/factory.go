package memory

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures a Store backend.
type Config struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
}

// NewStore opens the configured backend. Schema creation and default-user
// seeding happen here, so a returned Store is ready to serve.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	case "memory":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
