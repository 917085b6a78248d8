// Package database selects and opens the configured core.Store backend.
package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/immunoload/internal/config"
	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/JonMunkholm/immunoload/internal/database/postgres"
	"github.com/JonMunkholm/immunoload/internal/database/sqlite"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the backend named by cfg.Driver and applies its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (core.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres, "postgresql", "pgx", "":
		store, err := postgres.Open(ctx, cfg.URL, postgres.PoolOptions{
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return store, nil
	case DriverSQLite, "sqlite3":
		store, err := sqlite.Open(ctx, sqlitePath(cfg.URL))
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// sqlitePath accepts a bare path or a sqlite:// URL.
func sqlitePath(url string) string {
	for _, prefix := range []string{"sqlite://", "sqlite:"} {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix)
		}
	}
	return url
}
