// Package sqlite implements core.Store on an embedded SQLite database
// using the pure Go modernc.org/sqlite driver.
//
// The store uses a single connection. SQLite allows one writer at a time,
// so a single connection serializes transactions in Go instead of failing
// them with SQLITE_BUSY, and keeps ":memory:" databases alive for the
// lifetime of the Store.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/immunoload/internal/core"
)

//go:embed schema.sql
var schema string

// Store is a core.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ core.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// dsn appends the connection pragmas to path.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError("begin", err)
	}
	return &Tx{tx: tx}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() {
	s.db.Close()
}

// DB exposes the underlying handle for maintenance and tests.
// It shares the store's single connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Tx is a core.Tx over a database/sql transaction.
type Tx struct {
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return mapError("commit", t.tx.Commit())
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return mapError("rollback", err)
}

// Savepoint opens a named savepoint.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+quoteIdent(name))
	return mapError("savepoint", err)
}

// RollbackTo undoes everything since the savepoint and releases it.
func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	id := quoteIdent(name)
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+id); err != nil {
		return mapError("rollback to savepoint", err)
	}
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+id)
	return mapError("release savepoint", err)
}

// Release keeps the work since the savepoint and drops it.
func (t *Tx) Release(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+quoteIdent(name))
	return mapError("release savepoint", err)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
