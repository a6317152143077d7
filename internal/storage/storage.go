// Package storage persists aggregation runs. SQLite is the default backend;
// a postgres:// DSN selects Postgres.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when no run matches an id or prefix.
var ErrNotFound = errors.New("run not found")

// Store is the persistence surface used by the CLI.
type Store interface {
	SaveRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context) ([]model.RunSummary, error)
	GetRunByPrefix(ctx context.Context, prefix string) (*model.RunSummary, error)
	LoadResult(ctx context.Context, runID string) (*model.Result, error)
	CardHistory(ctx context.Context, card string) ([]model.CardHistoryPoint, error)
	CardTotals(ctx context.Context, limit int) ([]model.CardStats, error)
	Overview(ctx context.Context) (model.DBOverview, error)
	DeleteRun(ctx context.Context, runID string) error
	Reset(ctx context.Context) error
	QueryRaw(ctx context.Context, query string) ([]string, [][]string, error)
	Close() error
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*PG)(nil)
)

// IsPostgresDSN reports whether dsn addresses a Postgres server.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// OpenStore opens the backend selected by dsn.
func OpenStore(ctx context.Context, dsn string, log *zap.SugaredLogger) (Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if IsPostgresDSN(dsn) {
		return OpenPostgres(ctx, dsn, log)
	}
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	db.log = log
	return db, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// DB wraps a sql.DB for the SQLite run store.
type DB struct {
	conn *sql.DB
	log  *zap.SugaredLogger
}

// Open opens (or creates) the SQLite database at the given path and applies the schema.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		conn.SetMaxOpenConns(1)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{conn: conn, log: zap.NewNop().Sugar()}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
