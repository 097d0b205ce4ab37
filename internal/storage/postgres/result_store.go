// Package postgres mirrors pipeline records into a Postgres table.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/urlfetch/internal/pipeline"
)

// DefaultTable is used when no table name is configured.
const DefaultTable = "fetch_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ResultStoreConfig controls the Postgres connection pool used for result rows.
type ResultStoreConfig struct {
	DSN             string
	Table           string
	RunID           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ResultStore inserts one row per record.
type ResultStore struct {
	pool  execCloser
	table string
	runID string
	now   func() time.Time
}

// NewResultStore connects to Postgres using cfg.
func NewResultStore(ctx context.Context, cfg ResultStoreConfig) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mirrors.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResultStore{pool: pool, table: table, runID: cfg.RunID, now: time.Now}, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(pool execCloser, table, runID string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: pool, table: name, runID: runID, now: time.Now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Name identifies the mirror in logs and metrics.
func (s *ResultStore) Name() string {
	return "postgres"
}

// EnsureTable creates the result table when it does not exist yet.
func (s *ResultStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL,
	content_type TEXT NOT NULL,
	content JSONB,
	fetched_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Mirror inserts rec as a row.
func (s *ResultStore) Mirror(ctx context.Context, rec pipeline.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	content, err := marshalContent(rec.Content.Content)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	content_type,
	content,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5
)`, s.table)

	args := []any{
		s.runID,
		rec.URL,
		string(rec.Content.Type),
		content,
		s.now().UTC(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func marshalContent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
