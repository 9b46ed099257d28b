// Package postgres provides Postgres-backed template and news repositories.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultTemplateTable = "extraction_templates"
	DefaultNewsTable     = "news"
)

// PoolConfig controls the shared connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the repositories use.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// NewPool opens a pgx connection pool.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func tableName(name, fallback string) (string, error) {
	if name == "" {
		name = fallback
	}
	if !validTableName.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}

// EnsureSchema creates the template and news tables when missing.
func EnsureSchema(ctx context.Context, pool Pool, templateTable, newsTable string) error {
	tt, err := tableName(templateTable, DefaultTemplateTable)
	if err != nil {
		return err
	}
	nt, err := tableName(newsTable, DefaultNewsTable)
	if err != nil {
		return err
	}
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	source TEXT NOT NULL,
	version INT NOT NULL,
	title_selector TEXT NOT NULL DEFAULT '',
	summary_selector TEXT NOT NULL DEFAULT '',
	content_selector TEXT NOT NULL DEFAULT '',
	publish_time_selector TEXT NOT NULL DEFAULT '',
	title_xpath TEXT NOT NULL DEFAULT '',
	summary_xpath TEXT NOT NULL DEFAULT '',
	content_xpath TEXT NOT NULL DEFAULT '',
	publish_time_xpath TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	success_count INT NOT NULL DEFAULT 0,
	fail_count INT NOT NULL DEFAULT 0,
	last_used_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source, version)
)`, tt),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_active_idx ON %s (source) WHERE is_active`, tt, tt),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL,
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	full_text TEXT NOT NULL,
	publish_time TIMESTAMPTZ,
	tickers TEXT[] NOT NULL DEFAULT '{}',
	extraction_method TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	blob_uri TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, nt),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
