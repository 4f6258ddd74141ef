// Package postgres persists scrape outcomes to Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// DefaultTable receives one row per scrape.
const DefaultTable = "scrapes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for scrape rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ScrapeStore writes scrape records into Postgres.
type ScrapeStore struct {
	pool  execCloser
	table string
}

// NewScrapeStore connects a pool using cfg.
func NewScrapeStore(ctx context.Context, cfg Config) (*ScrapeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &ScrapeStore{pool: pool, table: table}, nil
}

// NewScrapeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewScrapeStoreWithPool(pool execCloser, table string) (*ScrapeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ScrapeStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return DefaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ScrapeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordScrape upserts one row keyed by scrape id.
func (s *ScrapeStore) RecordScrape(ctx context.Context, record scraper.ScrapeRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("scrape store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	counts := record.Counts
	if counts == nil {
		counts = map[scraper.Category]int{}
	}
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	url,
	state,
	error,
	manifest_path,
	counts,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (id) DO UPDATE SET
	state = EXCLUDED.state,
	error = EXCLUDED.error,
	manifest_path = EXCLUDED.manifest_path,
	counts = EXCLUDED.counts,
	finished_at = EXCLUDED.finished_at`, s.table)

	args := []any{
		record.ID,
		record.URL,
		string(record.State),
		record.Error,
		record.ManifestPath,
		countsJSON,
		record.StartedAt,
		record.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert scrape: %w", err)
	}
	return nil
}
