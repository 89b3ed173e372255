package ledger

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
)

const defaultTable = "stories"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection pool used by the ledger.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// PostgresBackend keeps the ledger in a Postgres table.
type PostgresBackend struct {
	pool  pgxPool
	table string
}

// NewPostgresBackend connects to Postgres and ensures the table exists.
func NewPostgresBackend(ctx context.Context, cfg PostgresConfig) (*PostgresBackend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.postgres.dsn is required")
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
	backend, err := NewPostgresBackendWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := backend.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return backend, nil
}

// NewPostgresBackendWithPool constructs a backend from an existing pool
// (primarily for testing).
func NewPostgresBackendWithPool(pool pgxPool, table string) (*PostgresBackend, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresBackend{pool: pool, table: table}, nil
}

// EnsureSchema creates the ledger table if it is missing.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	story_id BIGINT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
)`, b.table)
	if _, err := b.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// LoadIDs returns every recorded story id.
func (b *PostgresBackend) LoadIDs(ctx context.Context) ([]int64, error) {
	rows, err := b.pool.Query(ctx, fmt.Sprintf(`SELECT story_id FROM %s ORDER BY story_id`, b.table))
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan story id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return ids, nil
}

// Append inserts entry. A duplicate id is left untouched.
func (b *PostgresBackend) Append(ctx context.Context, entry crawler.StoryEntry) error {
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (story_id, title, url, recorded_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (story_id) DO NOTHING`, b.table)
	if _, err := b.pool.Exec(ctx, query, entry.ID, entry.Title, entry.URL, recordedAt); err != nil {
		return fmt.Errorf("insert story: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (b *PostgresBackend) Close() error {
	if b == nil || b.pool == nil {
		return nil
	}
	b.pool.Close()
	return nil
}
