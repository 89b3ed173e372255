package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/JakeFAU/hnarchiver/internal/crawler"
)

// SQLiteBackend keeps the ledger in a SQLite table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path and ensures the
// stories table exists.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS stories (
		story_id INTEGER PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// LoadIDs returns every recorded story id.
func (b *SQLiteBackend) LoadIDs(ctx context.Context) ([]int64, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT story_id FROM stories ORDER BY story_id`)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err is checked below

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
func (b *SQLiteBackend) Append(ctx context.Context, entry crawler.StoryEntry) error {
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO stories (story_id, title, url, recorded_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(story_id) DO NOTHING`,
		entry.ID, entry.Title, entry.URL, recordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert story: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
