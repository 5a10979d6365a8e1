// Package records reads work items from the remote system of record and
// writes repaired items back. The last successful fetch per side is cached
// locally and served when the remote database is disabled or unreachable.
package records

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib"

	"repairedge/config"
)

// Cache is the local copy of the last fetched item list per side.
type Cache interface {
	ReplaceCachedItems(side string, items []int) error
	ListCachedItems(side string) ([]int, error)
	RemoveCachedItem(side string, position int) error
}

const remoteSchema = `
CREATE TABLE IF NOT EXISTS repair_items (
    id          BIGSERIAL PRIMARY KEY,
    side        TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    position    INTEGER NOT NULL,
    task_id     TEXT,
    repaired_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_repair_items_side ON repair_items(side, repaired_at);
`

// Source fetches work items.
type Source struct {
	remote *sql.DB
	cache  Cache
}

// Open connects to the remote database when enabled. A nil remote leaves the
// source cache-only.
func Open(cfg config.RecordsConfig, cache Cache) (*Source, error) {
	s := &Source{cache: cache}
	if !cfg.Enabled || cfg.DSN == "" {
		return s, nil
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open records db: %w", err)
	}
	if _, err := db.Exec(remoteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate records db: %w", err)
	}
	s.remote = db
	return s, nil
}

// Remote reports whether a remote database is attached.
func (s *Source) Remote() bool { return s.remote != nil }

// Close releases the remote connection.
func (s *Source) Close() error {
	if s.remote == nil {
		return nil
	}
	return s.remote.Close()
}

// FetchWorkItems returns the unrepaired item positions for a side in order.
func (s *Source) FetchWorkItems(ctx context.Context, side string) ([]int, error) {
	if s.remote == nil {
		return s.cache.ListCachedItems(side)
	}
	items, err := s.fetchRemote(ctx, side)
	if err != nil {
		cached, cerr := s.cache.ListCachedItems(side)
		if cerr != nil || len(cached) == 0 {
			return nil, fmt.Errorf("fetch work items for side %s: %w", side, err)
		}
		log.Printf("records: remote fetch for side %s failed, using %d cached items: %v", side, len(cached), err)
		return cached, nil
	}
	if err := s.cache.ReplaceCachedItems(side, items); err != nil {
		log.Printf("records: cache items for side %s: %v", side, err)
	}
	return items, nil
}

func (s *Source) fetchRemote(ctx context.Context, side string) ([]int, error) {
	rows, err := s.remote.QueryContext(ctx,
		`SELECT position FROM repair_items WHERE side = $1 AND repaired_at IS NULL ORDER BY seq, id`, side)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReportItemRepaired drops position from the local cache and, with a remote
// database, marks the earliest unrepaired item at position as done by taskID.
func (s *Source) ReportItemRepaired(ctx context.Context, side, taskID string, position int) error {
	if err := s.cache.RemoveCachedItem(side, position); err != nil {
		log.Printf("records: uncache item %d for side %s: %v", position, side, err)
	}
	if s.remote == nil {
		return nil
	}
	_, err := s.remote.ExecContext(ctx, `UPDATE repair_items SET repaired_at = NOW(), task_id = $3
		WHERE id = (SELECT id FROM repair_items WHERE side = $1 AND position = $2 AND repaired_at IS NULL ORDER BY seq, id LIMIT 1)`,
		side, position, taskID)
	return err
}

// SeedItems inserts unrepaired items for a side after any existing ones.
func (s *Source) SeedItems(ctx context.Context, side string, items []int) error {
	if s.remote == nil {
		return s.cache.ReplaceCachedItems(side, items)
	}
	tx, err := s.remote.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM repair_items WHERE side = $1`, side).Scan(&next); err != nil {
		return err
	}
	for i, p := range items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO repair_items (side, seq, position) VALUES ($1, $2, $3)`, side, next+i, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}
