// Package sqlite is a SQLite-backed implementation of registry.Store:
// one row per stream name, the same Config/New/initSchema shape and
// %w-wrapped error idiom used elsewhere in this module.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shruggr/banyan/link"
	"github.com/shruggr/banyan/registry"
)

// Store is a SQLite-backed implementation of registry.Store.
type Store struct {
	db *sql.DB
}

// Config holds configuration for SQLite.
type Config struct {
	DBPath string // Path to SQLite database file
}

// New creates a new SQLite-backed registry store.
func New(config *Config) (*Store, error) {
	if config.DBPath == "" {
		return nil, fmt.Errorf("DBPath is required")
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS streams (
		stream      TEXT PRIMARY KEY,
		root_link   BLOB,
		level       INTEGER NOT NULL,
		count       INTEGER NOT NULL,
		index_key   BLOB NOT NULL,
		value_key   BLOB NOT NULL,
		updated_at  INTEGER DEFAULT (strftime('%s', 'now'))
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put creates or replaces the entry for e.Stream.
func (s *Store) Put(ctx context.Context, e registry.Entry) error {
	var rootLink []byte
	if e.RootLink != nil {
		rootLink = e.RootLink.Bytes()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO streams (stream, root_link, level, count, index_key, value_key)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Stream, rootLink, e.Level, e.Count, e.Secrets.IndexKey[:], e.Secrets.ValueKey[:],
	)
	if err != nil {
		return fmt.Errorf("failed to put stream %q: %w", e.Stream, err)
	}
	return nil
}

// Get retrieves the entry for stream, or registry.ErrNotFound.
func (s *Store) Get(ctx context.Context, stream string) (registry.Entry, error) {
	var e registry.Entry
	e.Stream = stream
	var rootLink, indexKey, valueKey []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT root_link, level, count, index_key, value_key FROM streams WHERE stream = ?`,
		stream,
	).Scan(&rootLink, &e.Level, &e.Count, &indexKey, &valueKey)

	if err == sql.ErrNoRows {
		return registry.Entry{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Entry{}, fmt.Errorf("failed to query stream %q: %w", stream, err)
	}

	if rootLink != nil {
		var l link.Link
		copy(l[:], rootLink)
		e.RootLink = &l
	}
	copy(e.Secrets.IndexKey[:], indexKey)
	copy(e.Secrets.ValueKey[:], valueKey)

	return e, nil
}

// Delete removes the entry for stream. It is not an error to delete a
// stream that doesn't exist.
func (s *Store) Delete(ctx context.Context, stream string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM streams WHERE stream = ?`, stream)
	if err != nil {
		return fmt.Errorf("failed to delete stream %q: %w", stream, err)
	}
	return nil
}

// List returns every known stream name, ordered by name.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stream FROM streams ORDER BY stream`)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan stream name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streams: %w", err)
	}
	return names, nil
}

// Close releases all database resources.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
