// Package registry persists the tree root representation (spec §6:
// "{root_cid, level, count}") alongside a caller-chosen stream name, so
// a process restart can resume appending to or querying an existing
// stream.
package registry

import (
	"context"
	"errors"

	"github.com/shruggr/banyan/link"
	"github.com/shruggr/banyan/secrets"
)

// ErrNotFound is returned when no entry exists for a stream name.
var ErrNotFound = errors.New("registry: stream not found")

// Entry is one stream's persisted root pointer, mirroring
// tree.RootPointer plus the secrets needed to reopen it.
type Entry struct {
	Stream   string
	RootLink *link.Link // nil for an empty stream
	Level    uint32
	Count    uint64
	Secrets  secrets.Secrets
}

// Store defines the interface for persisting stream root pointers.
// Implementations use SQLite or another relational/KV backend.
type Store interface {
	// Put creates or replaces the entry for e.Stream.
	Put(ctx context.Context, e Entry) error

	// Get retrieves the entry for stream, or ErrNotFound.
	Get(ctx context.Context, stream string) (Entry, error)

	// Delete removes the entry for stream. It is not an error to delete
	// a stream that doesn't exist.
	Delete(ctx context.Context, stream string) error

	// List returns every known stream name.
	List(ctx context.Context) ([]string, error)

	// Close releases any resources.
	Close() error
}
