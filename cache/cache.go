// Package cache defines the bounded branch cache the forest consults
// before hitting the block store: branch nodes are read far more often
// than they're written, and re-decoding + re-decrypting an index block
// on every traversal step would dominate query cost (spec §4.7).
package cache

import (
	"github.com/shruggr/banyan/index"
	"github.com/shruggr/banyan/link"
)

// BranchCache holds fully-materialized branch nodes keyed by their
// block link. It never sees leaves: leaf data blocks are consumed once
// per matching query and aren't worth caching the same way.
type BranchCache[K any] interface {
	// Get retrieves a cached branch for link, if present.
	Get(l link.Link) (*index.Branch[K], bool)

	// Put stores a branch under link, possibly evicting another entry.
	Put(l link.Link, b *index.Branch[K])

	// Remove drops link's entry, if any.
	Remove(l link.Link)

	// Purge clears every cached entry.
	Purge()
}
