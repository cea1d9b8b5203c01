// Package blockstore defines the content-addressed block store the tree
// engine is built on: put bytes, get them back by the content hash,
// and a scoped temp pin that keeps a transaction's writes retained for
// its lifetime. Concrete backends live in blockstore/memory and
// blockstore/badger.
package blockstore

import (
	"context"
	"errors"
	"sync"

	"github.com/shruggr/banyan/link"
)

// ErrNotFound is returned by Get when no block is stored under the
// requested Link.
var ErrNotFound = errors.New("blockstore: not found")

// Store is the read/write interface the tree engine consumes. It never
// assumes idempotence beyond "Put of identical bytes yields the same
// Link" (spec §4.2).
type Store interface {
	// Get retrieves the bytes stored under link, or ErrNotFound.
	Get(ctx context.Context, l link.Link) ([]byte, error)

	// Put stores data under its content hash and returns the Link. If
	// pin is non-nil, the Link is added to it so the block is retained
	// for the pin's lifetime.
	Put(ctx context.Context, data []byte, pin *TempPin) (link.Link, error)

	// Algorithm reports the digest algorithm this store hashes blocks
	// with, so callers can derive the same Link independently (e.g. to
	// check presence before a Get).
	Algorithm() link.Algorithm

	// Close releases any resources held by the store.
	Close() error
}

// TempPin is a scoped retention set collecting every Link written
// during a transaction. The store (or a layer above it) is expected to
// honor retention of pinned links for as long as the pin is alive;
// the tree engine's contract with TempPin ends at bookkeeping — GC
// policy afterwards belongs to the store.
type TempPin struct {
	mu    sync.Mutex
	links []link.Link
	seen  map[link.Link]struct{}
}

// NewTempPin creates an empty pin.
func NewTempPin() *TempPin {
	return &TempPin{seen: make(map[link.Link]struct{})}
}

// Add records l in the pin if it isn't already present.
func (p *TempPin) Add(l link.Link) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[l]; ok {
		return
	}
	p.seen[l] = struct{}{}
	p.links = append(p.links, l)
}

// Links returns every Link added to the pin, in insertion order.
func (p *TempPin) Links() []link.Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]link.Link, len(p.links))
	copy(out, p.links)
	return out
}

// Release drops the pin's bookkeeping. It does not delete any blocks;
// retention after release is the store's responsibility.
func (p *TempPin) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links = nil
	p.seen = make(map[link.Link]struct{})
}
