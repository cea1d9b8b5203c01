// Package memory provides a bounded in-memory cache.BranchCache backed
// by an LRU eviction policy.
package memory

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shruggr/banyan/index"
	"github.com/shruggr/banyan/link"
)

// Cache is an LRU-bounded cache.BranchCache.
type Cache[K any] struct {
	lru *lru.Cache[link.Link, *index.Branch[K]]
	mu  sync.RWMutex
}

// New creates a branch cache holding at most size entries.
func New[K any](size int) (*Cache[K], error) {
	l, err := lru.New[link.Link, *index.Branch[K]](size)
	if err != nil {
		return nil, err
	}
	return &Cache[K]{lru: l}, nil
}

// Get retrieves the cached branch for l, if present.
func (c *Cache[K]) Get(l link.Link) (*index.Branch[K], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Get(l)
}

// Put stores b under l, possibly evicting the least recently used
// entry.
func (c *Cache[K]) Put(l link.Link, b *index.Branch[K]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(l, b)
}

// Remove drops l's entry, if any.
func (c *Cache[K]) Remove(l link.Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(l)
}

// Purge clears every cached entry.
func (c *Cache[K]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
