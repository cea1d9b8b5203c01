// Package memory provides an in-memory blockstore.Store, suitable for
// tests and the ops-counting fixtures in spec §8 scenario 3.
package memory

import (
	"context"
	"sync"

	"github.com/shruggr/banyan/blockstore"
	"github.com/shruggr/banyan/link"
)

// Store is a content-addressed, in-memory implementation of
// blockstore.Store.
type Store struct {
	algo link.Algorithm

	mu   sync.RWMutex
	data map[link.Link][]byte
}

// New creates a new in-memory Store hashing blocks with algo.
func New(algo link.Algorithm) *Store {
	return &Store{
		algo: algo,
		data: make(map[link.Link][]byte),
	}
}

// Get retrieves a value by Link.
func (s *Store) Get(ctx context.Context, l link.Link) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[l]
	if !ok {
		return nil, blockstore.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores data under its content hash.
func (s *Store) Put(ctx context.Context, data []byte, pin *blockstore.TempPin) (link.Link, error) {
	l, err := link.Digest(data, s.algo)
	if err != nil {
		return link.Link{}, err
	}
	s.mu.Lock()
	if _, ok := s.data[l]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.data[l] = cp
	}
	s.mu.Unlock()
	if pin != nil {
		pin.Add(l)
	}
	return l, nil
}

// Algorithm reports the digest algorithm used to hash blocks.
func (s *Store) Algorithm() link.Algorithm {
	return s.algo
}

// Close releases any resources. The in-memory store holds none.
func (s *Store) Close() error {
	return nil
}

// Delete removes a block directly, for simulating partial purges
// (spec §8 scenario 5).
func (s *Store) Delete(l link.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, l)
}

// Len reports how many distinct blocks are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
