// Package badger provides a BadgerDB-backed blockstore.Store for
// durable, on-disk content-addressed storage.
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/shruggr/banyan/blockstore"
	"github.com/shruggr/banyan/link"
)

// Store is a BadgerDB-backed implementation of blockstore.Store.
type Store struct {
	db   *badger.DB
	algo link.Algorithm
}

// Config holds configuration for the BadgerDB-backed store.
type Config struct {
	DataDir   string        // Directory for data storage
	Algorithm link.Algorithm // digest algorithm used to derive Links
}

// New opens (or creates) a BadgerDB-backed Store at config.DataDir.
func New(config *Config) (*Store, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("badger: DataDir is required")
	}
	algo := config.Algorithm
	if algo == 0 {
		algo = link.SHA256
	}

	opts := badger.DefaultOptions(config.DataDir)
	opts = opts.WithLogger(nil) // disable badger's verbose logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}

	return &Store{db: db, algo: algo}, nil
}

// Get retrieves a block by Link.
func (s *Store) Get(ctx context.Context, l link.Link) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(l.Bytes())
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, blockstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger: get: %w", err)
	}
	return value, nil
}

// Put stores data under its content hash. Blocks are content-addressed,
// so a Put of bytes already present is a cheap no-op write of the same
// key/value pair.
func (s *Store) Put(ctx context.Context, data []byte, pin *blockstore.TempPin) (link.Link, error) {
	l, err := link.Digest(data, s.algo)
	if err != nil {
		return link.Link{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(l.Bytes(), data)
	})
	if err != nil {
		return link.Link{}, fmt.Errorf("badger: put: %w", err)
	}
	if pin != nil {
		pin.Add(l)
	}
	return l, nil
}

// Algorithm reports the digest algorithm used to hash blocks.
func (s *Store) Algorithm() link.Algorithm {
	return s.algo
}

// Close releases all BadgerDB resources.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RunGC runs BadgerDB garbage collection. Call this periodically to
// reclaim space from superseded value log entries.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil // no rewrite was needed
	}
	return err
}
