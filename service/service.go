// Package service orchestrates a block store, a stream registry, a
// branch cache, shape config and secrets into the two operations a
// caller actually wants: Append events to a named stream, and Query a
// stream's events.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shruggr/banyan/blockstore"
	"github.com/shruggr/banyan/builder"
	"github.com/shruggr/banyan/cache"
	"github.com/shruggr/banyan/compactseq"
	"github.com/shruggr/banyan/config"
	"github.com/shruggr/banyan/eventsource"
	"github.com/shruggr/banyan/forest"
	"github.com/shruggr/banyan/index"
	"github.com/shruggr/banyan/query"
	"github.com/shruggr/banyan/registry"
	"github.com/shruggr/banyan/secrets"
	"github.com/shruggr/banyan/tree"
)

// Service ties together everything one process needs to append to and
// query a set of named event streams. It owns every Builder it creates
// for the lifetime of the process, matching the single-writer Non-goal
// a Builder itself enforces: one Service instance is one stream's sole
// writer for as long as it runs.
type Service[K any, V any] struct {
	store    blockstore.Store
	registry registry.Store
	cache    cache.BranchCache[K]
	cfg      config.Config
	sg       compactseq.Semigroup[K]
	newSeq   func([]K) (compactseq.Seq[K], error)
	log      *slog.Logger

	mu      sync.Mutex
	streams map[string]*streamState[K, V]
}

type streamState[K any, V any] struct {
	b    *builder.Builder[K, V]
	tree tree.Tree[K]
}

// New builds a Service. logger defaults to slog.Default() when nil,
// keeping logging at the orchestration edge rather than a package
// global.
func New[K any, V any](store blockstore.Store, reg registry.Store, c cache.BranchCache[K], cfg config.Config, sg compactseq.Semigroup[K], newSeq func([]K) (compactseq.Seq[K], error), logger *slog.Logger) *Service[K, V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service[K, V]{
		store:    store,
		registry: reg,
		cache:    c,
		cfg:      cfg,
		sg:       sg,
		newSeq:   newSeq,
		log:      logger,
		streams:  make(map[string]*streamState[K, V]),
	}
}

// Append extracts events from rec via src and commits them to stream,
// creating the stream with fresh secrets on first use. It snapshots the
// builder and persists the resulting root pointer to the registry
// before returning, so a crash after Append can't leave the registry
// pointing at a stale root.
//
// Resuming appends to a stream that this Service did not itself create
// (e.g. after a process restart) is not supported: the builder's
// currently-open leaf/branch state lives only in memory, and
// reconstructing it from a persisted tree would require reopening the
// leaf's compressed array via index.Leaf.Builder — a valid path in
// principle, but one this Service does not implement. Append on a
// stream name the registry already knows about, but this Service
// hasn't built in-process, fails rather than silently starting a
// second, conflicting root for the same name.
func (s *Service[K, V]) Append(ctx context.Context, stream string, src eventsource.Source[K, V], rec *eventsource.Record) (tree.RootPointer, error) {
	events, err := src.Extract(ctx, rec)
	if err != nil {
		return tree.RootPointer{}, fmt.Errorf("service: extract events for stream %q: %w", stream, err)
	}
	if len(events) == 0 {
		return tree.RootPointer{}, nil
	}

	st, err := s.ensureStream(ctx, stream)
	if err != nil {
		return tree.RootPointer{}, err
	}

	batch := make([]builder.Event[K, V], len(events))
	for i, e := range events {
		batch[i] = builder.Event[K, V]{Key: e.Key, Value: e.Value}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := st.b.Extend(ctx, batch); err != nil {
		return tree.RootPointer{}, fmt.Errorf("service: extend stream %q: %w", stream, err)
	}

	t, err := st.b.Snapshot(ctx)
	if err != nil {
		return tree.RootPointer{}, fmt.Errorf("service: snapshot stream %q: %w", stream, err)
	}
	st.tree = t

	ptr := t.Pointer()
	if err := s.registry.Put(ctx, registry.Entry{
		Stream:   stream,
		RootLink: ptr.RootLink,
		Level:    ptr.Level,
		Count:    ptr.Count,
		Secrets:  t.Secrets,
	}); err != nil {
		return tree.RootPointer{}, fmt.Errorf("service: persist registry entry for stream %q: %w", stream, err)
	}

	s.log.Info("appended events", "stream", stream, "events", len(batch), "count", ptr.Count, "level", ptr.Level)
	return ptr, nil
}

func (s *Service[K, V]) ensureStream(ctx context.Context, stream string) (*streamState[K, V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.streams[stream]; ok {
		return st, nil
	}

	entry, err := s.registry.Get(ctx, stream)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		sec, err := secrets.New()
		if err != nil {
			return nil, fmt.Errorf("service: generate secrets for stream %q: %w", stream, err)
		}
		st := &streamState[K, V]{
			b:    builder.New[K, V](s.store, s.cfg, sec, s.sg, s.newSeq),
			tree: tree.Empty[K](sec),
		}
		s.streams[stream] = st
		return st, nil
	case err != nil:
		return nil, fmt.Errorf("service: look up stream %q: %w", stream, err)
	default:
		return nil, fmt.Errorf("service: stream %q already exists in the registry (count %d) but has no in-memory builder in this process; resuming an existing stream's appends across a restart is unsupported", stream, entry.Count)
	}
}

// Query runs q against stream's current tree, returning every matching
// (offset, key, value) triple. Streams this Service has appended to in
// the current process are served from their live in-memory tree;
// streams known only through the registry are reopened from their
// persisted root pointer, which works for any stream whose root is a
// branch (Level >= 1) — the common case once a stream holds more than
// one leaf's worth of events. Reopening decodes the root's children
// once, up front, to derive the root's own Summaries the same way a
// Builder does when it seals a branch: a branch's Summaries drive
// pruning at the branch itself, before any child is loaded, so they
// can't be left until children are visited.
//
// A registry-only stream whose root is a bare leaf (Level == 0) can't
// be reopened this way: a leaf's per-event keys live in its parent's
// in-memory index metadata, never serialized independently of the leaf
// data block itself, so the registry's {root_link, level, count} triple
// alone isn't enough to reconstruct a leaf-root's Keys sequence.
func (s *Service[K, V]) Query(ctx context.Context, stream string, q query.Query[K]) ([]forest.Event[K, V], error) {
	s.mu.Lock()
	st, inMemory := s.streams[stream]
	s.mu.Unlock()

	var t tree.Tree[K]
	var sec secrets.Secrets
	if inMemory {
		t = st.tree
		sec = st.tree.Secrets
	} else {
		entry, err := s.registry.Get(ctx, stream)
		if err != nil {
			return nil, fmt.Errorf("service: look up stream %q: %w", stream, err)
		}
		if entry.RootLink == nil {
			return nil, nil
		}
		if entry.Level == 0 {
			return nil, fmt.Errorf("service: stream %q has a bare-leaf root and was not built by this process; it cannot be reopened for query from the registry alone", stream)
		}
		sec = entry.Secrets
		root, err := rootFromPointer[K](ctx, forest.New[K](s.store, s.cache, sec, s.newSeq), entry)
		if err != nil {
			return nil, fmt.Errorf("service: reopen stream %q: %w", stream, err)
		}
		t = tree.Tree[K]{Root: &root, Level: entry.Level, Count: entry.Count, Secrets: entry.Secrets}
	}

	f := forest.New[K](s.store, s.cache, sec, s.newSeq)
	var out []forest.Event[K, V]
	var firstErr error
	err := forest.IterFiltered[K, V](ctx, f, t, q, func(e forest.Event[K, V], err error) bool {
		if err != nil {
			firstErr = err
			return false
		}
		out = append(out, e)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("service: query stream %q: %w", stream, err)
	}
	if firstErr != nil {
		return nil, fmt.Errorf("service: query stream %q: %w", stream, firstErr)
	}
	return out, nil
}

// Streams lists every stream name the registry knows about.
func (s *Service[K, V]) Streams(ctx context.Context) ([]string, error) {
	names, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: list streams: %w", err)
	}
	return names, nil
}

// rootFromPointer rebuilds the root Index for a registry-only branch
// stream. A branch's Summaries drive query pruning at the branch
// itself, before any child is loaded (forest.walkBranch consults
// bi.Summaries immediately after decoding children, not after
// recursing into them), so a stub with a nil Summaries would panic the
// first time a Query touches it. This decodes the root's children once
// via f.Load — safe against a Summaries-less stub, since loadBranch
// only reads Link — and folds each child's own Data().Summarize() into
// the root's Summaries exactly as builder.persistOpenBranch does when
// it persists an open branch for a snapshot.
func rootFromPointer[K any](ctx context.Context, f *forest.Forest[K], e registry.Entry) (index.Index[K], error) {
	stub := index.FromBranch(&index.BranchIndex[K]{
		Count:  e.Count,
		Level:  e.Level,
		Sealed: true,
		Link:   e.RootLink,
	})
	info, err := f.Load(ctx, stub)
	if err != nil {
		return index.Index[K]{}, fmt.Errorf("load root: %w", err)
	}
	if info.Kind == index.NodePurgedBranch {
		return index.Index[K]{}, forest.ErrPurged
	}

	summaries := make([]K, len(info.Branch.Children))
	for i, c := range info.Branch.Children {
		summaries[i] = c.Data().Summarize()
	}
	seq, err := f.NewSeq(summaries)
	if err != nil {
		return index.Index[K]{}, fmt.Errorf("derive root summaries: %w", err)
	}

	return index.FromBranch(&index.BranchIndex[K]{
		Count:     e.Count,
		Level:     e.Level,
		Sealed:    true,
		Link:      e.RootLink,
		Summaries: seq,
	}), nil
}

// Close releases the registry's resources. The block store is owned by
// the caller, not the Service, and is left open.
func (s *Service[K, V]) Close() error {
	if err := s.registry.Close(); err != nil {
		return fmt.Errorf("service: close registry: %w", err)
	}
	return nil
}
