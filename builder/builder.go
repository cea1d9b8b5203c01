// Package builder implements the write side: the StreamBuilder that
// incrementally appends events, packs them into leaves, and cascades
// sealed nodes upward into branches according to a shape Config (spec
// §4.8). It is grounded on the structure of
// original_source/banyan/src/tree.rs's Transaction/StreamBuilder state
// machine, expressed in a context-threaded, store-backed,
// %w-wrapped-error style consistent with the rest of this module.
package builder

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/shruggr/banyan/blockstore"
	"github.com/shruggr/banyan/compactseq"
	"github.com/shruggr/banyan/config"
	"github.com/shruggr/banyan/index"
	"github.com/shruggr/banyan/secrets"
	"github.com/shruggr/banyan/tree"
	"github.com/shruggr/banyan/zstdseq"
)

// Event is one (key, value) pair to append.
type Event[K any, V any] struct {
	Key   K
	Value V
}

// Builder is a single-writer, mutable working tree (spec §5: "a single
// StreamBuilder is owned by one writer at a time"). Extend appends
// events; Snapshot yields an immutable Tree reflecting everything
// extended so far.
type Builder[K any, V any] struct {
	store   blockstore.Store
	cfg     config.Config
	secrets secrets.Secrets
	sg      compactseq.Semigroup[K]
	newSeq  func([]K) (compactseq.Seq[K], error)
	pin     *blockstore.TempPin

	mu       sync.Mutex
	leaf     *openLeaf[K]
	branches []*openBranch[K] // branches[i] is the open branch at level i+1
	count    uint64
}

// New creates an empty Builder.
func New[K any, V any](store blockstore.Store, cfg config.Config, sec secrets.Secrets, sg compactseq.Semigroup[K], newSeq func([]K) (compactseq.Seq[K], error)) *Builder[K, V] {
	return &Builder[K, V]{
		store:   store,
		cfg:     cfg,
		secrets: sec,
		sg:      sg,
		newSeq:  newSeq,
		pin:     blockstore.NewTempPin(),
	}
}

// Pin returns the builder's temp pin, which accumulates every link
// this builder has written. Release it once the builder (and every
// Tree snapshotted from it) is no longer needed.
func (b *Builder[K, V]) Pin() *blockstore.TempPin {
	return b.pin
}

// Count returns the total number of events extended so far.
func (b *Builder[K, V]) Count() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

type openLeaf[K any] struct {
	zb      *zstdseq.Builder
	pending []any
	keys    compactseq.Seq[K]
	rawSize uint64 // sum of uncompressed CBOR value sizes pushed so far
}

type openBranch[K any] struct {
	children  []index.Index[K]
	summaries compactseq.Seq[K]
}

func (b *Builder[K, V]) cloneLeaf() (*openLeaf[K], error) {
	if b.leaf == nil {
		return nil, nil
	}
	zb, err := zstdseq.NewBuilder(b.cfg.ZstdLevel)
	if err != nil {
		return nil, err
	}
	pending := make([]any, len(b.leaf.pending))
	copy(pending, b.leaf.pending)
	for _, v := range pending {
		if err := zb.Push(v); err != nil {
			return nil, err
		}
	}
	var keys compactseq.Seq[K]
	if b.leaf.keys != nil {
		var err error
		keys, err = b.newSeq(b.leaf.keys.ToSlice())
		if err != nil {
			return nil, err
		}
	}
	return &openLeaf[K]{zb: zb, pending: pending, keys: keys, rawSize: b.leaf.rawSize}, nil
}

func (b *Builder[K, V]) cloneBranches() ([]*openBranch[K], error) {
	out := make([]*openBranch[K], len(b.branches))
	for i, ob := range b.branches {
		if ob == nil {
			continue
		}
		children := make([]index.Index[K], len(ob.children))
		copy(children, ob.children)
		var summaries compactseq.Seq[K]
		if ob.summaries != nil {
			var err error
			summaries, err = b.newSeq(ob.summaries.ToSlice())
			if err != nil {
				return nil, err
			}
		}
		out[i] = &openBranch[K]{children: children, summaries: summaries}
	}
	return out, nil
}

// Extend appends events in order. It is all-or-nothing: on error the
// builder is restored to its pre-call state (spec §4.8 failure
// semantics, §7 "extend is all-or-nothing").
//
// A Builder is owned by one goroutine at a time (spec §5: "a single
// StreamBuilder is owned by one writer at a time"); calling Extend or
// Snapshot while another call is already in flight panics rather than
// blocking, the Go analogue of Rust's single-ownership &mut self.
func (b *Builder[K, V]) Extend(ctx context.Context, events []Event[K, V]) error {
	if !b.mu.TryLock() {
		panic("builder: concurrent Extend/Snapshot on a single-writer Builder")
	}
	defer b.mu.Unlock()

	savedLeaf, err := b.cloneLeaf()
	if err != nil {
		return fmt.Errorf("builder: snapshot leaf before extend: %w", err)
	}
	savedBranches, err := b.cloneBranches()
	if err != nil {
		return fmt.Errorf("builder: snapshot branches before extend: %w", err)
	}
	savedCount := b.count

	if err := b.extendLocked(ctx, events); err != nil {
		b.leaf = savedLeaf
		b.branches = savedBranches
		b.count = savedCount
		return err
	}
	return nil
}

func (b *Builder[K, V]) extendLocked(ctx context.Context, events []Event[K, V]) error {
	for _, e := range events {
		if err := b.pushEvent(ctx, e); err != nil {
			return err
		}
		b.count++
	}
	return nil
}

func (b *Builder[K, V]) pushEvent(ctx context.Context, e Event[K, V]) error {
	if b.leaf == nil {
		zb, err := zstdseq.NewBuilder(b.cfg.ZstdLevel)
		if err != nil {
			return fmt.Errorf("builder: open leaf: %w", err)
		}
		b.leaf = &openLeaf[K]{zb: zb}
	}

	raw, err := cbor.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("builder: marshal value: %w", err)
	}
	if b.leaf.rawSize+uint64(len(raw)) > b.cfg.MaxUncompressedLeafSize {
		return fmt.Errorf("builder: leaf uncompressed size would exceed MaxUncompressedLeafSize (%d bytes)", b.cfg.MaxUncompressedLeafSize)
	}

	if err := b.leaf.zb.Push(e.Value); err != nil {
		return fmt.Errorf("builder: push value: %w", err)
	}
	b.leaf.rawSize += uint64(len(raw))
	b.leaf.pending = append(b.leaf.pending, e.Value)
	if b.leaf.keys == nil {
		b.leaf.keys = compactseq.SingleSimpleSeq(b.sg, e.Key)
	} else {
		// The reference key-packing policy always pushes a new element;
		// extend (collapsing into the last key) is left to semigroups
		// that want it (spec §4.8 "Key packing").
		b.leaf.keys.Push(e.Key)
	}

	size, err := b.leaf.zb.CompressedSize()
	if err != nil {
		return fmt.Errorf("builder: measure leaf size: %w", err)
	}
	if size >= b.cfg.TargetLeafSize || b.leaf.keys.Count() >= b.cfg.MaxLeafCount {
		return b.sealLeaf(ctx)
	}
	return nil
}

func (b *Builder[K, V]) sealLeaf(ctx context.Context) error {
	data, err := b.leaf.zb.Build()
	if err != nil {
		return fmt.Errorf("builder: build leaf: %w", err)
	}
	l, err := b.store.Put(ctx, data, b.pin)
	if err != nil {
		return fmt.Errorf("builder: put leaf: %w", err)
	}
	idx := index.FromLeaf(&index.LeafIndex[K]{
		Sealed:     true,
		Link:       &l,
		Keys:       b.leaf.keys,
		ValueBytes: uint64(len(data)),
	})
	b.leaf = nil
	return b.pushChild(ctx, 1, idx)
}

func (b *Builder[K, V]) pushChild(ctx context.Context, level uint32, child index.Index[K]) error {
	i := int(level) - 1
	for len(b.branches) <= i {
		b.branches = append(b.branches, nil)
	}
	ob := b.branches[i]
	if ob == nil {
		ob = &openBranch[K]{}
		b.branches[i] = ob
	}
	ob.children = append(ob.children, child)
	summary := child.Data().Summarize()
	if ob.summaries == nil {
		ob.summaries = compactseq.SingleSimpleSeq(b.sg, summary)
	} else {
		ob.summaries.Push(summary)
	}

	serialized, err := index.SerializeCompressed(b.secrets.IndexKey, ob.children, b.cfg.ZstdLevel)
	if err != nil {
		return fmt.Errorf("builder: measure branch size: %w", err)
	}
	// A branch with a single child never seals: sealing it would promote
	// it as the lone child of a new parent that is just as large, without
	// end.
	if len(ob.children) > 1 && (uint64(len(ob.children)) >= b.cfg.MaxBranchCount || uint64(len(serialized)) >= b.cfg.TargetBranchSize) {
		return b.sealBranch(ctx, level, serialized)
	}
	return nil
}

func (b *Builder[K, V]) sealBranch(ctx context.Context, level uint32, serialized []byte) error {
	i := int(level) - 1
	ob := b.branches[i]
	l, err := b.store.Put(ctx, serialized, b.pin)
	if err != nil {
		return fmt.Errorf("builder: put branch: %w", err)
	}
	var count, valueBytes uint64
	for _, c := range ob.children {
		count += c.Count()
		valueBytes += c.ValueBytes()
	}
	idx := index.FromBranch(&index.BranchIndex[K]{
		Count:      count,
		Level:      level,
		Sealed:     true,
		Link:       &l,
		Summaries:  ob.summaries,
		ValueBytes: valueBytes,
		KeyBytes:   uint64(len(serialized)),
	})
	b.branches[i] = nil
	return b.pushChild(ctx, level+1, idx)
}

// Snapshot returns an immutable Tree reflecting every event extended
// so far. Any currently-open (unsealed) leaf or branch is serialized
// and persisted speculatively so the snapshot is fully readable
// through the normal forest load path; it will be superseded by a
// fresh block once more events arrive and that node re-seals (spec
// §4.8 step 6: "either policy is acceptable").
func (b *Builder[K, V]) Snapshot(ctx context.Context) (tree.Tree[K], error) {
	if !b.mu.TryLock() {
		panic("builder: concurrent Extend/Snapshot on a single-writer Builder")
	}
	defer b.mu.Unlock()
	return b.snapshotLocked(ctx)
}

func (b *Builder[K, V]) snapshotLocked(ctx context.Context) (tree.Tree[K], error) {
	var current *index.Index[K]
	if b.leaf != nil {
		idx, err := b.persistOpenLeaf(ctx, b.leaf)
		if err != nil {
			return tree.Tree[K]{}, err
		}
		current = &idx
	}

	maxLevel := len(b.branches) + 1
	for level := 1; level <= maxLevel; level++ {
		var children []index.Index[K]
		if level-1 < len(b.branches) && b.branches[level-1] != nil {
			children = append(children, b.branches[level-1].children...)
		}
		if current != nil {
			children = append(children, *current)
		}
		switch len(children) {
		case 0:
			current = nil
		case 1:
			current = &children[0]
		default:
			idx, err := b.persistOpenBranch(ctx, uint32(level), children)
			if err != nil {
				return tree.Tree[K]{}, err
			}
			current = &idx
		}
	}

	var lvl uint32
	if current != nil {
		lvl = current.Level()
	}
	return tree.Tree[K]{Root: current, Level: lvl, Count: b.count, Secrets: b.secrets}, nil
}

func (b *Builder[K, V]) persistOpenLeaf(ctx context.Context, l *openLeaf[K]) (index.Index[K], error) {
	nb, err := zstdseq.NewBuilder(b.cfg.ZstdLevel)
	if err != nil {
		return index.Index[K]{}, fmt.Errorf("builder: snapshot leaf: %w", err)
	}
	for _, v := range l.pending {
		if err := nb.Push(v); err != nil {
			return index.Index[K]{}, fmt.Errorf("builder: snapshot leaf: %w", err)
		}
	}
	data, err := nb.Build()
	if err != nil {
		return index.Index[K]{}, fmt.Errorf("builder: snapshot leaf: %w", err)
	}
	link, err := b.store.Put(ctx, data, b.pin)
	if err != nil {
		return index.Index[K]{}, fmt.Errorf("builder: put snapshot leaf: %w", err)
	}
	return index.FromLeaf(&index.LeafIndex[K]{
		Sealed:     false,
		Link:       &link,
		Keys:       l.keys,
		ValueBytes: uint64(len(data)),
	}), nil
}

func (b *Builder[K, V]) persistOpenBranch(ctx context.Context, level uint32, children []index.Index[K]) (index.Index[K], error) {
	serialized, err := index.SerializeCompressed(b.secrets.IndexKey, children, b.cfg.ZstdLevel)
	if err != nil {
		return index.Index[K]{}, fmt.Errorf("builder: snapshot branch: %w", err)
	}
	link, err := b.store.Put(ctx, serialized, b.pin)
	if err != nil {
		return index.Index[K]{}, fmt.Errorf("builder: put snapshot branch: %w", err)
	}
	var count, valueBytes uint64
	summaries := make([]K, len(children))
	for i, c := range children {
		count += c.Count()
		valueBytes += c.ValueBytes()
		summaries[i] = c.Data().Summarize()
	}
	seq, err := b.newSeq(summaries)
	if err != nil {
		return index.Index[K]{}, fmt.Errorf("builder: snapshot branch summaries: %w", err)
	}
	return index.FromBranch(&index.BranchIndex[K]{
		Count:      count,
		Level:      level,
		Sealed:     false,
		Link:       &link,
		Summaries:  seq,
		ValueBytes: valueBytes,
		KeyBytes:   uint64(len(serialized)),
	}), nil
}
