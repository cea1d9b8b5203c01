// Package forest implements the read side: resolving an Index into a
// NodeInfo through the block store and branch cache, and traversing a
// Tree with query-driven pruning (spec §4.7).
package forest

import (
	"context"
	"errors"
	"fmt"

	"github.com/shruggr/banyan/blockstore"
	"github.com/shruggr/banyan/cache"
	"github.com/shruggr/banyan/compactseq"
	"github.com/shruggr/banyan/index"
	"github.com/shruggr/banyan/query"
	"github.com/shruggr/banyan/secrets"
	"github.com/shruggr/banyan/tree"
)

// ErrPurged is reported, per matching position, when a query would
// otherwise visit a node whose payload block has been dropped from the
// store (spec §4.8 failure semantics, §7).
var ErrPurged = errors.New("forest: node purged")

// Forest composes a block store, a branch cache, and the tree's
// secrets into everything needed to resolve indices into content.
type Forest[K any] struct {
	Store   blockstore.Store
	Cache   cache.BranchCache[K]
	Secrets secrets.Secrets
	// NewSeq reconstructs a compactseq.Seq[K] from a decoded key slice;
	// ordinarily compactseq.NewSimpleSeq bound to the tree's semigroup.
	NewSeq func([]K) (compactseq.Seq[K], error)
}

// New builds a Forest. cache may be nil to disable branch caching.
func New[K any](store blockstore.Store, c cache.BranchCache[K], s secrets.Secrets, newSeq func([]K) (compactseq.Seq[K], error)) *Forest[K] {
	return &Forest[K]{Store: store, Cache: c, Secrets: s, NewSeq: newSeq}
}

// Load resolves idx into a NodeInfo, fetching and decoding its block
// unless the node is purged. Branch decoding consults the cache first.
func (f *Forest[K]) Load(ctx context.Context, idx index.Index[K]) (index.NodeInfo[K], error) {
	if idx.Kind == index.KindLeaf {
		return f.loadLeaf(ctx, idx.Leaf)
	}
	return f.loadBranch(ctx, idx.Branch)
}

func (f *Forest[K]) loadLeaf(ctx context.Context, li *index.LeafIndex[K]) (index.NodeInfo[K], error) {
	if li.Link == nil {
		return index.NodeInfo[K]{Kind: index.NodePurgedLeaf, LeafIndex: li}, nil
	}
	data, err := f.Store.Get(ctx, *li.Link)
	if err != nil {
		return index.NodeInfo[K]{}, fmt.Errorf("forest: load leaf: %w", err)
	}
	return index.NodeInfo[K]{Kind: index.NodeLeaf, LeafIndex: li, Leaf: index.NewLeaf(data)}, nil
}

func (f *Forest[K]) loadBranch(ctx context.Context, bi *index.BranchIndex[K]) (index.NodeInfo[K], error) {
	if bi.Link == nil {
		return index.NodeInfo[K]{Kind: index.NodePurgedBranch, BranchIndex: bi}, nil
	}
	if f.Cache != nil {
		if branch, ok := f.Cache.Get(*bi.Link); ok {
			return index.NodeInfo[K]{Kind: index.NodeBranch, BranchIndex: bi, Branch: branch}, nil
		}
	}
	data, err := f.Store.Get(ctx, *bi.Link)
	if err != nil {
		return index.NodeInfo[K]{}, fmt.Errorf("forest: load branch: %w", err)
	}
	children, err := index.DeserializeCompressed(f.Secrets.IndexKey, data, f.NewSeq)
	if err != nil {
		return index.NodeInfo[K]{}, fmt.Errorf("forest: decode branch: %w", err)
	}
	branch, err := index.NewBranch(children)
	if err != nil {
		return index.NodeInfo[K]{}, fmt.Errorf("forest: %w", err)
	}
	if f.Cache != nil {
		f.Cache.Put(*bi.Link, branch)
	}
	return index.NodeInfo[K]{Kind: index.NodeBranch, BranchIndex: bi, Branch: branch}, nil
}

// Event is one decoded (offset, key, value) triple yielded by a
// traversal.
type Event[K any, V any] struct {
	Offset uint64
	Key    K
	Value  V
}

// Collect fully enumerates tree in extension order (spec §4.7
// "collect"). It propagates the first per-item error encountered.
func Collect[K any, V any](ctx context.Context, f *Forest[K], t tree.Tree[K]) ([]Event[K, V], error) {
	var out []Event[K, V]
	var firstErr error
	_ = IterFiltered[K, V](ctx, f, t, query.AllQuery[K]{}, func(e Event[K, V], err error) bool {
		if err != nil {
			firstErr = err
			return false
		}
		out = append(out, e)
		return true
	})
	return out, firstErr
}

// IterFiltered performs a depth-first, left-to-right traversal of t,
// descending only into subtrees q's summary intersection does not
// exclude, and calling fn for each surviving (offset, key, value).
// fn receives a non-nil error for positions it can't actually resolve
// (a purged node, a failed fetch); returning false from fn stops the
// traversal early.
func IterFiltered[K any, V any](ctx context.Context, f *Forest[K], t tree.Tree[K], q query.Query[K], fn func(Event[K, V], error) bool) error {
	if t.Root == nil {
		return nil
	}
	_, err := walk[K, V](ctx, f, *t.Root, 0, q, fn)
	return err
}

func walk[K any, V any](ctx context.Context, f *Forest[K], idx index.Index[K], offset uint64, q query.Query[K], fn func(Event[K, V], error) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if idx.Kind == index.KindLeaf {
		return walkLeaf[K, V](ctx, f, idx, offset, q, fn)
	}
	return walkBranch[K, V](ctx, f, idx, offset, q, fn)
}

func walkLeaf[K any, V any](ctx context.Context, f *Forest[K], idx index.Index[K], offset uint64, q query.Query[K], fn func(Event[K, V], error) bool) (bool, error) {
	li := idx.Leaf
	count := int(li.Keys.Count())
	bits := make([]bool, count)
	offsets := make([]uint64, count+1)
	for i := range offsets {
		offsets[i] = offset + uint64(i)
	}
	q.IntersectsKeys(offsets, li.Keys, bits)

	info, err := f.loadLeaf(ctx, li)
	if err != nil {
		return emitFailures[K, V](offset, li.Keys, bits, err, fn)
	}
	if info.Kind == index.NodePurgedLeaf {
		return emitFailures[K, V](offset, li.Keys, bits, ErrPurged, fn)
	}

	leaf := info.Leaf
	for i := 0; i < count; i++ {
		if !bits[i] {
			continue
		}
		key, _ := li.Keys.Get(i)
		var val V
		evtOffset := offset + uint64(i)
		if err := leaf.ChildAt(uint64(i), &val); err != nil {
			if !fn(Event[K, V]{Offset: evtOffset, Key: key}, err) {
				return false, nil
			}
			continue
		}
		if !fn(Event[K, V]{Offset: evtOffset, Key: key, Value: val}, nil) {
			return false, nil
		}
	}
	return true, nil
}

func emitFailures[K any, V any](offset uint64, keys compactseq.Seq[K], bits []bool, err error, fn func(Event[K, V], error) bool) (bool, error) {
	for i, set := range bits {
		if !set {
			continue
		}
		key, _ := keys.Get(i)
		if !fn(Event[K, V]{Offset: offset + uint64(i), Key: key}, err) {
			return false, nil
		}
	}
	return true, nil
}

func walkBranch[K any, V any](ctx context.Context, f *Forest[K], idx index.Index[K], offset uint64, q query.Query[K], fn func(Event[K, V], error) bool) (bool, error) {
	bi := idx.Branch
	info, err := f.loadBranch(ctx, bi)
	if err != nil {
		return emitBranchFailure[K, V](offset, bi.Count, err, fn)
	}
	if info.Kind == index.NodePurgedBranch {
		return emitBranchFailure[K, V](offset, bi.Count, ErrPurged, fn)
	}

	branch := info.Branch
	n := len(branch.Children)
	offsets := make([]uint64, n+1)
	cum := offset
	for i, child := range branch.Children {
		offsets[i] = cum
		cum += child.Count()
	}
	offsets[n] = cum

	bits := make([]bool, n)
	q.IntersectsSummary(bi.Level, offsets, bi.Summaries, bits)

	for i, child := range branch.Children {
		if !bits[i] {
			continue
		}
		cont, err := walk[K, V](ctx, f, child, offsets[i], q, fn)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
	return true, nil
}

func emitBranchFailure[K any, V any](offset, count uint64, err error, fn func(Event[K, V], error) bool) (bool, error) {
	for i := uint64(0); i < count; i++ {
		var zero K
		if !fn(Event[K, V]{Offset: offset + i, Key: zero}, err) {
			return false, nil
		}
	}
	return true, nil
}
