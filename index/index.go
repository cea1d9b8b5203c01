// Package index implements the in-memory index node types the tree is
// built from: the per-leaf key sequence, the per-branch summary
// sequence, and the branch/leaf payload wrappers around zstdseq (spec
// §4.4, §4.6). It is grounded directly on the reference
// implementation's index module (original_source/banyan/src/index.rs),
// translating the Rust enum/trait pair (Index<T>, TreeTypes) into a
// tagged struct generic over the key type K.
package index

import (
	"fmt"

	"github.com/shruggr/banyan/compactseq"
	"github.com/shruggr/banyan/link"
	"github.com/shruggr/banyan/zstdseq"
)

// Kind distinguishes the two index node variants.
type Kind int

const (
	KindLeaf Kind = iota
	KindBranch
)

// Index is either a LeafIndex or a BranchIndex, selected by Kind. Only
// one of Leaf/Branch is non-nil, matching the Rust Index<T> enum.
type Index[K any] struct {
	Kind   Kind
	Leaf   *LeafIndex[K]
	Branch *BranchIndex[K]
}

// FromLeaf wraps a LeafIndex as an Index.
func FromLeaf[K any](l *LeafIndex[K]) Index[K] {
	return Index[K]{Kind: KindLeaf, Leaf: l}
}

// FromBranch wraps a BranchIndex as an Index.
func FromBranch[K any](b *BranchIndex[K]) Index[K] {
	return Index[K]{Kind: KindBranch, Branch: b}
}

// LeafIndex indexes a leaf data block holding one or more events.
type LeafIndex[K any] struct {
	// Sealed reports whether the leaf has reached its shape limit and
	// will never be appended to again (spec §4.8).
	Sealed bool
	// Link addresses the leaf's data block in the block store. Nil
	// means the block has been purged (spec §4.10) and only the index
	// metadata survives.
	Link *link.Link
	// Keys holds one key per event in the leaf, in order.
	Keys compactseq.Seq[K]
	// ValueBytes is the serialized (compressed) size of the data block.
	ValueBytes uint64
}

// Purged reports whether the leaf's data block has been dropped.
func (i *LeafIndex[K]) Purged() bool {
	return i.Link == nil
}

// BranchIndex indexes a branch node of one or more children.
type BranchIndex[K any] struct {
	// Count is the total number of events under this branch.
	Count uint64
	// Level is this node's level; leaves are level 0, and a branch's
	// level always exceeds the level of every child (spec §4.4
	// invariant).
	Level uint32
	// Sealed reports whether the branch has reached its shape limit.
	Sealed bool
	// Link addresses the branch's index block. Nil means purged.
	Link *link.Link
	// Summaries holds one semigroup-folded summary per child.
	Summaries compactseq.Seq[K]
	// ValueBytes is the serialized size of the children's data.
	ValueBytes uint64
	// KeyBytes is the serialized size of the index block itself.
	KeyBytes uint64
}

// Purged reports whether the branch's index block has been dropped.
func (i *BranchIndex[K]) Purged() bool {
	return i.Link == nil
}

// Data returns the per-child key sequence: Keys for a leaf, Summaries
// for a branch.
func (idx Index[K]) Data() compactseq.Seq[K] {
	if idx.Kind == KindLeaf {
		return idx.Leaf.Keys
	}
	return idx.Branch.Summaries
}

// LinkPtr returns the node's block link, or nil if purged.
func (idx Index[K]) LinkPtr() *link.Link {
	if idx.Kind == KindLeaf {
		return idx.Leaf.Link
	}
	return idx.Branch.Link
}

// Count returns the number of events under this node.
func (idx Index[K]) Count() uint64 {
	if idx.Kind == KindLeaf {
		return idx.Leaf.Keys.Count()
	}
	return idx.Branch.Count
}

// Sealed reports whether this node will never be appended to again.
func (idx Index[K]) Sealed() bool {
	if idx.Kind == KindLeaf {
		return idx.Leaf.Sealed
	}
	return idx.Branch.Sealed
}

// Level returns this node's level (0 for every leaf).
func (idx Index[K]) Level() uint32 {
	if idx.Kind == KindLeaf {
		return 0
	}
	return idx.Branch.Level
}

// ValueBytes returns the serialized size of the node's data.
func (idx Index[K]) ValueBytes() uint64 {
	if idx.Kind == KindLeaf {
		return idx.Leaf.ValueBytes
	}
	return idx.Branch.ValueBytes
}

// KeyBytes returns the serialized size of the index block (0 for a
// leaf, which has no separate index block).
func (idx Index[K]) KeyBytes() uint64 {
	if idx.Kind == KindLeaf {
		return 0
	}
	return idx.Branch.KeyBytes
}

// Purged reports whether this node's underlying block has been
// dropped.
func (idx Index[K]) Purged() bool {
	return idx.LinkPtr() == nil
}

// Branch is the fully-materialized, in-memory representation of a
// branch node: its children's indices.
type Branch[K any] struct {
	Children []Index[K]
}

// NewBranch builds a Branch from a non-empty child slice.
func NewBranch[K any](children []Index[K]) (*Branch[K], error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("index: branch must have at least one child")
	}
	return &Branch[K]{Children: children}, nil
}

// LastChild returns the branch's final child, which always exists
// since a branch can never have zero children.
func (b *Branch[K]) LastChild() *Index[K] {
	return &b.Children[len(b.Children)-1]
}

// Leaf is the fully-materialized, in-memory representation of a leaf
// node: its compressed event-value array.
type Leaf struct {
	arr *zstdseq.Array
}

// NewLeaf wraps already-compressed bytes as a read-only Leaf. It
// performs no validation; malformed bytes surface only once read.
func NewLeaf(data []byte) *Leaf {
	return &Leaf{arr: zstdseq.New(data)}
}

// LeafFromBuilder finalizes a Builder into a Leaf.
func LeafFromBuilder(b *zstdseq.Builder) (*Leaf, error) {
	data, err := b.Build()
	if err != nil {
		return nil, err
	}
	return NewLeaf(data), nil
}

// SingleLeaf builds a Leaf containing exactly one event value.
func SingleLeaf(value any, level int) (*Leaf, error) {
	b, err := zstdseq.NewBuilder(level)
	if err != nil {
		return nil, err
	}
	if err := b.Push(value); err != nil {
		return nil, err
	}
	return LeafFromBuilder(b)
}

// Builder reopens this leaf's compressed bytes so more values can be
// appended, at the given zstd level.
func (l *Leaf) Builder(level int) (*zstdseq.Builder, error) {
	return zstdseq.InitFrom(l.arr.Compressed(), level)
}

// Fill reopens the leaf and appends values from next until next is
// exhausted or the compressed size reaches targetSize, returning the
// resulting Leaf.
func (l *Leaf) Fill(next func() (any, bool), targetSize uint64, level int) (*Leaf, error) {
	b, err := l.Builder(level)
	if err != nil {
		return nil, err
	}
	if err := b.Fill(next, targetSize); err != nil {
		return nil, err
	}
	return LeafFromBuilder(b)
}

// Array exposes the leaf's underlying compressed array for reads.
func (l *Leaf) Array() *zstdseq.Array {
	return l.arr
}

// ChildAt decodes the event value at offset into out.
func (l *Leaf) ChildAt(offset uint64, out any) error {
	ok, err := l.arr.Get(offset, out)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("index: offset %d out of bounds", offset)
	}
	return nil
}

// NodeInfoKind tags which variant a NodeInfo holds.
type NodeInfoKind int

const (
	NodeBranch NodeInfoKind = iota
	NodeLeaf
	NodePurgedBranch
	NodePurgedLeaf
)

// NodeInfo pairs a node's index metadata with its materialized content,
// or marks it purged when the content has been dropped from the store
// (spec §4.10). Forest traversal code matches on Kind.
type NodeInfo[K any] struct {
	Kind NodeInfoKind

	BranchIndex *BranchIndex[K]
	Branch      *Branch[K]

	LeafIndex *LeafIndex[K]
	Leaf      *Leaf
}
