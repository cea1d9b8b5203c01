// Package tree defines the immutable tree snapshot: a value, not a
// view, produced by a builder and consumed by the forest (spec §3,
// §5's "a snapshot is a value, not a view").
package tree

import (
	"github.com/shruggr/banyan/index"
	"github.com/shruggr/banyan/link"
	"github.com/shruggr/banyan/secrets"
)

// Tree is an immutable snapshot of a stream of events. An empty tree
// has a nil Root.
type Tree[K any] struct {
	Root    *index.Index[K]
	Level   uint32
	Count   uint64
	Secrets secrets.Secrets
}

// Empty returns the zero-event tree for the given secrets.
func Empty[K any](s secrets.Secrets) Tree[K] {
	return Tree[K]{Secrets: s}
}

// IsEmpty reports whether the tree holds zero events.
func (t Tree[K]) IsEmpty() bool {
	return t.Root == nil
}

// RootLink returns the root node's block link, or nil for an empty
// tree or an unpersisted in-memory root.
func (t Tree[K]) RootLink() *link.Link {
	if t.Root == nil {
		return nil
	}
	return t.Root.LinkPtr()
}

// RootPointer is the external, storable representation of a tree's
// identity (spec §6: "Tree root representation"), suitable for
// persisting alongside a stream identifier in a registry.
type RootPointer struct {
	RootLink *link.Link
	Level    uint32
	Count    uint64
}

// Pointer extracts the external root pointer from a snapshot.
func (t Tree[K]) Pointer() RootPointer {
	return RootPointer{RootLink: t.RootLink(), Level: t.Level, Count: t.Count}
}
