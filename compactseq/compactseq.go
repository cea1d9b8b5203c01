// Package compactseq defines the compact representation of a run of
// semigroup keys that every index node stores: leaf keys and branch
// summaries alike are a CompactSeq (spec §3, §4.4).
package compactseq

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
)

// ErrEmptyIterator is returned by New when given no items; a CompactSeq
// always holds at least one element.
var ErrEmptyIterator = errors.New("compactseq: empty iterator")

// Semigroup is an associative (assumed commutative) combine operation
// over a key type. combine returns the result of folding b into a; it
// must not mutate either argument so CompactSeq implementations can
// keep combining purely.
type Semigroup[K any] interface {
	Combine(a, b K) K
}

// Selected pairs a CompactSeq position with its item, as returned by
// Select.
type Selected[K any] struct {
	Index int
	Item  K
}

// Seq is the compact-sequence contract (spec §4.4). Implementations may
// choose any internal representation more compact than a bare slice;
// SimpleSeq below is the reference "just a slice" implementation.
type Seq[K any] interface {
	// Push appends value as a new element (Count increases by one).
	Push(value K)
	// Extend combines value into the last element in place (Count is
	// unchanged).
	Extend(value K)
	// Count returns the number of elements.
	Count() uint64
	// Get returns the element at index, and whether index was in range.
	// Guaranteed to succeed for index < Count().
	Get(index int) (K, bool)
	// Summarize folds every element under the semigroup's Combine, left
	// to right.
	Summarize() K
	// ToSlice materializes every element in order.
	ToSlice() []K
	// Select returns the (index, item) pairs for every position where
	// bits[index] is true.
	Select(bits []bool) []Selected[K]
}

// SimpleSeq is a trivial Seq backed directly by a slice. It is the
// reference implementation used for tests and by the rangekey package;
// production key types may supply a more compact encoding while
// honoring the same contract.
type SimpleSeq[K any] struct {
	sg    Semigroup[K]
	items []K
}

// NewSimpleSeq constructs a SimpleSeq from a non-empty slice of items,
// copying it. It fails with ErrEmptyIterator if items is empty.
func NewSimpleSeq[K any](sg Semigroup[K], items []K) (*SimpleSeq[K], error) {
	if len(items) == 0 {
		return nil, ErrEmptyIterator
	}
	cp := make([]K, len(items))
	copy(cp, items)
	return &SimpleSeq[K]{sg: sg, items: cp}, nil
}

// SingleSimpleSeq constructs a SimpleSeq holding exactly one element.
func SingleSimpleSeq[K any](sg Semigroup[K], item K) *SimpleSeq[K] {
	return &SimpleSeq[K]{sg: sg, items: []K{item}}
}

func (s *SimpleSeq[K]) Push(value K) {
	s.items = append(s.items, value)
}

func (s *SimpleSeq[K]) Extend(value K) {
	last := len(s.items) - 1
	s.items[last] = s.sg.Combine(s.items[last], value)
}

func (s *SimpleSeq[K]) Count() uint64 {
	return uint64(len(s.items))
}

func (s *SimpleSeq[K]) Get(index int) (K, bool) {
	if index < 0 || index >= len(s.items) {
		var zero K
		return zero, false
	}
	return s.items[index], true
}

func (s *SimpleSeq[K]) Summarize() K {
	res := s.items[0]
	for _, it := range s.items[1:] {
		res = s.sg.Combine(res, it)
	}
	return res
}

func (s *SimpleSeq[K]) ToSlice() []K {
	out := make([]K, len(s.items))
	copy(out, s.items)
	return out
}

func (s *SimpleSeq[K]) Select(bits []bool) []Selected[K] {
	var out []Selected[K]
	for i, it := range s.items {
		if i < len(bits) && bits[i] {
			out = append(out, Selected[K]{Index: i, Item: it})
		}
	}
	return out
}

// MarshalCBOR encodes the sequence as a plain CBOR array of its items.
// The semigroup is application-supplied and never part of the wire
// form; decoding back into a Seq happens via NewSimpleSeq once the
// caller has the slice and the semigroup in hand (see index/codec.go).
func (s *SimpleSeq[K]) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(s.items)
}
