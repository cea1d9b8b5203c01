// Package query implements the small closed set of predicates the
// forest uses to prune subtrees by summary before descending into them
// (spec §4.7, §5.10).
package query

import "github.com/shruggr/banyan/compactseq"

// Query is a capability set over summaries and keys: it marks which
// child or key positions might still match, never which definitely do.
// A subtree whose summary bit is never set is skipped entirely without
// being fetched from the store.
//
// offsets has one more entry than summaries/keys has elements:
// offsets[i] is the first event offset covered by element i, and the
// final entry is the first offset *after* the last element — the
// traversal's running offset, threaded through so range-based queries
// don't need to recover it from the key type itself.
type Query[K any] interface {
	// IntersectsSummary sets bitsOut[i] for every child of a branch at
	// the given level whose subtree may contain a match.
	IntersectsSummary(level uint32, offsets []uint64, summaries compactseq.Seq[K], bitsOut []bool)

	// IntersectsKeys sets bitsOut[i] for every event in a leaf (whose
	// first event is at offsets[0]) that may match.
	IntersectsKeys(offsets []uint64, keys compactseq.Seq[K], bitsOut []bool)
}

// AllQuery matches every position; iterating with it is equivalent to
// a full, unfiltered traversal.
type AllQuery[K any] struct{}

func (AllQuery[K]) IntersectsSummary(_ uint32, _ []uint64, summaries compactseq.Seq[K], bitsOut []bool) {
	setAll(bitsOut, int(summaries.Count()))
}

func (AllQuery[K]) IntersectsKeys(_ []uint64, keys compactseq.Seq[K], bitsOut []bool) {
	setAll(bitsOut, int(keys.Count()))
}

func setAll(bits []bool, n int) {
	for i := 0; i < n && i < len(bits); i++ {
		bits[i] = true
	}
}

// OffsetRangeQuery matches events whose offset falls in [Start, End).
type OffsetRangeQuery[K any] struct {
	Start, End uint64
}

func (q OffsetRangeQuery[K]) IntersectsSummary(_ uint32, offsets []uint64, summaries compactseq.Seq[K], bitsOut []bool) {
	n := int(summaries.Count())
	for i := 0; i < n && i < len(bitsOut); i++ {
		childStart, childEnd := offsets[i], offsets[i+1]
		bitsOut[i] = childStart < q.End && childEnd > q.Start
	}
}

func (q OffsetRangeQuery[K]) IntersectsKeys(offsets []uint64, keys compactseq.Seq[K], bitsOut []bool) {
	n := int(keys.Count())
	for i := 0; i < n && i < len(bitsOut); i++ {
		off := offsets[0] + uint64(i)
		bitsOut[i] = off >= q.Start && off < q.End
	}
}

// And matches positions every sub-query matches.
type And[K any] struct {
	Queries []Query[K]
}

func (q And[K]) IntersectsSummary(level uint32, offsets []uint64, summaries compactseq.Seq[K], bitsOut []bool) {
	combine(bitsOut, len(offsets)-1, q.Queries, func(sub Query[K], bits []bool) {
		sub.IntersectsSummary(level, offsets, summaries, bits)
	}, true)
}

func (q And[K]) IntersectsKeys(offsets []uint64, keys compactseq.Seq[K], bitsOut []bool) {
	combine(bitsOut, int(keys.Count()), q.Queries, func(sub Query[K], bits []bool) {
		sub.IntersectsKeys(offsets, keys, bits)
	}, true)
}

// Or matches positions any sub-query matches.
type Or[K any] struct {
	Queries []Query[K]
}

func (q Or[K]) IntersectsSummary(level uint32, offsets []uint64, summaries compactseq.Seq[K], bitsOut []bool) {
	combine(bitsOut, len(offsets)-1, q.Queries, func(sub Query[K], bits []bool) {
		sub.IntersectsSummary(level, offsets, summaries, bits)
	}, false)
}

func (q Or[K]) IntersectsKeys(offsets []uint64, keys compactseq.Seq[K], bitsOut []bool) {
	combine(bitsOut, int(keys.Count()), q.Queries, func(sub Query[K], bits []bool) {
		sub.IntersectsKeys(offsets, keys, bits)
	}, false)
}

// combine evaluates every sub-query into its own scratch bitmask and
// folds them into bitsOut with AND (conjunctive=true) or OR
// (conjunctive=false) semantics. For an empty query list, a
// conjunction of zero constraints matches everything and a disjunction
// of zero alternatives matches nothing.
func combine[K any](bitsOut []bool, n int, queries []Query[K], eval func(Query[K], []bool), conjunctive bool) {
	for i := 0; i < n && i < len(bitsOut); i++ {
		bitsOut[i] = conjunctive
	}
	if len(queries) == 0 {
		return
	}
	scratch := make([]bool, n)
	for _, sub := range queries {
		for i := range scratch {
			scratch[i] = false
		}
		eval(sub, scratch)
		for i := 0; i < n && i < len(bitsOut); i++ {
			if conjunctive {
				bitsOut[i] = bitsOut[i] && scratch[i]
			} else {
				bitsOut[i] = bitsOut[i] || scratch[i]
			}
		}
	}
}
