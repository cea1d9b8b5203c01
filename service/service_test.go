package service

import (
	"context"
	"errors"
	"testing"

	memstore "github.com/shruggr/banyan/blockstore/memory"
	"github.com/shruggr/banyan/compactseq"
	"github.com/shruggr/banyan/config"
	"github.com/shruggr/banyan/eventsource"
	"github.com/shruggr/banyan/link"
	"github.com/shruggr/banyan/query"
	"github.com/shruggr/banyan/rangekey"
	"github.com/shruggr/banyan/registry"
)

func newRangeSeq(items []rangekey.Key) (compactseq.Seq[rangekey.Key], error) {
	return compactseq.NewSimpleSeq[rangekey.Key](rangekey.Semigroup{}, items)
}

// memRegistry is an in-memory registry.Store test double, the Go
// analogue of builder_test.go's failAfterStore: enough surface to drive
// Service without pulling in the sqlite backend for unit tests.
type memRegistry struct {
	entries map[string]registry.Entry
}

func newMemRegistry() *memRegistry {
	return &memRegistry{entries: make(map[string]registry.Entry)}
}

func (m *memRegistry) Put(ctx context.Context, e registry.Entry) error {
	m.entries[e.Stream] = e
	return nil
}

func (m *memRegistry) Get(ctx context.Context, stream string) (registry.Entry, error) {
	e, ok := m.entries[stream]
	if !ok {
		return registry.Entry{}, registry.ErrNotFound
	}
	return e, nil
}

func (m *memRegistry) Delete(ctx context.Context, stream string) error {
	delete(m.entries, stream)
	return nil
}

func (m *memRegistry) List(ctx context.Context) ([]string, error) {
	var names []string
	for name := range m.entries {
		names = append(names, name)
	}
	return names, nil
}

func (m *memRegistry) Close() error { return nil }

type fixedSource struct {
	events []eventsource.Event[rangekey.Key, uint64]
}

func (f fixedSource) Extract(ctx context.Context, rec *eventsource.Record) ([]eventsource.Event[rangekey.Key, uint64], error) {
	return f.events, nil
}

func (fixedSource) Name() string { return "fixed" }

func newTestService() *Service[rangekey.Key, uint64] {
	store := memstore.New(link.SHA256)
	reg := newMemRegistry()
	return New[rangekey.Key, uint64](store, reg, nil, config.DebugFast(), rangekey.Semigroup{}, newRangeSeq, nil)
}

// tinyConfig seals leaves and branches quickly, the same shape builder
// package tests use to force a multi-level tree out of a small event
// count.
func tinyConfig() config.Config {
	return config.Config{
		TargetLeafSize:          40,
		MaxLeafCount:            3,
		TargetBranchSize:        60,
		MaxBranchCount:          3,
		MaxUncompressedLeafSize: 1 << 20,
		ZstdLevel:               1,
	}
}

func evs(start, n int) []eventsource.Event[rangekey.Key, uint64] {
	out := make([]eventsource.Event[rangekey.Key, uint64], n)
	for i := 0; i < n; i++ {
		off := uint64(start + i)
		out[i] = eventsource.Event[rangekey.Key, uint64]{Key: rangekey.Single(off), Value: off}
	}
	return out
}

func TestAppendThenQueryAllReturnsEverything(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Append(ctx, "orders", fixedSource{events: evs(0, 50)}, &eventsource.Record{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := svc.Query(ctx, "orders", query.AllQuery[rangekey.Key]{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("got %d events, want 50", len(got))
	}
	for i, e := range got {
		if e.Offset != uint64(i) || e.Value != uint64(i) {
			t.Fatalf("event %d = %+v, want offset/value %d", i, e, i)
		}
	}
}

func TestAppendAcrossMultipleCallsAccumulates(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Append(ctx, "orders", fixedSource{events: evs(0, 20)}, &eventsource.Record{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	ptr, err := svc.Append(ctx, "orders", fixedSource{events: evs(20, 20)}, &eventsource.Record{})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ptr.Count != 40 {
		t.Fatalf("Count = %d, want 40", ptr.Count)
	}

	got, err := svc.Query(ctx, "orders", query.AllQuery[rangekey.Key]{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 40 {
		t.Fatalf("got %d events, want 40", len(got))
	}
}

func TestQueryRangeNarrowsResults(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Append(ctx, "orders", fixedSource{events: evs(0, 100)}, &eventsource.Record{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := svc.Query(ctx, "orders", query.OffsetRangeQuery[rangekey.Key]{Start: 10, End: 20})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d events, want 10", len(got))
	}
	for i, e := range got {
		if e.Offset != uint64(10+i) {
			t.Fatalf("event %d offset = %d, want %d", i, e.Offset, 10+i)
		}
	}
}

func TestAppendWithNoEventsIsNoop(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	ptr, err := svc.Append(ctx, "empty", fixedSource{events: nil}, &eventsource.Record{})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ptr.Count != 0 {
		t.Fatalf("Count = %d, want 0", ptr.Count)
	}

	if _, err := svc.registry.Get(ctx, "empty"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("registry should not have an entry for a never-appended stream, got err = %v", err)
	}
}

func TestQueryUnknownStreamReturnsError(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Query(context.Background(), "nope", query.AllQuery[rangekey.Key]{}); err == nil {
		t.Fatal("Query on an unknown stream should fail")
	}
}

func TestAppendTwiceFromFreshServiceRejectsResume(t *testing.T) {
	store := memstore.New(link.SHA256)
	reg := newMemRegistry()

	svc1 := New[rangekey.Key, uint64](store, reg, nil, config.DebugFast(), rangekey.Semigroup{}, newRangeSeq, nil)
	if _, err := svc1.Append(context.Background(), "orders", fixedSource{events: evs(0, 20)}, &eventsource.Record{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// A second Service sharing the same registry/store has no in-memory
	// builder for "orders"; resuming its appends is unsupported.
	svc2 := New[rangekey.Key, uint64](store, reg, nil, config.DebugFast(), rangekey.Semigroup{}, newRangeSeq, nil)
	if _, err := svc2.Append(context.Background(), "orders", fixedSource{events: evs(20, 5)}, &eventsource.Record{}); err == nil {
		t.Fatal("Append on a registry-known, not-in-memory stream should fail")
	}
}

// TestQueryReopensBranchRootFromRegistry drives enough events through
// one Service to seal a multi-level tree, then queries the same stream
// from a second Service that has never built it in-process — only the
// registry's {root_link, level, count} triple is available, forcing
// Query through rootFromPointer's branch-reopen path.
func TestQueryReopensBranchRootFromRegistry(t *testing.T) {
	store := memstore.New(link.SHA256)
	reg := newMemRegistry()

	svc1 := New[rangekey.Key, uint64](store, reg, nil, tinyConfig(), rangekey.Semigroup{}, newRangeSeq, nil)
	ctx := context.Background()
	ptr, err := svc1.Append(ctx, "orders", fixedSource{events: evs(0, 60)}, &eventsource.Record{})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ptr.Level == 0 {
		t.Fatalf("Level = 0, want a branch root for this test to exercise anything")
	}

	svc2 := New[rangekey.Key, uint64](store, reg, nil, tinyConfig(), rangekey.Semigroup{}, newRangeSeq, nil)

	all, err := svc2.Query(ctx, "orders", query.AllQuery[rangekey.Key]{})
	if err != nil {
		t.Fatalf("Query(AllQuery): %v", err)
	}
	if len(all) != 60 {
		t.Fatalf("got %d events, want 60", len(all))
	}
	for i, e := range all {
		if e.Offset != uint64(i) || e.Value != uint64(i) {
			t.Fatalf("event %d = %+v, want offset/value %d", i, e, i)
		}
	}

	narrow, err := svc2.Query(ctx, "orders", query.OffsetRangeQuery[rangekey.Key]{Start: 10, End: 20})
	if err != nil {
		t.Fatalf("Query(OffsetRangeQuery): %v", err)
	}
	if len(narrow) != 10 {
		t.Fatalf("got %d events, want 10", len(narrow))
	}
	for i, e := range narrow {
		if e.Offset != uint64(10+i) {
			t.Fatalf("event %d offset = %d, want %d", i, e.Offset, 10+i)
		}
	}
}

func TestStreamsListsAppendedStreams(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Append(ctx, "a", fixedSource{events: evs(0, 1)}, &eventsource.Record{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := svc.Append(ctx, "b", fixedSource{events: evs(0, 1)}, &eventsource.Record{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	names, err := svc.Streams(ctx)
	if err != nil {
		t.Fatalf("Streams: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %v, want 2 streams", names)
	}
}
