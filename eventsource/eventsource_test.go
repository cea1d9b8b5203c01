package eventsource

import (
	"context"
	"errors"
	"testing"
)

type fixedSource struct {
	name   string
	events []Event[int, string]
	err    error
}

func (f fixedSource) Extract(ctx context.Context, rec *Record) ([]Event[int, string], error) {
	return f.events, f.err
}

func (f fixedSource) Name() string { return f.name }

func TestMultiSourceConcatenatesInOrder(t *testing.T) {
	m := NewMultiSource[int, string](
		fixedSource{name: "a", events: []Event[int, string]{{Key: 0, Value: "x"}}},
		fixedSource{name: "b", events: []Event[int, string]{{Key: 1, Value: "y"}, {Key: 2, Value: "z"}}},
	)

	got, err := m.Extract(context.Background(), &Record{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []Event[int, string]{{Key: 0, Value: "x"}, {Key: 1, Value: "y"}, {Key: 2, Value: "z"}}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMultiSourceStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	m := NewMultiSource[int, string](
		fixedSource{name: "a", events: []Event[int, string]{{Key: 0, Value: "x"}}},
		fixedSource{name: "b", err: boom},
		fixedSource{name: "c", events: []Event[int, string]{{Key: 9, Value: "never"}}},
	)

	_, err := m.Extract(context.Background(), &Record{})
	if !errors.Is(err, boom) {
		t.Fatalf("Extract err = %v, want %v", err, boom)
	}
}

func TestAddSourceAppends(t *testing.T) {
	m := NewMultiSource[int, string]()
	m.AddSource(fixedSource{events: []Event[int, string]{{Key: 1, Value: "a"}}})
	m.AddSource(fixedSource{events: []Event[int, string]{{Key: 2, Value: "b"}}})

	got, err := m.Extract(context.Background(), &Record{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
}

func TestNoopSourceExtractsNothing(t *testing.T) {
	s := NewNoopSource[int, string]()
	got, err := s.Extract(context.Background(), &Record{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil", got)
	}
	if s.Name() != "NoopSource" {
		t.Fatalf("Name() = %q", s.Name())
	}
}
