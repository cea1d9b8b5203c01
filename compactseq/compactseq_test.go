package compactseq

import "testing"

type intSum struct{}

func (intSum) Combine(a, b int) int { return a + b }

func TestNewSimpleSeqEmpty(t *testing.T) {
	_, err := NewSimpleSeq[int](intSum{}, nil)
	if err != ErrEmptyIterator {
		t.Fatalf("expected ErrEmptyIterator, got %v", err)
	}
}

func TestPushExtendCount(t *testing.T) {
	seq, err := NewSimpleSeq[int](intSum{}, []int{1})
	if err != nil {
		t.Fatalf("NewSimpleSeq: %v", err)
	}
	seq.Push(2)
	seq.Push(3)
	if seq.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", seq.Count())
	}
	seq.Extend(4) // combines into last element (3 -> 7), count unchanged
	if seq.Count() != 3 {
		t.Fatalf("Extend changed Count(): got %d", seq.Count())
	}
	last, ok := seq.Get(2)
	if !ok || last != 7 {
		t.Fatalf("Get(2) = (%d, %v), want (7, true)", last, ok)
	}
}

func TestSummarize(t *testing.T) {
	seq, err := NewSimpleSeq[int](intSum{}, []int{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("NewSimpleSeq: %v", err)
	}
	if got := seq.Summarize(); got != 10 {
		t.Fatalf("Summarize() = %d, want 10", got)
	}
}

func TestSelect(t *testing.T) {
	seq, err := NewSimpleSeq[int](intSum{}, []int{10, 20, 30, 40})
	if err != nil {
		t.Fatalf("NewSimpleSeq: %v", err)
	}
	sel := seq.Select([]bool{true, false, true, false})
	if len(sel) != 2 || sel[0] != (Selected[int]{Index: 0, Item: 10}) || sel[1] != (Selected[int]{Index: 2, Item: 30}) {
		t.Fatalf("Select() = %+v, unexpected", sel)
	}
}

func TestGetOutOfRange(t *testing.T) {
	seq := SingleSimpleSeq[int](intSum{}, 5)
	if _, ok := seq.Get(1); ok {
		t.Fatal("expected Get(1) to fail on a single-element seq")
	}
}
