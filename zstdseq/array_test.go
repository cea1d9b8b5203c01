package zstdseq

import "testing"

func TestPushBuildGet(t *testing.T) {
	b, err := NewBuilder(3)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	for i := uint64(0); i < 10; i++ {
		if err := b.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if b.Count() != 10 {
		t.Fatalf("Count() = %d, want 10", b.Count())
	}
	data, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	arr := New(data)
	count, err := arr.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 10 {
		t.Fatalf("Array.Count() = %d, want 10", count)
	}

	for i := uint64(0); i < 10; i++ {
		var v uint64
		ok, err := arr.Get(i, &v)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !ok || v != i {
			t.Fatalf("Get(%d) = (%d, %v), want (%d, true)", i, v, ok, i)
		}
	}

	if ok, _ := arr.Get(10, new(uint64)); ok {
		t.Fatal("Get(10) should be out of range")
	}
}

func TestAllOrder(t *testing.T) {
	b, err := NewBuilder(1)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	want := []string{"a", "b", "c"}
	for _, s := range want {
		if err := b.Push(s); err != nil {
			t.Fatalf("Push(%q): %v", s, err)
		}
	}
	data, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := All[string](New(data))
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("All() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("All()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFillRespectsTargetSize(t *testing.T) {
	b, err := NewBuilder(1)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	i := 0
	next := func() (any, bool) {
		if i >= 1_000_000 {
			return nil, false
		}
		i++
		return i, true
	}
	if err := b.Fill(next, 64); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if b.Count() == 0 {
		t.Fatal("Fill pushed nothing")
	}
	if b.Count() >= 1_000_000 {
		t.Fatal("Fill should have stopped well before exhausting next")
	}
}

func TestCompressedSizeGrows(t *testing.T) {
	b, err := NewBuilder(1)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	s0, err := b.CompressedSize()
	if err != nil {
		t.Fatalf("CompressedSize: %v", err)
	}
	for i := 0; i < 100; i++ {
		if err := b.Push(i); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	s1, err := b.CompressedSize()
	if err != nil {
		t.Fatalf("CompressedSize: %v", err)
	}
	if s1 <= s0 {
		t.Fatalf("CompressedSize did not grow: %d -> %d", s0, s1)
	}
}

func TestInitFromAppends(t *testing.T) {
	b, err := NewBuilder(1)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	for i := uint64(0); i < 3; i++ {
		if err := b.Push(i); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	data, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	reopened, err := InitFrom(data, 1)
	if err != nil {
		t.Fatalf("InitFrom: %v", err)
	}
	if reopened.Count() != 3 {
		t.Fatalf("InitFrom Count() = %d, want 3", reopened.Count())
	}
	for i := uint64(3); i < 6; i++ {
		if err := reopened.Push(i); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	data2, err := reopened.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := All[uint64](New(data2))
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	for i, v := range got {
		if v != uint64(i) {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
	if len(got) != 6 {
		t.Fatalf("len(got) = %d, want 6", len(got))
	}
}
