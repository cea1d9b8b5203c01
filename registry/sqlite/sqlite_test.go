package sqlite

import (
	"context"
	"os"
	"testing"

	"github.com/shruggr/banyan/link"
	"github.com/shruggr/banyan/registry"
)

func TestPutAndGetEntry(t *testing.T) {
	tmpFile := "/tmp/test_registry.db"
	defer os.Remove(tmpFile)

	store, err := New(&Config{DBPath: tmpFile})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	root := link.Link{1, 2, 3}
	e := registry.Entry{
		Stream:   "orders",
		RootLink: &root,
		Level:    3,
		Count:    1000,
	}
	e.Secrets.IndexKey = [32]byte{9}
	e.Secrets.ValueKey = [32]byte{10}

	if err := store.Put(ctx, e); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "orders")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Stream != e.Stream {
		t.Errorf("Stream mismatch: expected %q, got %q", e.Stream, got.Stream)
	}
	if got.Level != e.Level {
		t.Errorf("Level mismatch: expected %d, got %d", e.Level, got.Level)
	}
	if got.Count != e.Count {
		t.Errorf("Count mismatch: expected %d, got %d", e.Count, got.Count)
	}
	if got.RootLink == nil || *got.RootLink != *e.RootLink {
		t.Errorf("RootLink mismatch: expected %v, got %v", e.RootLink, got.RootLink)
	}
	if got.Secrets != e.Secrets {
		t.Errorf("Secrets mismatch: expected %v, got %v", e.Secrets, got.Secrets)
	}
}

func TestGetMissingStreamReturnsErrNotFound(t *testing.T) {
	tmpFile := "/tmp/test_registry_missing.db"
	defer os.Remove(tmpFile)

	store, err := New(&Config{DBPath: tmpFile})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	_, err = store.Get(context.Background(), "nope")
	if err != registry.ErrNotFound {
		t.Fatalf("Get err = %v, want registry.ErrNotFound", err)
	}
}

func TestPutReplacesExistingEntry(t *testing.T) {
	tmpFile := "/tmp/test_registry_replace.db"
	defer os.Remove(tmpFile)

	store, err := New(&Config{DBPath: tmpFile})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	if err := store.Put(ctx, registry.Entry{Stream: "orders", Level: 1, Count: 5}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, registry.Entry{Stream: "orders", Level: 4, Count: 5000}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "orders")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Level != 4 || got.Count != 5000 {
		t.Fatalf("got %+v, want Level 4, Count 5000", got)
	}
}

func TestEmptyStreamHasNilRootLink(t *testing.T) {
	tmpFile := "/tmp/test_registry_empty.db"
	defer os.Remove(tmpFile)

	store, err := New(&Config{DBPath: tmpFile})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Put(ctx, registry.Entry{Stream: "empty", Level: 0, Count: 0}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "empty")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RootLink != nil {
		t.Errorf("RootLink = %v, want nil", got.RootLink)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	tmpFile := "/tmp/test_registry_delete.db"
	defer os.Remove(tmpFile)

	store, err := New(&Config{DBPath: tmpFile})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Put(ctx, registry.Entry{Stream: "orders", Level: 1, Count: 5}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "orders"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "orders"); err != registry.ErrNotFound {
		t.Fatalf("Get err = %v, want registry.ErrNotFound", err)
	}

	// Deleting an already-absent stream is not an error.
	if err := store.Delete(ctx, "orders"); err != nil {
		t.Fatalf("Delete of missing stream failed: %v", err)
	}
}

func TestListReturnsStreamsSorted(t *testing.T) {
	tmpFile := "/tmp/test_registry_list.db"
	defer os.Remove(tmpFile)

	store, err := New(&Config{DBPath: tmpFile})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, name := range []string{"zebra", "apple", "mango"} {
		if err := store.Put(ctx, registry.Entry{Stream: name}); err != nil {
			t.Fatalf("Put(%q) failed: %v", name, err)
		}
	}

	names, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"apple", "mango", "zebra"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}
