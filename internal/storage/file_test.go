package storage

import (
	"context"
	"testing"
)

func TestFileBackendSaveLoadDelete(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	ctx := context.Background()

	if err := fb.Save(ctx, "provider/anthropic", []byte(`{"key":"x"}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := fb.Load(ctx, "provider/anthropic")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != `{"key":"x"}` {
		t.Fatalf("got %q", got)
	}

	keys, err := fb.ListKeys(ctx, "provider/")
	if err != nil || len(keys) != 1 {
		t.Fatalf("ListKeys: %v %v", keys, err)
	}

	if err := fb.Delete(ctx, "provider/anthropic"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fb.Load(ctx, "provider/anthropic"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryBackendIsolatesCopies(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()

	original := []byte("hello")
	if err := m.Save(ctx, "k", original); err != nil {
		t.Fatalf("Save: %v", err)
	}
	original[0] = 'X'

	got, err := m.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected stored copy unaffected by caller mutation, got %q", got)
	}
}
