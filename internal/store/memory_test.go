package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryKVWriteReadDeleteList(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryKV()

	if err := m.Write(ctx, "sess-1", ScopeSession, "favorite_color", "teal"); err != nil {
		t.Fatalf("write: %v", err)
	}

	entry, ok, err := m.Read(ctx, "sess-1", "favorite_color")
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if entry.Value != "teal" {
		t.Fatalf("value = %q, want teal", entry.Value)
	}

	results, err := m.Query(ctx, "sess-1", "color", 0)
	if err != nil || len(results) != 1 {
		t.Fatalf("query: results=%v err=%v", results, err)
	}

	list, err := m.List(ctx, "sess-1", 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}

	deleted, err := m.Delete(ctx, "sess-1", "favorite_color")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	if _, ok, _ := m.Read(ctx, "sess-1", "favorite_color"); ok {
		t.Fatal("expected key gone after delete")
	}
}

func TestMemoryKVScopedBySession(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryKV()
	m.Write(ctx, "sess-a", ScopeSession, "k", "a-value")
	m.Write(ctx, "sess-b", ScopeSession, "k", "b-value")

	listA, _ := m.List(ctx, "sess-a", 0)
	if len(listA) != 1 || listA[0].Value != "a-value" {
		t.Fatalf("session isolation violated: %v", listA)
	}
}

func TestSQLiteMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	s, err := OpenSQLiteMemory(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Write(ctx, "sess-1", ScopeUser, "nickname", "fox"); err != nil {
		t.Fatalf("write: %v", err)
	}
	entry, ok, err := s.Read(ctx, "sess-1", "nickname")
	if err != nil || !ok || entry.Value != "fox" {
		t.Fatalf("read: entry=%v ok=%v err=%v", entry, ok, err)
	}

	if err := s.Write(ctx, "sess-1", ScopeUser, "nickname", "wolf"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	entry, _, _ = s.Read(ctx, "sess-1", "nickname")
	if entry.Value != "wolf" {
		t.Fatalf("expected overwrite to update value, got %q", entry.Value)
	}

	deleted, err := s.Delete(ctx, "sess-1", "nickname")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
}
