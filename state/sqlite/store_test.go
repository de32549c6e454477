package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/PipeOpsHQ/coachflow/state"
	"github.com/PipeOpsHQ/coachflow/state/statetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestSQLiteStore_Checkpoints(t *testing.T) {
	statetest.CheckpointStore(t, newTestStore(t))
}

func TestSQLiteStore_ConcurrentSaves(t *testing.T) {
	statetest.ConcurrentSaves(t, newTestStore(t))
}

func TestSQLiteStore_KV(t *testing.T) {
	statetest.KV(t, newTestStore(t))
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	first, err := New(dbPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := first.Save(ctx, "thread-1", "supervisor", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := first.Put(ctx, []string{"summaries", "u1"}, "thread-1", json.RawMessage(`"short"`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_ = first.Close()

	second, err := New(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	seq, err := second.Save(ctx, "thread-1", "planning", json.RawMessage(`{"n":2}`))
	if err != nil {
		t.Fatalf("Save after reopen failed: %v", err)
	}
	if seq != 2 {
		t.Fatalf("expected seq to continue at 2, got %d", seq)
	}
	entry, err := second.Get(ctx, []string{"summaries", "u1"}, "thread-1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(entry.Value) != `"short"` {
		t.Fatalf("unexpected value %s", entry.Value)
	}
}

func TestSQLiteStore_SearchEscapesWildcards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, []string{"notes"}, "a", json.RawMessage(`{"text":"100% done"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, []string{"notes"}, "b", json.RawMessage(`{"text":"1000 reps"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	found, err := s.Search(ctx, state.SearchQuery{Prefix: []string{"notes"}, Text: "100%"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(found) != 1 || found[0].Key != "a" {
		t.Fatalf("expected only literal match, got %#v", found)
	}
}

func TestSQLiteStore_BatchGetKeepsRequestOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ns := []string{"summaries", "u1"}
	if err := s.BatchPut(ctx, []state.Item{
		{Namespace: ns, Key: "user:u1", Value: json.RawMessage(`1`)},
		{Namespace: ns, Key: "user:u1:task:t1", Value: json.RawMessage(`2`)},
		{Namespace: ns, Key: "other", Value: json.RawMessage(`3`)},
	}); err != nil {
		t.Fatalf("BatchPut failed: %v", err)
	}

	got, err := s.BatchGet(ctx, []state.Key{
		{Namespace: ns, Key: "user:u1:task:t1"},
		{Namespace: ns, Key: "missing"},
		{Namespace: ns, Key: "user:u1"},
	})
	if err != nil {
		t.Fatalf("BatchGet failed: %v", err)
	}
	if len(got) != 2 || got[0].Key != "user:u1:task:t1" || got[1].Key != "user:u1" {
		t.Fatalf("unexpected batch get result: %#v", got)
	}

	empty, err := s.BatchGet(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty batch, got %#v, %v", empty, err)
	}
}
