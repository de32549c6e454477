// Package statetest holds behaviour tests shared by every store backend.
package statetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/PipeOpsHQ/coachflow/state"
)

// CheckpointStore exercises the append-only checkpoint contract.
func CheckpointStore(t *testing.T, s state.CheckpointStore) {
	t.Helper()
	ctx := context.Background()

	if err := s.Setup(ctx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := s.Setup(ctx); err != nil {
		t.Fatalf("second Setup failed: %v", err)
	}

	if _, err := s.LoadLatest(ctx, "missing-thread"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for i := 1; i <= 3; i++ {
		snapshot := json.RawMessage(fmt.Sprintf(`{"step":%d}`, i))
		seq, err := s.Save(ctx, "thread-a", "planning", snapshot)
		if err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
		if seq != int64(i) {
			t.Fatalf("expected seq %d, got %d", i, seq)
		}
	}
	if _, err := s.Save(ctx, "thread-b", "supervisor", json.RawMessage(`{"step":99}`)); err != nil {
		t.Fatalf("Save thread-b failed: %v", err)
	}

	latest, err := s.LoadLatest(ctx, "thread-a")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if latest.Seq != 3 || !jsonEqual(t, latest.State, json.RawMessage(`{"step":3}`)) {
		t.Fatalf("unexpected latest checkpoint: seq=%d state=%s", latest.Seq, latest.State)
	}
	if latest.Stage != "planning" || latest.WrittenAt.IsZero() {
		t.Fatalf("unexpected checkpoint metadata: %#v", latest)
	}

	history, err := s.List(ctx, "thread-a", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 retained checkpoints, got %d", len(history))
	}
	if history[0].Seq != 3 || history[2].Seq != 1 {
		t.Fatalf("expected newest first, got seqs %d..%d", history[0].Seq, history[2].Seq)
	}
}

// ConcurrentSaves checks that parallel writers to one thread get distinct,
// gapless sequence numbers.
func ConcurrentSaves(t *testing.T, s state.CheckpointStore) {
	t.Helper()
	ctx := context.Background()
	if err := s.Setup(ctx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
		errs []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := s.Save(ctx, "thread-race", "supervisor", json.RawMessage(fmt.Sprintf(`{"writer":%d}`, i)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			seen[seq] = true
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("concurrent saves failed: %v", errs)
	}
	for seq := int64(1); seq <= writers; seq++ {
		if !seen[seq] {
			t.Fatalf("missing seq %d in %v", seq, seen)
		}
	}
}

// KV exercises upsert, prefix listing, search and batch semantics.
func KV(t *testing.T, s state.KV) {
	t.Helper()
	ctx := context.Background()
	ns := []string{"memories", "user-1"}

	if _, err := s.Get(ctx, ns, "missing"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, ns, "pref", json.RawMessage(`{"theme":"light"}`)); err != nil {
		t.Fatalf("Put v1 failed: %v", err)
	}
	if err := s.Put(ctx, ns, "pref", json.RawMessage(`{"theme":"dark"}`)); err != nil {
		t.Fatalf("Put v2 failed: %v", err)
	}
	got, err := s.Get(ctx, ns, "pref")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !jsonEqual(t, got.Value, json.RawMessage(`{"theme":"dark"}`)) {
		t.Fatalf("expected upserted value, got %s", got.Value)
	}
	if got.Key != "pref" || !cmp.Equal(got.Namespace, ns) {
		t.Fatalf("unexpected entry identity: %#v", got)
	}

	if err := s.Put(ctx, []string{"memories", "user-2"}, "pref", json.RawMessage(`{"theme":"light"}`)); err != nil {
		t.Fatalf("Put other namespace failed: %v", err)
	}
	if err := s.Put(ctx, ns, "goal", json.RawMessage(`{"text":"Run a marathon"}`)); err != nil {
		t.Fatalf("Put goal failed: %v", err)
	}

	listed, err := s.ListByPrefix(ctx, ns)
	if err != nil {
		t.Fatalf("ListByPrefix failed: %v", err)
	}
	if diff := cmp.Diff([]string{"goal", "pref"}, entryKeys(listed)); diff != "" {
		t.Fatalf("unexpected prefix listing (-want +got):\n%s", diff)
	}

	all, err := s.ListByPrefix(ctx, []string{"memories"})
	if err != nil {
		t.Fatalf("ListByPrefix parent failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries under memories, got %d", len(all))
	}

	found, err := s.Search(ctx, state.SearchQuery{Prefix: ns, Text: "MARATHON"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if diff := cmp.Diff([]string{"goal"}, entryKeys(found)); diff != "" {
		t.Fatalf("unexpected search result (-want +got):\n%s", diff)
	}

	page, err := s.Search(ctx, state.SearchQuery{Prefix: []string{"memories"}, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Search page failed: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected a single paged entry, got %d", len(page))
	}

	err = s.BatchPut(ctx, []state.Item{
		{Namespace: ns, Key: "a", Value: json.RawMessage(`1`)},
		{Namespace: ns, Key: "b", Value: json.RawMessage(`not json`)},
	})
	if err == nil {
		t.Fatalf("expected invalid batch to fail")
	}
	if _, err := s.Get(ctx, ns, "a"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected failed batch to write nothing, got %v", err)
	}

	if err := s.BatchPut(ctx, []state.Item{
		{Namespace: ns, Key: "a", Value: json.RawMessage(`1`)},
		{Namespace: ns, Key: "b", Value: json.RawMessage(`2`)},
	}); err != nil {
		t.Fatalf("BatchPut failed: %v", err)
	}
	batch, err := s.BatchGet(ctx, []state.Key{
		{Namespace: ns, Key: "a"},
		{Namespace: ns, Key: "zzz"},
		{Namespace: ns, Key: "b"},
	})
	if err != nil {
		t.Fatalf("BatchGet failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, entryKeys(batch)); diff != "" {
		t.Fatalf("unexpected batch get (-want +got):\n%s", diff)
	}

	if err := s.Delete(ctx, ns, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, ns, "a"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected deleted key to be gone, got %v", err)
	}

	// A separator inside a key must not reach into a deeper namespace.
	if err := s.Put(ctx, []string{"scoped"}, "b:c", json.RawMessage(`1`)); err != nil {
		t.Fatalf("Put key with separator failed: %v", err)
	}
	if err := s.Put(ctx, []string{"scoped", "b"}, "c", json.RawMessage(`2`)); err != nil {
		t.Fatalf("Put nested key failed: %v", err)
	}
	shallow, err := s.Get(ctx, []string{"scoped"}, "b:c")
	if err != nil {
		t.Fatalf("Get key with separator failed: %v", err)
	}
	nested, err := s.Get(ctx, []string{"scoped", "b"}, "c")
	if err != nil {
		t.Fatalf("Get nested key failed: %v", err)
	}
	if !jsonEqual(t, shallow.Value, json.RawMessage(`1`)) || !jsonEqual(t, nested.Value, json.RawMessage(`2`)) {
		t.Fatalf("entries aliased: shallow=%s nested=%s", shallow.Value, nested.Value)
	}
	if shallow.Key != "b:c" || !cmp.Equal(nested.Namespace, []string{"scoped", "b"}) {
		t.Fatalf("unexpected entry identity: %#v %#v", shallow, nested)
	}
	inner, err := s.ListByPrefix(ctx, []string{"scoped", "b"})
	if err != nil {
		t.Fatalf("ListByPrefix nested failed: %v", err)
	}
	if len(inner) != 1 || !cmp.Equal(inner[0].Namespace, []string{"scoped", "b"}) {
		t.Fatalf("expected only the nested entry, got %#v", inner)
	}
	byKey, err := s.Search(ctx, state.SearchQuery{Prefix: []string{"scoped"}, Text: "b:c"})
	if err != nil {
		t.Fatalf("Search key with separator failed: %v", err)
	}
	if len(byKey) != 2 {
		t.Fatalf("expected both entries to match b:c by path, got %#v", byKey)
	}
	if err := s.Clear(ctx, []string{"scoped"}); err != nil {
		t.Fatalf("Clear scoped failed: %v", err)
	}

	if err := s.Clear(ctx, ns); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	rest, err := s.ListByPrefix(ctx, []string{"memories"})
	if err != nil {
		t.Fatalf("ListByPrefix after clear failed: %v", err)
	}
	if len(rest) != 1 || rest[0].Namespace[1] != "user-2" {
		t.Fatalf("expected only user-2 entry to survive, got %#v", rest)
	}
}

func entryKeys(entries []state.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key)
	}
	return out
}

func jsonEqual(t *testing.T, a, b json.RawMessage) bool {
	t.Helper()
	var left, right any
	if err := json.Unmarshal(a, &left); err != nil {
		t.Fatalf("invalid json %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &right); err != nil {
		t.Fatalf("invalid json %s: %v", b, err)
	}
	return cmp.Equal(left, right)
}
