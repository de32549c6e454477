// Package memory holds process-local checkpoint and key/value stores. They
// back tests and single-process runs that do not need durability.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PipeOpsHQ/coachflow/state"
)

const defaultLimit = 50

// Store implements state.CheckpointStore and state.KV. Checkpoint writes are
// serialized per thread; KV batches apply under one lock so they are atomic.
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string][]state.Checkpoint
	entries     map[string]state.Entry
	threads     state.ThreadLocks
}

func New() *Store {
	return &Store{
		checkpoints: map[string][]state.Checkpoint{},
		entries:     map[string]state.Entry{},
	}
}

func (s *Store) Setup(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *Store) Save(ctx context.Context, threadID string, stage string, snapshot json.RawMessage) (int64, error) {
	if threadID == "" {
		return 0, fmt.Errorf("thread_id is required")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	release := s.threads.Lock(threadID)
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.checkpoints[threadID]
	seq := int64(1)
	if n := len(existing); n > 0 {
		seq = existing[n-1].Seq + 1
	}
	s.checkpoints[threadID] = append(existing, state.Checkpoint{
		ThreadID:  threadID,
		Seq:       seq,
		Stage:     stage,
		State:     append(json.RawMessage(nil), snapshot...),
		WrittenAt: time.Now().UTC(),
	})
	return seq, nil
}

func (s *Store) LoadLatest(ctx context.Context, threadID string) (state.Checkpoint, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.checkpoints[threadID]
	if len(items) == 0 {
		return state.Checkpoint{}, state.ErrNotFound
	}
	return items[len(items)-1], nil
}

func (s *Store) List(ctx context.Context, threadID string, limit int) ([]state.Checkpoint, error) {
	_ = ctx
	if limit <= 0 {
		limit = defaultLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.checkpoints[threadID]
	out := make([]state.Checkpoint, 0, limit)
	for i := len(items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, items[i])
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, namespace []string, key string) (state.Entry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[state.CompositeKey(namespace, key)]
	if !ok {
		return state.Entry{}, state.ErrNotFound
	}
	return entry, nil
}

func (s *Store) Put(ctx context.Context, namespace []string, key string, value json.RawMessage) error {
	return s.BatchPut(ctx, []state.Item{{Namespace: namespace, Key: key, Value: value}})
}

func (s *Store) Delete(ctx context.Context, namespace []string, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, state.CompositeKey(namespace, key))
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, prefix []string) ([]state.Entry, error) {
	return s.Search(ctx, state.SearchQuery{Prefix: prefix, Limit: -1})
}

func (s *Store) Search(ctx context.Context, query state.SearchQuery) ([]state.Entry, error) {
	_ = ctx
	prefix := state.PrefixKey(query.Prefix)
	needle := strings.ToLower(strings.TrimSpace(query.Text))

	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for composite, entry := range s.entries {
		if !strings.HasPrefix(composite, prefix) {
			continue
		}
		if !state.MatchesText(entry, needle) {
			continue
		}
		keys = append(keys, composite)
	}
	sort.Strings(keys)

	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(keys) {
		offset = len(keys)
	}
	keys = keys[offset:]
	if query.Limit == 0 {
		query.Limit = defaultLimit
	}
	if query.Limit > 0 && len(keys) > query.Limit {
		keys = keys[:query.Limit]
	}

	out := make([]state.Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.entries[k])
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Store) BatchGet(ctx context.Context, keys []state.Key) ([]state.Entry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]state.Entry, 0, len(keys))
	for _, k := range keys {
		if entry, ok := s.entries[state.CompositeKey(k.Namespace, k.Key)]; ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) BatchPut(ctx context.Context, items []state.Item) error {
	_ = ctx
	for _, item := range items {
		if err := state.ValidateKey(item.Namespace, item.Key); err != nil {
			return err
		}
		if err := state.ValidateValue(item.Value); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		composite := state.CompositeKey(item.Namespace, item.Key)
		created := now
		if existing, ok := s.entries[composite]; ok {
			created = existing.CreatedAt
		}
		s.entries[composite] = state.Entry{
			Namespace: append([]string(nil), item.Namespace...),
			Key:       item.Key,
			Value:     append(json.RawMessage(nil), item.Value...),
			CreatedAt: created,
			UpdatedAt: now,
		}
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, prefix []string) error {
	_ = ctx
	p := state.PrefixKey(prefix)
	s.mu.Lock()
	defer s.mu.Unlock()
	for composite := range s.entries {
		if strings.HasPrefix(composite, p) {
			delete(s.entries, composite)
		}
	}
	return nil
}

func (s *Store) Close() error { return nil }

var (
	_ state.CheckpointStore = (*Store)(nil)
	_ state.KV              = (*Store)(nil)
)
