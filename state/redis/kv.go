package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PipeOpsHQ/coachflow/state"
)

// Entries live under <prefix>:kv:<composite>. A sorted set with equal scores
// indexes composite keys so prefix scans use ZRANGEBYLEX.

func (s *Store) Get(ctx context.Context, namespace []string, key string) (state.Entry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(state.CompositeKey(namespace, key))).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return state.Entry{}, state.ErrNotFound
		}
		return state.Entry{}, &state.PersistenceError{Op: "kv get", Err: err}
	}
	var entry state.Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return state.Entry{}, &state.PersistenceError{Op: "kv get", Err: fmt.Errorf("failed to decode entry: %w", err)}
	}
	return entry, nil
}

func (s *Store) Put(ctx context.Context, namespace []string, key string, value json.RawMessage) error {
	return s.BatchPut(ctx, []state.Item{{Namespace: namespace, Key: key, Value: value}})
}

func (s *Store) Delete(ctx context.Context, namespace []string, key string) error {
	composite := state.CompositeKey(namespace, key)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.entryKey(composite))
	pipe.ZRem(ctx, s.indexKey(), composite)
	if _, err := pipe.Exec(ctx); err != nil {
		return &state.PersistenceError{Op: "kv delete", Err: err}
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, prefix []string) ([]state.Entry, error) {
	return s.Search(ctx, state.SearchQuery{Prefix: prefix, Limit: -1})
}

func (s *Store) Search(ctx context.Context, query state.SearchQuery) ([]state.Entry, error) {
	composites, err := s.compositesUnder(ctx, state.PrefixKey(query.Prefix))
	if err != nil {
		return nil, &state.PersistenceError{Op: "kv search", Err: err}
	}
	entries, err := s.load(ctx, composites)
	if err != nil {
		return nil, &state.PersistenceError{Op: "kv search", Err: err}
	}

	needle := strings.ToLower(strings.TrimSpace(query.Text))
	matched := entries[:0]
	for _, entry := range entries {
		if !state.MatchesText(entry, needle) {
			continue
		}
		matched = append(matched, entry)
	}

	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	limit := query.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) BatchGet(ctx context.Context, keys []state.Key) ([]state.Entry, error) {
	composites := make([]string, 0, len(keys))
	for _, k := range keys {
		composites = append(composites, state.CompositeKey(k.Namespace, k.Key))
	}
	entries, err := s.load(ctx, composites)
	if err != nil {
		return nil, &state.PersistenceError{Op: "kv batch get", Err: err}
	}
	return entries, nil
}

// BatchPut validates every item before touching Redis, then writes all of
// them inside one MULTI/EXEC block.
func (s *Store) BatchPut(ctx context.Context, items []state.Item) error {
	if len(items) == 0 {
		return nil
	}
	composites := make([]string, 0, len(items))
	for _, item := range items {
		if err := state.ValidateKey(item.Namespace, item.Key); err != nil {
			return err
		}
		if err := state.ValidateValue(item.Value); err != nil {
			return err
		}
		composites = append(composites, state.CompositeKey(item.Namespace, item.Key))
	}

	existing, err := s.load(ctx, composites)
	if err != nil {
		return &state.PersistenceError{Op: "kv batch put", Err: err}
	}
	created := make(map[string]time.Time, len(existing))
	for _, e := range existing {
		created[state.CompositeKey(e.Namespace, e.Key)] = e.CreatedAt
	}

	now := time.Now().UTC()
	pipe := s.client.TxPipeline()
	for i, item := range items {
		composite := composites[i]
		entry := state.Entry{
			Namespace: item.Namespace,
			Key:       item.Key,
			Value:     item.Value,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if t, ok := created[composite]; ok {
			entry.CreatedAt = t
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		pipe.Set(ctx, s.entryKey(composite), string(raw), s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Score: 0, Member: composite})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &state.PersistenceError{Op: "kv batch put", Err: err}
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, prefix []string) error {
	composites, err := s.compositesUnder(ctx, state.PrefixKey(prefix))
	if err != nil {
		return &state.PersistenceError{Op: "kv clear", Err: err}
	}
	if len(composites) == 0 {
		return nil
	}
	keys := make([]string, 0, len(composites))
	members := make([]any, 0, len(composites))
	for _, c := range composites {
		keys = append(keys, s.entryKey(c))
		members = append(members, c)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, s.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return &state.PersistenceError{Op: "kv clear", Err: err}
	}
	return nil
}

func (s *Store) compositesUnder(ctx context.Context, prefix string) ([]string, error) {
	by := &goredis.ZRangeBy{Min: "-", Max: "+"}
	if prefix != "" {
		by = &goredis.ZRangeBy{Min: "[" + prefix, Max: "[" + prefix + "\xff"}
	}
	out, err := s.client.ZRangeByLex(ctx, s.indexKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan kv index: %w", err)
	}
	return out, nil
}

// load fetches entries in the order given, skipping missing or expired keys
// and pruning them from the index.
func (s *Store) load(ctx context.Context, composites []string) ([]state.Entry, error) {
	if len(composites) == 0 {
		return []state.Entry{}, nil
	}
	keys := make([]string, len(composites))
	for i, c := range composites {
		keys[i] = s.entryKey(c)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget entries: %w", err)
	}

	out := make([]state.Entry, 0, len(values))
	var stale []any
	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			stale = append(stale, composites[i])
			continue
		}
		var entry state.Entry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry: %w", err)
		}
		out = append(out, entry)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), stale...).Err()
	}
	return out, nil
}

func (s *Store) entryKey(composite string) string {
	return fmt.Sprintf("%s:kv:%s", s.prefix, composite)
}

func (s *Store) indexKey() string {
	return fmt.Sprintf("%s:kvidx", s.prefix)
}
