package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PipeOpsHQ/coachflow/state"
)

const kvColumns = `namespace, item_key, value, created_at, updated_at`

func (s *Store) Get(ctx context.Context, namespace []string, key string) (state.Entry, error) {
	q := `SELECT ` + kvColumns + ` FROM kv_entries WHERE composite_key = ?;`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, q, state.CompositeKey(namespace, key)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Entry{}, state.ErrNotFound
		}
		return state.Entry{}, &state.PersistenceError{Op: "kv get", Err: err}
	}
	return entry, nil
}

func (s *Store) Put(ctx context.Context, namespace []string, key string, value json.RawMessage) error {
	return s.BatchPut(ctx, []state.Item{{Namespace: namespace, Key: key, Value: value}})
}

func (s *Store) Delete(ctx context.Context, namespace []string, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE composite_key = ?;`, state.CompositeKey(namespace, key)); err != nil {
		return &state.PersistenceError{Op: "kv delete", Err: err}
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, prefix []string) ([]state.Entry, error) {
	return s.Search(ctx, state.SearchQuery{Prefix: prefix, Limit: -1})
}

func (s *Store) Search(ctx context.Context, query state.SearchQuery) ([]state.Entry, error) {
	var (
		where []string
		args  []any
	)
	if p := state.PrefixKey(query.Prefix); p != "" {
		where = append(where, `composite_key LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(p)+"%")
	}
	if text := strings.TrimSpace(query.Text); text != "" {
		needle := "%" + escapeLike(strings.ToLower(text)) + "%"
		where = append(where, `(lower(composite_key) LIKE ? ESCAPE '\' OR lower(item_key) LIKE ? ESCAPE '\' OR lower(value) LIKE ? ESCAPE '\')`)
		args = append(args, needle, needle, needle)
	}

	limit := query.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	if limit < 0 {
		limit = -1
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	sqlText := `SELECT ` + kvColumns + ` FROM kv_entries`
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	sqlText += " ORDER BY composite_key ASC LIMIT ? OFFSET ?;"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, &state.PersistenceError{Op: "kv search", Err: err}
	}
	defer rows.Close()

	var out []state.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, &state.PersistenceError{Op: "kv search", Err: err}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &state.PersistenceError{Op: "kv search", Err: fmt.Errorf("failed to iterate entries: %w", err)}
	}
	return out, nil
}

// BatchGet reads every key in one query and returns the entries found in
// the order the keys were given.
func (s *Store) BatchGet(ctx context.Context, keys []state.Key) ([]state.Entry, error) {
	if len(keys) == 0 {
		return []state.Entry{}, nil
	}
	composites := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		composites[i] = state.CompositeKey(k.Namespace, k.Key)
		args[i] = composites[i]
	}
	q := `SELECT ` + kvColumns + ` FROM kv_entries WHERE composite_key IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",") + `);`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &state.PersistenceError{Op: "kv batch get", Err: err}
	}
	defer rows.Close()

	found := make(map[string]state.Entry, len(keys))
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, &state.PersistenceError{Op: "kv batch get", Err: err}
		}
		found[state.CompositeKey(entry.Namespace, entry.Key)] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, &state.PersistenceError{Op: "kv batch get", Err: fmt.Errorf("failed to iterate entries: %w", err)}
	}

	out := make([]state.Entry, 0, len(found))
	for _, c := range composites {
		if entry, ok := found[c]; ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) BatchPut(ctx context.Context, items []state.Item) error {
	for _, item := range items {
		if err := state.ValidateKey(item.Namespace, item.Key); err != nil {
			return err
		}
		if err := state.ValidateValue(item.Value); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &state.PersistenceError{Op: "kv batch put", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
INSERT INTO kv_entries (composite_key, namespace, item_key, value, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(composite_key) DO UPDATE SET
  value=excluded.value,
  updated_at=excluded.updated_at;
`
	now := formatTime(time.Now())
	for _, item := range items {
		nsRaw, err := json.Marshal(item.Namespace)
		if err != nil {
			return fmt.Errorf("failed to marshal namespace: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q,
			state.CompositeKey(item.Namespace, item.Key),
			string(nsRaw),
			item.Key,
			string(item.Value),
			now,
			now,
		); err != nil {
			return &state.PersistenceError{Op: "kv batch put", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &state.PersistenceError{Op: "kv batch put", Err: fmt.Errorf("failed to commit: %w", err)}
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, prefix []string) error {
	p := state.PrefixKey(prefix)
	var err error
	if p == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM kv_entries;`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE composite_key LIKE ? ESCAPE '\';`, escapeLike(p)+"%")
	}
	if err != nil {
		return &state.PersistenceError{Op: "kv clear", Err: err}
	}
	return nil
}

func scanEntry(row scanner) (state.Entry, error) {
	var (
		entry              state.Entry
		nsRaw, valueRaw    string
		createdRaw, updRaw string
	)
	if err := row.Scan(&nsRaw, &entry.Key, &valueRaw, &createdRaw, &updRaw); err != nil {
		return state.Entry{}, err
	}
	if err := json.Unmarshal([]byte(nsRaw), &entry.Namespace); err != nil {
		return state.Entry{}, fmt.Errorf("failed to decode namespace: %w", err)
	}
	entry.Value = json.RawMessage(valueRaw)
	var err error
	if entry.CreatedAt, err = parseRequiredTime(createdRaw); err != nil {
		return state.Entry{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if entry.UpdatedAt, err = parseRequiredTime(updRaw); err != nil {
		return state.Entry{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return entry, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
