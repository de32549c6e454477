package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/PipeOpsHQ/coachflow/observe"
	observestore "github.com/PipeOpsHQ/coachflow/observe/store"
)

//go:embed schema.sql
var schemaSQL string

const defaultLimit = 200

// timeLayout is fixed width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite event path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable wal: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize event schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveEvent(ctx context.Context, event observe.Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	event.Normalize()
	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode event attributes: %w", err)
	}
	const q = `
INSERT INTO turn_events (
  event_id, thread_id, user_id, kind, status, name, stage, provider, tool_name,
  message, error, duration_ms, attributes, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = s.db.ExecContext(
		ctx,
		q,
		uuid.NewString(),
		event.ThreadID,
		event.UserID,
		string(event.Kind),
		string(event.Status),
		event.Name,
		event.Stage,
		event.Provider,
		event.ToolName,
		event.Message,
		event.Error,
		event.DurationMs,
		string(attrs),
		event.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// ListEventsByThread returns the events of threadID oldest first.
func (s *Store) ListEventsByThread(ctx context.Context, threadID string, query observestore.ListQuery) ([]observe.Event, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, fmt.Errorf("threadID is required")
	}
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	const q = `
SELECT thread_id, user_id, kind, status, name, stage, provider, tool_name,
       message, error, duration_ms, attributes, timestamp
FROM turn_events
WHERE thread_id = ?
ORDER BY timestamp ASC, rowid ASC
LIMIT ? OFFSET ?;
`
	rows, err := s.db.QueryContext(ctx, q, threadID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	out := make([]observe.Event, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (observe.Event, error) {
	var (
		e      observe.Event
		kind   string
		status string
		attrs  string
		tsRaw  string
	)
	if err := scanner.Scan(
		&e.ThreadID,
		&e.UserID,
		&kind,
		&status,
		&e.Name,
		&e.Stage,
		&e.Provider,
		&e.ToolName,
		&e.Message,
		&e.Error,
		&e.DurationMs,
		&attrs,
		&tsRaw,
	); err != nil {
		return observe.Event{}, fmt.Errorf("failed to scan event: %w", err)
	}
	e.Kind = observe.Kind(kind)
	e.Status = observe.Status(status)
	if tsRaw != "" {
		ts, err := time.Parse(time.RFC3339Nano, tsRaw)
		if err == nil {
			e.Timestamp = ts
		}
	}
	if attrs != "" {
		_ = json.Unmarshal([]byte(attrs), &e.Attributes)
	}
	e.Normalize()
	return e, nil
}

func (s *Store) AggregateMetrics(ctx context.Context, query observestore.MetricsQuery) (observestore.MetricsSummary, error) {
	if s == nil || s.db == nil {
		return observestore.MetricsSummary{}, nil
	}
	where := "WHERE kind = ? AND status = ?"
	var since []any
	if query.Since != nil {
		where += " AND timestamp >= ?"
		since = append(since, query.Since.UTC().Format(timeLayout))
	}

	counter := func(kind observe.Kind, status observe.Status) (int64, error) {
		args := append([]any{string(kind), string(status)}, since...)
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM turn_events "+where, args...).Scan(&n); err != nil {
			return 0, err
		}
		return n, nil
	}

	var metrics observestore.MetricsSummary
	counts := []struct {
		name   string
		kind   observe.Kind
		status observe.Status
		dst    *int64
	}{
		{"turns started", observe.KindTurn, observe.StatusStarted, &metrics.TurnsStarted},
		{"turns completed", observe.KindTurn, observe.StatusCompleted, &metrics.TurnsCompleted},
		{"turns failed", observe.KindTurn, observe.StatusFailed, &metrics.TurnsFailed},
		{"stages failed", observe.KindStage, observe.StatusFailed, &metrics.StagesFailed},
		{"fallbacks", observe.KindFallback, observe.StatusCompleted, &metrics.Fallbacks},
		{"checkpoints", observe.KindCheckpoint, observe.StatusCompleted, &metrics.Checkpoints},
	}
	for _, c := range counts {
		n, err := counter(c.kind, c.status)
		if err != nil {
			return observestore.MetricsSummary{}, fmt.Errorf("metrics %s: %w", c.name, err)
		}
		*c.dst = n
	}
	return metrics, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
