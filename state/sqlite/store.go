package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PipeOpsHQ/coachflow/state"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	defaultLimit       = 50
)

// Store persists checkpoints and KV entries in a single SQLite file.
type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
	threads     state.ThreadLocks
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) {
		s.enableWAL = enabled
	}
}

func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConn = n
		}
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.pragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Setup(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) pragmas(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	return nil
}

func (s *Store) Setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return &state.PersistenceError{Op: "setup", Err: fmt.Errorf("failed to initialize schema: %w", err)}
	}
	return nil
}

func (s *Store) Save(ctx context.Context, threadID string, stage string, snapshot json.RawMessage) (int64, error) {
	if threadID == "" {
		return 0, fmt.Errorf("thread_id is required")
	}
	if err := state.ValidateValue(snapshot); err != nil {
		return 0, fmt.Errorf("invalid checkpoint snapshot: %w", err)
	}

	release := s.threads.Lock(threadID)
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &state.PersistenceError{Op: "save checkpoint", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE thread_id = ?;`, threadID).Scan(&seq); err != nil {
		return 0, &state.PersistenceError{Op: "save checkpoint", Err: fmt.Errorf("failed to allocate seq: %w", err)}
	}

	const q = `
INSERT INTO checkpoints (thread_id, seq, stage, state, written_at)
VALUES (?, ?, ?, ?, ?);
`
	_, err = tx.ExecContext(ctx, q, threadID, seq, stage, string(snapshot), formatTime(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, &state.PersistenceError{Op: "save checkpoint", Err: state.ErrConflict}
		}
		return 0, &state.PersistenceError{Op: "save checkpoint", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &state.PersistenceError{Op: "save checkpoint", Err: fmt.Errorf("failed to commit: %w", err)}
	}
	return seq, nil
}

func (s *Store) LoadLatest(ctx context.Context, threadID string) (state.Checkpoint, error) {
	if threadID == "" {
		return state.Checkpoint{}, fmt.Errorf("thread_id is required")
	}

	const q = `
SELECT thread_id, seq, stage, state, written_at
FROM checkpoints
WHERE thread_id = ?
ORDER BY seq DESC
LIMIT 1;
`
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, q, threadID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Checkpoint{}, state.ErrNotFound
		}
		return state.Checkpoint{}, &state.PersistenceError{Op: "load checkpoint", Err: err}
	}
	return cp, nil
}

func (s *Store) List(ctx context.Context, threadID string, limit int) ([]state.Checkpoint, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	const q = `
SELECT thread_id, seq, stage, state, written_at
FROM checkpoints
WHERE thread_id = ?
ORDER BY seq DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, q, threadID, limit)
	if err != nil {
		return nil, &state.PersistenceError{Op: "list checkpoints", Err: err}
	}
	defer rows.Close()

	out := make([]state.Checkpoint, 0, limit)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, &state.PersistenceError{Op: "list checkpoints", Err: err}
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, &state.PersistenceError{Op: "list checkpoints", Err: fmt.Errorf("failed to iterate checkpoints: %w", err)}
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (state.Checkpoint, error) {
	var (
		cp        state.Checkpoint
		stateRaw  string
		writtenAt string
	)
	if err := row.Scan(&cp.ThreadID, &cp.Seq, &cp.Stage, &stateRaw, &writtenAt); err != nil {
		return state.Checkpoint{}, err
	}
	t, err := parseRequiredTime(writtenAt)
	if err != nil {
		return state.Checkpoint{}, fmt.Errorf("failed to parse checkpoint written_at: %w", err)
	}
	cp.WrittenAt = t
	cp.State = json.RawMessage(stateRaw)
	return cp, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseRequiredTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var (
	_ state.CheckpointStore = (*Store)(nil)
	_ state.KV              = (*Store)(nil)
)
