package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("state: not found")
	ErrConflict = errors.New("state: conflict")
)

// PersistenceError reports a failed durable read or write. Callers abort the
// turn rather than continue without a checkpoint.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CheckpointStore keeps an append-only history of turn snapshots per thread.
type CheckpointStore interface {
	// Setup prepares schemas or key spaces. It is safe to call repeatedly.
	Setup(ctx context.Context) error
	// Save appends a snapshot and returns its sequence number. Writes to the
	// same thread are serialized; different threads do not block each other.
	Save(ctx context.Context, threadID string, stage string, snapshot json.RawMessage) (int64, error)
	// LoadLatest returns the snapshot with the highest sequence number or
	// ErrNotFound.
	LoadLatest(ctx context.Context, threadID string) (Checkpoint, error)
	List(ctx context.Context, threadID string, limit int) ([]Checkpoint, error)
	Close() error
}

// KV is the namespaced long-term memory store.
type KV interface {
	Get(ctx context.Context, namespace []string, key string) (Entry, error)
	Put(ctx context.Context, namespace []string, key string, value json.RawMessage) error
	Delete(ctx context.Context, namespace []string, key string) error
	ListByPrefix(ctx context.Context, prefix []string) ([]Entry, error)
	Search(ctx context.Context, query SearchQuery) ([]Entry, error)
	// BatchGet returns the entries that exist; missing keys are omitted.
	BatchGet(ctx context.Context, keys []Key) ([]Entry, error)
	// BatchPut writes every item or none.
	BatchPut(ctx context.Context, items []Item) error
	Clear(ctx context.Context, prefix []string) error
	Close() error
}

// Backend is a store that serves both checkpoints and long-term memory.
type Backend interface {
	CheckpointStore
	KV
}
