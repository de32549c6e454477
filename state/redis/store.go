package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PipeOpsHQ/coachflow/state"
)

const (
	defaultLimit  = 50
	defaultPrefix = "coachflow"
)

// Store keeps checkpoints and KV entries in Redis. Sequence numbers come from
// INCR so concurrent writers on one thread, in any process, never collide.
type Store struct {
	client   *goredis.Client
	ttl      time.Duration
	prefix   string
	addr     string
	db       int
	password string
	threads  state.ThreadLocks
}

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) {
		s.password = password
	}
}

func WithDB(db int) Option {
	return func(s *Store) {
		s.db = db
	}
}

// WithTTL expires every written key after ttl. Zero keeps keys forever, which
// is the default for a durable store; the hybrid cache sets a TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func New(addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	s := &Store{
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.Setup(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Setup verifies connectivity. Redis needs no schema.
func (s *Store) Setup(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &state.PersistenceError{Op: "setup", Err: fmt.Errorf("redis ping failed: %w", err)}
	}
	return nil
}

type storedCheckpoint struct {
	ThreadID  string          `json:"threadId"`
	Seq       int64           `json:"seq"`
	Stage     string          `json:"stage"`
	State     json.RawMessage `json:"state"`
	WrittenAt time.Time       `json:"writtenAt"`
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

	seq, err := s.client.Incr(ctx, s.seqCounterKey(threadID)).Result()
	if err != nil {
		return 0, &state.PersistenceError{Op: "save checkpoint", Err: fmt.Errorf("failed to allocate seq: %w", err)}
	}

	raw, err := json.Marshal(storedCheckpoint{
		ThreadID:  threadID,
		Seq:       seq,
		Stage:     stage,
		State:     snapshot,
		WrittenAt: time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.checkpointKey(threadID, seq), string(raw), s.ttl).Result()
	if err != nil {
		return 0, &state.PersistenceError{Op: "save checkpoint", Err: err}
	}
	if !ok {
		return 0, &state.PersistenceError{Op: "save checkpoint", Err: state.ErrConflict}
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.checkpointIndexKey(threadID), goredis.Z{Score: float64(seq), Member: strconv.FormatInt(seq, 10)})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.checkpointIndexKey(threadID), s.ttl)
		pipe.Expire(ctx, s.seqCounterKey(threadID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, &state.PersistenceError{Op: "save checkpoint", Err: fmt.Errorf("failed to index checkpoint: %w", err)}
	}
	return seq, nil
}

func (s *Store) LoadLatest(ctx context.Context, threadID string) (state.Checkpoint, error) {
	items, err := s.List(ctx, threadID, 1)
	if err != nil {
		return state.Checkpoint{}, err
	}
	if len(items) == 0 {
		return state.Checkpoint{}, state.ErrNotFound
	}
	return items[0], nil
}

func (s *Store) List(ctx context.Context, threadID string, limit int) ([]state.Checkpoint, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	seqs, err := s.client.ZRevRange(ctx, s.checkpointIndexKey(threadID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, &state.PersistenceError{Op: "list checkpoints", Err: err}
	}
	if len(seqs) == 0 {
		return []state.Checkpoint{}, nil
	}

	keys := make([]string, 0, len(seqs))
	for _, raw := range seqs {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, s.checkpointKey(threadID, seq))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, &state.PersistenceError{Op: "list checkpoints", Err: fmt.Errorf("failed to load checkpoint values: %w", err)}
	}
	out := make([]state.Checkpoint, 0, len(values))
	for _, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var stored storedCheckpoint
		if err := json.Unmarshal([]byte(str), &stored); err != nil {
			return nil, &state.PersistenceError{Op: "list checkpoints", Err: fmt.Errorf("failed to decode checkpoint: %w", err)}
		}
		out = append(out, state.Checkpoint(stored))
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) seqCounterKey(threadID string) string {
	return fmt.Sprintf("%s:ckpt:seq:%s", s.prefix, threadID)
}

func (s *Store) checkpointIndexKey(threadID string) string {
	return fmt.Sprintf("%s:ckpt:idx:%s", s.prefix, threadID)
}

func (s *Store) checkpointKey(threadID string, seq int64) string {
	return fmt.Sprintf("%s:ckpt:%s:%d", s.prefix, threadID, seq)
}

var (
	_ state.CheckpointStore = (*Store)(nil)
	_ state.KV              = (*Store)(nil)
)
