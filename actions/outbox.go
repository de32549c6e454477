package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultOutboxPrefix = "coachflow:actions"
	defaultOutboxMaxLen = 10000
)

// Record is a batch as stored in the outbox stream.
type Record struct {
	ID          string    `json:"-"`
	Batch       Batch     `json:"batch"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Outbox publishes every batch to a Redis stream so other services can
// apply or audit the actions. The auth token is never written.
type Outbox struct {
	client *goredis.Client
	owns   bool
	addr   string
	pass   string
	db     int
	prefix string
	maxLen int64
	stream string
}

type OutboxOption func(*Outbox)

func WithOutboxClient(client *goredis.Client) OutboxOption {
	return func(o *Outbox) {
		if client != nil {
			o.client = client
		}
	}
}

func WithOutboxPrefix(prefix string) OutboxOption {
	return func(o *Outbox) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

func WithOutboxPassword(password string) OutboxOption {
	return func(o *Outbox) { o.pass = password }
}

func WithOutboxDB(db int) OutboxOption {
	return func(o *Outbox) { o.db = db }
}

// WithOutboxMaxLen caps the stream length approximately. Zero disables
// trimming.
func WithOutboxMaxLen(n int64) OutboxOption {
	return func(o *Outbox) {
		if n >= 0 {
			o.maxLen = n
		}
	}
}

func NewOutbox(addr string, opts ...OutboxOption) (*Outbox, error) {
	o := &Outbox{
		addr:   strings.TrimSpace(addr),
		prefix: defaultOutboxPrefix,
		maxLen: defaultOutboxMaxLen,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.client == nil {
		if o.addr == "" {
			return nil, fmt.Errorf("redis addr is required")
		}
		o.client = goredis.NewClient(&goredis.Options{Addr: o.addr, Password: o.pass, DB: o.db})
		o.owns = true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.client.Ping(ctx).Err(); err != nil {
		if o.owns {
			_ = o.client.Close()
		}
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	o.stream = o.prefix + ":outbox"
	return o, nil
}

// Execute appends batch to the stream. Empty batches are not published.
func (o *Outbox) Execute(ctx context.Context, batch Batch) error {
	_, err := o.Publish(ctx, batch)
	return err
}

// Publish appends batch and returns the stream entry id.
func (o *Outbox) Publish(ctx context.Context, batch Batch) (string, error) {
	if len(batch.Items) == 0 {
		return "", nil
	}
	payload, err := json.Marshal(Record{Batch: batch, PublishedAt: time.Now().UTC()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal action batch: %w", err)
	}
	args := &goredis.XAddArgs{
		Stream: o.stream,
		Values: map[string]any{
			"payload":   string(payload),
			"thread_id": batch.ThreadID,
			"user_id":   batch.UserID,
		},
	}
	if o.maxLen > 0 {
		args.MaxLen = o.maxLen
		args.Approx = true
	}
	id, err := o.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish action batch: %w", err)
	}
	return id, nil
}

// Recent returns up to limit records, newest first.
func (o *Outbox) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	entries, err := o.client.XRevRangeN(ctx, o.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("failed to read action outbox: %w", err)
	}
	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		payload, _ := entry.Values["payload"].(string)
		if payload == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			continue
		}
		rec.ID = entry.ID
		out = append(out, rec)
	}
	return out, nil
}

func (o *Outbox) Close() error {
	if o.owns {
		return o.client.Close()
	}
	return nil
}

// Multi runs every executor in order and joins their errors.
type Multi []Executor

func (m Multi) Execute(ctx context.Context, batch Batch) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Execute(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
