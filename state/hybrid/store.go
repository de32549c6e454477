// Package hybrid pairs a durable backend with a fast cache of the latest
// checkpoint per thread. The durable side stays authoritative: cache failures
// are logged and never fail a call.
package hybrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/state"
)

var latestNamespace = []string{"checkpoint-latest"}

type HybridStore struct {
	durable state.Backend
	cache   state.KV
	logger  *zap.Logger
}

type Option func(*HybridStore)

func WithLogger(logger *zap.Logger) Option {
	return func(h *HybridStore) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New wraps durable. cache may be nil, in which case every call goes to the
// durable backend.
func New(durable state.Backend, cache state.KV, opts ...Option) (*HybridStore, error) {
	if durable == nil {
		return nil, fmt.Errorf("durable store is required")
	}
	h := &HybridStore{
		durable: durable,
		cache:   cache,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *HybridStore) Setup(ctx context.Context) error {
	return h.durable.Setup(ctx)
}

func (h *HybridStore) Save(ctx context.Context, threadID string, stage string, snapshot json.RawMessage) (int64, error) {
	seq, err := h.durable.Save(ctx, threadID, stage, snapshot)
	if err != nil {
		return 0, err
	}
	if h.cache != nil {
		cp, err := h.durable.LoadLatest(ctx, threadID)
		if err != nil {
			h.logger.Warn("hybrid store could not read back checkpoint", zap.String("thread_id", threadID), zap.Error(err))
			return seq, nil
		}
		h.remember(ctx, cp)
	}
	return seq, nil
}

func (h *HybridStore) LoadLatest(ctx context.Context, threadID string) (state.Checkpoint, error) {
	if h.cache != nil {
		entry, err := h.cache.Get(ctx, latestNamespace, threadID)
		switch {
		case err == nil:
			var cp state.Checkpoint
			if jsonErr := json.Unmarshal(entry.Value, &cp); jsonErr == nil {
				return cp, nil
			}
		case !errors.Is(err, state.ErrNotFound):
			h.logger.Warn("hybrid store cache LoadLatest failed", zap.String("thread_id", threadID), zap.Error(err))
		}
	}

	cp, err := h.durable.LoadLatest(ctx, threadID)
	if err != nil {
		return state.Checkpoint{}, err
	}
	if h.cache != nil {
		h.remember(ctx, cp)
	}
	return cp, nil
}

func (h *HybridStore) remember(ctx context.Context, cp state.Checkpoint) {
	raw, err := json.Marshal(cp)
	if err != nil {
		return
	}
	if err := h.cache.Put(ctx, latestNamespace, cp.ThreadID, raw); err != nil {
		h.logger.Warn("hybrid store cache backfill failed", zap.String("thread_id", cp.ThreadID), zap.Error(err))
	}
}

func (h *HybridStore) List(ctx context.Context, threadID string, limit int) ([]state.Checkpoint, error) {
	return h.durable.List(ctx, threadID, limit)
}

func (h *HybridStore) Get(ctx context.Context, namespace []string, key string) (state.Entry, error) {
	return h.durable.Get(ctx, namespace, key)
}

func (h *HybridStore) Put(ctx context.Context, namespace []string, key string, value json.RawMessage) error {
	return h.durable.Put(ctx, namespace, key, value)
}

func (h *HybridStore) Delete(ctx context.Context, namespace []string, key string) error {
	return h.durable.Delete(ctx, namespace, key)
}

func (h *HybridStore) ListByPrefix(ctx context.Context, prefix []string) ([]state.Entry, error) {
	return h.durable.ListByPrefix(ctx, prefix)
}

func (h *HybridStore) Search(ctx context.Context, query state.SearchQuery) ([]state.Entry, error) {
	return h.durable.Search(ctx, query)
}

func (h *HybridStore) BatchGet(ctx context.Context, keys []state.Key) ([]state.Entry, error) {
	return h.durable.BatchGet(ctx, keys)
}

func (h *HybridStore) BatchPut(ctx context.Context, items []state.Item) error {
	return h.durable.BatchPut(ctx, items)
}

func (h *HybridStore) Clear(ctx context.Context, prefix []string) error {
	return h.durable.Clear(ctx, prefix)
}

func (h *HybridStore) Close() error {
	var firstErr error
	if h.cache != nil {
		if err := h.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if h.durable != nil {
		if err := h.durable.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ state.Backend = (*HybridStore)(nil)
