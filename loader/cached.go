package loader

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/state"
	"github.com/PipeOpsHQ/coachflow/types"
)

const DefaultProfileTTL = 15 * time.Minute

var profileNamespace = []string{"profiles"}

// CachedLoader keeps user profiles in the durable store so repeated turns
// skip the profile round trips. Tasks change too often to cache and always
// go to the wrapped loader. Cache failures never fail a load.
type CachedLoader struct {
	next   Loader
	kv     state.KV
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

type CacheOption func(*CachedLoader)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CachedLoader) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) CacheOption {
	return func(c *CachedLoader) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCachedLoader(next Loader, kv state.KV, opts ...CacheOption) *CachedLoader {
	c := &CachedLoader{
		next:   next,
		kv:     kv,
		ttl:    DefaultProfileTTL,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedLoader) LoadUser(ctx context.Context, userID, token string) (*types.UserProfile, error) {
	if profile, ok := c.cached(ctx, userID); ok {
		return profile, nil
	}
	profile, err := c.next.LoadUser(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(profile)
	if err == nil {
		err = c.kv.Put(ctx, profileNamespace, userID, raw)
	}
	if err != nil {
		c.logger.Warn("failed to cache user profile", zap.String("user_id", userID), zap.Error(err))
	}
	return profile, nil
}

func (c *CachedLoader) LoadTask(ctx context.Context, userID, token, taskID string) (*types.Task, error) {
	return c.next.LoadTask(ctx, userID, token, taskID)
}

func (c *CachedLoader) LoadTasks(ctx context.Context, userID, token string) ([]types.Task, error) {
	return c.next.LoadTasks(ctx, userID, token)
}

// Invalidate drops the cached profile of userID.
func (c *CachedLoader) Invalidate(ctx context.Context, userID string) error {
	err := c.kv.Delete(ctx, profileNamespace, userID)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	return err
}

func (c *CachedLoader) cached(ctx context.Context, userID string) (*types.UserProfile, bool) {
	entry, err := c.kv.Get(ctx, profileNamespace, userID)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			c.logger.Warn("profile cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, false
	}
	if c.now().Sub(entry.UpdatedAt) > c.ttl {
		return nil, false
	}
	var profile types.UserProfile
	if err := json.Unmarshal(entry.Value, &profile); err != nil {
		c.logger.Warn("discarding unreadable cached profile", zap.String("user_id", userID), zap.Error(err))
		return nil, false
	}
	return &profile, true
}
