// Package factory opens the configured state backend.
package factory

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/state"
	"github.com/PipeOpsHQ/coachflow/state/hybrid"
	"github.com/PipeOpsHQ/coachflow/state/memory"
	redisstore "github.com/PipeOpsHQ/coachflow/state/redis"
	sqlitestore "github.com/PipeOpsHQ/coachflow/state/sqlite"
)

const (
	defaultSQLitePath = "./.coachflow/state.db"
	defaultRedisAddr  = "127.0.0.1:6379"
	defaultCacheTTL   = 72 * time.Hour
)

type Config struct {
	Backend    string      `mapstructure:"backend"`
	SQLitePath string      `mapstructure:"sqlite_path"`
	Redis      RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Open builds the backend named by cfg.Backend: sqlite (default), redis,
// hybrid or memory. Setup has run on the returned store.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (state.Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "sqlite"
	}

	var (
		store state.Backend
		err   error
	)
	switch backend {
	case "sqlite":
		store, err = sqlitestore.New(sqlitePath(cfg))

	case "redis":
		store, err = newRedisStore(cfg.Redis, 0)

	case "hybrid":
		durable, derr := sqlitestore.New(sqlitePath(cfg))
		if derr != nil {
			return nil, derr
		}
		ttl := cfg.Redis.TTL
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		cache, cerr := newRedisStore(cfg.Redis, ttl)
		if cerr != nil {
			logger.Warn("redis cache unavailable, continuing with sqlite only", zap.Error(cerr))
			store, err = hybrid.New(durable, nil, hybrid.WithLogger(logger))
		} else {
			store, err = hybrid.New(durable, cache, hybrid.WithLogger(logger))
		}

	case "memory":
		store = memory.New()

	default:
		return nil, fmt.Errorf("unsupported state backend %q (use sqlite, redis, hybrid, or memory)", backend)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Setup(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Debug("state backend ready", zap.String("backend", backend))
	return store, nil
}

// FromEnv reads AGENT_STATE_BACKEND, AGENT_SQLITE_PATH and AGENT_REDIS_*.
func FromEnv(ctx context.Context) (state.Backend, error) {
	return Open(ctx, ConfigFromEnv(), nil)
}

func ConfigFromEnv() Config {
	return Config{
		Backend:    getenv("AGENT_STATE_BACKEND", "sqlite"),
		SQLitePath: getenv("AGENT_SQLITE_PATH", defaultSQLitePath),
		Redis: RedisConfig{
			Addr:     getenv("AGENT_REDIS_ADDR", defaultRedisAddr),
			Password: strings.TrimSpace(os.Getenv("AGENT_REDIS_PASSWORD")),
			DB:       getenvInt("AGENT_REDIS_DB", 0),
			Prefix:   getenv("AGENT_REDIS_PREFIX", ""),
			TTL:      getenvDuration("AGENT_REDIS_TTL", 0),
		},
	}
}

func sqlitePath(cfg Config) string {
	if strings.TrimSpace(cfg.SQLitePath) == "" {
		return defaultSQLitePath
	}
	return cfg.SQLitePath
}

func newRedisStore(cfg RedisConfig, ttl time.Duration) (*redisstore.Store, error) {
	addr := cfg.Addr
	if strings.TrimSpace(addr) == "" {
		addr = defaultRedisAddr
	}
	if ttl <= 0 {
		ttl = cfg.TTL
	}
	opts := []redisstore.Option{
		redisstore.WithPassword(cfg.Password),
		redisstore.WithDB(cfg.DB),
		redisstore.WithPrefix(cfg.Prefix),
		redisstore.WithTTL(ttl),
	}
	return redisstore.New(addr, opts...)
}

func getenv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
