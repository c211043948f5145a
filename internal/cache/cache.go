// Package cache is a key/value store with per-entry expiry and a
// compute-if-absent helper. Values are JSON encoded so any backend can hold
// them. Expired entries are treated as absent on read; Sweep only reclaims
// space.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ryanmoran/gitbox/internal"
	"github.com/ryanmoran/gitbox/internal/observability"
)

// Entry is one stored value. ExpiresAt is in Unix milliseconds.
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt int64
}

// Backend persists entries. Implementations do not interpret values or
// enforce expiry on read; the Cache does that.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, keys ...string) error
	Sweep(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

type Cache struct {
	backend Backend
	prefix  string
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Cache)

// WithMetrics records hits, misses and stores on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithLogger sets the logger used for non-fatal cache failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New wraps backend. Every key is namespaced as "<prefix>:<key>".
func New(backend Backend, prefix string, options ...Option) *Cache {
	c := &Cache{
		backend: backend,
		prefix:  prefix,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Open builds the backend named by config.
func Open(config internal.CacheConfig, logger *slog.Logger, options ...Option) (*Cache, error) {
	var (
		backend Backend
		err     error
	)

	switch config.Backend {
	case internal.CacheBackendMemory:
		backend = NewMemoryBackend()
	case internal.CacheBackendSQLite:
		backend, err = OpenSQLite(config.DSN, logger)
	case internal.CacheBackendPostgres:
		backend, err = OpenPostgres(config.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", config.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("cache opened", slog.String("backend", backend.Name()))
	return New(backend, config.Prefix, append([]Option{WithLogger(logger)}, options...)...), nil
}

func (c *Cache) key(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// Get decodes the value stored under key into out. It reports false when the
// key is missing or expired.
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	entry, found, err := c.backend.Get(ctx, c.key(key))
	if err != nil {
		c.metrics.ObserveCache(c.backend.Name(), "error")
		return false, fmt.Errorf("failed to read cache key %q: %w", key, err)
	}

	if !found || entry.ExpiresAt <= c.now().UnixMilli() {
		c.metrics.ObserveCache(c.backend.Name(), "miss")
		return false, nil
	}

	if err := json.Unmarshal(entry.Value, out); err != nil {
		c.metrics.ObserveCache(c.backend.Name(), "error")
		return false, fmt.Errorf("failed to decode cache key %q: %w", key, err)
	}

	c.metrics.ObserveCache(c.backend.Name(), "hit")
	return true, nil
}

// Set stores value under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("failed to write cache key %q: ttl must be positive", key)
	}

	content, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache key %q: %w", key, err)
	}

	err = c.backend.Set(ctx, Entry{
		Key:       c.key(key),
		Value:     content,
		ExpiresAt: c.now().Add(ttl).UnixMilli(),
	})
	if err != nil {
		c.metrics.ObserveCache(c.backend.Name(), "error")
		return fmt.Errorf("failed to write cache key %q: %w", key, err)
	}

	c.metrics.ObserveCache(c.backend.Name(), "store")
	return nil
}

// Delete removes keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	namespaced := make([]string, 0, len(keys))
	for _, key := range keys {
		namespaced = append(namespaced, c.key(key))
	}

	if err := c.backend.Delete(ctx, namespaced...); err != nil {
		c.metrics.ObserveCache(c.backend.Name(), "error")
		return fmt.Errorf("failed to delete cache keys %q: %w", keys, err)
	}

	c.metrics.ObserveCache(c.backend.Name(), "delete")
	return nil
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	removed, err := c.backend.Sweep(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep %s cache: %w", c.backend.Name(), err)
	}
	return removed, nil
}

// Backend returns the name of the underlying backend.
func (c *Cache) Backend() string {
	return c.backend.Name()
}

func (c *Cache) Close() error {
	return c.backend.Close()
}

// Producer computes a value on a cache miss. It returns ok=false when there
// is no value to store.
type Producer[T any] func(ctx context.Context) (value T, ok bool, err error)

// Fetch returns the cached value under key, or runs produce and stores its
// result for ttl. Failures and "no value" results are never stored. A failed
// store is logged and the produced value is still returned. Two concurrent
// misses may both run produce.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, produce Producer[T]) (T, bool, error) {
	var value T

	found, err := c.Get(ctx, key, &value)
	if err != nil {
		return value, false, err
	}
	if found {
		return value, true, nil
	}

	value, ok, err := produce(ctx)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("cache store failed", slog.String("key", key), slog.Any("error", err))
	}

	return value, true, nil
}
