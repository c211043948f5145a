package cache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/gitbox/internal"
	"github.com/ryanmoran/gitbox/internal/cache"
	"github.com/ryanmoran/gitbox/internal/observability"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCache(t *testing.T) {
	backends := map[string]func(t *testing.T) cache.Backend{
		"memory": func(t *testing.T) cache.Backend {
			return cache.NewMemoryBackend()
		},
		"sqlite": func(t *testing.T) cache.Backend {
			backend, err := cache.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), discardLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = backend.Close() })
			return backend
		},
	}

	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			setup := func(t *testing.T) (*cache.Cache, *clock) {
				t.Helper()

				c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
				return cache.New(newBackend(t), "kvCache", cache.WithClock(c.Now), cache.WithLogger(discardLogger())), c
			}

			t.Run("Get and Set", func(t *testing.T) {
				t.Run("returns stored values until they expire", func(t *testing.T) {
					c, clk := setup(t)
					ctx := context.Background()

					require.NoError(t, c.Set(ctx, "home_files", []string{"a", "b"}, 2*time.Minute))

					var files []string
					found, err := c.Get(ctx, "home_files", &files)
					require.NoError(t, err)
					require.True(t, found)
					require.Equal(t, []string{"a", "b"}, files)

					clk.Advance(2 * time.Minute)

					found, err = c.Get(ctx, "home_files", &files)
					require.NoError(t, err)
					require.False(t, found)
				})

				t.Run("reports absence for unknown keys", func(t *testing.T) {
					c, _ := setup(t)

					var value string
					found, err := c.Get(context.Background(), "missing", &value)
					require.NoError(t, err)
					require.False(t, found)
				})

				t.Run("overwrites existing values", func(t *testing.T) {
					c, _ := setup(t)
					ctx := context.Background()

					require.NoError(t, c.Set(ctx, "k", "one", time.Minute))
					require.NoError(t, c.Set(ctx, "k", "two", time.Minute))

					var value string
					found, err := c.Get(ctx, "k", &value)
					require.NoError(t, err)
					require.True(t, found)
					require.Equal(t, "two", value)
				})

				t.Run("rejects a non-positive ttl", func(t *testing.T) {
					c, _ := setup(t)
					require.ErrorContains(t, c.Set(context.Background(), "k", "v", 0), "ttl must be positive")
				})
			})

			t.Run("Delete", func(t *testing.T) {
				t.Run("makes the next Get report absence", func(t *testing.T) {
					c, _ := setup(t)
					ctx := context.Background()

					require.NoError(t, c.Set(ctx, "doc.md", "# A", time.Minute))
					require.NoError(t, c.Set(ctx, "commits-doc.md", []string{"abc"}, time.Minute))

					require.NoError(t, c.Delete(ctx, "doc.md", "commits-doc.md", "never-set"))

					var value string
					found, err := c.Get(ctx, "doc.md", &value)
					require.NoError(t, err)
					require.False(t, found)

					var history []string
					found, err = c.Get(ctx, "commits-doc.md", &history)
					require.NoError(t, err)
					require.False(t, found)
				})
			})

			t.Run("Fetch", func(t *testing.T) {
				t.Run("runs the producer at most once within the ttl", func(t *testing.T) {
					c, _ := setup(t)
					ctx := context.Background()
					calls := 0
					produce := func(context.Context) (string, bool, error) {
						calls++
						return "# A", true, nil
					}

					value, found, err := cache.Fetch(ctx, c, "doc.md", time.Minute, produce)
					require.NoError(t, err)
					require.True(t, found)
					require.Equal(t, "# A", value)

					value, found, err = cache.Fetch(ctx, c, "doc.md", time.Minute, produce)
					require.NoError(t, err)
					require.True(t, found)
					require.Equal(t, "# A", value)

					require.Equal(t, 1, calls)
				})

				t.Run("runs the producer again after expiry", func(t *testing.T) {
					c, clk := setup(t)
					ctx := context.Background()
					calls := 0
					produce := func(context.Context) (int, bool, error) {
						calls++
						return calls, true, nil
					}

					_, _, err := cache.Fetch(ctx, c, "n", time.Minute, produce)
					require.NoError(t, err)

					clk.Advance(time.Minute + time.Second)

					value, _, err := cache.Fetch(ctx, c, "n", time.Minute, produce)
					require.NoError(t, err)
					require.Equal(t, 2, value)
				})

				t.Run("does not store a missing value", func(t *testing.T) {
					c, _ := setup(t)
					ctx := context.Background()
					calls := 0
					produce := func(context.Context) (string, bool, error) {
						calls++
						return "", false, nil
					}

					_, found, err := cache.Fetch(ctx, c, "doc.md", time.Minute, produce)
					require.NoError(t, err)
					require.False(t, found)

					_, found, err = cache.Fetch(ctx, c, "doc.md", time.Minute, produce)
					require.NoError(t, err)
					require.False(t, found)

					require.Equal(t, 2, calls)
				})

				t.Run("propagates producer failures without storing", func(t *testing.T) {
					c, _ := setup(t)
					ctx := context.Background()

					_, found, err := cache.Fetch(ctx, c, "doc.md", time.Minute, func(context.Context) (string, bool, error) {
						return "partial", true, errors.New("companion unavailable")
					})
					require.ErrorContains(t, err, "companion unavailable")
					require.False(t, found)

					var value string
					found, err = c.Get(ctx, "doc.md", &value)
					require.NoError(t, err)
					require.False(t, found)
				})
			})

			t.Run("Sweep", func(t *testing.T) {
				t.Run("removes only expired entries", func(t *testing.T) {
					c, clk := setup(t)
					ctx := context.Background()

					require.NoError(t, c.Set(ctx, "short", "v", time.Minute))
					require.NoError(t, c.Set(ctx, "long", "v", time.Hour))

					clk.Advance(2 * time.Minute)

					removed, err := c.Sweep(ctx)
					require.NoError(t, err)
					require.Equal(t, int64(1), removed)

					clk.now = clk.now.Add(-2 * time.Minute)

					var value string
					found, err := c.Get(ctx, "short", &value)
					require.NoError(t, err)
					require.False(t, found)

					found, err = c.Get(ctx, "long", &value)
					require.NoError(t, err)
					require.True(t, found)
				})
			})
		})
	}

	t.Run("namespaces keys with the prefix", func(t *testing.T) {
		backend := cache.NewMemoryBackend()
		c := cache.New(backend, "kvCache")
		ctx := context.Background()

		require.NoError(t, c.Set(ctx, "home_files", []string{}, time.Minute))

		_, found, err := backend.Get(ctx, "kvCache:home_files")
		require.NoError(t, err)
		require.True(t, found)
	})

	t.Run("records metrics", func(t *testing.T) {
		metrics := observability.NewMetrics()
		c := cache.New(cache.NewMemoryBackend(), "kvCache", cache.WithMetrics(metrics))
		ctx := context.Background()

		var value string
		_, err := c.Get(ctx, "k", &value)
		require.NoError(t, err)
		require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
		_, err = c.Get(ctx, "k", &value)
		require.NoError(t, err)

		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequestsTotal.WithLabelValues("memory", "miss")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequestsTotal.WithLabelValues("memory", "store")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequestsTotal.WithLabelValues("memory", "hit")))
	})
}

func TestOpen(t *testing.T) {
	t.Run("opens the memory backend", func(t *testing.T) {
		c, err := cache.Open(internal.CacheConfig{Backend: internal.CacheBackendMemory, Prefix: "kvCache"}, discardLogger())
		require.NoError(t, err)
		defer c.Close()

		require.Equal(t, "memory", c.Backend())
	})

	t.Run("opens the sqlite backend", func(t *testing.T) {
		c, err := cache.Open(internal.CacheConfig{
			Backend: internal.CacheBackendSQLite,
			DSN:     filepath.Join(t.TempDir(), "nested", "cache.db"),
			Prefix:  "kvCache",
		}, discardLogger())
		require.NoError(t, err)
		defer c.Close()

		require.Equal(t, "sqlite", c.Backend())
	})

	t.Run("rejects unknown backends", func(t *testing.T) {
		_, err := cache.Open(internal.CacheConfig{Backend: "redis"}, discardLogger())
		require.ErrorContains(t, err, `unknown cache backend "redis"`)
	})
}
