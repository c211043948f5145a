//go:build integration
// +build integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/gitbox/internal/docker"
)

// TestFullWorkflow builds the companion image, provisions a sandbox and drives
// a document through create, write, history and restore.
func TestFullWorkflow(t *testing.T) {
	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("Integration tests skipped")
	}

	client, err := docker.NewDefaultClient()
	require.NoError(t, err, "Docker daemon must be running for integration tests")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	_, err = client.Ping(ctx)
	require.NoError(t, err, "Failed to ping Docker daemon")

	_, file, _, _ := runtime.Caller(0)
	dockerfile := filepath.Join(filepath.Dir(file), "Dockerfile")

	dir := t.TempDir()
	env := []string{
		"APP_ENV=test",
		"GITBOX_IMAGE=gitbox-companion:integration",
		"GITBOX_DOCKERFILE=" + dockerfile,
		"GITBOX_CACHE_DSN=" + filepath.Join(dir, "cache.db"),
	}
	base := []string{"gitbox", "--env-file", filepath.Join(dir, ".env")}

	t.Cleanup(func() {
		_ = run(append(base, "sandbox", "stop"), env)
	})

	t.Run("provisions a sandbox", func(t *testing.T) {
		require.NoError(t, run(append(base, "sandbox", "up"), env))
	})

	t.Run("writes and reads a document", func(t *testing.T) {
		require.NoError(t, run(append(base, "write", "integration", "--content", "hello\n"), env))
		require.NoError(t, run(append(base, "read", "integration"), env))
		require.NoError(t, run(append(base, "history", "integration"), env))
	})

	t.Run("reuses the cached session", func(t *testing.T) {
		require.NoError(t, run(append(base, "status"), env))
		require.NoError(t, run(append(base, "list"), env))
	})
}
