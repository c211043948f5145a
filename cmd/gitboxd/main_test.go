package main

import (
	"bytes"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	t.Run("initializes the repository and exits after its lifetime", func(t *testing.T) {
		if _, err := exec.LookPath("git"); err != nil {
			t.Skip("git not available:", err)
		}

		storage := filepath.Join(t.TempDir(), "storage")
		logs := bytes.NewBuffer(nil)

		start := time.Now()
		err := run([]string{
			"gitboxd",
			"--addr", freeAddr(t),
			"--storage", storage,
			"--lifetime", "2s",
		}, []string{
			"CALLER_PASSPHRASE=hunter2",
			"GIT_CONFIG_GLOBAL=" + os.DevNull,
		}, logs)
		require.NoError(t, err)

		assert.Less(t, time.Since(start), 10*time.Second)
		assert.DirExists(t, filepath.Join(storage, ".git"))
		assert.Contains(t, logs.String(), "repository initialized")
		assert.Contains(t, logs.String(), "lifetime elapsed")
	})

	t.Run("rejects an address it cannot serve", func(t *testing.T) {
		storage := filepath.Join(t.TempDir(), "storage")

		err := run([]string{"gitboxd", "--addr", "127.0.0.1:0", "--storage", storage}, nil, bytes.NewBuffer(nil))
		require.ErrorContains(t, err, `invalid listen address "127.0.0.1:0"`)
		assert.NoDirExists(t, storage)
	})

	t.Run("rejects positional arguments", func(t *testing.T) {
		err := run([]string{"gitboxd", "extra"}, nil, bytes.NewBuffer(nil))
		require.ErrorContains(t, err, "unknown command")
	})
}

func freeAddr(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}

func TestLookup(t *testing.T) {
	values := lookup([]string{"A=1", "B=x=y", "malformed"})
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y"}, values)
}
