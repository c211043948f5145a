package internal_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/gitbox/internal"
)

func TestCleanupManager(t *testing.T) {
	setup := func(t *testing.T) (*internal.CleanupManager, *bytes.Buffer) {
		t.Helper()

		buffer := bytes.NewBuffer(nil)
		logger := slog.New(slog.NewTextHandler(buffer, nil))
		return internal.NewCleanupManager(logger), buffer
	}

	t.Run("runs cleanups in LIFO order", func(t *testing.T) {
		m, _ := setup(t)
		var order []string

		for _, name := range []string{"first", "second", "third"} {
			m.Add(name, func() error {
				order = append(order, name)
				return nil
			})
		}

		m.Execute()

		require.Equal(t, []string{"third", "second", "first"}, order)
	})

	t.Run("continues past failures and logs them", func(t *testing.T) {
		m, logs := setup(t)
		var executed []string

		m.Add("cache", func() error {
			executed = append(executed, "cache")
			return nil
		})
		m.Add("docker", func() error {
			executed = append(executed, "docker")
			return errors.New("connection reset")
		})

		m.Execute()

		require.Equal(t, []string{"docker", "cache"}, executed)
		assert.Contains(t, logs.String(), "cleanup failed")
		assert.Contains(t, logs.String(), "resource=docker")
		assert.Contains(t, logs.String(), "connection reset")
	})

	t.Run("runs each cleanup only once", func(t *testing.T) {
		m, _ := setup(t)
		calls := 0
		m.Add("once", func() error {
			calls++
			return nil
		})

		m.Execute()
		m.Execute()

		require.Equal(t, 1, calls)
	})

	t.Run("with no cleanups registered", func(t *testing.T) {
		m := internal.NewCleanupManager(nil)
		require.NotPanics(t, m.Execute)
	})
}
