package git_test

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/gitbox/internal"
	"github.com/ryanmoran/gitbox/internal/git"
	"github.com/ryanmoran/gitbox/internal/observability"
)

func TestRunner(t *testing.T) {
	ctx := context.Background()

	t.Run("captures output", func(t *testing.T) {
		if _, err := exec.LookPath("git"); err != nil {
			t.Skip("git not available:", err)
		}

		output, err := git.NewRunner(t.TempDir()).Run(ctx, "--version")
		require.NoError(t, err)
		assert.Contains(t, output.Stdout, "git version")
	})

	t.Run("returns a ToolError on non-zero exit", func(t *testing.T) {
		if _, err := exec.LookPath("git"); err != nil {
			t.Skip("git not available:", err)
		}
		metrics := observability.NewMetrics()

		_, err := git.NewRunner(t.TempDir(), git.WithRunnerMetrics(metrics)).Run(ctx, "status")

		var toolErr *internal.ToolError
		require.True(t, errors.As(err, &toolErr))
		assert.Equal(t, 128, toolErr.ExitCode)
		assert.Equal(t, []string{"status"}, toolErr.Args)
		assert.Contains(t, toolErr.Stderr, "not a git repository")
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GitCommandsTotal.WithLabelValues("status", "error")))
	})

	t.Run("when the binary is missing", func(t *testing.T) {
		_, err := git.NewRunner(t.TempDir(), git.WithBinary("/no/such/git")).Run(ctx, "status")
		require.ErrorContains(t, err, "failed to run git status")

		var toolErr *internal.ToolError
		require.False(t, errors.As(err, &toolErr))
	})
}
