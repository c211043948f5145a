package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/ryanmoran/gitbox/internal"
	"github.com/ryanmoran/gitbox/internal/observability"
)

// Output is what a successful git invocation printed.
type Output struct {
	Stdout string
	Stderr string
}

// Runner executes git in a fixed working directory.
type Runner struct {
	binary  string
	dir     string
	env     []string
	metrics *observability.Metrics
	logger  *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBinary overrides the git executable. The default is "git" looked up in
// PATH.
func WithBinary(path string) RunnerOption {
	return func(r *Runner) {
		r.binary = path
	}
}

// WithEnv appends environment variables to every invocation.
func WithEnv(env ...string) RunnerOption {
	return func(r *Runner) {
		r.env = append(r.env, env...)
	}
}

// WithIdentity sets the author and committer used for commits.
func WithIdentity(user internal.GitUserConfig) RunnerOption {
	return WithEnv(
		"GIT_AUTHOR_NAME="+user.Name,
		"GIT_AUTHOR_EMAIL="+user.Email,
		"GIT_COMMITTER_NAME="+user.Name,
		"GIT_COMMITTER_EMAIL="+user.Email,
	)
}

func WithRunnerMetrics(m *observability.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner rooted at dir.
func NewRunner(dir string, options ...RunnerOption) Runner {
	r := Runner{
		binary: "git",
		dir:    dir,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(&r)
	}
	return r
}

// Dir returns the working directory git runs in.
func (r Runner) Dir() string {
	return r.dir
}

// Run executes git with args. A non-zero exit is returned as an
// *internal.ToolError carrying the captured output.
func (r Runner) Run(ctx context.Context, args ...string) (Output, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), r.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := Output{Stdout: stdout.String(), Stderr: stderr.String()}

	command := "unknown"
	if len(args) > 0 {
		command = args[0]
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			toolErr := &internal.ToolError{
				Args:     args,
				ExitCode: exitErr.ExitCode(),
				Stdout:   output.Stdout,
				Stderr:   output.Stderr,
			}
			r.metrics.ObserveGit(command, toolErr)
			r.logger.Debug("git exited with failure", "command", command, "exit_code", toolErr.ExitCode)
			return output, toolErr
		}

		r.metrics.ObserveGit(command, err)
		return output, fmt.Errorf("failed to run git %s: %w\nEnsure git is installed and in your PATH", command, err)
	}

	r.metrics.ObserveGit(command, nil)
	return output, nil
}

// exitCode returns the exit status carried by a ToolError, or -1.
func exitCode(err error) int {
	var toolErr *internal.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.ExitCode
	}
	return -1
}
