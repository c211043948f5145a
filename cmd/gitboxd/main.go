// Command gitboxd is the companion service that runs inside a gitbox sandbox.
// It owns the git repository on the mounted storage volume and exits once its
// lifetime has passed so the container can be reclaimed.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ryanmoran/gitbox/internal"
	"github.com/ryanmoran/gitbox/internal/companion"
	"github.com/ryanmoran/gitbox/internal/git"
	"github.com/ryanmoran/gitbox/internal/observability"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic occurred: %v", r)
			os.Exit(1)
		}
	}()

	if err := run(os.Args, os.Environ(), os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	addr       string
	storage    string
	extension  string
	authHeader string
	lifetime   time.Duration
}

func run(args, env []string, logOutput io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := newCommand(env, logOutput)
	cmd.SetArgs(args[1:])
	return cmd.ExecuteContext(ctx)
}

func newCommand(env []string, logOutput io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "gitboxd",
		Short:         "Serve a git-backed document repository over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts, lookup(env), logOutput)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", fmt.Sprintf(":%d", internal.DefaultCompanionPort), "Address to listen on")
	cmd.Flags().StringVar(&opts.storage, "storage", "/data/storage", "Directory holding the git repository")
	cmd.Flags().StringVar(&opts.extension, "extension", ".md", "File extension of stored documents")
	cmd.Flags().StringVar(&opts.authHeader, "auth-header", internal.DefaultAuthHeader, "Header carrying the shared secret")
	cmd.Flags().DurationVar(&opts.lifetime, "lifetime", internal.DefaultSandboxLifetime, "Exit after this long; zero runs until signalled")

	return cmd
}

func lookup(env []string) map[string]string {
	values := make(map[string]string, len(env))
	for _, variable := range env {
		if key, value, ok := strings.Cut(variable, "="); ok {
			values[key] = value
		}
	}
	return values
}

func serve(ctx context.Context, opts options, env map[string]string, logOutput io.Writer) error {
	if err := companion.ValidateAddr(opts.addr); err != nil {
		return err
	}

	level := internal.Config{LogLevel: env["GITBOX_LOG_LEVEL"]}.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	secret := env[internal.SecretEnvVar]
	if secret == "" {
		logger.Warn("no shared secret configured; every guarded route will fail", slog.String("variable", internal.SecretEnvVar))
	}

	identity := internal.DefaultConfig("prod").GitUser
	if name := env["GITBOX_GIT_USER_NAME"]; name != "" {
		identity.Name = name
	}
	if email := env["GITBOX_GIT_USER_EMAIL"]; email != "" {
		identity.Email = email
	}

	metrics := observability.NewMetrics()

	runnerOptions := []git.RunnerOption{
		git.WithIdentity(identity),
		git.WithRunnerMetrics(metrics),
		git.WithRunnerLogger(logger),
	}
	if global := env["GIT_CONFIG_GLOBAL"]; global != "" {
		runnerOptions = append(runnerOptions, git.WithEnv("GIT_CONFIG_GLOBAL="+global))
	}

	repository := git.NewRepository(git.NewRunner(opts.storage, runnerOptions...), opts.extension)

	created, err := repository.Init(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize repository in %q: %w", opts.storage, err)
	}
	if created {
		logger.Info("repository initialized", slog.String("dir", repository.Dir()))
	}

	server := companion.NewServer(repository, companion.Config{
		Secret:     secret,
		AuthHeader: opts.authHeader,
		Metrics:    metrics,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scheduler, err := schedule(ctx, cancel, repository, opts.lifetime, logger)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Start(ctx, opts.addr); err != nil {
			return fmt.Errorf("companion server failed on %s: %w", opts.addr, err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		if err := server.Stop(); err != nil {
			return fmt.Errorf("failed to stop companion server: %w", err)
		}
		return nil
	})

	return group.Wait()
}

// schedule registers the lifetime watchdog and periodic repository
// maintenance. The watchdog cancels ctx once the lifetime has passed.
func schedule(ctx context.Context, cancel context.CancelFunc, repository *git.Repository, lifetime time.Duration, logger *slog.Logger) (*cron.Cron, error) {
	scheduler := cron.New()
	started := time.Now()

	if lifetime > 0 {
		_, err := scheduler.AddFunc("@every 1s", func() {
			if time.Since(started) >= lifetime {
				logger.Info("lifetime elapsed, shutting down", slog.Duration("lifetime", lifetime))
				cancel()
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule lifetime watchdog: %w", err)
		}
	}

	_, err := scheduler.AddFunc("@hourly", func() {
		if err := repository.GC(ctx); err != nil {
			logger.Warn("repository maintenance failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule repository maintenance: %w", err)
	}

	scheduler.Start()
	return scheduler, nil
}
