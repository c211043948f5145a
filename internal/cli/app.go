package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ryanmoran/gitbox/internal"
	"github.com/ryanmoran/gitbox/internal/cache"
	"github.com/ryanmoran/gitbox/internal/docker"
	"github.com/ryanmoran/gitbox/internal/observability"
	"github.com/ryanmoran/gitbox/internal/sandbox"
	"github.com/ryanmoran/gitbox/internal/store"
)

// ProvisionerFactory creates the sandbox provisioner. Resources it acquires
// are registered with cleanup.
type ProvisionerFactory func(ctx context.Context, config internal.Config, w internal.Writer, cleanup *internal.CleanupManager) (sandbox.Provisioner, error)

// App holds what commands need from the process.
type App struct {
	Writer    internal.Writer
	Env       []string
	Stdin     io.Reader
	LogOutput io.Writer
	Cleanup   *internal.CleanupManager
	Provision ProvisionerFactory
}

// DockerProvisioner connects to the Docker daemon described by the
// environment.
func DockerProvisioner(ctx context.Context, config internal.Config, w internal.Writer, cleanup *internal.CleanupManager) (sandbox.Provisioner, error) {
	client, err := docker.NewDefaultClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w\nMake sure Docker is installed and running (try 'docker ps')", err)
	}
	cleanup.Add("docker-client", client.Close)

	return sandbox.NewDockerProvisioner(client, config.Sandbox, w.GetWriter()), nil
}

func (a *App) defaults() {
	if a.Writer == nil {
		a.Writer = internal.NewStandardWriter()
	}
	if a.Stdin == nil {
		a.Stdin = os.Stdin
	}
	if a.LogOutput == nil {
		a.LogOutput = os.Stderr
	}
	if a.Cleanup == nil {
		a.Cleanup = internal.NewCleanupManager(nil)
	}
	if a.Provision == nil {
		a.Provision = DockerProvisioner
	}
}

// runtime lazily builds the dependencies a command asks for, so commands
// that only touch the cache never reach Docker.
type runtime struct {
	app     *App
	config  internal.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	cache   *cache.Cache
	manager *sandbox.Manager
	store   *store.Store
}

func newRuntime(app *App, config internal.Config) *runtime {
	logger := slog.New(slog.NewTextHandler(app.LogOutput, &slog.HandlerOptions{Level: config.SlogLevel()}))
	slog.SetDefault(logger)

	return &runtime{
		app:     app,
		config:  config,
		logger:  logger,
		metrics: observability.NewMetrics(),
	}
}

func (r *runtime) Cache() (*cache.Cache, error) {
	if r.cache != nil {
		return r.cache, nil
	}

	c, err := cache.Open(r.config.Cache, r.logger, cache.WithMetrics(r.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", r.config.Cache.Backend, err)
	}
	r.app.Cleanup.Add("cache", c.Close)

	r.cache = c
	return c, nil
}

func (r *runtime) Manager(ctx context.Context) (*sandbox.Manager, error) {
	if r.manager != nil {
		return r.manager, nil
	}

	c, err := r.Cache()
	if err != nil {
		return nil, err
	}

	provisioner, err := r.app.Provision(ctx, r.config, r.app.Writer, r.app.Cleanup)
	if err != nil {
		return nil, err
	}

	r.manager = sandbox.NewManager(provisioner, c, r.config,
		sandbox.WithMetrics(r.metrics),
		sandbox.WithLogger(r.logger),
	)
	return r.manager, nil
}

func (r *runtime) Store(ctx context.Context) (*store.Store, error) {
	if r.store != nil {
		return r.store, nil
	}

	manager, err := r.Manager(ctx)
	if err != nil {
		return nil, err
	}

	r.store = store.New(manager, r.cache, r.config, store.WithLogger(r.logger))
	return r.store, nil
}
