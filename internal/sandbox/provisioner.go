package sandbox

import (
	"context"
	"fmt"
	"io"

	"github.com/ryanmoran/gitbox/internal"
	"github.com/ryanmoran/gitbox/internal/docker"
)

// Provisioner creates and tears down sandbox containers.
type Provisioner interface {
	// PrepareImage makes sure the sandbox image is available locally.
	PrepareImage(ctx context.Context) error

	// EnsureVolume returns the named persistent volume, creating it if needed.
	EnsureVolume(ctx context.Context, name string) (bool, error)

	// Launch creates and starts a container and returns its ID and the base
	// URL of its published companion port.
	Launch(ctx context.Context, spec docker.ContainerSpec) (string, string, error)

	IsRunning(ctx context.Context, id string) (bool, error)
	Terminate(ctx context.Context, id string) error
	List(ctx context.Context) ([]docker.Sandbox, error)
}

// DockerProvisioner provisions sandboxes on a Docker daemon.
type DockerProvisioner struct {
	client docker.Client
	config internal.SandboxConfig
	output io.Writer
}

// NewDockerProvisioner creates a DockerProvisioner. Image build output is
// streamed to output.
func NewDockerProvisioner(client docker.Client, config internal.SandboxConfig, output io.Writer) DockerProvisioner {
	if output == nil {
		output = io.Discard
	}
	return DockerProvisioner{
		client: client,
		config: config,
		output: output,
	}
}

func (p DockerProvisioner) PrepareImage(ctx context.Context) error {
	exists, err := p.client.ImageExists(ctx, p.config.Image)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if p.config.Dockerfile == "" {
		return fmt.Errorf("image %q not found\nBuild the companion image or set sandbox.dockerfile", p.config.Image)
	}

	_, err = p.client.BuildImage(ctx, p.config.Dockerfile, p.config.Image, p.output)
	return err
}

func (p DockerProvisioner) EnsureVolume(ctx context.Context, name string) (bool, error) {
	return p.client.EnsureVolume(ctx, name)
}

func (p DockerProvisioner) Launch(ctx context.Context, spec docker.ContainerSpec) (string, string, error) {
	container, err := p.client.CreateContainer(ctx, spec)
	if err != nil {
		return "", "", err
	}

	if err := container.Start(ctx); err != nil {
		_ = container.ForceRemove(context.WithoutCancel(ctx))
		return "", "", err
	}

	endpoint, err := container.Endpoint(ctx, p.config.Host)
	if err != nil {
		_ = container.ForceRemove(context.WithoutCancel(ctx))
		return "", "", err
	}

	return container.ID, endpoint, nil
}

func (p DockerProvisioner) IsRunning(ctx context.Context, id string) (bool, error) {
	return p.client.Container(id, p.config.Port).IsRunning(ctx)
}

func (p DockerProvisioner) Terminate(ctx context.Context, id string) error {
	return p.client.Container(id, p.config.Port).ForceRemove(ctx)
}

func (p DockerProvisioner) List(ctx context.Context) ([]docker.Sandbox, error) {
	return p.client.ListSandboxes(ctx)
}
