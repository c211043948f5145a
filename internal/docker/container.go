package docker

import (
	"context"
	"fmt"
	"net"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
)

// Container is a handle to one sandbox container.
type Container struct {
	client DockerClient
	port   network.Port

	ID   string
	Name string
}

// Start starts the container. Returns an error if the container fails to start,
// which may indicate a misconfiguration or an unhealthy Docker daemon.
func (c Container) Start(ctx context.Context) error {
	_, err := c.client.ContainerStart(ctx, c.ID, client.ContainerStartOptions{})
	if err != nil {
		return fmt.Errorf("failed to start container %q: %w\nContainer may be misconfigured or Docker daemon may be unhealthy", c.Name, err)
	}

	return nil
}

// ForceRemove forcibly removes the container, even if it is still running.
// A container that is already gone is not an error.
func (c Container) ForceRemove(ctx context.Context) error {
	_, err := c.client.ContainerRemove(ctx, c.ID, client.ContainerRemoveOptions{
		Force: true,
	})
	if cerrdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to force remove container %q: %w\nContainer may be in an inconsistent state", c.Name, err)
	}

	return nil
}

// IsRunning reports whether the container exists and is running.
func (c Container) IsRunning(ctx context.Context) (bool, error) {
	result, err := c.client.ContainerInspect(ctx, c.ID, client.ContainerInspectOptions{})
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect container %q: %w", c.Name, err)
	}

	return result.Container.State != nil && result.Container.State.Running, nil
}

// Endpoint returns the base URL of the published companion port, reachable
// through host.
func (c Container) Endpoint(ctx context.Context, host string) (string, error) {
	result, err := c.client.ContainerInspect(ctx, c.ID, client.ContainerInspectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %q: %w", c.Name, err)
	}

	if result.Container.NetworkSettings == nil {
		return "", fmt.Errorf("container %q has no network settings\nThe container may have exited during startup", c.Name)
	}

	for _, binding := range result.Container.NetworkSettings.Ports[c.port] {
		if binding.HostPort == "" {
			continue
		}
		return fmt.Sprintf("http://%s", net.JoinHostPort(host, binding.HostPort)), nil
	}

	return "", fmt.Errorf("container %q does not publish port %s", c.Name, c.port)
}
