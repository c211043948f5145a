package docker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/gitbox/internal/docker"
)

func inspectResult(running bool, hostPort string) client.ContainerInspectResult {
	port, _ := network.PortFrom(3000, network.TCP)

	return client.ContainerInspectResult{
		Container: container.InspectResponse{
			State: &container.State{Running: running},
			NetworkSettings: &container.NetworkSettings{
				Ports: network.PortMap{
					port: []network.PortBinding{{HostPort: hostPort}},
				},
			},
		},
	}
}

func TestContainer(t *testing.T) {
	t.Run("Start", func(t *testing.T) {
		t.Run("starts the container", func(t *testing.T) {
			startCalled := false
			mock := &mockDockerClient{
				containerStartFunc: func(ctx context.Context, containerID string, options client.ContainerStartOptions) (client.ContainerStartResult, error) {
					startCalled = true
					assert.Equal(t, "container123", containerID)
					return client.ContainerStartResult{}, nil
				},
			}

			err := docker.NewClient(mock).Container("container123", 3000).Start(context.Background())
			require.NoError(t, err)
			assert.True(t, startCalled)
		})

		t.Run("fails when ContainerStart returns error", func(t *testing.T) {
			mock := &mockDockerClient{
				containerStartFunc: func(ctx context.Context, containerID string, options client.ContainerStartOptions) (client.ContainerStartResult, error) {
					return client.ContainerStartResult{}, errors.New("port is already allocated")
				},
			}

			err := docker.NewClient(mock).Container("container123", 3000).Start(context.Background())
			require.ErrorContains(t, err, "failed to start container")
		})
	})

	t.Run("ForceRemove", func(t *testing.T) {
		t.Run("force removes the container", func(t *testing.T) {
			removeCalled := false
			mock := &mockDockerClient{
				containerRemoveFunc: func(ctx context.Context, containerID string, options client.ContainerRemoveOptions) (client.ContainerRemoveResult, error) {
					removeCalled = true
					assert.Equal(t, "container123", containerID)
					assert.True(t, options.Force)
					return client.ContainerRemoveResult{}, nil
				},
			}

			err := docker.NewClient(mock).Container("container123", 3000).ForceRemove(context.Background())
			require.NoError(t, err)
			assert.True(t, removeCalled)
		})

		t.Run("ignores containers that are already gone", func(t *testing.T) {
			mock := &mockDockerClient{
				containerRemoveFunc: func(ctx context.Context, containerID string, options client.ContainerRemoveOptions) (client.ContainerRemoveResult, error) {
					return client.ContainerRemoveResult{}, fmt.Errorf("No such container: %w", cerrdefs.ErrNotFound)
				},
			}

			err := docker.NewClient(mock).Container("container123", 3000).ForceRemove(context.Background())
			require.NoError(t, err)
		})

		t.Run("fails when ContainerRemove returns error", func(t *testing.T) {
			mock := &mockDockerClient{
				containerRemoveFunc: func(ctx context.Context, containerID string, options client.ContainerRemoveOptions) (client.ContainerRemoveResult, error) {
					return client.ContainerRemoveResult{}, errors.New("removal already in progress")
				},
			}

			err := docker.NewClient(mock).Container("container123", 3000).ForceRemove(context.Background())
			require.ErrorContains(t, err, "failed to force remove container")
		})
	})

	t.Run("IsRunning", func(t *testing.T) {
		t.Run("when the container is running", func(t *testing.T) {
			mock := &mockDockerClient{
				containerInspectFunc: func(ctx context.Context, containerID string, options client.ContainerInspectOptions) (client.ContainerInspectResult, error) {
					return inspectResult(true, "49153"), nil
				},
			}

			running, err := docker.NewClient(mock).Container("container123", 3000).IsRunning(context.Background())
			require.NoError(t, err)
			require.True(t, running)
		})

		t.Run("when the container has exited", func(t *testing.T) {
			mock := &mockDockerClient{
				containerInspectFunc: func(ctx context.Context, containerID string, options client.ContainerInspectOptions) (client.ContainerInspectResult, error) {
					return inspectResult(false, ""), nil
				},
			}

			running, err := docker.NewClient(mock).Container("container123", 3000).IsRunning(context.Background())
			require.NoError(t, err)
			require.False(t, running)
		})

		t.Run("when the container no longer exists", func(t *testing.T) {
			mock := &mockDockerClient{
				containerInspectFunc: func(ctx context.Context, containerID string, options client.ContainerInspectOptions) (client.ContainerInspectResult, error) {
					return client.ContainerInspectResult{}, fmt.Errorf("No such container: %w", cerrdefs.ErrNotFound)
				},
			}

			running, err := docker.NewClient(mock).Container("container123", 3000).IsRunning(context.Background())
			require.NoError(t, err)
			require.False(t, running)
		})

		t.Run("when inspect fails", func(t *testing.T) {
			mock := &mockDockerClient{
				containerInspectFunc: func(ctx context.Context, containerID string, options client.ContainerInspectOptions) (client.ContainerInspectResult, error) {
					return client.ContainerInspectResult{}, errors.New("daemon unavailable")
				},
			}

			_, err := docker.NewClient(mock).Container("container123", 3000).IsRunning(context.Background())
			require.ErrorContains(t, err, "failed to inspect container")
		})
	})

	t.Run("Endpoint", func(t *testing.T) {
		t.Run("returns the published host port", func(t *testing.T) {
			mock := &mockDockerClient{
				containerInspectFunc: func(ctx context.Context, containerID string, options client.ContainerInspectOptions) (client.ContainerInspectResult, error) {
					return inspectResult(true, "49153"), nil
				},
			}

			endpoint, err := docker.NewClient(mock).Container("container123", 3000).Endpoint(context.Background(), "127.0.0.1")
			require.NoError(t, err)
			assert.Equal(t, "http://127.0.0.1:49153", endpoint)
		})

		t.Run("fails when the port is not published", func(t *testing.T) {
			mock := &mockDockerClient{
				containerInspectFunc: func(ctx context.Context, containerID string, options client.ContainerInspectOptions) (client.ContainerInspectResult, error) {
					return inspectResult(true, ""), nil
				},
			}

			_, err := docker.NewClient(mock).Container("container123", 3000).Endpoint(context.Background(), "127.0.0.1")
			require.ErrorContains(t, err, "does not publish port")
		})

		t.Run("fails when network settings are missing", func(t *testing.T) {
			mock := &mockDockerClient{
				containerInspectFunc: func(ctx context.Context, containerID string, options client.ContainerInspectOptions) (client.ContainerInspectResult, error) {
					return client.ContainerInspectResult{}, nil
				},
			}

			_, err := docker.NewClient(mock).Container("container123", 3000).Endpoint(context.Background(), "127.0.0.1")
			require.ErrorContains(t, err, "has no network settings")
		})
	})
}
