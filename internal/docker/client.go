package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"

	"github.com/ryanmoran/gitbox/internal"
)

// SandboxLabel marks every container and volume gitbox creates.
const SandboxLabel = "gitbox.sandbox"

type Image struct {
	Name string
}

// ContainerSpec describes one sandbox container.
type ContainerSpec struct {
	Name     string
	Image    internal.ImageName
	Command  []string
	Env      internal.Environment
	Volumes  internal.Volumes
	Port     int
	MemoryMB int64
	Network  string
	Labels   map[string]string
}

// Sandbox is a summary of a gitbox container returned by ListSandboxes.
type Sandbox struct {
	ID      string
	Name    string
	State   string
	Created time.Time
}

type Client struct {
	client DockerClient
}

// NewClient creates a Client that wraps the provided Docker client interface.
func NewClient(dockerClient DockerClient) Client {
	return Client{
		client: dockerClient,
	}
}

// NewDefaultClient creates a Client with a real Docker client from the environment.
func NewDefaultClient() (Client, error) {
	cli, err := client.New(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return Client{}, fmt.Errorf("failed to create docker client: %w\nEnsure Docker is running and DOCKER_HOST is set correctly", err)
	}

	return NewClient(cli), nil
}

// Close closes the underlying Docker client connection.
func (c Client) Close() error {
	return c.client.Close()
}

// Ping pings the Docker daemon and returns the negotiated API version.
func (c Client) Ping(ctx context.Context) (string, error) {
	ping, err := c.client.Ping(ctx, client.PingOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to ping docker daemon: %w\nEnsure Docker is running and DOCKER_HOST is set correctly", err)
	}
	return ping.APIVersion, nil
}

// ImageExists reports whether imageName is present on the daemon.
func (c Client) ImageExists(ctx context.Context, imageName internal.ImageName) (bool, error) {
	_, err := c.client.ImageInspect(ctx, string(imageName))
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect image %q: %w", imageName, err)
	}
	return true, nil
}

// BuildImage builds a Docker image from a Dockerfile and tags it with the specified image name.
// The directory holding the Dockerfile is the build context, filtered by its .dockerignore.
// Build output is streamed to w.
func (c Client) BuildImage(ctx context.Context, dockerfilePath string, imageName internal.ImageName, w io.Writer) (Image, error) {
	info, err := os.Stat(dockerfilePath)
	if err == nil && info.IsDir() {
		err = fmt.Errorf("%q is a directory", dockerfilePath)
	}
	if err != nil {
		return Image{}, fmt.Errorf("failed to read Dockerfile at %q: %w\nCheck that the file exists and is readable", dockerfilePath, err)
	}

	dir := filepath.Dir(dockerfilePath)
	dockerfile := filepath.Base(dockerfilePath)

	pr, pw := io.Pipe()
	defer pr.Close()

	errChan := make(chan error, 1)

	go func() {
		err := writeBuildContext(dir, dockerfile, pw)
		pw.CloseWithError(err)
		errChan <- err
	}()

	response, err := c.client.ImageBuild(ctx, pr, client.ImageBuildOptions{
		Dockerfile: dockerfile,
		Tags:       []string{string(imageName)},
		Remove:     true,
	})
	if err != nil {
		return Image{}, fmt.Errorf("failed to build image %q: %w\nCheck Docker daemon logs for details", imageName, err)
	}
	defer response.Body.Close()

	select {
	case err := <-errChan:
		if err != nil {
			return Image{}, err
		}
	case <-ctx.Done():
		return Image{}, ctx.Err()
	default:
	}

	decoder := json.NewDecoder(response.Body)
	for decoder.More() {
		if err := ctx.Err(); err != nil {
			return Image{}, err
		}

		var output struct {
			Stream      string `json:"stream"`
			ErrorDetail struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"errorDetail"`
		}
		if err := decoder.Decode(&output); err != nil {
			return Image{}, fmt.Errorf("failed to decode build output: %w\nDocker may have returned malformed JSON", err)
		}

		if output.ErrorDetail.Code != 0 || output.ErrorDetail.Message != "" {
			return Image{}, fmt.Errorf("docker build failed: %s\nCheck your Dockerfile syntax and base image availability", output.ErrorDetail.Message)
		}

		fmt.Fprint(w, output.Stream)
	}

	return Image{
		Name: string(imageName),
	}, nil
}

// EnsureVolume creates the named volume unless one with exactly that name
// already exists, and reports whether it created it.
func (c Client) EnsureVolume(ctx context.Context, name string) (created bool, err error) {
	list, err := c.client.VolumeList(ctx, client.VolumeListOptions{
		Filters: make(client.Filters).Add("name", name),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list volumes named %q: %w", name, err)
	}

	// The name filter matches substrings.
	for _, v := range list.Items {
		if v.Name == name {
			return false, nil
		}
	}

	_, err = c.client.VolumeCreate(ctx, client.VolumeCreateOptions{
		Name:   name,
		Labels: map[string]string{SandboxLabel: "true"},
	})
	if err != nil {
		return false, fmt.Errorf("failed to create volume %q: %w", name, err)
	}

	return true, nil
}

// CreateContainer creates (but does not start) a sandbox container. The
// companion port is published on an ephemeral host port, the volumes are
// bound at their mount paths, and the daemon removes the container once it
// exits.
func (c Client) CreateContainer(ctx context.Context, spec ContainerSpec) (Container, error) {
	port, ok := network.PortFrom(uint16(spec.Port), network.TCP)
	if !ok {
		return Container{}, fmt.Errorf("failed to create container %q: invalid port %d", spec.Name, spec.Port)
	}

	labels := map[string]string{SandboxLabel: "true"}
	for key, value := range spec.Labels {
		labels[key] = value
	}

	response, err := c.client.ContainerCreate(ctx, client.ContainerCreateOptions{
		Name: spec.Name,
		Config: &container.Config{
			Image:        string(spec.Image),
			Cmd:          spec.Command,
			Env:          []string(spec.Env),
			Labels:       labels,
			ExposedPorts: network.PortSet{port: struct{}{}},
		},
		HostConfig: &container.HostConfig{
			Binds:        binds(spec.Volumes),
			PortBindings: network.PortMap{port: []network.PortBinding{{}}},
			NetworkMode:  container.NetworkMode(spec.Network),
			AutoRemove:   true,
			Resources: container.Resources{
				Memory: spec.MemoryMB * 1024 * 1024,
			},
		},
	})
	if err != nil {
		return Container{}, fmt.Errorf("failed to create container %q from image %q: %w\nEnsure the image exists and the container config is valid", spec.Name, spec.Image, err)
	}

	return Container{
		ID:     response.ID,
		Name:   spec.Name,
		port:   port,
		client: c.client,
	}, nil
}

// Container returns a handle to an existing container.
func (c Client) Container(id string, port int) Container {
	p, _ := network.PortFrom(uint16(port), network.TCP)
	return Container{
		ID:     id,
		Name:   id,
		port:   p,
		client: c.client,
	}
}

// ListSandboxes returns every container carrying the gitbox label, newest first.
func (c Client) ListSandboxes(ctx context.Context) ([]Sandbox, error) {
	result, err := c.client.ContainerList(ctx, client.ContainerListOptions{
		All:     true,
		Filters: make(client.Filters).Add("label", SandboxLabel+"=true"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sandbox containers: %w", err)
	}

	sandboxes := make([]Sandbox, 0, len(result.Items))
	for _, item := range result.Items {
		name := item.ID
		if len(item.Names) > 0 {
			name = trimSlash(item.Names[0])
		}
		sandboxes = append(sandboxes, Sandbox{
			ID:      item.ID,
			Name:    name,
			State:   string(item.State),
			Created: time.Unix(item.Created, 0),
		})
	}

	sort.Slice(sandboxes, func(i, j int) bool {
		return sandboxes[i].Created.After(sandboxes[j].Created)
	})

	return sandboxes, nil
}

func binds(volumes internal.Volumes) []string {
	names := make([]string, 0, len(volumes))
	for name := range volumes {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]string, 0, len(volumes))
	for _, name := range names {
		result = append(result, fmt.Sprintf("%s:%s", name, volumes[name]))
	}
	return result
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}
