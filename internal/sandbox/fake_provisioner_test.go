package sandbox_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/ryanmoran/gitbox/internal/docker"
)

// fakeProvisioner launches nothing and hands out a fixed endpoint.
type fakeProvisioner struct {
	mu sync.Mutex

	endpoint   string
	prepareErr error
	volumeErr  error
	launchErr  error

	prepared   int
	volumes    []string
	launched   []docker.ContainerSpec
	running    map[string]bool
	terminated []string
}

func newFakeProvisioner(endpoint string) *fakeProvisioner {
	return &fakeProvisioner{
		endpoint: endpoint,
		running:  map[string]bool{},
	}
}

func (p *fakeProvisioner) PrepareImage(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepared++
	return p.prepareErr
}

func (p *fakeProvisioner) EnsureVolume(ctx context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.volumeErr != nil {
		return false, p.volumeErr
	}
	p.volumes = append(p.volumes, name)
	return true, nil
}

func (p *fakeProvisioner) Launch(ctx context.Context, spec docker.ContainerSpec) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.launchErr != nil {
		return "", "", p.launchErr
	}
	p.launched = append(p.launched, spec)
	id := fmt.Sprintf("container-%d", len(p.launched))
	p.running[id] = true
	return id, p.endpoint, nil
}

func (p *fakeProvisioner) IsRunning(ctx context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[id], nil
}

func (p *fakeProvisioner) Terminate(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = append(p.terminated, id)
	delete(p.running, id)
	return nil
}

func (p *fakeProvisioner) List(ctx context.Context) ([]docker.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sandboxes []docker.Sandbox
	for _, spec := range p.launched {
		sandboxes = append(sandboxes, docker.Sandbox{ID: spec.Name, Name: spec.Name, State: "running"})
	}
	return sandboxes, nil
}
