package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ryanmoran/gitbox/internal"
	"github.com/ryanmoran/gitbox/internal/cache"
	"github.com/ryanmoran/gitbox/internal/companion"
	"github.com/ryanmoran/gitbox/internal/docker"
	"github.com/ryanmoran/gitbox/internal/observability"
)

// Cache keys holding the canonical session.
const (
	SessionKey   = "sandbox_session"
	SessionIDKey = "sandbox_id"
)

// EnvironmentLabel records which application environment owns a sandbox.
const EnvironmentLabel = "gitbox.env"

const (
	defaultReadyTimeout  = 30 * time.Second
	defaultReadyInterval = 250 * time.Millisecond
)

// Manager hands out a live session to the companion service, provisioning a
// sandbox when the cached one has expired.
type Manager struct {
	provisioner Provisioner
	cache       *cache.Cache
	config      internal.Config
	httpClient  *http.Client
	metrics     *observability.Metrics
	logger      *slog.Logger
	now         func() time.Time

	readyTimeout  time.Duration
	readyInterval time.Duration
}

type Option func(*Manager)

func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithReadiness controls how long a new sandbox may take to answer its
// health check, and how often it is polled.
func WithReadiness(timeout, interval time.Duration) Option {
	return func(m *Manager) {
		m.readyTimeout = timeout
		m.readyInterval = interval
	}
}

// NewManager creates a Manager.
func NewManager(provisioner Provisioner, c *cache.Cache, config internal.Config, options ...Option) *Manager {
	m := &Manager{
		provisioner:   provisioner,
		cache:         c,
		config:        config,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		logger:        slog.Default(),
		now:           time.Now,
		readyTimeout:  defaultReadyTimeout,
		readyInterval: defaultReadyInterval,
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Current returns the cached session without provisioning.
func (m *Manager) Current(ctx context.Context) (internal.Session, bool, error) {
	var session internal.Session
	found, err := m.cache.Get(ctx, SessionKey, &session)
	if err != nil {
		return internal.Session{}, false, fmt.Errorf("failed to read session from cache: %w", err)
	}
	if !found || !session.Ready() {
		return internal.Session{}, false, nil
	}
	return session, true, nil
}

// EnsureReady returns the canonical session, provisioning a new sandbox when
// none is cached. Provisioning failures wrap internal.ErrProvisioning and are
// not retried.
func (m *Manager) EnsureReady(ctx context.Context) (internal.Session, error) {
	session, found, err := m.Current(ctx)
	if err != nil {
		return internal.Session{}, err
	}
	if found {
		return session, nil
	}

	ctx, span := observability.StartSpan(ctx, "sandbox.provision")
	start := m.now()

	session, err = m.provision(ctx)

	m.metrics.ObserveProvision(m.now().Sub(start).Seconds(), err)
	observability.EndSpan(span, err)

	if err != nil {
		return internal.Session{}, fmt.Errorf("%w: %w", internal.ErrProvisioning, err)
	}
	return session, nil
}

func (m *Manager) provision(ctx context.Context) (internal.Session, error) {
	if err := m.terminatePrevious(ctx); err != nil {
		return internal.Session{}, err
	}

	secret := internal.NewSecret()

	if err := m.provisioner.PrepareImage(ctx); err != nil {
		return internal.Session{}, fmt.Errorf("failed to prepare image: %w", err)
	}

	names := make([]string, 0, len(m.config.Sandbox.Volumes))
	for name := range m.config.Sandbox.Volumes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		created, err := m.provisioner.EnsureVolume(ctx, name)
		if err != nil {
			return internal.Session{}, fmt.Errorf("failed to ensure volume %q: %w", name, err)
		}
		if created {
			m.logger.Info("created volume", slog.String("volume", name))
		}
	}

	id, endpoint, err := m.provisioner.Launch(ctx, m.containerSpec(secret))
	if err != nil {
		return internal.Session{}, fmt.Errorf("failed to launch sandbox: %w", err)
	}

	session := internal.Session{
		ID:        internal.SessionID(id),
		Endpoint:  endpoint,
		Secret:    secret,
		CreatedAt: m.now().UTC(),
	}

	if err := m.waitReady(ctx, session); err != nil {
		_ = m.provisioner.Terminate(context.WithoutCancel(ctx), id)
		return internal.Session{}, err
	}

	if err := m.cache.Set(ctx, SessionIDKey, id, m.config.Sandbox.Lifetime); err != nil {
		m.logger.Warn("failed to cache session id", slog.String("session", id), slog.Any("error", err))
	}
	if err := m.cache.Set(ctx, SessionKey, session, m.config.Sandbox.SessionTTL); err != nil {
		m.logger.Warn("failed to cache session", slog.String("session", id), slog.Any("error", err))
	}

	m.logger.Info("sandbox ready", slog.String("session", id), slog.String("endpoint", endpoint))

	return session, nil
}

func (m *Manager) terminatePrevious(ctx context.Context) error {
	var previous string
	found, err := m.cache.Get(ctx, SessionIDKey, &previous)
	if err != nil {
		return fmt.Errorf("failed to read previous session id: %w", err)
	}
	if !found || previous == "" {
		return nil
	}

	running, err := m.provisioner.IsRunning(ctx, previous)
	if err != nil {
		return fmt.Errorf("failed to check previous sandbox %q: %w", previous, err)
	}
	if !running {
		return nil
	}

	m.logger.Info("terminating previous sandbox", slog.String("session", previous))
	if err := m.provisioner.Terminate(ctx, previous); err != nil {
		return fmt.Errorf("failed to terminate previous sandbox %q: %w", previous, err)
	}
	return nil
}

func (m *Manager) containerSpec(secret string) docker.ContainerSpec {
	sandbox := m.config.Sandbox

	command := append([]string{}, sandbox.Command...)
	command = append(command,
		"--addr", ":"+strconv.Itoa(sandbox.Port),
		"--storage", sandbox.StorageDir,
		"--extension", m.config.Store.Extension,
		"--auth-header", sandbox.AuthHeader,
		"--lifetime", sandbox.Lifetime.String(),
	)

	return docker.ContainerSpec{
		Name:    internal.GenerateContainerName(),
		Image:   sandbox.Image,
		Command: command,
		Env: internal.Environment{
			internal.SecretEnvVar + "=" + secret,
			"GIT_CONFIG_GLOBAL=" + sandbox.GitDir + "/.gitconfig",
			"GITBOX_GIT_USER_NAME=" + m.config.GitUser.Name,
			"GITBOX_GIT_USER_EMAIL=" + m.config.GitUser.Email,
			"GITBOX_LOG_LEVEL=" + m.config.LogLevel,
		},
		Volumes:  sandbox.Volumes,
		Port:     sandbox.Port,
		MemoryMB: sandbox.MemoryMB,
		Network:  sandbox.Network,
		Labels:   map[string]string{EnvironmentLabel: m.config.Env},
	}
}

func (m *Manager) waitReady(ctx context.Context, session internal.Session) error {
	ctx, cancel := context.WithTimeout(ctx, m.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(m.readyInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, session.URL(companion.RouteHealth), nil)
		if err != nil {
			return fmt.Errorf("failed to build health check request: %w", err)
		}

		response, err := m.httpClient.Do(request)
		if err == nil {
			_, _ = io.Copy(io.Discard, response.Body)
			response.Body.Close()
			if response.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("health check returned %d", response.StatusCode)
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("sandbox %s did not become healthy within %s: %w", session.ID, m.readyTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

// Call sends payload as JSON to the companion route path and decodes the
// envelope's result into out. The shared secret travels in the auth header.
//
// A rejected secret is internal.ErrAuthentication, a 404 is
// internal.ErrNotFound, a 400 is internal.ErrInvalidRequest and any other
// failure, including transport errors, is internal.ErrUpstream.
func (m *Manager) Call(ctx context.Context, session internal.Session, method, path string, payload, out any) (companion.Envelope, error) {
	ctx, span := observability.StartSpan(ctx, "sandbox.call",
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.String("sandbox.session", string(session.ID)),
	)
	start := time.Now()

	envelope, err := m.call(ctx, session, method, path, payload, out)

	m.metrics.ObserveCall(path, time.Since(start).Seconds(), err)
	observability.EndSpan(span, err)

	return envelope, err
}

func (m *Manager) call(ctx context.Context, session internal.Session, method, path string, payload, out any) (companion.Envelope, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return companion.Envelope{}, fmt.Errorf("failed to encode request to %s: %w", path, err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, session.URL(path), body)
	if err != nil {
		return companion.Envelope{}, fmt.Errorf("failed to build request to %s: %w", path, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(m.authHeader(), session.Secret)

	response, err := m.httpClient.Do(request)
	if err != nil {
		return companion.Envelope{}, fmt.Errorf("failed to call %s on %s: %w: %w", path, session, internal.ErrUpstream, err)
	}
	defer response.Body.Close()

	var envelope companion.Envelope
	decodeErr := json.NewDecoder(response.Body).Decode(&envelope)

	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := envelope.Error
		if message == "" {
			message = http.StatusText(response.StatusCode)
		}
		return envelope, fmt.Errorf("%s %s returned %d: %w: %s", method, path, response.StatusCode, statusError(response.StatusCode), message)
	}

	if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		return envelope, fmt.Errorf("failed to decode response from %s: %w: %w", path, internal.ErrUpstream, decodeErr)
	}

	if err := envelope.Decode(out); err != nil {
		return envelope, fmt.Errorf("failed to decode result from %s: %w: %w", path, internal.ErrUpstream, err)
	}

	return envelope, nil
}

func (m *Manager) authHeader() string {
	if m.config.Sandbox.AuthHeader == "" {
		return internal.DefaultAuthHeader
	}
	return m.config.Sandbox.AuthHeader
}

func statusError(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return internal.ErrAuthentication
	case http.StatusNotFound:
		return internal.ErrNotFound
	case http.StatusBadRequest:
		return internal.ErrInvalidRequest
	default:
		return internal.ErrUpstream
	}
}

// Stop terminates the canonical sandbox and forgets its session. It reports
// whether a sandbox was known.
func (m *Manager) Stop(ctx context.Context) (bool, error) {
	var id string
	found, err := m.cache.Get(ctx, SessionIDKey, &id)
	if err != nil {
		return false, fmt.Errorf("failed to read session id from cache: %w", err)
	}

	if found && id != "" {
		if err := m.provisioner.Terminate(ctx, id); err != nil {
			return false, fmt.Errorf("failed to stop sandbox %q: %w", id, err)
		}
		m.logger.Info("sandbox stopped", slog.String("session", id))
	}

	if err := m.cache.Delete(ctx, SessionKey, SessionIDKey); err != nil {
		return false, fmt.Errorf("failed to clear session from cache: %w", err)
	}

	return found && id != "", nil
}

// List returns every sandbox container the provisioner knows about.
func (m *Manager) List(ctx context.Context) ([]docker.Sandbox, error) {
	sandboxes, err := m.provisioner.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sandboxes: %w", err)
	}
	return sandboxes, nil
}
