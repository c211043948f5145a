package companion

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jkaninda/okapi"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ryanmoran/gitbox/internal"
	"github.com/ryanmoran/gitbox/internal/git"
	"github.com/ryanmoran/gitbox/internal/observability"
)

// Config configures a Server.
type Config struct {
	// Secret is the shared secret callers must present. An empty secret makes
	// every guarded route fail with 500.
	Secret string

	// AuthHeader names the request header carrying the secret.
	AuthHeader string

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Server serves a git Repository over HTTP.
type Server struct {
	okapi *okapi.Okapi

	mu      sync.Mutex
	server  *http.Server
	stopped bool

	repository *git.Repository
	secret     string
	header     string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered.
func NewServer(repository *git.Repository, config Config) *Server {
	if config.AuthHeader == "" {
		config.AuthHeader = internal.DefaultAuthHeader
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		okapi:      okapi.New(okapi.WithLogger(config.Logger), okapi.WithAccessLogDisabled()),
		repository: repository,
		secret:     config.Secret,
		header:     config.AuthHeader,
		metrics:    config.Metrics,
		logger:     config.Logger,
	}

	s.okapi.Get(RouteHello, s.guarded(RouteHello, s.handleHello))
	s.okapi.Get(RouteFiles, s.guarded(RouteFiles, s.handleFiles))
	s.okapi.Post(RouteCommits, s.guarded(RouteCommits, s.handleCommits))
	s.okapi.Post(RouteFileContent, s.guarded(RouteFileContent, s.handleFileContent))
	s.okapi.Post(RouteFileAtCommit, s.guarded(RouteFileAtCommit, s.handleFileAtCommit))
	s.okapi.Post(RouteDiff, s.guarded(RouteDiff, s.handleDiff))
	s.okapi.Post(RouteRestoreFile, s.guarded(RouteRestoreFile, s.handleRestoreFile))
	s.okapi.Post(RouteCreateFile, s.guarded(RouteCreateFile, s.handleCreateFile))
	s.okapi.Post(RouteUpdateFile, s.guarded(RouteUpdateFile, s.handleUpdateFile))
	s.okapi.Get(RouteStatus, s.guarded(RouteStatus, s.handleStatus))

	s.okapi.Get(RouteHealth, s.observe(RouteHealth)(s.handleHealth))
	s.okapi.HandleStd("GET", RouteMetrics, s.metrics.Handler().ServeHTTP)

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.okapi
}

// ValidateAddr reports whether addr is a listen address the server accepts:
// an optional IP host and a port between 1 and 65535.
func ValidateAddr(addr string) error {
	if !okapi.ValidateAddr(addr) {
		return fmt.Errorf("invalid listen address %q\nUse [ip]:port with a port between 1 and 65535", addr)
	}
	return nil
}

// Start listens on addr and blocks until the server is shut down. Start after
// Stop returns nil without serving.
func (s *Server) Start(ctx context.Context, addr string) error {
	if err := ValidateAddr(addr); err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	s.server = server
	s.mu.Unlock()

	s.logger.Info("companion starting", slog.String("addr", addr), slog.String("storage", s.repository.Dir()))

	err := s.okapi.StartServer(server)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully. It also prevents a later Start from
// serving.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopped = true
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	s.logger.Info("companion stopping")
	return s.okapi.Shutdown(server)
}

func (s *Server) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if s.secret == "" {
			s.logger.Error("shared secret is not configured", slog.String("env", internal.SecretEnvVar))
			return c.JSON(http.StatusInternalServerError, Envelope{Error: "server misconfigured: missing passphrase"})
		}

		received := c.Header(s.header)
		if subtle.ConstantTimeCompare([]byte(received), []byte(s.secret)) != 1 {
			return c.JSON(http.StatusUnauthorized, Envelope{Error: "invalid or missing " + s.header})
		}

		return next(c)
	}
}

func (s *Server) guarded(route string, handler okapi.HandlerFunc) okapi.HandlerFunc {
	return s.observe(route)(s.authenticate(handler))
}

// observe records a request metric and span labelled with the registered
// route rather than the raw URL.
func (s *Server) observe(route string) okapi.Middleware {
	return func(next okapi.HandlerFunc) okapi.HandlerFunc {
		return func(c *okapi.Context) error {
			r := c.Request()

			_, span := observability.StartSpan(r.Context(), "companion.request",
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			)
			start := time.Now()

			err := next(c)

			code := c.Response().StatusCode()
			if code == 0 {
				code = http.StatusOK
			}
			s.metrics.ObserveRequest(r.Method, route, code, time.Since(start).Seconds())
			observability.EndSpan(span, err)

			return err
		}
	}
}

func (s *Server) respond(c *okapi.Context, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return s.fail(c, "encode result", err)
	}
	return c.JSON(http.StatusOK, Envelope{Result: raw})
}

func (s *Server) fail(c *okapi.Context, action string, err error) error {
	code := internal.StatusCode(err)
	if code == http.StatusUnauthorized {
		code = http.StatusInternalServerError
	}

	envelope := Envelope{Error: fmt.Sprintf("failed to %s: %s", action, err)}

	var toolErr *internal.ToolError
	if errors.As(err, &toolErr) {
		envelope.RawOutput = toolErr.Stdout
		envelope.RawError = toolErr.Stderr
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("action", action), slog.Any("error", err))
	} else {
		s.logger.Debug("request rejected", slog.String("action", action), slog.Any("error", err))
	}

	return c.JSON(code, envelope)
}

func (s *Server) bind(c *okapi.Context, requireFile, requireCommit bool) (FileRequest, error) {
	var request FileRequest
	if err := c.Bind(&request); err != nil {
		return request, fmt.Errorf("%w: malformed request body: %s", internal.ErrInvalidRequest, err)
	}

	switch {
	case requireFile && strings.TrimSpace(request.FileName) == "":
		return request, fmt.Errorf("%w: missing fileName", internal.ErrInvalidRequest)
	case requireCommit && strings.TrimSpace(request.Commit) == "":
		return request, fmt.Errorf("%w: missing commit", internal.ErrInvalidRequest)
	}

	return request, nil
}
