package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSandboxLifetime is the hard lifetime of a sandbox. The companion
	// service exits once it is reached and the container is auto-removed.
	DefaultSandboxLifetime = 10 * time.Minute

	// DefaultSessionTTL is how long session coordinates stay in the cache. It
	// must stay below the sandbox lifetime so a dead endpoint is never handed out.
	DefaultSessionTTL = 8 * time.Minute

	// DefaultContentTTL is the lifetime of cached read results.
	DefaultContentTTL = 120 * time.Second

	// DefaultCompanionPort is the port gitboxd listens on inside the sandbox.
	DefaultCompanionPort = 3000

	// DefaultAuthHeader carries the shared secret on every companion request.
	DefaultAuthHeader = "X-App-Header"

	// SecretEnvVar is the sandbox environment variable holding the shared secret.
	SecretEnvVar = "CALLER_PASSPHRASE"
)

// Cache backends.
const (
	CacheBackendMemory   = "memory"
	CacheBackendSQLite   = "sqlite"
	CacheBackendPostgres = "postgres"
)

type Config struct {
	Env      string        `yaml:"env"`
	LogLevel string        `yaml:"log_level"`
	Sandbox  SandboxConfig `yaml:"sandbox"`
	Cache    CacheConfig   `yaml:"cache"`
	Store    StoreConfig   `yaml:"store"`
	GitUser  GitUserConfig `yaml:"git_user"`
}

type SandboxConfig struct {
	Image      ImageName     `yaml:"image"`
	Dockerfile string        `yaml:"dockerfile"`
	Command    []string      `yaml:"command"`
	Port       int           `yaml:"port"`
	Host       string        `yaml:"host"`
	MemoryMB   int64         `yaml:"memory_mb"`
	Network    string        `yaml:"network"`
	Lifetime   time.Duration `yaml:"lifetime"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	AuthHeader string        `yaml:"auth_header"`
	StorageDir string        `yaml:"storage_dir"`
	GitDir     string        `yaml:"git_dir"`
	Volumes    Volumes       `yaml:"volumes"`
}

type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	DSN        string        `yaml:"dsn"`
	Prefix     string        `yaml:"prefix"`
	ContentTTL time.Duration `yaml:"content_ttl"`
}

type StoreConfig struct {
	Extension string `yaml:"extension"`
}

type GitUserConfig struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// DefaultConfig returns the configuration used when no file or environment
// overrides are present. The data volume is scoped by the application
// environment so dev and prod never share a repository.
func DefaultConfig(env string) Config {
	if env == "" {
		env = "prod"
	}

	backend := CacheBackendSQLite
	if env == "dev" {
		backend = CacheBackendMemory
	}

	return Config{
		Env:      env,
		LogLevel: "info",
		Sandbox: SandboxConfig{
			Image:      ImageName("gitbox-companion:latest"),
			Command:    []string{"gitboxd"},
			Port:       DefaultCompanionPort,
			Host:       "127.0.0.1",
			MemoryMB:   4096,
			Lifetime:   DefaultSandboxLifetime,
			SessionTTL: DefaultSessionTTL,
			AuthHeader: DefaultAuthHeader,
			StorageDir: "/data/storage",
			GitDir:     "/data/git",
			Volumes: Volumes{
				"gitbox-git-storage":                       "/data/git",
				fmt.Sprintf("%s-gitbox-data-storage", env): "/data/storage",
			},
		},
		Cache: CacheConfig{
			Backend:    backend,
			DSN:        "gitbox-cache.db",
			Prefix:     "kvCache",
			ContentTTL: DefaultContentTTL,
		},
		Store: StoreConfig{
			Extension: ".md",
		},
		GitUser: GitUserConfig{
			Name:  "sandbox",
			Email: "sandbox@example.com",
		},
	}
}

// LoadConfig builds the configuration in three layers: defaults, then the
// optional YAML file at path, then environment overrides. Variables from the
// dotenv file (when it exists) apply below the process environment.
func LoadConfig(path, dotenv string, environment []string) (Config, error) {
	lookup := make(map[string]string)

	if dotenv != "" {
		values, err := godotenv.Read(dotenv)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read dotenv file %q: %w", dotenv, err)
		}
		for key, value := range values {
			lookup[key] = value
		}
	}

	for _, variable := range environment {
		key, value, ok := strings.Cut(variable, "=")
		if ok {
			lookup[key] = value
		}
	}

	if path == "" {
		path = lookup["GITBOX_CONFIG"]
	}

	config := DefaultConfig(lookup["APP_ENV"])

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %q: %w\nCheck that the file exists and is readable", path, err)
		}

		if err := yaml.Unmarshal(content, &config); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	if err := config.applyEnvironment(lookup); err != nil {
		return Config{}, err
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c *Config) applyEnvironment(lookup map[string]string) error {
	strs := map[string]*string{
		"GITBOX_LOG_LEVEL":      &c.LogLevel,
		"GITBOX_DOCKERFILE":     &c.Sandbox.Dockerfile,
		"GITBOX_HOST":           &c.Sandbox.Host,
		"GITBOX_NETWORK":        &c.Sandbox.Network,
		"GITBOX_CACHE_BACKEND":  &c.Cache.Backend,
		"GITBOX_CACHE_DSN":      &c.Cache.DSN,
		"GITBOX_GIT_USER_NAME":  &c.GitUser.Name,
		"GITBOX_GIT_USER_EMAIL": &c.GitUser.Email,
	}
	for key, target := range strs {
		if value, ok := lookup[key]; ok && value != "" {
			*target = value
		}
	}

	if value := lookup["GITBOX_IMAGE"]; value != "" {
		c.Sandbox.Image = ImageName(value)
	}

	durations := map[string]*time.Duration{
		"GITBOX_SANDBOX_LIFETIME": &c.Sandbox.Lifetime,
		"GITBOX_SESSION_TTL":      &c.Sandbox.SessionTTL,
		"GITBOX_CONTENT_TTL":      &c.Cache.ContentTTL,
	}
	for key, target := range durations {
		value, ok := lookup[key]
		if !ok || value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("failed to parse %s=%q as a duration: %w", key, value, err)
		}
		*target = d
	}

	if value := lookup["GITBOX_PORT"]; value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("failed to parse GITBOX_PORT=%q: %w", value, err)
		}
		c.Sandbox.Port = port
	}

	return nil
}

// Validate checks the invariants the lifecycle manager relies on.
func (c Config) Validate() error {
	if c.Sandbox.Image == "" {
		return errors.New("invalid config: sandbox.image is required")
	}
	if c.Sandbox.Port <= 0 || c.Sandbox.Port > 65535 {
		return fmt.Errorf("invalid config: sandbox.port %d is out of range", c.Sandbox.Port)
	}
	if c.Sandbox.SessionTTL <= 0 {
		return errors.New("invalid config: sandbox.session_ttl must be positive")
	}
	if c.Sandbox.SessionTTL >= c.Sandbox.Lifetime {
		return fmt.Errorf("invalid config: sandbox.session_ttl (%s) must be shorter than sandbox.lifetime (%s)\nOtherwise a dead sandbox endpoint can be served from the cache", c.Sandbox.SessionTTL, c.Sandbox.Lifetime)
	}
	if c.Sandbox.AuthHeader == "" {
		return errors.New("invalid config: sandbox.auth_header is required")
	}
	if len(c.Sandbox.Volumes) == 0 {
		return errors.New("invalid config: at least one sandbox volume is required")
	}

	mounted := false
	for _, mountPath := range c.Sandbox.Volumes {
		if mountPath == c.Sandbox.StorageDir {
			mounted = true
		}
	}
	if !mounted {
		return fmt.Errorf("invalid config: no volume is mounted at storage_dir %q", c.Sandbox.StorageDir)
	}

	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendSQLite, CacheBackendPostgres:
	default:
		return fmt.Errorf("invalid config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend != CacheBackendMemory && c.Cache.DSN == "" {
		return fmt.Errorf("invalid config: cache.dsn is required for the %s backend", c.Cache.Backend)
	}

	if !strings.HasPrefix(c.Store.Extension, ".") || len(c.Store.Extension) < 2 {
		return fmt.Errorf("invalid config: store.extension %q must start with a dot", c.Store.Extension)
	}

	return nil
}

// SlogLevel converts the configured log level into a slog.Level. Unknown
// values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
