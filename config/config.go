// Package config provides configuration structures and loading logic
// for the server binary. Configuration is read from a YAML file, then
// overridden by MREPL_* environment variables, then validated.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the server binary.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionsConfig `yaml:"sessions"`
	Auth     AuthConfig     `yaml:"auth"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	Eval     EvalConfig     `yaml:"eval"`
}

// ServerConfig holds transport and identity settings.
type ServerConfig struct {
	// Transport selects "stdio" or "http".
	Transport string `yaml:"transport" env:"MREPL_TRANSPORT"`
	// ListenAddr is the bind address for the HTTP transport.
	ListenAddr string `yaml:"listen_addr" env:"MREPL_LISTEN_ADDR"`
	// Endpoint is the externally visible URL of the message endpoint.
	Endpoint string `yaml:"endpoint" env:"MREPL_ENDPOINT"`
	Name     string `yaml:"name" env:"MREPL_SERVER_NAME"`
}

// SessionsConfig selects and tunes the session store backend.
type SessionsConfig struct {
	// Backend selects "memory" or "redis".
	Backend   string        `yaml:"backend" env:"MREPL_SESSIONS_BACKEND"`
	RedisAddr string        `yaml:"redis_addr" env:"MREPL_REDIS_ADDR"`
	KeyPrefix string        `yaml:"key_prefix" env:"MREPL_SESSIONS_KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"MREPL_SESSIONS_TTL"`
	// DefaultBindings seed every new session.
	DefaultBindings map[string]any `yaml:"default_bindings"`
}

// AuthConfig controls bearer-token authentication for the HTTP
// transport.
type AuthConfig struct {
	// Mode selects "none", "static" or "oidc".
	Mode      string   `yaml:"mode" env:"MREPL_AUTH_MODE"`
	Issuer    string   `yaml:"issuer" env:"MREPL_AUTH_ISSUER"`
	Audiences []string `yaml:"audiences" env:"MREPL_AUTH_AUDIENCES"`
	// JWKSURI is required in static mode and ignored in oidc mode.
	JWKSURI        string   `yaml:"jwks_uri" env:"MREPL_AUTH_JWKS_URI"`
	RequiredScopes []string `yaml:"required_scopes" env:"MREPL_AUTH_REQUIRED_SCOPES"`
	ScopeModeAny   bool     `yaml:"scope_mode_any" env:"MREPL_AUTH_SCOPE_MODE_ANY"`
	Realm          string   `yaml:"realm" env:"MREPL_AUTH_REALM"`
}

// MetricsConfig exposes Prometheus metrics on a separate listener.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" env:"MREPL_METRICS_ENABLED"`
	ListenAddr string `yaml:"listen_addr" env:"MREPL_METRICS_LISTEN_ADDR"`
	Path       string `yaml:"path" env:"MREPL_METRICS_PATH"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"MREPL_LOG_LEVEL"`
	// Format is "json" or "text".
	Format string `yaml:"format" env:"MREPL_LOG_FORMAT"`
}

// EvalConfig tunes the evaluation operations.
type EvalConfig struct {
	// WatchFiles re-evaluates path-loaded files on change.
	WatchFiles bool `yaml:"watch_files" env:"MREPL_EVAL_WATCH_FILES"`
}

// Default returns the configuration used when no file and no
// environment overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:  "stdio",
			ListenAddr: ":8080",
			Endpoint:   "http://localhost:8080/repl",
			Name:       "mrepl",
		},
		Sessions: SessionsConfig{
			Backend:   "memory",
			KeyPrefix: "mrepl:sessions:",
		},
		Auth: AuthConfig{
			Mode: "none",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
			Path:       "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a file (optional), applies environment
// variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// envdecode only touches fields whose variables are actually set.
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("unknown transport %q", c.Server.Transport)
	}
	switch c.Sessions.Backend {
	case "memory":
	case "redis":
		if c.Sessions.RedisAddr == "" {
			return fmt.Errorf("redis backend requires sessions.redis_addr")
		}
	default:
		return fmt.Errorf("unknown sessions backend %q", c.Sessions.Backend)
	}
	switch c.Auth.Mode {
	case "none":
	case "static":
		if c.Auth.Issuer == "" || len(c.Auth.Audiences) == 0 || c.Auth.JWKSURI == "" {
			return fmt.Errorf("static auth requires issuer, audiences and jwks_uri")
		}
	case "oidc":
		if c.Auth.Issuer == "" || len(c.Auth.Audiences) == 0 {
			return fmt.Errorf("oidc auth requires issuer and audiences")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// LogLevel parses Logging.Level into a slog.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
}
