package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Isolation modes for sandbox contexts
const (
	IsolationInProcess = "inprocess"
	IsolationProcess   = "process"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Sandbox   SandboxConfig
	Notebook  NotebookConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" default:"8000"`
	Host        string   `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"` // "*" allows any origin
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// SandboxConfig holds execution sandbox configuration.
type SandboxConfig struct {
	Isolation    string        `envconfig:"SANDBOX_ISOLATION" default:"inprocess"`
	WorkerPath   string        `envconfig:"SANDBOX_WORKER_PATH"` // empty re-executes this binary
	Timeout      time.Duration `envconfig:"EXECUTION_TIMEOUT" default:"30s"`
	MaxCallStack int           `envconfig:"SANDBOX_MAX_CALL_STACK" default:"1024"`
}

// NotebookConfig holds persistence configuration.
type NotebookConfig struct {
	DBPath   string        `envconfig:"NOTEBOOK_DB" default:"notebook.db"`
	Key      string        `envconfig:"NOTEBOOK_KEY" default:"default"`
	Debounce time.Duration `envconfig:"AUTOSAVE_DEBOUNCE" default:"1500ms"`
	Welcome  string        `envconfig:"NOTEBOOK_WELCOME"` // empty uses the built-in welcome cell
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings the rest of the program cannot honour.
func (c *Config) Validate() error {
	switch c.Sandbox.Isolation {
	case IsolationInProcess, IsolationProcess:
	default:
		return fmt.Errorf("invalid SANDBOX_ISOLATION %q: want %s or %s",
			c.Sandbox.Isolation, IsolationInProcess, IsolationProcess)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("invalid EXECUTION_TIMEOUT %s: must be positive", c.Sandbox.Timeout)
	}
	if c.Notebook.Debounce <= 0 {
		return fmt.Errorf("invalid AUTOSAVE_DEBOUNCE %s: must be positive", c.Notebook.Debounce)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Sandbox: SandboxConfig{
			Isolation:    IsolationInProcess,
			Timeout:      30 * time.Second,
			MaxCallStack: 1024,
		},
		Notebook: NotebookConfig{
			DBPath:   "notebook.db",
			Key:      "default",
			Debounce: 1500 * time.Millisecond,
		},
	}
}
