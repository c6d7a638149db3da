package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Environment variables that carry credentials. Secrets are read only from
// these; the same keys in the YAML file are ignored and there is no
// compiled-in value.
const (
	EnvSharedSecret = "SANDBOX_SECRET"
	EnvSessionKey   = "SESSION_JWT_SECRET"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Auth       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox" yaml:"sandbox"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds the Execution Service listener configuration
type ServerConfig struct {
	HTTPPort int `mapstructure:"http_port" yaml:"http_port"`
}

// AuthConfig holds the shared secret used between the Dispatcher and the
// Execution Service
type AuthConfig struct {
	SharedSecret string `mapstructure:"shared_secret" yaml:"shared_secret"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend            string   `mapstructure:"backend" yaml:"backend"`
	Runtime            string   `mapstructure:"runtime" yaml:"runtime"`
	Image              string   `mapstructure:"image" yaml:"image"`
	Command            []string `mapstructure:"command" yaml:"command"`
	TimeoutSec         int      `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	CPUTimeSec         int      `mapstructure:"cpu_time_sec" yaml:"cpu_time_sec"`
	MemoryMB           int      `mapstructure:"memory_mb" yaml:"memory_mb"`
	CPUs               float64  `mapstructure:"cpus" yaml:"cpus"`
	PidsLimit          int      `mapstructure:"pids_limit" yaml:"pids_limit"`
	MaxOutputKB        int      `mapstructure:"max_output_kb" yaml:"max_output_kb"`
	User               string   `mapstructure:"user" yaml:"user"`
	EnableLocalBackend bool     `mapstructure:"enable_local_backend" yaml:"enable_local_backend"`
}

// DispatcherConfig holds the front door configuration
type DispatcherConfig struct {
	HTTPPort       int             `mapstructure:"http_port" yaml:"http_port"`
	ExecutionURL   string          `mapstructure:"execution_url" yaml:"execution_url"`
	MaxCodeLength  int             `mapstructure:"max_code_length" yaml:"max_code_length"`
	CallTimeoutSec int             `mapstructure:"call_timeout_sec" yaml:"call_timeout_sec"`
	Testing        bool            `mapstructure:"testing" yaml:"testing"`
	Session        SessionConfig   `mapstructure:"session" yaml:"session"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// SessionConfig describes how caller sessions are verified
type SessionConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer"`
}

// RateLimitConfig bounds how often one session may submit code
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int `mapstructure:"burst" yaml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Level string `mapstructure:"level" yaml:"level"`
}

// Supported sandbox backends and runtimes
const (
	BackendDocker    = "docker"
	BackendPodman    = "podman"
	BackendDockerAPI = "docker-api"
	BackendLocal     = "local"

	RuntimeDirect     = "direct"
	RuntimeRestricted = "restricted"
)

// New loads and validates the application configuration from the default
// search paths
func New() (*Config, error) {
	return Load("")
}

// Load reads configuration from path, or from ./config.yaml and
// ./config/config.yaml when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.Auth.SharedSecret = os.Getenv(EnvSharedSecret)
	config.Dispatcher.Session.JWTSecret = os.Getenv(EnvSessionKey)

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 5001)

	v.SetDefault("sandbox.backend", BackendDocker)
	v.SetDefault("sandbox.runtime", RuntimeDirect)
	v.SetDefault("sandbox.image", "python:3.12-slim")
	v.SetDefault("sandbox.command", []string{"python3", "-"})
	v.SetDefault("sandbox.timeout_sec", 5)
	v.SetDefault("sandbox.cpu_time_sec", 2)
	v.SetDefault("sandbox.memory_mb", 128)
	v.SetDefault("sandbox.cpus", 0.5)
	v.SetDefault("sandbox.pids_limit", 32)
	v.SetDefault("sandbox.max_output_kb", 1024)
	v.SetDefault("sandbox.user", "nobody")
	v.SetDefault("sandbox.enable_local_backend", false)

	v.SetDefault("dispatcher.http_port", 8080)
	v.SetDefault("dispatcher.execution_url", "http://localhost:5001/execute")
	v.SetDefault("dispatcher.max_code_length", 1000)
	v.SetDefault("dispatcher.call_timeout_sec", 10)
	v.SetDefault("dispatcher.testing", false)
	v.SetDefault("dispatcher.session.issuer", "")
	v.SetDefault("dispatcher.rate_limit.requests_per_minute", 10)
	v.SetDefault("dispatcher.rate_limit.burst", 5)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	if c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive, got: %d", c.Server.HTTPPort)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.CPUTimeSec <= 0 {
		return fmt.Errorf("sandbox.cpu_time_sec must be positive, got: %d", c.Sandbox.CPUTimeSec)
	}

	// The outer watchdog must never truncate a run the inner ceiling allows.
	if c.Sandbox.TimeoutSec <= c.Sandbox.CPUTimeSec {
		return fmt.Errorf("sandbox.timeout_sec (%d) must exceed sandbox.cpu_time_sec (%d)",
			c.Sandbox.TimeoutSec, c.Sandbox.CPUTimeSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUs <= 0 {
		return fmt.Errorf("sandbox.cpus must be positive, got: %v", c.Sandbox.CPUs)
	}

	if c.Sandbox.PidsLimit <= 0 {
		return fmt.Errorf("sandbox.pids_limit must be positive, got: %d", c.Sandbox.PidsLimit)
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}

	if c.Sandbox.Image == "" && c.Sandbox.Backend != BackendLocal {
		return fmt.Errorf("sandbox.image is required for backend %s", c.Sandbox.Backend)
	}

	if len(c.Sandbox.Command) == 0 {
		return fmt.Errorf("sandbox.command must not be empty")
	}

	supportedBackends := map[string]bool{
		BackendDocker:    true,
		BackendPodman:    true,
		BackendDockerAPI: true,
		BackendLocal:     c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.Runtime != RuntimeDirect && c.Sandbox.Runtime != RuntimeRestricted {
		return fmt.Errorf("invalid sandbox.runtime: %s, must be '%s' or '%s'",
			c.Sandbox.Runtime, RuntimeDirect, RuntimeRestricted)
	}

	if c.Dispatcher.MaxCodeLength <= 0 {
		return fmt.Errorf("dispatcher.max_code_length must be positive, got: %d", c.Dispatcher.MaxCodeLength)
	}

	if c.Dispatcher.CallTimeoutSec <= c.Sandbox.TimeoutSec {
		return fmt.Errorf("dispatcher.call_timeout_sec (%d) must exceed sandbox.timeout_sec (%d)",
			c.Dispatcher.CallTimeoutSec, c.Sandbox.TimeoutSec)
	}

	if c.Dispatcher.RateLimit.RequestsPerMinute < 0 || c.Dispatcher.RateLimit.Burst < 0 {
		return fmt.Errorf("dispatcher.rate_limit values must not be negative")
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// ValidateExecutionService checks the settings the Execution Service cannot
// start without. A missing shared secret fails closed.
func (c *Config) ValidateExecutionService() error {
	if c.Auth.SharedSecret == "" {
		return fmt.Errorf("auth.shared_secret is not configured (set %s)", EnvSharedSecret)
	}
	return nil
}

// ValidateDispatcher checks the settings the Dispatcher cannot start without.
// A missing shared secret is tolerated here and rejected per request.
func (c *Config) ValidateDispatcher() error {
	if c.Dispatcher.ExecutionURL == "" {
		return fmt.Errorf("dispatcher.execution_url is required")
	}
	if c.Dispatcher.Session.JWTSecret == "" {
		return fmt.Errorf("dispatcher.session.jwt_secret is not configured (set %s)", EnvSessionKey)
	}
	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetCallTimeout returns the Dispatcher's downstream call timeout
func (c *Config) GetCallTimeout() time.Duration {
	return time.Duration(c.Dispatcher.CallTimeoutSec) * time.Second
}

// Redacted returns a copy safe to print or log.
func (c *Config) Redacted() Config {
	out := *c
	out.Sandbox.Command = append([]string(nil), c.Sandbox.Command...)
	if out.Auth.SharedSecret != "" {
		out.Auth.SharedSecret = "<redacted>"
	}
	if out.Dispatcher.Session.JWTSecret != "" {
		out.Dispatcher.Session.JWTSecret = "<redacted>"
	}
	return out
}
