package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{HTTPPort: 5001},
		Sandbox: SandboxConfig{
			Backend:     BackendDocker,
			Runtime:     RuntimeDirect,
			Image:       "python:3.12-slim",
			Command:     []string{"python3", "-"},
			TimeoutSec:  5,
			CPUTimeSec:  2,
			MemoryMB:    128,
			CPUs:        0.5,
			PidsLimit:   32,
			MaxOutputKB: 1024,
			User:        "nobody",
		},
		Dispatcher: DispatcherConfig{
			HTTPPort:       8080,
			ExecutionURL:   "http://localhost:5001/execute",
			MaxCodeLength:  1000,
			CallTimeoutSec: 10,
			RateLimit:      RateLimitConfig{RequestsPerMinute: 10, Burst: 5},
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "InvalidSandboxTimeout",
			mutate:  func(c *Config) { c.Sandbox.TimeoutSec = 0 },
			wantErr: "sandbox.timeout_sec must be positive",
		},
		{
			name:    "InvalidCPUTime",
			mutate:  func(c *Config) { c.Sandbox.CPUTimeSec = 0 },
			wantErr: "sandbox.cpu_time_sec must be positive",
		},
		{
			name:    "OuterTimeoutNotAboveCPUTime",
			mutate:  func(c *Config) { c.Sandbox.CPUTimeSec = 5 },
			wantErr: "must exceed sandbox.cpu_time_sec",
		},
		{
			name:    "InvalidSandboxMemory",
			mutate:  func(c *Config) { c.Sandbox.MemoryMB = 0 },
			wantErr: "sandbox.memory_mb must be positive",
		},
		{
			name:    "InvalidCPUs",
			mutate:  func(c *Config) { c.Sandbox.CPUs = 0 },
			wantErr: "sandbox.cpus must be positive",
		},
		{
			name:    "InvalidPidsLimit",
			mutate:  func(c *Config) { c.Sandbox.PidsLimit = -1 },
			wantErr: "sandbox.pids_limit must be positive",
		},
		{
			name:    "EmptyCommand",
			mutate:  func(c *Config) { c.Sandbox.Command = nil },
			wantErr: "sandbox.command must not be empty",
		},
		{
			name:    "MissingImage",
			mutate:  func(c *Config) { c.Sandbox.Image = "" },
			wantErr: "sandbox.image is required",
		},
		{
			name:    "InvalidRuntime",
			mutate:  func(c *Config) { c.Sandbox.Runtime = "jit" },
			wantErr: "invalid sandbox.runtime",
		},
		{
			name:    "CallTimeoutNotAboveSandboxTimeout",
			mutate:  func(c *Config) { c.Dispatcher.CallTimeoutSec = 5 },
			wantErr: "dispatcher.call_timeout_sec (5) must exceed sandbox.timeout_sec (5)",
		},
		{
			name:    "InvalidMaxCodeLength",
			mutate:  func(c *Config) { c.Dispatcher.MaxCodeLength = 0 },
			wantErr: "dispatcher.max_code_length must be positive",
		},
		{
			name:    "InvalidLoggingMode",
			mutate:  func(c *Config) { c.Logging.Mode = "invalid_mode" },
			wantErr: "invalid logging.mode",
		},
		{
			name:    "InvalidLogLevel",
			mutate:  func(c *Config) { c.Logging.Level = "invalid_level" },
			wantErr: "invalid logging.level",
		},
		{
			name:    "InvalidBackendWhenLocalNotEnabled",
			mutate:  func(c *Config) { c.Sandbox.Backend = BackendLocal },
			wantErr: "unsupported sandbox.backend",
		},
		{
			name:    "UnknownBackend",
			mutate:  func(c *Config) { c.Sandbox.Backend = "kubernetes" },
			wantErr: "unsupported sandbox.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("ValidBackendWhenLocalEnabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Backend = BackendLocal
		cfg.Sandbox.EnableLocalBackend = true
		cfg.Sandbox.Image = ""
		require.NoError(t, cfg.validate())
	})
}

func TestRoleValidation(t *testing.T) {
	t.Run("ExecutionServiceFailsClosedWithoutSecret", func(t *testing.T) {
		cfg := validConfig()
		err := cfg.ValidateExecutionService()
		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvSharedSecret)
	})

	t.Run("ExecutionServiceWithSecret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Auth.SharedSecret = "s3cret"
		require.NoError(t, cfg.ValidateExecutionService())
	})

	t.Run("DispatcherToleratesMissingSharedSecret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Dispatcher.Session.JWTSecret = "session-key"
		require.NoError(t, cfg.ValidateDispatcher())
	})

	t.Run("DispatcherRequiresSessionKey", func(t *testing.T) {
		cfg := validConfig()
		err := cfg.ValidateDispatcher()
		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvSessionKey)
	})
}

func TestLoad(t *testing.T) {
	t.Run("DefaultsWithoutFile", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv(EnvSharedSecret, "")

		cfg, err := New()
		require.NoError(t, err)
		assert.Equal(t, BackendDocker, cfg.Sandbox.Backend)
		assert.Equal(t, []string{"python3", "-"}, cfg.Sandbox.Command)
		assert.Equal(t, 128, cfg.Sandbox.MemoryMB)
		assert.Equal(t, 1000, cfg.Dispatcher.MaxCodeLength)
		assert.Empty(t, cfg.Auth.SharedSecret)
	})

	t.Run("FileAndEnvironment", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "runbox.yaml")
		content := []byte(`
sandbox:
  runtime: restricted
  image: runbox-runner:latest
  command: ["/usr/local/bin/sandbox-runner"]
  timeout_sec: 4
  cpu_time_sec: 1
logging:
  mode: development
  level: debug
`)
		require.NoError(t, os.WriteFile(path, content, 0o600))
		t.Setenv(EnvSharedSecret, "from-env")
		t.Setenv(EnvSessionKey, "session-from-env")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, RuntimeRestricted, cfg.Sandbox.Runtime)
		assert.Equal(t, []string{"/usr/local/bin/sandbox-runner"}, cfg.Sandbox.Command)
		assert.Equal(t, 4, cfg.Sandbox.TimeoutSec)
		assert.Equal(t, "from-env", cfg.Auth.SharedSecret)
		assert.Equal(t, "session-from-env", cfg.Dispatcher.Session.JWTSecret)
		assert.Equal(t, "development", cfg.Logging.Mode)
	})

	t.Run("SecretsInFileAreIgnored", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "secrets.yaml")
		content := []byte(`
auth:
  shared_secret: from-file
dispatcher:
  session:
    jwt_secret: session-from-file
    issuer: runbox
`)
		require.NoError(t, os.WriteFile(path, content, 0o600))
		t.Setenv(EnvSharedSecret, "")
		t.Setenv(EnvSessionKey, "session-from-env")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Empty(t, cfg.Auth.SharedSecret)
		assert.Equal(t, "session-from-env", cfg.Dispatcher.Session.JWTSecret)
		assert.Equal(t, "runbox", cfg.Dispatcher.Session.Issuer)
	})

	t.Run("InvalidFileRejected", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("sandbox:\n  timeout_sec: 1\n  cpu_time_sec: 2\n"), 0o600))

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config validation error")
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.SharedSecret = "s3cret"
	cfg.Dispatcher.Session.JWTSecret = "key"

	out := cfg.Redacted()
	assert.Equal(t, "<redacted>", out.Auth.SharedSecret)
	assert.Equal(t, "<redacted>", out.Dispatcher.Session.JWTSecret)
	assert.Equal(t, "s3cret", cfg.Auth.SharedSecret)
}
