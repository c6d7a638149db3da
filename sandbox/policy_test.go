package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/runner"
)

func TestPolicyContainerArgs(t *testing.T) {
	args := testPolicy().ContainerArgs(EngineDocker, "sandbox-1")

	expected := []string{
		"docker", "run",
		"--rm",
		"-i",
		"--name", "sandbox-1",
		"--network", "none",
		"--read-only",
		"--memory", "128m",
		"--memory-swap", "128m",
		"--cpus", "0.50",
		"--pids-limit", "32",
		"--ulimit", "cpu=2:3",
		"--ulimit", "fsize=65536",
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
		"--user", "nobody",
		"python:3.12-slim",
		"python3", "-",
	}
	assert.Equal(t, expected, args)
}

func TestPolicyContainerArgsRestrictedRuntime(t *testing.T) {
	p := testPolicy()
	p.Runtime = config.RuntimeRestricted
	p.Image = "runbox/sandbox-runner:latest"
	p.Command = []string{"/sandbox-runner"}

	args := p.ContainerArgs(EnginePodman, "sandbox-2")
	assert.Equal(t, "podman", args[0])

	tail := args[len(args)-8:]
	assert.Equal(t, []string{
		"-e", "SANDBOX_CPU_SECONDS=2",
		"-e", "SANDBOX_MEMORY_MB=128",
		"-e", "SANDBOX_MAX_OUTPUT_BYTES=65536",
		"runbox/sandbox-runner:latest",
		"/sandbox-runner",
	}, tail)
}

func TestPolicyCPUSecondsRoundsUp(t *testing.T) {
	p := testPolicy()
	p.CPUTime = 1500 * time.Millisecond
	assert.Contains(t, p.ContainerArgs(EngineDocker, "n"), "cpu=2:3")
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr string
	}{
		{"valid", func(*Policy) {}, ""},
		{"zero timeout", func(p *Policy) { p.Timeout = 0 }, "timeout must be positive"},
		{"zero cpu", func(p *Policy) { p.CPUTime = 0 }, "cpu time must be positive"},
		{"timeout not above cpu", func(p *Policy) { p.Timeout = p.CPUTime }, "must exceed cpu time"},
		{"zero memory", func(p *Policy) { p.MemoryMB = 0 }, "memory"},
		{"zero cpus", func(p *Policy) { p.CPUs = 0 }, "cpus"},
		{"zero pids", func(p *Policy) { p.PidsLimit = 0 }, "pids"},
		{"zero output", func(p *Policy) { p.MaxOutputBytes = 0 }, "max output"},
		{"empty command", func(p *Policy) { p.Command = nil }, "command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := &config.Config{Sandbox: config.SandboxConfig{
		Runtime:     config.RuntimeRestricted,
		Image:       "img",
		Command:     []string{"/sandbox-runner"},
		TimeoutSec:  5,
		CPUTimeSec:  2,
		MemoryMB:    128,
		CPUs:        0.5,
		PidsLimit:   32,
		MaxOutputKB: 1024,
	}}

	p := PolicyFromConfig(cfg)
	assert.Equal(t, 5*time.Second, p.Timeout)
	assert.Equal(t, 2*time.Second, p.CPUTime)
	assert.Equal(t, 1024*1024, p.MaxOutputBytes)
	assert.Equal(t, DefaultUser, p.User)
	require.NoError(t, p.Validate())

	cfg.Sandbox.Command[0] = "changed"
	assert.Equal(t, "/sandbox-runner", p.Command[0])
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "sandbox-0f8c", ContainerName("0f8c"))
}

func TestRunnerContract(t *testing.T) {
	assert.Equal(t, runner.EnvCPUSeconds, EnvRunnerCPUSeconds)
	assert.Equal(t, runner.EnvMemoryMB, EnvRunnerMemoryMB)
	assert.Equal(t, runner.EnvMaxOutputBytes, EnvRunnerMaxOutputBytes)
	assert.Equal(t, runner.ExitTimeout, ExitRunnerTimeout)
	assert.Equal(t, runner.ExitSetup, ExitEngineFailure)
}

func TestEngineDiagnostic(t *testing.T) {
	tests := []struct {
		name   string
		engine string
		stderr string
		want   bool
	}{
		{"DockerPrefix", EngineDocker, "docker: Error response from daemon: No such image.\n", true},
		{"DockerBinaryPath", "/usr/bin/docker", "docker: invalid reference format.\n", true},
		{"DaemonRelay", EnginePodman, "Error response from daemon: conflict\n", true},
		{"PodmanError", EnginePodman, "Error: crun: executable file not found\n", true},
		{"ProgramOutput", EngineDocker, "custom failure\n", false},
		{"ProgramMimicsPodman", EngineDocker, "Error: bad input\n", false},
		{"Empty", EngineDocker, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engineDiagnostic(tt.engine, tt.stderr))
		})
	}
}

func TestClassifyByRuntime(t *testing.T) {
	direct := testPolicy()
	restricted := testPolicy()
	restricted.Runtime = config.RuntimeRestricted

	tests := []struct {
		name      string
		policy    Policy
		out       CommandOutput
		wantErr   error
		wantInfra bool
	}{
		{"DirectSetupCode", direct, CommandOutput{ExitCode: ExitEngineFailure}, nil, false},
		{"DirectRunnerTimeoutCode", direct, CommandOutput{ExitCode: ExitRunnerTimeout}, nil, false},
		{"DirectCPUSignalCode", direct, CommandOutput{ExitCode: ExitCPUSignal}, nil, false},
		{"DirectRuntimeFatalCode", direct, CommandOutput{ExitCode: 2, Stderr: "usage\n"}, nil, false},
		{"RestrictedSetup", restricted, CommandOutput{ExitCode: ExitEngineFailure}, nil, true},
		{"RestrictedRunnerTimeout", restricted, CommandOutput{ExitCode: ExitRunnerTimeout}, ErrTimeout, false},
		{"RestrictedCPUSignal", restricted, CommandOutput{ExitCode: ExitCPUSignal}, ErrTimeout, false},
		{"RestrictedRuntimeCrash", restricted, CommandOutput{ExitCode: 2, Stderr: "fatal error: bad\n"}, nil, true},
		{"WatchdogWins", direct, CommandOutput{TimedOut: true, ExitCode: ExitEngineFailure}, ErrTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.policy.classify(tt.out, false)
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.wantInfra:
				require.Error(t, err)
				assert.True(t, IsInfrastructure(err))
			default:
				require.NoError(t, err)
			}
		})
	}

	t.Run("EngineFailureWins", func(t *testing.T) {
		_, err := direct.classify(CommandOutput{ExitCode: ExitEngineFailure, Stderr: "docker: boom\n"}, true)
		require.Error(t, err)
		assert.True(t, IsInfrastructure(err))
	})
}
