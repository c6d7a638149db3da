package sandbox

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/isdmx/runbox/config"
)

// Exit codes with a fixed meaning to the supervisor.
const (
	// ExitEngineFailure is what docker/podman run return when the engine
	// itself failed (daemon unreachable, image missing, bad flags). The
	// sandbox-runner uses the same code when it cannot apply its limits.
	ExitEngineFailure = 125
	// ExitRunnerTimeout is what the in-container runner returns after
	// catching a CPU ceiling breach.
	ExitRunnerTimeout = 124
	// ExitCPUSignal is 128+SIGXCPU, seen when the kernel CPU limit killed
	// the process before anything could catch it.
	ExitCPUSignal = 152
	// ExitMemoryKilled is 128+SIGKILL, what a cgroup OOM kill looks like.
	ExitMemoryKilled = 137

	signalExitBase = 128
)

// Environment variables consumed by the in-container runner.
const (
	EnvRunnerCPUSeconds     = "SANDBOX_CPU_SECONDS"
	EnvRunnerMemoryMB       = "SANDBOX_MEMORY_MB"
	EnvRunnerMaxOutputBytes = "SANDBOX_MAX_OUTPUT_BYTES"
)

const (
	// DefaultUser is the unprivileged user the runtime runs as.
	DefaultUser = "nobody"

	pipeWaitDelay   = 2 * time.Second
	cleanupTimeout  = 10 * time.Second
	containerPrefix = "sandbox-"
)

// Policy is the Resource Limit Policy together with the Execution Container
// Policy. It is applied identically to every invocation and never relaxed.
type Policy struct {
	Timeout        time.Duration // outer wall-clock deadline, enforced by the supervisor
	CPUTime        time.Duration // inner CPU ceiling, enforced by the engine and the runner
	MemoryMB       int
	CPUs           float64
	PidsLimit      int
	MaxOutputBytes int
	Image          string
	Command        []string
	User           string
	Runtime        string
}

// PolicyFromConfig builds the policy from the sandbox section.
func PolicyFromConfig(cfg *config.Config) Policy {
	sb := cfg.Sandbox
	user := sb.User
	if user == "" {
		user = DefaultUser
	}
	return Policy{
		Timeout:        time.Duration(sb.TimeoutSec) * time.Second,
		CPUTime:        time.Duration(sb.CPUTimeSec) * time.Second,
		MemoryMB:       sb.MemoryMB,
		CPUs:           sb.CPUs,
		PidsLimit:      sb.PidsLimit,
		MaxOutputBytes: sb.MaxOutputKB * BytesPerKB,
		Image:          sb.Image,
		Command:        append([]string(nil), sb.Command...),
		User:           user,
		Runtime:        sb.Runtime,
	}
}

// Validate checks that every ceiling is set and that the outer deadline
// exceeds the inner CPU ceiling.
func (p Policy) Validate() error {
	switch {
	case p.Timeout <= 0:
		return fmt.Errorf("timeout must be positive")
	case p.CPUTime <= 0:
		return fmt.Errorf("cpu time must be positive")
	case p.Timeout <= p.CPUTime:
		return fmt.Errorf("timeout %s must exceed cpu time %s", p.Timeout, p.CPUTime)
	case p.MemoryMB <= 0:
		return fmt.Errorf("memory must be positive")
	case p.CPUs <= 0:
		return fmt.Errorf("cpus must be positive")
	case p.PidsLimit <= 0:
		return fmt.Errorf("pids limit must be positive")
	case p.MaxOutputBytes <= 0:
		return fmt.Errorf("max output must be positive")
	case len(p.Command) == 0:
		return fmt.Errorf("command must not be empty")
	}
	return nil
}

// clone returns a copy that shares no slices with p.
func (p Policy) clone() Policy {
	p.Command = append([]string(nil), p.Command...)
	return p
}

func (p Policy) cpuSeconds() int {
	secs := int(p.CPUTime / time.Second)
	if p.CPUTime%time.Second != 0 {
		secs++
	}
	return secs
}

// ContainerArgs builds the immutable argument vector for `<engine> run`.
// The submitted code is not part of it; it is delivered on stdin.
func (p Policy) ContainerArgs(engine, name string) []string {
	cpu := p.cpuSeconds()
	args := []string{
		engine, "run",
		"--rm",
		"-i",
		"--name", name,
		"--network", "none",
		"--read-only",
		"--memory", fmt.Sprintf("%dm", p.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", p.MemoryMB),
		"--cpus", strconv.FormatFloat(p.CPUs, 'f', 2, 64),
		"--pids-limit", strconv.Itoa(p.PidsLimit),
		"--ulimit", fmt.Sprintf("cpu=%d:%d", cpu, cpu+1),
		"--ulimit", fmt.Sprintf("fsize=%d", p.MaxOutputBytes),
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
		"--user", p.User,
	}

	for _, kv := range p.RunnerEnv() {
		args = append(args, "-e", kv)
	}

	args = append(args, p.Image)
	args = append(args, p.Command...)
	return args
}

// RunnerEnv returns the ceilings handed to the in-container runner so it can
// enforce them a second time from inside. Empty for the direct runtime.
func (p Policy) RunnerEnv() []string {
	if p.Runtime != config.RuntimeRestricted {
		return nil
	}
	return []string{
		fmt.Sprintf("%s=%d", EnvRunnerCPUSeconds, p.cpuSeconds()),
		fmt.Sprintf("%s=%d", EnvRunnerMemoryMB, p.MemoryMB),
		fmt.Sprintf("%s=%d", EnvRunnerMaxOutputBytes, p.MaxOutputBytes),
	}
}

// runtimeFatalExit is what the Go runtime exits with on a fatal error, such
// as an allocation refused by RLIMIT_AS inside the restricted runner.
const runtimeFatalExit = 2

// memoryFault is appended to stderr when the memory ceiling killed the program.
const memoryFault = "MemoryError: memory limit exceeded"

// classify maps what the runner observed to the outcome of one execution.
// engineFailed is set by backends that saw the engine itself refuse to
// launch. Start failures are handled by the caller.
//
// Under the direct runtime the exit code belongs to the submitted program,
// so only a kill by the memory cgroup changes the outcome. Under the restricted runtime the runner
// owns the exit code and its contract applies.
func (p Policy) classify(out CommandOutput, engineFailed bool) (ExecuteResult, error) {
	switch {
	case out.TimedOut:
		return ExecuteResult{}, ErrTimeout
	case engineFailed:
		return ExecuteResult{}, infraError("launch", fmt.Errorf("engine exited with %d: %s",
			out.ExitCode, strings.TrimSpace(out.Stderr)))
	case out.ExitCode == ExitMemoryKilled:
		// SIGKILL inside the sandbox comes from the memory cgroup.
		return memoryResult(out.Stdout, out.Stderr), nil
	case p.Runtime != config.RuntimeRestricted:
		return ExecuteResult{Stdout: out.Stdout, Stderr: out.Stderr}, nil
	}

	switch out.ExitCode {
	case ExitEngineFailure:
		return ExecuteResult{}, infraError("setup", fmt.Errorf("runner could not apply limits: %s",
			strings.TrimSpace(out.Stderr)))
	case ExitRunnerTimeout, ExitCPUSignal:
		return ExecuteResult{}, ErrTimeout
	case runtimeFatalExit:
		// The runtime dump is host metadata; only its cause is kept.
		if strings.Contains(out.Stderr, "out of memory") {
			return memoryResult(out.Stdout, ""), nil
		}
		return ExecuteResult{}, infraError("runner", fmt.Errorf("runner crashed: %s",
			firstLine(out.Stderr)))
	}
	return ExecuteResult{Stdout: out.Stdout, Stderr: out.Stderr}, nil
}

func memoryResult(stdout, stderr string) ExecuteResult {
	if stderr != "" && !strings.HasSuffix(stderr, "\n") {
		stderr += "\n"
	}
	return ExecuteResult{Stdout: stdout, Stderr: stderr + memoryFault}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// engineDiagnostic reports whether stderr carries a message from the engine
// itself. docker prefixes its errors with "docker:", podman with "Error:",
// and both relay daemon refusals as "Error response from daemon".
func engineDiagnostic(engine, stderr string) bool {
	name := filepath.Base(engine)
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, name+":"),
			name == EnginePodman && strings.HasPrefix(line, "Error:"),
			strings.Contains(line, "Error response from daemon"):
			return true
		}
	}
	return false
}

// ContainerName derives the runtime instance name from the execution identity.
func ContainerName(id string) string {
	return containerPrefix + id
}

// Size constants
const (
	BytesPerKB = 1024
)
