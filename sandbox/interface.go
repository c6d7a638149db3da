package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"
)

// ExecuteRequest represents the parameters for code execution
type ExecuteRequest struct {
	// ID is the execution identity. It names the runtime instance and is
	// never used for authorization.
	ID   string
	Code string
}

// ExecuteResult represents the captured output of one execution. A failing
// submitted program is still a result: its error text is in Stderr.
type ExecuteResult struct {
	Stdout string
	Stderr string
}

// SandboxExecutor defines the interface for sandbox execution. Implementations
// return ErrTimeout when the deadline is hit and an *InfrastructureError when
// the isolated runtime could not be launched.
type SandboxExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

// Command is one non-shell process invocation.
type Command struct {
	Args           []string
	Env            []string // nil inherits the parent environment
	Stdin          string
	Timeout        time.Duration
	MaxOutputBytes int
}

// CommandOutput is what a CommandRunner observed. ExitCode is internal and
// never leaves the sandbox package.
type CommandOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, cmd Command) (CommandOutput, error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand starts args[0] directly (no shell) in its own process group and
// kills the whole group when command.Timeout elapses or ctx is done. A non-zero
// exit is reported through ExitCode, not as an error.
func (RealCommandRunner) RunCommand(ctx context.Context, command Command) (CommandOutput, error) {
	if len(command.Args) < 1 {
		return CommandOutput{}, fmt.Errorf("no command provided")
	}

	cmd := exec.Command(command.Args[0], command.Args[1:]...) //nolint:gosec // argv is built from policy, never from a shell string
	cmd.Env = command.Env
	setProcessGroup(cmd)
	// A descendant that escaped the group must not pin Wait on an open pipe.
	cmd.WaitDelay = pipeWaitDelay

	stdoutBuf := newLimitedBuffer(command.MaxOutputBytes)
	stderrBuf := newLimitedBuffer(command.MaxOutputBytes)
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf
	if command.Stdin != "" {
		cmd.Stdin = strings.NewReader(command.Stdin)
	}

	if err := cmd.Start(); err != nil {
		return CommandOutput{}, err
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var deadline <-chan time.Time
		if command.Timeout > 0 {
			timer := time.NewTimer(command.Timeout)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-deadline:
			timedOut.Store(true)
			killProcessGroup(cmd)
		case <-ctx.Done():
			killProcessGroup(cmd)
		case <-done:
		}
	}()

	err := cmd.Wait()
	close(done)

	out := CommandOutput{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		TimedOut: timedOut.Load(),
	}
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return out, err
		}
		out.ExitCode = exitCode(exitError)
	}
	if !out.TimedOut && ctx.Err() != nil {
		return out, ctx.Err()
	}

	return out, nil
}

// limitedBuffer keeps the first max bytes written to it and silently drops
// the rest so the child never blocks on a full pipe.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newLimitedBuffer(maxBytes int) *limitedBuffer {
	return &limitedBuffer{max: maxBytes}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		return b.buf.Write(p)
	}
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.truncated = len(p) > 0 || b.truncated
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

// Truncated reports whether any output was dropped.
func (b *limitedBuffer) Truncated() bool {
	return b.truncated
}
