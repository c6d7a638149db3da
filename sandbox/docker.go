package sandbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Container engine binaries driven through their CLI
const (
	EngineDocker = "docker"
	EnginePodman = "podman"
)

// cleanupOutputBytes caps what is kept from `<engine> rm -f`.
const cleanupOutputBytes = 4 * BytesPerKB

// ContainerExecutor implements SandboxExecutor by driving a container engine
// CLI. One disposable container is created per request and the submitted code
// is written to its stdin.
type ContainerExecutor struct {
	logger    *zap.Logger
	policy    Policy
	engine    string
	cmdRunner CommandRunner
}

// ContainerExecutorOption defines a functional option for ContainerExecutor
type ContainerExecutorOption func(*ContainerExecutor)

// WithCommandRunner sets the CommandRunner for ContainerExecutor
func WithCommandRunner(cmdRunner CommandRunner) ContainerExecutorOption {
	return func(c *ContainerExecutor) {
		c.cmdRunner = cmdRunner
	}
}

// WithEngineBinary overrides the engine binary, e.g. an absolute path.
func WithEngineBinary(path string) ContainerExecutorOption {
	return func(c *ContainerExecutor) {
		c.engine = path
	}
}

// NewDockerExecutor creates a ContainerExecutor backed by the docker CLI
func NewDockerExecutor(logger *zap.Logger, policy Policy, opts ...ContainerExecutorOption) *ContainerExecutor {
	return newContainerExecutor(logger, policy, EngineDocker, opts...)
}

func newContainerExecutor(logger *zap.Logger, policy Policy, engine string, opts ...ContainerExecutorOption) *ContainerExecutor {
	executor := &ContainerExecutor{
		logger:    logger,
		policy:    policy.clone(),
		engine:    engine,
		cmdRunner: &RealCommandRunner{}, // Default implementation
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Engine returns the engine binary this executor drives.
func (c *ContainerExecutor) Engine() string {
	return c.engine
}

// Execute runs the code in a fresh container under the policy
func (c *ContainerExecutor) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if req.ID == "" {
		return ExecuteResult{}, fmt.Errorf("execution id is required")
	}

	name := ContainerName(req.ID)
	logger := c.logger.With(zap.String("execution_id", req.ID), zap.String("container", name))

	out, err := c.cmdRunner.RunCommand(ctx, Command{
		Args:           c.policy.ContainerArgs(c.engine, name),
		Stdin:          req.Code,
		Timeout:        c.policy.Timeout,
		MaxOutputBytes: c.policy.MaxOutputBytes,
	})
	if err != nil {
		c.removeContainer(logger, name)
		return ExecuteResult{}, infraError("launch", err)
	}

	engineFailed := out.ExitCode == ExitEngineFailure && engineDiagnostic(c.engine, out.Stderr)
	result, err := c.policy.classify(out, engineFailed)
	if err != nil {
		// The CLI is gone but the container it started may not be.
		c.removeContainer(logger, name)
		logger.Info("execution did not complete", zap.Int("exit_code", out.ExitCode), zap.Error(err))
		return ExecuteResult{}, err
	}

	logger.Debug("execution completed", zap.Int("exit_code", out.ExitCode))
	return result, nil
}

// removeContainer force-removes the named container. It runs on a fresh
// context so it still happens when the request context is gone.
func (c *ContainerExecutor) removeContainer(logger *zap.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	out, err := c.cmdRunner.RunCommand(ctx, Command{
		Args:           []string{c.engine, "rm", "-f", name},
		Timeout:        cleanupTimeout,
		MaxOutputBytes: cleanupOutputBytes,
	})
	switch {
	case err != nil:
		logger.Warn("failed to remove container", zap.Error(err))
	case out.ExitCode != 0:
		// Already gone is the common case after --rm.
		logger.Debug("container remove returned non-zero",
			zap.Int("exit_code", out.ExitCode), zap.String("stderr", out.Stderr))
	}
}
