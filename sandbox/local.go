package sandbox

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// LocalExecutor implements SandboxExecutor by running the configured command
// directly on the host (for development only). There is no container, so the
// only containment is the supervisor deadline plus whatever the command itself
// applies; it is meant to be pointed at the sandbox-runner binary.
type LocalExecutor struct {
	logger    *zap.Logger
	policy    Policy
	cmdRunner CommandRunner
}

// LocalExecutorOption defines a functional option for LocalExecutor
type LocalExecutorOption func(*LocalExecutor)

// WithLocalCommandRunner sets the CommandRunner for LocalExecutor
func WithLocalCommandRunner(cmdRunner CommandRunner) LocalExecutorOption {
	return func(l *LocalExecutor) {
		l.cmdRunner = cmdRunner
	}
}

// NewLocalExecutor creates a new LocalExecutor with default implementations and optional interfaces
func NewLocalExecutor(logger *zap.Logger, policy Policy, opts ...LocalExecutorOption) *LocalExecutor {
	executor := &LocalExecutor{
		logger:    logger,
		policy:    policy.clone(),
		cmdRunner: &RealCommandRunner{}, // Default implementation
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs the code locally (WARNING: This is not secure and should only be used for development)
func (l *LocalExecutor) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if req.ID == "" {
		return ExecuteResult{}, fmt.Errorf("execution id is required")
	}

	out, err := l.cmdRunner.RunCommand(ctx, Command{
		Args:           l.policy.Command,
		Env:            l.environment(),
		Stdin:          req.Code,
		Timeout:        l.policy.Timeout,
		MaxOutputBytes: l.policy.MaxOutputBytes,
	})
	if err != nil {
		return ExecuteResult{}, infraError("launch", err)
	}

	result, err := l.policy.classify(out, false)
	if err != nil {
		l.logger.Info("local execution did not complete",
			zap.String("execution_id", req.ID), zap.Int("exit_code", out.ExitCode), zap.Error(err))
		return ExecuteResult{}, err
	}
	return result, nil
}

// environment is PATH plus the runner ceilings; nothing else leaks from the host.
func (l *LocalExecutor) environment() []string {
	env := []string{"PATH=" + os.Getenv("PATH")}
	return append(env, l.policy.RunnerEnv()...)
}
