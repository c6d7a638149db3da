package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
)

// NewExecutor creates an appropriate sandbox executor based on the configuration
func NewExecutor(logger *zap.Logger, cfg *config.Config) (SandboxExecutor, error) {
	policy := PolicyFromConfig(cfg)
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox policy: %w", err)
	}

	switch cfg.Sandbox.Backend {
	case config.BackendDocker:
		return NewDockerExecutor(logger, policy), nil
	case config.BackendPodman:
		return NewPodmanExecutor(logger, policy), nil
	case config.BackendDockerAPI:
		return NewDockerAPIExecutor(logger, policy)
	case config.BackendLocal:
		if !cfg.Sandbox.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled")
		}
		logger.Warn("local backend runs submitted code on the host without a container")
		return NewLocalExecutor(logger, policy), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}
