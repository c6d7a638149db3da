package sandbox

import (
	"go.uber.org/zap"
)

// NewPodmanExecutor creates a ContainerExecutor backed by the podman CLI.
// Podman accepts the same run flags as docker and also reports its own
// failures with exit code 125.
func NewPodmanExecutor(logger *zap.Logger, policy Policy, opts ...ContainerExecutorOption) *ContainerExecutor {
	return newContainerExecutor(logger, policy, EnginePodman, opts...)
}
