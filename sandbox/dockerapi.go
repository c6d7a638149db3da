package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// dockerClient is the subset of the Engine API the executor needs.
type dockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string,
	) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerAPIExecutor implements SandboxExecutor through the Docker Engine API
// instead of the CLI. The policy is identical; only the transport differs.
type DockerAPIExecutor struct {
	logger *zap.Logger
	policy Policy
	cli    dockerClient
}

// DockerAPIExecutorOption defines a functional option for DockerAPIExecutor
type DockerAPIExecutorOption func(*DockerAPIExecutor)

func withDockerClient(cli dockerClient) DockerAPIExecutorOption {
	return func(d *DockerAPIExecutor) {
		d.cli = cli
	}
}

// NewDockerAPIExecutor connects to the engine described by the DOCKER_*
// environment variables.
func NewDockerAPIExecutor(logger *zap.Logger, policy Policy, opts ...DockerAPIExecutorOption) (*DockerAPIExecutor, error) {
	executor := &DockerAPIExecutor{
		logger: logger,
		policy: policy.clone(),
	}

	for _, opt := range opts {
		opt(executor)
	}

	if executor.cli == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("failed to create docker client: %w", err)
		}
		executor.cli = cli
	}

	return executor, nil
}

// Close releases the engine connection.
func (d *DockerAPIExecutor) Close() error {
	return d.cli.Close()
}

// containerSpec translates the policy into Engine API configuration.
func containerSpec(p Policy) (*container.Config, *container.HostConfig) {
	cpu := int64(p.cpuSeconds())
	memory := int64(p.MemoryMB) * BytesPerKB * BytesPerKB
	pids := int64(p.PidsLimit)

	cfg := &container.Config{
		Image:           p.Image,
		Cmd:             append([]string(nil), p.Command...),
		Env:             p.RunnerEnv(),
		User:            p.User,
		Tty:             false,
		OpenStdin:       true,
		StdinOnce:       true,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}

	hostCfg := &container.HostConfig{
		AutoRemove:     false,
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges:true"},
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
			NanoCPUs:   int64(p.CPUs * 1e9),
			PidsLimit:  &pids,
			Ulimits: []*container.Ulimit{
				{Name: "cpu", Soft: cpu, Hard: cpu + 1},
				{Name: "fsize", Soft: int64(p.MaxOutputBytes), Hard: int64(p.MaxOutputBytes)},
			},
		},
	}

	return cfg, hostCfg
}

// Execute runs the code in a fresh container created through the Engine API.
// Every engine call shares one deadline, so a stalled daemon or a container
// that never reads its stdin cannot hold the request past policy.Timeout.
//
//nolint:funlen // create, attach, start, wait and cleanup read best in one place
func (d *DockerAPIExecutor) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if req.ID == "" {
		return ExecuteResult{}, fmt.Errorf("execution id is required")
	}

	name := ContainerName(req.ID)
	logger := d.logger.With(zap.String("execution_id", req.ID), zap.String("container", name))

	runCtx, cancel := context.WithTimeout(ctx, d.policy.Timeout)
	defer cancel()

	cfg, hostCfg := containerSpec(d.policy)
	created, err := d.cli.ContainerCreate(runCtx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return ExecuteResult{}, infraError("create", err)
	}

	// Always remove, whatever happened below. Force also kills a live container.
	defer func() {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer rmCancel()
		if rmErr := d.cli.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			logger.Warn("failed to remove container", zap.Error(rmErr))
		}
	}()

	attach, err := d.cli.ContainerAttach(runCtx, created.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return ExecuteResult{}, infraError("attach", err)
	}
	defer attach.Close()

	stdoutBuf := newLimitedBuffer(d.policy.MaxOutputBytes)
	stderrBuf := newLimitedBuffer(d.policy.MaxOutputBytes)
	outputDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(stdoutBuf, stderrBuf, attach.Reader)
		outputDone <- copyErr
	}()

	// Register the wait before start so a fast exit is not missed.
	waitCh, errCh := d.cli.ContainerWait(runCtx, created.ID, container.WaitConditionNextExit)

	if err := d.cli.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return ExecuteResult{}, infraError("start", err)
	}

	// The write blocks until the container reads; closing attach on return
	// unblocks it.
	go func() {
		if _, err := io.WriteString(attach.Conn, req.Code); err != nil {
			logger.Debug("stdin write interrupted", zap.Error(err))
			return
		}
		if err := attach.CloseWrite(); err != nil {
			logger.Debug("stdin close failed", zap.Error(err))
		}
	}()

	out := CommandOutput{}
	select {
	case status := <-waitCh:
		if status.Error != nil {
			return ExecuteResult{}, infraError("wait", fmt.Errorf("%s", status.Error.Message))
		}
		out.ExitCode = int(status.StatusCode)
	case err := <-errCh:
		if runCtx.Err() == nil {
			return ExecuteResult{}, infraError("wait", err)
		}
		if ctx.Err() != nil {
			return ExecuteResult{}, infraError("wait", ctx.Err())
		}
		out.TimedOut = true
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return ExecuteResult{}, infraError("wait", ctx.Err())
		}
		out.TimedOut = true
	}

	if !out.TimedOut {
		// The attach stream ends once the container has exited.
		select {
		case <-outputDone:
		case <-time.After(pipeWaitDelay):
			logger.Warn("output stream did not close after exit")
		}
		out.Stdout = stdoutBuf.String()
		out.Stderr = stderrBuf.String()
	}

	// The engine reports its own failures through API errors, so no exit
	// code here can mean the engine failed to launch.
	result, err := d.policy.classify(out, false)
	if err != nil {
		logger.Info("execution did not complete", zap.Int("exit_code", out.ExitCode), zap.Error(err))
		return ExecuteResult{}, err
	}
	return result, nil
}
