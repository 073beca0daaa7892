package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ContainerRunner executes commands inside an existing Docker
// container via the exec API. Used when agent commands must be kept
// off the host.
type ContainerRunner struct {
	cli         *client.Client
	containerID string
	shell       string
}

// NewContainerRunner connects to the Docker daemon and verifies the
// target container is running.
func NewContainerRunner(ctx context.Context, containerID, shell string) (*ContainerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	inspect, err := cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("container %s not found", containerID)
		}
		return nil, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	if !inspect.State.Running {
		return nil, fmt.Errorf("container %s is not running", containerID)
	}

	if shell == "" {
		shell = "sh"
	}
	return &ContainerRunner{cli: cli, containerID: containerID, shell: shell}, nil
}

// Run executes command inside the container and waits for completion.
func (r *ContainerRunner) Run(ctx context.Context, dir, command string) (RunOutput, error) {
	execConfig := container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   dir,
		Cmd:          []string{r.shell, "-c", command},
	}

	resp, err := r.cli.ContainerExecCreate(ctx, r.containerID, execConfig)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return RunOutput{}, fmt.Errorf("container %s disappeared: %w", r.containerID, err)
		}
		return RunOutput{}, fmt.Errorf("create exec in container %s: %w", r.containerID, err)
	}

	attachResp, err := r.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return RunOutput{}, fmt.Errorf("attach exec %s: %w", resp.ID, err)
	}
	defer attachResp.Close()

	// Demultiplex the stdout/stderr streams.
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return RunOutput{}, fmt.Errorf("command interrupted: %w", ctxErr)
		}
		return RunOutput{}, fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return RunOutput{}, fmt.Errorf("inspect exec %s: %w", resp.ID, err)
	}

	slog.Debug("Container exec finished", "containerId", r.containerID, "execId", resp.ID, "exitCode", inspect.ExitCode)
	return RunOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// Close releases the Docker client.
func (r *ContainerRunner) Close() error {
	return r.cli.Close()
}
