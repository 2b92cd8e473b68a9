package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRuntime implements Runtime using the Docker SDK.
type DockerRuntime struct {
	client *client.Client
}

// DockerHandle represents a running experiment container.
type DockerHandle struct {
	client      *client.Client
	containerID string
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// NewDockerRuntime creates a new Docker-based runtime.
func NewDockerRuntime() (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRuntime{client: cli}, nil
}

// Provision implements Runtime.Provision using Docker containers.
func (d *DockerRuntime) Provision(ctx context.Context, spec Spec) (Handle, error) {
	// Check if the image exists locally first to save time.
	_, err := d.client.ImageInspect(ctx, spec.Image)
	if err != nil {
		reader, err := d.client.ImagePull(ctx, spec.Image, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	containerConfig := &container.Config{
		Image: spec.Image,
		Cmd:   spec.Command,
		Env:   mapToEnvList(spec.Env),
	}

	// cpu_quota is expressed against the default 100ms cpu_period, so a
	// share of 0.5 yields 50ms of CPU per period.
	hostConfig := &container.HostConfig{
		Binds: []string{
			spec.ScriptPath + ":/workspace/main.py:ro",
			spec.OutputDir + ":/workspace/output:rw",
		},
		NetworkMode:    container.NetworkMode(spec.NetworkMode),
		ReadonlyRootfs: true,
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes, // no swap headroom beyond the ceiling
			CPUPeriod:  100000,
			CPUQuota:   int64(spec.CPUShare * 100000),
		},
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Best effort: don't leak the created container.
		d.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	return &DockerHandle{
		client:      d.client,
		containerID: resp.ID,
	}, nil
}

func (h *DockerHandle) ID() string {
	return h.containerID
}

func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return ExitResult{ExitCode: -1, Err: err}, err
	case status := <-statusCh:
		result := ExitResult{ExitCode: int(status.StatusCode)}
		if status.Error != nil {
			result.Err = fmt.Errorf("%s", status.Error.Message)
		}
		// Distinguish a memory-ceiling kill from an ordinary crash.
		if inspect, err := h.client.ContainerInspect(ctx, h.containerID); err == nil && inspect.State != nil {
			result.OOMKilled = inspect.State.OOMKilled
		}
		return result, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Err: ctx.Err()}, ctx.Err()
	}
}

func (h *DockerHandle) Stop(ctx context.Context, grace time.Duration) error {
	seconds := int(grace.Seconds())
	return h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &seconds})
}

func (h *DockerHandle) Kill(ctx context.Context) error {
	return h.client.ContainerKill(ctx, h.containerID, "SIGKILL")
}

func (h *DockerHandle) Output(ctx context.Context) (stdout, stderr []byte, err error) {
	rc, err := h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, rc); err != nil {
		return nil, nil, err
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

func (h *DockerHandle) Remove(ctx context.Context) error {
	return h.client.ContainerRemove(ctx, h.containerID, container.RemoveOptions{Force: true})
}
