package executor

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/registry"
)

// DockerRunner runs commands in running containers via docker exec. The
// server's Hostname names the container.
type DockerRunner struct {
	client *dockerclient.Client
}

// NewDockerRunner connects to the Docker daemon described by the environment.
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerRunner{client: cli}, nil
}

func (d *DockerRunner) Run(ctx context.Context, srv *registry.Server, command string) (*Result, error) {
	start := time.Now()
	exec, err := d.client.ContainerExecCreate(ctx, srv.Hostname, container.ExecOptions{
		User:         srv.Username,
		Cmd:          []string{"/bin/sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil, fmt.Errorf("container %q not found", srv.Hostname)
		}
		return nil, fmt.Errorf("docker exec create: %w", err)
	}

	attach, err := d.client.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("docker exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copied <- err
	}()
	select {
	case err := <-copied:
		if err != nil {
			return nil, fmt.Errorf("docker exec output: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	inspect, err := d.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("docker exec inspect: %w", err)
	}
	return &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
		Duration: time.Since(start),
	}, nil
}

// Connect checks that the container exists and is running.
func (d *DockerRunner) Connect(ctx context.Context, srv *registry.Server) error {
	info, err := d.client.ContainerInspect(ctx, srv.Hostname)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("container %q not found", srv.Hostname)
		}
		return fmt.Errorf("docker inspect: %w", err)
	}
	if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running {
		return fmt.Errorf("container %q is not running", srv.Hostname)
	}
	return nil
}

// Disconnect is a no-op; exec sessions are not cached.
func (d *DockerRunner) Disconnect(string) {}

func (d *DockerRunner) Close() error { return d.client.Close() }
