package provision

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	apierrors "github.com/pubwiki/provisioner/internal/pkg/apierrors"
)

// execUser runs maintenance scripts as www-data so created files stay
// readable by PHP.
const execUser = "www-data:www-data"

// Runner executes a command inside the shared MediaWiki container.
type Runner interface {
	Exec(ctx context.Context, cmd []string, workdir string) error
}

// ExecError carries the exit code and captured output of a failed exec.
type ExecError struct {
	Code   int
	Stdout string
	Stderr string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("exec failed: code=%d, stderr=%s", e.Code, e.Stderr)
}

type dockerRunner struct {
	host      string
	container string
}

// NewRunner creates a Runner that talks to the Docker daemon at host and
// targets the named container.
func NewRunner(host, containerName string) Runner {
	return &dockerRunner{host: host, container: containerName}
}

// Exec creates an exec instance, drains its output, and checks the exit
// code. The client connects per call: provisioning execs are rare and long
// lived, a pooled connection buys nothing.
func (r *dockerRunner) Exec(ctx context.Context, cmd []string, workdir string) error {
	cli, err := client.NewClientWithOpts(
		client.WithHost(r.host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return apierrors.NewDockerExecFailed(fmt.Errorf("connect docker: %w", err))
	}
	defer cli.Close()

	exec, err := cli.ContainerExecCreate(ctx, r.container, container.ExecOptions{
		User:         execUser,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   workdir,
		Cmd:          cmd,
	})
	if err != nil {
		return apierrors.NewDockerExecFailed(fmt.Errorf("create exec: %w", err))
	}

	attach, err := cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return apierrors.NewDockerExecFailed(fmt.Errorf("attach exec: %w", err))
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return apierrors.NewDockerExecFailed(fmt.Errorf("read exec output: %w", err))
	}

	inspect, err := cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return apierrors.NewDockerExecFailed(fmt.Errorf("inspect exec: %w", err))
	}
	if inspect.ExitCode != 0 {
		return apierrors.NewDockerExecFailed(&ExecError{
			Code:   inspect.ExitCode,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		})
	}
	return nil
}
