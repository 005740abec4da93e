package toolchain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// containerWorkdir is where the project is bind-mounted inside the container.
const containerWorkdir = "/src"

// DockerRunner runs the compiler inside a toolchain image (for example an
// emsdk image with a Rust toolchain installed), so the host needs only a
// Docker daemon.
type DockerRunner struct {
	Image string
	cli   *client.Client
}

// NewDockerRunner connects to the daemon named by DOCKER_HOST (or the
// default socket). opts are applied after the environment.
func NewDockerRunner(image string, opts ...client.Opt) (*DockerRunner, error) {
	opts = append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker sdk: %w", err)
	}
	return &DockerRunner{Image: image, cli: cli}, nil
}

func (d *DockerRunner) Close() error {
	return d.cli.Close()
}

func (d *DockerRunner) Run(ctx context.Context, inv Invocation, out io.Writer) (int, error) {
	hostDir, err := filepath.Abs(inv.Dir)
	if err != nil {
		return -1, err
	}

	cfg := &container.Config{
		Image:      d.Image,
		Cmd:        append([]string{inv.Name}, inv.Args...),
		Env:        inv.Env,
		WorkingDir: containerWorkdir,
	}
	// Keep build outputs owned by the invoking user.
	if uid, gid := os.Getuid(), os.Getgid(); uid >= 0 && gid >= 0 {
		cfg.User = strconv.Itoa(uid) + ":" + strconv.Itoa(gid)
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: hostDir,
			Target: containerWorkdir,
		}},
	}

	slog.Debug("toolchain exec (docker)", "image", d.Image, "cmd", cfg.Cmd, "dir", hostDir)

	created, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if client.IsErrNotFound(err) {
		if err := d.pull(ctx, out); err != nil {
			return -1, err
		}
		created, err = d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	}
	if err != nil {
		return -1, fmt.Errorf("container create: %w", err)
	}
	defer func() {
		// The build context may already be cancelled; removal must still run.
		if err := d.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("toolchain container remove", "err", err, "id", created.ID)
		}
	}()

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("container start: %w", err)
	}

	logs, err := d.cli.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return -1, fmt.Errorf("container logs: %w", err)
	}
	// Non-TTY containers multiplex stdout/stderr with 8-byte headers.
	_, copyErr := stdcopy.StdCopy(out, out, logs)
	logs.Close()
	if copyErr != nil {
		slog.Warn("toolchain container log stream", "err", copyErr)
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("container wait: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return -1, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (d *DockerRunner) pull(ctx context.Context, out io.Writer) error {
	slog.Info("pulling toolchain image", "image", d.Image)
	rc, err := d.cli.ImagePull(ctx, d.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("image pull %s: %w", d.Image, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("image pull %s: %w", d.Image, err)
	}
	fmt.Fprintf(out, "pulled %s\n", d.Image)
	return nil
}
