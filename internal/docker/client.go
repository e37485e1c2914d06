package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/shinji-kodama/basin-snapshots/internal/model"
)

// defaultPingTimeout is the maximum duration to wait for a Docker daemon
// response during a Ping operation. Docker Desktop on macOS can take a few
// seconds to answer after waking up.
const defaultPingTimeout = 5 * time.Second

// windowsPipe is the named pipe Docker Desktop listens on under Windows.
const windowsPipe = `//./pipe/docker_engine`

// Client is the slice of the Docker Engine API needed to render basins in
// throwaway containers: pull an image, then create, start, wait for and
// remove one container per snapshot.
//
// Every method returns a model.CLIError with ExitDockerNotRunning so a
// failing daemon surfaces with the same exit code as a missing one. The
// renderer swallows these per basin; only NewClient and Ping failures
// abort a run.
type Client struct {
	inner *client.Client
}

// NewClient connects to the Docker daemon named by DOCKER_HOST, or to the
// first platform socket that exists (see socketCandidates).
//
// No request is sent; use Ping to check the daemon is actually answering.
func NewClient() (*Client, error) {
	host := os.Getenv("DOCKER_HOST")
	if host == "" {
		detected, err := detectDockerHost()
		if err != nil {
			return nil, model.WrapCLIError(model.ExitDockerNotRunning,
				"Docker socket not found", err)
		}
		host = detected
	}
	return newClientWithHost(host)
}

// newClientWithHost creates a Docker client for a connection string such as
// "unix:///var/run/docker.sock" or "tcp://127.0.0.1:2375". The API version
// is negotiated on the first request.
func newClientWithHost(host string) (*Client, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host), err)
	}
	return &Client{inner: c}, nil
}

// socketCandidates lists the Unix socket paths probed on goos, most
// preferred first. Windows has no socket paths; it uses a named pipe.
//
// On macOS Docker Desktop normally links /var/run/docker.sock, but newer
// releases may only create the per-user socket under ~/.docker/run.
func socketCandidates(goos, home string) []string {
	switch goos {
	case "linux":
		return []string{"/var/run/docker.sock"}
	case "darwin":
		paths := []string{"/var/run/docker.sock"}
		if home != "" {
			paths = append(paths, filepath.Join(home, ".docker", "run", "docker.sock"))
		}
		return paths
	default:
		return nil
	}
}

// detectDockerHost returns the Docker host URI for this platform. Sockets
// are only checked for existence; connectivity is left to Ping.
func detectDockerHost() (string, error) {
	if runtime.GOOS == "windows" {
		// os.Stat does not work on named pipes, so probe with a short dial.
		conn, err := net.DialTimeout("pipe", windowsPipe, time.Second)
		if err != nil {
			return "", fmt.Errorf("Docker named pipe not found at %s: %w", windowsPipe, err)
		}
		conn.Close()
		return "npipe://" + windowsPipe, nil
	}

	home, _ := os.UserHomeDir()
	paths := socketCandidates(runtime.GOOS, home)
	if len(paths) == 0 {
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return detectUnixSocket(paths)
}

// detectUnixSocket returns "unix://<path>" for the first of paths that
// exists on the filesystem.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v (is Docker running?)", paths)
}

// Ping verifies that the Docker daemon is reachable, waiting at most
// defaultPingTimeout. It is called once before the first basin so a dead
// daemon fails the run instead of failing every basin silently.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			"Docker daemon is not responding (is Docker running?)", err)
	}
	return nil
}

// PullImage pulls ref and drains the progress stream. The pull is only
// complete once the stream has been read to the end.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	rc, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to pull image %q", ref), err)
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to pull image %q", ref), err)
	}
	return nil
}

// CreateContainer creates (but does not start) an unnamed container and
// returns its ID. When the image is not present locally the returned
// error satisfies IsImageNotFound.
func (c *Client) CreateContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	created, err := c.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create container from %q", cfg.Image), err)
	}
	return created.ID, nil
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.inner.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to start container %q", shortID(id)), err)
	}
	return nil
}

// WaitContainer blocks until the container stops and returns its exit
// status. A cancelled ctx returns the context error.
func (c *Client) WaitContainer(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := c.inner.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to wait for container %q", shortID(id)), err)
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, model.NewCLIError(model.ExitDockerNotRunning,
				fmt.Sprintf("container %q: %s", shortID(id), status.Error.Message))
		}
		return status.StatusCode, nil
	}
}

// RemoveContainer force-removes a container, killing it first if it is
// still running.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	if err := c.inner.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to remove container %q", shortID(id)), err)
	}
	return nil
}

// Close releases all resources held by the Docker client.
// Close is safe to call multiple times.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// IsImageNotFound reports whether err (from CreateContainer) means the
// image is missing locally and has to be pulled.
func IsImageNotFound(err error) bool {
	return cerrdefs.IsNotFound(err)
}

// shortID truncates a container ID to the 12 characters docker ps shows.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
