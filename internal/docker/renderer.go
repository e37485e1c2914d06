package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/basin-snapshots/internal/model"
)

// MountPoint is where the working directory appears inside the container.
const MountPoint = "/work"

// RendererOptions configures a ContainerRenderer.
type RendererOptions struct {
	// Image is the QGIS image, e.g. "qgis/qgis:latest".
	Image string

	// Bin is the qgis command inside the image.
	Bin string

	// Pull pulls Image once, before the first render.
	Pull bool

	// Logger receives debug logs. Nil discards them.
	Logger logrus.FieldLogger
}

// ContainerRenderer renders each job in a fresh, short-lived container.
//
// A ContainerRenderer is used by a single sequential run and is not safe
// for concurrent use.
type ContainerRenderer struct {
	client *Client
	opts   RendererOptions

	// pulled is set after the first successful pull, explicit or on
	// demand, so the image is fetched at most once per run.
	pulled bool
}

// NewContainerRenderer creates a ContainerRenderer that talks to c.
func NewContainerRenderer(c *Client, opts RendererOptions) *ContainerRenderer {
	if opts.Bin == "" {
		opts.Bin = "qgis"
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	return &ContainerRenderer{client: c, opts: opts}
}

// Render runs QGIS for job in a container with workDir mounted at
// MountPoint, waits for it to exit and removes it. A non-zero exit status
// is returned as an error.
//
// The container lifecycle for one basin:
//  1. Pull the image if --pull was given and this is the first render
//  2. Create the container, pulling once and retrying if the image is missing
//  3. Start it and wait for QGIS to exit
//  4. Force-remove it, whatever happened in step 3
func (r *ContainerRenderer) Render(ctx context.Context, workDir string, job model.SnapshotJob) error {
	// The bind mount source must be absolute; the daemon resolves relative
	// paths against its own working directory, not ours.
	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	// Step 1: An explicit pull refreshes a stale local tag. It is done once
	// per run, not once per basin.
	if r.opts.Pull && !r.pulled {
		if err := r.pullImage(ctx); err != nil {
			return err
		}
	}

	// Step 2: Create the container. Labels are set after buildContainerSpec so
	// leftovers can be found with a label filter if removal ever fails.
	cfg, hostCfg := buildContainerSpec(r.opts.Image, r.opts.Bin, absDir, job, currentUser())
	cfg.Labels = BuildLabels(job, time.Now())

	id, err := r.createContainer(ctx, cfg, hostCfg)
	if err != nil {
		return fmt.Errorf("create container for %s: %w", job.Basin, err)
	}
	log := r.opts.Logger.WithFields(logrus.Fields{"basin": job.Basin, "container": shortID(id)})
	log.WithField("cmd", job.CommandLine(r.opts.Bin)).Debug("container created")

	// Step 4 is deferred so it runs on every path out of step 3. It uses a
	// fresh context: when the run is interrupted ctx is already cancelled,
	// and the container still has to go.
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.client.RemoveContainer(rmCtx, id); err != nil {
			log.WithError(err).Warn("failed to remove render container")
		}
	}()

	// Step 3: Run QGIS to completion. The exit status is the only signal
	// of success; the figure itself is never inspected.
	if err := r.client.StartContainer(ctx, id); err != nil {
		return fmt.Errorf("start container for %s: %w", job.Basin, err)
	}

	status, err := r.client.WaitContainer(ctx, id)
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("%s exited with status %d in container %s",
			r.opts.Bin, status, shortID(id))
	}

	log.Debug("container finished")
	return nil
}

// createContainer creates the render container. If the image is not
// available locally it is pulled once, the way `docker run` does, and the
// create is retried. Later renders reuse the pulled image.
func (r *ContainerRenderer) createContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	id, err := r.client.CreateContainer(ctx, cfg, hostCfg)
	if err == nil || r.pulled || !IsImageNotFound(err) {
		return id, err
	}

	r.opts.Logger.WithField("image", r.opts.Image).Info("image not found locally, pulling")
	if err := r.pullImage(ctx); err != nil {
		return "", err
	}
	return r.client.CreateContainer(ctx, cfg, hostCfg)
}

// pullImage pulls the configured image and records that it happened, so
// neither an explicit nor an on-demand pull repeats within a run.
func (r *ContainerRenderer) pullImage(ctx context.Context) error {
	r.opts.Logger.WithField("image", r.opts.Image).Debug("pulling image")

	if err := r.client.PullImage(ctx, r.opts.Image); err != nil {
		return err
	}
	r.pulled = true
	return nil
}

// buildContainerSpec returns the container and host configuration for a
// single render. user is "uid:gid" or empty to keep the image default.
func buildContainerSpec(img, bin, absDir string, job model.SnapshotJob, user string) (*container.Config, *container.HostConfig) {
	cmd := append([]string{"xvfb-run", "-a"}, job.Args(bin)...)

	cfg := &container.Config{
		Image:      img,
		Cmd:        cmd,
		WorkingDir: MountPoint,
		User:       user,
		Env: []string{
			"QT_QPA_PLATFORM=offscreen",
			"HOME=/tmp",
		},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: absDir,
				Target: MountPoint,
			},
		},
	}
	return cfg, hostCfg
}

// currentUser returns "uid:gid" of this process so the figures written to
// the bind mount are owned by the caller. Empty on platforms without uids.
func currentUser() string {
	uid, gid := os.Getuid(), os.Getgid()
	if uid < 0 || gid < 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", uid, gid)
}
