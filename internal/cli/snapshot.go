package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/basin-snapshots/internal/config"
	"github.com/shinji-kodama/basin-snapshots/internal/docker"
	"github.com/shinji-kodama/basin-snapshots/internal/model"
	"github.com/shinji-kodama/basin-snapshots/internal/qgis"
	"github.com/shinji-kodama/basin-snapshots/internal/snapshot"
)

// snapshotFlags holds the flag values for the root command.
type snapshotFlags struct {
	dir        string        // --dir: working directory to scan
	configPath string        // --config: YAML or JSONC config file
	qgisBin    string        // --qgis-bin: renderer binary
	runtime    string        // --runtime: exec or docker
	image      string        // --image: container image for docker
	pull       bool          // --pull: pull the image first
	timeout    time.Duration // --timeout: per-snapshot limit
}

func registerSnapshotFlags(cmd *cobra.Command, flags *snapshotFlags) {
	defaults := config.Default()

	cmd.Flags().StringVar(&flags.dir, "dir", ".", "Directory containing the basin folders")
	cmd.Flags().StringVar(&flags.configPath, "config", "",
		"Config file (YAML or JSONC; default ./"+config.DefaultFileName+" if present)")
	cmd.Flags().StringVar(&flags.qgisBin, "qgis-bin", defaults.QGISBin, "QGIS binary to run")
	cmd.Flags().StringVar(&flags.runtime, "runtime", defaults.Runtime, "Where to run QGIS: exec or docker")
	cmd.Flags().StringVar(&flags.image, "image", defaults.Image, "Container image for the docker runtime")
	cmd.Flags().BoolVar(&flags.pull, "pull", false, "Pull the container image before rendering")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Per-snapshot timeout (0 = none)")
}

// runSnapshots resolves the configuration, builds the renderer and runs
// the snapshot loop over the working directory.
func runSnapshots(cmd *cobra.Command, flags *snapshotFlags) error {
	ctx := cmd.Context()

	// Step 1: Resolve configuration (defaults < file < env < flags).
	cfg, err := config.Load(flags.dir, flags.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, flags, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr())
	logger.WithFields(logrus.Fields{
		"dir":     flags.dir,
		"runtime": cfg.Runtime,
		"bin":     cfg.QGISBin,
	}).Debug("starting snapshot run")

	// Step 2: Build the renderer for the selected runtime.
	renderer, closeRenderer, err := newRenderer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRenderer()

	// Step 3: Render every basin.
	runner := snapshot.NewRunner(renderer, snapshot.Options{
		Out:     cmd.OutOrStdout(),
		Logger:  logger,
		Timeout: cfg.Timeout,
	})
	summary, runErr := runner.Run(ctx, flags.dir)
	if runErr != nil && !isInterrupted(runErr) {
		return runErr
	}

	// Step 4: An interrupted run still reports the basins it got through
	// before the interrupt is returned as the exit code.
	if IsJSONOutput() {
		printSummaryJSON(cmd.OutOrStdout(), summary)
	}
	return runErr
}

// isInterrupted reports whether err is the runner's cancellation error.
func isInterrupted(err error) bool {
	var cliErr *model.CLIError
	return errors.As(err, &cliErr) && cliErr.Code == model.ExitInterrupted
}

// applyFlags overlays the flags the user set explicitly onto cfg.
// Unset flags leave file and environment values alone.
func applyFlags(cmd *cobra.Command, flags *snapshotFlags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("qgis-bin") {
		cfg.QGISBin = flags.qgisBin
	}
	if changed("runtime") {
		cfg.Runtime = flags.runtime
	}
	if changed("image") {
		cfg.Image = flags.image
	}
	if changed("pull") {
		cfg.Pull = flags.pull
	}
	if changed("timeout") {
		cfg.Timeout = flags.timeout
	}
}

// newRenderer returns the renderer for cfg's runtime and a function that
// releases its resources.
func newRenderer(ctx context.Context, cfg config.Config, logger *logrus.Logger) (snapshot.Renderer, func(), error) {
	switch cfg.RuntimeKind() {
	case model.RuntimeDocker:
		c, err := docker.NewClient()
		if err != nil {
			return nil, nil, err
		}
		if err := c.Ping(ctx); err != nil {
			_ = c.Close()
			return nil, nil, err
		}
		logger.Debug("connected to Docker daemon")

		r := docker.NewContainerRenderer(c, docker.RendererOptions{
			Image:  cfg.Image,
			Bin:    cfg.QGISBin,
			Pull:   cfg.Pull,
			Logger: logger,
		})
		return r, func() { _ = c.Close() }, nil

	default:
		return qgis.NewExecRenderer(cfg.QGISBin, logger), func() {}, nil
	}
}

// printSummaryJSON writes the run summary as indented JSON.
func printSummaryJSON(w io.Writer, summary model.Summary) {
	data, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Fprintln(w, string(data))
}
