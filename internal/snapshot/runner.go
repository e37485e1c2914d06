package snapshot

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/basin-snapshots/internal/basin"
	"github.com/shinji-kodama/basin-snapshots/internal/model"
)

// Renderer produces the figure for a single job. Job paths are relative
// to workDir.
type Renderer interface {
	Render(ctx context.Context, workDir string, job model.SnapshotJob) error
}

// Options configures a Runner.
type Options struct {
	// Out receives the progress lines. Required.
	Out io.Writer

	// Logger receives debug logs. Nil discards them.
	Logger logrus.FieldLogger

	// Timeout bounds each render. Zero means no limit.
	Timeout time.Duration
}

// Runner walks the basins of a working directory and renders each one.
type Runner struct {
	renderer Renderer
	out      io.Writer
	logger   logrus.FieldLogger
	timeout  time.Duration
}

// NewRunner creates a Runner that renders with r.
func NewRunner(r Renderer, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		renderer: r,
		out:      out,
		logger:   logger,
		timeout:  opts.Timeout,
	}
}

// Run discovers the basins under workDir and renders them in order.
//
// The progress output is:
//
//	Generating 2 basin figures...
//	Creating Snapshot of A...
//	Skipping B, ./B/topo/setup.qgs file not found...
//	Completed snapshots of 1/2 requested
//
// Run returns an error only when workDir cannot be listed or ctx was
// cancelled. In the latter case the summary line is still printed and the
// returned Summary reflects the basins processed so far.
func (r *Runner) Run(ctx context.Context, workDir string) (model.Summary, error) {
	// Step 1: Fix the candidate list up front. Its size is the denominator
	// of the final summary, even if projects disappear later.
	basins, err := basin.Discover(workDir)
	if err != nil {
		return model.Summary{}, model.WrapCLIError(model.ExitGeneralError,
			"cannot scan working directory for basins", err)
	}

	summary := model.Summary{Total: len(basins)}
	fmt.Fprintf(r.out, "Generating %d basin figures...\n", summary.Total)

	// Step 2: Render the candidates one at a time. Each render blocks until
	// QGIS exits (or the per-render timeout kills it).
	for _, b := range basins {
		// A cancelled run stops between basins; the basin in flight has
		// already been counted by the time we get here.
		if ctx.Err() != nil {
			break
		}

		// The project may have been removed while earlier basins rendered.
		if !basin.HasProject(workDir, b) {
			fmt.Fprintf(r.out, "Skipping %s, %s file not found...\n", b.Name, b.DisplayProjectPath())
			summary.Skipped++
			continue
		}

		// Render failures are not fatal and never reach stdout. An attempt
		// counts as completed whether or not QGIS succeeded.
		fmt.Fprintf(r.out, "Creating Snapshot of %s...\n", b.Name)
		if err := r.render(ctx, workDir, b.Job()); err != nil {
			summary.Failed++
		}
		summary.Completed++
	}

	// Step 3: The summary line is printed on every path, including an
	// interrupted run, so the output always ends with completed/total.
	fmt.Fprintf(r.out, "Completed snapshots of %s requested\n", summary)

	if err := ctx.Err(); err != nil {
		return summary, model.WrapCLIError(model.ExitInterrupted, "snapshot run interrupted", err)
	}
	return summary, nil
}

// render runs a single job under the per-render timeout. Failures are
// logged at debug level and returned for counting only.
func (r *Runner) render(ctx context.Context, workDir string, job model.SnapshotJob) error {
	// The timeout bounds each render separately; a hung QGIS only loses
	// its own basin.
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log := r.logger.WithFields(logrus.Fields{
		"basin":   job.Basin,
		"project": job.ProjectPath,
		"output":  job.OutputPath,
	})
	log.Debug("rendering snapshot")

	start := time.Now()
	err := r.renderer.Render(ctx, workDir, job)
	if err != nil {
		log.WithError(err).Debug("snapshot failed, continuing")
		return err
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Debug("snapshot rendered")
	return nil
}
