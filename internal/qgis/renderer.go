package qgis

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/basin-snapshots/internal/model"
)

// DefaultBin is the renderer binary looked up on PATH when none is configured.
const DefaultBin = "qgis"

// waitDelay bounds how long Render waits for the output pipes to close after
// the process was killed. QGIS may leave helper processes holding them.
const waitDelay = 2 * time.Second

// ExecRenderer runs a QGIS binary on the host, one process per job.
type ExecRenderer struct {
	bin    string
	logger logrus.FieldLogger
}

// NewExecRenderer creates an ExecRenderer for bin. An empty bin means
// DefaultBin. A nil logger discards log output.
func NewExecRenderer(bin string, logger logrus.FieldLogger) *ExecRenderer {
	if bin == "" {
		bin = DefaultBin
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &ExecRenderer{bin: bin, logger: logger}
}

// Bin returns the binary this renderer invokes.
func (r *ExecRenderer) Bin() string {
	return r.bin
}

// Render runs QGIS for job with workDir as the process directory, so the
// job's relative paths resolve against it. Combined output is captured and
// only surfaces in the returned error and debug log.
func (r *ExecRenderer) Render(ctx context.Context, workDir string, job model.SnapshotJob) error {
	args := job.Args(r.bin)
	log := r.logger.WithFields(logrus.Fields{
		"basin": job.Basin,
		"cmd":   job.CommandLine(r.bin),
	})
	log.Debug("running qgis")

	// #nosec G204 -- binary comes from configuration, paths from directory names
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.WaitDelay = waitDelay

	output, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(output))
	if trimmed != "" {
		log.Debugf("qgis output: %s", trimmed)
	}
	if err != nil {
		if trimmed != "" {
			return fmt.Errorf("%s failed: %s: %w", r.bin, trimmed, err)
		}
		return fmt.Errorf("%s failed: %w", r.bin, err)
	}
	return nil
}
