package docker

import (
	"time"

	"github.com/shinji-kodama/basin-snapshots/internal/model"
)

// Label keys applied to every render container so stray containers can be
// found with `docker ps -a --filter label=basin-snapshots.managed-by`.
const (
	// LabelPrefix is the common prefix for all labels set by this tool.
	LabelPrefix = "basin-snapshots."

	// LabelManagedBy identifies containers started by create-snapshots.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelBasin stores the basin being rendered.
	LabelBasin = LabelPrefix + "basin"

	// LabelProject stores the project path relative to the mount.
	LabelProject = LabelPrefix + "project"

	// LabelStartedAt stores the RFC3339 time the render was requested.
	LabelStartedAt = LabelPrefix + "started-at"
)

// ManagedByValue is the value of LabelManagedBy.
const ManagedByValue = "create-snapshots"

// BuildLabels returns the container labels for job.
func BuildLabels(job model.SnapshotJob, now time.Time) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelBasin:     job.Basin,
		LabelProject:   job.ProjectPath,
		LabelStartedAt: now.UTC().Format(time.RFC3339),
	}
}
