package basin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shinji-kodama/basin-snapshots/internal/model"
)

// Discover lists the immediate entries of workDir and returns the ones
// holding a project file, in lexical order.
//
// Entries are not required to be directories up front: a plain file can
// never contain topo/setup.qgs, so the project check filters it out.
// Entries without the project file are excluded from the result entirely.
//
// An error is returned only when workDir itself cannot be read.
func Discover(workDir string) ([]model.Basin, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", workDir, err)
	}

	basins := make([]model.Basin, 0, len(entries))
	for _, entry := range entries {
		b := model.Basin{Name: entry.Name()}
		if HasProject(workDir, b) {
			basins = append(basins, b)
		}
	}
	return basins, nil
}

// HasProject reports whether b's project file exists under workDir as a
// regular file. Symlinks are followed.
func HasProject(workDir string, b model.Basin) bool {
	info, err := os.Stat(filepath.Join(workDir, filepath.FromSlash(b.ProjectPath())))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
