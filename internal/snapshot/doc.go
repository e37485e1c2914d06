// Package snapshot implements the snapshot run: discover basins in a
// working directory and render one QGIS figure per basin, strictly one
// after another.
//
// Render failures never abort a run. Each attempt counts as completed
// whether or not the renderer succeeded; only a project file that has
// disappeared since discovery is skipped without counting.
package snapshot
