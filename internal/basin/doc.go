// Package basin discovers basin project directories.
//
// A basin is any immediate subdirectory of the working directory that
// contains a QGIS project at topo/setup.qgs. Discovery is a single
// non-recursive directory listing; nested basins are not considered.
package basin
