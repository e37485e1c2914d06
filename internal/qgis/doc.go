// Package qgis launches the QGIS desktop application in snapshot mode.
//
// QGIS is driven entirely through its command line:
//
//	qgis --snapshot <image.png> --project <project.qgs>
//
// The application loads the project, renders the map canvas to the
// image file and exits. This package treats it as an opaque process: it
// does not parse projects or inspect the produced image.
package qgis
