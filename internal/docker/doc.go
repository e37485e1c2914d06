// Package docker runs QGIS inside a container through the Docker Engine
// SDK.
//
// The container runtime is an alternative to a host QGIS installation. The
// working directory is bind-mounted into the container so the relative
// paths of a snapshot job resolve identically, and QGIS is started under
// xvfb-run because a container has no display.
//
// The package also provides automatic Docker socket detection across
// Linux, macOS and Windows.
package docker
