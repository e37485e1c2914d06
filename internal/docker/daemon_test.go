package docker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/basin-snapshots/internal/model"
)

// testContainerID is the ID the fake daemon hands out for every create.
const testContainerID = "3f1c2a9b8d7e6f5a4b3c2d1e0f9a8b7c6d5e4f3a2b1c0d9e8f7a6b5c4d3e2f1a"

// versionPrefix matches the "/v1.41" prefix the SDK puts on API paths.
var versionPrefix = regexp.MustCompile(`^/v[0-9.]+`)

// fakeDaemon is a minimal Docker Engine API served over httptest. It
// implements just the endpoints ContainerRenderer uses and records every
// request as "METHOD /path" (plus the query for DELETE).
type fakeDaemon struct {
	mu       sync.Mutex
	requests []string

	// imageMissing makes create answer 404 "No such image" until a pull.
	imageMissing bool

	// exitCode is the StatusCode returned by the wait endpoint.
	exitCode int

	// waitFails makes the wait endpoint answer 500.
	waitFails bool
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := versionPrefix.ReplaceAllString(r.URL.Path, "")

	d.mu.Lock()
	defer d.mu.Unlock()

	if path != "/_ping" {
		entry := r.Method + " " + path
		if r.Method == http.MethodDelete {
			entry += "?" + r.URL.RawQuery
		}
		d.requests = append(d.requests, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case path == "/_ping":
		w.Header().Set("API-Version", "1.41")
		w.Header().Set("OSType", "linux")
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPost && path == "/images/create":
		d.imageMissing = false
		fmt.Fprint(w, `{"status":"Pull complete"}`)

	case r.Method == http.MethodPost && path == "/containers/create":
		if d.imageMissing {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"No such image: qgis/qgis:latest"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"Id":%q,"Warnings":[]}`, testContainerID)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/start"):
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/wait"):
		if d.waitFails {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"message":"container wait failed"}`)
			return
		}
		fmt.Fprintf(w, `{"StatusCode":%d}`, d.exitCode)

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/containers/"):
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"message":"unexpected request %s %s"}`, r.Method, path)
	}
}

// Requests returns a copy of the recorded requests.
func (d *fakeDaemon) Requests() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.requests...)
}

// count returns how many recorded requests equal entry.
func (d *fakeDaemon) count(entry string) int {
	n := 0
	for _, r := range d.Requests() {
		if r == entry {
			n++
		}
	}
	return n
}

// newTestRenderer starts d and returns a ContainerRenderer connected to it.
func newTestRenderer(t *testing.T, d *fakeDaemon, pull bool) *ContainerRenderer {
	t.Helper()

	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	c, err := newClientWithHost("tcp://" + strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return NewContainerRenderer(c, RendererOptions{
		Image: "qgis/qgis:latest",
		Pull:  pull,
	})
}

const removeRequest = "DELETE /containers/" + testContainerID + "?force=1"

// TestRender_Success verifies the full create/start/wait/remove sequence
// for a container that exits 0.
func TestRender_Success(t *testing.T) {
	d := &fakeDaemon{}
	r := newTestRenderer(t, d, false)

	err := r.Render(context.Background(), t.TempDir(), model.Basin{Name: "A"}.Job())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"POST /containers/create",
		"POST /containers/" + testContainerID + "/start",
		"POST /containers/" + testContainerID + "/wait",
		removeRequest,
	}, d.Requests())
}

// TestRender_NonZeroExit verifies that a failing QGIS inside the container
// is reported, and the container is still removed.
func TestRender_NonZeroExit(t *testing.T) {
	d := &fakeDaemon{exitCode: 3}
	r := newTestRenderer(t, d, false)

	err := r.Render(context.Background(), t.TempDir(), model.Basin{Name: "A"}.Job())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 3")
	assert.Equal(t, 1, d.count(removeRequest))
}

// TestRender_WaitErrorStillRemoves verifies that the container is removed
// when waiting on it fails.
func TestRender_WaitErrorStillRemoves(t *testing.T) {
	d := &fakeDaemon{waitFails: true}
	r := newTestRenderer(t, d, false)

	err := r.Render(context.Background(), t.TempDir(), model.Basin{Name: "A"}.Job())
	require.Error(t, err)
	assert.Equal(t, 1, d.count(removeRequest))
}

// TestRender_ExplicitPullOnce verifies that Pull fetches the image once
// per renderer, not once per basin.
func TestRender_ExplicitPullOnce(t *testing.T) {
	d := &fakeDaemon{}
	r := newTestRenderer(t, d, true)

	for _, name := range []string{"A", "B"} {
		require.NoError(t, r.Render(context.Background(), t.TempDir(), model.Basin{Name: name}.Job()))
	}

	assert.Equal(t, 1, d.count("POST /images/create"))
	assert.Equal(t, "POST /images/create", d.Requests()[0])
	assert.Equal(t, 2, d.count(removeRequest))
}

// TestRender_PullsMissingImage verifies that a missing image is pulled on
// demand without --pull, and the create is retried.
func TestRender_PullsMissingImage(t *testing.T) {
	d := &fakeDaemon{imageMissing: true}
	r := newTestRenderer(t, d, false)

	for _, name := range []string{"A", "B"} {
		require.NoError(t, r.Render(context.Background(), t.TempDir(), model.Basin{Name: name}.Job()))
	}

	reqs := d.Requests()
	require.GreaterOrEqual(t, len(reqs), 3)
	assert.Equal(t, []string{
		"POST /containers/create",
		"POST /images/create",
		"POST /containers/create",
	}, reqs[:3])
	assert.Equal(t, 1, d.count("POST /images/create"))
	assert.Equal(t, 2, d.count(removeRequest))
}

// TestIsImageNotFound verifies that the daemon's 404 on create is
// recognised as a missing image.
func TestIsImageNotFound(t *testing.T) {
	d := &fakeDaemon{imageMissing: true}
	r := newTestRenderer(t, d, false)

	cfg, hostCfg := buildContainerSpec("qgis/qgis:latest", "qgis", t.TempDir(), model.Basin{Name: "A"}.Job(), "")
	_, err := r.client.CreateContainer(context.Background(), cfg, hostCfg)
	require.Error(t, err)
	assert.True(t, IsImageNotFound(err))
}

func TestSocketCandidates(t *testing.T) {
	assert.Equal(t, []string{"/var/run/docker.sock"}, socketCandidates("linux", "/home/ada"))
	assert.Equal(t, []string{
		"/var/run/docker.sock",
		"/Users/ada/.docker/run/docker.sock",
	}, socketCandidates("darwin", "/Users/ada"))
	assert.Equal(t, []string{"/var/run/docker.sock"}, socketCandidates("darwin", ""))
	assert.Empty(t, socketCandidates("plan9", "/usr/ada"))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "3f1c2a9b8d7e", shortID(testContainerID))
	assert.Equal(t, "abc", shortID("abc"))
}
