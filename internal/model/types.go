package model

import (
	"fmt"
	"path"
	"strings"
)

// Directory and file names that make up the basin project layout:
//
//	<basin>/topo/setup.qgs          (input, QGIS project)
//	<basin>/topo/<basin>_figure.png (output, written by QGIS)
const (
	// TopoDir is the subdirectory of a basin holding the GIS project.
	TopoDir = "topo"

	// ProjectFile is the QGIS project definition rendered for each basin.
	ProjectFile = "setup.qgs"

	// FigureSuffix is appended to the basin name to form the output image name.
	FigureSuffix = "_figure.png"
)

// RuntimeKind selects how the QGIS renderer is launched.
type RuntimeKind string

const (
	// RuntimeExec runs the qgis binary found on the host.
	RuntimeExec RuntimeKind = "exec"

	// RuntimeDocker runs qgis inside a container with the working
	// directory bind-mounted.
	RuntimeDocker RuntimeKind = "docker"
)

// String returns the string representation of RuntimeKind.
func (r RuntimeKind) String() string {
	return string(r)
}

// IsValid checks whether the RuntimeKind is one of the supported runtimes.
func (r RuntimeKind) IsValid() bool {
	switch r {
	case RuntimeExec, RuntimeDocker:
		return true
	default:
		return false
	}
}

// ParseRuntimeKind converts a string to a RuntimeKind.
// Matching is case-insensitive. Returns an error for unknown runtimes.
func ParseRuntimeKind(s string) (RuntimeKind, error) {
	kind := RuntimeKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid runtime: %q (valid: exec, docker)", s)
	}
	return kind, nil
}

// Basin is a candidate directory: an immediate child of the working
// directory that holds a QGIS project at topo/setup.qgs.
type Basin struct {
	// Name is the directory name relative to the working directory.
	Name string
}

// ProjectPath returns the project file path relative to the working
// directory, e.g. "A/topo/setup.qgs".
func (b Basin) ProjectPath() string {
	return path.Join(b.Name, TopoDir, ProjectFile)
}

// DisplayProjectPath returns the project path in the "./A/topo/setup.qgs"
// form used by progress messages.
func (b Basin) DisplayProjectPath() string {
	return "./" + b.ProjectPath()
}

// FigurePath returns the output image path relative to the working
// directory, e.g. "A/topo/A_figure.png".
func (b Basin) FigurePath() string {
	return path.Join(b.Name, TopoDir, b.Name+FigureSuffix)
}

// Job builds the SnapshotJob that renders this basin.
func (b Basin) Job() SnapshotJob {
	return SnapshotJob{
		Basin:       b.Name,
		ProjectPath: b.ProjectPath(),
		OutputPath:  b.FigurePath(),
	}
}

// SnapshotJob is a single render request handed to a renderer.
// Both paths are relative to the working directory so the same job can
// run on the host or inside a container that mounts the directory.
type SnapshotJob struct {
	Basin       string `json:"basin"`
	ProjectPath string `json:"project"`
	OutputPath  string `json:"output"`
}

// Args returns the full argument vector for the given QGIS binary:
//
//	qgis --snapshot A/topo/A_figure.png --project A/topo/setup.qgs
func (j SnapshotJob) Args(bin string) []string {
	return []string{bin, "--snapshot", j.OutputPath, "--project", j.ProjectPath}
}

// CommandLine returns Args joined with spaces, for logging.
func (j SnapshotJob) CommandLine(bin string) string {
	return strings.Join(j.Args(bin), " ")
}

// Summary holds the counters of a single run.
type Summary struct {
	// Total is the number of candidates found at discovery time.
	Total int `json:"total"`

	// Completed counts render attempts, successful or not.
	Completed int `json:"completed"`

	// Failed counts attempts whose renderer reported an error.
	// Failed attempts are also counted in Completed.
	Failed int `json:"failed"`

	// Skipped counts candidates whose project file was gone when
	// their turn came.
	Skipped int `json:"skipped"`
}

// String renders the summary the way the final progress line does.
func (s Summary) String() string {
	return fmt.Sprintf("%d/%d", s.Completed, s.Total)
}

// ExitCode defines the CLI exit codes.
type ExitCode int

const (
	// ExitSuccess indicates the run finished. Swallowed render failures
	// still exit with ExitSuccess.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error, such as an
	// unreadable working directory or a broken config file.
	ExitGeneralError ExitCode = 1

	// ExitInvalidConfig indicates a flag, env or config value was rejected.
	ExitInvalidConfig ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible
	// when the docker runtime was requested.
	ExitDockerNotRunning ExitCode = 3

	// ExitInterrupted indicates the run was cancelled by a signal.
	ExitInterrupted ExitCode = 130
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
