// Package cli implements the cobra-based command line for create-snapshots.
//
// The tool has a single command: invoked with no arguments it renders a
// snapshot for every basin under the current directory. This file defines
// that root command, its global flags and error reporting; snapshot.go
// holds the run itself.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/basin-snapshots/internal/model"
)

// Global flag variables.
var (
	// jsonOutput prints the run summary and errors as JSON.
	jsonOutput bool

	// verbose enables debug logging on stderr.
	verbose bool
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
func NewRootCommand() *cobra.Command {
	flags := &snapshotFlags{}

	rootCmd := &cobra.Command{
		Use:   "create-snapshots",
		Short: "Render a QGIS snapshot figure for every basin project",
		Long: `create-snapshots scans the immediate subdirectories of the working
directory for basin projects (<basin>/topo/setup.qgs) and runs QGIS in
snapshot mode on each, writing <basin>/topo/<basin>_figure.png.

Basins are rendered one at a time. A failed render does not stop the run
and still counts toward the completed total.

Run it from the top level of the basins repository:
  create-snapshots
  create-snapshots --qgis-bin qgis-ltr --timeout 5m
  create-snapshots --runtime docker --image qgis/qgis:3.34`,

		Args: cobra.NoArgs,

		// Errors are printed by Execute, in text or JSON.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshots(cmd, flags)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output the summary in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	registerSnapshotFlags(rootCmd, flags)

	return rootCmd
}

// Execute runs the root command and handles exit codes. SIGINT and SIGTERM
// cancel the command context, which stops the in-flight renderer.
//
// CLIError types carry their own exit codes; other errors exit with 1.
func Execute(rootCmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}
	stop()

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(os.Stderr, cliErr.Message, cliErr.Err)
		os.Exit(int(cliErr.Code))
	}

	printError(os.Stderr, err.Error(), nil)
	os.Exit(int(model.ExitGeneralError))
}

// printError writes an error message to w as JSON or as an "Error:" line,
// depending on the --json flag.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	prefix := color.New(color.FgRed, color.Bold).Sprint("Error:")
	if underlying != nil {
		fmt.Fprintf(w, "%s %s: %v\n", prefix, message, underlying)
	} else {
		fmt.Fprintf(w, "%s %s\n", prefix, message)
	}
}

// newLogger returns the logger shared by the run. Logs go to w (stderr in
// practice) so stdout carries nothing but progress lines.
func newLogger(w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	logger.SetLevel(logrus.WarnLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}
