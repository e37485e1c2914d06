// Package model defines the domain types and value objects for the
// create-snapshots CLI.
//
// This package contains pure data structures with no external dependencies.
// Basins and snapshot jobs are derived from the working directory layout on
// every run; nothing is persisted between runs.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
