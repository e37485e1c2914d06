// Package config loads the create-snapshots configuration.
//
// Values are layered, later layers winning:
//
//  1. built-in defaults
//  2. a config file (YAML, or JSON with comments)
//  3. SNAPSHOT_* environment variables
//  4. command-line flags (applied by the cli package)
//
// With no file, no environment and no flags the defaults reproduce the
// plain behaviour: run the host's qgis binary on the current directory.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/basin-snapshots/internal/model"
)

// DefaultFileName is the config file picked up from the working directory
// when no explicit path is given.
const DefaultFileName = ".snapshots.yaml"

// DefaultImage is the container image used by the docker runtime.
const DefaultImage = "qgis/qgis:latest"

// Config holds the resolved settings for a run.
type Config struct {
	// QGISBin is the renderer binary (exec runtime) or the command run
	// inside the container (docker runtime).
	QGISBin string `env:"SNAPSHOT_QGIS_BIN"`

	// Runtime is "exec" or "docker".
	Runtime string `env:"SNAPSHOT_RUNTIME"`

	// Image is the container image for the docker runtime.
	Image string `env:"SNAPSHOT_IMAGE"`

	// Pull requests an image pull before the first docker render.
	Pull bool `env:"SNAPSHOT_PULL"`

	// Timeout bounds each render. Zero disables it.
	Timeout time.Duration `env:"SNAPSHOT_TIMEOUT"`
}

// fileConfig mirrors Config as it appears on disk. Pointer fields tell an
// omitted key apart from an explicit zero value.
type fileConfig struct {
	QGISBin string `yaml:"qgis_bin" json:"qgis_bin"`
	Runtime string `yaml:"runtime" json:"runtime"`
	Image   string `yaml:"image" json:"image"`
	Pull    *bool  `yaml:"pull" json:"pull"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		QGISBin: "qgis",
		Runtime: model.RuntimeExec.String(),
		Image:   DefaultImage,
	}
}

// Load resolves the configuration for a run in workDir.
//
// If path is empty, workDir/.snapshots.yaml is read when it exists. An
// explicit path must exist. Environment variables are applied last.
func Load(workDir, path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(workDir, DefaultFileName)
	}

	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, model.WrapCLIError(model.ExitGeneralError,
				fmt.Sprintf("failed to load config %s", path), err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, model.WrapCLIError(model.ExitInvalidConfig,
			"invalid SNAPSHOT_* environment variable", err)
	}

	return cfg, nil
}

// mergeFile overlays the values set in the file at path onto c.
// The format is chosen by extension: .json and .jsonc are JSON with
// comments, everything else is YAML.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &fc); err != nil {
			return fmt.Errorf("parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parse YAML: %w", err)
		}
	}

	if fc.QGISBin != "" {
		c.QGISBin = fc.QGISBin
	}
	if fc.Runtime != "" {
		c.Runtime = fc.Runtime
	}
	if fc.Image != "" {
		c.Image = fc.Image
	}
	if fc.Pull != nil {
		c.Pull = *fc.Pull
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", fc.Timeout, err)
		}
		c.Timeout = d
	}
	return nil
}

// Validate checks the resolved configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.QGISBin) == "" {
		return model.NewCLIError(model.ExitInvalidConfig, "qgis binary must not be empty")
	}
	kind, err := model.ParseRuntimeKind(c.Runtime)
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidConfig, "invalid runtime", err)
	}
	if kind == model.RuntimeDocker && strings.TrimSpace(c.Image) == "" {
		return model.NewCLIError(model.ExitInvalidConfig, "docker runtime requires an image")
	}
	if c.Timeout < 0 {
		return model.NewCLIError(model.ExitInvalidConfig,
			fmt.Sprintf("timeout must not be negative, got %s", c.Timeout))
	}
	return nil
}

// RuntimeKind returns the parsed runtime. Call Validate first; an invalid
// runtime falls back to exec.
func (c Config) RuntimeKind() model.RuntimeKind {
	kind, err := model.ParseRuntimeKind(c.Runtime)
	if err != nil {
		return model.RuntimeExec
	}
	return kind
}
