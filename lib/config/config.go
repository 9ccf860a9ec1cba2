// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for covpipe.
//
// Configuration is loaded from a single file specified by:
//   - COVPIPE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable runs with no hidden overrides. The file may
// be YAML (covpipe.yaml) or JSONC (covpipe.jsonc); comments are
// allowed in both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a covpipe pipeline.
type Config struct {
	// Repository identifies the project under coverage.
	Repository RepositoryConfig `yaml:"repository"`

	// Triggers holds the per-event branch filters. Absent or empty
	// filters leave the pipeline dormant for that event type.
	Triggers TriggersConfig `yaml:"triggers"`

	// Toolchain is the Rust toolchain to provision.
	Toolchain ToolchainConfig `yaml:"toolchain"`

	// Tool describes the pinned grcov download.
	Tool ToolConfig `yaml:"tool"`

	// Coverage configures the build/test/extract runner.
	Coverage CoverageConfig `yaml:"coverage"`

	// Publish configures the optional report upload. Disabled by
	// default — the pipeline's own outcome never depends on it.
	Publish PublishConfig `yaml:"publish"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Binaries overrides PATH resolution for host tools. Hermetic
	// binary paths independent of user PATH.
	Binaries BinariesConfig `yaml:"binaries"`
}

// RepositoryConfig identifies the repository to build.
type RepositoryConfig struct {
	// URL is the git clone URL.
	URL string `yaml:"url"`

	// DefaultRef is checked out when a run does not name a commit.
	// Default: HEAD of the clone's default branch.
	DefaultRef string `yaml:"default_ref"`
}

// TriggersConfig holds branch filter patterns per event type.
// Patterns use path.Match syntax ("main", "release/*").
type TriggersConfig struct {
	Push        []string `yaml:"push"`
	PullRequest []string `yaml:"pull_request"`
}

// ToolchainConfig is the desired Rust toolchain.
type ToolchainConfig struct {
	// Channel is the toolchain channel ("nightly", "stable",
	// "nightly-2024-01-15").
	Channel string `yaml:"channel"`

	// Components are rustup component names installed alongside the
	// toolchain (e.g. llvm-tools-preview). Unrecognized names fail
	// provisioning.
	Components []string `yaml:"components"`
}

// ToolConfig describes the coverage tool download.
type ToolConfig struct {
	// Name is the executable name expected inside the archive.
	Name string `yaml:"name"`

	// Version is the exact pinned version (no "v" prefix, no
	// "latest"). Reproducibility across runs depends on this.
	Version string `yaml:"version"`

	// URL is the download template. {version} and {target} are
	// replaced at fetch time.
	URL string `yaml:"url"`

	// Format is the archive format: tar.bz2, tar.gz, tar.zst, tar.lz4.
	Format string `yaml:"format"`

	// Target overrides the platform triple substituted into URL.
	// Default: derived from the host platform.
	Target string `yaml:"target"`

	// Checksum is the optional hex BLAKE3 digest of the archive.
	// When set, a mismatched download fails the run.
	Checksum string `yaml:"checksum"`

	// CacheDir enables the content-addressed download cache when
	// non-empty. Caching never changes observable behavior: a cache
	// hit requires a configured checksum.
	CacheDir string `yaml:"cache_dir"`
}

// CoverageConfig configures instrumentation and extraction.
type CoverageConfig struct {
	// Output is the coverage report path. Relative paths resolve
	// against the invoking directory, not the ephemeral work
	// directory, so the report outlives the run.
	Output string `yaml:"output"`

	// Branch enables branch-level coverage in the report.
	Branch bool `yaml:"branch"`

	// Ignore lists path patterns excluded from the report (vendored
	// and absolute system paths).
	Ignore []string `yaml:"ignore"`

	// Env adds or overrides build/test environment variables on top
	// of the standard instrumentation set.
	Env map[string]string `yaml:"env"`
}

// PublishConfig configures the optional report publisher.
type PublishConfig struct {
	// Enabled turns uploading on. Default false: the publisher is an
	// external collaborator, not part of the pipeline contract.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the upload URL.
	Endpoint string `yaml:"endpoint"`

	// TokenEnv names the environment variable holding the upload
	// token. The token itself never appears in config files.
	TokenEnv string `yaml:"token_env"`

	// Flag is the coverage flag name attached to the upload.
	Flag string `yaml:"flag"`

	// Name is the display name attached to the upload.
	Name string `yaml:"name"`

	// FailOnError makes a failed upload fail the run. Default false:
	// publishing is best-effort.
	FailOnError bool `yaml:"fail_on_error"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// WorkRoot is where per-run ephemeral directories are created.
	// Each run gets its own subdirectory; concurrent runs never share
	// filesystem state.
	WorkRoot string `yaml:"work_root"`
}

// BinariesConfig overrides host tool resolution. Empty fields resolve
// via PATH.
type BinariesConfig struct {
	Git    string `yaml:"git"`
	Rustup string `yaml:"rustup"`
	Cargo  string `yaml:"cargo"`
}

// Default returns the default configuration. These defaults ensure all
// fields have sensible values before the config file is applied — the
// file is still required, and repository.url has no default.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Toolchain: ToolchainConfig{
			Channel:    "nightly",
			Components: []string{"llvm-tools-preview"},
		},
		Tool: ToolConfig{
			Name:    "grcov",
			Version: "0.8.10",
			URL:     "https://github.com/mozilla/grcov/releases/download/v{version}/grcov-{target}.tar.bz2",
			Format:  "tar.bz2",
		},
		Coverage: CoverageConfig{
			Output: "lcov.info",
			Branch: true,
			Ignore: []string{"/*", "../*"},
		},
		Paths: PathsConfig{
			WorkRoot: filepath.Join(homeDir, ".cache", "covpipe", "runs"),
		},
	}
}

// Load loads configuration from the COVPIPE_CONFIG environment
// variable. There are no fallbacks — if COVPIPE_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("COVPIPE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("COVPIPE_CONFIG environment variable not set; " +
			"set it to the path of your covpipe.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values. The only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	configuration := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// JSONC configs are stripped to plain JSON first; JSON is a YAML
	// subset, so one unmarshal path serves both formats.
	if strings.HasSuffix(path, ".jsonc") || strings.HasSuffix(path, ".json") {
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, configuration); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	configuration.expandVariables()
	return configuration, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	c.Paths.WorkRoot = expandVars(c.Paths.WorkRoot)
	c.Tool.CacheDir = expandVars(c.Tool.CacheDir)
	c.Coverage.Output = expandVars(c.Coverage.Output)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// archiveFormats are the supported tool archive formats.
var archiveFormats = []string{"tar.bz2", "tar.gz", "tar.zst", "tar.lz4"}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Repository.URL == "" {
		errs = append(errs, fmt.Errorf("repository.url is required"))
	}

	if c.Toolchain.Channel == "" {
		errs = append(errs, fmt.Errorf("toolchain.channel is required"))
	}
	for index, component := range c.Toolchain.Components {
		if strings.TrimSpace(component) == "" {
			errs = append(errs, fmt.Errorf("toolchain.components[%d] is empty", index))
		}
	}

	if c.Tool.Name == "" {
		errs = append(errs, fmt.Errorf("tool.name is required"))
	}
	switch c.Tool.Version {
	case "":
		errs = append(errs, fmt.Errorf("tool.version is required"))
	case "latest":
		// Pinned exactly — implicit "latest" resolution would break
		// run-to-run reproducibility.
		errs = append(errs, fmt.Errorf("tool.version must be an exact version, not \"latest\""))
	}
	if c.Tool.URL == "" {
		errs = append(errs, fmt.Errorf("tool.url is required"))
	}
	if !contains(archiveFormats, c.Tool.Format) {
		errs = append(errs, fmt.Errorf("tool.format must be one of: %v", archiveFormats))
	}

	if c.Coverage.Output == "" {
		errs = append(errs, fmt.Errorf("coverage.output is required"))
	}

	if c.Publish.Enabled && c.Publish.Endpoint == "" {
		errs = append(errs, fmt.Errorf("publish.endpoint is required when publish.enabled is true"))
	}

	if c.Paths.WorkRoot == "" {
		errs = append(errs, fmt.Errorf("paths.work_root is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
