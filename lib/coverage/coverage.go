// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package coverage runs the instrumented build, the test suite, and
// the coverage extraction for a provisioned workspace.
//
// The three sub-steps are strictly ordered and each gates the next:
// no instrumentation data can exist without a successful instrumented
// build, and no report is extracted from a failed test run. The final
// report is written atomically (temp file + rename), so a report file
// exists on disk exactly when extraction succeeded — failed and
// cancelled runs leave nothing that could be mistaken for a complete
// report.
package coverage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/covpipe/covpipe/lib/process"
)

// rustflags is the instrumentation flag set for build and test. Each
// flag exists for coverage fidelity:
//
//   - -Zprofile: emit gcov-style profiling instrumentation
//   - -Ccodegen-units=1: stable coverage symbols across the binary
//   - -Copt-level=0: preserve line-level mapping
//   - -Clink-dead-code: unreachable code still gets coverage entries
//   - -Coverflow-checks=off: no spurious aborts unrelated to tests
//   - -Zpanic_abort_tests, -Cpanic=abort: a failing test aborts the
//     process instead of continuing with corrupted partial state
const rustflags = "-Zprofile -Ccodegen-units=1 -Copt-level=0 -Clink-dead-code " +
	"-Coverflow-checks=off -Zpanic_abort_tests -Cpanic=abort"

// Params configures one workspace's build/test/extract sequence.
type Params struct {
	// SourceDir is the checked-out source tree (cargo working
	// directory).
	SourceDir string

	// Toolchain selects the cargo toolchain (the `+nightly` form).
	// Empty uses the default toolchain.
	Toolchain string

	// CargoPath resolves cargo. Empty means PATH lookup.
	CargoPath string

	// GrcovPath is the fetched coverage tool executable.
	GrcovPath string

	// BinDir is prepended to PATH for the child processes, so tools
	// installed by the fetcher resolve ahead of anything on the host.
	BinDir string

	// OutputPath is the final report location. Must be absolute: the
	// report has to survive deletion of the ephemeral work directory.
	OutputPath string

	// BranchCoverage requests branch-level granularity.
	BranchCoverage bool

	// Ignore lists path patterns excluded from the report.
	Ignore []string

	// ExtraEnv adds or overrides environment variables on top of the
	// standard instrumentation set. Applied last.
	ExtraEnv map[string]string
}

// Runner executes the build/test/extract sub-steps.
type Runner struct {
	logger *slog.Logger
}

// New returns a Runner.
func New(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Build compiles the project with instrumentation flags active.
func (r *Runner) Build(ctx context.Context, params Params) error {
	r.logger.Info("building with instrumentation", "dir", params.SourceDir)

	exitCode, err := process.Run(ctx,
		process.Options{Dir: params.SourceDir, Env: buildEnv(params)},
		cargoPath(params), cargoArgs(params, "build")...)
	if err != nil {
		return fmt.Errorf("cargo build: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("cargo build exited with code %d", exitCode)
	}
	return nil
}

// Test runs the full suite under the same instrumented configuration.
// The abort-on-panic flags in the environment make a single failing
// test terminate the process immediately.
func (r *Runner) Test(ctx context.Context, params Params) error {
	r.logger.Info("running tests", "dir", params.SourceDir)

	exitCode, err := process.Run(ctx,
		process.Options{Dir: params.SourceDir, Env: buildEnv(params)},
		cargoPath(params), cargoArgs(params, "test")...)
	if err != nil {
		return fmt.Errorf("cargo test: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("cargo test exited with code %d", exitCode)
	}
	return nil
}

// Extract invokes grcov against the raw profiling data and writes the
// LCOV report to params.OutputPath. Returns the report path.
//
// grcov writes to a temp path first; the report is renamed into place
// only after grcov exits successfully. A failed extraction removes
// the partial file.
func (r *Runner) Extract(ctx context.Context, params Params) (string, error) {
	if params.GrcovPath == "" {
		return "", fmt.Errorf("grcov path is not set (tool fetch did not run?)")
	}
	if !filepath.IsAbs(params.OutputPath) {
		return "", fmt.Errorf("coverage output path %q is not absolute", params.OutputPath)
	}
	if err := os.MkdirAll(filepath.Dir(params.OutputPath), 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	partial := params.OutputPath + ".partial"

	args := []string{
		".",
		"--binary-path", "./target/debug/",
		"-s", ".",
		"-t", "lcov",
		"--ignore-not-existing",
	}
	if params.BranchCoverage {
		args = append(args, "--branch")
	}
	for _, pattern := range params.Ignore {
		args = append(args, "--ignore", pattern)
	}
	args = append(args, "-o", partial)

	r.logger.Info("extracting coverage report", "output", params.OutputPath)
	exitCode, err := process.Run(ctx,
		process.Options{Dir: params.SourceDir, Env: buildEnv(params)},
		params.GrcovPath, args...)
	if err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("grcov: %w", err)
	}
	if exitCode != 0 {
		os.Remove(partial)
		return "", fmt.Errorf("grcov exited with code %d", exitCode)
	}

	if _, err := os.Stat(partial); err != nil {
		return "", fmt.Errorf("grcov succeeded but wrote no report at %s: %w", partial, err)
	}
	if err := os.Rename(partial, params.OutputPath); err != nil {
		return "", fmt.Errorf("publishing report: %w", err)
	}

	return params.OutputPath, nil
}

func cargoPath(params Params) string {
	if params.CargoPath != "" {
		return params.CargoPath
	}
	return "cargo"
}

func cargoArgs(params Params, subcommand string) []string {
	var args []string
	if params.Toolchain != "" {
		args = append(args, "+"+params.Toolchain)
	}
	return append(args, subcommand)
}

// buildEnv assembles the child environment: the parent environment,
// then the instrumentation set, then BinDir on PATH, then ExtraEnv.
func buildEnv(params Params) []string {
	environ := os.Environ()

	environ = setEnv(environ, "CARGO_INCREMENTAL", "0")
	environ = setEnv(environ, "RUSTFLAGS", rustflags)
	// Doc-test and auxiliary binaries get the same panic semantics
	// for consistent instrumentation.
	environ = setEnv(environ, "RUSTDOCFLAGS", "-Cpanic=abort")

	if params.BinDir != "" {
		environ = setEnv(environ, "PATH", params.BinDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}

	if len(params.ExtraEnv) > 0 {
		// Deterministic order keeps runs byte-for-byte reproducible
		// even if a tool ever echoes its environment into the report.
		keys := make([]string, 0, len(params.ExtraEnv))
		for key := range params.ExtraEnv {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			environ = setEnv(environ, key, params.ExtraEnv[key])
		}
	}

	return environ
}

// setEnv returns environ with key set to value, replacing an existing
// entry if present.
func setEnv(environ []string, key, value string) []string {
	prefix := key + "="
	for index, entry := range environ {
		if strings.HasPrefix(entry, prefix) {
			environ[index] = prefix + value
			return environ
		}
	}
	return append(environ, prefix+value)
}
