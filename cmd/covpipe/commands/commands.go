// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete covpipe CLI command tree.
package commands

import (
	"fmt"

	"github.com/covpipe/covpipe/cmd/covpipe/cli"
	"github.com/covpipe/covpipe/lib/version"
)

// Root builds and returns the covpipe command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "covpipe",
		Description: `covpipe: coverage pipeline runner.

Provisions a pinned Rust toolchain, builds and tests a repository with
profiling instrumentation, and extracts an LCOV coverage report with a
pinned grcov release.`,
		Subcommands: []*cli.Command{
			runCommand(),
			validateCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("covpipe %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
