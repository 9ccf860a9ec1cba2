// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/covpipe/covpipe/cmd/covpipe/commands"
	"github.com/covpipe/covpipe/lib/process"
)

func main() {
	if err := run(); err != nil {
		// Commands that already produced their own output (like a
		// failed pipeline run, which logs every step) return an
		// ExitError with the desired exit code. Don't print a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
