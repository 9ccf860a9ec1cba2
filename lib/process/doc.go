// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides child process execution for pipeline steps.
//
// Every pipeline step is a blocking child process (git, rustup, cargo,
// grcov). Run executes one and returns its exit code; the process runs
// in its own process group so that context cancellation kills the
// command and everything it spawned, not just the immediate child.
// Fatal is the standard covpipe binary entrypoint error handler.
package process
