// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// Options configures a single child process execution.
type Options struct {
	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is the complete environment for the child. Nil means the
	// child inherits the parent environment.
	Env []string

	// Stdout and Stderr receive the child's output. Nil streams are
	// connected to the covpipe process's own stdout/stderr — pipeline
	// step output is part of the run's console record.
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes name with args and returns the process exit code. A
// non-zero exit code is not an error — callers decide whether a given
// exit code fails their step. The returned error covers everything
// else: binary not found, context cancellation, signals.
//
// The command runs in its own process group so that cancellation kills
// the command and all its children. Without Setpgid, only the direct
// child receives the signal — grandchildren (cargo's rustc processes,
// a test binary's subprocesses) survive and hold open the inherited
// stdout/stderr file descriptors, blocking the parent from exiting.
func Run(ctx context.Context, options Options, name string, args ...string) (int, error) {
	command := exec.CommandContext(ctx, name, args...)
	command.Dir = options.Dir
	command.Env = options.Env

	command.Stdout = options.Stdout
	if command.Stdout == nil {
		command.Stdout = os.Stdout
	}
	command.Stderr = options.Stderr
	if command.Stderr == nil {
		command.Stderr = os.Stderr
	}

	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// SIGKILL the entire process group on cancellation (negative PID =
	// all processes in the group). Pipeline steps are ephemeral: a
	// cancelled run's partial artifacts are invalid either way, so
	// there is nothing worth a graceful shutdown window.
	command.Cancel = func() error {
		return syscall.Kill(-command.Process.Pid, syscall.SIGKILL)
	}

	err := command.Run()
	if err == nil {
		return 0, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		// Report cancellation as such even when the killed child
		// surfaces as an ExitError — the exit code of a SIGKILLed
		// process is noise, the cancellation is the signal.
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return exitError.ExitCode(), nil
	}

	return -1, err
}
