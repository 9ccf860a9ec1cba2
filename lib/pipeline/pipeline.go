// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline drives one coverage run through its ordered steps.
//
// A run is a single pass over an ordered step list; every step is
// fatal, so the first non-zero outcome aborts the remaining steps and
// the run reports which stage failed — the primary diagnostic signal
// separating environment problems from regressions in the code under
// test. There are no retries and no resumption: a failed run is
// terminal, and the next attempt is a fresh run from Pending.
package pipeline

import (
	"fmt"
)

// State is a run's position in its lifecycle.
type State string

const (
	StatePending      State = "pending"
	StateProvisioning State = "provisioning"
	StateFetchingTool State = "fetching-tool"
	StateBuilding     State = "building"
	StateTesting      State = "testing"
	StateExtracting   State = "extracting"
	StatePublishing   State = "publishing"

	// Terminal states. No transitions leave them.
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Stage identifies which pipeline stage an error belongs to. The
// stage taxonomy is the run's error taxonomy: provisioning failures
// are environment problems, test failures are regressions, tool-fetch
// and extraction failures are tooling problems.
type Stage string

const (
	StageProvision Stage = "provision"
	StageToolFetch Stage = "tool-fetch"
	StageBuild     Stage = "build"
	StageTest      Stage = "test"
	StageExtract   Stage = "extract"
	StagePublish   Stage = "publish"
)

// ActiveState is the run state while a step of this stage executes.
func (s Stage) ActiveState() State {
	switch s {
	case StageProvision:
		return StateProvisioning
	case StageToolFetch:
		return StateFetchingTool
	case StageBuild:
		return StateBuilding
	case StageTest:
		return StateTesting
	case StageExtract:
		return StateExtracting
	case StagePublish:
		return StatePublishing
	}
	return StatePending
}

// ExitCode returns the process exit code for a failure in this stage.
// Distinct codes let wrapping automation distinguish "the environment
// broke" from "the code under test regressed" without parsing output.
func (s Stage) ExitCode() int {
	switch s {
	case StageProvision:
		return 10
	case StageToolFetch:
		return 11
	case StageBuild:
		return 12
	case StageTest:
		return 13
	case StageExtract:
		return 14
	case StagePublish:
		return 15
	}
	return 1
}

// CancelledExitCode is the exit code for externally cancelled runs,
// following the shell convention for SIGINT-terminated processes.
const CancelledExitCode = 130

// StageError tags a step failure with its stage.
type StageError struct {
	// Stage is the failing stage.
	Stage Stage

	// Step is the failing step's name.
	Step string

	// Err is the underlying failure.
	Err error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("step %q (%s stage) failed: %v", e.Step, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
