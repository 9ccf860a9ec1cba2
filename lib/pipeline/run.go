// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Step is one fatal, gating entry in a run's ordered step list.
type Step struct {
	// Name identifies the step in logs and results.
	Name string

	// Stage classifies failures of this step.
	Stage Stage

	// Run executes the step. A nil error gates open the next step.
	Run func(ctx context.Context) error
}

// StepResult records one executed step's outcome.
type StepResult struct {
	// Name is the step name.
	Name string `json:"name"`

	// Stage is the step's stage.
	Stage Stage `json:"stage"`

	// Status is "ok", "failed", or "cancelled".
	Status string `json:"status"`

	// DurationMS is the step's wall time in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
}

// Run is one pipeline execution instance. Created per trigger, it
// accumulates step results while executing and is discarded at the
// end of the run — its emitted artifacts (the coverage report, the
// result log) are the only things that outlive it.
type Run struct {
	// Name labels the run in logs (typically the repository name).
	Name string

	// Ref is the commit reference the run was asked to build. May be
	// empty for default-branch runs; the provisioner records the
	// resolved SHA in its step output.
	Ref string

	state     State
	results   []StepResult
	logger    *slog.Logger
	resultLog *ResultLog
}

// NewRun returns a run in the Pending state. resultLog may be nil to
// disable structured result logging.
func NewRun(name, ref string, logger *slog.Logger, resultLog *ResultLog) *Run {
	return &Run{
		Name:      name,
		Ref:       ref,
		state:     StatePending,
		logger:    logger,
		resultLog: resultLog,
	}
}

// State returns the run's current lifecycle state.
func (r *Run) State() State {
	return r.state
}

// Results returns the step results recorded so far, in execution
// order. Steps that never started (gated off by an earlier failure)
// have no entry.
func (r *Run) Results() []StepResult {
	return r.results
}

// Execute runs the steps in order, aborting at the first failure.
//
// On success the run ends Succeeded and Execute returns nil. On a
// step failure the run ends Failed and Execute returns a *StageError
// naming the stage and step. On context cancellation the run ends
// Cancelled and Execute returns the context error — no cleanup of
// partially written artifacts is attempted, they are invalid and must
// not be published.
func (r *Run) Execute(ctx context.Context, steps []Step) error {
	if r.state != StatePending {
		return fmt.Errorf("run %q already executed (state %s)", r.Name, r.state)
	}

	runStart := time.Now()
	r.logger.Info("pipeline starting", "run", r.Name, "ref", r.Ref, "steps", len(steps))
	r.resultLog.writeStart(r.Name, r.Ref, len(steps))

	for index, step := range steps {
		r.state = step.Stage.ActiveState()
		r.logger.Info("step starting",
			"step", step.Name, "index", index+1, "total", len(steps))

		stepStart := time.Now()
		err := step.Run(ctx)
		duration := time.Since(stepStart)

		if err != nil {
			if ctx.Err() != nil {
				r.state = StateCancelled
				r.record(step, "cancelled", duration, err)
				r.resultLog.writeCancelled(step.Name, time.Since(runStart).Milliseconds())
				r.logger.Warn("pipeline cancelled", "run", r.Name, "step", step.Name)
				return fmt.Errorf("run cancelled during step %q: %w", step.Name, ctx.Err())
			}

			r.state = StateFailed
			r.record(step, "failed", duration, err)
			r.resultLog.writeFailed(step.Name, string(step.Stage), err.Error(),
				time.Since(runStart).Milliseconds())
			r.logger.Error("pipeline failed",
				"run", r.Name, "step", step.Name, "stage", step.Stage, "error", err)
			return &StageError{Stage: step.Stage, Step: step.Name, Err: err}
		}

		r.record(step, "ok", duration, nil)
		r.logger.Info("step complete", "step", step.Name, "duration", duration.Round(time.Millisecond))
	}

	r.state = StateSucceeded
	totalDuration := time.Since(runStart)
	r.resultLog.writeComplete(totalDuration.Milliseconds())
	r.logger.Info("pipeline complete", "run", r.Name, "duration", totalDuration.Round(time.Millisecond))
	return nil
}

func (r *Run) record(step Step, status string, duration time.Duration, err error) {
	result := StepResult{
		Name:       step.Name,
		Stage:      step.Stage,
		Status:     status,
		DurationMS: duration.Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	r.results = append(r.results, result)
	r.resultLog.writeStep(len(r.results)-1, result)
}
