// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// ResultLog writes structured JSONL to a file during a run. Each line
// is an independent JSON object, making the log:
//
//   - Crash-safe: a SIGKILL mid-run preserves all completed step
//     results. A single JSON document would be truncated and
//     unparseable.
//   - Streamable: wrapping automation can tail the file for
//     step-by-step progress instead of waiting for completion.
//
// All methods are nil-safe no-ops, so the runner logs unconditionally
// whether or not a result log was configured.
type ResultLog struct {
	logger  *slog.Logger
	file    *os.File
	encoder *json.Encoder
}

// NewResultLog creates a JSONL result log at path, truncating any
// existing content.
func NewResultLog(path string, logger *slog.Logger) (*ResultLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating result log %s: %w", path, err)
	}
	return &ResultLog{
		logger:  logger,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close flushes and closes the result log file.
func (r *ResultLog) Close() error {
	if r == nil {
		return nil
	}
	return r.file.Close()
}

func (r *ResultLog) writeStart(run, ref string, stepCount int) {
	if r == nil {
		return
	}
	r.write(resultStartEntry{
		Type:      "start",
		Run:       run,
		Ref:       ref,
		StepCount: stepCount,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *ResultLog) writeStep(index int, result StepResult) {
	if r == nil {
		return
	}
	r.write(resultStepEntry{
		Type:       "step",
		Index:      index,
		StepResult: result,
	})
}

func (r *ResultLog) writeComplete(durationMS int64) {
	if r == nil {
		return
	}
	r.write(resultCompleteEntry{
		Type:       "complete",
		Status:     string(StateSucceeded),
		DurationMS: durationMS,
	})
}

func (r *ResultLog) writeFailed(failedStep, stage, errorMessage string, durationMS int64) {
	if r == nil {
		return
	}
	r.write(resultFailedEntry{
		Type:       "failed",
		Status:     string(StateFailed),
		Stage:      stage,
		Error:      errorMessage,
		FailedStep: failedStep,
		DurationMS: durationMS,
	})
}

func (r *ResultLog) writeCancelled(cancelledStep string, durationMS int64) {
	if r == nil {
		return
	}
	r.write(resultCancelledEntry{
		Type:          "cancelled",
		Status:        string(StateCancelled),
		CancelledStep: cancelledStep,
		DurationMS:    durationMS,
	})
}

func (r *ResultLog) write(entry any) {
	if err := r.encoder.Encode(entry); err != nil {
		r.logger.Warn("failed to write result log entry", "error", err)
		return
	}
	// Sync after each line so that partial results survive a crash
	// and are visible to readers tailing for progress immediately.
	if err := r.file.Sync(); err != nil {
		r.logger.Warn("failed to sync result log", "error", err)
	}
}

// JSONL entry types. Each struct documents exactly which fields
// appear in that line type.

// resultStartEntry is the first line, written at run start.
type resultStartEntry struct {
	Type      string `json:"type"`
	Run       string `json:"run"`
	Ref       string `json:"ref,omitempty"`
	StepCount int    `json:"step_count"`
	Timestamp string `json:"timestamp"`
}

// resultStepEntry is written after each step completes.
type resultStepEntry struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	StepResult
}

// resultCompleteEntry is the last line on success.
type resultCompleteEntry struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// resultFailedEntry is the last line when a step fails.
type resultFailedEntry struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	Stage      string `json:"stage"`
	Error      string `json:"error"`
	FailedStep string `json:"failed_step"`
	DurationMS int64  `json:"duration_ms"`
}

// resultCancelledEntry is the last line when the run is cancelled
// externally. Partial artifacts are invalid; nothing is published.
type resultCancelledEntry struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	CancelledStep string `json:"cancelled_step"`
	DurationMS    int64  `json:"duration_ms"`
}
