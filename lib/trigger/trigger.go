// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package trigger decides whether a repository event starts a pipeline
// run.
//
// The policy is dormant by default: an automatic event (push,
// pull-request) only runs the pipeline when its event type has at
// least one configured branch filter. With no filters at all the
// pipeline never runs automatically — an operational safety valve, so
// that enabling or disabling CI is a pure configuration change.
// Manual dispatch always runs, regardless of filters.
package trigger

import "path"

// EventType classifies the repository event that may start a run.
type EventType string

const (
	// EventPush is a push to a branch.
	EventPush EventType = "push"

	// EventPullRequest is a pull request targeting a branch.
	EventPullRequest EventType = "pull-request"

	// EventManual is an explicit operator dispatch (covpipe run).
	EventManual EventType = "manual"
)

// Valid reports whether the event type is one of the known values.
func (e EventType) Valid() bool {
	switch e {
	case EventPush, EventPullRequest, EventManual:
		return true
	}
	return false
}

// Event is one incoming repository event.
type Event struct {
	// Type is the event classification.
	Type EventType

	// Branch is the branch the event concerns: the pushed branch for
	// push events, the target branch for pull-request events. Unused
	// for manual dispatch.
	Branch string

	// Ref is the commit SHA the run should check out.
	Ref string
}

// Policy holds the per-event branch filters. A nil or empty filter
// list means that event type never triggers a run.
type Policy struct {
	// Push lists branch patterns eligible for push-triggered runs.
	Push []string

	// PullRequest lists target branch patterns eligible for
	// pull-request-triggered runs.
	PullRequest []string
}

// Decision is the outcome of evaluating an event against a policy.
type Decision struct {
	// Run is true when the pipeline should execute.
	Run bool

	// Reason explains the decision in operator-readable terms. Always
	// set, for both run and skip outcomes.
	Reason string
}

// Decide evaluates an event against the policy. A skipped run is not
// an error: it produces no artifacts and no failure status.
//
// Branch patterns use path.Match syntax, so "release/*" matches
// "release/1.2" and a literal branch name matches itself. A malformed
// pattern never matches.
func (p Policy) Decide(event Event) Decision {
	switch event.Type {
	case EventManual:
		// Manual dispatch bypasses the dormant-by-default rule: an
		// operator asking for a run gets one.
		return Decision{Run: true, Reason: "manual dispatch"}

	case EventPush:
		return decideBranches(p.Push, event, "push")

	case EventPullRequest:
		return decideBranches(p.PullRequest, event, "pull-request")
	}

	return Decision{Run: false, Reason: "unknown event type " + string(event.Type)}
}

func decideBranches(patterns []string, event Event, kind string) Decision {
	if len(patterns) == 0 {
		return Decision{Run: false, Reason: kind + " triggers are not configured (pipeline is dormant)"}
	}
	for _, pattern := range patterns {
		if matched, err := path.Match(pattern, event.Branch); err == nil && matched {
			return Decision{Run: true, Reason: kind + " to " + event.Branch + " matches filter " + pattern}
		}
	}
	return Decision{Run: false, Reason: kind + " branch " + event.Branch + " matches no filter"}
}
