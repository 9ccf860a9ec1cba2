// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package publish uploads finished coverage reports to an external
// collection service.
//
// Publishing is deliberately outside the pipeline contract: a run's
// outcome is decided by build, test, and extraction, and a report that
// exists on disk is the run's real product. The publisher ships a copy
// of that product elsewhere, defaults to off, and (unless configured
// otherwise) its failures are logged and swallowed rather than failing
// an otherwise green run.
package publish
