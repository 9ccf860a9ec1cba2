// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command tree framework for the covpipe
// binary: hierarchical command dispatch, pflag parsing, generated help
// output, and typo suggestions for unknown commands and flags.
package cli
