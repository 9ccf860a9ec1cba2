// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for covpipe packages.
package testutil
