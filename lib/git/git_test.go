// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/covpipe/covpipe/lib/testutil"
)

func TestCloneCheckoutHead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stub := testutil.StubBinary(t, dir, "git",
		`case "$1" in
clone) mkdir -p "$4" ;;
-C) if [ "$3" = "rev-parse" ]; then echo abc123def456; fi ;;
esac`)

	client := NewWithBinary(stub)
	ctx := context.Background()

	workdir := filepath.Join(dir, "src")
	repository, err := client.Clone(ctx, "https://example.invalid/project.git", workdir)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if repository.Dir() != workdir {
		t.Errorf("Dir = %q, want %q", repository.Dir(), workdir)
	}

	if err := repository.Checkout(ctx, "abc123"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	head, err := repository.Head(ctx)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head != "abc123def456" {
		t.Errorf("Head = %q, want abc123def456", head)
	}

	calls := testutil.Calls(t, stub)
	if len(calls) != 3 {
		t.Fatalf("git called %d times, want 3: %v", len(calls), calls)
	}
	if !strings.Contains(calls[0], "clone --quiet https://example.invalid/project.git") {
		t.Errorf("clone call = %q", calls[0])
	}
	if !strings.Contains(calls[1], "-C "+workdir+" checkout --quiet --detach abc123") {
		t.Errorf("checkout call = %q", calls[1])
	}
}

func TestCloneFailureIncludesStderr(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stub := testutil.StubBinary(t, dir, "git",
		`echo "fatal: unable to access repository" >&2
exit 128`)

	_, err := NewWithBinary(stub).Clone(context.Background(), "https://example.invalid/gone.git", filepath.Join(dir, "src"))
	if err == nil {
		t.Fatal("Clone should fail")
	}
	if !strings.Contains(err.Error(), "unable to access repository") {
		t.Errorf("error does not include stderr: %v", err)
	}
}

func TestNewWithBinaryEmptyFallsBackToPath(t *testing.T) {
	t.Parallel()

	if NewWithBinary("").binary != "git" {
		t.Error("empty binary path should fall back to PATH lookup of git")
	}
}
