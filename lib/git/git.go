// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for repository
// operations. The provisioner uses it to materialize a clean working
// copy: clone into a fresh directory, detach-checkout the requested
// commit, and resolve the exact SHA for the run record. All commands
// target a specific repository directory via the -C flag, which is
// automatically injected by all Repository methods.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Client runs git commands. The zero value is not usable; construct
// with New or NewWithBinary.
type Client struct {
	binary string
}

// New returns a Client that resolves "git" via PATH.
func New() *Client {
	return &Client{binary: "git"}
}

// NewWithBinary returns a Client using an explicit git binary path.
// Hermetic binary resolution for configured installations; tests use
// it to substitute a stub.
func NewWithBinary(path string) *Client {
	if path == "" {
		return New()
	}
	return &Client{binary: path}
}

// Clone clones url into dir and returns a Repository targeting it.
// The clone is full (not shallow): coverage extraction wants accurate
// blame-free line mapping for any reachable commit the run is asked
// to check out.
func (c *Client) Clone(ctx context.Context, url, dir string) (*Repository, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, c.binary, "clone", "--quiet", url, dir)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("git clone %s: %w (stderr: %s)",
			url, err, strings.TrimSpace(stderr.String()))
	}
	return &Repository{client: c, dir: dir}, nil
}

// Repository represents a cloned repository at a specific directory.
// All operations target this directory via "git -C <dir>". There is
// no default directory — callers must always specify which repository
// they mean.
type Repository struct {
	client *Client
	dir    string
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, r.client.binary, fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Checkout detach-checkouts the given ref. Detached HEAD is
// deliberate: a run builds one immutable commit, never a moving
// branch tip.
func (r *Repository) Checkout(ctx context.Context, ref string) error {
	_, err := r.Run(ctx, "checkout", "--quiet", "--detach", ref)
	return err
}

// Head resolves the commit SHA of HEAD.
func (r *Repository) Head(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}
