// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package provision materializes the isolated execution environment
// for a pipeline run: a fresh checkout of the repository at the
// requested commit, plus the pinned Rust toolchain with its required
// components installed via rustup.
//
// Provisioning is fatal-on-failure: a network error fetching source
// or toolchain aborts the run before any later step executes. Each
// run provisions into its own work directory; nothing is shared
// across concurrent runs.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/covpipe/covpipe/lib/git"
	"github.com/covpipe/covpipe/lib/process"
)

// ToolchainSpec is the desired toolchain: a channel plus named
// optional components. Supplied as static configuration; consumed
// once per run; never mutated.
type ToolchainSpec struct {
	// Channel is the rustup toolchain channel ("nightly", "stable",
	// or a dated channel like "nightly-2024-01-15").
	Channel string

	// Components are rustup component names (e.g.
	// "llvm-tools-preview", required for profiling instrumentation).
	Components []string
}

// Validate checks the spec for structural problems before any
// processes run.
func (s ToolchainSpec) Validate() error {
	if s.Channel == "" {
		return fmt.Errorf("toolchain channel is empty")
	}
	for index, component := range s.Components {
		if strings.TrimSpace(component) == "" {
			return fmt.Errorf("toolchain component %d is empty", index)
		}
	}
	return nil
}

// Params identifies what to provision and where.
type Params struct {
	// RepositoryURL is the git clone URL.
	RepositoryURL string

	// Ref is the commit to check out. Empty means the clone's
	// default branch HEAD.
	Ref string

	// WorkDir is the run's private work directory. The source tree
	// is created under it.
	WorkDir string
}

// Workspace is the provisioned environment handed to later steps.
type Workspace struct {
	// SourceDir is the checked-out source tree.
	SourceDir string

	// Commit is the resolved HEAD SHA — the exact commit the run
	// builds, recorded even when Ref was a branch name.
	Commit string

	// Toolchain is the installed toolchain channel, used as the
	// cargo `+toolchain` selector by later steps.
	Toolchain string
}

// Provisioner sets up run environments.
type Provisioner struct {
	git    *git.Client
	rustup string
	logger *slog.Logger
}

// New returns a Provisioner. rustupPath may be empty to resolve
// "rustup" via PATH.
func New(gitClient *git.Client, rustupPath string, logger *slog.Logger) *Provisioner {
	if rustupPath == "" {
		rustupPath = "rustup"
	}
	return &Provisioner{git: gitClient, rustup: rustupPath, logger: logger}
}

// Provision clones the repository, checks out the requested ref, and
// installs the toolchain. Returns the workspace for later steps.
func (p *Provisioner) Provision(ctx context.Context, params Params, spec ToolchainSpec) (*Workspace, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	sourceDir := filepath.Join(params.WorkDir, "src")
	p.logger.Info("cloning repository", "url", params.RepositoryURL, "dir", sourceDir)
	repository, err := p.git.Clone(ctx, params.RepositoryURL, sourceDir)
	if err != nil {
		return nil, err
	}

	if params.Ref != "" {
		if err := repository.Checkout(ctx, params.Ref); err != nil {
			return nil, err
		}
	}

	commit, err := repository.Head(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.installToolchain(ctx, spec); err != nil {
		return nil, err
	}

	p.logger.Info("environment provisioned", "commit", commit, "toolchain", spec.Channel)
	return &Workspace{
		SourceDir: sourceDir,
		Commit:    commit,
		Toolchain: spec.Channel,
	}, nil
}

// installToolchain installs the channel and then adds each component.
// rustup rejects unrecognized component names with a non-zero exit,
// which surfaces here — components are never silently ignored.
func (p *Provisioner) installToolchain(ctx context.Context, spec ToolchainSpec) error {
	exitCode, err := process.Run(ctx, process.Options{},
		p.rustup, "toolchain", "install", spec.Channel, "--profile", "minimal", "--no-self-update")
	if err != nil {
		return fmt.Errorf("installing toolchain %s: %w", spec.Channel, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("installing toolchain %s: rustup exited with code %d", spec.Channel, exitCode)
	}

	if len(spec.Components) == 0 {
		return nil
	}

	args := append([]string{"component", "add", "--toolchain", spec.Channel}, spec.Components...)
	exitCode, err = process.Run(ctx, process.Options{}, p.rustup, args...)
	if err != nil {
		return fmt.Errorf("adding components %v: %w", spec.Components, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("adding components %v to toolchain %s: rustup exited with code %d",
			spec.Components, spec.Channel, exitCode)
	}

	return nil
}
