// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolfetch downloads and installs the pinned coverage tool.
//
// The tool (grcov) is distributed as a compressed tar archive per
// release. A fetch downloads the archive for an exact version,
// optionally verifies its BLAKE3 checksum, extracts it, and installs
// the executable into the run's bin directory, which later steps
// prepend to PATH.
//
// Fetching is fresh every run. When a cache directory and a checksum
// are both configured, verified downloads are kept in a
// content-addressed cache and reused — a pure optimization, since a
// cache hit requires the same digest the download would have to match
// anyway.
package toolfetch

import (
	"fmt"
	"runtime"
	"strings"
)

// Descriptor identifies one downloadable tool release.
type Descriptor struct {
	// Name is the executable name expected inside the archive.
	Name string

	// Version is the exact pinned version. No implicit "latest"
	// resolution — reproducibility across runs depends on the pin.
	Version string

	// URL is the download template. {version} and {target} are
	// replaced by ResolvedURL.
	URL string

	// Format is the archive format: tar.bz2, tar.gz, tar.zst, tar.lz4.
	Format string

	// Target is the platform triple substituted into URL. Empty means
	// the host default.
	Target string

	// Checksum is the optional hex BLAKE3 digest of the archive.
	Checksum string

	// CacheDir enables the content-addressed download cache when
	// non-empty. Only effective together with Checksum.
	CacheDir string
}

// ResolvedURL returns the concrete download URL for this descriptor.
func (d Descriptor) ResolvedURL() (string, error) {
	if d.URL == "" {
		return "", fmt.Errorf("tool %s: download URL is empty", d.Name)
	}
	if d.Version == "" || d.Version == "latest" {
		return "", fmt.Errorf("tool %s: version must be pinned exactly, got %q", d.Name, d.Version)
	}

	target := d.Target
	if target == "" {
		target = DefaultTarget()
	}

	url := strings.ReplaceAll(d.URL, "{version}", d.Version)
	url = strings.ReplaceAll(url, "{target}", target)
	return url, nil
}

// DefaultTarget returns the platform triple for the host, in the form
// used by Rust release artifact names.
func DefaultTarget() string {
	arch := map[string]string{
		"amd64": "x86_64",
		"arm64": "aarch64",
	}[runtime.GOARCH]
	if arch == "" {
		arch = runtime.GOARCH
	}

	switch runtime.GOOS {
	case "darwin":
		return arch + "-apple-darwin"
	case "windows":
		return arch + "-pc-windows-msvc"
	default:
		return arch + "-unknown-linux-gnu"
	}
}
