// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package toolfetch

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// maxArchiveSize bounds how much of a download is read into memory.
// grcov release archives are a few megabytes; anything near this limit
// is not the archive we asked for.
const maxArchiveSize = 256 * 1024 * 1024

// Fetcher downloads and installs tool releases.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// New returns a Fetcher using the default HTTP client.
func New(logger *slog.Logger) *Fetcher {
	return NewWithClient(http.DefaultClient, logger)
}

// NewWithClient returns a Fetcher using an explicit HTTP client.
func NewWithClient(client *http.Client, logger *slog.Logger) *Fetcher {
	return &Fetcher{client: client, logger: logger}
}

// Fetch downloads the described tool, verifies it, extracts the
// archive, and installs the executable into binDir. Returns the
// installed executable path.
//
// Every failure is fatal to the caller's run: unreachable URL,
// non-200 response, checksum mismatch, corrupt archive, or an archive
// with no executable matching the descriptor name.
func (f *Fetcher) Fetch(ctx context.Context, descriptor Descriptor, binDir string) (string, error) {
	url, err := descriptor.ResolvedURL()
	if err != nil {
		return "", err
	}

	archive, err := f.obtainArchive(ctx, descriptor, url)
	if err != nil {
		return "", err
	}

	executable, err := extractExecutable(archive, descriptor.Format, descriptor.Name)
	if err != nil {
		return "", fmt.Errorf("extracting %s from %s: %w", descriptor.Name, url, err)
	}

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", fmt.Errorf("creating bin directory: %w", err)
	}
	installed := filepath.Join(binDir, descriptor.Name)
	if err := os.WriteFile(installed, executable, 0o755); err != nil {
		return "", fmt.Errorf("installing %s: %w", installed, err)
	}

	f.logger.Info("tool installed",
		"tool", descriptor.Name,
		"version", descriptor.Version,
		"path", installed)
	return installed, nil
}

// obtainArchive returns the archive bytes, from the content-addressed
// cache when possible, otherwise by downloading. Downloads are
// verified against the descriptor checksum (when configured) before
// being returned or cached.
func (f *Fetcher) obtainArchive(ctx context.Context, descriptor Descriptor, url string) ([]byte, error) {
	cachePath := ""
	if descriptor.CacheDir != "" && descriptor.Checksum != "" {
		cachePath = filepath.Join(descriptor.CacheDir, descriptor.Checksum)
		if data, err := os.ReadFile(cachePath); err == nil {
			// Trust-but-verify: the cache is content-addressed, so a
			// corrupted entry is detectable and simply ignored.
			if digestHex(data) == descriptor.Checksum {
				f.logger.Debug("tool archive cache hit", "tool", descriptor.Name, "path", cachePath)
				return data, nil
			}
			f.logger.Warn("corrupt cache entry, re-downloading", "path", cachePath)
		}
	}

	data, err := f.download(ctx, url)
	if err != nil {
		return nil, err
	}

	if descriptor.Checksum != "" {
		if actual := digestHex(data); actual != descriptor.Checksum {
			return nil, fmt.Errorf("tool %s: archive checksum mismatch: got %s, want %s",
				descriptor.Name, actual, descriptor.Checksum)
		}
		if cachePath != "" {
			f.storeInCache(cachePath, data)
		}
	}

	return data, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}

	f.logger.Info("downloading tool archive", "url", url)
	response, err := f.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: unexpected status %s", url, response.Status)
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, maxArchiveSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading download body from %s: %w", url, err)
	}
	if len(data) > maxArchiveSize {
		return nil, fmt.Errorf("downloading %s: archive exceeds %d bytes", url, maxArchiveSize)
	}
	return data, nil
}

// storeInCache writes a verified download to the cache. Best-effort:
// cache failures are logged, never fatal — the run already has the
// bytes it needs.
func (f *Fetcher) storeInCache(cachePath string, data []byte) {
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		f.logger.Warn("creating tool cache directory", "error", err)
		return
	}
	if err := os.WriteFile(cachePath, data, 0o644); err != nil {
		f.logger.Warn("writing tool cache entry", "error", err)
	}
}

func digestHex(data []byte) string {
	digest := blake3.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// extractExecutable decompresses the archive and returns the content
// of the first regular file whose base name matches name.
func extractExecutable(archive []byte, format, name string) ([]byte, error) {
	decompressed, err := newDecompressor(format, bytes.NewReader(archive))
	if err != nil {
		return nil, err
	}

	reader := tar.NewReader(decompressed)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if filepath.Base(header.Name) != name {
			continue
		}

		content, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("reading archive entry %s: %w", header.Name, err)
		}
		return content, nil
	}

	return nil, fmt.Errorf("archive contains no executable named %q", name)
}

// newDecompressor wraps the archive reader with the decompressor for
// the given format. tar.bz2 is the grcov release default; the other
// formats cover alternative hosting of the same artifacts.
func newDecompressor(format string, reader io.Reader) (io.Reader, error) {
	switch format {
	case "tar.bz2":
		return bzip2.NewReader(reader), nil
	case "tar.gz":
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return gz, nil
	case "tar.zst":
		zr, err := zstd.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return zr.IOReadCloser(), nil
	case "tar.lz4":
		return lz4.NewReader(reader), nil
	default:
		return nil, fmt.Errorf("unsupported archive format %q", format)
	}
}
