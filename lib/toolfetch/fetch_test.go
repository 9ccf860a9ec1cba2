// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package toolfetch

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// makeTar builds an uncompressed tar archive with the given files.
func makeTar(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)
	for name, content := range files {
		header := &tar.Header{
			Name: name,
			Mode: 0o755,
			Size: int64(len(content)),
		}
		if err := writer.WriteHeader(header); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := writer.Write([]byte(content)); err != nil {
			t.Fatalf("tar content: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}
	return buffer.Bytes()
}

func compress(t *testing.T, format string, data []byte) []byte {
	t.Helper()

	var buffer bytes.Buffer
	switch format {
	case "tar.gz":
		writer := gzip.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			t.Fatalf("gzip write: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("gzip close: %v", err)
		}
	case "tar.zst":
		writer, err := zstd.NewWriter(&buffer)
		if err != nil {
			t.Fatalf("zstd writer: %v", err)
		}
		if _, err := writer.Write(data); err != nil {
			t.Fatalf("zstd write: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("zstd close: %v", err)
		}
	case "tar.lz4":
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			t.Fatalf("lz4 write: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("lz4 close: %v", err)
		}
	default:
		t.Fatalf("unsupported test compression %q", format)
	}
	return buffer.Bytes()
}

func grcovArchive(t *testing.T, format string) []byte {
	t.Helper()
	return compress(t, format, makeTar(t, map[string]string{
		"grcov/grcov":   "#!/bin/sh\nexit 0\n",
		"grcov/LICENSE": "MPL-2.0",
	}))
}

func serveArchive(t *testing.T, archive []byte, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Write(archive)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchInstallsExecutable(t *testing.T) {
	t.Parallel()

	server := serveArchive(t, grcovArchive(t, "tar.gz"), nil)
	binDir := filepath.Join(t.TempDir(), "bin")

	installed, err := New(testLogger()).Fetch(context.Background(), Descriptor{
		Name:    "grcov",
		Version: "0.8.10",
		URL:     server.URL + "/v{version}/grcov-{target}.tar.gz",
		Format:  "tar.gz",
	}, binDir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if installed != filepath.Join(binDir, "grcov") {
		t.Errorf("installed path = %q", installed)
	}
	info, err := os.Stat(installed)
	if err != nil {
		t.Fatalf("installed binary missing: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("installed binary not executable: %v", info.Mode())
	}
}

func TestFetchAlternativeFormats(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"tar.zst", "tar.lz4"} {
		format := format
		t.Run(format, func(t *testing.T) {
			t.Parallel()

			server := serveArchive(t, grcovArchive(t, format), nil)
			_, err := New(testLogger()).Fetch(context.Background(), Descriptor{
				Name:    "grcov",
				Version: "0.8.10",
				URL:     server.URL + "/grcov.{version}." + format,
				Format:  format,
			}, filepath.Join(t.TempDir(), "bin"))
			if err != nil {
				t.Fatalf("Fetch(%s): %v", format, err)
			}
		})
	}
}

func TestFetchUnreachableURL(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // deliberately broken

	_, err := New(testLogger()).Fetch(context.Background(), Descriptor{
		Name:    "grcov",
		Version: "0.8.10",
		URL:     server.URL + "/grcov.tar.gz",
		Format:  "tar.gz",
	}, t.TempDir())
	if err == nil {
		t.Fatal("Fetch from closed server should fail")
	}
}

func TestFetchNotFoundStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	_, err := New(testLogger()).Fetch(context.Background(), Descriptor{
		Name:    "grcov",
		Version: "0.8.10",
		URL:     server.URL + "/grcov.tar.gz",
		Format:  "tar.gz",
	}, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("want status error, got %v", err)
	}
}

func TestFetchChecksum(t *testing.T) {
	t.Parallel()

	archive := grcovArchive(t, "tar.gz")
	server := serveArchive(t, archive, nil)

	descriptor := Descriptor{
		Name:     "grcov",
		Version:  "0.8.10",
		URL:      server.URL + "/grcov.tar.gz",
		Format:   "tar.gz",
		Checksum: digestHex(archive),
	}

	if _, err := New(testLogger()).Fetch(context.Background(), descriptor, t.TempDir()); err != nil {
		t.Fatalf("Fetch with matching checksum: %v", err)
	}

	descriptor.Checksum = strings.Repeat("00", 32)
	_, err := New(testLogger()).Fetch(context.Background(), descriptor, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("want checksum mismatch, got %v", err)
	}
}

func TestFetchUsesCache(t *testing.T) {
	t.Parallel()

	archive := grcovArchive(t, "tar.gz")
	var hits atomic.Int32
	server := serveArchive(t, archive, &hits)

	descriptor := Descriptor{
		Name:     "grcov",
		Version:  "0.8.10",
		URL:      server.URL + "/grcov.tar.gz",
		Format:   "tar.gz",
		Checksum: digestHex(archive),
		CacheDir: t.TempDir(),
	}

	fetcher := New(testLogger())
	for i := 0; i < 2; i++ {
		if _, err := fetcher.Fetch(context.Background(), descriptor, t.TempDir()); err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
	}

	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1 (second fetch should use cache)", hits.Load())
	}
}

func TestFetchIgnoresCorruptCacheEntry(t *testing.T) {
	t.Parallel()

	archive := grcovArchive(t, "tar.gz")
	server := serveArchive(t, archive, nil)

	cacheDir := t.TempDir()
	checksum := digestHex(archive)
	if err := os.WriteFile(filepath.Join(cacheDir, checksum), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := New(testLogger()).Fetch(context.Background(), Descriptor{
		Name:     "grcov",
		Version:  "0.8.10",
		URL:      server.URL + "/grcov.tar.gz",
		Format:   "tar.gz",
		Checksum: checksum,
		CacheDir: cacheDir,
	}, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch with corrupt cache entry should re-download: %v", err)
	}
}

func TestFetchNoMatchingExecutable(t *testing.T) {
	t.Parallel()

	archive := compress(t, "tar.gz", makeTar(t, map[string]string{
		"README.md": "not a binary",
	}))
	server := serveArchive(t, archive, nil)

	_, err := New(testLogger()).Fetch(context.Background(), Descriptor{
		Name:    "grcov",
		Version: "0.8.10",
		URL:     server.URL + "/grcov.tar.gz",
		Format:  "tar.gz",
	}, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), `no executable named "grcov"`) {
		t.Fatalf("want missing-executable error, got %v", err)
	}
}

func TestFetchCorruptArchive(t *testing.T) {
	t.Parallel()

	server := serveArchive(t, []byte("this is not a gzip stream"), nil)

	_, err := New(testLogger()).Fetch(context.Background(), Descriptor{
		Name:    "grcov",
		Version: "0.8.10",
		URL:     server.URL + "/grcov.tar.gz",
		Format:  "tar.gz",
	}, t.TempDir())
	if err == nil {
		t.Fatal("corrupt archive should fail the fetch")
	}
}

func TestResolvedURL(t *testing.T) {
	t.Parallel()

	descriptor := Descriptor{
		Name:    "grcov",
		Version: "0.8.10",
		Target:  "x86_64-unknown-linux-gnu",
		URL:     "https://example.com/v{version}/grcov-{target}.tar.bz2",
	}

	url, err := descriptor.ResolvedURL()
	if err != nil {
		t.Fatalf("ResolvedURL: %v", err)
	}
	want := "https://example.com/v0.8.10/grcov-x86_64-unknown-linux-gnu.tar.bz2"
	if url != want {
		t.Errorf("ResolvedURL = %q, want %q", url, want)
	}
}

func TestResolvedURLRejectsUnpinnedVersion(t *testing.T) {
	t.Parallel()

	for _, version := range []string{"", "latest"} {
		descriptor := Descriptor{Name: "grcov", Version: version, URL: "https://example.com/{version}"}
		if _, err := descriptor.ResolvedURL(); err == nil {
			t.Errorf("version %q should be rejected", version)
		}
	}
}

func TestNewDecompressorUnknownFormat(t *testing.T) {
	t.Parallel()

	if _, err := newDecompressor("zip", bytes.NewReader(nil)); err == nil {
		t.Fatal("unknown format should be rejected")
	}
}

func TestDefaultTargetNonEmpty(t *testing.T) {
	t.Parallel()

	target := DefaultTarget()
	if target == "" || !strings.Contains(target, "-") {
		t.Errorf("DefaultTarget = %q", target)
	}
}
