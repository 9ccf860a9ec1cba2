// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// StubBinary writes an executable shell script named name into dir and
// returns its path. Tests use stubs in place of the real git, rustup,
// cargo, and grcov binaries so that component behavior (argument
// construction, environment setup, failure propagation) can be verified
// without the real toolchain installed.
//
// Every invocation of the stub appends one line with its arguments to
// the call log at "<path>.calls" (readable via [Calls]). The behavior
// string is raw shell appended after the logging line; an empty
// behavior means the stub exits 0 having done nothing else.
func StubBinary(t *testing.T, dir, name, behavior string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" +
		"echo \"$@\" >> \"" + path + ".calls\"\n" +
		behavior + "\n"

	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing stub %s: %v", name, err)
	}
	return path
}

// Calls returns the recorded invocations of a stub created by
// [StubBinary], one argument line per call. Returns nil if the stub
// was never invoked.
func Calls(t *testing.T, stubPath string) []string {
	t.Helper()

	data, err := os.ReadFile(stubPath + ".calls")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("reading call log for %s: %v", stubPath, err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}
