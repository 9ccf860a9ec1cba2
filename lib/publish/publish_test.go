// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeReport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lcov.info")
	content := "TN:\nSF:src/main.rs\nDA:1,1\nend_of_record\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHTTPPublish(t *testing.T) {
	t.Parallel()

	var (
		authorization string
		fields        map[string]string
		reportContent string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart form: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fields = map[string]string{}
		for field, values := range r.MultipartForm.Value {
			fields[field] = values[0]
		}
		file, _, err := r.FormFile("report")
		if err != nil {
			t.Errorf("report part missing: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		reportContent = string(data)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	publisher := &HTTP{
		Endpoint: server.URL,
		Token:    "secret-token",
		Logger:   testLogger(),
	}
	report := Report{
		Path:   writeReport(t),
		Commit: "0123456789abcdef0123456789abcdef01234567",
		Branch: "main",
		Flag:   "unittests",
		Name:   "covpipe",
	}
	if err := publisher.Publish(context.Background(), report); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if authorization != "Bearer secret-token" {
		t.Errorf("Authorization = %q", authorization)
	}
	for field, want := range map[string]string{
		"commit": report.Commit,
		"branch": "main",
		"flag":   "unittests",
		"name":   "covpipe",
	} {
		if fields[field] != want {
			t.Errorf("form field %s = %q, want %q", field, fields[field], want)
		}
	}
	if !strings.Contains(reportContent, "end_of_record") {
		t.Errorf("uploaded report content = %q", reportContent)
	}
}

func TestHTTPPublishOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	var fields map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fields = r.MultipartForm.Value
	}))
	defer server.Close()

	publisher := &HTTP{Endpoint: server.URL, Logger: testLogger()}
	report := Report{Path: writeReport(t), Commit: "abc123"}
	if err := publisher.Publish(context.Background(), report); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, absent := range []string{"branch", "flag", "name"} {
		if _, present := fields[absent]; present {
			t.Errorf("empty field %q was sent", absent)
		}
	}
}

func TestHTTPPublishRejectedStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer server.Close()

	publisher := &HTTP{Endpoint: server.URL, Token: "wrong", Logger: testLogger()}
	err := publisher.Publish(context.Background(), Report{Path: writeReport(t)})
	if err == nil {
		t.Fatal("Publish should fail on 401")
	}
	if !strings.Contains(err.Error(), "status 401") || !strings.Contains(err.Error(), "invalid token") {
		t.Errorf("error = %v", err)
	}
}

func TestHTTPPublishUnreachableEndpoint(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	publisher := &HTTP{Endpoint: server.URL, Logger: testLogger()}
	if err := publisher.Publish(context.Background(), Report{Path: writeReport(t)}); err == nil {
		t.Fatal("Publish should fail when the endpoint is unreachable")
	}
}

func TestHTTPPublishMissingReport(t *testing.T) {
	t.Parallel()

	publisher := &HTTP{Endpoint: "http://127.0.0.1:0", Logger: testLogger()}
	err := publisher.Publish(context.Background(), Report{Path: filepath.Join(t.TempDir(), "absent")})
	if err == nil || !strings.Contains(err.Error(), "opening report") {
		t.Fatalf("want report-open failure, got %v", err)
	}
}

func TestNoopPublish(t *testing.T) {
	t.Parallel()

	publisher := Noop{Logger: testLogger()}
	if err := publisher.Publish(context.Background(), Report{Path: "/nonexistent"}); err != nil {
		t.Fatalf("Noop.Publish: %v", err)
	}
}
