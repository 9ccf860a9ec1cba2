// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Report describes one finished coverage report to upload.
type Report struct {
	// Path is the report file on disk.
	Path string

	// Commit is the SHA the report was produced from.
	Commit string

	// Branch is the branch name, empty for detached runs.
	Branch string

	// Flag is the coverage flag attached to the upload.
	Flag string

	// Name is the display name attached to the upload.
	Name string
}

// Publisher ships a finished report to a collection service.
type Publisher interface {
	Publish(ctx context.Context, report Report) error
}

// Noop is the default publisher. It records that publishing was
// skipped and does nothing else.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Publish(_ context.Context, report Report) error {
	n.Logger.Info("publishing disabled, report retained locally",
		"report", report.Path, "commit", report.Commit)
	return nil
}

// HTTP uploads reports as multipart POSTs to a fixed endpoint.
type HTTP struct {
	// Endpoint is the upload URL.
	Endpoint string

	// Token authenticates the upload. Sent as a bearer token; never
	// logged.
	Token string

	// Client is the HTTP client to use. Nil means a client with a
	// 60-second timeout.
	Client *http.Client

	Logger *slog.Logger
}

// Publish uploads the report file plus its metadata as a multipart
// form. Any non-2xx response is an error; the caller decides whether
// that error is fatal to the run.
func (h *HTTP) Publish(ctx context.Context, report Report) error {
	body, contentType, err := encodeForm(report)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, body)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	request.Header.Set("Content-Type", contentType)
	if h.Token != "" {
		request.Header.Set("Authorization", "Bearer "+h.Token)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	h.Logger.Info("uploading coverage report",
		"endpoint", h.Endpoint, "report", report.Path, "commit", report.Commit)

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("uploading report to %s: %w", h.Endpoint, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("upload rejected by %s: status %d: %s",
			h.Endpoint, response.StatusCode, bytes.TrimSpace(detail))
	}

	h.Logger.Info("coverage report uploaded", "status", response.StatusCode)
	return nil
}

// encodeForm builds the multipart body. Metadata travels as plain form
// fields, the report itself as a file part named "report".
func encodeForm(report Report) (*bytes.Buffer, string, error) {
	file, err := os.Open(report.Path)
	if err != nil {
		return nil, "", fmt.Errorf("opening report: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := map[string]string{
		"commit": report.Commit,
		"branch": report.Branch,
		"flag":   report.Flag,
		"name":   report.Name,
	}
	for field, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(field, value); err != nil {
			return nil, "", fmt.Errorf("encoding field %s: %w", field, err)
		}
	}

	part, err := writer.CreateFormFile("report", filepath.Base(report.Path))
	if err != nil {
		return nil, "", fmt.Errorf("encoding report part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("reading report: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalizing upload body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
