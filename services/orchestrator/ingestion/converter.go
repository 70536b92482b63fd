// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingestion converts uploaded documents to text, chunks them, and
// indexes embedded fragments into the retrieval store.
package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupportedFormat indicates the file extension has no conversion
// profile.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Extensions whose content is already text and can be read directly.
var plainTextExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".py": true, ".js": true, ".ts": true, ".java": true,
	".c": true, ".cpp": true, ".h": true, ".hpp": true,
	".rs": true, ".go": true, ".sh": true, ".sql": true,
}

// Extensions handled by the external converter service.
var convertedExtensions = map[string]bool{
	".pdf": true, ".docx": true, ".pptx": true, ".xlsx": true,
	".html": true, ".htm": true, ".png": true, ".jpg": true,
	".jpeg": true, ".tiff": true,
}

// Converter turns a document file into markdown text.
type Converter interface {
	Convert(ctx context.Context, filePath string) (string, error)
}

// HTTPConverter extracts text from binary formats through a converter
// service, and reads plain-text formats directly off disk. A zero
// serviceURL restricts the converter to plain-text formats.
type HTTPConverter struct {
	httpClient *http.Client
	serviceURL string
}

var _ Converter = (*HTTPConverter)(nil)

// NewHTTPConverter creates a converter. serviceURL may be empty when only
// plain-text ingestion is needed.
func NewHTTPConverter(serviceURL string) *HTTPConverter {
	return &HTTPConverter{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		serviceURL: strings.TrimSuffix(serviceURL, "/"),
	}
}

type convertRequest struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

type convertResponse struct {
	Markdown string `json:"markdown"`
	Error    string `json:"error,omitempty"`
}

// Convert returns the markdown text of the file at filePath.
//
// # Errors
//
//   - ErrUnsupportedFormat: extension has no profile, or a binary format
//     was given with no converter service configured.
//   - Other errors: file read or converter service failures.
func (c *HTTPConverter) Convert(ctx context.Context, filePath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filePath))

	switch {
	case plainTextExtensions[ext]:
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", filePath, err)
		}
		return string(data), nil

	case convertedExtensions[ext]:
		if c.serviceURL == "" {
			return "", fmt.Errorf("%w: %s requires a converter service", ErrUnsupportedFormat, ext)
		}
		return c.convertRemote(ctx, filePath)

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func (c *HTTPConverter) convertRemote(ctx context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	body, err := json.Marshal(convertRequest{
		Filename: filepath.Base(filePath),
		Content:  data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal convert request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/convert", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create convert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("converter service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("converter service returned %d: %s", resp.StatusCode, string(errBody))
	}

	var parsed convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode converter response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("conversion failed: %s", parsed.Error)
	}
	return parsed.Markdown, nil
}

// IsSupportedFormat reports whether files with the given name can be
// ingested at all.
func IsSupportedFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return plainTextExtensions[ext] || convertedExtensions[ext]
}
