// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// probeTimeout bounds each startup connectivity probe.
const probeTimeout = 3 * time.Second

// ModelInfo describes one model available on the backend.
type ModelInfo struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
}

type ollamaTagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ResolveBaseURL probes the primary backend URL and falls back to the
// secondary exactly once. The decision is made at startup and the
// returned URL is treated as immutable for the process lifetime.
//
// # Description
//
// Sends GET /api/tags with a short timeout to the primary URL. On any
// connectivity failure the fallback is probed the same way. If both
// probes fail the primary is returned anyway so the service can start
// and report per-request errors; callers see those as connection
// errors with a clear base URL.
//
// # Inputs
//
//   - ctx: Bounds the probes.
//   - primary: Preferred base URL. Must be non-empty.
//   - fallback: Secondary base URL. May be empty (no failover).
//
// # Outputs
//
//   - string: The resolved base URL, trailing slash stripped.
func ResolveBaseURL(ctx context.Context, primary, fallback string) string {
	primary = strings.TrimSuffix(primary, "/")
	fallback = strings.TrimSuffix(fallback, "/")

	if probeBackend(ctx, primary) {
		slog.Info("backend reachable", "base_url", primary)
		return primary
	}
	if fallback != "" && fallback != primary {
		slog.Warn("primary backend unreachable, probing fallback",
			"primary", primary, "fallback", fallback)
		if probeBackend(ctx, fallback) {
			slog.Info("fallback backend reachable", "base_url", fallback)
			return fallback
		}
	}
	slog.Warn("no backend reachable at startup, keeping primary",
		"base_url", primary)
	return primary
}

// probeBackend reports whether GET /api/tags succeeds within the probe
// timeout.
func probeBackend(ctx context.Context, baseURL string) bool {
	if baseURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the models available on the backend.
func (o *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.ListModels")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tags request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{BaseURL: o.baseURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tags request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tags ollamaTagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("failed to parse tags response: %w", err)
	}
	return tags.Models, nil
}
