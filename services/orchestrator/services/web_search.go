// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services holds the business logic sitting between HTTP
// handlers and the backing stores: prompt construction, retrieval
// orchestration, and web search enrichment.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidewater-ai/driftwood/services/llm"
)

// DefaultWebSearchEndpoint is the hosted Ollama web search API.
const DefaultWebSearchEndpoint = "https://ollama.com/api/web_search"

const searchQuerySystemPrompt = "You are a helper. Generate a single, concise web search query for the user's request. Return ONLY the query text, no quotes or explanations."

// WebSearcher runs a web search and returns its results as text.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// OllamaWebSearch calls the hosted Ollama web search API with a bearer
// key.
type OllamaWebSearch struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

var _ WebSearcher = (*OllamaWebSearch)(nil)

// NewOllamaWebSearch creates a searcher. An empty endpoint uses the
// hosted API; an empty apiKey makes every Search fail, which callers
// surface as a degraded-context marker rather than an aborted turn.
func NewOllamaWebSearch(endpoint, apiKey string) *OllamaWebSearch {
	if endpoint == "" {
		endpoint = DefaultWebSearchEndpoint
	}
	return &OllamaWebSearch{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

type webSearchRequest struct {
	Query string `json:"query"`
}

// Search posts the query and returns the raw response body.
func (o *OllamaWebSearch) Search(ctx context.Context, query string) (string, error) {
	if o.apiKey == "" {
		return "", fmt.Errorf("web search key not configured")
	}

	body, err := json.Marshal(webSearchRequest{Query: query})
	if err != nil {
		return "", fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("web search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web search failed: %d %s", resp.StatusCode, string(respBody))
	}
	return string(respBody), nil
}

// DeriveSearchQuery asks the model for a concise search query matching
// the user's request. Falls back to the raw user text when generation
// fails or produces nothing, so a flaky model never blocks the search.
func DeriveSearchQuery(ctx context.Context, client llm.LLMClient, userContent string) string {
	prompt := searchQuerySystemPrompt + "\n\nUser request: " + userContent
	generated, err := client.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		slog.Warn("Search query generation failed, using raw content", "error", err)
		return userContent
	}
	query := strings.TrimSpace(strings.Trim(strings.TrimSpace(generated), `"`))
	if query == "" {
		return userContent
	}
	return query
}
