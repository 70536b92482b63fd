// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Embedder maps text to a fixed-dimensionality vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingClient produces embeddings via the backend's embeddings
// endpoint. Safe for concurrent use.
type EmbeddingClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dim        int
}

var _ Embedder = (*EmbeddingClient)(nil)

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewEmbeddingClient creates an embedding client.
//
// # Inputs
//
//   - baseURL: Resolved backend base URL.
//   - model: Embedding model name, e.g. "nomic-embed-text".
//   - dim: Expected vector dimensionality. Responses with a different
//     length are rejected; 0 disables the check.
func NewEmbeddingClient(baseURL, model string, dim int) (*EmbeddingClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding base URL is empty")
	}
	if model == "" {
		return nil, fmt.Errorf("embedding model is empty")
	}
	return &EmbeddingClient{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		dim:        dim,
	}, nil
}

// Embed returns the embedding vector for text.
//
// # Errors
//
//   - *EmbeddingError: request failure, backend error status, or a
//     vector with unexpected dimensionality.
func (e *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "EmbeddingClient.Embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.embedding_model", e.model),
		attribute.Int("llm.input_chars", len(text)),
	)

	payload := ollamaEmbeddingRequest{Model: e.model, Prompt: text}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, &EmbeddingError{Model: e.model, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/embeddings", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &EmbeddingError{Model: e.model, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &EmbeddingError{Model: e.model, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &EmbeddingError{Model: e.model, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &EmbeddingError{
			Model: e.model,
			Err:   fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var embResp ollamaEmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, &EmbeddingError{Model: e.model, Err: err}
	}
	if len(embResp.Embedding) == 0 {
		return nil, &EmbeddingError{Model: e.model, Err: fmt.Errorf("empty embedding returned")}
	}
	if e.dim > 0 && len(embResp.Embedding) != e.dim {
		return nil, &EmbeddingError{
			Model: e.model,
			Err:   fmt.Errorf("expected %d dimensions, got %d", e.dim, len(embResp.Embedding)),
		}
	}

	vector := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}
