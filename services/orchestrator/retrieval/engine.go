// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tidewater-ai/driftwood/services/llm"
	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
)

// DefaultTopK is the fragment limit when the caller passes zero.
const DefaultTopK = 5

// Engine turns a query string into ranked fragment hits.
//
// # Description
//
// Embeds the query once and searches the fragment store scoped to the
// chat's documents. Retrieval is an enrichment step, so every failure
// mode degrades to an empty result instead of surfacing an error; a chat
// turn must never fail because the vector store or embedder is down.
type Engine struct {
	embedder llm.Embedder
	store    FragmentStore
	logger   *slog.Logger
}

// NewEngine creates a retrieval engine. A nil store means the engine
// always returns empty results, matching a deployment without a vector
// store.
func NewEngine(embedder llm.Embedder, store FragmentStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// Retrieve returns the fragments most relevant to query across the given
// documents, in ascending distance order.
//
// # Edge Cases
//
//   - Blank query or no document IDs: returns empty without calling the
//     embedder, since there is nothing to rank against.
//   - Embedding or search failure: logged, returns empty.
func (e *Engine) Retrieve(ctx context.Context, query string, docIDs []string, topK int) []datatypes.FragmentHit {
	ctx, span := tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()

	if topK <= 0 {
		topK = DefaultTopK
	}
	span.SetAttributes(
		attribute.Int("doc_count", len(docIDs)),
		attribute.Int("top_k", topK),
	)

	if strings.TrimSpace(query) == "" || len(docIDs) == 0 {
		return nil
	}
	if e.store == nil || e.embedder == nil {
		e.logger.Debug("Retrieval skipped, no store configured")
		return nil
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("Failed to embed query, skipping retrieval", "error", err)
		span.RecordError(err)
		return nil
	}

	hits, err := e.store.Search(ctx, vector, docIDs, topK)
	if err != nil {
		e.logger.Warn("Fragment search failed, skipping retrieval", "error", err)
		span.RecordError(err)
		return nil
	}

	span.SetAttributes(attribute.Int("hit_count", len(hits)))
	e.logger.Debug("Retrieved relevant fragments", "query_len", len(query), "hits", len(hits))
	return hits
}
