// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("driftwood.retrieval")

// WeaviateStore is the production FragmentStore backed by a Weaviate
// instance using the DocumentChunk class.
type WeaviateStore struct {
	client *weaviate.Client
}

// Compile-time interface check.
var _ FragmentStore = (*WeaviateStore)(nil)

// NewWeaviateStore creates a store over an initialized Weaviate client.
func NewWeaviateStore(client *weaviate.Client) (*WeaviateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client is required")
	}
	return &WeaviateStore{client: client}, nil
}

// Insert batch-imports fragments into the DocumentChunk class.
//
// # Description
//
// All fragments go through a single ObjectsBatcher request. Each object
// gets a fresh UUID; ingestion deletes the document's prior fragments
// before calling Insert, so there is nothing to deduplicate against.
// Per-item failures are logged and surface as a single error, since a
// partially indexed document would silently drop content from retrieval.
func (w *WeaviateStore) Insert(ctx context.Context, fragments []datatypes.Fragment) error {
	ctx, span := tracer.Start(ctx, "weaviate_store.insert")
	defer span.End()
	span.SetAttributes(attribute.Int("fragment_count", len(fragments)))

	if len(fragments) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(fragments))
	for i, frag := range fragments {
		objects[i] = &models.Object{
			Class:  datatypes.DocumentChunkClass,
			ID:     strfmt.UUID(uuid.NewString()),
			Vector: frag.Vector,
			Properties: map[string]interface{}{
				"doc_id":      frag.DocID,
				"text":        frag.Text,
				"filename":    frag.Meta.Filename,
				"page":        frag.Meta.Page,
				"chunk_index": frag.Meta.Index,
			},
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch import failed")
		return fmt.Errorf("failed to save fragments to weaviate: %w", err)
	}

	failed := 0
	for _, item := range resp {
		if item.Result == nil || item.Result.Status == nil || *item.Result.Status != "SUCCESS" {
			failed++
			if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
				for _, errItem := range item.Result.Errors.Error {
					slog.Warn("Weaviate batch item failed", "error", errItem.Message)
				}
			}
		}
	}
	if failed > 0 {
		err := fmt.Errorf("%d of %d fragments failed to index", failed, len(fragments))
		span.RecordError(err)
		span.SetStatus(codes.Error, "partial batch failure")
		return err
	}

	slog.Debug("Indexed fragments", "count", len(fragments))
	return nil
}

// Search runs a near-vector query scoped to the given document IDs.
//
// # Description
//
// Builds a ContainsAny filter over doc_id so only fragments from the
// chat's attachments are candidates, then orders by vector distance.
// The class is configured for L2 distance, so smaller is closer.
//
// # Outputs
//
//   - []datatypes.FragmentHit: Hits in ascending distance order, at most
//     limit of them. Nil when docIDs is empty.
//   - error: Non-nil on query or parse failure.
func (w *WeaviateStore) Search(ctx context.Context, vector []float32, docIDs []string, limit int) ([]datatypes.FragmentHit, error) {
	ctx, span := tracer.Start(ctx, "weaviate_store.search")
	defer span.End()
	span.SetAttributes(
		attribute.Int("doc_count", len(docIDs)),
		attribute.Int("limit", limit),
	)

	if len(docIDs) == 0 {
		return nil, nil
	}

	docFilter := filters.Where().
		WithPath([]string{"doc_id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(docIDs...)

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "doc_id"},
		{Name: "text"},
		{Name: "filename"},
		{Name: "page"},
		{Name: "chunk_index"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "distance"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(datatypes.DocumentChunkClass).
		WithFields(fields...).
		WithWhere(docFilter).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "near-vector query failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.DocumentChunkQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "response parse failed")
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	hits := make([]datatypes.FragmentHit, 0, len(parsed.Get.DocumentChunk))
	for _, chunk := range parsed.Get.DocumentChunk {
		hits = append(hits, datatypes.FragmentHit{
			DocID:    chunk.DocID,
			Text:     chunk.Text,
			Distance: chunk.Additional.Distance,
			Meta: datatypes.FragmentMeta{
				Filename: chunk.Filename,
				Page:     chunk.Page,
				Index:    chunk.ChunkIndex,
			},
		})
	}

	slog.Debug("Fragment search complete", "hits", len(hits))
	return hits, nil
}

// DocIDs aggregates the distinct doc_id values in the DocumentChunk
// class.
func (w *WeaviateStore) DocIDs(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "weaviate_store.doc_ids")
	defer span.End()

	result, err := w.client.GraphQL().Aggregate().
		WithClassName(datatypes.DocumentChunkClass).
		WithGroupBy("doc_id").
		WithFields(graphql.Field{Name: "groupedBy", Fields: []graphql.Field{
			{Name: "value"},
		}}).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate query failed")
		return nil, fmt.Errorf("weaviate doc_id aggregate failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.DocIDAggregateResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "response parse failed")
		return nil, fmt.Errorf("failed to parse doc_id aggregate: %w", err)
	}

	ids := make([]string, 0, len(parsed.Aggregate.DocumentChunk))
	for _, group := range parsed.Aggregate.DocumentChunk {
		if group.GroupedBy.Value != "" {
			ids = append(ids, group.GroupedBy.Value)
		}
	}
	span.SetAttributes(attribute.Int("doc_count", len(ids)))
	return ids, nil
}

// DeleteByDocID batch-deletes every fragment indexed under docID.
func (w *WeaviateStore) DeleteByDocID(ctx context.Context, docID string) error {
	ctx, span := tracer.Start(ctx, "weaviate_store.delete_by_doc_id")
	defer span.End()
	span.SetAttributes(attribute.String("doc_id", docID))

	where := filters.Where().
		WithPath([]string{"doc_id"}).
		WithOperator(filters.Equal).
		WithValueText(docID)

	resp, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.DocumentChunkClass).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch delete failed")
		return fmt.Errorf("failed to delete fragments for doc %s: %w", docID, err)
	}

	if resp != nil && resp.Results != nil {
		slog.Debug("Deleted fragments",
			"doc_id", docID,
			"successful", resp.Results.Successful,
			"failed", resp.Results.Failed)
	}
	return nil
}
