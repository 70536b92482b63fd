// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tidewater-ai/driftwood/services/llm"
	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
	"github.com/tidewater-ai/driftwood/services/orchestrator/retrieval"
)

var tracer = otel.Tracer("driftwood.ingestion")

// Pipeline runs the convert, chunk, embed, index sequence for uploaded
// documents.
//
// # Description
//
// The pipeline always produces the document's text when conversion
// succeeds, even if indexing is skipped or fails partway. Indexing is
// all-or-nothing per document: an embedding failure aborts before any
// fragment reaches the store, and the store is cleared of prior
// fragments for the document before new ones are inserted.
type Pipeline struct {
	converter Converter
	embedder  llm.Embedder
	store     retrieval.FragmentStore
	logger    *slog.Logger
}

// NewPipeline creates an ingestion pipeline. A nil store disables
// indexing; conversion still works so attachments remain usable as
// full-text context.
func NewPipeline(converter Converter, embedder llm.Embedder, store retrieval.FragmentStore, logger *slog.Logger) (*Pipeline, error) {
	if converter == nil {
		return nil, fmt.Errorf("converter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		converter: converter,
		embedder:  embedder,
		store:     store,
		logger:    logger,
	}, nil
}

// IngestResult reports what a single ingestion produced.
type IngestResult struct {
	// Text is the converted markdown. Valid whenever conversion
	// succeeded, even when indexing was skipped or failed.
	Text string

	// Fragments is the number of fragments indexed. Zero when indexing
	// was skipped.
	Fragments int
}

// Ingest converts the file at filePath and indexes its fragments under
// docID.
//
// # Outputs
//
//   - IngestResult: Carries the converted text whenever conversion
//     succeeded, even when indexing failed afterwards.
//   - error: Non-nil on conversion failure, embedding failure, or store
//     insert failure.
func (p *Pipeline) Ingest(ctx context.Context, filePath, docID string) (IngestResult, error) {
	ctx, span := tracer.Start(ctx, "ingestion.ingest")
	defer span.End()
	span.SetAttributes(attribute.String("doc_id", docID))

	text, err := p.converter.Convert(ctx, filePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		return IngestResult{}, fmt.Errorf("failed to convert %s: %w", filepath.Base(filePath), err)
	}
	result := IngestResult{Text: text}

	if p.store == nil || p.embedder == nil {
		p.logger.Info("Vector store not configured, skipping indexing", "doc_id", docID)
		return result, nil
	}

	filename := filepath.Base(filePath)
	chunks, err := ChunkText(filename, text)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("failed to chunk %s: %w", filename, err)
	}
	if len(chunks) == 0 {
		p.logger.Warn("No chunks produced after splitting", "doc_id", docID, "file", filename)
		return result, nil
	}
	p.logger.Info("Split document into chunks", "doc_id", docID, "chunk_count", len(chunks))

	// Embed everything before touching the store so a failure cannot
	// leave a half-indexed document.
	fragments := make([]datatypes.Fragment, len(chunks))
	for i, chunk := range chunks {
		vector, err := p.embedder.Embed(ctx, chunk)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			return result, fmt.Errorf("failed to embed chunk %d of %s: %w", i, filename, err)
		}
		fragments[i] = datatypes.Fragment{
			DocID:  docID,
			Text:   chunk,
			Vector: vector,
			Meta: datatypes.FragmentMeta{
				Filename: filename,
				Index:    i,
			},
		}
	}

	if err := p.store.DeleteByDocID(ctx, docID); err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("failed to clear stale fragments for %s: %w", docID, err)
	}
	if err := p.store.Insert(ctx, fragments); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index insert failed")
		return result, fmt.Errorf("failed to index %s: %w", docID, err)
	}

	result.Fragments = len(fragments)
	p.logger.Info("Successfully indexed document",
		"doc_id", docID, "file", filename, "fragments", result.Fragments)
	return result, nil
}

// DeleteDocument removes every fragment indexed under docID. Safe to call
// for documents that were never indexed.
func (p *Pipeline) DeleteDocument(ctx context.Context, docID string) error {
	ctx, span := tracer.Start(ctx, "ingestion.delete_document")
	defer span.End()
	span.SetAttributes(attribute.String("doc_id", docID))

	if p.store == nil {
		return nil
	}
	if err := p.store.DeleteByDocID(ctx, docID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete fragments for %s: %w", docID, err)
	}
	p.logger.Info("Deleted document fragments", "doc_id", docID)
	return nil
}
