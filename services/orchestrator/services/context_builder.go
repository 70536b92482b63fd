// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tidewater-ai/driftwood/services/llm"
	"github.com/tidewater-ai/driftwood/services/orchestrator/conversation"
	"github.com/tidewater-ai/driftwood/services/orchestrator/retrieval"
)

var tracer = otel.Tracer("driftwood.services")

const strictInstruction = "You are a stricter assistant. Answer ONLY using the provided context (Files, Documents, Web Search). Do not use your internal knowledge base. If the answer is not in the context, say 'I cannot answer this based on the provided context.'\n\n"

const attachmentOnlyPrompt = "Please analyze the attached document(s)."

// EffectiveContent returns what generation should treat as the user's
// request: the typed content, or a fixed analysis prompt when the user
// sent attachments with no text.
func EffectiveContent(content string, hasAttachments bool) string {
	if strings.TrimSpace(content) == "" && hasAttachments {
		return attachmentOnlyPrompt
	}
	return content
}

// ContextBuilder assembles the augmented generation prompt for a user
// turn: referenced file contents, retrieved fragments plus full document
// text, and web search results, each persisted as context records on the
// user message before generation starts.
type ContextBuilder struct {
	store     *conversation.Store
	engine    *retrieval.Engine
	searcher  WebSearcher
	llmClient llm.LLMClient
	topK      int
	logger    *slog.Logger
}

// NewContextBuilder creates a builder. searcher may be nil when web
// search is not configured; engine may have a nil store behind it.
func NewContextBuilder(store *conversation.Store, engine *retrieval.Engine, searcher WebSearcher, llmClient llm.LLMClient, topK int, logger *slog.Logger) (*ContextBuilder, error) {
	if store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("retrieval engine is required")
	}
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{
		store:     store,
		engine:    engine,
		searcher:  searcher,
		llmClient: llmClient,
		topK:      topK,
		logger:    logger,
	}, nil
}

// BuildInput describes the user turn being answered. MessageID must
// reference the already-persisted user message; the builder writes the
// turn's context records and augmented prompt against it.
type BuildInput struct {
	ChatID        int64
	MessageID     int64
	Content       string
	AttachmentIDs []int64
	UseLLMData    bool
	UseDocuments  bool
	UseWebSearch  bool
}

// BuildResult is the assembled prompt plus what went into it.
type BuildResult struct {
	Prompt      string
	Contexts    []conversation.ContextUse
	SearchQuery string
}

// Build assembles the generation prompt for a user turn.
//
// # Description
//
// The prompt layers, in order: the strict-answering instruction when
// internal model knowledge is disabled, the text of files attached to
// this message, retrieved fragments and full document text for the
// chat's attachments, and web search results. Whatever context was
// gathered is persisted as message context records and the final prompt
// is saved as the message's augmented content before this returns, so
// the stored snapshot always matches what the model sees.
//
// Context gathering never fails the turn: a broken retrieval backend
// contributes nothing and a failed web search contributes a failure
// marker the model can see.
func (b *ContextBuilder) Build(ctx context.Context, input BuildInput) (*BuildResult, error) {
	ctx, span := tracer.Start(ctx, "context_builder.build")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_id", input.ChatID),
		attribute.Bool("use_documents", input.UseDocuments),
		attribute.Bool("use_web_search", input.UseWebSearch),
	)

	var systemInstruction string
	if !input.UseLLMData {
		systemInstruction = strictInstruction
	}

	var contexts []conversation.ContextUse

	attachedContext, err := b.buildAttachedContext(ctx, input.AttachmentIDs)
	if err != nil {
		return nil, err
	}

	var webContext, searchQuery string
	if input.UseWebSearch {
		webContext, searchQuery = b.buildWebContext(ctx, input.Content, &contexts)
	}

	var ragContext string
	if input.UseDocuments {
		ragContext, err = b.buildRAGContext(ctx, input.ChatID, input.Content, &contexts)
		if err != nil {
			return nil, err
		}
	}

	finalContent := input.Content
	contextBlock := attachedContext + ragContext + webContext
	if contextBlock != "" {
		finalContent = fmt.Sprintf("%sUser uploaded files/context. Use the following context to answer.\n\nContext:\n%s\n\nUser Query: %s",
			systemInstruction, contextBlock, input.Content)
	} else if systemInstruction != "" {
		finalContent = fmt.Sprintf("%s\nUser Query: %s", systemInstruction, input.Content)
	}

	if err := b.store.AddMessageContexts(ctx, input.MessageID, contexts); err != nil {
		return nil, fmt.Errorf("persisting message contexts: %w", err)
	}
	if err := b.store.SetAugmentedContent(ctx, input.MessageID, finalContent); err != nil {
		return nil, fmt.Errorf("persisting augmented content: %w", err)
	}

	span.SetAttributes(attribute.Int("context_count", len(contexts)))
	return &BuildResult{
		Prompt:      finalContent,
		Contexts:    contexts,
		SearchQuery: searchQuery,
	}, nil
}

// buildAttachedContext inlines the extracted text of files referenced by
// this message.
func (b *ContextBuilder) buildAttachedContext(ctx context.Context, attachmentIDs []int64) (string, error) {
	if len(attachmentIDs) == 0 {
		return "", nil
	}
	attachments, err := b.store.AttachmentsByIDs(ctx, attachmentIDs)
	if err != nil {
		return "", fmt.Errorf("loading attachments: %w", err)
	}

	var sb strings.Builder
	for _, att := range attachments {
		if att.ExtractedText == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n\n--- FILE: %s ---\n%s\n--- END FILE ---\n", att.FileName, att.ExtractedText)
	}
	return sb.String(), nil
}

// buildWebContext derives a search query, runs the search, and returns
// the context block plus the query used. Failed searches produce a
// visible marker and no persisted context record.
func (b *ContextBuilder) buildWebContext(ctx context.Context, content string, contexts *[]conversation.ContextUse) (string, string) {
	if b.searcher == nil {
		b.logger.Warn("Web search requested but not configured")
		return "\n[Web Search Failed: web search not configured]\n", ""
	}

	query := content
	if b.llmClient != nil {
		query = DeriveSearchQuery(ctx, b.llmClient, content)
	}

	results, err := b.searcher.Search(ctx, query)
	if err != nil {
		b.logger.Warn("Web search failed", "query", query, "error", err)
		return fmt.Sprintf("\n[Web Search Failed: %s]\n", err.Error()), query
	}

	*contexts = append(*contexts, conversation.ContextUse{
		DocumentName: fmt.Sprintf("Web Search: %s", query),
		Source:       conversation.SourceWebSearch,
		Content:      results,
		IsActive:     true,
	})
	return fmt.Sprintf("\n\n--- WEB SEARCH RESULTS (%s) ---\n%s\n--- END WEB SEARCH ---\n", query, results), query
}

// buildRAGContext retrieves the fragments most relevant to the query
// across the chat's attachments and appends each document's full text.
func (b *ContextBuilder) buildRAGContext(ctx context.Context, chatID int64, content string, contexts *[]conversation.ContextUse) (string, error) {
	chatAttachments, err := b.store.ListChatAttachments(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("loading chat attachments: %w", err)
	}
	if len(chatAttachments) == 0 {
		return "", nil
	}

	docIDs := make([]string, len(chatAttachments))
	for i, att := range chatAttachments {
		docIDs[i] = strconv.FormatInt(att.ID, 10)
	}

	hits := b.engine.Retrieve(ctx, content, docIDs, b.topK)

	fragmentParts := make([]string, 0, len(hits))
	for _, hit := range hits {
		docName := hit.DocumentName()
		fragmentParts = append(fragmentParts, fmt.Sprintf("--- DOCUMENT: %s ---\n%s\n", docName, hit.Text))
		*contexts = append(*contexts, conversation.ContextUse{
			DocumentID:   hit.DocID,
			DocumentName: docName,
			Source:       conversation.SourceDocument,
			Content:      hit.Text,
			IsActive:     true,
		})
	}

	var fullDocs strings.Builder
	for _, att := range chatAttachments {
		if att.ExtractedText == "" {
			continue
		}
		fmt.Fprintf(&fullDocs, "\n\n--- FULL DOCUMENT: %s ---\n%s\n", att.FileName, att.ExtractedText)
	}

	if len(fragmentParts) == 0 && fullDocs.Len() == 0 {
		return "", nil
	}
	return "\n\nRelevant Context from Documents:\n" + fullDocs.String() + strings.Join(fragmentParts, "\n"), nil
}
