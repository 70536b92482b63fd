// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers wires HTTP requests to the chat, retrieval, and
// ingestion services.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tidewater-ai/driftwood/services/llm"
	"github.com/tidewater-ai/driftwood/services/orchestrator/conversation"
	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
	"github.com/tidewater-ai/driftwood/services/orchestrator/observability"
	"github.com/tidewater-ai/driftwood/services/orchestrator/retrieval"
	"github.com/tidewater-ai/driftwood/services/orchestrator/services"
)

var tracer = otel.Tracer("driftwood.handlers")

// heartbeatInterval keeps proxies from dropping idle SSE connections
// during long retrieval or thinking pauses.
const heartbeatInterval = 15 * time.Second

// ChatHandler serves the streaming chat endpoints.
//
// # Description
//
// HandleSendMessage is the main entry point: it persists the user turn,
// assembles the augmented prompt, streams the generated answer over SSE,
// and persists the assistant turn when the stream ends, however it ends.
type ChatHandler struct {
	store         *conversation.Store
	builder       *services.ContextBuilder
	engine        *retrieval.Engine
	llmFor        func(model string) llm.LLMClient
	defaultModel  string
	historyWindow int
	searchTopK    int
	logger        *slog.Logger
}

// ChatHandlerConfig collects the handler's dependencies.
type ChatHandlerConfig struct {
	Store   *conversation.Store
	Builder *services.ContextBuilder
	Engine  *retrieval.Engine

	// LLMFor returns the client to generate with for a requested model.
	// An empty model selects the default.
	LLMFor func(model string) llm.LLMClient

	DefaultModel  string
	HistoryWindow int
	SearchTopK    int
	Logger        *slog.Logger
}

// NewChatHandler validates the config and builds the handler.
func NewChatHandler(cfg ChatHandlerConfig) (*ChatHandler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("context builder is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("retrieval engine is required")
	}
	if cfg.LLMFor == nil {
		return nil, fmt.Errorf("LLM client factory is required")
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	if cfg.SearchTopK <= 0 {
		cfg.SearchTopK = 10
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "llama3"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ChatHandler{
		store:         cfg.Store,
		builder:       cfg.Builder,
		engine:        cfg.Engine,
		llmFor:        cfg.LLMFor,
		defaultModel:  cfg.DefaultModel,
		historyWindow: cfg.HistoryWindow,
		searchTopK:    cfg.SearchTopK,
		logger:        cfg.Logger,
	}, nil
}

// HandleSendMessage processes POST /api/chats/message as an SSE
// stream.
//
// # Description
//
// The flow is:
//  1. Parse and validate the request; verify the chat exists.
//  2. Persist the user turn and link its attachments.
//  3. Switch to SSE and start the keepalive heartbeat.
//  4. Build the augmented prompt, persisting context records and the
//     prompt snapshot.
//  5. Replay recent history and stream generation, forwarding think and
//     content frames as they arrive.
//  6. Persist the assistant turn from the accumulated stream, then emit
//     the [DONE] sentinel.
//
// Failures before the SSE switch are plain HTTP errors; after it they
// become error frames followed by [DONE]. A client disconnect mid-stream
// still persists whatever was generated.
func (h *ChatHandler) HandleSendMessage(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := tracer.Start(c.Request.Context(), "HandleSendMessage")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 1: Parse and validate
	var req datatypes.SendMessageRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(
		attribute.Int64("chat.id", req.ChatID),
		attribute.Bool("request.thinking_enabled", req.EnableThinking),
		attribute.Int("request.attachment_count", len(req.Attachments)),
	)

	if _, err := h.store.GetChat(ctx, req.ChatID); err != nil {
		if errors.Is(err, conversation.ErrChatNotFound) {
			recordError(endpoint, observability.ErrorCodeNotFound)
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		span.RecordError(err)
		recordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}

	// Step 2: Persist the user turn
	content := services.EffectiveContent(req.Content, len(req.Attachments) > 0)
	userMsg := &conversation.Message{
		ChatID:    req.ChatID,
		Role:      conversation.RoleUser,
		Content:   content,
		ModelUsed: req.ModelUsed,
	}
	if err := h.store.AppendMessage(ctx, userMsg); err != nil {
		span.RecordError(err)
		recordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist message"})
		return
	}
	if len(req.Attachments) > 0 {
		if err := h.store.LinkAttachments(ctx, userMsg.ID, req.Attachments); err != nil {
			h.logger.Warn("Failed to link attachments", "message_id", userMsg.ID, "error", err)
		}
	}

	// Step 3: Switch to SSE
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		recordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)
	defer close(heartbeatDone)

	// Step 4: Build the augmented prompt
	buildRes, err := h.builder.Build(ctx, services.BuildInput{
		ChatID:        req.ChatID,
		MessageID:     userMsg.ID,
		Content:       content,
		AttachmentIDs: req.Attachments,
		UseLLMData:    *req.UseLLMData,
		UseDocuments:  *req.UseDocuments,
		UseWebSearch:  req.UseWebSearch,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "context build failed")
		h.logger.Error("Context build failed", "chat_id", req.ChatID, "error", err)
		recordError(endpoint, observability.ErrorCodeInternal)
		writer.WriteError("failed to prepare context")
		writer.WriteDone()
		return
	}

	// Step 5: History window plus the augmented turn
	history, err := h.store.RecentHistory(ctx, req.ChatID, userMsg.ID, h.historyWindow)
	if err != nil {
		h.logger.Warn("Failed to load history, generating without it", "chat_id", req.ChatID, "error", err)
	}
	messages := make([]datatypes.Message, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, datatypes.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, datatypes.Message{Role: conversation.RoleUser, Content: buildRes.Prompt})

	model := req.ModelUsed
	if model == "" {
		model = h.defaultModel
	}

	// Step 6: Stream generation
	result, streamErr := h.streamGeneration(ctx, writer, messages, model, req, span)

	if !result.firstToken.IsZero() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, result.firstToken.Sub(startTime).Seconds())
		}
	}

	// Step 7: Persist whatever was generated, even on failure or
	// disconnect. The request context may already be cancelled.
	persistCtx := context.WithoutCancel(ctx)
	if result.answer != "" || result.thinking != "" {
		if _, err := h.store.AppendAssistantTurn(persistCtx, req.ChatID, result.answer, result.thinking, model); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to persist assistant turn", "chat_id", req.ChatID, "error", err)
		}
	}

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "generation failed")
		h.logger.Error("Generation stream failed",
			"chat_id", req.ChatID,
			"model", model,
			"partial_bytes", len(result.answer),
			"error", streamErr,
		)
		if errors.Is(streamErr, context.Canceled) {
			recordError(endpoint, observability.ErrorCodeClientDisconnect)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordClientDisconnect(endpoint)
			}
		} else {
			recordError(endpoint, observability.ErrorCodeLLMError)
		}
		if !result.errorFrameSent {
			writer.WriteError(sanitizeErrorForClient(streamErr))
		}
		writer.WriteDone()
		return
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordTokens(result.tokenCount, 0, model)
	}

	// Step 8: Terminal sentinel
	if err := writer.WriteDone(); err != nil {
		span.RecordError(err)
		return
	}

	success = true
	span.SetStatus(codes.Ok, "stream completed")
}

// streamResult carries what the stream produced back to the handler.
type streamResult struct {
	answer         string
	thinking       string
	tokenCount     int
	firstToken     time.Time
	errorFrameSent bool
}

// streamGeneration runs ChatStream, forwarding frames to the client and
// accumulating the full answer and reasoning trace in secure buffers.
func (h *ChatHandler) streamGeneration(ctx context.Context, writer SSEWriter, messages []datatypes.Message, model string, req datatypes.SendMessageRequest, span trace.Span) (streamResult, error) {
	var out streamResult

	contentAcc, err := NewSecureTokenAccumulator()
	if err != nil {
		writer.WriteError("generation unavailable")
		out.errorFrameSent = true
		return out, fmt.Errorf("allocating content accumulator: %w", err)
	}
	defer contentAcc.Destroy()

	thinkingAcc, err := NewSecureTokenAccumulator()
	if err != nil {
		writer.WriteError("generation unavailable")
		out.errorFrameSent = true
		return out, fmt.Errorf("allocating thinking accumulator: %w", err)
	}
	defer thinkingAcc.Destroy()

	client := h.llmFor(model)
	params := llm.GenerationParams{Think: req.EnableThinking}

	result, streamErr := client.ChatStream(ctx, messages, params, func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.StreamEventThinking:
			if err := thinkingAcc.Write(ev.Content); err != nil {
				return err
			}
			return writer.WriteThink(ev.Content)
		case llm.StreamEventToken:
			if out.firstToken.IsZero() {
				out.firstToken = time.Now()
			}
			if err := contentAcc.Write(ev.Content); err != nil {
				return err
			}
			return writer.WriteContent(ev.Content)
		case llm.StreamEventError:
			out.errorFrameSent = true
			return writer.WriteError(ev.Error)
		default:
			return nil
		}
	})

	if result.Outcome == llm.OutcomeCapabilityRejected {
		span.SetAttributes(attribute.Bool("stream.think_rejected", true))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordThinkRejection(model)
		}
	}
	out.tokenCount = result.TokenCount

	// Finalize regardless of stream outcome so partial output survives
	// disconnects and mid-stream failures.
	if answer, _, err := contentAcc.Finalize(); err == nil {
		out.answer = answer
	} else {
		h.logger.Warn("Failed to finalize content accumulator", "error", err)
	}
	if thinking, _, err := thinkingAcc.Finalize(); err == nil {
		out.thinking = thinking
	} else {
		h.logger.Warn("Failed to finalize thinking accumulator", "error", err)
	}

	return out, streamErr
}

// HandleSearchContext processes POST /api/chats/search_context,
// returning the fragments most relevant to the query across the chat's
// attachments as plain JSON.
func (h *ChatHandler) HandleSearchContext(c *gin.Context) {
	endpoint := observability.EndpointSearchContext
	ctx, span := tracer.Start(c.Request.Context(), "HandleSearchContext")
	defer span.End()

	var req datatypes.SearchContextRequest
	if err := c.BindJSON(&req); err != nil {
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attachments, err := h.store.ListChatAttachments(ctx, req.ChatID)
	if err != nil {
		span.RecordError(err)
		recordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attachments"})
		return
	}
	docIDs := make([]string, len(attachments))
	for i, att := range attachments {
		docIDs[i] = strconv.FormatInt(att.ID, 10)
	}

	hits := h.engine.Retrieve(ctx, req.Content, docIDs, h.searchTopK)
	span.SetAttributes(attribute.Int("search.hit_count", len(hits)))

	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, true)
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

// runHeartbeat sends keepalive comments until the stream finishes.
func (h *ChatHandler) runHeartbeat(ctx context.Context, writer SSEWriter, endpoint observability.Endpoint, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// sanitizeErrorForClient maps internal failures to messages safe to show
// users.
func sanitizeErrorForClient(err error) string {
	switch {
	case llm.IsConnectionError(err):
		return "LLM backend unavailable"
	case llm.IsStreamError(err):
		return "generation failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "generation timed out"
	case errors.Is(err, context.Canceled):
		return "stream cancelled"
	default:
		return "generation failed"
	}
}

func recordError(endpoint observability.Endpoint, code observability.ErrorCode) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
	}
}
