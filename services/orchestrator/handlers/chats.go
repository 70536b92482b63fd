// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tidewater-ai/driftwood/services/orchestrator/conversation"
	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
	"github.com/tidewater-ai/driftwood/services/orchestrator/ingestion"
)

// ConversationHandler serves the chat and tag CRUD endpoints.
type ConversationHandler struct {
	store    *conversation.Store
	pipeline *ingestion.Pipeline
	logger   *slog.Logger
}

// NewConversationHandler builds the handler. The pipeline may be nil
// when vector indexing is disabled; chat deletion then skips fragment
// cleanup.
func NewConversationHandler(store *conversation.Store, pipeline *ingestion.Pipeline, logger *slog.Logger) (*ConversationHandler, error) {
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationHandler{store: store, pipeline: pipeline, logger: logger}, nil
}

// HandleCreateChat processes POST /api/chats.
func (h *ConversationHandler) HandleCreateChat(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleCreateChat")
	defer span.End()

	var req datatypes.CreateChatRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()

	chat, err := h.store.CreateChat(ctx, req.Title)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create chat", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}
	span.SetAttributes(attribute.Int64("chat.id", chat.ID))
	c.JSON(http.StatusCreated, chat)
}

// HandleListChats processes GET /api/chats, most recently updated
// first.
func (h *ConversationHandler) HandleListChats(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleListChats")
	defer span.End()

	chats, err := h.store.ListChats(ctx)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list chats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// HandleGetChat processes GET /api/chats/:id, returning the chat with
// its full message history.
func (h *ConversationHandler) HandleGetChat(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleGetChat")
	defer span.End()

	id, ok := chatIDParam(c)
	if !ok {
		return
	}

	chat, err := h.store.GetChat(ctx, id)
	if err != nil {
		if errors.Is(err, conversation.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}

	messages, err := h.store.ListMessages(ctx, id)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat": chat, "messages": messages})
}

// HandleUpdateChat processes PATCH /api/chats/:id. Absent fields are
// left unchanged.
func (h *ConversationHandler) HandleUpdateChat(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleUpdateChat")
	defer span.End()

	id, ok := chatIDParam(c)
	if !ok {
		return
	}

	var req datatypes.UpdateChatRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	chat, err := h.store.UpdateChat(ctx, id, req.Title, req.IsArchived, req.Tags)
	if err != nil {
		if errors.Is(err, conversation.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to update chat", "chat_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update chat"})
		return
	}
	c.JSON(http.StatusOK, chat)
}

// HandleDeleteChat processes DELETE /api/chats/:id.
//
// The relational rows cascade inside the store; the returned attachment
// IDs are then swept from the vector index. Fragment cleanup is best
// effort, a failed delete only logs.
func (h *ConversationHandler) HandleDeleteChat(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleDeleteChat")
	defer span.End()

	id, ok := chatIDParam(c)
	if !ok {
		return
	}

	attachmentIDs, err := h.store.DeleteChat(ctx, id)
	if err != nil {
		if errors.Is(err, conversation.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to delete chat", "chat_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete chat"})
		return
	}

	if h.pipeline != nil {
		for _, attID := range attachmentIDs {
			docID := strconv.FormatInt(attID, 10)
			if err := h.pipeline.DeleteDocument(ctx, docID); err != nil {
				h.logger.Warn("Failed to delete document fragments",
					"chat_id", id, "doc_id", docID, "error", err)
			}
		}
	}

	span.SetAttributes(attribute.Int("chat.deleted_attachments", len(attachmentIDs)))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// HandleCreateTag processes POST /api/tags.
func (h *ConversationHandler) HandleCreateTag(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleCreateTag")
	defer span.End()

	var req datatypes.CreateTagRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tag, err := h.store.CreateTag(ctx, req.Name, req.Color)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create tag", "name", req.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create tag"})
		return
	}
	c.JSON(http.StatusCreated, tag)
}

// HandleListTags processes GET /api/tags.
func (h *ConversationHandler) HandleListTags(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleListTags")
	defer span.End()

	tags, err := h.store.ListTags(ctx)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tags"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

// chatIDParam parses the :id path parameter, writing the 400 response
// itself when the value is not a positive integer.
func chatIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return 0, false
	}
	return id, true
}
