// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tidewater-ai/driftwood/services/orchestrator/conversation"
	"github.com/tidewater-ai/driftwood/services/orchestrator/ingestion"
	"github.com/tidewater-ai/driftwood/services/orchestrator/observability"
)

// MaxUploadBytes caps a single uploaded file.
const MaxUploadBytes = 50 << 20

// DocumentHandler serves the document upload and delete endpoints.
//
// # Description
//
// An upload is saved under uploadDir in a date-stamped subdirectory,
// recorded as an attachment, then pushed through the ingestion pipeline.
// The attachment keeps the converted text even when vector indexing is
// unavailable, so it stays usable as inline context.
type DocumentHandler struct {
	store     *conversation.Store
	pipeline  *ingestion.Pipeline
	uploadDir string
	logger    *slog.Logger
}

// NewDocumentHandler builds the handler and ensures uploadDir exists.
func NewDocumentHandler(store *conversation.Store, pipeline *ingestion.Pipeline, uploadDir string, logger *slog.Logger) (*DocumentHandler, error) {
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if pipeline == nil {
		return nil, errors.New("ingestion pipeline is required")
	}
	if uploadDir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(uploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{
		store:     store,
		pipeline:  pipeline,
		uploadDir: uploadDir,
		logger:    logger,
	}, nil
}

// HandleUpload processes POST /api/upload as a multipart form with a
// chat_id field and a file part.
//
// Unsupported formats are rejected up front. A conversion failure is an
// error; an indexing failure after successful conversion is not, the
// extracted text is still stored and retrieval simply has no fragments
// for the document.
func (h *DocumentHandler) HandleUpload(c *gin.Context) {
	endpoint := observability.EndpointUpload
	ctx, span := tracer.Start(c.Request.Context(), "HandleUpload")
	defer span.End()

	chatID, err := strconv.ParseInt(c.PostForm("chat_id"), 10, 64)
	if err != nil || chatID <= 0 {
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}
	if _, err := h.store.GetChat(ctx, chatID); err != nil {
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

	fileHeader, err := c.FormFile("file")
	if err != nil {
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > MaxUploadBytes {
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload limit"})
		return
	}

	filename := filepath.Base(fileHeader.Filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return
	}
	if !ingestion.IsSupportedFormat(filename) {
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": fmt.Sprintf("unsupported file format: %s", filepath.Ext(filename))})
		return
	}
	span.SetAttributes(
		attribute.Int64("chat.id", chatID),
		attribute.String("upload.filename", filename),
		attribute.Int64("upload.size_bytes", fileHeader.Size),
	)

	savedPath, err := h.saveUpload(fileHeader, filename)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to save upload", "file", filename, "error", err)
		recordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file"})
		return
	}

	att := &conversation.Attachment{
		ChatID:   chatID,
		FileName: filename,
		FileType: filepath.Ext(filename),
		FileSize: fileHeader.Size,
		FilePath: savedPath,
	}
	if err := h.store.CreateAttachment(ctx, att); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to record attachment", "file", filename, "error", err)
		recordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record attachment"})
		return
	}

	docID := strconv.FormatInt(att.ID, 10)
	res, err := h.pipeline.Ingest(ctx, savedPath, docID)
	if err != nil && res.Text == "" {
		// Conversion failed outright; the attachment is useless.
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingestion failed")
		h.logger.Error("Ingestion failed", "doc_id", docID, "file", filename, "error", err)
		recordError(endpoint, observability.ErrorCodeIngestion)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordDocumentIngested("failure", 0)
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to process document"})
		return
	}
	if err != nil {
		// Converted but not indexed. Keep the text, log the gap.
		span.RecordError(err)
		h.logger.Warn("Document converted but not indexed",
			"doc_id", docID, "file", filename, "error", err)
	}

	if err := h.store.SetExtractedText(ctx, att.ID, res.Text); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to store extracted text", "doc_id", docID, "error", err)
	}

	status := "success"
	if res.Fragments == 0 {
		status = "unindexed"
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordDocumentIngested(status, res.Fragments)
		m.RecordRequest(endpoint, true)
	}
	h.logger.Info("Uploaded document",
		"chat_id", chatID, "doc_id", docID, "file", filename, "fragments", res.Fragments)

	c.JSON(http.StatusCreated, gin.H{
		"attachment": att,
		"fragments":  res.Fragments,
	})
}

// HandleDeleteAttachment processes DELETE /api/attachments/:id, removing
// the stored file, the fragments, and the attachment row.
func (h *DocumentHandler) HandleDeleteAttachment(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleDeleteAttachment")
	defer span.End()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return
	}

	attachments, err := h.store.AttachmentsByIDs(ctx, []int64{id})
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attachment"})
		return
	}
	if len(attachments) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	}
	att := attachments[0]

	docID := strconv.FormatInt(att.ID, 10)
	if err := h.pipeline.DeleteDocument(ctx, docID); err != nil {
		h.logger.Warn("Failed to delete document fragments", "doc_id", docID, "error", err)
	}
	if att.FilePath != "" {
		if err := os.Remove(att.FilePath); err != nil && !os.IsNotExist(err) {
			h.logger.Warn("Failed to remove uploaded file", "path", att.FilePath, "error", err)
		}
	}
	if err := h.store.DeleteAttachment(ctx, att.ID); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete attachment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// saveUpload writes the file under a date-stamped subdirectory. Name
// collisions within a day get a numeric suffix rather than overwriting.
func (h *DocumentHandler) saveUpload(fileHeader *multipart.FileHeader, filename string) (string, error) {
	dir := filepath.Join(h.uploadDir, time.Now().UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create upload subdirectory: %w", err)
	}

	dest := filepath.Join(dir, filename)
	ext := filepath.Ext(filename)
	base := filename[:len(filename)-len(ext)]
	for i := 1; ; i++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return dest, nil
}
