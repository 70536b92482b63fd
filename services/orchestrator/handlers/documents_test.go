// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-ai/driftwood/services/orchestrator/conversation"
	"github.com/tidewater-ai/driftwood/services/orchestrator/ingestion"
	"github.com/tidewater-ai/driftwood/services/orchestrator/retrieval"
)

type uploadFixture struct {
	router    *gin.Engine
	store     *conversation.Store
	vectors   *retrieval.MemoryStore
	uploadDir string
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := conversation.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	vectors := retrieval.NewMemoryStore()
	pipeline, err := ingestion.NewPipeline(ingestion.NewHTTPConverter(""), lengthEmbedder{}, vectors, nil)
	require.NoError(t, err)

	uploadDir := t.TempDir()
	handler, err := NewDocumentHandler(store, pipeline, uploadDir, nil)
	require.NoError(t, err)

	router := gin.New()
	router.POST("/api/upload", handler.HandleUpload)
	router.DELETE("/api/attachments/:id", handler.HandleDeleteAttachment)

	return &uploadFixture{router: router, store: store, vectors: vectors, uploadDir: uploadDir}
}

func (f *uploadFixture) upload(t *testing.T, chatID int64, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("chat_id", fmt.Sprintf("%d", chatID)))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *uploadFixture) newChat(t *testing.T) int64 {
	t.Helper()
	chat, err := f.store.CreateChat(context.Background(), "uploads")
	require.NoError(t, err)
	return chat.ID
}

type uploadResponse struct {
	Attachment conversation.Attachment `json:"attachment"`
	Fragments  int                     `json:"fragments"`
}

// ============================================================================
// Upload Tests
// ============================================================================

func TestHandleUpload_PlainTextIndexed(t *testing.T) {
	fx := newUploadFixture(t)
	chatID := fx.newChat(t)

	rec := fx.upload(t, chatID, "notes.txt", "The project ships in March.")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "notes.txt", resp.Attachment.FileName)
	assert.Equal(t, chatID, resp.Attachment.ChatID)
	assert.Greater(t, resp.Fragments, 0)
	assert.Equal(t, resp.Fragments, fx.vectors.Count())

	// The converted text is stored for inline context use.
	atts, err := fx.store.AttachmentsByIDs(context.Background(), []int64{resp.Attachment.ID})
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Contains(t, atts[0].ExtractedText, "ships in March")
}

func TestHandleUpload_FileLandsInDatedDirectory(t *testing.T) {
	fx := newUploadFixture(t)
	chatID := fx.newChat(t)

	rec := fx.upload(t, chatID, "report.md", "# Findings\n\nNothing broke.")
	require.Equal(t, http.StatusCreated, rec.Code)

	entries, err := os.ReadDir(fx.uploadDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDir())

	saved := filepath.Join(fx.uploadDir, entries[0].Name(), "report.md")
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Nothing broke")
}

func TestHandleUpload_DuplicateNameGetsSuffix(t *testing.T) {
	fx := newUploadFixture(t)
	chatID := fx.newChat(t)

	require.Equal(t, http.StatusCreated, fx.upload(t, chatID, "notes.txt", "first").Code)
	require.Equal(t, http.StatusCreated, fx.upload(t, chatID, "notes.txt", "second").Code)

	entries, err := os.ReadDir(fx.uploadDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	files, err := os.ReadDir(filepath.Join(fx.uploadDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestHandleUpload_UnsupportedFormat(t *testing.T) {
	fx := newUploadFixture(t)
	chatID := fx.newChat(t)

	rec := fx.upload(t, chatID, "archive.zip", "PK...")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Zero(t, fx.vectors.Count())
}

func TestHandleUpload_MissingChatID(t *testing.T) {
	fx := newUploadFixture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpload_ChatNotFound(t *testing.T) {
	fx := newUploadFixture(t)

	rec := fx.upload(t, 424242, "notes.txt", "content")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUpload_MissingFile(t *testing.T) {
	fx := newUploadFixture(t)
	chatID := fx.newChat(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("chat_id", fmt.Sprintf("%d", chatID)))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// Attachment Delete Tests
// ============================================================================

func TestHandleDeleteAttachment_RemovesEverything(t *testing.T) {
	fx := newUploadFixture(t)
	chatID := fx.newChat(t)

	rec := fx.upload(t, chatID, "doc.txt", "delete me later")
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Greater(t, fx.vectors.Count(), 0)

	delReq := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/attachments/%d", resp.Attachment.ID), nil)
	delRec := httptest.NewRecorder()
	fx.router.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	assert.Zero(t, fx.vectors.Count())
	atts, err := fx.store.AttachmentsByIDs(context.Background(), []int64{resp.Attachment.ID})
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestHandleDeleteAttachment_NotFound(t *testing.T) {
	fx := newUploadFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/attachments/99", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
