// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (SSEWriter, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)
	return writer, rec
}

func TestSSEWriter_ContentFrame(t *testing.T) {
	t.Parallel()

	writer, rec := newTestWriter(t)
	require.NoError(t, writer.WriteContent("hello"))

	assert.Equal(t, "data: {\"type\":\"content\",\"chunk\":\"hello\"}\n\n", rec.Body.String())
}

func TestSSEWriter_ThinkFrame(t *testing.T) {
	t.Parallel()

	writer, rec := newTestWriter(t)
	require.NoError(t, writer.WriteThink("weighing options"))

	assert.Equal(t, "data: {\"type\":\"think\",\"chunk\":\"weighing options\"}\n\n", rec.Body.String())
}

func TestSSEWriter_ErrorFrame(t *testing.T) {
	t.Parallel()

	writer, rec := newTestWriter(t)
	require.NoError(t, writer.WriteError("backend unavailable"))

	assert.Equal(t, "data: {\"error\":\"backend unavailable\"}\n\n", rec.Body.String())
}

func TestSSEWriter_DoneSentinel(t *testing.T) {
	t.Parallel()

	writer, rec := newTestWriter(t)
	require.NoError(t, writer.WriteDone())

	assert.Equal(t, "data: [DONE]\n\n", rec.Body.String())
}

func TestSSEWriter_KeepAliveIsComment(t *testing.T) {
	t.Parallel()

	writer, rec := newTestWriter(t)
	require.NoError(t, writer.WriteKeepAlive())

	assert.Equal(t, ": ping\n\n", rec.Body.String())
}

func TestSSEWriter_ChunkEscaping(t *testing.T) {
	t.Parallel()

	writer, rec := newTestWriter(t)
	require.NoError(t, writer.WriteContent("line one\nline \"two\""))

	// Newlines inside a chunk must stay JSON-escaped so they cannot
	// break SSE framing.
	assert.Equal(t, "data: {\"type\":\"content\",\"chunk\":\"line one\\nline \\\"two\\\"\"}\n\n", rec.Body.String())
}

func TestSSEWriter_RequiresFlusher(t *testing.T) {
	t.Parallel()

	_, err := NewSSEWriter(plainResponseWriter{})
	require.Error(t, err)
}

func TestSSEWriter_ConcurrentFramesStayWhole(t *testing.T) {
	t.Parallel()

	writer, rec := newTestWriter(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = writer.WriteContent("token")
			_ = writer.WriteKeepAlive()
		}()
	}
	wg.Wait()

	frames, done := parseStream(t, rec.Body.String())
	assert.False(t, done)
	assert.Len(t, frames, 20)
}

func TestSetSSEHeaders(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

// plainResponseWriter deliberately lacks http.Flusher.
type plainResponseWriter struct{}

func (plainResponseWriter) Header() http.Header         { return http.Header{} }
func (plainResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (plainResponseWriter) WriteHeader(int)             {}
