// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes chat stream frames to an HTTP response.
//
// # Description
//
// Every frame is a single SSE data line holding a JSON payload, flushed
// immediately so tokens reach the client as they are generated:
//
//	data: {"type":"think","chunk":"..."}
//	data: {"type":"content","chunk":"..."}
//	data: {"error":"..."}
//
// The stream always terminates with the sentinel frame, regardless of
// how generation ended:
//
//	data: [DONE]
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the heartbeat ticker
// and the token forwarder write from different goroutines.
type SSEWriter interface {
	// WriteThink writes a reasoning-trace chunk frame.
	WriteThink(chunk string) error

	// WriteContent writes an answer chunk frame.
	WriteContent(chunk string) error

	// WriteError writes an error frame. The caller should follow with
	// WriteDone and stop streaming.
	WriteError(errMsg string) error

	// WriteDone writes the terminal sentinel frame. Safe to call once
	// per stream, after all other frames.
	WriteDone() error

	// WriteKeepAlive sends an SSE comment to hold the connection open
	// through long retrieval or thinking pauses. Comments are invisible
	// to clients.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

type chunkFrame struct {
	Type  string `json:"type"`
	Chunk string `json:"chunk"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// sseWriter wraps an http.ResponseWriter to emit chat stream frames.
// Requires http.Flusher support; each frame is flushed as it is written.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

var _ SSEWriter = (*sseWriter)(nil)

// NewSSEWriter creates an SSEWriter over w. The caller must set SSE
// headers via SetSSEHeaders before the first write.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteThink(chunk string) error {
	return w.writeJSON(chunkFrame{Type: "think", Chunk: chunk})
}

func (w *sseWriter) WriteContent(chunk string) error {
	return w.writeJSON(chunkFrame{Type: "content", Chunk: chunk})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.writeJSON(errorFrame{Error: errMsg})
}

func (w *sseWriter) WriteDone() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write done frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keep-alive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) writeJSON(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for server-sent events.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
