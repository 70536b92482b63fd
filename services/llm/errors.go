// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"errors"
	"fmt"
	"strings"
)

// thinkRejectionMarker is the substring the backend includes in the
// error body when a model cannot produce a reasoning trace.
const thinkRejectionMarker = "does not support thinking"

// ConnectionError indicates the backend could not be reached at all.
// No stream bytes were received.
type ConnectionError struct {
	BaseURL string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("backend unreachable at %s: %v", e.BaseURL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a backend connectivity
// failure.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// StreamError indicates the backend accepted the request but the
// stream failed, either with a non-200 status or an error chunk
// mid-stream.
type StreamError struct {
	StatusCode int
	Message    string
}

func (e *StreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("stream failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("stream failed: %s", e.Message)
}

// IsStreamError reports whether err is a backend stream failure.
func IsStreamError(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}

// CapabilityError indicates the model rejected a requested capability
// before producing any output. The client handles this internally by
// retrying once with the capability cleared; it only escapes when the
// rejection happens on the retry itself.
type CapabilityError struct {
	Capability string
	Message    string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("model rejected capability %q: %s", e.Capability, e.Message)
}

// IsCapabilityError reports whether err is a capability rejection.
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// isThinkRejection reports whether a 400 response body carries the
// canonical thinking rejection marker. Any other 400 is a plain
// request error.
func isThinkRejection(statusCode int, body string) bool {
	return statusCode == 400 && strings.Contains(body, thinkRejectionMarker)
}

// EmbeddingError indicates an embedding request failed. Ingestion
// treats this as fatal for the document being indexed.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding with model %s failed: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// IsEmbeddingError reports whether err is an embedding failure.
func IsEmbeddingError(err error) bool {
	var ee *EmbeddingError
	return errors.As(err, &ee)
}
