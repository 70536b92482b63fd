// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides clients for the model backend: streaming chat
// generation, one-shot generation, embeddings, and model listing.
package llm

import (
	"context"

	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
)

// GenerationParams holds optional sampling parameters for a generation
// request. Nil pointer fields fall back to the backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// Think requests a reasoning trace alongside the answer. Models
	// that do not support the capability reject the request; the
	// client retries once without it and reports the downgrade in
	// the stream result.
	Think bool `json:"think"`
}

// StreamEventType classifies events emitted during a chat stream.
type StreamEventType int

const (
	// StreamEventToken carries a fragment of the visible answer.
	StreamEventToken StreamEventType = iota

	// StreamEventThinking carries a fragment of the reasoning trace.
	StreamEventThinking

	// StreamEventError carries a mid-stream backend error. The stream
	// terminates after this event.
	StreamEventError

	// StreamEventDone marks normal stream completion.
	StreamEventDone
)

// String returns the event type name for logging.
func (t StreamEventType) String() string {
	switch t {
	case StreamEventToken:
		return "token"
	case StreamEventThinking:
		return "thinking"
	case StreamEventError:
		return "error"
	case StreamEventDone:
		return "done"
	default:
		return "unknown"
	}
}

// StreamEvent is a single increment emitted during streaming.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in arrival order. Returning a
// non-nil error aborts the stream.
type StreamCallback func(event StreamEvent) error

// StreamOutcome tags how a chat stream concluded.
type StreamOutcome int

const (
	// OutcomeOK means the stream completed with the requested
	// capabilities.
	OutcomeOK StreamOutcome = iota

	// OutcomeCapabilityRejected means the model rejected the thinking
	// capability and the stream completed on a single retry without
	// it. No thinking events were emitted.
	OutcomeCapabilityRejected

	// OutcomeFatal means the stream failed. The accompanying error
	// describes the failure.
	OutcomeFatal
)

// String returns the outcome name for logging.
func (o StreamOutcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeCapabilityRejected:
		return "capability_rejected"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// StreamResult summarizes a completed (or failed) chat stream.
type StreamResult struct {
	Outcome        StreamOutcome
	TokenCount     int
	ResponseLength int
	DoneReason     string
}

// LLMClient defines the standard interface for the model backend.
type LLMClient interface {
	// Generate performs a one-shot, non-streamed completion. Used for
	// auxiliary calls such as search query derivation.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// ChatStream streams a chat completion, invoking callback for
	// each increment. The result's Outcome is OutcomeFatal exactly
	// when the returned error is non-nil.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) (StreamResult, error)
}
