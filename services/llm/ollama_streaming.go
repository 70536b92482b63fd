// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
)

// StreamConfig controls stream processing behavior.
type StreamConfig struct {
	// RedactThinking suppresses thinking events entirely. Thinking
	// content is still consumed from the wire but never reaches the
	// callback.
	RedactThinking bool

	// MaxThinkingLength caps total thinking characters forwarded.
	// 0 means unlimited.
	MaxThinkingLength int

	// MaxResponseLength caps total response characters forwarded.
	// 0 means unlimited.
	MaxResponseLength int

	// RateLimitPerSecond caps forwarded events per second.
	// 0 disables rate limiting.
	RateLimitPerSecond int
}

// DefaultStreamConfig returns the config used by ChatStream: thinking
// forwarded unredacted and uncapped, responses capped at 100KB.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxResponseLength: 100 * 1024,
	}
}

// ollamaStreamChunk is one NDJSON line of a streaming chat response.
type ollamaStreamChunk struct {
	Message       datatypes.Message `json:"message"`
	Thinking      string            `json:"thinking"`
	Done          bool              `json:"done"`
	DoneReason    string            `json:"done_reason"`
	TotalDuration int64             `json:"total_duration"`
	Error         string            `json:"error"`
}

type ollamaChatStreamRequest struct {
	Model    string              `json:"model"`
	Messages []datatypes.Message `json:"messages"`
	Stream   bool                `json:"stream"`
	Think    bool                `json:"think,omitempty"`
	Options  map[string]any      `json:"options,omitempty"`
}

// StreamProcessor consumes parsed chunks and drives the callback.
type StreamProcessor interface {
	// ProcessChunk handles one chunk. Returns done=true when the
	// stream should stop (final chunk or error chunk).
	ProcessChunk(ctx context.Context, chunk *ollamaStreamChunk, callback StreamCallback) (bool, error)

	// GetTokenCount returns the number of content tokens forwarded.
	GetTokenCount() int

	// GetResponseLength returns total response characters forwarded.
	GetResponseLength() int

	// GetDoneReason returns the backend's completion reason, if any.
	GetDoneReason() string
}

// DefaultStreamProcessor applies StreamConfig limits while forwarding
// events. Not safe for concurrent use; each stream gets its own.
type DefaultStreamProcessor struct {
	cfg            StreamConfig
	logger         *slog.Logger
	tokenCount     int
	responseLength int
	thinkingLength int
	doneReason     string
	lastEmit       time.Time
}

// NewDefaultStreamProcessor creates a processor for a single stream.
// A nil logger falls back to slog.Default().
func NewDefaultStreamProcessor(cfg StreamConfig, logger *slog.Logger) *DefaultStreamProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultStreamProcessor{cfg: cfg, logger: logger}
}

var _ StreamProcessor = (*DefaultStreamProcessor)(nil)

// ProcessChunk implements StreamProcessor.
func (p *DefaultStreamProcessor) ProcessChunk(ctx context.Context,
	chunk *ollamaStreamChunk, callback StreamCallback) (bool, error) {

	if chunk.Error != "" {
		if err := callback(StreamEvent{Type: StreamEventError, Error: chunk.Error}); err != nil {
			p.logger.Warn("error event callback failed", "error", err)
		}
		return true, &StreamError{Message: chunk.Error}
	}

	// Reasoning arrives top-level or nested under message depending
	// on backend version.
	thinking := chunk.Thinking
	if thinking == "" {
		thinking = chunk.Message.Thinking
	}
	if thinking != "" && !p.cfg.RedactThinking {
		content := thinking
		if p.cfg.MaxThinkingLength > 0 {
			remaining := p.cfg.MaxThinkingLength - p.thinkingLength
			if remaining <= 0 {
				content = ""
			} else if len(content) > remaining {
				content = truncateAtRune(content, remaining)
			}
		}
		if content != "" {
			p.thinkingLength += len(content)
			if err := p.emit(StreamEvent{Type: StreamEventThinking, Content: content}, callback); err != nil {
				return false, err
			}
		}
	}

	if chunk.Message.Content != "" {
		content := chunk.Message.Content
		if p.cfg.MaxResponseLength > 0 {
			remaining := p.cfg.MaxResponseLength - p.responseLength
			if remaining <= 0 {
				content = ""
			} else if len(content) > remaining {
				content = truncateAtRune(content, remaining)
			}
		}
		if content != "" {
			p.tokenCount++
			p.responseLength += len(content)
			if err := p.emit(StreamEvent{Type: StreamEventToken, Content: content}, callback); err != nil {
				return false, err
			}
		}
	}

	if chunk.Done {
		p.doneReason = chunk.DoneReason
		return true, nil
	}
	return false, nil
}

// truncateAtRune cuts s to at most n bytes without splitting a
// multi-byte rune. The caller guarantees len(s) > n.
func truncateAtRune(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// emit forwards one event, honoring the rate limit.
func (p *DefaultStreamProcessor) emit(event StreamEvent, callback StreamCallback) error {
	if p.cfg.RateLimitPerSecond > 0 {
		minInterval := time.Second / time.Duration(p.cfg.RateLimitPerSecond)
		if elapsed := time.Since(p.lastEmit); elapsed < minInterval {
			time.Sleep(minInterval - elapsed)
		}
		p.lastEmit = time.Now()
	}
	if err := callback(event); err != nil {
		return fmt.Errorf("stream callback failed: %w", err)
	}
	return nil
}

// GetTokenCount implements StreamProcessor.
func (p *DefaultStreamProcessor) GetTokenCount() int { return p.tokenCount }

// GetResponseLength implements StreamProcessor.
func (p *DefaultStreamProcessor) GetResponseLength() int { return p.responseLength }

// GetDoneReason implements StreamProcessor.
func (p *DefaultStreamProcessor) GetDoneReason() string { return p.doneReason }

// parseStreamChunk parses one NDJSON line into a chunk.
func (o *OllamaClient) parseStreamChunk(line []byte) (*ollamaStreamChunk, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("stream line is not a JSON object")
	}
	var chunk ollamaStreamChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse stream chunk: %w", err)
	}
	return &chunk, nil
}

// ChatStream implements the LLMClient interface.
//
// # Description
//
// Streams a chat completion over NDJSON, invoking callback for each
// increment. When params.Think is set and the model rejects the
// thinking capability, the request is retried exactly once without it
// and the result carries OutcomeCapabilityRejected. The rejection is
// detected before any stream bytes are forwarded, so the caller never
// sees partial output from the failed attempt.
//
// # Errors
//
//   - *ConnectionError: backend unreachable, no bytes received.
//   - *StreamError: non-200 status or mid-stream error chunk.
//   - context errors: cancellation or deadline during streaming.
//
// The result's Outcome is OutcomeFatal exactly when the returned
// error is non-nil.
func (o *OllamaClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) (StreamResult, error) {

	return o.ChatStreamWithConfig(ctx, messages, params, callback, DefaultStreamConfig())
}

// ChatStreamWithConfig is ChatStream with explicit stream processing
// limits.
func (o *OllamaClient) ChatStreamWithConfig(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback, cfg StreamConfig) (StreamResult, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
		attribute.Bool("llm.think_requested", params.Think),
	)

	result, err := o.streamOnce(ctx, messages, params, cfg, callback, params.Think)
	if err == nil {
		result.Outcome = OutcomeOK
		return result, nil
	}

	if params.Think && IsCapabilityError(err) {
		slog.Warn("model rejected thinking capability, retrying without",
			"model", o.model, "error", err)
		span.AddEvent("thinking capability rejected, retrying without")

		result, err = o.streamOnce(ctx, messages, params, cfg, callback, false)
		if err == nil {
			result.Outcome = OutcomeCapabilityRejected
			return result, nil
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	result.Outcome = OutcomeFatal
	return result, err
}

// streamOnce performs a single streaming attempt.
func (o *OllamaClient) streamOnce(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, cfg StreamConfig, callback StreamCallback, think bool) (StreamResult, error) {

	var result StreamResult

	payload := ollamaChatStreamRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
		Think:    think,
		Options:  buildOptions(params),
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return result, fmt.Errorf("failed to marshal stream request to Ollama: %w", err)
	}

	chatURL := o.baseURL + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, "POST", chatURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return result, fmt.Errorf("failed to create stream request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("stream request cancelled: %w", ctx.Err())
		}
		return result, &ConnectionError{BaseURL: o.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		if think && isThinkRejection(resp.StatusCode, string(body)) {
			return result, &CapabilityError{Capability: "thinking", Message: string(body)}
		}
		slog.Error("Ollama stream returned an error",
			"status_code", resp.StatusCode, "response", string(body))
		return result, &StreamError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	processor := NewDefaultStreamProcessor(cfg, slog.Default())
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		chunk, err := o.parseStreamChunk(line)
		if err != nil {
			slog.Warn("skipping malformed stream chunk", "error", err)
			continue
		}

		done, err := processor.ProcessChunk(ctx, chunk, callback)
		result.TokenCount = processor.GetTokenCount()
		result.ResponseLength = processor.GetResponseLength()
		result.DoneReason = processor.GetDoneReason()
		if err != nil {
			return result, err
		}
		if done {
			return result, nil
		}
	}

	result.TokenCount = processor.GetTokenCount()
	result.ResponseLength = processor.GetResponseLength()
	result.DoneReason = processor.GetDoneReason()

	if ctx.Err() != nil {
		return result, fmt.Errorf("stream cancelled: %w", ctx.Err())
	}
	if err := scanner.Err(); err != nil {
		return result, &StreamError{Message: fmt.Sprintf("reading stream: %v", err)}
	}

	// Stream closed without a done chunk. Treat as complete; the
	// accumulated content is still usable.
	slog.Warn("stream ended without done chunk", "model", o.model)
	return result, nil
}
