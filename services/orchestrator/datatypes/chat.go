// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator
// service.
//
// This file contains request types for the chat endpoints. Fragment
// retrieval types live in rag.go, vector schema definitions in
// weaviate_schemas.go.
package datatypes

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxMessageContentBytes is the maximum size of a single user message.
// Larger payloads are rejected before any model call.
const MaxMessageContentBytes = 32 * 1024

// chatValidate is the shared validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) so oversized
// payloads are caught regardless of encoding.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// Message is one turn on the model wire.
//
// Thinking carries the reasoning fragment some backends nest under the
// message instead of the chunk root; it is never sent on requests.
type Message struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

// SendMessageRequest is the body for POST /api/chats/message.
//
// # Fields
//
//   - ChatID: Required. Target conversation.
//   - Content: The user's message. May be blank when attachments are
//     present; a canonical analysis prompt is substituted.
//   - ModelUsed: Optional model override for this turn.
//   - Attachments: Attachment IDs to link to this message.
//   - UseLLMData: When false, the model is instructed to answer only
//     from provided context. Defaults to true.
//   - UseDocuments: Enables fragment retrieval over the chat's
//     documents. Defaults to true.
//   - UseWebSearch: Enables the web search context block.
//     Defaults to false.
//   - EnableThinking: Requests a reasoning trace. Models without the
//     capability fall back transparently.
type SendMessageRequest struct {
	ChatID         int64   `json:"chat_id" validate:"required,gt=0"`
	Content        string  `json:"content" validate:"maxbytes"`
	ModelUsed      string  `json:"model_used"`
	Attachments    []int64 `json:"attachments"`
	UseLLMData     *bool   `json:"use_llm_data"`
	UseDocuments   *bool   `json:"use_documents"`
	UseWebSearch   bool    `json:"use_web_search"`
	EnableThinking bool    `json:"enable_thinking"`
}

// EnsureDefaults fills unset optional flags with their defaults.
func (r *SendMessageRequest) EnsureDefaults() {
	if r.UseLLMData == nil {
		t := true
		r.UseLLMData = &t
	}
	if r.UseDocuments == nil {
		t := true
		r.UseDocuments = &t
	}
}

// Validate checks the request against its constraints.
func (r *SendMessageRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid send message request: %w", err)
	}
	return nil
}

// HasContent reports whether the request carries a non-blank query.
func (r *SendMessageRequest) HasContent() bool {
	return strings.TrimSpace(r.Content) != ""
}

// CreateChatRequest is the body for POST /api/chats.
type CreateChatRequest struct {
	Title string `json:"title"`
}

// EnsureDefaults applies the default title.
func (r *CreateChatRequest) EnsureDefaults() {
	if r.Title == "" {
		r.Title = "New Chat"
	}
}

// UpdateChatRequest is the body for PATCH /api/chats/:id. Nil fields
// are left unchanged; a non-nil Tags replaces the chat's tag set.
type UpdateChatRequest struct {
	Title      *string   `json:"title"`
	IsArchived *bool     `json:"is_archived"`
	Tags       *[]string `json:"tags"`
}

// CreateTagRequest is the body for POST /api/tags.
type CreateTagRequest struct {
	Name  string `json:"name" validate:"required"`
	Color string `json:"color"`
}

// EnsureDefaults applies the default tag color.
func (r *CreateTagRequest) EnsureDefaults() {
	if r.Color == "" {
		r.Color = "#808080"
	}
}

// Validate checks the request against its constraints.
func (r *CreateTagRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid create tag request: %w", err)
	}
	return nil
}

// SearchContextRequest is the body for POST /api/chats/search_context.
// The search scope is the attachments of the given chat.
type SearchContextRequest struct {
	ChatID  int64  `json:"chat_id" validate:"required,gt=0"`
	Content string `json:"content" validate:"maxbytes"`
}

// Validate checks the request against its constraints.
func (r *SearchContextRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid search context request: %w", err)
	}
	return nil
}
