// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation persists chats, messages, attachments, and the
// context snapshots captured for each generated turn.
//
// Storage is SQLite in WAL mode. Every write that spans tables runs in a
// transaction, and chat deletion cascades through messages, contexts,
// and attachments so callers only need to clean up vector-store state.
package conversation

import "time"

// Role values stored on messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Context source types stored on message contexts.
const (
	SourceDocument  = "document"
	SourceWebSearch = "web_search"
)

// Chat is a conversation thread.
type Chat struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	IsArchived  bool         `json:"is_archived"`
	Tags        []Tag        `json:"tags"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Tag labels chats for organization. Names are unique.
type Tag struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Message is a single persisted turn.
//
// Content always holds what the user typed or the model answered.
// AugmentedContent holds the full generation prompt for user turns that
// were enriched with context; it is written once, before generation, and
// never rewritten. ThinkingProcess holds the model's reasoning trace for
// assistant turns when the model emitted one.
type Message struct {
	ID               int64     `json:"id"`
	ChatID           int64     `json:"chat_id"`
	Role             string    `json:"role"`
	ModelUsed        string    `json:"model_used,omitempty"`
	Content          string    `json:"content"`
	AugmentedContent string    `json:"augmented_content,omitempty"`
	ThinkingProcess  string    `json:"thinking_process,omitempty"`
	CreatedAt        time.Time `json:"created_at"`

	Contexts []ContextUse `json:"contexts,omitempty"`
}

// Attachment is an uploaded file tied to a chat and, once referenced,
// to the message that used it.
type Attachment struct {
	ID            int64     `json:"id"`
	ChatID        int64     `json:"chat_id"`
	MessageID     int64     `json:"message_id,omitempty"`
	FileName      string    `json:"file_name"`
	FileType      string    `json:"file_type,omitempty"`
	FileSize      int64     `json:"file_size"`
	FilePath      string    `json:"-"`
	ExtractedText string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// ContextUse records one piece of context that went into a generated
// answer: a retrieved document fragment, a full attachment, or web
// search results. Stored against the user message that triggered the
// generation so the provenance of an answer survives. Source is one of
// the Source constants and defaults to SourceDocument when unset.
type ContextUse struct {
	ID           int64     `json:"id"`
	MessageID    int64     `json:"message_id"`
	DocumentID   string    `json:"document_id,omitempty"`
	DocumentName string    `json:"document_name"`
	Source       string    `json:"source"`
	Content      string    `json:"content"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}
