// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// ============================================================================
// Chat CRUD
// ============================================================================

func TestCreateChat_DefaultTitle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	chat, err := store.CreateChat(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "New Chat", chat.Title)
	assert.NotZero(t, chat.ID)
	assert.False(t, chat.IsArchived)
}

func TestGetChat_NotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.GetChat(context.Background(), 999)

	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestListChats_OrderedByActivity(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateChat(ctx, "first")
	require.NoError(t, err)
	second, err := store.CreateChat(ctx, "second")
	require.NoError(t, err)

	// Activity on the older chat moves it to the front.
	require.NoError(t, store.AppendMessage(ctx, &Message{ChatID: first.ID, Role: RoleUser, Content: "hi"}))

	chats, err := store.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, first.ID, chats[0].ID)
	assert.Equal(t, second.ID, chats[1].ID)
}

func TestUpdateChat_TitleArchiveAndTags(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "untitled")
	require.NoError(t, err)

	title := "renamed"
	archived := true
	tags := []string{"work", "research"}
	updated, err := store.UpdateChat(ctx, chat.ID, &title, &archived, &tags)

	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.True(t, updated.IsArchived)
	require.Len(t, updated.Tags, 2)
	assert.Equal(t, "research", updated.Tags[0].Name)
	assert.Equal(t, "#808080", updated.Tags[0].Color)
}

func TestUpdateChat_TagReplacementReusesExisting(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateTag(ctx, "work", "#ff0000")
	require.NoError(t, err)
	chat, err := store.CreateChat(ctx, "chat")
	require.NoError(t, err)

	tags := []string{"work"}
	updated, err := store.UpdateChat(ctx, chat.ID, nil, nil, &tags)
	require.NoError(t, err)
	require.Len(t, updated.Tags, 1)
	assert.Equal(t, "#ff0000", updated.Tags[0].Color)

	// Replacing with an empty set clears the chat's tags but keeps the
	// tag itself for other chats.
	empty := []string{}
	updated, err = store.UpdateChat(ctx, chat.ID, nil, nil, &empty)
	require.NoError(t, err)
	assert.Empty(t, updated.Tags)

	all, err := store.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeleteChat_CascadesAndReturnsAttachmentIDs(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "doomed")
	require.NoError(t, err)

	msg := &Message{ChatID: chat.ID, Role: RoleUser, Content: "hello"}
	require.NoError(t, store.AppendMessage(ctx, msg))
	require.NoError(t, store.AddMessageContexts(ctx, msg.ID, []ContextUse{
		{DocumentName: "doc.txt", Content: "snippet", IsActive: true},
	}))

	att := &Attachment{ChatID: chat.ID, FileName: "doc.txt", FilePath: "/tmp/doc.txt"}
	require.NoError(t, store.CreateAttachment(ctx, att))

	ids, err := store.DeleteChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{att.ID}, ids)

	_, err = store.GetChat(ctx, chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)

	messages, err := store.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

// ============================================================================
// Messages
// ============================================================================

func TestAppendMessage_RoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "chat")
	require.NoError(t, err)

	msg := &Message{ChatID: chat.ID, Role: RoleUser, Content: "what is drift?"}
	require.NoError(t, store.AppendMessage(ctx, msg))
	require.NotZero(t, msg.ID)

	messages, err := store.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "what is drift?", messages[0].Content)
	assert.Empty(t, messages[0].AugmentedContent)
	assert.Empty(t, messages[0].ThinkingProcess)
}

func TestSetAugmentedContent_WriteOnce(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "chat")
	require.NoError(t, err)
	msg := &Message{ChatID: chat.ID, Role: RoleUser, Content: "question"}
	require.NoError(t, store.AppendMessage(ctx, msg))

	require.NoError(t, store.SetAugmentedContent(ctx, msg.ID, "full prompt"))

	err = store.SetAugmentedContent(ctx, msg.ID, "another prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already set")

	messages, err := store.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "full prompt", messages[0].AugmentedContent)
}

func TestSetAugmentedContent_MissingMessage(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	err := store.SetAugmentedContent(context.Background(), 42, "prompt")

	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestAppendAssistantTurn_PersistsThinking(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "chat")
	require.NoError(t, err)

	msg, err := store.AppendAssistantTurn(ctx, chat.ID, "the answer", "step by step reasoning", "llama3")
	require.NoError(t, err)

	messages, err := store.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, msg.ID, messages[0].ID)
	assert.Equal(t, RoleAssistant, messages[0].Role)
	assert.Equal(t, "step by step reasoning", messages[0].ThinkingProcess)
	assert.Equal(t, "llama3", messages[0].ModelUsed)
}

func TestRecentHistory_WindowAndOrder(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "chat")
	require.NoError(t, err)

	var lastID int64
	for i := 1; i <= 8; i++ {
		role := RoleUser
		if i%2 == 0 {
			role = RoleAssistant
		}
		msg := &Message{ChatID: chat.ID, Role: role, Content: fmt.Sprintf("turn %d", i)}
		require.NoError(t, store.AppendMessage(ctx, msg))
		lastID = msg.ID
	}

	history, err := store.RecentHistory(ctx, chat.ID, lastID, 5)
	require.NoError(t, err)
	require.Len(t, history, 5)
	// Most recent five before the excluded turn, oldest first.
	assert.Equal(t, "turn 3", history[0].Content)
	assert.Equal(t, "turn 7", history[4].Content)
	for _, msg := range history {
		assert.NotEqual(t, lastID, msg.ID)
	}
}

func TestRecentHistory_UsesOriginalContent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "chat")
	require.NoError(t, err)

	past := &Message{ChatID: chat.ID, Role: RoleUser, Content: "original question"}
	require.NoError(t, store.AppendMessage(ctx, past))
	require.NoError(t, store.SetAugmentedContent(ctx, past.ID, "huge augmented prompt"))

	current := &Message{ChatID: chat.ID, Role: RoleUser, Content: "follow-up"}
	require.NoError(t, store.AppendMessage(ctx, current))

	history, err := store.RecentHistory(ctx, chat.ID, current.ID, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "original question", history[0].Content)
}

// ============================================================================
// Contexts and Attachments
// ============================================================================

func TestAddMessageContexts_RoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "chat")
	require.NoError(t, err)
	msg := &Message{ChatID: chat.ID, Role: RoleUser, Content: "question"}
	require.NoError(t, store.AppendMessage(ctx, msg))

	require.NoError(t, store.AddMessageContexts(ctx, msg.ID, []ContextUse{
		{DocumentID: "3", DocumentName: "report.pdf", Content: "fragment text", IsActive: true},
		{DocumentName: "Web Search: golang sqlite", Source: SourceWebSearch, Content: "results", IsActive: true},
	}))

	contexts, err := store.MessageContexts(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, contexts, 2)
	assert.Equal(t, "report.pdf", contexts[0].DocumentName)
	assert.Equal(t, "3", contexts[0].DocumentID)
	// An unset source is stored as the document default.
	assert.Equal(t, SourceDocument, contexts[0].Source)
	assert.Empty(t, contexts[1].DocumentID)
	assert.Equal(t, SourceWebSearch, contexts[1].Source)
}

func TestAttachments_CreateLinkAndFetch(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "chat")
	require.NoError(t, err)

	att := &Attachment{ChatID: chat.ID, FileName: "notes.md", FilePath: "/tmp/notes.md", FileSize: 120}
	require.NoError(t, store.CreateAttachment(ctx, att))
	require.NoError(t, store.SetExtractedText(ctx, att.ID, "# Notes\ncontent"))

	msg := &Message{ChatID: chat.ID, Role: RoleUser, Content: "see attached"}
	require.NoError(t, store.AppendMessage(ctx, msg))
	require.NoError(t, store.LinkAttachments(ctx, msg.ID, []int64{att.ID}))

	got, err := store.AttachmentsByIDs(ctx, []int64{att.ID, 999})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].MessageID)
	assert.Equal(t, "# Notes\ncontent", got[0].ExtractedText)

	listed, err := store.ListChatAttachments(ctx, chat.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
