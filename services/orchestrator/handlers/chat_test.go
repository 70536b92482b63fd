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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-ai/driftwood/services/llm"
	"github.com/tidewater-ai/driftwood/services/orchestrator/conversation"
	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
	"github.com/tidewater-ai/driftwood/services/orchestrator/retrieval"
	"github.com/tidewater-ai/driftwood/services/orchestrator/services"
)

// ============================================================================
// Test Fixtures
// ============================================================================

// lengthEmbedder gives deterministic vectors so retrieval ranking is
// predictable without a real embedding backend.
type lengthEmbedder struct{}

func (lengthEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

// fakeStreamClient scripts a generation stream.
type fakeStreamClient struct {
	mu        sync.Mutex
	model     string
	thinking  []string
	tokens    []string
	streamErr error
	outcome   llm.StreamOutcome

	gotMessages []datatypes.Message
	gotParams   llm.GenerationParams
}

func (f *fakeStreamClient) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return "", nil
}

func (f *fakeStreamClient) ChatStream(_ context.Context, messages []datatypes.Message, params llm.GenerationParams, callback llm.StreamCallback) (llm.StreamResult, error) {
	f.mu.Lock()
	f.gotMessages = messages
	f.gotParams = params
	f.mu.Unlock()

	for _, chunk := range f.thinking {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventThinking, Content: chunk}); err != nil {
			return llm.StreamResult{Outcome: llm.OutcomeFatal}, err
		}
	}
	for _, chunk := range f.tokens {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: chunk}); err != nil {
			return llm.StreamResult{Outcome: llm.OutcomeFatal}, err
		}
	}
	if f.streamErr != nil {
		return llm.StreamResult{Outcome: llm.OutcomeFatal, TokenCount: len(f.tokens)}, f.streamErr
	}
	if err := callback(llm.StreamEvent{Type: llm.StreamEventDone}); err != nil {
		return llm.StreamResult{Outcome: llm.OutcomeFatal}, err
	}
	return llm.StreamResult{Outcome: f.outcome, TokenCount: len(f.tokens)}, nil
}

type chatFixture struct {
	router  *gin.Engine
	store   *conversation.Store
	vectors *retrieval.MemoryStore
	client  *fakeStreamClient
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	t.Setenv("DRIFTWOOD_INSECURE_MEMORY", "true")
	gin.SetMode(gin.TestMode)

	store, err := conversation.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	vectors := retrieval.NewMemoryStore()
	engine := retrieval.NewEngine(lengthEmbedder{}, vectors, nil)
	builder, err := services.NewContextBuilder(store, engine, nil, nil, retrieval.DefaultTopK, nil)
	require.NoError(t, err)

	client := &fakeStreamClient{}
	handler, err := NewChatHandler(ChatHandlerConfig{
		Store:   store,
		Builder: builder,
		Engine:  engine,
		LLMFor: func(model string) llm.LLMClient {
			client.model = model
			return client
		},
		DefaultModel: "llama3",
	})
	require.NoError(t, err)

	router := gin.New()
	router.POST("/api/chats/message", handler.HandleSendMessage)
	router.POST("/api/chats/search_context", handler.HandleSearchContext)

	return &chatFixture{router: router, store: store, vectors: vectors, client: client}
}

func (f *chatFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *chatFixture) newChat(t *testing.T) int64 {
	t.Helper()
	chat, err := f.store.CreateChat(context.Background(), "test chat")
	require.NoError(t, err)
	return chat.ID
}

// sseFrame is a decoded data frame from the stream body.
type sseFrame struct {
	Type  string `json:"type"`
	Chunk string `json:"chunk"`
	Error string `json:"error"`
}

// parseStream decodes every data frame and reports whether the stream
// ended with the [DONE] sentinel.
func parseStream(t *testing.T, body string) ([]sseFrame, bool) {
	t.Helper()
	var frames []sseFrame
	done := false
	for _, line := range strings.Split(body, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		require.False(t, done, "frame after [DONE]: %q", line)
		if payload == "[DONE]" {
			done = true
			continue
		}
		var frame sseFrame
		require.NoError(t, json.Unmarshal([]byte(payload), &frame), "bad frame: %q", line)
		frames = append(frames, frame)
	}
	return frames, done
}

func joinChunks(frames []sseFrame, frameType string) string {
	var b strings.Builder
	for _, f := range frames {
		if f.Type == frameType {
			b.WriteString(f.Chunk)
		}
	}
	return b.String()
}

// ============================================================================
// Send Message Tests
// ============================================================================

func TestHandleSendMessage_StreamsContentAndPersists(t *testing.T) {
	fx := newChatFixture(t)
	chatID := fx.newChat(t)
	fx.client.tokens = []string{"The answer", " is", " 42."}

	rec := fx.post(t, "/api/chats/message", datatypes.SendMessageRequest{
		ChatID:  chatID,
		Content: "what is the answer?",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames, done := parseStream(t, rec.Body.String())
	assert.True(t, done, "stream should end with [DONE]")
	assert.Equal(t, "The answer is 42.", joinChunks(frames, "content"))

	messages, err := fx.store.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, conversation.RoleUser, messages[0].Role)
	assert.Equal(t, "what is the answer?", messages[0].Content)
	assert.Equal(t, conversation.RoleAssistant, messages[1].Role)
	assert.Equal(t, "The answer is 42.", messages[1].Content)
	assert.Equal(t, "llama3", messages[1].ModelUsed)
}

func TestHandleSendMessage_ThinkFramesBeforeContent(t *testing.T) {
	fx := newChatFixture(t)
	chatID := fx.newChat(t)
	fx.client.thinking = []string{"Let me think", " about this."}
	fx.client.tokens = []string{"Done thinking."}

	rec := fx.post(t, "/api/chats/message", datatypes.SendMessageRequest{
		ChatID:         chatID,
		Content:        "hard question",
		EnableThinking: true,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	frames, done := parseStream(t, rec.Body.String())
	assert.True(t, done)
	assert.Equal(t, "Let me think about this.", joinChunks(frames, "think"))
	assert.Equal(t, "Done thinking.", joinChunks(frames, "content"))

	// Think frames arrive before any content frame.
	firstContent := -1
	lastThink := -1
	for i, f := range frames {
		switch f.Type {
		case "content":
			if firstContent == -1 {
				firstContent = i
			}
		case "think":
			lastThink = i
		}
	}
	assert.Less(t, lastThink, firstContent)

	assert.True(t, fx.client.gotParams.Think, "think should be requested from the backend")

	messages, err := fx.store.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Let me think about this.", messages[1].ThinkingProcess)
}

func TestHandleSendMessage_ModelOverride(t *testing.T) {
	fx := newChatFixture(t)
	chatID := fx.newChat(t)
	fx.client.tokens = []string{"ok"}

	rec := fx.post(t, "/api/chats/message", datatypes.SendMessageRequest{
		ChatID:    chatID,
		Content:   "hello",
		ModelUsed: "qwen3:8b",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "qwen3:8b", fx.client.model)

	messages, err := fx.store.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "qwen3:8b", messages[1].ModelUsed)
}

func TestHandleSendMessage_HistoryReplayedBeforePrompt(t *testing.T) {
	fx := newChatFixture(t)
	chatID := fx.newChat(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, fx.store.AppendMessage(context.Background(), &conversation.Message{
			ChatID: chatID, Role: conversation.RoleUser, Content: fmt.Sprintf("question %d", i),
		}))
		_, err := fx.store.AppendAssistantTurn(context.Background(), chatID, fmt.Sprintf("answer %d", i), "", "llama3")
		require.NoError(t, err)
	}
	fx.client.tokens = []string{"ok"}

	rec := fx.post(t, "/api/chats/message", datatypes.SendMessageRequest{
		ChatID:  chatID,
		Content: "follow-up",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got := fx.client.gotMessages
	require.NotEmpty(t, got)

	// Prior turns come first, original content only, then the current
	// turn carrying the built prompt.
	last := got[len(got)-1]
	assert.Equal(t, conversation.RoleUser, last.Role)
	assert.Contains(t, last.Content, "User Query: follow-up")
	for _, msg := range got[:len(got)-1] {
		assert.NotContains(t, msg.Content, "User Query:")
	}
	assert.Equal(t, "answer 2", got[len(got)-2].Content)
}

func TestHandleSendMessage_InvalidBody(t *testing.T) {
	fx := newChatFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chats/message", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSendMessage_MissingChatID(t *testing.T) {
	fx := newChatFixture(t)

	rec := fx.post(t, "/api/chats/message", datatypes.SendMessageRequest{Content: "hello"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSendMessage_ChatNotFound(t *testing.T) {
	fx := newChatFixture(t)

	rec := fx.post(t, "/api/chats/message", datatypes.SendMessageRequest{
		ChatID:  9999,
		Content: "hello",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSendMessage_StreamFailurePersistsPartial(t *testing.T) {
	fx := newChatFixture(t)
	chatID := fx.newChat(t)
	fx.client.tokens = []string{"partial ", "output"}
	fx.client.streamErr = errors.New("backend fell over")

	rec := fx.post(t, "/api/chats/message", datatypes.SendMessageRequest{
		ChatID:  chatID,
		Content: "hello",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	frames, done := parseStream(t, rec.Body.String())
	assert.True(t, done, "[DONE] must terminate failed streams too")
	assert.Equal(t, "partial output", joinChunks(frames, "content"))

	var errorFrames []sseFrame
	for _, f := range frames {
		if f.Error != "" {
			errorFrames = append(errorFrames, f)
		}
	}
	require.Len(t, errorFrames, 1)

	messages, err := fx.store.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "partial output", messages[1].Content)
}

func TestHandleSendMessage_CapabilityRejectedStillCompletes(t *testing.T) {
	fx := newChatFixture(t)
	chatID := fx.newChat(t)
	fx.client.tokens = []string{"no reasoning here"}
	fx.client.outcome = llm.OutcomeCapabilityRejected

	rec := fx.post(t, "/api/chats/message", datatypes.SendMessageRequest{
		ChatID:         chatID,
		Content:        "hello",
		EnableThinking: true,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	frames, done := parseStream(t, rec.Body.String())
	assert.True(t, done)
	assert.Equal(t, "no reasoning here", joinChunks(frames, "content"))
	assert.Empty(t, joinChunks(frames, "think"))

	messages, err := fx.store.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Empty(t, messages[1].ThinkingProcess)
}

// ============================================================================
// Search Context Tests
// ============================================================================

func TestHandleSearchContext_ReturnsScopedHits(t *testing.T) {
	fx := newChatFixture(t)
	chatID := fx.newChat(t)

	att := &conversation.Attachment{ChatID: chatID, FileName: "notes.txt", FileSize: 10}
	require.NoError(t, fx.store.CreateAttachment(context.Background(), att))

	docID := fmt.Sprintf("%d", att.ID)
	require.NoError(t, fx.vectors.Insert(context.Background(), []datatypes.Fragment{
		{DocID: docID, Text: "close match", Vector: []float32{5, 1}, Meta: datatypes.FragmentMeta{Filename: "notes.txt"}},
		{DocID: "999", Text: "other chat's doc", Vector: []float32{5, 1}, Meta: datatypes.FragmentMeta{Filename: "other.txt"}},
	}))

	rec := fx.post(t, "/api/chats/search_context", datatypes.SearchContextRequest{
		ChatID:  chatID,
		Content: "match",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Results []datatypes.FragmentHit `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, docID, resp.Results[0].DocID)
	assert.Equal(t, "close match", resp.Results[0].Text)
}

func TestHandleSearchContext_NoAttachmentsReturnsEmpty(t *testing.T) {
	fx := newChatFixture(t)
	chatID := fx.newChat(t)

	rec := fx.post(t, "/api/chats/search_context", datatypes.SearchContextRequest{
		ChatID:  chatID,
		Content: "anything",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Results []datatypes.FragmentHit `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}

func TestHandleSearchContext_MissingChatID(t *testing.T) {
	fx := newChatFixture(t)

	rec := fx.post(t, "/api/chats/search_context", datatypes.SearchContextRequest{Content: "query"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
