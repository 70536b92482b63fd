// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
)

// ============================================================================
// Test Helpers
// ============================================================================

// fakeEmbedder returns a fixed vector and records whether it was called.
type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) Insert(context.Context, []datatypes.Fragment) error { return ErrStoreUnavailable }
func (failingStore) Search(context.Context, []float32, []string, int) ([]datatypes.FragmentHit, error) {
	return nil, ErrStoreUnavailable
}
func (failingStore) DeleteByDocID(context.Context, string) error { return ErrStoreUnavailable }
func (failingStore) DocIDs(context.Context) ([]string, error) { return nil, ErrStoreUnavailable }

func seedStore(t *testing.T, store FragmentStore) {
	t.Helper()
	fragments := []datatypes.Fragment{
		{DocID: "7", Text: "alpha", Vector: []float32{1, 0}, Meta: datatypes.FragmentMeta{Filename: "report.pdf", Index: 0}},
		{DocID: "7", Text: "bravo", Vector: []float32{0, 1}, Meta: datatypes.FragmentMeta{Filename: "report.pdf", Index: 1}},
		{DocID: "9", Text: "charlie", Vector: []float32{1, 0.1}, Meta: datatypes.FragmentMeta{Filename: "notes.md", Index: 0}},
	}
	require.NoError(t, store.Insert(context.Background(), fragments))
}

// ============================================================================
// Engine Tests
// ============================================================================

func TestEngine_Retrieve_RanksByDistance(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	seedStore(t, store)
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	engine := NewEngine(embedder, store, nil)

	hits := engine.Retrieve(context.Background(), "what is alpha", []string{"7", "9"}, 5)

	require.Len(t, hits, 3)
	assert.Equal(t, "alpha", hits[0].Text)
	assert.Equal(t, "charlie", hits[1].Text)
	assert.Equal(t, "bravo", hits[2].Text)
	assert.LessOrEqual(t, hits[0].Distance, hits[1].Distance)
	assert.LessOrEqual(t, hits[1].Distance, hits[2].Distance)
}

func TestEngine_Retrieve_ScopedToDocIDs(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	seedStore(t, store)
	engine := NewEngine(&fakeEmbedder{vector: []float32{1, 0}}, store, nil)

	hits := engine.Retrieve(context.Background(), "query", []string{"9"}, 5)

	require.Len(t, hits, 1)
	assert.Equal(t, "charlie", hits[0].Text)
	assert.Equal(t, "notes.md", hits[0].Meta.Filename)
}

func TestEngine_Retrieve_TopKLimit(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	seedStore(t, store)
	engine := NewEngine(&fakeEmbedder{vector: []float32{1, 0}}, store, nil)

	hits := engine.Retrieve(context.Background(), "query", []string{"7", "9"}, 2)

	assert.Len(t, hits, 2)
}

func TestEngine_Retrieve_BlankQuerySkipsEmbedding(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	seedStore(t, store)
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	engine := NewEngine(embedder, store, nil)

	hits := engine.Retrieve(context.Background(), "   \t\n", []string{"7"}, 5)

	assert.Empty(t, hits)
	assert.Zero(t, embedder.calls)
}

func TestEngine_Retrieve_NoDocIDsSkipsEmbedding(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	engine := NewEngine(embedder, NewMemoryStore(), nil)

	hits := engine.Retrieve(context.Background(), "query", nil, 5)

	assert.Empty(t, hits)
	assert.Zero(t, embedder.calls)
}

func TestEngine_Retrieve_EmbedderFailureDegradesToEmpty(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	seedStore(t, store)
	embedder := &fakeEmbedder{err: errors.New("embedding backend down")}
	engine := NewEngine(embedder, store, nil)

	hits := engine.Retrieve(context.Background(), "query", []string{"7"}, 5)

	assert.Empty(t, hits)
}

func TestEngine_Retrieve_StoreFailureDegradesToEmpty(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeEmbedder{vector: []float32{1, 0}}, failingStore{}, nil)

	hits := engine.Retrieve(context.Background(), "query", []string{"7"}, 5)

	assert.Empty(t, hits)
}

func TestEngine_Retrieve_NilStoreReturnsEmpty(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	engine := NewEngine(embedder, nil, nil)

	hits := engine.Retrieve(context.Background(), "query", []string{"7"}, 5)

	assert.Empty(t, hits)
	assert.Zero(t, embedder.calls)
}

func TestEngine_Retrieve_ZeroTopKUsesDefault(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	for i := 0; i < 8; i++ {
		require.NoError(t, store.Insert(context.Background(), []datatypes.Fragment{
			{DocID: "7", Text: "frag", Vector: []float32{float32(i), 0}},
		}))
	}
	engine := NewEngine(&fakeEmbedder{vector: []float32{0, 0}}, store, nil)

	hits := engine.Retrieve(context.Background(), "query", []string{"7"}, 0)

	assert.Len(t, hits, DefaultTopK)
}
