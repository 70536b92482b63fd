// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
)

func TestMemoryStore_DeleteByDocID(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	seedStore(t, store)
	require.Equal(t, 3, store.Count())

	require.NoError(t, store.DeleteByDocID(context.Background(), "7"))

	assert.Equal(t, 1, store.Count())
	hits, err := store.Search(context.Background(), []float32{1, 0}, []string{"7", "9"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "9", hits[0].DocID)
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	require.NoError(t, store.DeleteByDocID(context.Background(), "missing"))
	require.NoError(t, store.DeleteByDocID(context.Background(), "missing"))
	assert.Zero(t, store.Count())
}

func TestMemoryStore_ReingestReplacesFragments(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, []datatypes.Fragment{
		{DocID: "7", Text: "stale", Vector: []float32{1, 0}},
	}))

	require.NoError(t, store.DeleteByDocID(ctx, "7"))
	require.NoError(t, store.Insert(ctx, []datatypes.Fragment{
		{DocID: "7", Text: "fresh", Vector: []float32{1, 0}},
	}))

	hits, err := store.Search(ctx, []float32{1, 0}, []string{"7"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "fresh", hits[0].Text)
}

func TestMemoryStore_TiedDistancesKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	// Interleave two large groups of identical vectors so every hit
	// ties within its group.
	near := []float32{1, 0}
	far := []float32{0, 1}
	const perGroup = 100
	for i := 0; i < perGroup; i++ {
		require.NoError(t, store.Insert(ctx, []datatypes.Fragment{
			{DocID: "7", Text: fmt.Sprintf("near-%03d", i), Vector: near},
			{DocID: "7", Text: fmt.Sprintf("far-%03d", i), Vector: far},
		}))
	}

	hits, err := store.Search(ctx, near, []string{"7"}, 2*perGroup)
	require.NoError(t, err)
	require.Len(t, hits, 2*perGroup)

	for i := 0; i < perGroup; i++ {
		assert.Equal(t, fmt.Sprintf("near-%03d", i), hits[i].Text)
		assert.Equal(t, fmt.Sprintf("far-%03d", i), hits[perGroup+i].Text)
	}
}

func TestMemoryStore_DocIDs(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	ids, err := store.DocIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	seedStore(t, store)
	ids, err = store.DocIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "9"}, ids)

	require.NoError(t, store.DeleteByDocID(ctx, "9"))
	ids, err = store.DocIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, ids)
}

func TestMemoryStore_SearchEmptyDocIDs(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	seedStore(t, store)

	hits, err := store.Search(context.Background(), []float32{1, 0}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestL2Squared(t *testing.T) {
	t.Parallel()

	assert.Zero(t, l2Squared([]float32{1, 2}, []float32{1, 2}))
	assert.InDelta(t, 2.0, l2Squared([]float32{0, 0}, []float32{1, 1}), 1e-9)
}
