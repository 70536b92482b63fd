// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
)

// MemoryStore is a brute-force in-memory FragmentStore. It exists for
// tests and for deployments running without a vector store; semantics
// match WeaviateStore (L2 distance, ascending order, doc-scoped search).
type MemoryStore struct {
	mu        sync.RWMutex
	fragments []datatypes.Fragment
}

var _ FragmentStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Insert(_ context.Context, fragments []datatypes.Fragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fragments = append(m.fragments, fragments...)
	return nil
}

func (m *MemoryStore) Search(_ context.Context, vector []float32, docIDs []string, limit int) ([]datatypes.FragmentHit, error) {
	if len(docIDs) == 0 || limit <= 0 {
		return nil, nil
	}

	wanted := make(map[string]struct{}, len(docIDs))
	for _, id := range docIDs {
		wanted[id] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]datatypes.FragmentHit, 0, limit)
	for _, frag := range m.fragments {
		if _, ok := wanted[frag.DocID]; !ok {
			continue
		}
		hits = append(hits, datatypes.FragmentHit{
			DocID:    frag.DocID,
			Text:     frag.Text,
			Distance: l2Squared(vector, frag.Vector),
			Meta:     frag.Meta,
		})
	}

	// Stable so equal-distance hits keep insertion order.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryStore) DeleteByDocID(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.fragments[:0]
	for _, frag := range m.fragments {
		if frag.DocID != docID {
			kept = append(kept, frag)
		}
	}
	m.fragments = kept
	return nil
}

func (m *MemoryStore) DocIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, frag := range m.fragments {
		if _, ok := seen[frag.DocID]; ok {
			continue
		}
		seen[frag.DocID] = struct{}{}
		ids = append(ids, frag.DocID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of indexed fragments.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fragments)
}

func l2Squared(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
