// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval finds document fragments relevant to a query.
//
// The package has two halves: FragmentStore implementations that index and
// search embedded fragments (Weaviate in production, an in-memory store for
// tests and vector-store-less deployments), and the Engine that turns a raw
// query string into ranked hits, degrading to empty results whenever the
// embedding client or the store is unavailable.
package retrieval

import (
	"context"
	"errors"

	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
)

// ErrStoreUnavailable indicates the vector store backing retrieval is not
// configured or cannot be reached.
var ErrStoreUnavailable = errors.New("fragment store unavailable")

// FragmentStore indexes embedded document fragments and serves
// nearest-neighbor searches over them.
//
// # Description
//
// Implementations order Search results by ascending distance (closest
// first) and scope every search to the provided document IDs. DeleteByDocID
// must be idempotent so re-ingestion can always clear stale fragments
// before inserting.
type FragmentStore interface {
	// Insert indexes the given fragments. Each fragment must carry a
	// vector; fragments for the same doc_id from a previous ingestion
	// should be deleted first.
	Insert(ctx context.Context, fragments []datatypes.Fragment) error

	// Search returns up to limit fragments nearest to vector, restricted
	// to the given document IDs. An empty docIDs slice yields no hits.
	Search(ctx context.Context, vector []float32, docIDs []string, limit int) ([]datatypes.FragmentHit, error)

	// DeleteByDocID removes every fragment indexed under docID. Deleting
	// a document with no fragments is not an error.
	DeleteByDocID(ctx context.Context, docID string) error

	// DocIDs returns the distinct document IDs currently indexed. Used
	// by the janitor to find fragments whose document no longer exists.
	DocIDs(ctx context.Context) ([]string, error)
}
