// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// FragmentMeta carries chunk provenance captured at ingestion time.
type FragmentMeta struct {
	Filename string `json:"filename"`
	Page     int    `json:"page,omitempty"`
	Index    int    `json:"index"`
}

// Fragment is one embedded chunk ready for indexing.
type Fragment struct {
	DocID  string       `json:"doc_id"`
	Text   string       `json:"text"`
	Vector []float32    `json:"-"`
	Meta   FragmentMeta `json:"meta"`
}

// FragmentHit is one retrieval result, ordered by ascending L2
// distance from the query vector.
type FragmentHit struct {
	DocID    string       `json:"doc_id"`
	Text     string       `json:"text"`
	Distance float64      `json:"distance"`
	Meta     FragmentMeta `json:"meta"`
}

// DocumentName returns the display name for the hit's source,
// falling back when ingestion recorded none.
func (h *FragmentHit) DocumentName() string {
	if h.Meta.Filename != "" {
		return h.Meta.Filename
	}
	return "Unknown Document"
}
