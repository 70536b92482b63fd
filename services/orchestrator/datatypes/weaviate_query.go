// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse unmarshals a Weaviate GraphQL response into a typed
// result structure.
//
// # Description
//
// The Weaviate client returns GraphQL data as loosely typed
// map[string]interface{} trees. This helper round-trips the Data payload
// through JSON into a caller-supplied struct so query results get compile-time
// field access instead of type assertions.
//
// # Inputs
//
//   - resp: Raw GraphQL response from the Weaviate client.
//
// # Outputs
//
//   - *T: Parsed response, never nil on success.
//   - error: Non-nil if resp is nil or the data does not match T.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, gqlErr := range resp.Errors {
			if gqlErr != nil {
				msgs = append(msgs, gqlErr.Message)
			}
		}
		return nil, fmt.Errorf("GraphQL query returned errors: %v", msgs)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// DocumentChunkQueryResponse represents the response from a near-vector
// query against the DocumentChunk class.
type DocumentChunkQueryResponse struct {
	Get struct {
		DocumentChunk []DocumentChunkResult `json:"DocumentChunk"`
	} `json:"Get"`
}

// DocIDAggregateResponse represents a groupBy aggregate over the
// doc_id property of the DocumentChunk class.
type DocIDAggregateResponse struct {
	Aggregate struct {
		DocumentChunk []DocIDGroup `json:"DocumentChunk"`
	} `json:"Aggregate"`
}

// DocIDGroup is a single doc_id bucket from an aggregate query.
type DocIDGroup struct {
	GroupedBy struct {
		Value string `json:"value"`
	} `json:"groupedBy"`
}

// DocumentChunkResult is a single fragment returned by a query.
type DocumentChunkResult struct {
	DocID      string `json:"doc_id"`
	Text       string `json:"text"`
	Filename   string `json:"filename"`
	Page       int    `json:"page"`
	ChunkIndex int    `json:"chunk_index"`
	Additional struct {
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}
