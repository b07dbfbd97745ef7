// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert Weaviate's
// dynamic response (map[string]models.JSONObject) into a strongly-typed Go
// struct. The target type T must have json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from the Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Limitations
//
//   - Type mismatches result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
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

// =============================================================================
// NormativeDocument Query Types
// =============================================================================

// NormativeDocumentResponse represents the response from querying the
// NormativeDocument class, the index of laws, decrees, circulars,
// resolutions, rulings and guidance chunks.
type NormativeDocumentResponse struct {
	Get struct {
		NormativeDocument []NormativeDocumentResult `json:"NormativeDocument"`
	} `json:"Get"`
}

// NormativeDocumentResult is a single document chunk from a query.
type NormativeDocumentResult struct {
	Content       string `json:"content"`
	SourceType    string `json:"source_type"`
	SourceName    string `json:"source_name"`
	ReferenceCode string `json:"reference_code"`
	Title         string `json:"title"`

	// PublishedDate is RFC3339 as stored by the ingestion service.
	PublishedDate string `json:"published_date"`

	Additional struct {
		ID string `json:"id"`

		// Score is the BM25 score, present on lexical queries.
		Score string `json:"score"`

		// Certainty is present on vector queries, always [0, 1].
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}
