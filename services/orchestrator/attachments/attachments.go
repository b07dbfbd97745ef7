// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package attachments prepares user-supplied documents for grounding.
//
// # Description
//
// An attached document participates in reasoning alongside the retrieved
// normative sources but never enters the index. It is split into
// overlapping chunks and appended to the retrieval result as unknown-type
// documents so prompt budgeting treats it like any other source.
package attachments

import (
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

const (
	chunkSize    = 1200
	chunkOverlap = 150

	// maxChunks caps how much attached text can crowd the prompt.
	maxChunks = 6
)

// Chunk splits the attached document text into overlapping chunks.
func Chunk(text string) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split attached document: %w", err)
	}
	if len(chunks) > maxChunks {
		chunks = chunks[:maxChunks]
	}
	return chunks, nil
}

// AsDocuments converts the attached document into ranked documents that
// can be appended to a retrieval result. They carry no fused score and a
// neutral hierarchy weight: user documents inform the answer but never
// outrank normative sources.
func AsDocuments(text string) ([]datatypes.RankedDocument, error) {
	chunks, err := Chunk(text)
	if err != nil {
		return nil, err
	}

	docs := make([]datatypes.RankedDocument, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, datatypes.RankedDocument{
			Id:         fmt.Sprintf("attachment-%d", i+1),
			Content:    chunk,
			SourceType: datatypes.SourceUnknown,
			SourceName: "Documento allegato",
			Record: &datatypes.DocumentMetadataRecord{
				HierarchyWeight: 1.0,
				ReferenceCode:   "Documento allegato",
			},
		})
	}
	return docs, nil
}
