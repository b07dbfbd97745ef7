// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval fans a query expansion out over independent search
// strategies against the normative index and fuses the ranked lists.
//
// # Description
//
// Four strategies run in parallel per interpretation: lexical (BM25 over
// the keyword variant), entity (BM25 over the reference_code and title
// fields, where-filtered when the variant carries a recognizable
// normative reference), vector (embedding of the semantic variant) and
// hyde (embedding of the hypothetical document). A failed or timed-out
// strategy contributes no ranks but never aborts the fan-out.
package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/NormaAI/NormaCore/pkg/validation"
	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// normativeClass is the Weaviate class holding indexed normative chunks.
const normativeClass = "NormativeDocument"

// EmbeddingProvider computes text embeddings for vector search.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchStrategy is one independent retrieval path.
//
// # Description
//
// Search returns the strategy's ranked list for a single interpretation,
// best first, carrying the strategy's native score in RawScores under
// Name(). A strategy may return an empty list without error when it has
// nothing to contribute (e.g. hyde with a skipped hypothetical).
type SearchStrategy interface {
	Name() string
	Search(ctx context.Context, interp datatypes.QueryInterpretation, limit int) ([]datatypes.RankedDocument, error)
}

// normativeFields is the field set every strategy retrieves.
var normativeFields = []graphql.Field{
	{Name: "content"},
	{Name: "source_type"},
	{Name: "source_name"},
	{Name: "reference_code"},
	{Name: "title"},
	{Name: "published_date"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "score"},
		{Name: "certainty"},
	}},
}

// =============================================================================
// Lexical (BM25)
// =============================================================================

// LexicalStrategy searches with BM25 over the keyword variant.
type LexicalStrategy struct {
	client *weaviate.Client
}

// NewLexicalStrategy creates the BM25 strategy.
func NewLexicalStrategy(client *weaviate.Client) *LexicalStrategy {
	return &LexicalStrategy{client: client}
}

func (s *LexicalStrategy) Name() string { return "lexical" }

func (s *LexicalStrategy) Search(ctx context.Context, interp datatypes.QueryInterpretation, limit int) ([]datatypes.RankedDocument, error) {
	bm25 := s.client.GraphQL().Bm25ArgBuilder().
		WithQuery(interp.Variants.KeywordVariant).
		WithProperties("content", "title")

	result, err := s.client.GraphQL().Get().
		WithClassName(normativeClass).
		WithFields(normativeFields...).
		WithBM25(bm25).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("bm25 search failed: %w", err)
	}

	return parseNormativeResults(result, s.Name(), false)
}

// =============================================================================
// Entity (BM25 over normative identifiers)
// =============================================================================

// EntityStrategy searches with BM25 restricted to the identifier fields.
//
// # Description
//
// The entity variant names the laws, codes or regimes the query hinges
// on; matching it against reference_code and title surfaces the cited
// norms themselves rather than chunks that merely discuss them. When the
// variant contains a recognizable normative reference the search is
// additionally where-filtered to documents carrying that code.
type EntityStrategy struct {
	client *weaviate.Client
}

// NewEntityStrategy creates the identifier-field strategy.
func NewEntityStrategy(client *weaviate.Client) *EntityStrategy {
	return &EntityStrategy{client: client}
}

func (s *EntityStrategy) Name() string { return "entity" }

func (s *EntityStrategy) Search(ctx context.Context, interp datatypes.QueryInterpretation, limit int) ([]datatypes.RankedDocument, error) {
	entity := interp.Variants.EntityVariant
	if entity == "" {
		return nil, nil
	}

	bm25 := s.client.GraphQL().Bm25ArgBuilder().
		WithQuery(entity).
		WithProperties("reference_code", "title")

	builder := s.client.GraphQL().Get().
		WithClassName(normativeClass).
		WithFields(normativeFields...).
		WithBM25(bm25).
		WithLimit(limit)

	if ref, ok := entityFilterReference(entity); ok {
		builder = builder.WithWhere(filters.Where().
			WithPath([]string{"reference_code"}).
			WithOperator(filters.Like).
			WithValueString("*" + ref + "*"))
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity bm25 search failed: %w", err)
	}

	return parseNormativeResults(result, s.Name(), false)
}

// entityFilterReference derives the where-filter value from the entity
// variant: the first normative reference it contains, if any.
func entityFilterReference(entity string) (string, bool) {
	ref, ok := validation.ExtractReference(entity)
	if !ok || strings.TrimSpace(ref) == "" {
		return "", false
	}
	return ref, true
}

// =============================================================================
// Vector (semantic variant embedding)
// =============================================================================

// VectorStrategy searches by embedding the semantic variant.
type VectorStrategy struct {
	client   *weaviate.Client
	embedder EmbeddingProvider
}

// NewVectorStrategy creates the embedding-space strategy.
func NewVectorStrategy(client *weaviate.Client, embedder EmbeddingProvider) *VectorStrategy {
	return &VectorStrategy{client: client, embedder: embedder}
}

func (s *VectorStrategy) Name() string { return "vector" }

func (s *VectorStrategy) Search(ctx context.Context, interp datatypes.QueryInterpretation, limit int) ([]datatypes.RankedDocument, error) {
	vector, err := s.embedder.Embed(ctx, interp.Variants.SemanticVariant)
	if err != nil {
		return nil, fmt.Errorf("failed to embed semantic variant: %w", err)
	}
	return nearVectorSearch(ctx, s.client, vector, limit, s.Name())
}

// =============================================================================
// HyDE (hypothetical document embedding)
// =============================================================================

// HydeStrategy searches by embedding the hypothetical document.
type HydeStrategy struct {
	client   *weaviate.Client
	embedder EmbeddingProvider
}

// NewHydeStrategy creates the hypothetical-document strategy.
func NewHydeStrategy(client *weaviate.Client, embedder EmbeddingProvider) *HydeStrategy {
	return &HydeStrategy{client: client, embedder: embedder}
}

func (s *HydeStrategy) Name() string { return "hyde" }

func (s *HydeStrategy) Search(ctx context.Context, interp datatypes.QueryInterpretation, limit int) ([]datatypes.RankedDocument, error) {
	if interp.Hypothetical.Skipped || interp.Hypothetical.Text == "" {
		return nil, nil
	}
	vector, err := s.embedder.Embed(ctx, interp.Hypothetical.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed hypothetical document: %w", err)
	}
	return nearVectorSearch(ctx, s.client, vector, limit, s.Name())
}

// =============================================================================
// Shared plumbing
// =============================================================================

// nearVectorSearch runs a nearVector query and parses the results.
func nearVectorSearch(ctx context.Context, client *weaviate.Client, vector []float32, limit int, strategy string) ([]datatypes.RankedDocument, error) {
	nearVector := client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	result, err := client.GraphQL().Get().
		WithClassName(normativeClass).
		WithFields(normativeFields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("nearVector search failed: %w", err)
	}

	return parseNormativeResults(result, strategy, true)
}

// parseNormativeResults converts a GraphQL response into ranked documents.
// useCertainty selects the native score field: certainty for vector
// searches (always [0,1]), score for BM25.
func parseNormativeResults(result *models.GraphQLResponse, strategy string, useCertainty bool) ([]datatypes.RankedDocument, error) {
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.NormativeDocumentResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	docs := make([]datatypes.RankedDocument, 0, len(parsed.Get.NormativeDocument))
	for _, item := range parsed.Get.NormativeDocument {
		var native float64
		if useCertainty {
			if item.Additional.Certainty != nil {
				native = float64(*item.Additional.Certainty)
			}
		} else if v, err := strconv.ParseFloat(item.Additional.Score, 64); err == nil {
			native = v
		}

		doc := datatypes.RankedDocument{
			Id:         item.Additional.ID,
			Content:    item.Content,
			RawScores:  map[string]float64{strategy: native},
			SourceType: datatypes.ParseSourceType(item.SourceType),
			SourceName: item.SourceName,
			Metadata:   map[string]string{},
		}
		if item.Title != "" {
			doc.Metadata["title"] = item.Title
		}
		if item.ReferenceCode != "" {
			doc.Metadata["reference_code"] = item.ReferenceCode
		}
		if item.PublishedDate != "" {
			if t, err := time.Parse(time.RFC3339, item.PublishedDate); err == nil {
				doc.PublishedDate = t
			} else if t, err := time.Parse("2006-01-02", strings.TrimSpace(item.PublishedDate)); err == nil {
				doc.PublishedDate = t
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
