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

import "strings"

// QueryVariantSet holds the three search-query variants produced by query
// expansion for one interpretation of the user's query.
//
// # Description
//
// Each variant targets a different search strategy: the keyword variant
// feeds lexical (BM25) search, the semantic variant feeds vector search,
// and the entity variant feeds entity-aware search over reference codes.
// Created by the expansion stage and consumed once by retrieval fusion.
//
// # JSON Serialization
//
//	{
//	    "original_query": "E per l'IVA?",
//	    "keyword_variant": "IVA regime forfettario aliquota",
//	    "semantic_variant": "trattamento IVA per i contribuenti in regime forfettario",
//	    "entity_variant": "regime forfettario L. 190/2014 IVA"
//	}
type QueryVariantSet struct {
	// OriginalQuery is the user's query, untouched.
	OriginalQuery string `json:"original_query"`

	// KeywordVariant is a keyword-oriented rewrite for lexical search.
	KeywordVariant string `json:"keyword_variant"`

	// SemanticVariant is a semantically-expanded rewrite for vector search.
	SemanticVariant string `json:"semantic_variant"`

	// EntityVariant is an entity-focused rewrite anchored on references.
	EntityVariant string `json:"entity_variant"`
}

// NewDegradedVariantSet returns a variant set where every variant is the
// original query. Used when the expansion call fails: retrieval must never
// block on expansion.
func NewDegradedVariantSet(query string) QueryVariantSet {
	return QueryVariantSet{
		OriginalQuery:   query,
		KeywordVariant:  query,
		SemanticVariant: query,
		EntityVariant:   query,
	}
}

// IsDegraded reports whether all variants collapsed to the original query.
func (s QueryVariantSet) IsDegraded() bool {
	return s.KeywordVariant == s.OriginalQuery &&
		s.SemanticVariant == s.OriginalQuery &&
		s.EntityVariant == s.OriginalQuery
}

// HypotheticalDocument is a model-generated plausible answer used purely to
// improve vector-search recall (HyDE). It is never shown to the user.
type HypotheticalDocument struct {
	// Text is the generated document, targeted at 150-250 words.
	Text string `json:"text"`

	// WordCount is the whitespace-token count of Text.
	WordCount int `json:"word_count"`

	// Skipped is true when generation was gated off or failed.
	Skipped bool `json:"skipped"`

	// SkipReason records why generation was skipped
	// ("category casual_chat", "generation failed: ...").
	SkipReason string `json:"skip_reason,omitempty"`
}

// NewHypotheticalDocument builds a document from generated text, computing
// the word count.
func NewHypotheticalDocument(text string) HypotheticalDocument {
	return HypotheticalDocument{
		Text:      text,
		WordCount: len(strings.Fields(text)),
	}
}

// NewSkippedHypothetical returns a skipped marker with the given reason.
func NewSkippedHypothetical(reason string) HypotheticalDocument {
	return HypotheticalDocument{Skipped: true, SkipReason: reason}
}

// QueryInterpretation pairs one variant set with its hypothetical document.
// Ambiguous queries expand into several interpretations, each fused
// independently downstream.
type QueryInterpretation struct {
	// Label names the interpretation ("IVA nel regime forfettario").
	// Empty for unambiguous single-interpretation expansions.
	Label string `json:"label,omitempty"`

	Variants     QueryVariantSet      `json:"variants"`
	Hypothetical HypotheticalDocument `json:"hypothetical"`
}

// QueryExpansion is the full output of the expansion stage.
type QueryExpansion struct {
	// Interpretations holds 1 set for unambiguous queries, 2-3 for
	// ambiguous ones. Never empty: degraded expansions still produce one.
	Interpretations []QueryInterpretation `json:"interpretations"`

	// Ambiguous is true when the ambiguity check fired and a
	// multi-interpretation expansion was performed.
	Ambiguous bool `json:"ambiguous"`

	// Degraded is true when any expansion call failed and fallbacks
	// were substituted.
	Degraded bool `json:"degraded,omitempty"`
}

// Primary returns the first interpretation. Safe on well-formed expansions;
// returns a zero value if Interpretations is empty.
func (e QueryExpansion) Primary() QueryInterpretation {
	if len(e.Interpretations) == 0 {
		return QueryInterpretation{}
	}
	return e.Interpretations[0]
}
