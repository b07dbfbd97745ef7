// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the shared data model for the orchestrator
// pipeline.
//
// Every entity in this package is created and consumed within a single
// request's lifetime. Stages exchange these types by value or ownership
// transfer; nothing here is shared mutably between goroutines.
package datatypes

// QueryCategory is the handling category assigned by the query router.
type QueryCategory string

const (
	// CategoryCasualChat covers greetings and small talk. No retrieval.
	CategoryCasualChat QueryCategory = "casual_chat"

	// CategoryDefinitional covers "what is X" terminology questions.
	CategoryDefinitional QueryCategory = "definitional"

	// CategoryTechnicalResearch covers questions requiring normative
	// research across sources. This is the safe default on routing failure.
	CategoryTechnicalResearch QueryCategory = "technical_research"

	// CategoryCalculation covers numeric computations (rates, deadlines,
	// installments). Skips hypothetical-document generation.
	CategoryCalculation QueryCategory = "calculation"

	// CategoryFixedAnswerSet covers questions with a small closed answer
	// set (e.g. "which VAT regime applies to X").
	CategoryFixedAnswerSet QueryCategory = "fixed_answer_set"
)

// IsValid reports whether c is one of the five known categories.
func (c QueryCategory) IsValid() bool {
	switch c {
	case CategoryCasualChat, CategoryDefinitional, CategoryTechnicalResearch,
		CategoryCalculation, CategoryFixedAnswerSet:
		return true
	}
	return false
}

// ExtractedEntity is a named entity pulled from the query by the router.
//
// # Description
//
// Entities (tax codes, article references, regime names, dates) are extracted
// during routing and fed into query expansion so variants keep the terms a
// search index can anchor on.
type ExtractedEntity struct {
	// Text is the entity surface form as it appeared in the query.
	Text string `json:"text"`

	// Type is a coarse entity class: "norm_reference", "tax_code",
	// "regime", "date", "amount", "topic".
	Type string `json:"type"`

	// Confidence is the router's confidence for this entity, [0, 1].
	Confidence float64 `json:"confidence"`
}

// RoutingDecision is the router's classification of a query.
//
// # Description
//
// Created exactly once per request by the query router and immutable
// afterward. Downstream stages read the category to gate expansion and
// retrieval behavior.
//
// # JSON Serialization
//
//	{
//	    "category": "technical_research",
//	    "confidence": 0.92,
//	    "reasoning": "The query asks about VAT deduction limits...",
//	    "extracted_entities": [{"text": "IVA", "type": "topic", "confidence": 0.98}],
//	    "requires_freshness": true
//	}
type RoutingDecision struct {
	// Category is the handling category for the query.
	Category QueryCategory `json:"category"`

	// Confidence is the router's confidence in the category, [0, 1].
	// Fallback decisions carry exactly 0.5.
	Confidence float64 `json:"confidence"`

	// Reasoning is the router's step-by-step justification, free text.
	Reasoning string `json:"reasoning"`

	// ExtractedEntities are the entities found in the query.
	ExtractedEntities []ExtractedEntity `json:"extracted_entities,omitempty"`

	// RequiresFreshness indicates the answer depends on recent normative
	// changes, which raises the recency boost relevance downstream.
	RequiresFreshness bool `json:"requires_freshness"`

	// Fallback marks decisions produced by the hard-coded failure path
	// rather than the model. Used for monitoring, never for gating.
	Fallback bool `json:"fallback,omitempty"`

	// FallbackReason records why the fallback fired (parse error,
	// timeout, provider error). Empty for model-produced decisions.
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// NewFallbackRoutingDecision returns the hard-coded safe routing decision.
//
// # Description
//
// Used on any router failure (timeout, malformed JSON, provider error).
// The category is always technical_research with confidence exactly 0.5:
// the "do full retrieval" default. It is intentionally never casual_chat,
// so a misrouted professional query is researched rather than chatted away.
func NewFallbackRoutingDecision(reason string) RoutingDecision {
	return RoutingDecision{
		Category:       CategoryTechnicalResearch,
		Confidence:     0.5,
		Reasoning:      "router fallback: defaulting to full retrieval",
		Fallback:       true,
		FallbackReason: reason,
	}
}

// SkipsRetrieval reports whether the category bypasses document retrieval
// entirely. Casual chat needs no sources.
func (d RoutingDecision) SkipsRetrieval() bool {
	return d.Category == CategoryCasualChat
}
