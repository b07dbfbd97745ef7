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

// CitedSource is one source cited by the synthesized answer.
type CitedSource struct {
	// Reference is the formatted citation ("Art. 1, c. 54, L. 190/2014").
	Reference string `json:"reference"`

	// SourceType drives hierarchy ordering of citations.
	SourceType SourceType `json:"source_type"`

	// HierarchyRank is SourceType.HierarchyRank(), denormalized for the
	// UI so it need not know the ordering table.
	HierarchyRank int `json:"hierarchy_rank"`

	// Relevance is the model-assessed relevance to the answer, [0, 1].
	Relevance float64 `json:"relevance"`

	// DocumentId links back to the RankedDocument, when resolvable.
	DocumentId string `json:"document_id,omitempty"`

	// PublishedDate mirrors the document date; used by conflict
	// resolution. Format "2006-01-02", empty when unknown.
	PublishedDate string `json:"published_date,omitempty"`

	// Excerpt is the opening of the resolved document's content. Conflict
	// detection reads it to decide whether two sources address the same
	// topic with contradictory values. Never serialized to the client.
	Excerpt string `json:"-"`
}

// CandidateAction is one follow-up action proposed by synthesis, before
// golden-loop validation.
type CandidateAction struct {
	Id string `json:"id"`

	// Label is the short button text shown to the user, 8-40 runes after
	// validation.
	Label string `json:"label"`

	// Icon is one of the known icon names; unknown icons are normalized
	// to the default rather than rejected.
	Icon string `json:"icon"`

	// Prompt is the full query submitted when the action is chosen.
	Prompt string `json:"prompt"`

	// SourceBasis names the cited source or extracted value the action
	// is grounded in.
	SourceBasis string `json:"source_basis,omitempty"`
}

// SourceConflict records two cited sources that address the same topic with
// contradictory conclusions, and how the conflict was resolved.
type SourceConflict struct {
	// FirstRef and SecondRef are the conflicting citation references.
	FirstRef  string `json:"first_ref"`
	SecondRef string `json:"second_ref"`

	// Topic is the shared topic both sources address.
	Topic string `json:"topic"`

	// PreferredRef is the citation the answer should follow: the higher
	// hierarchy source, or the more recent one at equal hierarchy.
	PreferredRef string `json:"preferred_ref"`

	// Rationale explains the preference ("law outranks circular",
	// "more recent at equal rank").
	Rationale string `json:"rationale"`
}

// SynthesisResult is the parsed structured output of the final model call.
//
// # Description
//
// Produced exactly once per request by the synthesis parser. All fields
// except CandidateActions are immutable afterward; CandidateActions is the
// mutable input to the golden loop, which replaces it with validated
// actions in the final response.
type SynthesisResult struct {
	// AnswerText is the user-facing answer, citation markers included.
	AnswerText string `json:"answer_text"`

	// ReasoningSummary is the model's short account of its reasoning.
	ReasoningSummary string `json:"reasoning_summary,omitempty"`

	// Trace is the reasoning trace the synthesis was conditioned on.
	Trace *ReasoningTrace `json:"reasoning_trace,omitempty"`

	// SourcesCited is ordered by legal hierarchy rank, then recency.
	SourcesCited []CitedSource `json:"sources_cited"`

	// CandidateActions holds 2-4 proposed follow-ups awaiting validation.
	CandidateActions []CandidateAction `json:"candidate_actions"`

	// Conflicts lists detected source conflicts with their resolutions.
	Conflicts []SourceConflict `json:"conflicts,omitempty"`

	// ParseDegraded is true when structured parsing failed and the raw
	// model text became the answer. Forces golden-loop regeneration.
	ParseDegraded bool `json:"parse_degraded,omitempty"`
}
