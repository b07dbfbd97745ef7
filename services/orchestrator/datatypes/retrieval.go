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

import "time"

// SourceType tags a document with its place in the legal source hierarchy.
type SourceType string

const (
	SourceLaw        SourceType = "law"        // primary legislation (L., DPR, D.Lgs.)
	SourceDecree     SourceType = "decree"     // ministerial / attuative decrees
	SourceCircular   SourceType = "circular"   // Agenzia delle Entrate circolari
	SourceResolution SourceType = "resolution" // risoluzioni
	SourceRuling     SourceType = "ruling"     // interpelli / private rulings
	SourceGuide      SourceType = "guide"      // practice guides
	SourceFAQ        SourceType = "faq"        // published FAQ
	SourceUnknown    SourceType = "unknown"
)

// HierarchyWeight returns the authority multiplier for a source type.
//
// # Description
//
// The weight is applied multiplicatively after rank fusion so that, score
// being equal, a statute outranks a circular and a circular outranks a FAQ.
// Range is 0.95-1.3; unknown sources are neutral.
func (s SourceType) HierarchyWeight() float64 {
	switch s {
	case SourceLaw:
		return 1.3
	case SourceDecree:
		return 1.25
	case SourceCircular:
		return 1.15
	case SourceResolution:
		return 1.1
	case SourceRuling:
		return 1.05
	case SourceGuide:
		return 1.0
	case SourceFAQ:
		return 0.95
	default:
		return 1.0
	}
}

// HierarchyRank returns the ordering rank of a source type, lower is more
// authoritative. Used to sort cited sources: primary law > decree >
// circular > resolution > ruling > other guidance.
func (s SourceType) HierarchyRank() int {
	switch s {
	case SourceLaw:
		return 0
	case SourceDecree:
		return 1
	case SourceCircular:
		return 2
	case SourceResolution:
		return 3
	case SourceRuling:
		return 4
	case SourceGuide:
		return 5
	case SourceFAQ:
		return 6
	default:
		return 7
	}
}

// ParseSourceType maps a stored string to a SourceType, defaulting to
// SourceUnknown for unrecognized values.
func ParseSourceType(s string) SourceType {
	switch SourceType(s) {
	case SourceLaw, SourceDecree, SourceCircular, SourceResolution,
		SourceRuling, SourceGuide, SourceFAQ:
		return SourceType(s)
	}
	return SourceUnknown
}

// RankedDocument is one retrieved document with its per-strategy and fused
// scores.
//
// # Description
//
// Within one RetrievalResult, Id is unique (duplicates are collapsed keeping
// the highest score) and documents are sorted by FusedScore descending.
//
// # Thread Safety
//
// RankedDocument is owned by the stage holding the RetrievalResult; it is
// never mutated after fusion completes.
type RankedDocument struct {
	// Id is the stable document identifier from the index.
	Id string `json:"id"`

	// Content is the document chunk text.
	Content string `json:"content"`

	// RawScores maps strategy name -> the strategy's native score.
	// Strategies the document did not appear in are absent.
	RawScores map[string]float64 `json:"raw_scores,omitempty"`

	// FusedScore is the reciprocal-rank-fusion score after authority and
	// recency boosts.
	FusedScore float64 `json:"fused_score"`

	// SourceType is the legal-hierarchy tag of the originating document.
	SourceType SourceType `json:"source_type"`

	// SourceName is the human-readable source ("Circolare 24/E/2023").
	SourceName string `json:"source_name"`

	// PublishedDate is when the source document was published.
	// Zero when unknown; unknown dates never receive a recency boost.
	PublishedDate time.Time `json:"published_date,omitempty"`

	// Metadata carries free-form index metadata (title, article, URL).
	Metadata map[string]string `json:"metadata,omitempty"`

	// Record is the derived metadata record, populated after fusion.
	Record *DocumentMetadataRecord `json:"record,omitempty"`
}

// DocumentMetadataRecord is derived, immutable metadata for one ranked
// document. Used by fusion boosting and later by action grounding.
type DocumentMetadataRecord struct {
	// HierarchyWeight is the authority multiplier, 0.0-1.3.
	HierarchyWeight float64 `json:"hierarchy_weight"`

	// KeyTopics are coarse topics detected in the content.
	KeyTopics []string `json:"key_topics,omitempty"`

	// KeyValues are extracted numbers, dates and percentages
	// ("22%", "85.000 euro", "16 marzo").
	KeyValues []string `json:"key_values,omitempty"`

	// ReferenceCode is the formatted legal citation
	// ("Art. 16, DPR 633/1972").
	ReferenceCode string `json:"reference_code,omitempty"`
}

// RetrievalResult is the output of retrieval fusion: the fused, boosted,
// deduplicated, top-K document set plus bookkeeping for observability.
type RetrievalResult struct {
	// Documents is sorted by FusedScore descending, unique by Id,
	// at most TopK entries.
	Documents []RankedDocument `json:"documents"`

	// StrategiesQueried lists every strategy the fan-out attempted.
	StrategiesQueried []string `json:"strategies_queried"`

	// StrategiesFailed lists strategies that errored or timed out.
	// A failed strategy contributes no ranks; it never aborts fusion.
	StrategiesFailed []string `json:"strategies_failed,omitempty"`

	// Interpretations is how many query interpretations were fused.
	Interpretations int `json:"interpretations"`

	// ElapsedMs is the wall time of the whole fan-out + fusion.
	ElapsedMs int64 `json:"elapsed_ms"`
}

// HasContext reports whether any document survived fusion. Downstream
// stages use this to decide between grounded reasoning and degraded answers.
func (r *RetrievalResult) HasContext() bool {
	return r != nil && len(r.Documents) > 0
}

// TopSource returns the most authoritative document in the set (lowest
// hierarchy rank, ties broken by fused score order). Returns nil when empty.
func (r *RetrievalResult) TopSource() *RankedDocument {
	if !r.HasContext() {
		return nil
	}
	best := &r.Documents[0]
	for i := range r.Documents {
		if r.Documents[i].SourceType.HierarchyRank() < best.SourceType.HierarchyRank() {
			best = &r.Documents[i]
		}
	}
	return best
}
