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

// Complexity is the classified complexity of a query.
type Complexity string

const (
	ComplexitySimple      Complexity = "simple"
	ComplexityComplex     Complexity = "complex"
	ComplexityMultiDomain Complexity = "multi_domain"
)

// ComplexityClassification drives model-tier and reasoning-strategy
// selection. Not reused across requests.
type ComplexityClassification struct {
	Complexity Complexity `json:"complexity"`

	// Domains lists the professional domains touched by the query
	// ("iva", "imposte_dirette", "lavoro", "societario").
	Domains []string `json:"domains,omitempty"`

	// Confidence is the classifier's confidence, [0, 1].
	Confidence float64 `json:"confidence"`

	// Reasoning is the classifier's justification, free text.
	Reasoning string `json:"reasoning"`

	// Fallback marks classifications produced by the failure default
	// (simple: the cheapest, safest path).
	Fallback bool `json:"fallback,omitempty"`
}

// NewFallbackClassification returns the classification used when the
// classifier call fails. Defaults to simple rather than escalating cost.
func NewFallbackClassification(reason string) ComplexityClassification {
	return ComplexityClassification{
		Complexity: ComplexitySimple,
		Confidence: 0.5,
		Reasoning:  "classifier fallback: " + reason,
		Fallback:   true,
	}
}

// RiskLevel grades a hypothesis by potential-sanction severity,
// independent of probability.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical" // criminal liability exposure
	RiskHigh     RiskLevel = "high"     // heavy administrative sanctions
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

// rank orders risk levels for comparisons; higher is more severe.
func (r RiskLevel) rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r is as severe as other or more.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.rank() >= other.rank()
}

// ChainOfThought is the single-path reasoning trace: one linear
// justification from evidence to conclusion.
type ChainOfThought struct {
	Theme       string   `json:"theme"`
	SourcesUsed []string `json:"sources_used"`
	KeyPoints   []string `json:"key_points"`
	Conclusion  string   `json:"conclusion"`
}

// Hypothesis is one candidate reasoning path in a tree-of-thoughts
// exploration.
type Hypothesis struct {
	Id string `json:"id"`

	// Path is the step-by-step reasoning for this hypothesis.
	Path []string `json:"path"`

	Conclusion string `json:"conclusion"`

	// Confidence is the model's confidence in this path, [0, 1].
	Confidence float64 `json:"confidence"`

	// SourceWeightScore aggregates the hierarchy weights of the sources
	// this hypothesis cites. Selection score = Confidence * SourceWeightScore.
	SourceWeightScore float64 `json:"source_weight_score"`

	// Domain partitions hypotheses for multi-domain queries. Empty
	// otherwise.
	Domain string `json:"domain,omitempty"`

	// RiskLevel and RiskFactors come from the mandatory risk pass.
	// Risk is assigned by sanction severity independent of probability:
	// a low-confidence path with criminal exposure is still critical.
	RiskLevel   RiskLevel `json:"risk_level"`
	RiskFactors []string  `json:"risk_factors,omitempty"`
}

// SelectionScore is the score hypotheses are ranked by.
func (h Hypothesis) SelectionScore() float64 {
	return h.Confidence * h.SourceWeightScore
}

// TreeOfThoughts is the multi-hypothesis reasoning trace.
type TreeOfThoughts struct {
	Hypotheses []Hypothesis `json:"hypotheses"`

	// SelectedHypothesisId identifies the primary hypothesis.
	SelectedHypothesisId string `json:"selected_hypothesis_id"`

	// SelectionReasoning explains why the primary was chosen.
	SelectionReasoning string `json:"selection_reasoning"`

	// DomainConflicts records cross-domain contradictions detected
	// before selection on multi-domain queries.
	DomainConflicts []string `json:"domain_conflicts,omitempty"`
}

// Selected returns the primary hypothesis, or nil if the id is dangling.
func (t *TreeOfThoughts) Selected() *Hypothesis {
	for i := range t.Hypotheses {
		if t.Hypotheses[i].Id == t.SelectedHypothesisId {
			return &t.Hypotheses[i]
		}
	}
	return nil
}

// FlaggedAlternatives returns non-selected hypotheses at or above the given
// risk level. High-risk low-probability scenarios must surface even when
// not selected; selection and risk flagging are orthogonal.
func (t *TreeOfThoughts) FlaggedAlternatives(min RiskLevel) []Hypothesis {
	var out []Hypothesis
	for _, h := range t.Hypotheses {
		if h.Id == t.SelectedHypothesisId {
			continue
		}
		if h.RiskLevel.AtLeast(min) {
			out = append(out, h)
		}
	}
	return out
}

// Trace kind discriminants for ReasoningTrace.
const (
	TraceChainOfThought = "chain_of_thought"
	TraceTreeOfThoughts = "tree_of_thoughts"
)

// ReasoningTrace is a tagged union over the two reasoning strategies.
//
// # Description
//
// Exactly one of Chain or Tree is non-nil, indicated by Kind. The trace is
// owned by one request, serialized for logging and debug UI, and never
// mutated after creation. Consumers (the public-reasoning transformer in
// particular) must switch exhaustively on Kind.
//
// # JSON Serialization
//
//	{"kind": "chain_of_thought", "chain": {...}}
//	{"kind": "tree_of_thoughts", "tree": {...}}
type ReasoningTrace struct {
	Kind  string          `json:"kind"`
	Chain *ChainOfThought `json:"chain,omitempty"`
	Tree  *TreeOfThoughts `json:"tree,omitempty"`

	// Degraded is true when the intended strategy failed and a fallback
	// produced this trace.
	Degraded bool `json:"degraded,omitempty"`
}

// NewChainTrace wraps a chain-of-thought in a trace.
func NewChainTrace(c ChainOfThought) *ReasoningTrace {
	return &ReasoningTrace{Kind: TraceChainOfThought, Chain: &c}
}

// NewTreeTrace wraps a tree-of-thoughts in a trace.
func NewTreeTrace(t TreeOfThoughts) *ReasoningTrace {
	return &ReasoningTrace{Kind: TraceTreeOfThoughts, Tree: &t}
}
