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

// ValidationResult is the verdict for a single candidate action.
// Ephemeral, scoped to one golden-loop execution.
type ValidationResult struct {
	ActionId string `json:"action_id"`
	IsValid  bool   `json:"is_valid"`

	// RejectionReason is set when IsValid is false
	// ("forbidden pattern: consult a professional").
	RejectionReason string `json:"rejection_reason,omitempty"`

	// ModifiedAction is set when the validator repaired the action
	// instead of rejecting it (label truncation, icon normalization).
	ModifiedAction *CandidateAction `json:"modified_action,omitempty"`

	// GroundingWarning is set when no grounding in a cited source was
	// detected. A warning, never an automatic rejection.
	GroundingWarning string `json:"grounding_warning,omitempty"`
}

// BatchValidationResult aggregates one validation pass over a candidate set.
type BatchValidationResult struct {
	// ValidatedActions are the surviving (possibly repaired) actions.
	ValidatedActions []CandidateAction `json:"validated_actions"`

	// Results holds the per-action verdicts, one per input action.
	Results []ValidationResult `json:"results"`

	RejectedCount int `json:"rejected_count"`

	// RejectionLog collects rejection reasons for the correction prompt
	// of the next regeneration attempt.
	RejectionLog []string `json:"rejection_log,omitempty"`

	// QualityScore is the fraction of inputs that survived, [0, 1].
	// 1.0 for an empty input batch.
	QualityScore float64 `json:"quality_score"`
}

// GoldenLoopResult is the terminal artifact of the action-generation
// concern for one request.
type GoldenLoopResult struct {
	// Actions is the final action set. Exhaustion of regeneration
	// attempts still yields at least one safe fallback action.
	Actions []CandidateAction `json:"actions"`

	// IterationsUsed counts validation passes (1 = no regeneration).
	IterationsUsed int `json:"iterations_used"`

	RegenerationTriggered bool `json:"regeneration_triggered"`

	// FallbackUsed is true when the safe topic/value-derived actions
	// were substituted after exhausting regeneration attempts.
	FallbackUsed bool `json:"fallback_used,omitempty"`

	TotalLatencyMs int64 `json:"total_latency_ms"`
}
