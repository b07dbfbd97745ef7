// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package goldenloop validates candidate follow-up actions and
// regenerates rejected ones under a strict iteration bound.
//
// # Description
//
// The model proposing follow-up actions and the model judging them form a
// loop: validate, regenerate the rejects with the rejection log as
// feedback, validate again, at most twice. Exhaustion substitutes safe
// actions derived from the cited sources, so the user always gets
// something clickable and never a raw model misfire.
package goldenloop

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// Label and prompt bounds, in runes.
const (
	minLabelRunes  = 8
	maxLabelRunes  = 40
	minPromptRunes = 25
)

// knownIcons are the icon names the frontend renders.
var knownIcons = map[string]bool{
	"calculator": true,
	"search":     true,
	"book":       true,
	"calendar":   true,
	"document":   true,
	"alert":      true,
	"checklist":  true,
}

// defaultIcon replaces unknown icon names.
const defaultIcon = "document"

// forbiddenPatterns reject actions that deflect to a professional or
// promise nothing actionable. The product's users ARE the professionals.
var forbiddenPatterns = []string{
	// Italian
	"consulta un commercialista",
	"rivolgiti a un professionista",
	"contatta un esperto",
	"chiedi al tuo consulente",
	"si consiglia di consultare",
	"non posso fornire consulenza",
	// English
	"consult a professional",
	"seek professional advice",
	"contact an expert",
	"i cannot provide",
	"as an ai",
}

// genericLabels reject labels with no informational content, alone or
// padded with filler words ("dettagli su", "learn more here").
var genericLabels = []string{
	"scopri di piu", "scopri di più", "approfondisci", "maggiori informazioni",
	"altre informazioni", "clicca qui", "continua", "vai avanti",
	"calcola", "dettagli",
	"learn more", "more info", "click here", "tell me more",
	"calculate", "details",
}

// genericFillers are words that add no content after a generic label.
var genericFillers = map[string]bool{
	"su": true, "di": true, "del": true, "della": true, "qui": true,
	"piu": true, "più": true, "ora": true, "adesso": true,
	"here": true, "more": true, "now": true, "about": true, "it": true,
}

// Validator checks candidate actions against the action policy.
//
// # Thread Safety
//
// Validator is stateless and safe for concurrent use.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBatch validates every candidate and aggregates the verdicts.
//
// # Description
//
// Repairable defects are repaired, not rejected: overlong labels are
// truncated at the rune bound, unknown icons normalized to the default.
// Hard rejections are forbidden patterns, generic labels, labels under
// the minimum and prompts under the minimum. Missing grounding in a
// cited source produces a warning on the verdict but never rejects.
func (v *Validator) ValidateBatch(actions []datatypes.CandidateAction, sources []datatypes.CitedSource) datatypes.BatchValidationResult {
	batch := datatypes.BatchValidationResult{QualityScore: 1.0}
	if len(actions) == 0 {
		return batch
	}

	for _, action := range actions {
		result := v.validate(action, sources)
		batch.Results = append(batch.Results, result)
		if !result.IsValid {
			batch.RejectedCount++
			batch.RejectionLog = append(batch.RejectionLog,
				fmt.Sprintf("%q: %s", action.Label, result.RejectionReason))
			continue
		}
		final := action
		if result.ModifiedAction != nil {
			final = *result.ModifiedAction
		}
		batch.ValidatedActions = append(batch.ValidatedActions, final)
	}

	batch.QualityScore = float64(len(batch.ValidatedActions)) / float64(len(actions))
	return batch
}

func (v *Validator) validate(action datatypes.CandidateAction, sources []datatypes.CitedSource) datatypes.ValidationResult {
	result := datatypes.ValidationResult{ActionId: action.Id}

	label := strings.TrimSpace(action.Label)
	prompt := strings.TrimSpace(action.Prompt)
	combined := strings.ToLower(label + " " + prompt)

	for _, pattern := range forbiddenPatterns {
		if strings.Contains(combined, pattern) {
			result.RejectionReason = fmt.Sprintf("forbidden pattern: %q", pattern)
			return result
		}
	}

	if isGenericLabel(label) {
		result.RejectionReason = fmt.Sprintf("generic label: %q", label)
		return result
	}

	if utf8.RuneCountInString(label) < minLabelRunes {
		result.RejectionReason = fmt.Sprintf("label under %d runes", minLabelRunes)
		return result
	}
	if utf8.RuneCountInString(prompt) < minPromptRunes {
		result.RejectionReason = fmt.Sprintf("prompt under %d runes", minPromptRunes)
		return result
	}

	modified := false
	repaired := action
	repaired.Label = label
	repaired.Prompt = prompt

	if utf8.RuneCountInString(label) > maxLabelRunes {
		repaired.Label = truncateRunes(label, maxLabelRunes)
		modified = true
	}
	if !knownIcons[repaired.Icon] {
		repaired.Icon = defaultIcon
		modified = true
	}

	result.IsValid = true
	if modified {
		result.ModifiedAction = &repaired
	}
	if warning := groundingWarning(repaired, sources); warning != "" {
		result.GroundingWarning = warning
	}
	return result
}

// isGenericLabel reports whether the label is a generic phrase, exactly
// or followed only by filler words. "Dettagli su" carries no more
// content than "dettagli"; "Calcola l'imposta sostitutiva" does.
func isGenericLabel(label string) bool {
	normalized := strings.Join(strings.Fields(strings.ToLower(label)), " ")
	for _, generic := range genericLabels {
		if normalized == generic {
			return true
		}
		if !strings.HasPrefix(normalized, generic+" ") {
			continue
		}
		rest := strings.Fields(normalized[len(generic):])
		allFiller := true
		for _, word := range rest {
			if !genericFillers[word] {
				allFiller = false
				break
			}
		}
		if allFiller {
			return true
		}
	}
	return false
}

// groundingWarning checks whether the action traces back to a cited
// source, either via SourceBasis or by mentioning a citation reference.
func groundingWarning(action datatypes.CandidateAction, sources []datatypes.CitedSource) string {
	if len(sources) == 0 {
		return ""
	}
	if action.SourceBasis != "" {
		return ""
	}
	text := strings.ToLower(action.Label + " " + action.Prompt)
	for _, s := range sources {
		if s.Reference != "" && strings.Contains(text, strings.ToLower(s.Reference)) {
			return ""
		}
	}
	return "action is not grounded in any cited source"
}

// truncateRunes cuts s at max runes, trimming a trailing partial word.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if idx := strings.LastIndex(cut, " "); idx > max/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
