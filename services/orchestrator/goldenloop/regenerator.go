// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package goldenloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// GenerateFunc is a function type for LLM text generation.
type GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// regenerationMaxTokens bounds the regeneration call.
const regenerationMaxTokens = 600

// Regenerator asks the model for replacement actions, feeding back what
// was rejected and why.
//
// # Thread Safety
//
// Regenerator is safe for concurrent use.
type Regenerator struct {
	generate GenerateFunc
}

// NewRegenerator creates a Regenerator.
func NewRegenerator(generate GenerateFunc) *Regenerator {
	return &Regenerator{generate: generate}
}

// Regenerate produces replacement candidate actions.
//
// # Description
//
// The correction prompt carries the rejection log verbatim, an excerpt of
// the answer, the cited references and the extracted key values, so the
// model can propose actions that are concrete and grounded instead of
// repeating the rejected pattern.
//
// # Outputs
//
//   - []datatypes.CandidateAction: The new candidates, ids assigned.
//   - error: Non-nil when the call or parse fails; the controller treats
//     it as an exhausted attempt.
func (r *Regenerator) Regenerate(ctx context.Context, needed int, rejectionLog []string, synthesis *datatypes.SynthesisResult, keyValues []string) ([]datatypes.CandidateAction, error) {
	response, err := r.generate(ctx, buildCorrectionPrompt(needed, rejectionLog, synthesis, keyValues), regenerationMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("regeneration call failed: %w", err)
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in regeneration response")
	}

	var parsed struct {
		Actions []struct {
			Label       string `json:"label"`
			Icon        string `json:"icon"`
			Prompt      string `json:"prompt"`
			SourceBasis string `json:"source_basis"`
		} `json:"actions"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal regenerated actions: %w", err)
	}
	if len(parsed.Actions) == 0 {
		return nil, fmt.Errorf("regeneration produced no actions")
	}

	actions := make([]datatypes.CandidateAction, 0, len(parsed.Actions))
	for _, a := range parsed.Actions {
		actions = append(actions, datatypes.CandidateAction{
			Id:          uuid.NewString(),
			Label:       strings.TrimSpace(a.Label),
			Icon:        strings.TrimSpace(a.Icon),
			Prompt:      strings.TrimSpace(a.Prompt),
			SourceBasis: strings.TrimSpace(a.SourceBasis),
		})
	}
	return actions, nil
}

// answerExcerptRunes caps the answer excerpt in the correction prompt.
// Rune-based: Italian answers carry accented characters a byte slice
// would split.
const answerExcerptRunes = 600

func buildCorrectionPrompt(needed int, rejectionLog []string, synthesis *datatypes.SynthesisResult, keyValues []string) string {
	excerpt := synthesis.AnswerText
	if runes := []rune(excerpt); len(runes) > answerExcerptRunes {
		excerpt = string(runes[:answerExcerptRunes]) + "..."
	}

	var refs strings.Builder
	for _, s := range synthesis.SourcesCited {
		fmt.Fprintf(&refs, "- %s\n", s.Reference)
	}
	if refs.Len() == 0 {
		refs.WriteString("- nessuna fonte citata\n")
	}

	values := "nessuno"
	if len(keyValues) > 0 {
		values = strings.Join(keyValues, ", ")
	}

	return fmt.Sprintf(`Le azioni di follow-up proposte in precedenza sono state SCARTATE:
%s

Proponi %d NUOVE azioni di follow-up per l'utente (un professionista
fiscale). Ogni azione deve:
- avere un'etichetta specifica di 8-40 caratteri (mai "Scopri di piu")
- avere un prompt completo di almeno 25 caratteri
- essere ancorata a una fonte citata o a un valore estratto
- NON suggerire mai di consultare un altro professionista

ESTRATTO DELLA RISPOSTA:
%s

FONTI CITATE:
%sVALORI ESTRATTI: %s

Rispondi SOLO con JSON:
{"actions": [{"label": "...", "icon": "calculator", "prompt": "...", "source_basis": "fonte o valore"}]}`,
		strings.Join(rejectionLog, "\n"), needed, excerpt, refs.String(), values)
}
