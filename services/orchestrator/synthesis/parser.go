// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synthesis

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// synthesisResponse mirrors the JSON the synthesis prompt demands.
type synthesisResponse struct {
	Answer           string `json:"answer"`
	ReasoningSummary string `json:"reasoning_summary"`
	SourcesCited     []struct {
		Citation  string  `json:"citation"`
		Relevance float64 `json:"relevance"`
	} `json:"sources_cited"`
	CandidateActions []struct {
		Label  string `json:"label"`
		Icon   string `json:"icon"`
		Prompt string `json:"prompt"`
	} `json:"candidate_actions"`
}

// ParseResponse parses the model's synthesis output leniently.
//
// # Description
//
// Accepts bare JSON, JSON inside markdown fences, and JSON surrounded by
// prose. When no parsable JSON exists, or the parsed answer is empty, the
// whole raw text becomes the answer and ParseDegraded is set; a degraded
// parse still yields a serviceable response, it just loses structure and
// triggers regeneration of the follow-up actions.
func ParseResponse(response string) *datatypes.SynthesisResult {
	raw := strings.TrimSpace(stripFences(response))

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		slog.Warn("Synthesis response has no JSON object, degrading to raw text")
		return &datatypes.SynthesisResult{AnswerText: raw, ParseDegraded: true}
	}

	var parsed synthesisResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		slog.Warn("Synthesis response unparsable, degrading to raw text", "error", err)
		return &datatypes.SynthesisResult{AnswerText: raw, ParseDegraded: true}
	}
	if strings.TrimSpace(parsed.Answer) == "" {
		slog.Warn("Synthesis response has empty answer, degrading to raw text")
		return &datatypes.SynthesisResult{AnswerText: raw, ParseDegraded: true}
	}

	result := &datatypes.SynthesisResult{
		AnswerText:       strings.TrimSpace(parsed.Answer),
		ReasoningSummary: strings.TrimSpace(parsed.ReasoningSummary),
	}

	for _, s := range parsed.SourcesCited {
		if strings.TrimSpace(s.Citation) == "" {
			continue
		}
		relevance := s.Relevance
		if relevance < 0 || relevance > 1 {
			relevance = 0.5
		}
		result.SourcesCited = append(result.SourcesCited, datatypes.CitedSource{
			Reference: strings.TrimSpace(s.Citation),
			Relevance: relevance,
		})
	}

	for _, a := range parsed.CandidateActions {
		if strings.TrimSpace(a.Label) == "" && strings.TrimSpace(a.Prompt) == "" {
			continue
		}
		result.CandidateActions = append(result.CandidateActions, datatypes.CandidateAction{
			Label:  strings.TrimSpace(a.Label),
			Icon:   strings.TrimSpace(a.Icon),
			Prompt: strings.TrimSpace(a.Prompt),
		})
	}

	return result
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return trimmed
}
