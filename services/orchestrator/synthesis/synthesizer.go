// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synthesis turns a reasoning trace into the final structured
// answer: text, hierarchy-ordered citations, candidate follow-up actions,
// and detected source conflicts.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("norma.orchestrator.synthesis")

// GenerateFunc is a function type for LLM text generation.
type GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// synthesisMaxTokens bounds the final answer generation.
const synthesisMaxTokens = 3000

// citationExcerptRunes caps the document excerpt carried on a resolved
// citation for conflict detection.
const citationExcerptRunes = 280

// Synthesizer produces and parses the final answer.
//
// # Thread Safety
//
// Synthesizer is stateless and safe for concurrent use.
type Synthesizer struct{}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

// Synthesize generates the final structured answer.
//
// # Description
//
// The prompt carries the reasoning trace's conclusion (chain) or selected
// hypothesis plus flagged risky alternatives (tree), along with the
// numbered sources. The response is parsed leniently; on total parse
// failure the raw text becomes the answer with ParseDegraded set, which
// downstream forces a golden-loop regeneration. Citations are resolved
// against the retrieved documents, ordered by legal hierarchy, and
// scanned for conflicts. Synthesize never returns nil.
func (s *Synthesizer) Synthesize(ctx context.Context, generate GenerateFunc, query string, reasoningTrace *datatypes.ReasoningTrace, retrieval *datatypes.RetrievalResult) *datatypes.SynthesisResult {
	ctx, span := tracer.Start(ctx, "synthesis.synthesize")
	defer span.End()

	prompt := buildSynthesisPrompt(query, reasoningTrace, retrieval)

	response, err := generate(ctx, prompt, synthesisMaxTokens)
	if err != nil {
		span.RecordError(err)
		result := &datatypes.SynthesisResult{
			AnswerText: "Non e stato possibile generare una risposta completa. " +
				"Riprova o riformula la domanda.",
			Trace:         reasoningTrace,
			ParseDegraded: true,
		}
		return result
	}

	result := ParseResponse(response)
	result.Trace = reasoningTrace

	resolveCitations(result, retrieval)
	OrderSources(result.SourcesCited)
	result.Conflicts = DetectConflicts(result.SourcesCited)

	for i := range result.CandidateActions {
		if result.CandidateActions[i].Id == "" {
			result.CandidateActions[i].Id = uuid.NewString()
		}
	}

	span.SetAttributes(
		attribute.Bool("synthesis.parse_degraded", result.ParseDegraded),
		attribute.Int("synthesis.sources", len(result.SourcesCited)),
		attribute.Int("synthesis.candidate_actions", len(result.CandidateActions)),
		attribute.Int("synthesis.conflicts", len(result.Conflicts)),
	)
	return result
}

func buildSynthesisPrompt(query string, reasoningTrace *datatypes.ReasoningTrace, retrieval *datatypes.RetrievalResult) string {
	var reasoningBlock strings.Builder

	switch reasoningTrace.Kind {
	case datatypes.TraceTreeOfThoughts:
		tree := reasoningTrace.Tree
		if selected := tree.Selected(); selected != nil {
			fmt.Fprintf(&reasoningBlock, "CONCLUSIONE SELEZIONATA: %s\n", selected.Conclusion)
			for _, step := range selected.Path {
				fmt.Fprintf(&reasoningBlock, "- %s\n", step)
			}
		}
		for _, alt := range tree.FlaggedAlternatives(datatypes.RiskHigh) {
			fmt.Fprintf(&reasoningBlock,
				"SCENARIO ALTERNATIVO DA SEGNALARE (rischio %s): %s\n", alt.RiskLevel, alt.Conclusion)
		}
		for _, conflict := range tree.DomainConflicts {
			fmt.Fprintf(&reasoningBlock, "CONFLITTO TRA DOMINI: %s\n", conflict)
		}
	default:
		chain := reasoningTrace.Chain
		fmt.Fprintf(&reasoningBlock, "CONCLUSIONE: %s\n", chain.Conclusion)
		for _, point := range chain.KeyPoints {
			fmt.Fprintf(&reasoningBlock, "- %s\n", point)
		}
	}

	sourcesBlock := "Nessuna fonte disponibile: dichiara che la risposta non e basata su fonti."
	if retrieval.HasContext() {
		var b strings.Builder
		for i, doc := range retrieval.Documents {
			ref := doc.SourceName
			if doc.Record != nil && doc.Record.ReferenceCode != "" {
				ref = doc.Record.ReferenceCode
			}
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, doc.SourceType, ref)
		}
		sourcesBlock = b.String()
	}

	return fmt.Sprintf(`Sei un assistente per commercialisti e consulenti del lavoro. Componi la
risposta finale alla domanda basandoti sul ragionamento e sulle fonti.
Cita le fonti nel testo con i marcatori [n]. Se sono segnalati scenari
alternativi ad alto rischio, menzionali esplicitamente.

RAGIONAMENTO:
%s
FONTI:
%s
DOMANDA: %s

Rispondi SOLO con JSON:
{
  "answer": "risposta completa in italiano con citazioni [n]",
  "reasoning_summary": "sintesi del ragionamento in 1-2 frasi",
  "sources_cited": [{"citation": "[1]", "relevance": 0.9}],
  "candidate_actions": [
    {"label": "Calcola l'imposta dovuta", "icon": "calculator", "prompt": "Calcola l'imposta dovuta per..."}
  ]
}
Proponi da 2 a 4 candidate_actions concrete e specifiche per questa domanda.`,
		reasoningBlock.String(), sourcesBlock, query)
}

// resolveCitations links parsed citations to the retrieved documents,
// filling reference, source type, published date and the content excerpt
// conflict detection reads.
func resolveCitations(result *datatypes.SynthesisResult, retrieval *datatypes.RetrievalResult) {
	for i := range result.SourcesCited {
		cited := &result.SourcesCited[i]
		idx, ok := parseCitationIndex(cited.Reference)
		if !ok || idx < 1 || idx > len(retrieval.Documents) {
			cited.SourceType = datatypes.SourceUnknown
			cited.HierarchyRank = datatypes.SourceUnknown.HierarchyRank()
			continue
		}
		doc := retrieval.Documents[idx-1]
		cited.DocumentId = doc.Id
		cited.SourceType = doc.SourceType
		cited.HierarchyRank = doc.SourceType.HierarchyRank()
		cited.Excerpt = truncateExcerpt(doc.Content, citationExcerptRunes)
		if doc.Record != nil && doc.Record.ReferenceCode != "" {
			cited.Reference = doc.Record.ReferenceCode
		} else if doc.SourceName != "" {
			cited.Reference = doc.SourceName
		}
		if !doc.PublishedDate.IsZero() {
			cited.PublishedDate = doc.PublishedDate.Format("2006-01-02")
		}
	}
}

// truncateExcerpt cuts content at max runes.
func truncateExcerpt(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}

// parseCitationIndex extracts n from "[n]" or "n".
func parseCitationIndex(s string) (int, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	var idx int
	if _, err := fmt.Sscanf(s, "%d", &idx); err != nil {
		return 0, false
	}
	return idx, true
}
