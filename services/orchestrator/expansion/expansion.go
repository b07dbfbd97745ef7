// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expansion rewrites a routed query into the retrieval inputs.
//
// # Description
//
// For each query interpretation the expander produces three search
// variants (keyword, semantic, entity) plus an optional hypothetical
// document (HyDE) used for embedding-space search. Ambiguous queries are
// split into two or three interpretations first, each expanded
// independently. All failures degrade: the original query alone is always
// a valid expansion.
package expansion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("norma.orchestrator.expansion")

// GenerateFunc is a function type for LLM text generation.
type GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// Config holds expansion tuning knobs.
type Config struct {
	// TimeoutMs bounds each expansion LLM call. Default: 3000.
	TimeoutMs int

	// VariantMaxTokens for the three-variant response. Default: 300.
	VariantMaxTokens int

	// HydeMaxTokens bounds the hypothetical document. Default: 260.
	HydeMaxTokens int

	// HydeMaxWords truncates the hypothetical document. Default: 180.
	HydeMaxWords int

	// MinQueryRunes below which a query counts as potentially ambiguous.
	// Default: 20.
	MinQueryRunes int

	// MaxInterpretations caps ambiguity splitting. Default: 3.
	MaxInterpretations int
}

// DefaultConfig returns the default expansion configuration.
func DefaultConfig() Config {
	return Config{
		TimeoutMs:          3000,
		VariantMaxTokens:   300,
		HydeMaxTokens:      260,
		HydeMaxWords:       180,
		MinQueryRunes:      20,
		MaxInterpretations: 3,
	}
}

// Expander produces query variants and hypothetical documents.
//
// # Thread Safety
//
// Expander is safe for concurrent use.
type Expander struct {
	generate GenerateFunc
	config   Config
}

// New creates an Expander backed by the given generate function.
func New(generate GenerateFunc, config Config) *Expander {
	if config.TimeoutMs <= 0 {
		config.TimeoutMs = 3000
	}
	if config.MinQueryRunes <= 0 {
		config.MinQueryRunes = 20
	}
	if config.MaxInterpretations < 2 {
		config.MaxInterpretations = 3
	}
	if config.HydeMaxWords <= 0 {
		config.HydeMaxWords = 180
	}
	return &Expander{generate: generate, config: config}
}

// italianPronounPatterns contains words that suggest an underspecified
// follow-up. Mixed Italian/English because the corpus contains both.
var italianPronounPatterns = []string{
	"questo", "questa", "quello", "quella", "questi", "quelle",
	"esso", "essa", "lui", "lei", "loro", "ne", "ci",
	"this", "that", "it", "they", "more",
}

// followUpPrefixes mark queries that continue a previous answer.
var followUpPrefixes = []string{
	"e per", "e se", "e nel caso", "e invece", "e quindi",
	"anche per", "stessa cosa per", "and for", "what about",
}

// IsAmbiguous reports whether the query likely admits multiple readings.
//
// Heuristics: very short queries, bare pronoun references, and follow-up
// openers ("E per...?"). Conservative by design of the check order; a
// false positive only costs one extra interpretation pass.
func (e *Expander) IsAmbiguous(query string) bool {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)

	for _, prefix := range followUpPrefixes {
		if strings.HasPrefix(lower, prefix+" ") || lower == prefix {
			return true
		}
	}

	if utf8.RuneCountInString(trimmed) < e.config.MinQueryRunes {
		return true
	}

	words := strings.Fields(lower)
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:'\"")
		for _, pronoun := range italianPronounPatterns {
			if word == pronoun {
				return true
			}
		}
	}
	return false
}

// Expand produces the full expansion for a routed query.
//
// # Description
//
// If the query is ambiguous, Expand first asks the model for up to
// MaxInterpretations distinct readings, then expands each in parallel.
// Otherwise a single interpretation is expanded. HyDE generation is
// gated on the routing category: casual_chat and calculation queries
// never get a hypothetical document.
//
// # Inputs
//
//   - history: Trailing conversation turns, oldest first. May be nil.
//     Ambiguity interpretation reads them: "E per l'IVA?" after a
//     forfettario exchange resolves against that topic.
//
// # Outputs
//
//   - datatypes.QueryExpansion: Never empty; degraded single
//     interpretation carrying the original query if everything fails.
func (e *Expander) Expand(ctx context.Context, query string, history []datatypes.HistoryTurn, decision datatypes.RoutingDecision) datatypes.QueryExpansion {
	ctx, span := tracer.Start(ctx, "expansion.expand")
	defer span.End()

	ambiguous := e.IsAmbiguous(query)
	interpretationTexts := []string{query}
	labels := []string{"primary"}

	if ambiguous {
		if alts, err := e.interpret(ctx, query, history); err == nil && len(alts) >= 2 {
			interpretationTexts = alts
			labels = make([]string, len(alts))
			for i := range alts {
				labels[i] = fmt.Sprintf("interpretation_%d", i+1)
			}
		} else if err != nil {
			span.RecordError(err)
			slog.Warn("Ambiguity interpretation failed, expanding original only", "error", err)
		}
	}

	interpretations := make([]datatypes.QueryInterpretation, len(interpretationTexts))

	g, gctx := errgroup.WithContext(ctx)
	for i, text := range interpretationTexts {
		g.Go(func() error {
			interpretations[i] = e.expandOne(gctx, text, labels[i], decision)
			return nil
		})
	}
	// Workers never return errors; degradation is recorded per slot.
	_ = g.Wait()

	anyDegraded := false
	for _, interp := range interpretations {
		if interp.Variants.IsDegraded() {
			anyDegraded = true
			break
		}
	}

	span.SetAttributes(
		attribute.Bool("expansion.ambiguous", ambiguous),
		attribute.Int("expansion.interpretations", len(interpretations)),
		attribute.Bool("expansion.degraded", anyDegraded),
	)

	return datatypes.QueryExpansion{
		Interpretations: interpretations,
		Ambiguous:       ambiguous && len(interpretations) > 1,
		Degraded:        anyDegraded,
	}
}

// expandOne produces variants and the gated hypothetical for one reading.
func (e *Expander) expandOne(ctx context.Context, text, label string, decision datatypes.RoutingDecision) datatypes.QueryInterpretation {
	variants := e.variants(ctx, text, decision)

	var hypothetical datatypes.HypotheticalDocument
	if decision.Category == datatypes.CategoryCasualChat || decision.Category == datatypes.CategoryCalculation {
		hypothetical = datatypes.NewSkippedHypothetical(
			fmt.Sprintf("category %s does not use embedding search", decision.Category))
	} else {
		hypothetical = e.hypothetical(ctx, text)
	}

	return datatypes.QueryInterpretation{
		Label:        label,
		Variants:     variants,
		Hypothetical: hypothetical,
	}
}

// variants asks the model for keyword/semantic/entity rewrites.
func (e *Expander) variants(ctx context.Context, query string, decision datatypes.RoutingDecision) datatypes.QueryVariantSet {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.TimeoutMs)*time.Millisecond)
	defer cancel()

	response, err := e.generate(ctx, buildVariantPrompt(query, decision.ExtractedEntities), e.config.VariantMaxTokens)
	if err != nil {
		slog.Warn("Variant expansion LLM call failed, using original query", "error", err)
		return datatypes.NewDegradedVariantSet(query)
	}

	set, err := parseVariantResponse(query, response)
	if err != nil {
		slog.Warn("Variant expansion response unparsable, using original query", "error", err)
		return datatypes.NewDegradedVariantSet(query)
	}
	return set
}

// hypothetical generates the HyDE passage for embedding search.
func (e *Expander) hypothetical(ctx context.Context, query string) datatypes.HypotheticalDocument {
	ctx, span := tracer.Start(ctx, "expansion.hyde")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.TimeoutMs)*time.Millisecond)
	defer cancel()

	response, err := e.generate(ctx, buildHydePrompt(query), e.config.HydeMaxTokens)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "hyde generation failed")
		return datatypes.NewSkippedHypothetical(fmt.Sprintf("generation failed: %v", err))
	}

	text := strings.TrimSpace(response)
	if text == "" {
		return datatypes.NewSkippedHypothetical("empty generation")
	}
	return datatypes.NewHypotheticalDocument(truncateWords(text, e.config.HydeMaxWords))
}

// interpret asks the model for distinct readings of an ambiguous query.
func (e *Expander) interpret(ctx context.Context, query string, history []datatypes.HistoryTurn) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.TimeoutMs)*time.Millisecond)
	defer cancel()

	response, err := e.generate(ctx, buildInterpretationPrompt(query, history, e.config.MaxInterpretations), e.config.VariantMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("interpretation LLM call failed: %w", err)
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in interpretation response")
	}

	var parsed struct {
		Interpretations []string `json:"interpretations"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interpretations: %w", err)
	}

	out := make([]string, 0, e.config.MaxInterpretations)
	for _, text := range parsed.Interpretations {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		out = append(out, text)
		if len(out) == e.config.MaxInterpretations {
			break
		}
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("model produced %d interpretations, need at least 2", len(out))
	}
	return out, nil
}

// =============================================================================
// Prompts and Parsing
// =============================================================================

func buildVariantPrompt(query string, entities []datatypes.ExtractedEntity) string {
	var entityHint strings.Builder
	if len(entities) > 0 {
		entityHint.WriteString("Known entities in the query: ")
		for i, e := range entities {
			if i > 0 {
				entityHint.WriteString(", ")
			}
			entityHint.WriteString(e.Text)
		}
		entityHint.WriteString("\n")
	}

	return fmt.Sprintf(`You rewrite Italian tax/legal questions for retrieval. Generate THREE variants:
1. KEYWORD: the query reduced to its searchable terms, no filler words
2. SEMANTIC: the question rephrased with synonyms and formal normative vocabulary
3. ENTITY: a variant centered on the specific laws, codes or regimes involved

%sQuery: %s

Respond ONLY with JSON:
{"keyword": "...", "semantic": "...", "entity": "..."}`, entityHint.String(), query)
}

func buildHydePrompt(query string) string {
	return fmt.Sprintf(`Scrivi un breve passaggio (massimo 150 parole) nello stile di una circolare
dell'Agenzia delle Entrate che risponda alla seguente domanda. Il passaggio
verra usato solo per la ricerca semantica, non mostrato all'utente. Usa il
lessico normativo italiano appropriato. Non aggiungere premesse o titoli.

Domanda: %s`, query)
}

func buildInterpretationPrompt(query string, history []datatypes.HistoryTurn, maxInterpretations int) string {
	return fmt.Sprintf(`The following Italian tax/legal query is ambiguous or underspecified.
List the %d most plausible distinct readings, each as a complete standalone
question. If only 2 readings are plausible, list 2. When prior conversation
turns are present, resolve pronouns and follow-ups against them: a reading
that ignores the established topic is not plausible.
%s
Query: %s

Respond ONLY with JSON:
{"interpretations": ["first reading", "second reading"]}`, maxInterpretations, formatHistoryBlock(history), query)
}

// formatHistoryBlock renders trailing turns for prompt embedding;
// "" when there is no history.
func formatHistoryBlock(history []datatypes.HistoryTurn) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nCONVERSAZIONE PRECEDENTE:\n")
	for _, turn := range history {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// parseVariantResponse extracts the three variants, tolerating fences.
func parseVariantResponse(original, response string) (datatypes.QueryVariantSet, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return datatypes.QueryVariantSet{}, fmt.Errorf("no JSON object in variant response")
	}

	var parsed struct {
		Keyword  string `json:"keyword"`
		Semantic string `json:"semantic"`
		Entity   string `json:"entity"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil {
		return datatypes.QueryVariantSet{}, fmt.Errorf("failed to unmarshal variants: %w", err)
	}

	set := datatypes.QueryVariantSet{
		OriginalQuery:   original,
		KeywordVariant:  strings.TrimSpace(parsed.Keyword),
		SemanticVariant: strings.TrimSpace(parsed.Semantic),
		EntityVariant:   strings.TrimSpace(parsed.Entity),
	}
	// Missing variants fall back to the original query per-slot.
	if set.KeywordVariant == "" {
		set.KeywordVariant = original
	}
	if set.SemanticVariant == "" {
		set.SemanticVariant = original
	}
	if set.EntityVariant == "" {
		set.EntityVariant = original
	}
	return set, nil
}

// truncateWords caps text at maxWords words.
func truncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ")
}
