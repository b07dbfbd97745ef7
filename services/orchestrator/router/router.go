// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package router classifies incoming queries before any retrieval happens.
//
// # Description
//
// The semantic router is the pipeline's first stage: it assigns each query
// one of five categories (casual_chat, definitional, technical_research,
// calculation, fixed_answer_set), extracts normative entities, and flags
// freshness-sensitive queries. Every downstream stage keys off this
// decision, so the router always produces one: any failure degrades to
// technical_research with confidence 0.5 rather than surfacing an error.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("norma.orchestrator.router")

// GenerateFunc is a function type for LLM text generation.
//
// Using a function type instead of an interface allows callers to pass
// a simple closure, eliminating adapter structs when the underlying LLM
// client has a different signature.
type GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// Config holds router tuning knobs.
type Config struct {
	// TimeoutMs bounds the classification LLM call. Default: 2000.
	TimeoutMs int

	// MaxTokens for the classification response. Default: 400.
	MaxTokens int

	// MinConfidence below which the decision is downgraded to the
	// technical_research fallback. Default: 0.3.
	MinConfidence float64
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{
		TimeoutMs:     2000,
		MaxTokens:     400,
		MinConfidence: 0.3,
	}
}

// Router classifies queries with a fast-tier LLM.
//
// # Thread Safety
//
// Router is safe for concurrent use.
type Router struct {
	generate GenerateFunc
	config   Config
}

// New creates a Router backed by the given generate function.
func New(generate GenerateFunc, config Config) *Router {
	if config.TimeoutMs <= 0 {
		config.TimeoutMs = 2000
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 400
	}
	return &Router{generate: generate, config: config}
}

// Route classifies the query and extracts entities.
//
// # Description
//
// Route builds a step-by-step classification prompt, calls the fast-tier
// model, and parses the JSON decision. On LLM failure, timeout,
// unparsable output, an unknown category, or confidence below the
// configured floor, it returns the fallback decision instead of an
// error: technical_research with confidence 0.5 and Fallback set.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - query: The user's raw query text.
//   - history: Trailing conversation turns, oldest first. May be nil.
//     Follow-up queries ("E per l'IVA?") are only classifiable against
//     the turns that preceded them, so the prompt embeds them verbatim.
//
// # Outputs
//
//   - datatypes.RoutingDecision: Never zero-valued; fallback on failure.
//
// # Example
//
//	decision := r.Route(ctx, "Come funziona il regime forfettario nel 2025?", req.PromptHistory())
//	if decision.SkipsRetrieval() { ... }
func (r *Router) Route(ctx context.Context, query string, history []datatypes.HistoryTurn) datatypes.RoutingDecision {
	ctx, span := tracer.Start(ctx, "router.route", trace.WithAttributes(
		attribute.Int("query.length", len(query)),
		attribute.Int("query.history_turns", len(history)),
	))
	defer span.End()

	timeout := time.Duration(r.config.TimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := r.generate(ctx, buildRoutingPrompt(query, history), r.config.MaxTokens)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "routing LLM call failed")
		slog.Warn("Router LLM call failed, using fallback decision", "error", err)
		return datatypes.NewFallbackRoutingDecision(fmt.Sprintf("llm call failed: %v", err))
	}

	decision, err := parseRoutingResponse(response)
	if err != nil {
		span.RecordError(err)
		slog.Warn("Router response unparsable, using fallback decision", "error", err)
		return datatypes.NewFallbackRoutingDecision(fmt.Sprintf("unparsable response: %v", err))
	}

	if decision.Confidence < r.config.MinConfidence {
		slog.Info("Routing confidence below floor, using fallback decision",
			"category", decision.Category, "confidence", decision.Confidence)
		return datatypes.NewFallbackRoutingDecision(
			fmt.Sprintf("confidence %.2f below floor %.2f", decision.Confidence, r.config.MinConfidence))
	}

	span.SetAttributes(
		attribute.String("routing.category", string(decision.Category)),
		attribute.Float64("routing.confidence", decision.Confidence),
		attribute.Int("routing.entities", len(decision.ExtractedEntities)),
	)
	return decision
}

// buildRoutingPrompt creates the step-by-step classification prompt.
//
// The model is walked through explicit steps before committing to a
// category; this measurably reduces casual_chat misroutes on short
// technical queries. Prior turns, when present, precede the query so
// elliptical follow-ups classify against the conversation topic.
func buildRoutingPrompt(query string, history []datatypes.HistoryTurn) string {
	return fmt.Sprintf(`You are the query router for an Italian tax and legal assistant.
Classify the user query by following these steps IN ORDER:

Step 1: Is this small talk, a greeting, or chit-chat with no tax/legal content?
        If yes the category is "casual_chat".
Step 2: Does it ask for the meaning or definition of a single term or concept?
        If yes the category is "definitional".
Step 3: Does it require computing an amount, rate, deadline arithmetic, or a
        numeric simulation? If yes the category is "calculation".
Step 4: Does it have a small closed set of valid answers (yes/no, a known code,
        a fixed list)? If yes the category is "fixed_answer_set".
Step 5: Otherwise the category is "technical_research".

Also extract every normative entity mentioned (law numbers, decree references,
circular numbers, tax regime names, deadlines) and decide whether the answer
depends on recent regulatory changes (requires_freshness). Follow-up queries
("E per...?", "Quanto costa?") inherit the topic of the prior turns below:
classify them by what they ask about that topic, not as casual_chat.
%s
User query: %s

Respond ONLY with JSON in this exact shape:
{
  "category": "technical_research",
  "confidence": 0.92,
  "reasoning": "one short sentence",
  "entities": [{"text": "DL 34/2020", "type": "decree"}],
  "requires_freshness": false
}`, formatHistoryBlock(history), query)
}

// formatHistoryBlock renders trailing conversation turns for prompt
// embedding. Returns "" when there is no history so single-turn prompts
// stay unchanged.
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

// routingResponse mirrors the JSON the classification prompt demands.
type routingResponse struct {
	Category          string `json:"category"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string `json:"reasoning"`
	Entities          []struct {
		Text string `json:"text"`
		Type string `json:"type"`
	} `json:"entities"`
	RequiresFreshness bool `json:"requires_freshness"`
}

// parseRoutingResponse extracts the decision from the LLM's response,
// tolerating markdown code fences and prose around the JSON object.
func parseRoutingResponse(response string) (datatypes.RoutingDecision, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return datatypes.RoutingDecision{}, fmt.Errorf("no JSON object in response")
	}

	var parsed routingResponse
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil {
		return datatypes.RoutingDecision{}, fmt.Errorf("failed to unmarshal routing JSON: %w", err)
	}

	category := datatypes.QueryCategory(strings.ToLower(strings.TrimSpace(parsed.Category)))
	if !category.IsValid() {
		return datatypes.RoutingDecision{}, fmt.Errorf("unknown category %q", parsed.Category)
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return datatypes.RoutingDecision{}, fmt.Errorf("confidence %f out of range", parsed.Confidence)
	}

	entities := make([]datatypes.ExtractedEntity, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		entities = append(entities, datatypes.ExtractedEntity{
			Text: strings.TrimSpace(e.Text),
			Type: strings.TrimSpace(e.Type),
		})
	}

	return datatypes.RoutingDecision{
		Category:          category,
		Confidence:        parsed.Confidence,
		Reasoning:         parsed.Reasoning,
		ExtractedEntities: entities,
		RequiresFreshness: parsed.RequiresFreshness,
	}, nil
}
