// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package complexity classifies queries and selects the model that will
// answer them.
//
// # Description
//
// The classifier grades a query as simple, complex or multi_domain using
// a fast-tier model; the orchestrator maps the grade to a model tier,
// reasoning strategy and timeout, falling to the tier's fallback provider
// when the primary's circuit is open. A cost tracker accumulates
// estimated spend per provider.
package complexity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("norma.orchestrator.complexity")

// GenerateFunc is a function type for LLM text generation.
type GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// Classifier grades query complexity with a fast-tier model.
//
// # Thread Safety
//
// Classifier is safe for concurrent use.
type Classifier struct {
	generate  GenerateFunc
	timeoutMs int
}

// NewClassifier creates a Classifier. timeoutMs <= 0 defaults to 2000.
func NewClassifier(generate GenerateFunc, timeoutMs int) *Classifier {
	if timeoutMs <= 0 {
		timeoutMs = 2000
	}
	return &Classifier{generate: generate, timeoutMs: timeoutMs}
}

// Classify grades the query, using the retrieved context as a hint.
//
// # Description
//
// Any failure (LLM error, timeout, unparsable output, unknown grade)
// returns the fallback classification: simple. Failing cheap is
// deliberate; a misgraded complex query still gets a correct if shallower
// answer, while failing expensive burns the advanced tier on chit-chat.
func (c *Classifier) Classify(ctx context.Context, query string, retrieval *datatypes.RetrievalResult) datatypes.ComplexityClassification {
	ctx, span := tracer.Start(ctx, "complexity.classify")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.timeoutMs)*time.Millisecond)
	defer cancel()

	response, err := c.generate(ctx, buildClassifierPrompt(query, retrieval), 300)
	if err != nil {
		span.RecordError(err)
		slog.Warn("Complexity classifier call failed, defaulting to simple", "error", err)
		return datatypes.NewFallbackClassification(fmt.Sprintf("llm call failed: %v", err))
	}

	classification, err := parseClassifierResponse(response)
	if err != nil {
		span.RecordError(err)
		slog.Warn("Complexity classifier response unparsable, defaulting to simple", "error", err)
		return datatypes.NewFallbackClassification(fmt.Sprintf("unparsable response: %v", err))
	}

	span.SetAttributes(
		attribute.String("complexity.grade", string(classification.Complexity)),
		attribute.StringSlice("complexity.domains", classification.Domains),
	)
	return classification
}

func buildClassifierPrompt(query string, retrieval *datatypes.RetrievalResult) string {
	contextHint := "no documents retrieved"
	if retrieval.HasContext() {
		types := map[string]bool{}
		for _, d := range retrieval.Documents {
			types[string(d.SourceType)] = true
		}
		names := make([]string, 0, len(types))
		for t := range types {
			names = append(names, t)
		}
		contextHint = fmt.Sprintf("%d documents retrieved, source types: %s",
			len(retrieval.Documents), strings.Join(names, ", "))
	}

	return fmt.Sprintf(`Grade the complexity of this Italian tax/legal query.

Grades:
- "simple": one concept, one domain, answerable from a single source
- "complex": multiple interacting rules or conditions within one domain
- "multi_domain": spans distinct professional domains (e.g. tax AND labor
  law, tax AND corporate law) whose rules may conflict

Retrieved context: %s
Query: %s

Respond ONLY with JSON:
{"complexity": "complex", "domains": ["iva"], "confidence": 0.9, "reasoning": "one short sentence"}`,
		contextHint, query)
}

func parseClassifierResponse(response string) (datatypes.ComplexityClassification, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return datatypes.ComplexityClassification{}, fmt.Errorf("no JSON object in response")
	}

	var parsed datatypes.ComplexityClassification
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil {
		return datatypes.ComplexityClassification{}, fmt.Errorf("failed to unmarshal classification: %w", err)
	}

	switch parsed.Complexity {
	case datatypes.ComplexitySimple, datatypes.ComplexityComplex, datatypes.ComplexityMultiDomain:
	default:
		return datatypes.ComplexityClassification{}, fmt.Errorf("unknown complexity grade %q", parsed.Complexity)
	}
	if parsed.Complexity == datatypes.ComplexityMultiDomain && len(parsed.Domains) < 2 {
		return datatypes.ComplexityClassification{}, fmt.Errorf("multi_domain grade with %d domains", len(parsed.Domains))
	}
	return parsed, nil
}
