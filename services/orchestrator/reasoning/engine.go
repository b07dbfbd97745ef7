// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reasoning

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NormaAI/NormaCore/services/orchestrator/complexity"
	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("norma.orchestrator.reasoning")

// GenerateFunc is a function type for LLM text generation.
type GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// Engine dispatches to the selected reasoning strategy with graceful
// degradation.
//
// # Thread Safety
//
// Engine is stateless and safe for concurrent use.
type Engine struct{}

// NewEngine creates the engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Reason produces the reasoning trace for a query.
//
// # Description
//
// Tree-of-thoughts is attempted for the tree strategy; if every
// hypothesis fails, the engine falls back to a chain and marks the trace
// degraded. If the chain also fails (or was the selected strategy and
// failed), a minimal degraded chain trace is returned so synthesis always
// has something to work with. Reason never returns nil.
func (e *Engine) Reason(ctx context.Context, generate GenerateFunc, strategy complexity.ReasoningStrategy, query string, retrieval *datatypes.RetrievalResult, classification datatypes.ComplexityClassification) *datatypes.ReasoningTrace {
	ctx, span := tracer.Start(ctx, "reasoning.reason")
	defer span.End()
	span.SetAttributes(attribute.String("reasoning.strategy", string(strategy)))

	if strategy == complexity.StrategyTree {
		tree, err := runTree(ctx, generate, query, retrieval, classification.Domains)
		if err == nil {
			trace := datatypes.NewTreeTrace(tree)
			span.SetAttributes(
				attribute.Int("reasoning.hypotheses", len(tree.Hypotheses)),
				attribute.String("reasoning.selected", tree.SelectedHypothesisId),
			)
			return trace
		}
		span.RecordError(err)
		slog.Warn("Tree-of-thoughts failed, falling back to chain", "error", err)
	}

	chain, err := runChain(ctx, generate, query, retrieval)
	if err == nil {
		trace := datatypes.NewChainTrace(chain)
		trace.Degraded = strategy == complexity.StrategyTree
		return trace
	}
	span.RecordError(err)
	slog.Error("Chain-of-thought failed, returning degraded trace", "error", err)

	trace := datatypes.NewChainTrace(datatypes.ChainOfThought{
		Theme: "risposta degradata",
		Conclusion: "Non e stato possibile completare il ragionamento sulle fonti " +
			"disponibili. La risposta richiede una verifica manuale.",
	})
	trace.Degraded = true
	return trace
}
