// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package complexity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/NormaAI/NormaCore/services/llm"
	"github.com/NormaAI/NormaCore/services/orchestrator/config"
	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// ReasoningStrategy names the reasoning engine's two modes.
type ReasoningStrategy string

const (
	StrategyChain ReasoningStrategy = "chain_of_thought"
	StrategyTree  ReasoningStrategy = "tree_of_thoughts"
)

// ModelSelection is the orchestrator's verdict for one request.
type ModelSelection struct {
	Tier     string
	Provider string
	Model    string

	// ClientName is the health-service registration key
	// ("openai/gpt-4o").
	ClientName string

	Strategy     ReasoningStrategy
	Timeout      time.Duration
	Temperature  float32
	MaxTokens    int
	UsedFallback bool

	// PricePerKTokEUR feeds the cost tracker.
	PricePerKTokEUR float64
}

// HealthChecker is the subset of the LLM health service the orchestrator
// needs. Satisfied by *llm.HealthService.
type HealthChecker interface {
	Available(name string) bool
	Generate(ctx context.Context, name, prompt string, params llm.GenerationParams) (string, error)
}

// ModelOrchestrator maps a complexity grade to a concrete model.
//
// # Thread Safety
//
// ModelOrchestrator is safe for concurrent use.
type ModelOrchestrator struct {
	health  HealthChecker
	configs *config.Store
	limiter *rate.Limiter
	costs   *CostTracker
}

// NewModelOrchestrator creates the orchestrator.
//
// # Inputs
//
//   - health: Provider availability and breaker-guarded generation.
//   - configs: Live tier configuration.
//   - rps: Outbound request rate limit across all providers; <= 0
//     disables limiting.
//   - costs: Cost accumulator, must not be nil.
func NewModelOrchestrator(health HealthChecker, configs *config.Store, rps float64, costs *CostTracker) *ModelOrchestrator {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &ModelOrchestrator{
		health:  health,
		configs: configs,
		limiter: limiter,
		costs:   costs,
	}
}

// tierFor maps a complexity grade to (tier name, strategy).
func tierFor(c datatypes.Complexity) (string, ReasoningStrategy) {
	switch c {
	case datatypes.ComplexityComplex:
		return "standard", StrategyTree
	case datatypes.ComplexityMultiDomain:
		return "advanced", StrategyTree
	default:
		return "fast", StrategyChain
	}
}

// Select picks the model for a classified query.
//
// # Description
//
// The grade fixes the tier; within the tier the primary provider is used
// unless its circuit is open, in which case the configured fallback takes
// over with UsedFallback set. When both primary and fallback are
// unavailable the primary is still returned: the breaker's half-open
// probe needs real traffic to close again, and the caller's own error
// handling covers the failure.
func (o *ModelOrchestrator) Select(classification datatypes.ComplexityClassification) (ModelSelection, error) {
	tierName, strategy := tierFor(classification.Complexity)

	cfg := o.configs.Get()
	tier, ok := cfg.Tiers[tierName]
	if !ok {
		return ModelSelection{}, fmt.Errorf("tier %q not configured", tierName)
	}

	selection := ModelSelection{
		Tier:            tierName,
		Provider:        tier.Provider,
		Model:           tier.Model,
		ClientName:      tier.Provider + "/" + tier.Model,
		Strategy:        strategy,
		Timeout:         time.Duration(tier.TimeoutMs) * time.Millisecond,
		Temperature:     tier.Temperature,
		MaxTokens:       tier.MaxTokens,
		PricePerKTokEUR: tier.PricePerKTokEUR,
	}

	if o.health.Available(selection.ClientName) {
		return selection, nil
	}

	if tier.FallbackProvider == "" || tier.FallbackModel == "" {
		slog.Warn("Primary provider unavailable and no fallback configured, proceeding anyway",
			"tier", tierName, "provider", tier.Provider)
		return selection, nil
	}

	fallbackName := tier.FallbackProvider + "/" + tier.FallbackModel
	if !o.health.Available(fallbackName) {
		slog.Warn("Primary and fallback providers both unavailable, proceeding with primary",
			"tier", tierName, "primary", selection.ClientName, "fallback", fallbackName)
		return selection, nil
	}

	slog.Info("Primary provider unavailable, using fallback",
		"tier", tierName, "primary", selection.ClientName, "fallback", fallbackName)
	selection.Provider = tier.FallbackProvider
	selection.Model = tier.FallbackModel
	selection.ClientName = fallbackName
	selection.UsedFallback = true
	return selection, nil
}

// Generate runs one generation through the selected model, applying the
// tier's per-call timeout, the outbound rate limit and recording
// estimated cost.
func (o *ModelOrchestrator) Generate(ctx context.Context, selection ModelSelection, prompt string, maxTokens int) (string, error) {
	if selection.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, selection.Timeout)
		defer cancel()
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait canceled: %w", err)
		}
	}

	if maxTokens <= 0 || maxTokens > selection.MaxTokens {
		maxTokens = selection.MaxTokens
	}
	params := llm.GenerationParams{
		Temperature: llm.Float32Ptr(selection.Temperature),
		MaxTokens:   llm.IntPtr(maxTokens),
	}

	response, err := o.health.Generate(ctx, selection.ClientName, prompt, params)
	if err != nil {
		return "", err
	}

	o.costs.Record(selection.Provider, selection.Tier,
		estimateTokens(prompt), estimateTokens(response), selection.PricePerKTokEUR)
	return response, nil
}

// WithCosts returns a view of the orchestrator that records usage into the
// given tracker. Health checks, configuration and the rate limiter stay
// shared. The pipeline uses a request-scoped tracker to report exact
// per-request cost, then merges it into the process-wide one.
func (o *ModelOrchestrator) WithCosts(costs *CostTracker) *ModelOrchestrator {
	return &ModelOrchestrator{
		health:  o.health,
		configs: o.configs,
		limiter: o.limiter,
		costs:   costs,
	}
}

// GenerateFunc adapts a selection to the GenerateFunc signature the
// pipeline stages consume.
func (o *ModelOrchestrator) GenerateFunc(selection ModelSelection) GenerateFunc {
	return func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return o.Generate(ctx, selection, prompt, maxTokens)
	}
}

// estimateTokens approximates token count at 4 bytes per token. Close
// enough for cost tracking; exact counts would need per-model tokenizers.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
