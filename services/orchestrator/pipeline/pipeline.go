// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline sequences the query-answering stages: routing, query
// expansion, retrieval fusion, complexity classification, model selection,
// reasoning, synthesis, and follow-up action validation.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/NormaAI/NormaCore/services/orchestrator/attachments"
	"github.com/NormaAI/NormaCore/services/orchestrator/complexity"
	"github.com/NormaAI/NormaCore/services/orchestrator/config"
	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
	"github.com/NormaAI/NormaCore/services/orchestrator/expansion"
	"github.com/NormaAI/NormaCore/services/orchestrator/goldenloop"
	"github.com/NormaAI/NormaCore/services/orchestrator/observability"
	"github.com/NormaAI/NormaCore/services/orchestrator/publicreason"
	"github.com/NormaAI/NormaCore/services/orchestrator/reasoning"
	"github.com/NormaAI/NormaCore/services/orchestrator/retrieval"
	"github.com/NormaAI/NormaCore/services/orchestrator/router"
	"github.com/NormaAI/NormaCore/services/orchestrator/synthesis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("norma.orchestrator.pipeline")

// maxKeyValues caps the extracted values passed to action regeneration.
const maxKeyValues = 6

// degradedDisclaimer is attached to responses where any stage fell back
// below full fidelity.
const degradedDisclaimer = "Alcune fasi dell'elaborazione sono state completate in modalita ridotta. Verifica le fonti citate prima di applicare la risposta."

// Pipeline wires the stage components into one request flow.
//
// # Description
//
// Every stage past routing degrades rather than errors: a failed router
// call falls back to full retrieval, failed expansion echoes the original
// query, failed reasoning downgrades tree to chain, failed synthesis
// returns the raw model text, and an exhausted golden loop substitutes
// safe fallback actions. Run therefore only errors on invalid input or
// unusable model configuration.
//
// # Thread Safety
//
// Pipeline is safe for concurrent use; all per-request state lives on the
// stack of Run.
type Pipeline struct {
	router      *router.Router
	expander    *expansion.Expander
	retrieval   *retrieval.Service
	classifier  *complexity.Classifier
	models      *complexity.ModelOrchestrator
	engine      *reasoning.Engine
	synthesizer *synthesis.Synthesizer
	loop        *goldenloop.Controller
	configs     *config.Store
	costs       *complexity.CostTracker
	metrics     *observability.PipelineMetrics
}

// Deps collects the constructed stage components.
type Deps struct {
	Router      *router.Router
	Expander    *expansion.Expander
	Retrieval   *retrieval.Service
	Classifier  *complexity.Classifier
	Models      *complexity.ModelOrchestrator
	Engine      *reasoning.Engine
	Synthesizer *synthesis.Synthesizer
	Loop        *goldenloop.Controller
	Configs     *config.Store
	Costs       *complexity.CostTracker

	// Metrics may be nil; all recording methods tolerate that.
	Metrics *observability.PipelineMetrics
}

// New creates the pipeline from its stage components.
func New(deps Deps) *Pipeline {
	return &Pipeline{
		router:      deps.Router,
		expander:    deps.Expander,
		retrieval:   deps.Retrieval,
		classifier:  deps.Classifier,
		models:      deps.Models,
		engine:      deps.Engine,
		synthesizer: deps.Synthesizer,
		loop:        deps.Loop,
		configs:     deps.Configs,
		costs:       deps.Costs,
		metrics:     deps.Metrics,
	}
}

// Run executes the full pipeline for one chat request.
//
// # Inputs
//
//   - ctx: Request context; the configured request deadline is applied
//     on top of whatever deadline the caller set.
//   - req: Validated inbound request. Defaults are populated here.
//
// # Outputs
//
//   - *datatypes.ChatResponse: The complete response. Degraded responses
//     carry the disclaimer; they are never nil on a nil error.
//   - error: Non-nil only for invalid requests or unusable model
//     configuration.
func (p *Pipeline) Run(ctx context.Context, req *datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	start := time.Now()

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cfg := p.configs.Get()
	ctx, cancel := context.WithTimeout(ctx,
		time.Duration(cfg.Pipeline.RequestTimeoutMs)*time.Millisecond)
	defer cancel()

	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", req.RequestId))

	// Request-scoped cost tracking; merged into the process-wide
	// accumulator before returning.
	reqCosts := complexity.NewCostTracker()
	models := p.models.WithCosts(reqCosts)
	defer p.costs.Merge(reqCosts)

	stageStart := time.Now()
	decision := p.router.Route(ctx, req.Query, req.PromptHistory())
	p.metrics.ObserveStage(observability.StageRouter, time.Since(stageStart).Seconds())
	if decision.Fallback {
		p.metrics.RecordDegradedStage(observability.StageRouter)
	}
	span.SetAttributes(attribute.String("route.category", string(decision.Category)))

	if decision.SkipsRetrieval() {
		return p.runCasual(ctx, models, req, decision, reqCosts, start)
	}

	stageStart = time.Now()
	expanded := p.expander.Expand(ctx, req.Query, req.PromptHistory(), decision)
	p.metrics.ObserveStage(observability.StageExpansion, time.Since(stageStart).Seconds())
	if expanded.Degraded {
		p.metrics.RecordDegradedStage(observability.StageExpansion)
	}

	stageStart = time.Now()
	retrieved := p.retrieval.Retrieve(ctx, expanded)
	p.metrics.ObserveStage(observability.StageRetrieval, time.Since(stageStart).Seconds())
	for _, strategy := range retrieved.StrategiesFailed {
		p.metrics.RecordStrategyFailure(strategy)
	}
	p.appendAttachment(req, retrieved)

	classification := p.classifier.Classify(ctx, req.Query, retrieved)
	selection, err := models.Select(classification)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("complexity", string(classification.Complexity)),
		attribute.String("model.tier", selection.Tier),
		attribute.String("model.client", selection.ClientName),
	)

	if selection.UsedFallback {
		p.metrics.RecordModelFallback(selection.Tier)
	}
	generate := models.GenerateFunc(selection)

	reasoningBudget := time.Duration(cfg.Pipeline.ReasoningTimeoutMs) * time.Millisecond
	strategy := selection.Strategy
	// A near-expired request cannot afford the tree fan-out; fall back
	// to the cheaper chain pass instead of timing out mid-exploration.
	if strategy == complexity.StrategyTree && remainingBudget(ctx) < reasoningBudget {
		slog.Warn("Request budget too low for tree reasoning, downgrading to chain",
			"request_id", req.RequestId, "remaining", remainingBudget(ctx))
		strategy = complexity.StrategyChain
	}

	stageStart = time.Now()
	reasonCtx, cancelReason := context.WithTimeout(ctx, reasoningBudget)
	trace := p.engine.Reason(reasonCtx, reasoning.GenerateFunc(generate),
		strategy, req.Query, retrieved, classification)
	cancelReason()
	p.metrics.ObserveStage(observability.StageReasoning, time.Since(stageStart).Seconds())
	if trace.Degraded {
		p.metrics.RecordDegradedStage(observability.StageReasoning)
	}

	stageStart = time.Now()
	synthCtx, cancelSynth := context.WithTimeout(ctx,
		time.Duration(cfg.Pipeline.SynthesisTimeoutMs)*time.Millisecond)
	synth := p.synthesizer.Synthesize(synthCtx, synthesis.GenerateFunc(generate),
		req.Query, trace, retrieved)
	cancelSynth()
	p.metrics.ObserveStage(observability.StageSynthesis, time.Since(stageStart).Seconds())
	if synth.ParseDegraded {
		p.metrics.RecordDegradedStage(observability.StageSynthesis)
	}

	stageStart = time.Now()
	loopResult := p.loop.Run(ctx, synth, collectKeyValues(retrieved))
	p.metrics.ObserveStage(observability.StageGoldenLoop, time.Since(stageStart).Seconds())
	p.metrics.ObserveLoopIterations(loopResult.IterationsUsed)
	if loopResult.FallbackUsed {
		p.metrics.RecordDegradedStage(observability.StageGoldenLoop)
		p.metrics.RecordLoopFallback()
	}

	degraded := decision.Fallback ||
		expanded.Degraded ||
		classification.Fallback ||
		len(retrieved.StrategiesFailed) > 0 ||
		trace.Degraded ||
		synth.ParseDegraded ||
		loopResult.FallbackUsed

	resp := &datatypes.ChatResponse{
		RequestId:        req.RequestId,
		SessionId:        req.SessionId,
		AnswerText:       synth.AnswerText,
		SourcesCited:     synth.SourcesCited,
		SuggestedActions: loopResult.Actions,
		ReasoningTrace:   trace,
		PublicReasoning:  publicreason.Transform(trace, synth.SourcesCited),
		Conflicts:        synth.Conflicts,
		Degraded:         degraded,
		CostEUR:          reqCosts.TotalEUR(),
		ElapsedMs:        time.Since(start).Milliseconds(),
	}
	if degraded {
		resp.Disclaimer = degradedDisclaimer
	}

	p.metrics.RecordRequest(string(decision.Category), true)
	for _, entry := range reqCosts.Snapshot() {
		p.metrics.AddModelCost(entry.Provider, entry.Tier, entry.EstimatedEUR)
	}

	span.SetAttributes(
		attribute.Bool("response.degraded", degraded),
		attribute.Float64("response.cost_eur", resp.CostEUR),
	)
	slog.Info("pipeline complete",
		"request_id", req.RequestId,
		"category", decision.Category,
		"complexity", classification.Complexity,
		"tier", selection.Tier,
		"documents", len(retrieved.Documents),
		"actions", len(loopResult.Actions),
		"degraded", degraded,
		"cost_eur", resp.CostEUR,
		"elapsed_ms", resp.ElapsedMs)

	return resp, nil
}

// runCasual answers a casual-chat query directly: no retrieval, no
// reasoning trace, no suggested actions.
func (p *Pipeline) runCasual(ctx context.Context, models *complexity.ModelOrchestrator, req *datatypes.ChatRequest, decision datatypes.RoutingDecision, reqCosts *complexity.CostTracker, start time.Time) (*datatypes.ChatResponse, error) {
	classification := datatypes.ComplexityClassification{
		Complexity: datatypes.ComplexitySimple,
		Confidence: decision.Confidence,
		Reasoning:  "casual chat bypasses retrieval",
	}
	selection, err := models.Select(classification)
	if err != nil {
		return nil, err
	}

	answer, genErr := models.Generate(ctx, selection, buildCasualPrompt(req), 0)
	degraded := genErr != nil
	if genErr != nil {
		slog.Warn("casual generation failed", "request_id", req.RequestId, "error", genErr)
		answer = "Non sono riuscito a elaborare la risposta. Puoi riprovare tra qualche istante."
	}

	p.metrics.RecordRequest(string(decision.Category), genErr == nil)
	for _, entry := range reqCosts.Snapshot() {
		p.metrics.AddModelCost(entry.Provider, entry.Tier, entry.EstimatedEUR)
	}

	resp := &datatypes.ChatResponse{
		RequestId:  req.RequestId,
		SessionId:  req.SessionId,
		AnswerText: answer,
		Degraded:   degraded,
		CostEUR:    reqCosts.TotalEUR(),
		ElapsedMs:  time.Since(start).Milliseconds(),
	}
	if degraded {
		resp.Disclaimer = degradedDisclaimer
	}
	return resp, nil
}

func buildCasualPrompt(req *datatypes.ChatRequest) string {
	prompt := "Sei l'assistente di uno studio professionale italiano. Rispondi in modo cordiale e conciso, in italiano, senza citare fonti normative.\n\n"
	for _, turn := range req.PromptHistory() {
		prompt += turn.Role + ": " + turn.Content + "\n"
	}
	return prompt + "user: " + req.Query
}

// appendAttachment chunks the attached document and appends the chunks to
// the retrieved set so they participate in reasoning and synthesis. The
// attachment never enters the index; a chunking failure is logged and the
// request proceeds on indexed sources alone.
func (p *Pipeline) appendAttachment(req *datatypes.ChatRequest, retrieved *datatypes.RetrievalResult) {
	if req.AttachedDocument == "" {
		return
	}
	docs, err := attachments.AsDocuments(req.AttachedDocument)
	if err != nil {
		slog.Warn("attachment chunking failed", "request_id", req.RequestId, "error", err)
		return
	}
	retrieved.Documents = append(retrieved.Documents, docs...)
}

// remainingBudget reports the time left before the request deadline.
// Contexts without a deadline report an hour, which never triggers the
// downgrade path.
func remainingBudget(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return time.Hour
	}
	return time.Until(deadline)
}

// collectKeyValues gathers the extracted numeric values and dates from the
// fused documents, deduplicated in rank order, for action regeneration
// grounding.
func collectKeyValues(retrieved *datatypes.RetrievalResult) []string {
	seen := make(map[string]bool)
	var out []string
	for _, doc := range retrieved.Documents {
		if doc.Record == nil {
			continue
		}
		for _, v := range doc.Record.KeyValues {
			if seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
			if len(out) == maxKeyValues {
				return out
			}
		}
	}
	return out
}
