// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NormaAI/NormaCore/services/llm"
	"github.com/NormaAI/NormaCore/services/orchestrator/complexity"
	"github.com/NormaAI/NormaCore/services/orchestrator/config"
	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
	"github.com/NormaAI/NormaCore/services/orchestrator/expansion"
	"github.com/NormaAI/NormaCore/services/orchestrator/goldenloop"
	"github.com/NormaAI/NormaCore/services/orchestrator/reasoning"
	"github.com/NormaAI/NormaCore/services/orchestrator/retrieval"
	"github.com/NormaAI/NormaCore/services/orchestrator/router"
	"github.com/NormaAI/NormaCore/services/orchestrator/synthesis"
)

// scriptedHealth routes reasoning and synthesis calls by prompt content.
type scriptedHealth struct {
	synthesisErr  bool
	synthesisJunk bool
	calls         atomic.Int64
}

func (h *scriptedHealth) Available(name string) bool { return true }

func (h *scriptedHealth) Generate(ctx context.Context, name, prompt string, params llm.GenerationParams) (string, error) {
	h.calls.Add(1)
	switch {
	case strings.Contains(prompt, "candidate_actions"):
		if h.synthesisErr {
			return "", errors.New("provider overloaded")
		}
		if h.synthesisJunk {
			return "risposta libera senza struttura", nil
		}
		return `{
			"answer": "Nel regime forfettario l'IVA non si applica in via ordinaria; l'aliquota ordinaria resta il 22% [1].",
			"reasoning_summary": "Il regime forfettario esclude l'addebito IVA.",
			"sources_cited": [{"citation": "[1]", "relevance": 0.9}],
			"candidate_actions": [
				{"label": "Calcola l'imposta sostitutiva", "icon": "calculator", "prompt": "Calcola l'imposta sostitutiva per un forfettario con ricavi di 60.000 euro"},
				{"label": "Verifica i requisiti di accesso", "icon": "checklist", "prompt": "Verifica i requisiti di accesso al regime forfettario per il 2025"}
			]
		}`, nil
	case strings.Contains(prompt, `"theme"`):
		return `{
			"theme": "IVA nel regime forfettario",
			"sources_used": ["[1]"],
			"key_points": ["Il regime forfettario non addebita IVA [1]"],
			"conclusion": "Le operazioni del forfettario sono fuori campo IVA [1]"
		}`, nil
	case strings.Contains(prompt, "SCARTATE"):
		return `{"actions": [
			{"label": "Approfondisci il regime forfettario", "icon": "book", "prompt": "Approfondisci i requisiti del regime forfettario previsti dalla L. 190/2014", "source_basis": "L. 190/2014"},
			{"label": "Controlla le soglie di ricavi", "icon": "calculator", "prompt": "Controlla le soglie di ricavi previste per il regime forfettario nel 2025", "source_basis": "85.000 euro"}
		]}`, nil
	default:
		return "Ciao! Come posso aiutarti con la gestione dello studio?", nil
	}
}

// countingStrategy is a canned SearchStrategy that records invocations.
type countingStrategy struct {
	docs  []datatypes.RankedDocument
	calls atomic.Int64
}

func (s *countingStrategy) Name() string { return "lexical" }

func (s *countingStrategy) Search(ctx context.Context, interp datatypes.QueryInterpretation, limit int) ([]datatypes.RankedDocument, error) {
	s.calls.Add(1)
	return s.docs, nil
}

func routeGen(category string) router.GenerateFunc {
	return func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return `{"category": "` + category + `", "confidence": 0.9, "reasoning": "ok", "entities": [{"text": "L. 190/2014", "type": "law"}], "requires_freshness": false}`, nil
	}
}

func expandGen(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if strings.Contains(prompt, `"keyword"`) {
		return `{"keyword": "regime forfettario IVA aliquota", "semantic": "applicazione dell'imposta sul valore aggiunto nel regime forfettario", "entity": "L. 190/2014"}`, nil
	}
	return "La circolare dell'Agenzia delle Entrate chiarisce che il regime forfettario non addebita l'IVA in fattura.", nil
}

func classifyGen(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return `{"complexity": "simple", "domains": ["iva"], "confidence": 0.9, "reasoning": "ok"}`, nil
}

func testDoc() datatypes.RankedDocument {
	return datatypes.RankedDocument{
		Id:            "doc-1",
		Content:       "Ai sensi dell'art. 1, c. 54, L. 190/2014 il regime forfettario si applica entro la soglia di 85.000 euro di ricavi; l'aliquota IVA ordinaria resta il 22%.",
		SourceType:    datatypes.SourceLaw,
		SourceName:    "L. 190/2014",
		PublishedDate: time.Now().AddDate(0, -2, 0),
	}
}

func newTestPipeline(health *scriptedHealth, strategy retrieval.SearchStrategy, category string) (*Pipeline, *complexity.CostTracker) {
	configs := config.NewStore(config.Default())
	costs := complexity.NewCostTracker()
	models := complexity.NewModelOrchestrator(health, configs, 0, costs)

	regenerate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return health.Generate(ctx, "openai/gpt-4o-mini", prompt, llm.GenerationParams{})
	}

	p := New(Deps{
		Router:      router.New(routeGen(category), router.DefaultConfig()),
		Expander:    expansion.New(expandGen, expansion.DefaultConfig()),
		Retrieval:   retrieval.NewService(configs, strategy),
		Classifier:  complexity.NewClassifier(classifyGen, 3000),
		Models:      models,
		Engine:      reasoning.NewEngine(),
		Synthesizer: synthesis.NewSynthesizer(),
		Loop:        goldenloop.NewController(goldenloop.NewValidator(), goldenloop.NewRegenerator(regenerate), configs),
		Configs:     configs,
		Costs:       costs,
	})
	return p, costs
}

func TestRunFullPipeline(t *testing.T) {
	health := &scriptedHealth{}
	strategy := &countingStrategy{docs: []datatypes.RankedDocument{testDoc()}}
	p, costs := newTestPipeline(health, strategy, "technical_research")

	resp, err := p.Run(context.Background(), &datatypes.ChatRequest{
		Query: "Qual e l'aliquota IVA applicabile nel regime forfettario nel 2025?",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if resp.RequestId == "" || resp.SessionId == "" {
		t.Error("ids not populated")
	}
	if !strings.Contains(resp.AnswerText, "22%") {
		t.Errorf("answer missing synthesized content: %q", resp.AnswerText)
	}
	if len(resp.SourcesCited) != 1 {
		t.Fatalf("expected 1 cited source, got %d", len(resp.SourcesCited))
	}
	if resp.SourcesCited[0].SourceType != datatypes.SourceLaw {
		t.Errorf("citation not resolved to the retrieved document: %+v", resp.SourcesCited[0])
	}
	if len(resp.SuggestedActions) != 2 {
		t.Fatalf("expected 2 suggested actions, got %d", len(resp.SuggestedActions))
	}
	for _, a := range resp.SuggestedActions {
		if a.Id == "" {
			t.Errorf("action %q missing id", a.Label)
		}
	}
	if resp.Degraded {
		t.Errorf("clean run must not be degraded (disclaimer %q)", resp.Disclaimer)
	}
	if resp.ReasoningTrace == nil || resp.ReasoningTrace.Kind != datatypes.TraceChainOfThought {
		t.Errorf("simple query should carry a chain trace, got %+v", resp.ReasoningTrace)
	}
	if resp.PublicReasoning == nil || resp.PublicReasoning.ConfidenceLabel != "alta" {
		t.Errorf("public reasoning wrong: %+v", resp.PublicReasoning)
	}
	if resp.CostEUR <= 0 {
		t.Error("model calls must accrue cost")
	}
	if got := costs.TotalEUR(); got != resp.CostEUR {
		t.Errorf("request cost %f not merged into process tracker (%f)", resp.CostEUR, got)
	}
	if strategy.calls.Load() == 0 {
		t.Error("retrieval strategy never queried")
	}
}

func TestRunCasualChatSkipsRetrieval(t *testing.T) {
	health := &scriptedHealth{}
	strategy := &countingStrategy{docs: []datatypes.RankedDocument{testDoc()}}
	p, _ := newTestPipeline(health, strategy, "casual_chat")

	resp, err := p.Run(context.Background(), &datatypes.ChatRequest{Query: "Ciao, come va?"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if strategy.calls.Load() != 0 {
		t.Error("casual chat must not hit retrieval")
	}
	if resp.AnswerText == "" {
		t.Error("casual chat must still answer")
	}
	if len(resp.SourcesCited) != 0 || len(resp.SuggestedActions) != 0 {
		t.Error("casual chat carries no sources or actions")
	}
	if resp.ReasoningTrace != nil {
		t.Error("casual chat produces no reasoning trace")
	}
	if resp.Degraded {
		t.Error("successful casual answer is not degraded")
	}
}

func TestRunSynthesisParseFailureTriggersRegeneration(t *testing.T) {
	health := &scriptedHealth{synthesisJunk: true}
	strategy := &countingStrategy{docs: []datatypes.RankedDocument{testDoc()}}
	p, _ := newTestPipeline(health, strategy, "technical_research")

	resp, err := p.Run(context.Background(), &datatypes.ChatRequest{
		Query: "Qual e l'aliquota IVA applicabile nel regime forfettario nel 2025?",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !resp.Degraded {
		t.Error("unstructured synthesis must mark the response degraded")
	}
	if resp.Disclaimer == "" {
		t.Error("degraded responses carry a disclaimer")
	}
	// The raw model text still reaches the user.
	if !strings.Contains(resp.AnswerText, "risposta libera") {
		t.Errorf("raw answer not preserved: %q", resp.AnswerText)
	}
	// Regeneration replaced the discarded candidates.
	if len(resp.SuggestedActions) == 0 {
		t.Error("regeneration must still produce actions")
	}
	for _, a := range resp.SuggestedActions {
		if a.Label == "" || a.Prompt == "" {
			t.Errorf("malformed regenerated action: %+v", a)
		}
	}
}

func TestRunInvalidRequest(t *testing.T) {
	health := &scriptedHealth{}
	p, _ := newTestPipeline(health, &countingStrategy{}, "technical_research")

	if _, err := p.Run(context.Background(), &datatypes.ChatRequest{Query: ""}); err == nil {
		t.Error("empty query must be rejected")
	}
}

func TestRunAttachedDocumentJoinsContext(t *testing.T) {
	health := &scriptedHealth{}
	strategy := &countingStrategy{docs: []datatypes.RankedDocument{testDoc()}}
	p, _ := newTestPipeline(health, strategy, "technical_research")

	resp, err := p.Run(context.Background(), &datatypes.ChatRequest{
		Query:            "Qual e l'aliquota IVA applicabile nel regime forfettario nel 2025?",
		AttachedDocument: "Contratto di fornitura con corrispettivo annuo di 50.000 euro oltre IVA.",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if resp.AnswerText == "" {
		t.Error("no answer produced")
	}
}

func TestRunLowBudgetDowngradesTreeToChain(t *testing.T) {
	health := &scriptedHealth{}
	strategy := &countingStrategy{docs: []datatypes.RankedDocument{testDoc()}}

	// A request deadline below the reasoning budget cannot afford the
	// tree fan-out; the pipeline must fall back to the chain pass.
	cfg := config.Default()
	cfg.Pipeline.RequestTimeoutMs = 2000
	configs := config.NewStore(cfg)
	costs := complexity.NewCostTracker()
	models := complexity.NewModelOrchestrator(health, configs, 0, costs)

	regenerate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return health.Generate(ctx, "openai/gpt-4o-mini", prompt, llm.GenerationParams{})
	}
	classify := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return `{"complexity": "complex", "domains": ["iva"], "confidence": 0.9, "reasoning": "ok"}`, nil
	}

	p := New(Deps{
		Router:      router.New(routeGen("technical_research"), router.DefaultConfig()),
		Expander:    expansion.New(expandGen, expansion.DefaultConfig()),
		Retrieval:   retrieval.NewService(configs, strategy),
		Classifier:  complexity.NewClassifier(classify, 3000),
		Models:      models,
		Engine:      reasoning.NewEngine(),
		Synthesizer: synthesis.NewSynthesizer(),
		Loop:        goldenloop.NewController(goldenloop.NewValidator(), goldenloop.NewRegenerator(regenerate), configs),
		Configs:     configs,
		Costs:       costs,
	})

	resp, err := p.Run(context.Background(), &datatypes.ChatRequest{
		Query: "Qual e l'aliquota IVA applicabile nel regime forfettario nel 2025?",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if resp.ReasoningTrace == nil || resp.ReasoningTrace.Kind != datatypes.TraceChainOfThought {
		t.Errorf("expected a chain trace under a low budget, got %+v", resp.ReasoningTrace)
	}
	if resp.Degraded {
		t.Errorf("downgraded reasoning is a planned path, not a degradation (disclaimer %q)", resp.Disclaimer)
	}
}
