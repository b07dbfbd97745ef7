// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expansion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

func routedAs(category datatypes.QueryCategory) datatypes.RoutingDecision {
	return datatypes.RoutingDecision{Category: category, Confidence: 0.9}
}

func TestIsAmbiguous(t *testing.T) {
	e := New(nil, DefaultConfig())

	cases := []struct {
		query string
		want  bool
	}{
		{"E per le partite IVA forfettarie con dipendenti?", true}, // follow-up opener
		{"e questo?", true},
		{"IVA?", true}, // too short
		{"Come si calcola la detrazione per le spese mediche nel 2025?", false},
		{"Quali sono le aliquote IRPEF vigenti per i redditi da lavoro dipendente?", false},
		{"Quella scadenza vale anche per i professionisti iscritti alla gestione separata?", true}, // pronoun
	}
	for _, tc := range cases {
		if got := e.IsAmbiguous(tc.query); got != tc.want {
			t.Errorf("IsAmbiguous(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestExpandSingleInterpretation(t *testing.T) {
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		if strings.Contains(prompt, "Respond ONLY with JSON") && strings.Contains(prompt, "keyword") {
			return `{"keyword": "aliquote IRPEF 2025", "semantic": "scaglioni imposta reddito persone fisiche", "entity": "IRPEF TUIR art. 11"}`, nil
		}
		// HyDE prompt
		return "L'imposta sul reddito delle persone fisiche si applica per scaglioni.", nil
	}

	e := New(generate, DefaultConfig())
	exp := e.Expand(context.Background(),
		"Quali sono le aliquote IRPEF vigenti per i redditi da lavoro dipendente?", nil,
		routedAs(datatypes.CategoryTechnicalResearch))

	if exp.Ambiguous {
		t.Error("unambiguous query marked ambiguous")
	}
	if len(exp.Interpretations) != 1 {
		t.Fatalf("expected 1 interpretation, got %d", len(exp.Interpretations))
	}
	primary := exp.Primary()
	if primary.Variants.KeywordVariant != "aliquote IRPEF 2025" {
		t.Errorf("keyword variant wrong: %q", primary.Variants.KeywordVariant)
	}
	if primary.Hypothetical.Skipped {
		t.Errorf("hypothetical should not be skipped for technical_research: %s", primary.Hypothetical.SkipReason)
	}
	if exp.Degraded {
		t.Error("successful expansion marked degraded")
	}
}

func TestExpandSkipsHydeForGatedCategories(t *testing.T) {
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		if strings.Contains(prompt, "circolare") {
			t.Error("HyDE prompt issued for a gated category")
		}
		return `{"keyword": "k", "semantic": "s", "entity": "e"}`, nil
	}

	for _, category := range []datatypes.QueryCategory{datatypes.CategoryCasualChat, datatypes.CategoryCalculation} {
		exp := New(generate, DefaultConfig()).Expand(context.Background(),
			"Quanto pago di imposta sostitutiva su un reddito forfettario di 40000 euro?", nil,
			routedAs(category))
		if !exp.Primary().Hypothetical.Skipped {
			t.Errorf("category %s: hypothetical not skipped", category)
		}
	}
}

func TestExpandDegradesOnLLMFailure(t *testing.T) {
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return "", errors.New("provider down")
	}

	query := "Come funziona il credito d'imposta per ricerca e sviluppo nelle PMI?"
	exp := New(generate, DefaultConfig()).Expand(context.Background(), query, nil,
		routedAs(datatypes.CategoryTechnicalResearch))

	if !exp.Degraded {
		t.Fatal("expected degraded expansion")
	}
	primary := exp.Primary()
	if primary.Variants.KeywordVariant != query || primary.Variants.SemanticVariant != query {
		t.Errorf("degraded variants must echo the original query: %+v", primary.Variants)
	}
	if !primary.Hypothetical.Skipped {
		t.Error("hypothetical must be skipped when generation fails")
	}
}

func TestExpandAmbiguousSplitsInterpretations(t *testing.T) {
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		switch {
		case strings.Contains(prompt, "distinct readings"):
			return `{"interpretations": ["Quali regimi IVA si applicano ai forfettari?", "Quali adempimenti IVA hanno i forfettari?"]}`, nil
		case strings.Contains(prompt, "keyword"):
			return `{"keyword": "k", "semantic": "s", "entity": "e"}`, nil
		default:
			return "Passaggio ipotetico.", nil
		}
	}

	exp := New(generate, DefaultConfig()).Expand(context.Background(), "E per l'IVA?", nil,
		routedAs(datatypes.CategoryTechnicalResearch))

	if !exp.Ambiguous {
		t.Fatal("follow-up query not marked ambiguous")
	}
	if len(exp.Interpretations) != 2 {
		t.Fatalf("expected 2 interpretations, got %d", len(exp.Interpretations))
	}
	if exp.Interpretations[0].Label == exp.Interpretations[1].Label {
		t.Error("interpretation labels must be distinct")
	}
}

func TestExpandAmbiguousInterpretationFailureFallsBack(t *testing.T) {
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		if strings.Contains(prompt, "distinct readings") {
			return "", errors.New("timeout")
		}
		if strings.Contains(prompt, "keyword") {
			return `{"keyword": "k", "semantic": "s", "entity": "e"}`, nil
		}
		return "Passaggio.", nil
	}

	exp := New(generate, DefaultConfig()).Expand(context.Background(), "E per l'IVA?", nil,
		routedAs(datatypes.CategoryTechnicalResearch))

	// Interpretation splitting failed, so we proceed with the original
	// query as the only interpretation.
	if len(exp.Interpretations) != 1 {
		t.Fatalf("expected single fallback interpretation, got %d", len(exp.Interpretations))
	}
	if exp.Ambiguous {
		t.Error("failed split must not report multiple interpretations")
	}
}

func TestHydeTruncation(t *testing.T) {
	long := strings.Repeat("parola ", 400)
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		if strings.Contains(prompt, "keyword") {
			return `{"keyword": "k", "semantic": "s", "entity": "e"}`, nil
		}
		return long, nil
	}

	cfg := DefaultConfig()
	cfg.HydeMaxWords = 50
	exp := New(generate, cfg).Expand(context.Background(),
		"Qual e il trattamento fiscale dei fringe benefit auto aziendali concessi ai dipendenti?", nil,
		routedAs(datatypes.CategoryTechnicalResearch))

	hyde := exp.Primary().Hypothetical
	if hyde.Skipped {
		t.Fatalf("unexpected skip: %s", hyde.SkipReason)
	}
	if hyde.WordCount > 50 {
		t.Errorf("hypothetical not truncated: %d words", hyde.WordCount)
	}
}

func TestExpandAmbiguousEmbedsHistoryInInterpretationPrompt(t *testing.T) {
	var interpretationPrompt string
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		switch {
		case strings.Contains(prompt, "distinct readings"):
			interpretationPrompt = prompt
			return `{"interpretations": ["Si applica l'IVA nel regime forfettario?", "Quali adempimenti IVA hanno i forfettari?"]}`, nil
		case strings.Contains(prompt, "keyword"):
			return `{"keyword": "k", "semantic": "s", "entity": "e"}`, nil
		default:
			return "Passaggio ipotetico.", nil
		}
	}

	history := []datatypes.HistoryTurn{
		{Role: "user", Content: "Come funziona il regime forfettario?"},
		{Role: "assistant", Content: "Il regime forfettario applica un'imposta sostitutiva."},
	}
	exp := New(generate, DefaultConfig()).Expand(context.Background(), "E per l'IVA?",
		history, routedAs(datatypes.CategoryTechnicalResearch))

	if !exp.Ambiguous {
		t.Fatal("follow-up query not marked ambiguous")
	}
	if !strings.Contains(interpretationPrompt, "regime forfettario") {
		t.Errorf("prior turns missing from interpretation prompt: %q", interpretationPrompt)
	}
	if !strings.Contains(interpretationPrompt, "Query: E per l'IVA?") {
		t.Errorf("query missing from interpretation prompt: %q", interpretationPrompt)
	}
}
