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
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// maxHypotheses caps the tree fan-out.
const maxHypotheses = 4

// hypothesisMaxTokens bounds each hypothesis generation.
const hypothesisMaxTokens = 1200

// interpretiveAngles are the reasoning perspectives explored for complex
// single-domain queries: literal reading, systematic reading, prudential
// worst-case reading.
var interpretiveAngles = []string{
	"interpretazione letterale della norma",
	"interpretazione sistematica alla luce della prassi",
	"lettura prudenziale orientata al minor rischio sanzionatorio",
}

// runTree explores multiple hypotheses in parallel and selects a primary.
//
// # Description
//
// For multi-domain queries one hypothesis per domain is generated (capped
// at maxHypotheses) and cross-domain conflicts are detected before
// selection. Otherwise one hypothesis per interpretive angle. Each
// hypothesis then receives a risk grade by sanction severity. The primary
// is the hypothesis with the highest confidence x source-weight score;
// risk never changes the selection, it only flags alternatives.
//
// At least one hypothesis must survive generation or an error returns so
// the engine can fall back to a chain.
func runTree(ctx context.Context, generate GenerateFunc, query string, retrieval *datatypes.RetrievalResult, domains []string) (datatypes.TreeOfThoughts, error) {
	angles := buildAngles(domains)

	hypotheses := make([]*datatypes.Hypothesis, len(angles))
	g, gctx := errgroup.WithContext(ctx)
	for i, angle := range angles {
		g.Go(func() error {
			h, err := generateHypothesis(gctx, generate, query, retrieval, angle, i+1)
			if err != nil {
				slog.Warn("Hypothesis generation failed",
					"angle", angle.label, "error", err)
				return nil
			}
			hypotheses[i] = h
			return nil
		})
	}
	_ = g.Wait()

	tree := datatypes.TreeOfThoughts{}
	for _, h := range hypotheses {
		if h != nil {
			tree.Hypotheses = append(tree.Hypotheses, *h)
		}
	}
	if len(tree.Hypotheses) == 0 {
		return tree, fmt.Errorf("all %d hypothesis generations failed", len(angles))
	}

	assignRisk(ctx, generate, query, tree.Hypotheses)

	if len(domains) >= 2 {
		tree.DomainConflicts = detectDomainConflicts(ctx, generate, tree.Hypotheses)
	}

	selectPrimary(&tree)
	return tree, nil
}

// angle describes one hypothesis generation perspective.
type angle struct {
	label  string
	domain string
}

func buildAngles(domains []string) []angle {
	if len(domains) >= 2 {
		angles := make([]angle, 0, maxHypotheses)
		for _, d := range domains {
			if len(angles) == maxHypotheses {
				break
			}
			angles = append(angles, angle{
				label:  fmt.Sprintf("analisi dal punto di vista del dominio %q", d),
				domain: d,
			})
		}
		return angles
	}

	angles := make([]angle, 0, len(interpretiveAngles))
	for _, label := range interpretiveAngles {
		angles = append(angles, angle{label: label})
	}
	return angles
}

func generateHypothesis(ctx context.Context, generate GenerateFunc, query string, retrieval *datatypes.RetrievalResult, a angle, n int) (*datatypes.Hypothesis, error) {
	contextBlock := "Nessun documento recuperato."
	if retrieval.HasContext() {
		contextBlock = formatContext(retrieval.Documents)
	}

	prompt := fmt.Sprintf(`Sei un assistente per professionisti fiscali. Sviluppa UNA ipotesi di
risposta alla domanda seguendo questa prospettiva: %s.
Usa SOLO le fonti numerate e cita con [n].

FONTI:
%s
DOMANDA: %s

Rispondi SOLO con JSON:
{
  "path": ["primo passaggio", "secondo passaggio"],
  "conclusion": "conclusione di questa ipotesi con citazioni [n]",
  "confidence": 0.8,
  "sources_used": ["[1]"]
}`, a.label, contextBlock, query)

	response, err := generate(ctx, prompt, hypothesisMaxTokens)
	if err != nil {
		return nil, err
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in hypothesis response")
	}

	var parsed struct {
		Path        []string `json:"path"`
		Conclusion  string   `json:"conclusion"`
		Confidence  float64  `json:"confidence"`
		SourcesUsed []string `json:"sources_used"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hypothesis: %w", err)
	}
	if strings.TrimSpace(parsed.Conclusion) == "" {
		return nil, fmt.Errorf("hypothesis has empty conclusion")
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		parsed.Confidence = 0.5
	}

	return &datatypes.Hypothesis{
		Id:                fmt.Sprintf("h%d", n),
		Path:              parsed.Path,
		Conclusion:        parsed.Conclusion,
		Confidence:        parsed.Confidence,
		SourceWeightScore: sourceWeightScore(parsed.SourcesUsed, retrieval.Documents),
		Domain:            a.domain,
		RiskLevel:         datatypes.RiskLow,
	}, nil
}

// sanctionKeywords heuristically grade risk when the LLM risk pass fails.
// Keyed by severity, checked from most severe down.
var sanctionKeywords = []struct {
	level datatypes.RiskLevel
	terms []string
}{
	{datatypes.RiskCritical, []string{"penale", "reato", "frode", "dichiarazione fraudolenta", "omesso versamento"}},
	{datatypes.RiskHigh, []string{"sanzione", "sanzioni", "accertamento", "contestazione", "interessi di mora"}},
	{datatypes.RiskMedium, []string{"ravvedimento", "tardiv", "irregolarit"}},
}

// assignRisk grades every hypothesis by potential-sanction severity.
//
// One LLM pass grades all hypotheses; on failure a keyword heuristic over
// each conclusion applies. Risk is orthogonal to selection.
func assignRisk(ctx context.Context, generate GenerateFunc, query string, hypotheses []datatypes.Hypothesis) {
	var b strings.Builder
	for i := range hypotheses {
		fmt.Fprintf(&b, "%s: %s\n", hypotheses[i].Id, hypotheses[i].Conclusion)
	}

	prompt := fmt.Sprintf(`Per ogni ipotesi di risposta, valuta la gravita delle POSSIBILI sanzioni
se l'ipotesi fosse sbagliata o se il professionista la seguisse ed emergesse
una violazione. La gravita e indipendente dalla probabilita.

Livelli: "critical" (esposizione penale), "high" (sanzioni amministrative
pesanti), "medium", "low".

DOMANDA: %s
IPOTESI:
%s
Rispondi SOLO con JSON:
{"risks": [{"id": "h1", "risk_level": "high", "risk_factors": ["fattore"]}]}`, query, b.String())

	response, err := generate(ctx, prompt, 600)
	if err == nil {
		if applyRiskResponse(response, hypotheses) {
			return
		}
		slog.Warn("Risk pass response unparsable, using keyword heuristic")
	} else {
		slog.Warn("Risk pass LLM call failed, using keyword heuristic", "error", err)
	}

	for i := range hypotheses {
		hypotheses[i].RiskLevel = heuristicRisk(hypotheses[i])
	}
}

func applyRiskResponse(response string, hypotheses []datatypes.Hypothesis) bool {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return false
	}

	var parsed struct {
		Risks []struct {
			Id          string   `json:"id"`
			RiskLevel   string   `json:"risk_level"`
			RiskFactors []string `json:"risk_factors"`
		} `json:"risks"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil || len(parsed.Risks) == 0 {
		return false
	}

	byId := map[string]int{}
	for i := range hypotheses {
		byId[hypotheses[i].Id] = i
	}
	applied := false
	for _, r := range parsed.Risks {
		i, ok := byId[r.Id]
		if !ok {
			continue
		}
		switch datatypes.RiskLevel(r.RiskLevel) {
		case datatypes.RiskCritical, datatypes.RiskHigh, datatypes.RiskMedium, datatypes.RiskLow:
			hypotheses[i].RiskLevel = datatypes.RiskLevel(r.RiskLevel)
			hypotheses[i].RiskFactors = r.RiskFactors
			applied = true
		}
	}
	return applied
}

func heuristicRisk(h datatypes.Hypothesis) datatypes.RiskLevel {
	text := strings.ToLower(h.Conclusion + " " + strings.Join(h.Path, " "))
	for _, grade := range sanctionKeywords {
		for _, term := range grade.terms {
			if strings.Contains(text, term) {
				return grade.level
			}
		}
	}
	return datatypes.RiskLow
}

// detectDomainConflicts asks the model whether per-domain conclusions
// contradict each other. Failure yields no conflicts rather than an error.
func detectDomainConflicts(ctx context.Context, generate GenerateFunc, hypotheses []datatypes.Hypothesis) []string {
	var b strings.Builder
	for _, h := range hypotheses {
		if h.Domain == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", h.Domain, h.Conclusion)
	}
	if b.Len() == 0 {
		return nil
	}

	prompt := fmt.Sprintf(`Le seguenti conclusioni provengono da domini professionali diversi sulla
stessa domanda. Elenca le contraddizioni operative tra domini, se esistono.

CONCLUSIONI:
%s
Rispondi SOLO con JSON:
{"conflicts": ["descrizione del conflitto"]}`, b.String())

	response, err := generate(ctx, prompt, 400)
	if err != nil {
		slog.Warn("Domain conflict detection failed", "error", err)
		return nil
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return nil
	}
	var parsed struct {
		Conflicts []string `json:"conflicts"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil {
		return nil
	}

	out := parsed.Conflicts[:0]
	for _, c := range parsed.Conflicts {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

// selectPrimary picks the hypothesis with the highest selection score,
// ties broken by id for determinism.
func selectPrimary(tree *datatypes.TreeOfThoughts) {
	ranked := make([]datatypes.Hypothesis, len(tree.Hypotheses))
	copy(ranked, tree.Hypotheses)
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := ranked[i].SelectionScore(), ranked[j].SelectionScore()
		if si != sj {
			return si > sj
		}
		return ranked[i].Id < ranked[j].Id
	})

	best := ranked[0]
	tree.SelectedHypothesisId = best.Id
	tree.SelectionReasoning = fmt.Sprintf(
		"selezionata per il punteggio piu alto (confidenza %.2f x peso fonti %.2f = %.3f)",
		best.Confidence, best.SourceWeightScore, best.SelectionScore())
}
