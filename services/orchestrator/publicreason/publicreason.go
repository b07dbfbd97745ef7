// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package publicreason converts a technical reasoning trace into the
// short, display-ready explanation embedded in chat responses.
package publicreason

import (
	"fmt"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// maxPrimarySources caps the citations surfaced in the explanation.
const maxPrimarySources = 3

// Transform builds the public reasoning block.
//
// # Description
//
// The switch over the trace kind is exhaustive: a chain trace yields the
// theme and a confidence derived from degradation state; a tree trace
// additionally carries the selected scenario, why it won, and risk notes
// for flagged high-risk alternatives. An unknown kind (which would mean a
// bug upstream) degrades to a minimal honest block rather than panicking.
func Transform(trace *datatypes.ReasoningTrace, sources []datatypes.CitedSource) *datatypes.PublicReasoning {
	if trace == nil {
		return nil
	}

	pub := &datatypes.PublicReasoning{
		PrimarySources: primarySources(sources),
	}

	switch trace.Kind {
	case datatypes.TraceChainOfThought:
		chain := trace.Chain
		pub.MainTheme = chain.Theme
		pub.ConfidenceLabel = confidenceLabel(1.0, trace.Degraded)

	case datatypes.TraceTreeOfThoughts:
		tree := trace.Tree
		selected := tree.Selected()
		if selected != nil {
			pub.MainTheme = themeFromDomains(tree, selected)
			pub.SelectedScenario = selected.Conclusion
			pub.WhySelected = tree.SelectionReasoning
			pub.ConfidenceLabel = confidenceLabel(selected.Confidence, trace.Degraded)
		} else {
			pub.ConfidenceLabel = "bassa"
		}
		for _, alt := range tree.FlaggedAlternatives(datatypes.RiskHigh) {
			note := fmt.Sprintf("Scenario alternativo a rischio %s: %s", riskLabel(alt.RiskLevel), alt.Conclusion)
			pub.RiskNotes = append(pub.RiskNotes, note)
		}
		for _, conflict := range tree.DomainConflicts {
			pub.RiskNotes = append(pub.RiskNotes, "Conflitto tra domini: "+conflict)
		}

	default:
		pub.MainTheme = "analisi non disponibile"
		pub.ConfidenceLabel = "bassa"
	}

	return pub
}

func themeFromDomains(tree *datatypes.TreeOfThoughts, selected *datatypes.Hypothesis) string {
	if selected.Domain != "" {
		return "analisi multi-dominio, prevale il profilo " + selected.Domain
	}
	return "analisi comparata di piu ipotesi"
}

// confidenceLabel maps numeric confidence and degradation state to the
// qualitative label.
func confidenceLabel(confidence float64, degraded bool) string {
	if degraded {
		return "bassa"
	}
	switch {
	case confidence >= 0.75:
		return "alta"
	case confidence >= 0.45:
		return "media"
	default:
		return "bassa"
	}
}

func riskLabel(level datatypes.RiskLevel) string {
	switch level {
	case datatypes.RiskCritical:
		return "critico"
	case datatypes.RiskHigh:
		return "alto"
	case datatypes.RiskMedium:
		return "medio"
	default:
		return "basso"
	}
}

func primarySources(sources []datatypes.CitedSource) []string {
	out := make([]string, 0, maxPrimarySources)
	for _, s := range sources {
		if s.Reference == "" {
			continue
		}
		out = append(out, s.Reference)
		if len(out) == maxPrimarySources {
			break
		}
	}
	return out
}
