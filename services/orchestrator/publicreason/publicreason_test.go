// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publicreason

import (
	"testing"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

func TestTransformChain(t *testing.T) {
	trace := datatypes.NewChainTrace(datatypes.ChainOfThought{
		Theme:      "aliquota IVA ordinaria",
		Conclusion: "si applica il 22%",
	})
	sources := []datatypes.CitedSource{
		{Reference: "DPR 633/1972"},
		{Reference: "Circolare 24/E/2023"},
	}

	pub := Transform(trace, sources)
	if pub.MainTheme != "aliquota IVA ordinaria" {
		t.Errorf("theme not carried over: %q", pub.MainTheme)
	}
	if pub.SelectedScenario != "" {
		t.Error("chain trace must not produce a selected scenario")
	}
	if pub.ConfidenceLabel != "alta" {
		t.Errorf("non-degraded chain should be alta, got %q", pub.ConfidenceLabel)
	}
	if len(pub.PrimarySources) != 2 {
		t.Errorf("primary sources wrong: %v", pub.PrimarySources)
	}
}

func TestTransformChainDegraded(t *testing.T) {
	trace := datatypes.NewChainTrace(datatypes.ChainOfThought{Theme: "t", Conclusion: "c"})
	trace.Degraded = true

	pub := Transform(trace, nil)
	if pub.ConfidenceLabel != "bassa" {
		t.Errorf("degraded trace must be bassa, got %q", pub.ConfidenceLabel)
	}
}

func TestTransformTree(t *testing.T) {
	trace := datatypes.NewTreeTrace(datatypes.TreeOfThoughts{
		Hypotheses: []datatypes.Hypothesis{
			{Id: "h1", Conclusion: "ipotesi vincente", Confidence: 0.8, SourceWeightScore: 1.2, RiskLevel: datatypes.RiskLow},
			{Id: "h2", Conclusion: "ipotesi rischiosa", Confidence: 0.3, SourceWeightScore: 1.0, RiskLevel: datatypes.RiskCritical, RiskFactors: []string{"esposizione penale"}},
		},
		SelectedHypothesisId: "h1",
		SelectionReasoning:   "punteggio piu alto",
		DomainConflicts:      []string{"iva vs lavoro"},
	})

	pub := Transform(trace, nil)
	if pub.SelectedScenario != "ipotesi vincente" {
		t.Errorf("selected scenario wrong: %q", pub.SelectedScenario)
	}
	if pub.WhySelected != "punteggio piu alto" {
		t.Errorf("why selected wrong: %q", pub.WhySelected)
	}
	if pub.ConfidenceLabel != "alta" {
		t.Errorf("confidence 0.8 should be alta, got %q", pub.ConfidenceLabel)
	}
	// One note for the critical alternative, one for the domain conflict.
	if len(pub.RiskNotes) != 2 {
		t.Fatalf("expected 2 risk notes, got %v", pub.RiskNotes)
	}
}

func TestTransformTreeDanglingSelection(t *testing.T) {
	trace := datatypes.NewTreeTrace(datatypes.TreeOfThoughts{
		Hypotheses:           []datatypes.Hypothesis{{Id: "h1", Conclusion: "c"}},
		SelectedHypothesisId: "missing",
	})
	pub := Transform(trace, nil)
	if pub.ConfidenceLabel != "bassa" {
		t.Errorf("dangling selection must be bassa, got %q", pub.ConfidenceLabel)
	}
}

func TestTransformUnknownKind(t *testing.T) {
	trace := &datatypes.ReasoningTrace{Kind: "something_new"}
	pub := Transform(trace, nil)
	if pub == nil || pub.ConfidenceLabel != "bassa" {
		t.Errorf("unknown kind must degrade, got %+v", pub)
	}
}

func TestTransformNilTrace(t *testing.T) {
	if Transform(nil, nil) != nil {
		t.Error("nil trace must yield nil")
	}
}

func TestPrimarySourcesCapped(t *testing.T) {
	sources := []datatypes.CitedSource{
		{Reference: "a"}, {Reference: "b"}, {Reference: "c"}, {Reference: "d"},
	}
	trace := datatypes.NewChainTrace(datatypes.ChainOfThought{Theme: "t", Conclusion: "c"})
	pub := Transform(trace, sources)
	if len(pub.PrimarySources) != maxPrimarySources {
		t.Errorf("expected %d sources, got %v", maxPrimarySources, pub.PrimarySources)
	}
}
