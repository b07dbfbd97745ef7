// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synthesis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

func TestParseResponseBareJSON(t *testing.T) {
	result := ParseResponse(`{"answer": "L'aliquota e il 22% [1].", "reasoning_summary": "regola generale", "sources_cited": [{"citation": "[1]", "relevance": 0.9}], "candidate_actions": [{"label": "Verifica le aliquote ridotte", "icon": "search", "prompt": "Quali aliquote IVA ridotte esistono?"}]}`)

	require.False(t, result.ParseDegraded)
	assert.Equal(t, "L'aliquota e il 22% [1].", result.AnswerText)
	require.Len(t, result.SourcesCited, 1)
	assert.Equal(t, "[1]", result.SourcesCited[0].Reference)
	require.Len(t, result.CandidateActions, 1)
}

func TestParseResponseFencedJSON(t *testing.T) {
	result := ParseResponse("```json\n{\"answer\": \"risposta\", \"sources_cited\": [], \"candidate_actions\": []}\n```")
	require.False(t, result.ParseDegraded)
	assert.Equal(t, "risposta", result.AnswerText)
}

func TestParseResponseDegradesToRawText(t *testing.T) {
	cases := []string{
		"L'aliquota ordinaria e il 22 per cento, senza alcun JSON.",
		`{"answer": "`,
		`{"answer": "   "}`,
	}
	for _, raw := range cases {
		result := ParseResponse(raw)
		assert.True(t, result.ParseDegraded, raw)
		assert.NotEmpty(t, result.AnswerText)
	}
}

func TestParseResponseClampsRelevance(t *testing.T) {
	result := ParseResponse(`{"answer": "a", "sources_cited": [{"citation": "[1]", "relevance": 3.5}]}`)
	require.Len(t, result.SourcesCited, 1)
	assert.Equal(t, 0.5, result.SourcesCited[0].Relevance)
}

func TestOrderSources(t *testing.T) {
	sources := []datatypes.CitedSource{
		{Reference: "FAQ 12", SourceType: datatypes.SourceFAQ, HierarchyRank: 6, PublishedDate: "2025-01-01"},
		{Reference: "Circolare 24/E/2023", SourceType: datatypes.SourceCircular, HierarchyRank: 2, PublishedDate: "2023-07-01"},
		{Reference: "Circolare 9/E/2019", SourceType: datatypes.SourceCircular, HierarchyRank: 2, PublishedDate: "2019-04-10"},
		{Reference: "L. 190/2014", SourceType: datatypes.SourceLaw, HierarchyRank: 0, PublishedDate: "2014-12-23"},
		{Reference: "Circolare senza data", SourceType: datatypes.SourceCircular, HierarchyRank: 2},
	}

	OrderSources(sources)

	got := make([]string, len(sources))
	for i, s := range sources {
		got[i] = s.Reference
	}
	assert.Equal(t, []string{
		"L. 190/2014",          // law first
		"Circolare 24/E/2023",  // same rank: newer first
		"Circolare 9/E/2019",
		"Circolare senza data", // unknown date last within rank
		"FAQ 12",
	}, got)
}

func TestDetectConflictsCircularVsNewerLaw(t *testing.T) {
	sources := []datatypes.CitedSource{
		{
			Reference: "L. 197/2022", SourceType: datatypes.SourceLaw,
			HierarchyRank: 0, PublishedDate: "2022-12-29",
			Excerpt: "L'imposta sostitutiva per il regime forfettario si applica con aliquota del 5% per le nuove attivita.",
		},
		{
			Reference: "Circolare 10/E/2016", SourceType: datatypes.SourceCircular,
			HierarchyRank: 2, PublishedDate: "2016-04-01",
			Excerpt: "L'imposta sostitutiva per il regime forfettario si applica con aliquota del 15% in ogni caso.",
		},
	}

	conflicts := DetectConflicts(sources)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "L. 197/2022", conflicts[0].PreferredRef,
		"a newer law must be preferred over older practice")
	assert.NotContains(t, conflicts[0].Topic, "L. 197/2022",
		"topic must describe the shared subject, not the references")
}

func TestDetectConflictsNaturalOrderingIgnored(t *testing.T) {
	// A circular published after the law it explains is the normal
	// relationship, not a conflict, even when the stated values differ.
	sources := []datatypes.CitedSource{
		{
			Reference: "DPR 633/1972", SourceType: datatypes.SourceLaw,
			HierarchyRank: 0, PublishedDate: "1972-10-26",
			Excerpt: "L'aliquota ordinaria dell'imposta sul valore aggiunto era fissata al 12%.",
		},
		{
			Reference: "Circolare 24/E/2023", SourceType: datatypes.SourceCircular,
			HierarchyRank: 2, PublishedDate: "2023-07-01",
			Excerpt: "L'aliquota ordinaria dell'imposta sul valore aggiunto e oggi il 22%.",
		},
	}
	assert.Empty(t, DetectConflicts(sources))
}

func TestDetectConflictsEqualRankNewerWins(t *testing.T) {
	sources := []datatypes.CitedSource{
		{
			Reference: "Risoluzione 5/E/2018", SourceType: datatypes.SourceResolution,
			HierarchyRank: 3, PublishedDate: "2018-01-15",
			Excerpt: "La soglia di ricavi per il regime forfettario e fissata a 65.000 euro.",
		},
		{
			Reference: "Risoluzione 30/E/2024", SourceType: datatypes.SourceResolution,
			HierarchyRank: 3, PublishedDate: "2024-05-02",
			Excerpt: "La soglia di ricavi per il regime forfettario e fissata a 85.000 euro.",
		},
	}
	conflicts := DetectConflicts(sources)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "Risoluzione 30/E/2024", conflicts[0].PreferredRef)
}

func TestDetectConflictsAgreeingValuesIgnored(t *testing.T) {
	// Same topic, same stated rate: restating a rule is not a conflict.
	sources := []datatypes.CitedSource{
		{
			Reference: "L. 190/2014", SourceType: datatypes.SourceLaw,
			HierarchyRank: 0, PublishedDate: "2014-12-23",
			Excerpt: "L'imposta sostitutiva per il regime forfettario e pari al 15% del reddito imponibile.",
		},
		{
			Reference: "Circolare 10/E/2016", SourceType: datatypes.SourceCircular,
			HierarchyRank: 2, PublishedDate: "2016-04-01",
			Excerpt: "Si conferma che l'imposta sostitutiva del regime forfettario resta al 15%.",
		},
	}
	assert.Empty(t, DetectConflicts(sources))
}

func TestDetectConflictsDisjointTopicsIgnored(t *testing.T) {
	// Different subjects with different numbers are not in tension.
	sources := []datatypes.CitedSource{
		{
			Reference: "L. 197/2022", SourceType: datatypes.SourceLaw,
			HierarchyRank: 0, PublishedDate: "2022-12-29",
			Excerpt: "La soglia di ricavi del regime forfettario sale a 85.000 euro.",
		},
		{
			Reference: "Circolare 10/E/2016", SourceType: datatypes.SourceCircular,
			HierarchyRank: 2, PublishedDate: "2016-04-01",
			Excerpt: "Le detrazioni per spese mediche spettano oltre la franchigia di 129,11 euro.",
		},
	}
	assert.Empty(t, DetectConflicts(sources))
}

func TestDetectConflictsMissingDatesIgnored(t *testing.T) {
	excerpt := "L'imposta sostitutiva per il regime forfettario si applica con aliquota del 15%."
	other := "L'imposta sostitutiva per il regime forfettario si applica con aliquota del 5%."
	sources := []datatypes.CitedSource{
		{Reference: "L. 197/2022", HierarchyRank: 0, PublishedDate: "2022-12-29", Excerpt: excerpt},
		{Reference: "Circolare ignota", HierarchyRank: 2, Excerpt: other},
	}
	assert.Empty(t, DetectConflicts(sources))
}

func TestDetectConflictsMissingExcerptsIgnored(t *testing.T) {
	// Metadata alone cannot establish a contradiction.
	sources := []datatypes.CitedSource{
		{Reference: "L. 197/2022", SourceType: datatypes.SourceLaw, HierarchyRank: 0, PublishedDate: "2022-12-29"},
		{Reference: "Circolare 10/E/2016", SourceType: datatypes.SourceCircular, HierarchyRank: 2, PublishedDate: "2016-04-01"},
	}
	assert.Empty(t, DetectConflicts(sources))
}

func TestSynthesizeResolvesCitationsAndOrders(t *testing.T) {
	published := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	retrieval := &datatypes.RetrievalResult{
		Documents: []datatypes.RankedDocument{
			{
				Id: "doc-circ", SourceType: datatypes.SourceCircular,
				SourceName: "Circolare 24/E/2023", PublishedDate: published,
				Content: "La circolare chiarisce l'ambito applicativo del regime.",
				Record:  &datatypes.DocumentMetadataRecord{ReferenceCode: "Circolare 24/E/2023"},
			},
			{
				Id: "doc-law", SourceType: datatypes.SourceLaw,
				SourceName: "L. 190/2014",
				Record:     &datatypes.DocumentMetadataRecord{ReferenceCode: "Art. 1, c. 54, L. 190/2014"},
			},
		},
	}

	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return `{"answer": "Risposta [1][2].", "reasoning_summary": "sintesi", "sources_cited": [{"citation": "[1]", "relevance": 0.8}, {"citation": "[2]", "relevance": 0.9}], "candidate_actions": [{"label": "Approfondisci i requisiti", "icon": "book", "prompt": "Quali sono i requisiti di accesso?"}]}`, nil
	}

	chain := datatypes.NewChainTrace(datatypes.ChainOfThought{Conclusion: "c"})
	result := NewSynthesizer().Synthesize(context.Background(), generate, "domanda", chain, retrieval)

	require.False(t, result.ParseDegraded)
	require.Len(t, result.SourcesCited, 2)
	// Law resolved from [2] must be ordered before the circular from [1].
	assert.Equal(t, "Art. 1, c. 54, L. 190/2014", result.SourcesCited[0].Reference)
	assert.Equal(t, datatypes.SourceLaw, result.SourcesCited[0].SourceType)
	assert.Equal(t, "doc-law", result.SourcesCited[0].DocumentId)
	assert.Equal(t, "Circolare 24/E/2023", result.SourcesCited[1].Reference)
	assert.Equal(t, "2023-07-01", result.SourcesCited[1].PublishedDate)
	assert.Equal(t, "La circolare chiarisce l'ambito applicativo del regime.",
		result.SourcesCited[1].Excerpt, "resolved citation must carry the document excerpt")

	// Actions get ids assigned.
	require.Len(t, result.CandidateActions, 1)
	assert.NotEmpty(t, result.CandidateActions[0].Id)
	assert.Same(t, chain, result.Trace)
}

func TestSynthesizeGenerationFailure(t *testing.T) {
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return "", context.DeadlineExceeded
	}
	chain := datatypes.NewChainTrace(datatypes.ChainOfThought{Conclusion: "c"})
	result := NewSynthesizer().Synthesize(context.Background(), generate, "domanda", chain, &datatypes.RetrievalResult{})

	assert.True(t, result.ParseDegraded)
	assert.NotEmpty(t, result.AnswerText)
}
