// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NormaAI/NormaCore/services/orchestrator/config"
	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// fakeStrategy is a canned SearchStrategy for fan-out tests.
type fakeStrategy struct {
	name string
	docs []datatypes.RankedDocument
	err  error
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Search(ctx context.Context, interp datatypes.QueryInterpretation, limit int) ([]datatypes.RankedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func singleExpansion(query string) datatypes.QueryExpansion {
	return datatypes.QueryExpansion{
		Interpretations: []datatypes.QueryInterpretation{{
			Label:    "primary",
			Variants: datatypes.NewDegradedVariantSet(query),
		}},
	}
}

func TestRetrieveFailedStrategyIsolated(t *testing.T) {
	store := config.NewStore(config.Default())
	svc := NewService(store,
		&fakeStrategy{name: "lexical", docs: []datatypes.RankedDocument{
			doc("a", datatypes.SourceLaw, fusionNow),
		}},
		&fakeStrategy{name: "vector", err: errors.New("weaviate unreachable")},
		&fakeStrategy{name: "hyde", docs: nil},
	)

	result := svc.Retrieve(context.Background(), singleExpansion("aliquote IVA"))
	require.True(t, result.HasContext())
	assert.Equal(t, []string{"lexical", "vector", "hyde"}, result.StrategiesQueried)
	assert.Equal(t, []string{"vector"}, result.StrategiesFailed)
	assert.Len(t, result.Documents, 1)
	assert.Equal(t, 1, result.Interpretations)
}

func TestRetrieveAllStrategiesFailed(t *testing.T) {
	store := config.NewStore(config.Default())
	svc := NewService(store,
		&fakeStrategy{name: "lexical", err: errors.New("down")},
		&fakeStrategy{name: "vector", err: errors.New("down")},
	)

	result := svc.Retrieve(context.Background(), singleExpansion("aliquote IVA"))
	assert.False(t, result.HasContext())
	assert.ElementsMatch(t, []string{"lexical", "vector"}, result.StrategiesFailed)
}

func TestRetrieveMultipleInterpretationsShareFusion(t *testing.T) {
	store := config.NewStore(config.Default())
	svc := NewService(store,
		&fakeStrategy{name: "lexical", docs: []datatypes.RankedDocument{
			doc("shared", datatypes.SourceCircular, fusionNow),
		}},
	)

	expansion := datatypes.QueryExpansion{
		Ambiguous: true,
		Interpretations: []datatypes.QueryInterpretation{
			{Label: "interpretation_1", Variants: datatypes.NewDegradedVariantSet("lettura uno")},
			{Label: "interpretation_2", Variants: datatypes.NewDegradedVariantSet("lettura due")},
		},
	}

	result := svc.Retrieve(context.Background(), expansion)
	assert.Equal(t, 2, result.Interpretations)
	// Same document from both interpretations collapses to one entry.
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "shared", result.Documents[0].Id)
}
