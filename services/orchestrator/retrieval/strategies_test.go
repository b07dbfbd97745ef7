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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

func TestEntityStrategySkipsWithoutEntityVariant(t *testing.T) {
	// The Weaviate client must never be touched when there is nothing to
	// search; a nil client panics on any round trip.
	s := NewEntityStrategy(nil)

	docs, err := s.Search(context.Background(), datatypes.QueryInterpretation{
		Label: "primary",
		Variants: datatypes.QueryVariantSet{
			OriginalQuery:  "Come funziona il regime forfettario?",
			KeywordVariant: "regime forfettario requisiti",
		},
	}, 10)

	require.NoError(t, err)
	assert.Nil(t, docs)
}

func TestEntityStrategyName(t *testing.T) {
	assert.Equal(t, "entity", NewEntityStrategy(nil).Name())
}

func TestEntityFilterReference(t *testing.T) {
	cases := []struct {
		entity  string
		wantRef string
		wantOk  bool
	}{
		{"L. 190/2014 regime forfettario", "L. 190/2014", true},
		{"imposta sostitutiva D.Lgs. 81/2008", "D.Lgs. 81/2008", true},
		{"Circolare 24/E redditi esteri", "Circolare 24/E", true},
		{"regime forfettario partite IVA", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		ref, ok := entityFilterReference(tc.entity)
		assert.Equal(t, tc.wantOk, ok, "entity %q", tc.entity)
		assert.Equal(t, tc.wantRef, ref, "entity %q", tc.entity)
	}
}
