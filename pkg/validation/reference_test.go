// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsReference(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"law", "L. 190/2014", true},
		{"legislative decree", "D.Lgs. 81/2008", true},
		{"presidential decree", "DPR 633/1972", true},
		{"article prefix", "art. 16 DPR 633/1972", true},
		{"circular with letter", "Circolare 24/E", true},
		{"resolution", "Risoluzione n. 5", true},
		{"lowercase law", "l. 190/2014", true},
		{"empty", "", false},
		{"plain prose", "la legge di bilancio prevede", false},
		{"embedded in prose", "come previsto dalla L. 190/2014 al comma 54", false},
		{"too long", "L. 190/2014 con tutte le successive modificazioni e integrazioni apportate", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReference(tt.input), "input: %q", tt.input)
		})
	}
}

func TestExtractReference(t *testing.T) {
	ref, ok := ExtractReference("I requisiti sono fissati dall'art. 1 L. 190/2014 come modificata.")
	assert.True(t, ok)
	assert.Equal(t, "art. 1 L. 190/2014", ref)

	ref, ok = ExtractReference("Vedi la Circolare 24/E per i chiarimenti.")
	assert.True(t, ok)
	assert.Equal(t, "Circolare 24/E", ref)

	_, ok = ExtractReference("nessun riferimento normativo qui")
	assert.False(t, ok)
}
