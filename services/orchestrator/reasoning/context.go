// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reasoning produces the grounded reasoning trace behind an
// answer: a single chain of thought for simple queries, a multi-hypothesis
// tree for complex and multi-domain ones.
package reasoning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// contextMaxChars caps how much document text enters a prompt.
const contextMaxChars = 12000

// formatContext renders retrieved documents as a numbered source list.
// Citation markers in model output ("[3]") index into this list, 1-based.
func formatContext(docs []datatypes.RankedDocument) string {
	var b strings.Builder
	used := 0
	for i, doc := range docs {
		ref := doc.SourceName
		if doc.Record != nil && doc.Record.ReferenceCode != "" {
			ref = doc.Record.ReferenceCode
		}
		entry := fmt.Sprintf("[%d] (%s) %s\n%s\n\n", i+1, doc.SourceType, ref, doc.Content)
		if used+len(entry) > contextMaxChars {
			break
		}
		b.WriteString(entry)
		used += len(entry)
	}
	return b.String()
}

// sourceWeightScore averages the hierarchy weights of the sources a
// hypothesis cites. Citations reference the numbered context list; unknown
// or out-of-range citations count as neutral 1.0. No citations at all
// score 0.5, penalizing ungrounded hypotheses.
func sourceWeightScore(cited []string, docs []datatypes.RankedDocument) float64 {
	if len(cited) == 0 {
		return 0.5
	}

	var sum float64
	var count int
	for _, c := range cited {
		idx, ok := parseCitation(c)
		if !ok || idx < 1 || idx > len(docs) {
			sum += 1.0
			count++
			continue
		}
		doc := docs[idx-1]
		if doc.Record != nil && doc.Record.HierarchyWeight > 0 {
			sum += doc.Record.HierarchyWeight
		} else {
			sum += doc.SourceType.HierarchyWeight()
		}
		count++
	}
	return sum / float64(count)
}

// parseCitation extracts the index from a "[3]" or "3" citation marker.
func parseCitation(s string) (int, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	idx, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return idx, true
}
