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
	"sort"
	"time"

	"github.com/NormaAI/NormaCore/services/orchestrator/config"
	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// strategyRun is one strategy's ranked list for one interpretation.
type strategyRun struct {
	strategy string
	docs     []datatypes.RankedDocument
}

// FuseResults merges ranked lists with weighted reciprocal rank fusion.
//
// # Description
//
// Each run contributes weight / (k + rank) per document, rank starting
// at 1 for the best hit. Contributions sum across runs, then two
// multiplicative boosts apply: the source-hierarchy authority weight and
// a recency boost for documents published inside the configured window.
// Duplicates collapse to one entry keeping the union of raw scores.
// Output is sorted by fused score descending, document id ascending on
// ties, truncated to TopK. The whole function is deterministic: the same
// runs in any order produce the same output.
//
// # Inputs
//
//   - runs: Per-strategy ranked lists. A strategy absent from the
//     configured weights contributes nothing.
//   - cfg: Live configuration (RRF parameters, hierarchy overrides).
//   - now: Reference time for the recency window.
//
// # Outputs
//
//   - []datatypes.RankedDocument: Fused, boosted, deduplicated, top-K.
func FuseResults(runs []strategyRun, cfg *config.Config, now time.Time) []datatypes.RankedDocument {
	rrf := cfg.RRF
	fused := make(map[string]*datatypes.RankedDocument)
	scores := make(map[string]float64)

	for _, run := range runs {
		weight, ok := rrf.Weights[run.strategy]
		if !ok || weight <= 0 {
			continue
		}
		for rank, doc := range run.docs {
			if doc.Id == "" {
				continue
			}
			contribution := weight / float64(rrf.K+rank+1)
			scores[doc.Id] += contribution

			existing, seen := fused[doc.Id]
			if !seen {
				copied := doc
				if copied.RawScores == nil {
					copied.RawScores = map[string]float64{}
				}
				fused[doc.Id] = &copied
				continue
			}
			// Duplicate across strategies: keep the union of raw
			// scores, preferring the higher native score per strategy.
			for name, score := range doc.RawScores {
				if prev, ok := existing.RawScores[name]; !ok || score > prev {
					existing.RawScores[name] = score
				}
			}
			if existing.PublishedDate.IsZero() && !doc.PublishedDate.IsZero() {
				existing.PublishedDate = doc.PublishedDate
			}
		}
	}

	recencyCutoff := now.AddDate(0, -rrf.RecencyWindowMonths, 0)

	out := make([]datatypes.RankedDocument, 0, len(fused))
	for id, doc := range fused {
		score := scores[id]

		builtin := doc.SourceType.HierarchyWeight()
		authority := cfg.HierarchyWeight(string(doc.SourceType), builtin)
		score *= authority

		if !doc.PublishedDate.IsZero() && !doc.PublishedDate.Before(recencyCutoff) {
			score *= rrf.RecencyBoost
		}

		doc.FusedScore = score
		doc.Record = buildMetadataRecord(doc, authority)
		out = append(out, *doc)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].Id < out[j].Id
	})

	if len(out) > rrf.TopK {
		out = out[:rrf.TopK]
	}
	return out
}
