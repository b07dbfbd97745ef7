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
	"sort"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// OrderSources sorts citations in place by legal hierarchy: primary law
// first, then decree, circular, resolution, ruling, guidance. Within the
// same rank, more recent first; unknown dates last; relevance breaks the
// remaining ties.
func OrderSources(sources []datatypes.CitedSource) {
	sort.SliceStable(sources, func(i, j int) bool {
		if sources[i].HierarchyRank != sources[j].HierarchyRank {
			return sources[i].HierarchyRank < sources[j].HierarchyRank
		}
		di, dj := sources[i].PublishedDate, sources[j].PublishedDate
		if di != dj {
			if di == "" {
				return false
			}
			if dj == "" {
				return true
			}
			// ISO dates compare lexicographically.
			return di > dj
		}
		return sources[i].Relevance > sources[j].Relevance
	})
}
