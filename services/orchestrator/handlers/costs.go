// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"sort"

	"github.com/NormaAI/NormaCore/services/orchestrator/complexity"
	"github.com/gin-gonic/gin"
)

// HandleCostReport exposes the accumulated model spend since startup,
// broken down by provider and tier.
func HandleCostReport(costs *complexity.CostTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries := costs.Snapshot()
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Provider != entries[j].Provider {
				return entries[i].Provider < entries[j].Provider
			}
			return entries[i].Tier < entries[j].Tier
		})
		c.JSON(http.StatusOK, gin.H{
			"entries":   entries,
			"total_eur": costs.TotalEUR(),
		})
	}
}
