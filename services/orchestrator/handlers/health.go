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

	"github.com/NormaAI/NormaCore/services/llm"
	"github.com/NormaAI/NormaCore/services/orchestrator/config"
	"github.com/gin-gonic/gin"
)

// HealthCheck reports process liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ProviderStatus reports breaker availability for every model the tier
// configuration references. A provider whose circuit is open shows as
// unavailable until its half-open probe succeeds.
func ProviderStatus(health *llm.HealthService, configs *config.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := configs.Get()

		seen := make(map[string]bool)
		type providerState struct {
			Client    string `json:"client"`
			Available bool   `json:"available"`
		}
		var providers []providerState
		add := func(provider, model string) {
			if provider == "" || model == "" {
				return
			}
			name := provider + "/" + model
			if seen[name] {
				return
			}
			seen[name] = true
			providers = append(providers, providerState{
				Client:    name,
				Available: health.Available(name),
			})
		}
		for _, tier := range cfg.Tiers {
			add(tier.Provider, tier.Model)
			add(tier.FallbackProvider, tier.FallbackModel)
		}
		sort.Slice(providers, func(i, j int) bool {
			return providers[i].Client < providers[j].Client
		})

		allUp := true
		for _, p := range providers {
			if !p.Available {
				allUp = false
				break
			}
		}
		status := http.StatusOK
		if !allUp {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"providers": providers})
	}
}
