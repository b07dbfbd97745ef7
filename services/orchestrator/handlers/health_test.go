// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NormaAI/NormaCore/services/llm"
	"github.com/NormaAI/NormaCore/services/orchestrator/complexity"
	"github.com/NormaAI/NormaCore/services/orchestrator/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	r := gin.New()
	r.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestProviderStatusUnregisteredProviders(t *testing.T) {
	configs := config.NewStore(config.Default())
	health := llm.NewHealthService()

	r := gin.New()
	r.GET("/health/providers", ProviderStatus(health, configs))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health/providers", nil)
	r.ServeHTTP(w, req)

	// Nothing registered: every configured provider reports unavailable.
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response struct {
		Providers []struct {
			Client    string `json:"client"`
			Available bool   `json:"available"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.NotEmpty(t, response.Providers)
	for _, p := range response.Providers {
		assert.False(t, p.Available, "provider %s", p.Client)
	}
}

func TestHandleCostReport(t *testing.T) {
	costs := complexity.NewCostTracker()
	costs.Record("openai", "fast", 1000, 500, 0.0006)

	r := gin.New()
	r.GET("/v1/costs", HandleCostReport(costs))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/costs", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Entries []complexity.CostEntry `json:"entries"`
		Total   float64                `json:"total_eur"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Entries, 1)
	assert.Equal(t, "openai", response.Entries[0].Provider)
	assert.InDelta(t, 0.0009, response.Total, 1e-9)
}
