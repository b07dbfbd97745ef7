// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/NormaAI/NormaCore/pkg/extensions"
	"github.com/NormaAI/NormaCore/services/llm"
	"github.com/NormaAI/NormaCore/services/orchestrator/complexity"
	"github.com/NormaAI/NormaCore/services/orchestrator/config"
	"github.com/NormaAI/NormaCore/services/orchestrator/handlers"
	"github.com/NormaAI/NormaCore/services/orchestrator/middleware"
	"github.com/NormaAI/NormaCore/services/orchestrator/observability"
	"github.com/NormaAI/NormaCore/services/orchestrator/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers all orchestrator endpoints. Health and metrics
// stay outside the authenticated group so probes and scrapers need no
// credentials.
func SetupRoutes(router *gin.Engine, p *pipeline.Pipeline, metrics *observability.PipelineMetrics,
	health *llm.HealthService, configs *config.Store, costs *complexity.CostTracker,
	opts extensions.ServiceOptions) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/health/providers", handlers.ProviderStatus(health, configs))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	v1.Use(middleware.AuditMiddleware(opts.AuditLogger))
	{
		v1.POST("/chat", handlers.HandleChat(p))
		v1.POST("/chat/stream", handlers.HandleChatStream(p, metrics))
		v1.GET("/costs", handlers.HandleCostReport(costs))
	}
}
