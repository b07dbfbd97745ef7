// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the chat endpoints over Gin.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
	"github.com/NormaAI/NormaCore/services/orchestrator/pipeline"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("norma.orchestrator.handlers")

// HandleChat runs the full pipeline and returns the complete response as
// one JSON payload.
//
// # Description
//
// The pipeline degrades internally rather than erroring, so a 500 here
// means total failure (both providers of a tier unreachable, broken
// configuration). Validation failures are 400s; the pipeline is never
// invoked for them.
func HandleChat(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the chat request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			slog.Warn("Chat request rejected", "request_id", req.RequestId, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := p.Run(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Pipeline run failed", "request_id", req.RequestId, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "elaborazione non riuscita"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
