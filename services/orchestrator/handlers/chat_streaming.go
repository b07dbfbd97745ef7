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
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
	"github.com/NormaAI/NormaCore/services/orchestrator/observability"
	"github.com/NormaAI/NormaCore/services/orchestrator/pipeline"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
)

// keepAliveInterval is how often an SSE comment is sent while the
// pipeline is still working. AWS ALB and default Nginx close idle
// connections at 60s.
const keepAliveInterval = 15 * time.Second

// streamChunkRunes is the token event size. Small enough to feel live,
// large enough to keep event overhead reasonable.
const streamChunkRunes = 48

// HandleChatStream runs the pipeline and streams the answer over SSE.
//
// # Description
//
// The pipeline runs to completion in the background while keepalive
// comments hold the connection open; the answer text is then chunked
// through the tag stripper and emitted as token events. Structural tag
// markup never reaches the client, citation markers do. A clarification
// question captured from the answer and the validated actions follow as
// discrete events, then the terminal done event.
func HandleChatStream(p *pipeline.Pipeline, metrics *observability.PipelineMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatStream")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			span.RecordError(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		metrics.StreamStarted(observability.EndpointChatStream)
		defer metrics.StreamEnded(observability.EndpointChatStream)

		start := time.Now()
		resp, err := runWithKeepAlive(ctx, p, &req, writer, metrics)
		if err != nil {
			if ctx.Err() != nil {
				metrics.RecordClientDisconnect(observability.EndpointChatStream)
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Pipeline run failed during stream", "request_id", req.RequestId, "error", err)
			_ = writer.WriteError("elaborazione non riuscita")
			_ = writer.WriteDone()
			return
		}

		metrics.RecordTimeToFirstToken(observability.EndpointChatStream, time.Since(start).Seconds())

		stripper := NewTagStripper()
		for _, chunk := range chunkRunes(resp.AnswerText, streamChunkRunes) {
			if out := stripper.Feed(chunk); out != "" {
				if err := writer.WriteToken(out); err != nil {
					metrics.RecordClientDisconnect(observability.EndpointChatStream)
					slog.Info("Client dropped mid-stream", "request_id", req.RequestId)
					return
				}
			}
		}
		if tail := stripper.Flush(); tail != "" {
			if err := writer.WriteToken(tail); err != nil {
				metrics.RecordClientDisconnect(observability.EndpointChatStream)
				return
			}
		}

		if question := stripper.Question(); question != nil {
			if err := writer.WriteQuestion(question); err != nil {
				metrics.RecordClientDisconnect(observability.EndpointChatStream)
				return
			}
		}
		if len(resp.SuggestedActions) > 0 {
			if err := writer.WriteActions(resp.SuggestedActions); err != nil {
				metrics.RecordClientDisconnect(observability.EndpointChatStream)
				return
			}
		}
		_ = writer.WriteDone()
	}
}

// runWithKeepAlive runs the pipeline in the background and sends SSE
// comments until it finishes or the client disconnects.
func runWithKeepAlive(ctx context.Context, p *pipeline.Pipeline, req *datatypes.ChatRequest, writer SSEWriter, metrics *observability.PipelineMetrics) (*datatypes.ChatResponse, error) {
	type outcome struct {
		resp *datatypes.ChatResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := p.Run(ctx, req)
		done <- outcome{resp, err}
	}()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case out := <-done:
			return out.resp, out.err
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				metrics.RecordClientDisconnect(observability.EndpointChatStream)
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// chunkRunes splits text into rune-safe chunks of at most n runes.
func chunkRunes(text string, n int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/n+1)
	for start := 0; start < len(runes); start += n {
		end := start + n
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
