// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NormaAI/NormaCore/pkg/extensions"
)

// AuditMiddleware records one audit event per request after the handler
// completes.
//
// # Description
//
// The event type is "chat." plus the last path segment's action name,
// the user comes from the auth middleware (so AuditMiddleware must run
// after AuthMiddleware), and the outcome maps from the response status.
// Logger failures are logged and swallowed: an audit-store outage must
// not take the query path down with it.
func AuditMiddleware(logger extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		userID := "anonymous"
		if info := GetAuthInfo(c); info != nil {
			userID = info.UserID
		}

		event := extensions.AuditEvent{
			EventType: eventTypeFor(c.FullPath()),
			Timestamp: start.UTC(),
			UserID:    userID,
			Outcome:   outcomeFor(c.Writer.Status()),
			Metadata: map[string]any{
				"path":        c.FullPath(),
				"status":      c.Writer.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
			},
		}
		if err := logger.Log(c.Request.Context(), event); err != nil {
			slog.Warn("audit log failed", "event_type", event.EventType, "error", err)
		}
	}
}

func eventTypeFor(path string) string {
	switch path {
	case "/v1/chat":
		return "chat.request"
	case "/v1/chat/stream":
		return "chat.stream"
	case "/v1/costs":
		return "costs.report"
	default:
		return "http.request"
	}
}

func outcomeFor(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "error"
	case status >= http.StatusBadRequest:
		return "failure"
	default:
		return "success"
	}
}
