// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent records one security- or liability-relevant occurrence.
//
// A studio answering tax questions on the strength of this service may
// need to reconstruct, months later, what was asked and what the system
// answered. Deployments that care wire an AuditLogger that persists
// these events; the open source default discards them.
type AuditEvent struct {
	// EventType categorizes the event, format "category.action"
	// (e.g. "chat.request", "chat.stream", "auth.failed").
	EventType string

	// Timestamp is when the event occurred, always UTC. If zero,
	// implementations should set time.Now().UTC().
	Timestamp time.Time

	// UserID identifies who performed the action. "system" for
	// automated actions, "anonymous" if unknown.
	UserID string

	// Outcome is "success", "failure", "degraded" or "error".
	Outcome string

	// Metadata holds event-specific data. Common keys: "request_id",
	// "session_id", "category", "cost_eur", "duration_ms", "status".
	Metadata map[string]any
}

// AuditLogger records audit events.
//
// Implementations may log synchronously or buffer asynchronously; for
// liability-critical deployments synchronous persistence is recommended.
type AuditLogger interface {
	// Log records one event. Implementations should set Timestamp if
	// zero and return quickly.
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events. Open source default.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// SlogAuditLogger writes events to the default structured logger. Useful
// for deployments that scrape container logs instead of running an audit
// store.
type SlogAuditLogger struct{}

// Log emits the event at info level.
func (l *SlogAuditLogger) Log(_ context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	slog.Info("audit",
		"event_type", event.EventType,
		"user_id", event.UserID,
		"outcome", event.Outcome,
		"timestamp", event.Timestamp.Format(time.RFC3339),
		"metadata", event.Metadata,
	)
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
