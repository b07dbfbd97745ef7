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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// SSEWriter writes Server-Sent Events to an HTTP response.
//
// # Description
//
// SSEWriter abstracts SSE event serialization from HTTP response
// mechanics. Each event is assigned an id, a timestamp, and a SHA-256
// hash chained to the previous event so clients can detect dropped or
// reordered events.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the keepalive ticker
// and the token producer write from different goroutines.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write
type SSEWriter interface {
	// WriteEvent writes one event. Id, CreatedAt, Hash and PrevHash are
	// populated here; the write is flushed immediately.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteToken writes an answer content chunk.
	WriteToken(content string) error

	// WriteActions writes the validated follow-up actions.
	WriteActions(actions []datatypes.CandidateAction) error

	// WriteQuestion writes a structured clarification question.
	WriteQuestion(question *datatypes.StructuredQuestion) error

	// WriteError writes an error event. The message must already be
	// sanitized for the client; internal details stay in the logs.
	WriteError(errMsg string) error

	// WriteDone writes the terminal event. Nothing may follow it.
	WriteDone() error

	// WriteKeepAlive sends an SSE comment line to keep intermediaries
	// (load balancers, proxies) from timing the connection out during
	// long pipeline stages. Comments do not join the hash chain.
	WriteKeepAlive() error
}

// sseWriter implements SSEWriter over an http.ResponseWriter.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter wraps the ResponseWriter. Fails when the writer does not
// support flushing, which streaming requires.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.NewString()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// computeEventHash hashes the event's content fields plus the previous
// hash. The Hash field itself must still be empty.
func computeEventHash(event datatypes.StreamEvent) string {
	actionsJSON := ""
	if len(event.Actions) > 0 {
		if data, err := json.Marshal(event.Actions); err == nil {
			actionsJSON = string(data)
		}
	}
	questionJSON := ""
	if event.Question != nil {
		if data, err := json.Marshal(event.Question); err == nil {
			questionJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Error,
		actionsJSON,
		questionJSON,
	)
	sum := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(sum[:])
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventToken,
		Content: content,
	})
}

func (w *sseWriter) WriteActions(actions []datatypes.CandidateAction) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventActions,
		Actions: actions,
	})
}

func (w *sseWriter) WriteQuestion(question *datatypes.StructuredQuestion) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:     datatypes.StreamEventActions,
		Question: question,
	})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  datatypes.StreamEventError,
		Error: errMsg,
	})
}

func (w *sseWriter) WriteDone() error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type: datatypes.StreamEventDone,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the response headers for an SSE stream. Must be
// called before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
