// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes: request and response types for the chat endpoints.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxQueryBytes bounds a single query payload.
	MaxQueryBytes = 16 * 1024 // 16KB

	// MaxHistoryTurns bounds the conversation history accepted inbound.
	// The pipeline itself only ever uses the last 3 turns for prompts.
	MaxHistoryTurns = 50

	// MaxAttachedDocumentBytes bounds the optional attached document.
	MaxAttachedDocumentBytes = 256 * 1024 // 256KB

	// PromptHistoryTurns is how many trailing turns prompt builders may
	// embed. Keeps prompt size bounded regardless of inbound history.
	PromptHistoryTurns = 3
)

// chatValidate is the shared validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes16k", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxQueryBytes
	})
	_ = chatValidate.RegisterValidation("maxbytes256k", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxAttachedDocumentBytes
	})
}

// =============================================================================
// Request Types
// =============================================================================

// HistoryTurn is one prior role/content exchange supplied by the session
// layer.
type HistoryTurn struct {
	// Role is "user" or "assistant".
	Role string `json:"role" validate:"required,oneof=user assistant"`

	Content string `json:"content" validate:"required"`
}

// ChatRequest is the inbound payload for the chat endpoints.
//
// # Description
//
// The API/session layer supplies the plain-text query, optional bounded
// history, an optional attached document, and correlation ids. Ids are used
// for logging correlation only; the pipeline holds no session state.
//
// # Validation
//
//   - Query: required, max 16KB
//   - History: at most 50 turns, each with a valid role
//   - AttachedDocument: max 256KB
type ChatRequest struct {
	// RequestId correlates logs and traces. Generated when absent.
	RequestId string `json:"request_id"`

	// SessionId correlates the conversation. Generated when absent.
	SessionId string `json:"session_id"`

	Query string `json:"query" validate:"required,maxbytes16k"`

	History []HistoryTurn `json:"history,omitempty" validate:"max=50,dive"`

	// AttachedDocument is optional user-supplied text that participates
	// in grounding without entering the index.
	AttachedDocument string `json:"attached_document,omitempty" validate:"maxbytes256k"`

	// Timestamp is Unix milliseconds UTC. Populated when absent.
	Timestamp int64 `json:"timestamp"`
}

// EnsureDefaults populates RequestId, SessionId and Timestamp when the
// caller omitted them.
func (r *ChatRequest) EnsureDefaults() {
	if r.RequestId == "" {
		r.RequestId = uuid.NewString()
	}
	if r.SessionId == "" {
		r.SessionId = "sess_" + uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// Validate checks the request against the struct validation tags.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("chat request validation: %w", err)
	}
	return nil
}

// PromptHistory returns the trailing turns prompt builders are allowed to
// embed (at most PromptHistoryTurns).
func (r *ChatRequest) PromptHistory() []HistoryTurn {
	if len(r.History) <= PromptHistoryTurns {
		return r.History
	}
	return r.History[len(r.History)-PromptHistoryTurns:]
}

// =============================================================================
// Response Types
// =============================================================================

// PublicReasoning is the short, jargon-free explanation of how the answer
// was reached, suitable for direct display.
type PublicReasoning struct {
	// MainTheme is the topic the pipeline identified.
	MainTheme string `json:"main_theme"`

	// SelectedScenario describes the chosen hypothesis, when the
	// tree-of-thoughts strategy ran. Empty for single-path reasoning.
	SelectedScenario string `json:"selected_scenario,omitempty"`

	// WhySelected explains the choice in plain language.
	WhySelected string `json:"why_selected,omitempty"`

	// ConfidenceLabel is qualitative: "alta", "media", "bassa".
	ConfidenceLabel string `json:"confidence_label"`

	// PrimarySources names the leading citations.
	PrimarySources []string `json:"primary_sources,omitempty"`

	// RiskNotes surfaces flagged high-risk alternatives.
	RiskNotes []string `json:"risk_notes,omitempty"`
}

// ChatResponse is the outbound payload for the chat endpoints.
type ChatResponse struct {
	RequestId string `json:"request_id"`
	SessionId string `json:"session_id"`

	AnswerText string `json:"answer_text"`

	SourcesCited []CitedSource `json:"sources_cited"`

	// SuggestedActions are the golden-loop validated actions.
	SuggestedActions []CandidateAction `json:"suggested_actions"`

	// ReasoningTrace is the technical trace, for debugging clients.
	ReasoningTrace *ReasoningTrace `json:"reasoning_trace,omitempty"`

	// PublicReasoning is the display-ready explanation.
	PublicReasoning *PublicReasoning `json:"public_reasoning,omitempty"`

	// Conflicts reports detected source conflicts and their resolutions.
	Conflicts []SourceConflict `json:"conflicts,omitempty"`

	// Degraded is true when any stage fell back below full fidelity;
	// Disclaimer carries the user-facing note in that case.
	Degraded   bool   `json:"degraded,omitempty"`
	Disclaimer string `json:"disclaimer,omitempty"`

	// CostEUR is the accumulated model cost for this request.
	CostEUR float64 `json:"cost_eur,omitempty"`

	ElapsedMs int64 `json:"elapsed_ms"`
}

// =============================================================================
// Streaming Event Types
// =============================================================================

// Stream event types emitted on the SSE channel.
const (
	StreamEventToken   = "token"   // answer content chunk, tags stripped
	StreamEventActions = "actions" // validated actions after content
	StreamEventError   = "error"
	StreamEventDone    = "done" // terminal signal, always last
)

// StreamEvent is one server-sent event on the streaming chat channel.
//
// Hash and PrevHash form a per-stream integrity chain: each event's hash
// covers its content and the previous event's hash, so a client can detect
// dropped or reordered events.
type StreamEvent struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`

	Hash     string `json:"hash,omitempty"`
	PrevHash string `json:"prev_hash,omitempty"`

	// Content carries answer text for token events.
	Content string `json:"content,omitempty"`

	// Actions carries the validated actions for the actions event.
	Actions []CandidateAction `json:"actions,omitempty"`

	// Question carries a structured clarification payload, when the
	// pipeline asks one instead of answering.
	Question *StructuredQuestion `json:"question,omitempty"`

	Error string `json:"error,omitempty"`
}

// StructuredQuestion is a clarification question with fixed options,
// emitted when an ambiguous query cannot be resolved from history.
type StructuredQuestion struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}
