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
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
	"github.com/NormaAI/NormaCore/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseSSE splits an SSE body into (event type, decoded event) pairs.
func parseSSE(t *testing.T, body string) []datatypes.StreamEvent {
	t.Helper()
	var events []datatypes.StreamEvent
	for _, block := range strings.Split(body, "\n\n") {
		for _, line := range strings.Split(block, "\n") {
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev datatypes.StreamEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			events = append(events, ev)
		}
	}
	return events
}

func TestHandleChatStream(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := gin.New()
	r.POST("/api/v1/chat/stream", HandleChatStream(newTestPipeline(), metrics))

	w := performRequest(r, "POST", "/api/v1/chat/stream", datatypes.ChatRequest{
		Query: "Qual e l'aliquota IVA ordinaria?",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSE(t, w.Body.String())
	require.NotEmpty(t, events)

	// Terminal event is always last.
	assert.Equal(t, datatypes.StreamEventDone, events[len(events)-1].Type)

	var content strings.Builder
	var actionEvents int
	for _, ev := range events {
		switch ev.Type {
		case datatypes.StreamEventToken:
			content.WriteString(ev.Content)
		case datatypes.StreamEventActions:
			actionEvents++
			assert.Len(t, ev.Actions, 2)
		}
	}

	// Tag markup is stripped, citations survive.
	assert.Contains(t, content.String(), "22% [1]")
	assert.NotContains(t, content.String(), "<answer>")
	assert.NotContains(t, content.String(), "</answer>")
	assert.Equal(t, 1, actionEvents)

	// Actions arrive after all content: the last two events are actions
	// then done.
	assert.Equal(t, datatypes.StreamEventActions, events[len(events)-2].Type)
}

func TestHandleChatStreamHashChain(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := gin.New()
	r.POST("/api/v1/chat/stream", HandleChatStream(newTestPipeline(), metrics))

	w := performRequest(r, "POST", "/api/v1/chat/stream", datatypes.ChatRequest{
		Query: "Qual e l'aliquota IVA ordinaria?",
	})
	require.Equal(t, http.StatusOK, w.Code)

	events := parseSSE(t, w.Body.String())
	require.NotEmpty(t, events)

	prev := ""
	for i, ev := range events {
		assert.NotEmpty(t, ev.Hash, "event %d missing hash", i)
		assert.Equal(t, prev, ev.PrevHash, "event %d chain broken", i)
		prev = ev.Hash
	}
}

func TestHandleChatStreamRejectsInvalidRequest(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := gin.New()
	r.POST("/api/v1/chat/stream", HandleChatStream(newTestPipeline(), metrics))

	w := performRequest(r, "POST", "/api/v1/chat/stream", datatypes.ChatRequest{Query: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChatStreamEmitsClarificationQuestion(t *testing.T) {
	health := &scriptedHealth{
		answer: `<answer>L'aliquota dipende dal regime [1].</answer>` +
			`<question>{"text":"Quale regime applichi?","options":["forfettario","ordinario"]}</question>`,
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := gin.New()
	r.POST("/api/v1/chat/stream", HandleChatStream(newScriptedPipeline(health), metrics))

	w := performRequest(r, "POST", "/api/v1/chat/stream", datatypes.ChatRequest{
		Query: "Qual e l'aliquota IVA per la mia attivita?",
	})
	require.Equal(t, http.StatusOK, w.Code)

	events := parseSSE(t, w.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, datatypes.StreamEventDone, events[len(events)-1].Type)

	var question *datatypes.StructuredQuestion
	var tokens strings.Builder
	for _, event := range events {
		if event.Question != nil {
			question = event.Question
		}
		if event.Type == datatypes.StreamEventToken {
			tokens.WriteString(event.Content)
		}
	}

	require.NotNil(t, question, "clarification question should surface as its own event")
	assert.Equal(t, "Quale regime applichi?", question.Text)
	assert.Equal(t, []string{"forfettario", "ordinario"}, question.Options)

	// The question rides its own event, never the token stream.
	assert.Contains(t, tokens.String(), "L'aliquota dipende dal regime")
	assert.NotContains(t, tokens.String(), "Quale regime applichi?")
	assert.NotContains(t, tokens.String(), "<question>")
}
