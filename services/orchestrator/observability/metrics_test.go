// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *PipelineMetrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestRecordRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest("technical_research", true)
	m.RecordRequest("technical_research", true)
	m.RecordRequest("technical_research", false)
	m.RecordRequest("casual_chat", true)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("technical_research", "success")); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("technical_research", "error")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("casual_chat", "success")); got != 1 {
		t.Errorf("casual count = %v, want 1", got)
	}
}

func TestRecordDegradedStage(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordDegradedStage(StageRouter)
	m.RecordDegradedStage(StageRouter)
	m.RecordDegradedStage(StageSynthesis)

	if got := testutil.ToFloat64(m.DegradedStagesTotal.WithLabelValues("router")); got != 2 {
		t.Errorf("router degradations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DegradedStagesTotal.WithLabelValues("synthesis")); got != 1 {
		t.Errorf("synthesis degradations = %v, want 1", got)
	}
}

func TestAddModelCost(t *testing.T) {
	m := newTestMetrics(t)

	m.AddModelCost("openai", "fast", 0.002)
	m.AddModelCost("openai", "fast", 0.003)
	m.AddModelCost("openai", "fast", 0) // no-op
	m.AddModelCost("anthropic", "advanced", 0.05)

	if got := testutil.ToFloat64(m.ModelCostEUR.WithLabelValues("openai", "fast")); got != 0.005 {
		t.Errorf("openai/fast cost = %v, want 0.005", got)
	}
	if got := testutil.ToFloat64(m.ModelCostEUR.WithLabelValues("anthropic", "advanced")); got != 0.05 {
		t.Errorf("anthropic/advanced cost = %v, want 0.05", got)
	}
}

func TestLoopCounters(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveLoopIterations(1)
	m.ObserveLoopIterations(3)
	m.RecordLoopRejection("forbidden_pattern")
	m.RecordLoopFallback()

	if got := testutil.ToFloat64(m.LoopRejectionsTotal.WithLabelValues("forbidden_pattern")); got != 1 {
		t.Errorf("rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LoopFallbacksTotal); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.StreamStarted(EndpointChatStream)
	m.StreamStarted(EndpointChatStream)
	m.StreamEnded(EndpointChatStream)

	if got := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream")); got != 1 {
		t.Errorf("active streams = %v, want 1", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *PipelineMetrics

	m.RecordRequest("technical_research", true)
	m.ObserveStage(StageRetrieval, 0.2)
	m.RecordDegradedStage(StageReasoning)
	m.AddModelCost("openai", "fast", 0.01)
	m.RecordModelFallback("standard")
	m.RecordStrategyFailure("vector")
	m.ObserveLoopIterations(1)
	m.RecordLoopRejection("generic_label")
	m.RecordLoopFallback()
	m.StreamStarted(EndpointChat)
	m.StreamEnded(EndpointChat)
	m.RecordTimeToFirstToken(EndpointChatStream, 0.5)
	m.RecordClientDisconnect(EndpointChatStream)
}
