// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the orchestrator.
//
// # Description
//
// Metrics cover the query pipeline (per-stage latency, degradation, model
// cost and fallbacks), the action-validation loop, and the streaming chat
// endpoints. Exposed via the /metrics endpoint; use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "norma"

// Subsystems
const (
	pipelineSubsystem   = "pipeline"
	goldenLoopSubsystem = "goldenloop"
	streamingSubsystem  = "streaming"
)

// Stage names the instrumented pipeline stages.
type Stage string

const (
	StageRouter     Stage = "router"
	StageExpansion  Stage = "expansion"
	StageRetrieval  Stage = "retrieval"
	StageReasoning  Stage = "reasoning"
	StageSynthesis  Stage = "synthesis"
	StageGoldenLoop Stage = "goldenloop"
)

// Endpoint labels the chat endpoints for streaming metrics.
type Endpoint string

const (
	EndpointChat       Endpoint = "chat"
	EndpointChatStream Endpoint = "chat_stream"
)

// PipelineMetrics holds all Prometheus metrics for the orchestrator.
//
// # Description
//
// Initialize once at startup via InitMetrics(). All helper methods are
// nil-tolerant so components constructed without metrics (tests, tools)
// need no guards.
type PipelineMetrics struct {
	// RequestsTotal counts pipeline runs.
	// Labels: category (technical_research, casual_chat, ...), status
	// (success, error)
	RequestsTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage latency.
	// Labels: stage
	StageDurationSeconds *prometheus.HistogramVec

	// DegradedStagesTotal counts stage-level fallbacks.
	// Labels: stage
	DegradedStagesTotal *prometheus.CounterVec

	// ModelCostEUR accumulates estimated model spend.
	// Labels: provider, tier
	ModelCostEUR *prometheus.CounterVec

	// ModelFallbacksTotal counts selections that fell through to the
	// tier's fallback provider.
	// Labels: tier
	ModelFallbacksTotal *prometheus.CounterVec

	// StrategyFailuresTotal counts retrieval strategies that errored or
	// timed out.
	// Labels: strategy (lexical, vector, hyde)
	StrategyFailuresTotal *prometheus.CounterVec

	// LoopIterations measures validation passes per request
	// (1 = no regeneration needed).
	LoopIterations prometheus.Histogram

	// LoopRejectionsTotal counts rejected candidate actions.
	// Labels: reason (forbidden_pattern, generic_label, ...)
	LoopRejectionsTotal *prometheus.CounterVec

	// LoopFallbacksTotal counts requests that exhausted regeneration and
	// received the safe fallback actions.
	LoopFallbacksTotal prometheus.Counter

	// ActiveStreams tracks currently open streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// TimeToFirstTokenSeconds measures latency to the first streamed
	// token.
	// Labels: endpoint
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// ClientDisconnectsTotal counts clients that dropped mid-stream.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics registers all metrics on the default registry. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics registers all metrics on the given registerer. Tests pass an
// isolated registry.
func NewMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "requests_total",
				Help:      "Pipeline runs by query category and status",
			},
			[]string{"category", "status"},
		),

		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Per-stage wall time in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0, 30.0, 60.0},
			},
			[]string{"stage"},
		),

		DegradedStagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "degraded_stages_total",
				Help:      "Stage-level fallbacks by stage",
			},
			[]string{"stage"},
		),

		ModelCostEUR: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "model_cost_eur_total",
				Help:      "Estimated model spend in EUR by provider and tier",
			},
			[]string{"provider", "tier"},
		),

		ModelFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "model_fallbacks_total",
				Help:      "Selections served by the tier's fallback provider",
			},
			[]string{"tier"},
		),

		StrategyFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "strategy_failures_total",
				Help:      "Retrieval strategies that errored or timed out",
			},
			[]string{"strategy"},
		),

		LoopIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: goldenLoopSubsystem,
				Name:      "iterations",
				Help:      "Validation passes per request (1 = no regeneration)",
				Buckets:   []float64{1, 2, 3},
			},
		),

		LoopRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: goldenLoopSubsystem,
				Name:      "rejections_total",
				Help:      "Rejected candidate actions by reason",
			},
			[]string{"reason"},
		),

		LoopFallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: goldenLoopSubsystem,
				Name:      "fallbacks_total",
				Help:      "Requests that exhausted regeneration and got safe fallback actions",
			},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Currently open streaming connections",
			},
			[]string{"endpoint"},
		),

		TimeToFirstTokenSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first streamed token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Clients that dropped during streaming",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed pipeline run.
func (m *PipelineMetrics) RecordRequest(category string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(category, status).Inc()
}

// ObserveStage records one stage's wall time.
func (m *PipelineMetrics) ObserveStage(stage Stage, seconds float64) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(string(stage)).Observe(seconds)
}

// RecordDegradedStage records a stage-level fallback.
func (m *PipelineMetrics) RecordDegradedStage(stage Stage) {
	if m == nil {
		return
	}
	m.DegradedStagesTotal.WithLabelValues(string(stage)).Inc()
}

// AddModelCost accumulates estimated spend.
func (m *PipelineMetrics) AddModelCost(provider, tier string, eur float64) {
	if m == nil || eur <= 0 {
		return
	}
	m.ModelCostEUR.WithLabelValues(provider, tier).Add(eur)
}

// RecordModelFallback records a selection served by the fallback provider.
func (m *PipelineMetrics) RecordModelFallback(tier string) {
	if m == nil {
		return
	}
	m.ModelFallbacksTotal.WithLabelValues(tier).Inc()
}

// RecordStrategyFailure records a failed retrieval strategy.
func (m *PipelineMetrics) RecordStrategyFailure(strategy string) {
	if m == nil {
		return
	}
	m.StrategyFailuresTotal.WithLabelValues(strategy).Inc()
}

// ObserveLoopIterations records the validation passes one request used.
func (m *PipelineMetrics) ObserveLoopIterations(iterations int) {
	if m == nil {
		return
	}
	m.LoopIterations.Observe(float64(iterations))
}

// RecordLoopRejection records a rejected candidate action.
func (m *PipelineMetrics) RecordLoopRejection(reason string) {
	if m == nil {
		return
	}
	m.LoopRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordLoopFallback records a request that received safe fallback actions.
func (m *PipelineMetrics) RecordLoopFallback() {
	if m == nil {
		return
	}
	m.LoopFallbacksTotal.Inc()
}

// StreamStarted increments the active streams gauge.
func (m *PipelineMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *PipelineMetrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records latency to the first streamed token.
func (m *PipelineMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordClientDisconnect records a client that dropped mid-stream.
func (m *PipelineMetrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
