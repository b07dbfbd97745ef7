// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NormaAI/NormaCore/services/orchestrator/config"
	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("norma.orchestrator.retrieval")

// perStrategyLimit is how many hits each strategy fetches before fusion.
// Larger than TopK so fusion has real rank lists to merge.
const perStrategyLimit = 25

// Service fans queries out over the registered strategies and fuses.
//
// # Thread Safety
//
// Service is safe for concurrent use.
type Service struct {
	strategies []SearchStrategy
	configs    *config.Store
}

// NewService creates the retrieval service.
func NewService(configs *config.Store, strategies ...SearchStrategy) *Service {
	return &Service{strategies: strategies, configs: configs}
}

// Retrieve runs the full fan-out + fusion for a query expansion.
//
// # Description
//
// Every (interpretation, strategy) pair runs concurrently, each under its
// own timeout. Failures and timeouts are recorded in StrategiesFailed and
// contribute no ranks; the fan-out never fails as a whole. With multiple
// interpretations, each interpretation's runs feed the same fusion so
// documents relevant to any reading compete on equal terms.
//
// # Outputs
//
//   - *datatypes.RetrievalResult: Possibly empty Documents, never nil.
func (s *Service) Retrieve(ctx context.Context, expansion datatypes.QueryExpansion) *datatypes.RetrievalResult {
	ctx, span := tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()

	cfg := s.configs.Get()
	start := time.Now()
	timeout := time.Duration(cfg.Pipeline.StrategyTimeoutMs) * time.Millisecond

	type outcome struct {
		run    strategyRun
		failed string
	}

	total := len(expansion.Interpretations) * len(s.strategies)
	outcomes := make([]outcome, total)

	var wg sync.WaitGroup
	slot := 0
	for _, interp := range expansion.Interpretations {
		for _, strategy := range s.strategies {
			wg.Add(1)
			go func(slot int, interp datatypes.QueryInterpretation, strategy SearchStrategy) {
				defer wg.Done()

				sctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				docs, err := strategy.Search(sctx, interp, perStrategyLimit)
				if err != nil {
					slog.Warn("Search strategy failed",
						"strategy", strategy.Name(), "interpretation", interp.Label, "error", err)
					outcomes[slot] = outcome{failed: strategy.Name()}
					return
				}
				outcomes[slot] = outcome{run: strategyRun{strategy: strategy.Name(), docs: docs}}
			}(slot, interp, strategy)
			slot++
		}
	}
	wg.Wait()

	queried := make([]string, 0, len(s.strategies))
	for _, strategy := range s.strategies {
		queried = append(queried, strategy.Name())
	}

	runs := make([]strategyRun, 0, total)
	failedSet := make(map[string]bool)
	for _, o := range outcomes {
		if o.failed != "" {
			failedSet[o.failed] = true
			continue
		}
		if len(o.run.docs) > 0 {
			runs = append(runs, o.run)
		}
	}
	failed := make([]string, 0, len(failedSet))
	for name := range failedSet {
		failed = append(failed, name)
	}
	sort.Strings(failed)

	documents := FuseResults(runs, cfg, time.Now())

	result := &datatypes.RetrievalResult{
		Documents:         documents,
		StrategiesQueried: queried,
		StrategiesFailed:  failed,
		Interpretations:   len(expansion.Interpretations),
		ElapsedMs:         time.Since(start).Milliseconds(),
	}

	span.SetAttributes(
		attribute.Int("retrieval.documents", len(documents)),
		attribute.Int("retrieval.interpretations", result.Interpretations),
		attribute.StringSlice("retrieval.failed_strategies", failed),
		attribute.Int64("retrieval.elapsed_ms", result.ElapsedMs),
	)
	slog.Info("Retrieval complete",
		"documents", len(documents),
		"interpretations", result.Interpretations,
		"failedStrategies", failed,
		"elapsedMs", result.ElapsedMs)
	return result
}
