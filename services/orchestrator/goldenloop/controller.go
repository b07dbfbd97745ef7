// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package goldenloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NormaAI/NormaCore/services/orchestrator/config"
	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("norma.orchestrator.goldenloop")

// regenerationMargin is the minimum request budget that must remain
// beyond the backoff for a regeneration round to be worth starting.
const regenerationMargin = 500 * time.Millisecond

// Controller runs the bounded validate/regenerate loop.
//
// # Thread Safety
//
// Controller is safe for concurrent use.
type Controller struct {
	validator   *Validator
	regenerator *Regenerator
	configs     *config.Store

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// NewController creates the loop controller.
func NewController(validator *Validator, regenerator *Regenerator, configs *config.Store) *Controller {
	return &Controller{
		validator:   validator,
		regenerator: regenerator,
		configs:     configs,
		sleep:       time.Sleep,
	}
}

// Run validates the synthesis result's candidate actions, regenerating
// as needed.
//
// # Description
//
// The loop is strictly bounded: one initial validation plus at most
// MaxRegenerations regenerate+validate rounds, with exponential backoff
// between rounds (InitialBackoffMs doubled each round, capped at
// MaxBackoffMs). A ParseDegraded synthesis discards its candidates and
// goes straight to regeneration. If the survivors never reach
// MinValidActions and attempts are exhausted, safe fallback actions
// derived from the cited sources and extracted values are substituted.
// Run always returns at least one action.
func (c *Controller) Run(ctx context.Context, synthesis *datatypes.SynthesisResult, keyValues []string) datatypes.GoldenLoopResult {
	ctx, span := tracer.Start(ctx, "goldenloop.run")
	defer span.End()

	cfg := c.configs.Get().GoldenLoop
	start := time.Now()

	result := datatypes.GoldenLoopResult{}

	candidates := synthesis.CandidateActions
	if synthesis.ParseDegraded {
		// Candidates from a degraded parse are untrustworthy.
		candidates = nil
	}

	var accepted []datatypes.CandidateAction
	rejectionLog := []string{}
	backoff := time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(cfg.MaxBackoffMs) * time.Millisecond

	for iteration := 0; ; iteration++ {
		result.IterationsUsed = iteration + 1

		batch := c.validator.ValidateBatch(candidates, synthesis.SourcesCited)
		accepted = append(accepted, batch.ValidatedActions...)
		rejectionLog = append(rejectionLog, batch.RejectionLog...)

		if len(accepted) >= cfg.MinValidActions {
			break
		}
		if iteration >= cfg.MaxRegenerations {
			break
		}
		if ctx.Err() != nil {
			slog.Warn("Golden loop aborted by context", "error", ctx.Err())
			break
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < backoff+regenerationMargin {
			slog.Warn("Golden loop budget too low for another regeneration, using what we have",
				"remaining", time.Until(deadline), "backoff", backoff)
			break
		}

		c.sleep(backoff)
		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		result.RegenerationTriggered = true
		needed := cfg.MinValidActions - len(accepted) + 1
		log := rejectionLog
		if len(log) == 0 {
			log = []string{"nessuna azione proposta dalla sintesi"}
		}
		regenerated, err := c.regenerator.Regenerate(ctx, needed, log, synthesis, keyValues)
		if err != nil {
			slog.Warn("Action regeneration failed", "iteration", iteration+1, "error", err)
			candidates = nil
			continue
		}
		candidates = regenerated
	}

	if len(accepted) == 0 {
		slog.Warn("Golden loop exhausted without valid actions, using safe fallbacks",
			"iterations", result.IterationsUsed, "rejections", len(rejectionLog))
		accepted = safeFallbackActions(synthesis, keyValues)
		result.FallbackUsed = true
	}

	result.Actions = accepted
	result.TotalLatencyMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Int("goldenloop.iterations", result.IterationsUsed),
		attribute.Bool("goldenloop.regenerated", result.RegenerationTriggered),
		attribute.Bool("goldenloop.fallback", result.FallbackUsed),
		attribute.Int("goldenloop.actions", len(result.Actions)),
	)
	return result
}

// safeFallbackActions derives guaranteed-valid actions from what the
// answer already contains: its top cited source and extracted values.
func safeFallbackActions(synthesis *datatypes.SynthesisResult, keyValues []string) []datatypes.CandidateAction {
	var actions []datatypes.CandidateAction

	if len(synthesis.SourcesCited) > 0 {
		ref := synthesis.SourcesCited[0].Reference
		actions = append(actions, datatypes.CandidateAction{
			Id:          uuid.NewString(),
			Label:       "Approfondisci la fonte principale",
			Icon:        "book",
			Prompt:      fmt.Sprintf("Illustra nel dettaglio cosa prevede %s in relazione alla mia domanda.", ref),
			SourceBasis: ref,
		})
	}
	if len(keyValues) > 0 {
		actions = append(actions, datatypes.CandidateAction{
			Id:          uuid.NewString(),
			Label:       "Verifica i valori applicabili",
			Icon:        "calculator",
			Prompt:      fmt.Sprintf("Verifica come si applicano al mio caso questi valori: %s.", keyValues[0]),
			SourceBasis: keyValues[0],
		})
	}
	if len(actions) == 0 {
		actions = append(actions, datatypes.CandidateAction{
			Id:     uuid.NewString(),
			Label:  "Riformula con piu dettagli",
			Icon:   "document",
			Prompt: "Ripeti l'analisi considerando questi dettagli aggiuntivi del mio caso: ",
		})
	}
	return actions
}
