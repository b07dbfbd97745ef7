// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// =============================================================================
// Provider Health Service
// =============================================================================

// HealthService tracks the availability of registered LLM providers.
//
// # Description
//
// Each registered client is wrapped in a circuit breaker. All model calls
// should flow through Generate so that provider failures trip the breaker
// and the model orchestrator can switch to a fallback provider without
// waiting out further timeouts. CheckAll probes every provider with a
// one-token generation; run it at process start so a cold failure is
// detected before user traffic arrives, and periodically afterward via
// StartPeriodic.
//
// # Thread Safety
//
// HealthService is safe for concurrent use.
//
// # Example
//
//	health := llm.NewHealthService()
//	health.Register(primary)
//	health.Register(fallback)
//	if errs := health.CheckAll(ctx); len(errs) > 0 {
//	    slog.Warn("providers unhealthy at startup", "failures", len(errs))
//	}
//	go health.StartPeriodic(ctx, 5*time.Minute)
type HealthService struct {
	mu      sync.RWMutex
	clients map[string]*probedClient

	// probeTimeout bounds a single health probe.
	probeTimeout time.Duration
}

type probedClient struct {
	client  LLMClient
	breaker *gobreaker.CircuitBreaker[string]

	mu          sync.Mutex
	lastProbeOK bool
	lastProbeAt time.Time
	lastErr     error
}

// NewHealthService creates an empty health service.
func NewHealthService() *HealthService {
	return &HealthService{
		clients:      make(map[string]*probedClient),
		probeTimeout: 10 * time.Second,
	}
}

// Register adds a client to the health service, creating its breaker.
// Registering the same name twice replaces the previous entry.
func (s *HealthService) Register(client LLMClient) {
	name := client.Name()
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip after 3 consecutive failures; a single rate-limit
			// blip should not take a provider out of rotation.
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Provider breaker state change",
				"provider", name, "from", from.String(), "to", to.String())
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[name] = &probedClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
	}
}

// Generate runs a generation call through the named provider's breaker.
//
// # Outputs
//
//   - string: The completion.
//   - error: Provider error, or gobreaker.ErrOpenState when the breaker
//     is open (callers should treat that as "switch to fallback now").
func (s *HealthService) Generate(ctx context.Context, name, prompt string, params GenerationParams) (string, error) {
	s.mu.RLock()
	pc, ok := s.clients[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("provider %q not registered", name)
	}

	return pc.breaker.Execute(func() (string, error) {
		return pc.client.Generate(ctx, prompt, params)
	})
}

// Available reports whether the named provider is registered and its
// breaker is not open.
func (s *HealthService) Available(name string) bool {
	s.mu.RLock()
	pc, ok := s.clients[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return pc.breaker.State() != gobreaker.StateOpen
}

// CheckAll probes every registered provider once. Returns a map of
// provider name to error for the providers that failed; empty when all
// are healthy.
func (s *HealthService) CheckAll(ctx context.Context) map[string]error {
	s.mu.RLock()
	clients := make([]*probedClient, 0, len(s.clients))
	for _, pc := range s.clients {
		clients = append(clients, pc)
	}
	s.mu.RUnlock()

	failures := make(map[string]error)
	for _, pc := range clients {
		if err := s.probe(ctx, pc); err != nil {
			failures[pc.client.Name()] = err
		}
	}
	return failures
}

// probe issues a minimal one-token generation against the provider.
func (s *HealthService) probe(ctx context.Context, pc *probedClient) error {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	one := 1
	_, err := pc.breaker.Execute(func() (string, error) {
		return pc.client.Generate(probeCtx, "ok", GenerationParams{MaxTokens: &one})
	})

	pc.mu.Lock()
	pc.lastProbeOK = err == nil
	pc.lastProbeAt = time.Now()
	pc.lastErr = err
	pc.mu.Unlock()

	if err != nil {
		slog.Warn("Provider health probe failed", "provider", pc.client.Name(), "error", err)
		return fmt.Errorf("probe %s: %w", pc.client.Name(), err)
	}
	slog.Debug("Provider health probe ok", "provider", pc.client.Name())
	return nil
}

// StartPeriodic re-probes all providers on the given interval until ctx
// is canceled. Intended to run as a goroutine.
func (s *HealthService) StartPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if failures := s.CheckAll(ctx); len(failures) > 0 {
				slog.Warn("Periodic provider health check found failures", "count", len(failures))
			}
		}
	}
}
