// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides the orchestrator's runtime configuration.
//
// # Description
//
// Configuration is layered: hard-coded safe defaults, overridden by an
// optional yaml file (NORMA_CONFIG_PATH), overridden by environment
// variables for a few operational knobs. Invalid or missing configuration
// never fails startup; each bad value is corrected to its default with a
// logged warning. A watcher can reload the file on change so weight tables
// and loop parameters are tunable without a restart.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Types
// =============================================================================

// TierConfig maps one model tier to its primary and fallback providers.
type TierConfig struct {
	// Provider is "openai", "anthropic" or "ollama".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// FallbackProvider/FallbackModel are used when the primary is
	// unavailable (auth failure, rate limit, open breaker). Empty means
	// no fallback configured for this tier.
	FallbackProvider string `yaml:"fallback_provider"`
	FallbackModel    string `yaml:"fallback_model"`

	TimeoutMs   int     `yaml:"timeout_ms"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// PricePerKTokEUR is the approximate blended price used by the cost
	// tracker, EUR per 1000 tokens.
	PricePerKTokEUR float64 `yaml:"price_per_ktok_eur"`
}

// RRFConfig holds the reciprocal-rank-fusion parameters.
type RRFConfig struct {
	K int `yaml:"k"`

	// Weights maps strategy name (lexical, entity, vector, hyde) to its
	// fusion weight.
	Weights map[string]float64 `yaml:"weights"`

	// RecencyBoost is the multiplier applied to documents published in
	// the last RecencyWindowMonths (1.5 = +50%).
	RecencyBoost        float64 `yaml:"recency_boost"`
	RecencyWindowMonths int     `yaml:"recency_window_months"`

	TopK int `yaml:"top_k"`
}

// GoldenLoopConfig bounds the validate/regenerate loop.
type GoldenLoopConfig struct {
	MaxRegenerations  int     `yaml:"max_regenerations"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms"`

	// MinValidActions is the survival threshold below which the
	// regenerator fires.
	MinValidActions int `yaml:"min_valid_actions"`
}

// PipelineConfig holds cross-stage timeouts.
type PipelineConfig struct {
	// RequestTimeoutMs is the overall request deadline.
	RequestTimeoutMs int `yaml:"request_timeout_ms"`

	// RouterTimeoutMs, RetrievalTimeoutMs etc. are per-call budgets.
	RouterTimeoutMs    int `yaml:"router_timeout_ms"`
	ExpansionTimeoutMs int `yaml:"expansion_timeout_ms"`
	StrategyTimeoutMs  int `yaml:"strategy_timeout_ms"`
	ReasoningTimeoutMs int `yaml:"reasoning_timeout_ms"`
	SynthesisTimeoutMs int `yaml:"synthesis_timeout_ms"`
}

// Config is the full orchestrator configuration.
type Config struct {
	// Tiers maps tier name (fast, standard, advanced) to its providers.
	Tiers map[string]TierConfig `yaml:"tiers"`

	RRF RRFConfig `yaml:"rrf"`

	// HierarchyWeights overrides the built-in authority multipliers,
	// keyed by source type (law, decree, circular, ...).
	HierarchyWeights map[string]float64 `yaml:"hierarchy_weights"`

	GoldenLoop GoldenLoopConfig `yaml:"golden_loop"`

	Pipeline PipelineConfig `yaml:"pipeline"`
}

// =============================================================================
// Defaults and Loading
// =============================================================================

// Default returns the hard-coded safe configuration.
func Default() *Config {
	return &Config{
		Tiers: map[string]TierConfig{
			"fast": {
				Provider: "openai", Model: "gpt-4o-mini",
				FallbackProvider: "ollama", FallbackModel: "llama3.1",
				TimeoutMs: 5000, Temperature: 0.1, MaxTokens: 1024,
				PricePerKTokEUR: 0.0006,
			},
			"standard": {
				Provider: "openai", Model: "gpt-4o",
				FallbackProvider: "anthropic", FallbackModel: "claude-3-5-sonnet-20240620",
				TimeoutMs: 20000, Temperature: 0.2, MaxTokens: 4096,
				PricePerKTokEUR: 0.01,
			},
			"advanced": {
				Provider: "anthropic", Model: "claude-3-5-sonnet-20240620",
				FallbackProvider: "openai", FallbackModel: "gpt-4o",
				TimeoutMs: 45000, Temperature: 0.3, MaxTokens: 8192,
				PricePerKTokEUR: 0.014,
			},
		},
		RRF: RRFConfig{
			K: 60,
			Weights: map[string]float64{
				"lexical": 0.3,
				"entity":  0.2,
				"vector":  0.4,
				"hyde":    0.3,
			},
			RecencyBoost:        1.5,
			RecencyWindowMonths: 12,
			TopK:                10,
		},
		HierarchyWeights: nil, // built-in table applies
		GoldenLoop: GoldenLoopConfig{
			MaxRegenerations:  2,
			InitialBackoffMs:  100,
			BackoffMultiplier: 2.0,
			MaxBackoffMs:      1000,
			MinValidActions:   2,
		},
		Pipeline: PipelineConfig{
			RequestTimeoutMs:   90000,
			RouterTimeoutMs:    getEnvInt("ROUTER_TIMEOUT_MS", 2000),
			ExpansionTimeoutMs: 3000,
			StrategyTimeoutMs:  450,
			ReasoningTimeoutMs: 30000,
			SynthesisTimeoutMs: 30000,
		},
	}
}

// Load reads the yaml file at path and merges it over the defaults.
//
// # Description
//
// Load never fails: a missing file, unreadable file, or unparsable yaml
// yields the defaults with a logged warning. Individual invalid values
// (zero or negative where a positive is required) are corrected per-field.
//
// # Example
//
//	cfg := config.Load(os.Getenv("NORMA_CONFIG_PATH"))
func Load(path string) *Config {
	cfg := Default()
	if path == "" {
		slog.Info("No config path set, using built-in defaults")
		return cfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Config file unreadable, using built-in defaults", "path", path, "error", err)
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Config file unparsable, using built-in defaults", "path", path, "error", err)
		return Default()
	}

	return validate(cfg)
}

// validate corrects invalid values field by field, logging each fix.
func validate(cfg *Config) *Config {
	def := Default()

	if cfg.RRF.K <= 0 {
		slog.Warn("Invalid rrf.k, using default", "provided", cfg.RRF.K, "default", def.RRF.K)
		cfg.RRF.K = def.RRF.K
	}
	if len(cfg.RRF.Weights) == 0 {
		cfg.RRF.Weights = def.RRF.Weights
	}
	if cfg.RRF.RecencyBoost < 1.0 {
		slog.Warn("Invalid rrf.recency_boost, using default",
			"provided", cfg.RRF.RecencyBoost, "default", def.RRF.RecencyBoost)
		cfg.RRF.RecencyBoost = def.RRF.RecencyBoost
	}
	if cfg.RRF.RecencyWindowMonths <= 0 {
		cfg.RRF.RecencyWindowMonths = def.RRF.RecencyWindowMonths
	}
	if cfg.RRF.TopK <= 0 {
		slog.Warn("Invalid rrf.top_k, using default", "provided", cfg.RRF.TopK, "default", def.RRF.TopK)
		cfg.RRF.TopK = def.RRF.TopK
	}

	if cfg.GoldenLoop.MaxRegenerations < 0 {
		slog.Warn("Invalid golden_loop.max_regenerations, using default",
			"provided", cfg.GoldenLoop.MaxRegenerations, "default", def.GoldenLoop.MaxRegenerations)
		cfg.GoldenLoop.MaxRegenerations = def.GoldenLoop.MaxRegenerations
	}
	if cfg.GoldenLoop.InitialBackoffMs <= 0 {
		cfg.GoldenLoop.InitialBackoffMs = def.GoldenLoop.InitialBackoffMs
	}
	if cfg.GoldenLoop.BackoffMultiplier < 1.0 {
		cfg.GoldenLoop.BackoffMultiplier = def.GoldenLoop.BackoffMultiplier
	}
	if cfg.GoldenLoop.MaxBackoffMs < cfg.GoldenLoop.InitialBackoffMs {
		cfg.GoldenLoop.MaxBackoffMs = def.GoldenLoop.MaxBackoffMs
	}
	if cfg.GoldenLoop.MinValidActions <= 0 {
		cfg.GoldenLoop.MinValidActions = def.GoldenLoop.MinValidActions
	}

	if len(cfg.Tiers) == 0 {
		slog.Warn("No tiers configured, using defaults")
		cfg.Tiers = def.Tiers
	}
	for name, tier := range cfg.Tiers {
		if tier.Provider == "" || tier.Model == "" {
			slog.Warn("Tier missing provider/model, replacing with default tier", "tier", name)
			if d, ok := def.Tiers[name]; ok {
				cfg.Tiers[name] = d
			} else {
				delete(cfg.Tiers, name)
			}
			continue
		}
		if tier.TimeoutMs <= 0 {
			tier.TimeoutMs = 20000
			cfg.Tiers[name] = tier
		}
	}

	if cfg.Pipeline.RequestTimeoutMs <= 0 {
		cfg.Pipeline.RequestTimeoutMs = def.Pipeline.RequestTimeoutMs
	}
	if cfg.Pipeline.StrategyTimeoutMs <= 0 {
		cfg.Pipeline.StrategyTimeoutMs = def.Pipeline.StrategyTimeoutMs
	}
	if cfg.Pipeline.RouterTimeoutMs <= 0 {
		cfg.Pipeline.RouterTimeoutMs = def.Pipeline.RouterTimeoutMs
	}
	if cfg.Pipeline.ExpansionTimeoutMs <= 0 {
		cfg.Pipeline.ExpansionTimeoutMs = def.Pipeline.ExpansionTimeoutMs
	}
	if cfg.Pipeline.ReasoningTimeoutMs <= 0 {
		cfg.Pipeline.ReasoningTimeoutMs = def.Pipeline.ReasoningTimeoutMs
	}
	if cfg.Pipeline.SynthesisTimeoutMs <= 0 {
		cfg.Pipeline.SynthesisTimeoutMs = def.Pipeline.SynthesisTimeoutMs
	}

	return cfg
}

// HierarchyWeight resolves the authority multiplier for a source type,
// preferring the configured override table.
func (c *Config) HierarchyWeight(sourceType string, builtin float64) float64 {
	if c == nil || c.HierarchyWeights == nil {
		return builtin
	}
	if w, ok := c.HierarchyWeights[sourceType]; ok && w > 0 {
		return w
	}
	return builtin
}

// getEnvInt returns an environment variable as int, or defaultVal if not
// set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// =============================================================================
// Hot Reload
// =============================================================================

// Store holds the live configuration and supports atomic replacement on
// file change.
//
// # Thread Safety
//
// Store is safe for concurrent use. Get returns the current snapshot;
// callers must not mutate it.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the current configuration snapshot.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// set replaces the snapshot.
func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Watch reloads the config file whenever it changes, until the watcher
// fails or the done channel closes. Intended to run as a goroutine.
//
// # Limitations
//
//   - Editors that replace the file (rename+create) emit Create events;
//     both Write and Create trigger a reload.
func (s *Store) Watch(path string, done <-chan struct{}) error {
	if path == "" {
		return fmt.Errorf("no config path to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	slog.Info("Watching config file for changes", "path", path)
	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				slog.Info("Config file changed, reloading", "path", path)
				s.set(Load(path))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}
