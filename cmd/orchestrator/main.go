// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the NormaCore orchestrator HTTP server.
//
// This is the main entry point for the containerized orchestrator
// service. It reads configuration from environment variables and starts
// the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - ORCHESTRATOR_CONFIG: YAML tier/pipeline config path (default: /app/config/orchestrator.yaml)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional; without it retrieval is disabled)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: norma-otel-collector:4317)
//   - EMBEDDING_MODEL_NAME: OpenAI embedding model (default: text-embedding-3-small)
//   - MODEL_RPS: outbound LLM request rate limit (default: 5)
//   - LOG_DIR: directory for local JSON log files (optional)
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator
//
//	# Or via container
//	podman-compose up orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/NormaAI/NormaCore/pkg/logging"
	"github.com/NormaAI/NormaCore/services/orchestrator"
)

func main() {
	// Structured JSON logging to stdout, plus an optional local file
	// when LOG_DIR is set.
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("LOG_DIR"),
		Service: "orchestrator",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Build configuration from environment variables
	cfg := orchestrator.Config{
		Port:           getEnvInt("ORCHESTRATOR_PORT", 12210),
		ConfigPath:     getEnvString("ORCHESTRATOR_CONFIG", "/app/config/orchestrator.yaml"),
		WeaviateURL:    os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint:   getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "norma-otel-collector:4317"),
		EmbeddingModel: getEnvString("EMBEDDING_MODEL_NAME", "text-embedding-3-small"),
		ModelRPS:       getEnvFloat("MODEL_RPS", 5),
		DisableMetrics: getEnvBool("ORCHESTRATOR_DISABLE_METRICS", false),
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"config_path", cfg.ConfigPath,
		"weaviate_url", cfg.WeaviateURL,
	)

	// Create orchestrator with default (no-op) extension options.
	// Multi-studio deployments pass custom ServiceOptions here.
	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("invalid integer environment variable, using default",
			"key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		slog.Warn("invalid boolean environment variable, using default",
			"key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("invalid float environment variable, using default",
			"key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}
