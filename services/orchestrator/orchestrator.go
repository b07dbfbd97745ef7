// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the NormaCore query-answering service.
//
// The package wires the full pipeline — query router, expansion,
// retrieval fusion, complexity classification, model orchestration,
// reasoning, synthesis and the validation loop — behind a Gin HTTP
// server, together with the ambient infrastructure: OTLP tracing,
// Prometheus metrics, hot-reloaded configuration and circuit-breaker
// guarded provider clients.
//
// # Deployment Integration
//
// The orchestrator supports dependency injection via
// extensions.ServiceOptions. The open source build runs with no-op
// defaults (anonymous local professional, no audit trail); multi-studio
// deployments inject their own AuthProvider and AuditLogger.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/NormaAI/NormaCore/pkg/extensions"
	"github.com/NormaAI/NormaCore/services/llm"
	"github.com/NormaAI/NormaCore/services/orchestrator/complexity"
	"github.com/NormaAI/NormaCore/services/orchestrator/config"
	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
	"github.com/NormaAI/NormaCore/services/orchestrator/expansion"
	"github.com/NormaAI/NormaCore/services/orchestrator/goldenloop"
	"github.com/NormaAI/NormaCore/services/orchestrator/observability"
	"github.com/NormaAI/NormaCore/services/orchestrator/pipeline"
	"github.com/NormaAI/NormaCore/services/orchestrator/reasoning"
	"github.com/NormaAI/NormaCore/services/orchestrator/retrieval"
	"github.com/NormaAI/NormaCore/services/orchestrator/router"
	"github.com/NormaAI/NormaCore/services/orchestrator/routes"
	"github.com/NormaAI/NormaCore/services/orchestrator/synthesis"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine, primarily for
	// integration testing where direct HTTP calls are needed. Callers
	// must not modify routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options. All fields are
// optional with defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12210.
	Port int

	// ConfigPath is the YAML tier/pipeline configuration file. A
	// missing or malformed file falls back to built-in safe defaults.
	// Default: "/app/config/orchestrator.yaml".
	ConfigPath string

	// WeaviateURL is the Weaviate vector database URL. If empty, the
	// service runs in lightweight mode: chat works, retrieval is
	// disabled. Example: "http://localhost:8080".
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "norma-otel-collector:4317".
	OTelEndpoint string

	// EmbeddingModel names the OpenAI embedding model for vector and
	// hyde retrieval. Default: "text-embedding-3-small".
	EmbeddingModel string

	// ModelRPS is the outbound request rate limit across all
	// providers. Default: 5.
	ModelRPS float64

	// DisableMetrics turns off the Prometheus metrics endpoint and
	// pipeline instrumentation. Metrics are on by default.
	DisableMetrics bool
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = "/app/config/orchestrator.yaml"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "norma-otel-collector:4317"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.ModelRPS <= 0 {
		cfg.ModelRPS = 5
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config         Config
	opts           extensions.ServiceOptions
	router         *gin.Engine
	store          *config.Store
	health         *llm.HealthService
	costs          *complexity.CostTracker
	pipeline       *pipeline.Pipeline
	weaviateClient *weaviate.Client
	tracerCleanup  func(context.Context)
	watchDone      chan struct{}
}

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and Prometheus metrics
//  3. Loads the YAML configuration and starts the hot-reload watcher
//  4. Creates the Weaviate client if a URL is provided
//  5. Registers every configured provider client behind the health
//     service and starts periodic probing
//  6. Assembles the pipeline and HTTP routes
//
// If opts is nil, extensions.DefaultOptions() is used.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension options for deployment features. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service.
//   - error: Non-nil if initialization fails.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.PipelineMetrics
	if !s.config.DisableMetrics {
		metrics = observability.InitMetrics()
	}

	// Tier and pipeline configuration with hot reload. Load never
	// fails: a bad file degrades to built-in safe defaults.
	loaded := config.Load(s.config.ConfigPath)
	s.store = config.NewStore(loaded)
	s.watchDone = make(chan struct{})
	go func() {
		if err := s.store.Watch(s.config.ConfigPath, s.watchDone); err != nil {
			slog.Warn("config hot reload disabled",
				"path", s.config.ConfigPath, "error", err)
		}
	}()

	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, running in lightweight mode",
			"error", err)
		// Not fatal - continue without retrieval.
	}

	s.health = llm.NewHealthService()
	s.registerTierClients(loaded)

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for name, err := range s.health.CheckAll(checkCtx) {
		if err != nil {
			slog.Warn("LLM provider failed startup probe", "client", name, "error", err)
		}
	}
	checkCancel()
	go s.health.StartPeriodic(context.Background(), 5*time.Minute)

	s.costs = complexity.NewCostTracker()
	s.pipeline = s.buildPipeline(metrics)

	s.initRouter(metrics)

	return s, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run starts the HTTP server. Blocks until the server stops.
func (s *service) Run() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("starting the orchestrator server", "addr", addr)

	err := s.router.Run(addr)
	s.cleanup()
	return err
}

// Router returns the configured Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// cleanup releases background resources: the config watcher and the
// OTLP exporter.
func (s *service) cleanup() {
	if s.watchDone != nil {
		close(s.watchDone)
		s.watchDone = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer sets up the OTLP trace exporter for the configured
// collector. Uses an insecure gRPC connection, appropriate for internal
// networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("norma-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// initWeaviate creates the Weaviate client and ensures the schema. An
// empty or invalid URL leaves the client nil: the pipeline then runs
// without retrieval.
func (s *service) initWeaviate() error {
	// Sanitize: Trim quotes and whitespace just in case Podman passes them literally
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WeaviateURL not set or empty. Running in lightweight mode (chat only, no retrieval).")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL %q: %w", weaviateURL, err)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	s.weaviateClient = client
	datatypes.EnsureWeaviateSchema(client)
	return nil
}

// newLLMClient builds a provider client for one tier entry.
func newLLMClient(provider, model string) (llm.LLMClient, error) {
	switch provider {
	case "openai":
		return llm.NewOpenAIClient(model)
	case "anthropic", "claude":
		return llm.NewAnthropicClient(model)
	default:
		return llm.NewOllamaClient(model)
	}
}

// registerTierClients registers every provider/model pair the tier
// configuration references, deduplicated by client name.
func (s *service) registerTierClients(cfg *config.Config) {
	seen := make(map[string]bool)
	register := func(provider, model string) {
		if provider == "" || model == "" {
			return
		}
		name := provider + "/" + model
		if seen[name] {
			return
		}
		seen[name] = true

		client, err := newLLMClient(provider, model)
		if err != nil {
			slog.Warn("skipping unavailable LLM client", "client", name, "error", err)
			return
		}
		s.health.Register(client)
		slog.Info("registered LLM client", "client", client.Name())
	}

	for _, tier := range cfg.Tiers {
		register(tier.Provider, tier.Model)
		register(tier.FallbackProvider, tier.FallbackModel)
	}
}

// buildPipeline assembles the stage components around the shared config
// store and model orchestrator.
func (s *service) buildPipeline(metrics *observability.PipelineMetrics) *pipeline.Pipeline {
	models := complexity.NewModelOrchestrator(s.health, s.store, s.config.ModelRPS, s.costs)

	// utilityGenerate serves the cheap internal calls: routing,
	// expansion, complexity grading and action regeneration all run on
	// the fast tier regardless of the user-facing selection.
	utilityGenerate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		selection, err := models.Select(datatypes.ComplexityClassification{
			Complexity: datatypes.ComplexitySimple,
		})
		if err != nil {
			return "", err
		}
		return models.Generate(ctx, selection, prompt, maxTokens)
	}

	pipelineCfg := s.store.Get().Pipeline

	routerCfg := router.DefaultConfig()
	routerCfg.TimeoutMs = pipelineCfg.RouterTimeoutMs
	queryRouter := router.New(router.GenerateFunc(utilityGenerate), routerCfg)

	expansionCfg := expansion.DefaultConfig()
	expansionCfg.TimeoutMs = pipelineCfg.ExpansionTimeoutMs
	expander := expansion.New(expansion.GenerateFunc(utilityGenerate), expansionCfg)

	var strategies []retrieval.SearchStrategy
	if s.weaviateClient != nil {
		strategies = append(strategies,
			retrieval.NewLexicalStrategy(s.weaviateClient),
			retrieval.NewEntityStrategy(s.weaviateClient))

		embedder, err := llm.NewOpenAIEmbedder(s.config.EmbeddingModel)
		if err != nil {
			slog.Warn("embedder unavailable, vector and hyde retrieval disabled",
				"model", s.config.EmbeddingModel, "error", err)
		} else {
			strategies = append(strategies,
				retrieval.NewVectorStrategy(s.weaviateClient, embedder),
				retrieval.NewHydeStrategy(s.weaviateClient, embedder))
		}
	}

	return pipeline.New(pipeline.Deps{
		Router:      queryRouter,
		Expander:    expander,
		Retrieval:   retrieval.NewService(s.store, strategies...),
		Classifier:  complexity.NewClassifier(complexity.GenerateFunc(utilityGenerate), pipelineCfg.RouterTimeoutMs),
		Models:      models,
		Engine:      reasoning.NewEngine(),
		Synthesizer: synthesis.NewSynthesizer(),
		Loop: goldenloop.NewController(
			goldenloop.NewValidator(),
			goldenloop.NewRegenerator(goldenloop.GenerateFunc(utilityGenerate)),
			s.store),
		Configs: s.store,
		Costs:   s.costs,
		Metrics: metrics,
	})
}

// initRouter builds the Gin engine with tracing middleware and all
// routes registered.
func (s *service) initRouter(metrics *observability.PipelineMetrics) {
	r := gin.Default()
	r.Use(otelgin.Middleware("norma-orchestrator"))

	routes.SetupRoutes(r, s.pipeline, metrics, s.health, s.store, s.costs, s.opts)
	s.router = r
}
