// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator wires the Driftwood chat service together.
//
// The main Service type coordinates every component: the SQLite-backed
// conversation store, the Weaviate fragment index, the Ollama generation
// and embedding clients, the ingestion pipeline, HTTP routing, and the
// observability infrastructure (OTLP tracing plus Prometheus metrics).
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12110, WeaviateURL: "http://localhost:8080"}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Every external dependency except Ollama is optional: without Weaviate
// the service falls back to an in-process fragment index, without a
// converter service only plain-text uploads are accepted, and without a
// web search key the search context source is disabled.
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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tidewater-ai/driftwood/services/llm"
	"github.com/tidewater-ai/driftwood/services/orchestrator/conversation"
	"github.com/tidewater-ai/driftwood/services/orchestrator/datatypes"
	"github.com/tidewater-ai/driftwood/services/orchestrator/handlers"
	"github.com/tidewater-ai/driftwood/services/orchestrator/ingestion"
	"github.com/tidewater-ai/driftwood/services/orchestrator/janitor"
	"github.com/tidewater-ai/driftwood/services/orchestrator/middleware"
	"github.com/tidewater-ai/driftwood/services/orchestrator/observability"
	"github.com/tidewater-ai/driftwood/services/orchestrator/retrieval"
	"github.com/tidewater-ai/driftwood/services/orchestrator/routes"
	"github.com/tidewater-ai/driftwood/services/orchestrator/services"
)

// serviceName identifies this process in traces and HTTP spans.
const serviceName = "driftwood-orchestrator"

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the orchestrator lifecycle contract.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for integration tests.
	// Callers must not modify the router.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration.
//
// # Description
//
// Centralizes all settings for the service. Zero values get defaults
// applied by New(), so Config{} is a runnable local configuration as
// long as an Ollama instance is reachable.
//
// # Fields
//
//   - Port: HTTP listen port. Default: 12110.
//   - OllamaBaseURL: Primary Ollama endpoint. Default: http://localhost:11434.
//   - OllamaFallbackURL: Endpoint probed when the primary is unreachable.
//   - Model: Default generation model. Default: "llama3".
//   - EmbeddingModel: Embedding model name. Default: "nomic-embed-text".
//   - EmbeddingDim: Embedding vector dimensionality. Default: 768.
//   - WeaviateURL: Vector store URL. Empty selects the in-process index.
//   - ConverterURL: Document converter service URL. Empty restricts
//     uploads to plain-text formats.
//   - WebSearchEndpoint: Override for the hosted web search API.
//   - WebSearchKey: Bearer key for web search. Empty disables the source.
//   - DataDir: SQLite data directory. Default: "data".
//   - UploadDir: Attachment storage directory. Default: "uploads".
//   - HistoryWindow: Prior turns replayed per generation. Default: 5.
//   - RAGTopK: Fragments retrieved per generation turn. Default: 5.
//   - SearchTopK: Fragments returned by explicit search. Default: 10.
//   - APIKey: Shared bearer secret for all endpoints. Empty disables auth.
//   - OTelEndpoint: OTLP gRPC collector. Default: "localhost:4317".
//   - JanitorInterval: Orphaned-fragment sweep interval. Default: 1 hour.
//   - GinMode: Gin framework mode ("debug", "release", "test").
type Config struct {
	Port int

	OllamaBaseURL     string
	OllamaFallbackURL string
	Model             string
	EmbeddingModel    string
	EmbeddingDim      int

	WeaviateURL  string
	ConverterURL string

	WebSearchEndpoint string
	WebSearchKey      string

	DataDir   string
	UploadDir string

	HistoryWindow int
	RAGTopK       int
	SearchTopK    int

	APIKey       string
	OTelEndpoint string

	JanitorInterval time.Duration

	GinMode string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12110
	}
	if cfg.OllamaBaseURL == "" {
		cfg.OllamaBaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = 5
	}
	if cfg.RAGTopK == 0 {
		cfg.RAGTopK = retrieval.DefaultTopK
	}
	if cfg.SearchTopK == 0 {
		cfg.SearchTopK = 10
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = 1 * time.Hour
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service is the production Service implementation.
//
// All fields are read-only after New() returns, so the type is safe for
// concurrent use without additional locking.
type service struct {
	config        Config
	router        *gin.Engine
	store         *conversation.Store
	vectors       retrieval.FragmentStore
	llmClient     *llm.OllamaClient
	embedder      llm.Embedder
	pipeline      *ingestion.Pipeline
	janitor       *janitor.Janitor
	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// New creates a ready-to-run orchestrator Service.
//
// # Description
//
// Initialization order:
//  1. Apply configuration defaults.
//  2. Start OTLP tracing and register Prometheus metrics.
//  3. Connect the vector store (Weaviate, or in-process fallback).
//  4. Open the SQLite conversation store.
//  5. Resolve the Ollama endpoint and create generation and embedding
//     clients.
//  6. Assemble retrieval, context building, and ingestion.
//  7. Start the orphaned-fragment janitor.
//  8. Register HTTP routes.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready to Run().
//   - error: Non-nil if a required component fails to initialize.
//
// # Limitations
//
//   - The Ollama endpoint is resolved once at startup, not per request.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	observability.InitMetrics()

	s.initVectorStore()

	s.store, err = conversation.NewStore(s.config.DataDir)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	if err := s.initLLMClients(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM clients: %w", err)
	}

	engine := retrieval.NewEngine(s.embedder, s.vectors, slog.Default())

	var searcher services.WebSearcher
	if s.config.WebSearchKey != "" {
		searcher = services.NewOllamaWebSearch(s.config.WebSearchEndpoint, s.config.WebSearchKey)
		slog.Info("Web search source enabled")
	}

	builder, err := services.NewContextBuilder(s.store, engine, searcher,
		s.llmClient, s.config.RAGTopK, slog.Default())
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create context builder: %w", err)
	}

	converter := ingestion.NewHTTPConverter(s.config.ConverterURL)
	s.pipeline, err = ingestion.NewPipeline(converter, s.embedder, s.vectors, slog.Default())
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}

	if err := s.initJanitor(); err != nil {
		slog.Warn("Fragment janitor initialization failed", "error", err)
		// Not fatal. Orphan cleanup still happens on explicit deletes.
	}

	if err := s.initRouter(builder, engine); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until it stops. Resources are
// released when Run returns.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port, "model", s.config.Model)

	return s.router.Run(addr)
}

// Router returns the configured Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer sets up the OTLP trace exporter.
//
// Uses an insecure gRPC connection, appropriate for collectors on
// internal networks. Returns the shutdown function.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initVectorStore connects to Weaviate when a URL is configured and
// falls back to the in-process index otherwise. Never fatal: a chat
// service without a vector store still answers, it just cannot ground
// answers in documents indexed by a previous run.
func (s *service) initVectorStore() {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, using in-process fragment index")
		s.vectors = retrieval.NewMemoryStore()
		return
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("Invalid Weaviate URL, using in-process fragment index", "url", weaviateURL)
		s.vectors = retrieval.NewMemoryStore()
		return
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Warn("Weaviate client creation failed, using in-process fragment index",
			"error", err)
		s.vectors = retrieval.NewMemoryStore()
		return
	}

	datatypes.EnsureWeaviateSchema(client)

	store, err := retrieval.NewWeaviateStore(client)
	if err != nil {
		slog.Warn("Weaviate store creation failed, using in-process fragment index",
			"error", err)
		s.vectors = retrieval.NewMemoryStore()
		return
	}

	s.vectors = store
	slog.Info("Weaviate fragment store initialized", "url", weaviateURL)
}

// initLLMClients resolves the Ollama endpoint and creates the
// generation and embedding clients against it.
func (s *service) initLLMClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	baseURL := llm.ResolveBaseURL(ctx, s.config.OllamaBaseURL, s.config.OllamaFallbackURL)

	client, err := llm.NewOllamaClient(baseURL, s.config.Model)
	if err != nil {
		return fmt.Errorf("creating Ollama client: %w", err)
	}
	s.llmClient = client

	embedder, err := llm.NewEmbeddingClient(baseURL, s.config.EmbeddingModel, s.config.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("creating embedding client: %w", err)
	}
	s.embedder = embedder

	slog.Info("Ollama clients initialized",
		"base_url", baseURL,
		"model", s.config.Model,
		"embedding_model", s.config.EmbeddingModel,
	)
	return nil
}

// initJanitor starts the background sweep for orphaned fragments.
func (s *service) initJanitor() error {
	j, err := janitor.New(s.vectors, s.store,
		janitor.Config{Interval: s.config.JanitorInterval}, slog.Default())
	if err != nil {
		return err
	}
	if err := j.Start(context.Background()); err != nil {
		return err
	}
	s.janitor = j
	return nil
}

// initRouter builds the handlers and registers all routes.
func (s *service) initRouter(builder *services.ContextBuilder, engine *retrieval.Engine) error {
	chatHandler, err := handlers.NewChatHandler(handlers.ChatHandlerConfig{
		Store:   s.store,
		Builder: builder,
		Engine:  engine,
		LLMFor: func(model string) llm.LLMClient {
			if model == "" {
				return s.llmClient
			}
			return s.llmClient.WithModel(model)
		},
		DefaultModel:  s.config.Model,
		HistoryWindow: s.config.HistoryWindow,
		SearchTopK:    s.config.SearchTopK,
	})
	if err != nil {
		return err
	}

	convoHandler, err := handlers.NewConversationHandler(s.store, s.pipeline, slog.Default())
	if err != nil {
		return err
	}

	docHandler, err := handlers.NewDocumentHandler(s.store, s.pipeline, s.config.UploadDir, slog.Default())
	if err != nil {
		return err
	}

	modelsHandler, err := handlers.NewModelsHandler(s.llmClient, slog.Default())
	if err != nil {
		return err
	}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, routes.Handlers{
		Chat:          chatHandler,
		Conversations: convoHandler,
		Documents:     docHandler,
		Models:        modelsHandler,
	}, middleware.APIKeyAuth(s.config.APIKey))
	return nil
}

// cleanup releases resources. Called when Run() exits or when New()
// fails part-way through initialization.
func (s *service) cleanup() {
	if s.janitor != nil {
		s.janitor.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("conversation store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	handlers.PurgeAllSecureMemory()
}
