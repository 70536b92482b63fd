// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command orchestrator starts the Driftwood chat orchestrator HTTP
// server.
//
// Configuration is read from environment variables, with a .env file
// loaded first if one is present in the working directory.
//
// # Environment Variables
//
//   - DRIFTWOOD_PORT: HTTP server port (default: 12110)
//   - OLLAMA_BASE_URL: Primary Ollama endpoint (default: http://localhost:11434)
//   - OLLAMA_BASE_URL_LOCAL: Fallback Ollama endpoint (optional)
//   - OLLAMA_MODEL: Default generation model (default: llama3)
//   - EMBEDDING_MODEL: Embedding model (default: nomic-embed-text)
//   - EMBEDDING_DIM: Embedding dimensionality (default: 768)
//   - WEAVIATE_SERVICE_URL: Weaviate vector store URL (optional)
//   - CONVERTER_SERVICE_URL: Document converter service URL (optional)
//   - WEB_SEARCH_ENDPOINT: Web search API override (optional)
//   - WEB_SEARCH_KEY: Web search bearer key (optional, disables search when unset)
//   - DATA_DIR: SQLite data directory (default: data)
//   - UPLOAD_DIR: Attachment storage directory (default: uploads)
//   - HISTORY_WINDOW: Prior turns replayed per generation (default: 5)
//   - RAG_TOP_K: Fragments retrieved per generation turn (default: 5)
//   - SEARCH_TOP_K: Fragments returned by explicit search (default: 10)
//   - DRIFTWOOD_API_KEY: Bearer secret for the /api surface (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector (default: localhost:4317)
//   - GIN_MODE: Gin framework mode (debug, release, test)
//   - LOG_LEVEL: Minimum log level (debug, info, warn, error; default: info)
//   - LOG_FORMAT: Log output format (json, text; default: json)
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	./orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/tidewater-ai/driftwood/pkg/logging"
	"github.com/tidewater-ai/driftwood/services/orchestrator"
)

func main() {
	// Optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logging.Setup(logging.FromEnv("orchestrator"))

	cfg := orchestrator.Config{
		Port:              getEnvInt("DRIFTWOOD_PORT", 12110),
		OllamaBaseURL:     os.Getenv("OLLAMA_BASE_URL"),
		OllamaFallbackURL: os.Getenv("OLLAMA_BASE_URL_LOCAL"),
		Model:             os.Getenv("OLLAMA_MODEL"),
		EmbeddingModel:    os.Getenv("EMBEDDING_MODEL"),
		EmbeddingDim:      getEnvInt("EMBEDDING_DIM", 0),
		WeaviateURL:       os.Getenv("WEAVIATE_SERVICE_URL"),
		ConverterURL:      os.Getenv("CONVERTER_SERVICE_URL"),
		WebSearchEndpoint: os.Getenv("WEB_SEARCH_ENDPOINT"),
		WebSearchKey:      os.Getenv("WEB_SEARCH_KEY"),
		DataDir:           os.Getenv("DATA_DIR"),
		UploadDir:         os.Getenv("UPLOAD_DIR"),
		HistoryWindow:     getEnvInt("HISTORY_WINDOW", 0),
		RAGTopK:           getEnvInt("RAG_TOP_K", 0),
		SearchTopK:        getEnvInt("SEARCH_TOP_K", 0),
		APIKey:            os.Getenv("DRIFTWOOD_API_KEY"),
		OTelEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		GinMode:           os.Getenv("GIN_MODE"),
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"weaviate_url", cfg.WeaviateURL,
		"converter_url", cfg.ConverterURL,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
