// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tidewater-ai/driftwood/services/llm"
)

// ModelLister lists the models available on the backend.
type ModelLister interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// ModelsHandler serves GET /api/models.
type ModelsHandler struct {
	lister ModelLister
	logger *slog.Logger
}

// NewModelsHandler builds the handler.
func NewModelsHandler(lister ModelLister, logger *slog.Logger) (*ModelsHandler, error) {
	if lister == nil {
		return nil, errors.New("model lister is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelsHandler{lister: lister, logger: logger}, nil
}

// HandleListModels returns the models the backend can serve.
func (h *ModelsHandler) HandleListModels(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleListModels")
	defer span.End()

	models, err := h.lister.ListModels(ctx)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list models", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "model backend unavailable"})
		return
	}
	span.SetAttributes(attribute.Int("models.count", len(models)))
	c.JSON(http.StatusOK, gin.H{"models": models})
}
