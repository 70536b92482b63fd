// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes maps the HTTP surface onto the handler layer.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidewater-ai/driftwood/services/orchestrator/handlers"
)

// Handlers collects the handler structs the router dispatches to.
type Handlers struct {
	Chat          *handlers.ChatHandler
	Conversations *handlers.ConversationHandler
	Documents     *handlers.DocumentHandler
	Models        *handlers.ModelsHandler
}

// SetupRoutes registers every endpoint on the router. Middleware in
// apiMiddleware guards the /api group only, leaving /health and
// /metrics open for probes and scrapers.
func SetupRoutes(router *gin.Engine, h Handlers, apiMiddleware ...gin.HandlerFunc) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api", apiMiddleware...)
	{
		chats := api.Group("/chats")
		{
			chats.POST("", h.Conversations.HandleCreateChat)
			chats.GET("", h.Conversations.HandleListChats)
			chats.GET("/:id", h.Conversations.HandleGetChat)
			chats.PATCH("/:id", h.Conversations.HandleUpdateChat)
			chats.DELETE("/:id", h.Conversations.HandleDeleteChat)

			// Streaming send; the chat is addressed in the body.
			chats.POST("/message", h.Chat.HandleSendMessage)
			chats.POST("/search_context", h.Chat.HandleSearchContext)
		}

		api.POST("/upload", h.Documents.HandleUpload)
		api.DELETE("/attachments/:id", h.Documents.HandleDeleteAttachment)

		api.GET("/models", h.Models.HandleListModels)

		api.POST("/tags", h.Conversations.HandleCreateTag)
		api.GET("/tags", h.Conversations.HandleListTags)
	}
}
