// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging setup for Driftwood
// components.
//
// Built on the standard library slog package. Services call Setup once
// at startup; everything downstream uses the default slog logger with
// key-value pairs:
//
//	logging.Setup(logging.FromEnv("orchestrator"))
//	slog.Info("starting server", "port", port)
//
// # Log Levels
//
// Four levels, matching slog conventions:
//
//   - Debug: development troubleshooting, verbose output
//   - Info: normal operations (request start/end, state changes)
//   - Warn: recoverable issues (retry attempts, degraded mode)
//   - Error: operation failures where the system continues
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Config controls handler construction.
//
// # Fields
//
//   - Level: Minimum level emitted. Default: Info.
//   - Format: "json" or "text". Default: "json".
//   - Service: Attached as a `service` attribute on every record.
type Config struct {
	Level   slog.Level
	Format  string
	Service string
}

// FromEnv builds a Config from LOG_LEVEL and LOG_FORMAT.
//
// Unrecognized values fall back to the defaults (info, json), so a
// misconfigured environment degrades to normal logging instead of
// failing startup.
func FromEnv(service string) Config {
	return Config{
		Level:   ParseLevel(os.Getenv("LOG_LEVEL")),
		Format:  strings.ToLower(os.Getenv("LOG_FORMAT")),
		Service: service,
	}
}

// ParseLevel maps a level name to a slog.Level. Case-insensitive;
// unknown names mean Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the logger described by cfg, installs it as the slog
// default, and returns it.
func Setup(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	slog.SetDefault(logger)
	return logger
}
