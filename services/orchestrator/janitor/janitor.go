// Copyright (C) 2026 Tidewater AI (oss@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package janitor removes vector-store fragments whose source attachment
// no longer exists.
//
// Delete-chat and delete-attachment operations already clean up their own
// fragments, but a crash between the SQLite delete and the vector-store
// delete can leave orphaned fragments behind. The janitor closes that gap
// with a periodic background sweep: enumerate indexed document IDs, check
// each against the attachments table, and drop the ones nothing owns.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tidewater-ai/driftwood/services/orchestrator/conversation"
)

// FragmentSweeper is the slice of the fragment store the janitor needs.
type FragmentSweeper interface {
	DocIDs(ctx context.Context) ([]string, error)
	DeleteByDocID(ctx context.Context, docID string) error
}

// AttachmentLookup resolves attachment rows by ID, skipping missing ones.
type AttachmentLookup interface {
	AttachmentsByIDs(ctx context.Context, ids []int64) ([]conversation.Attachment, error)
}

// Config holds janitor sweep settings.
//
// # Fields
//
//   - Interval: How often to run a sweep. Default: 1 hour.
//   - BatchSize: Maximum orphaned documents deleted per sweep. Default: 100.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultConfig returns production defaults: hourly sweeps capped at 100
// deletions per cycle.
func DefaultConfig() Config {
	return Config{
		Interval:  1 * time.Hour,
		BatchSize: 100,
	}
}

// SweepResult summarizes a single sweep cycle.
type SweepResult struct {
	StartTime time.Time
	EndTime   time.Time
	Indexed   int // distinct doc IDs found in the vector store
	Orphans   int // doc IDs with no backing attachment row
	Deleted   int // orphans successfully removed this cycle
	Skipped   int // doc IDs that could not be checked (bad format)
}

// DurationMs returns the sweep duration in whole milliseconds.
func (r SweepResult) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// Janitor periodically sweeps orphaned fragments from the vector store.
//
// Uses the ticker + done channel pattern for graceful shutdown. All public
// methods are safe for concurrent use.
type Janitor struct {
	store       FragmentSweeper
	attachments AttachmentLookup
	config      Config
	logger      *slog.Logger

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// New creates a janitor over the given fragment store and attachment
// lookup. Zero-valued config fields fall back to DefaultConfig values.
func New(store FragmentSweeper, attachments AttachmentLookup, config Config, logger *slog.Logger) (*Janitor, error) {
	if store == nil {
		return nil, fmt.Errorf("fragment sweeper is required")
	}
	if attachments == nil {
		return nil, fmt.Errorf("attachment lookup is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &Janitor{
		store:       store,
		attachments: attachments,
		config:      config,
		logger:      logger,
		done:        make(chan struct{}),
	}, nil
}

// Start launches the background sweep goroutine. Returns an error if the
// janitor is already running. The goroutine exits when Stop is called or
// the context is cancelled.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("janitor is already running")
	}
	j.running = true
	j.done = make(chan struct{})
	j.mu.Unlock()

	j.logger.Info("fragment janitor starting",
		"interval", j.config.Interval.String(),
		"batch_size", j.config.BatchSize,
	)

	go j.runLoop(ctx)
	return nil
}

// Stop signals the sweep goroutine to exit. Safe to call multiple times.
// Does not interrupt an in-progress sweep.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	j.logger.Info("fragment janitor stopping")
	close(j.done)
	j.running = false
}

// RunNow performs a sweep immediately without waiting for the next tick.
func (j *Janitor) RunNow(ctx context.Context) (SweepResult, error) {
	return j.sweep(ctx)
}

func (j *Janitor) runLoop(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	// First sweep runs immediately on start.
	j.executeSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("fragment janitor stopped", "reason", "context cancelled")
			return
		case <-j.done:
			j.logger.Info("fragment janitor stopped", "reason", "stop requested")
			return
		case <-ticker.C:
			j.executeSweep(ctx)
		}
	}
}

// executeSweep wraps sweep with logging so a failed cycle never kills
// the scheduler goroutine.
func (j *Janitor) executeSweep(ctx context.Context) {
	result, err := j.sweep(ctx)
	if err != nil {
		j.logger.Error("fragment sweep failed", "error", err)
		return
	}

	if result.Orphans > 0 || result.Skipped > 0 {
		j.logger.Info("fragment sweep completed",
			"indexed", result.Indexed,
			"orphans", result.Orphans,
			"deleted", result.Deleted,
			"skipped", result.Skipped,
			"duration_ms", result.DurationMs(),
		)
	} else {
		j.logger.Debug("fragment sweep completed", "indexed", result.Indexed)
	}
}

// sweep runs one cleanup cycle: list indexed doc IDs, resolve them
// against the attachments table, and delete the ones with no owner.
func (j *Janitor) sweep(ctx context.Context) (SweepResult, error) {
	result := SweepResult{StartTime: time.Now()}

	docIDs, err := j.store.DocIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("listing indexed doc IDs: %w", err)
	}
	result.Indexed = len(docIDs)
	if len(docIDs) == 0 {
		result.EndTime = time.Now()
		return result, nil
	}

	attIDs := make([]int64, 0, len(docIDs))
	numeric := make([]string, 0, len(docIDs))
	for _, docID := range docIDs {
		id, err := strconv.ParseInt(docID, 10, 64)
		if err != nil {
			// Not ours to judge. Leave unrecognized IDs alone.
			j.logger.Warn("skipping non-numeric doc ID", "doc_id", docID)
			result.Skipped++
			continue
		}
		attIDs = append(attIDs, id)
		numeric = append(numeric, docID)
	}

	existing, err := j.attachments.AttachmentsByIDs(ctx, attIDs)
	if err != nil {
		return result, fmt.Errorf("resolving attachments: %w", err)
	}
	alive := make(map[string]struct{}, len(existing))
	for _, att := range existing {
		alive[strconv.FormatInt(att.ID, 10)] = struct{}{}
	}

	for _, docID := range numeric {
		if _, ok := alive[docID]; ok {
			continue
		}
		result.Orphans++
		if result.Deleted >= j.config.BatchSize {
			continue
		}
		if err := j.store.DeleteByDocID(ctx, docID); err != nil {
			j.logger.Warn("failed to delete orphaned fragments",
				"doc_id", docID, "error", err)
			continue
		}
		j.logger.Info("deleted orphaned fragments", "doc_id", docID)
		result.Deleted++
	}

	result.EndTime = time.Now()
	return result, nil
}
