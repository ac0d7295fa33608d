// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/docsentry/docsentry/rules"
)

// Pipeline is the analysis work a worker performs per dequeued item:
// discovery, rule evaluation, impact analysis, and persistence.
type Pipeline interface {
	Process(ctx context.Context, path string, analysisType rules.AnalysisType) error
}

// LoadFunc samples global system load as a fraction in [0, 1].
type LoadFunc func() float64

// Config configures the analysis worker.
type Config struct {
	// Retry controls backoff for retryable (repository) failures.
	Retry RetryConfig

	// Load samples system load before each dequeue. Nil disables
	// throttling.
	Load LoadFunc

	// LoadThreshold defers dequeuing while Load() exceeds it.
	// Default: 0.8
	LoadThreshold float64

	// LoadBackoff is how long to sleep when deferring. Default: 5s
	LoadBackoff time.Duration

	// IdlePoll is the fallback wait when the queue is empty and no wake
	// signal arrives. Default: 1s
	IdlePoll time.Duration

	// Logger for item outcomes. Nil uses slog.Default().
	Logger *slog.Logger
}

// Worker processes queued analysis items one at a time.
//
// # Description
//
// A single logical thread of control: the worker dequeues one item,
// runs the full pipeline for it, and only then dequeues the next. Exactly
// one file is in flight at any moment; this is the resource bound that
// keeps analysis within its CPU and memory budget, and it must hold even
// on hosts with idle cores. The only suspension points are waiting on an
// empty queue and blocking calls into persistence.
//
// Transient repository failures are retried with bounded exponential
// backoff; after the attempts are exhausted the item is logged with full
// context and dropped, never requeued forever.
//
// # Thread Safety
//
// Start and Stop are safe for concurrent use. Stop is cooperative and
// non-preemptive: the in-flight item finishes before the loop exits.
type Worker struct {
	queue    *Queue
	pipeline Pipeline
	cfg      Config
	logger   *slog.Logger

	stopCh    chan struct{}
	doneCh    chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWorker creates a worker over the queue and pipeline.
//
// # Outputs
//
//   - *Worker: Not running until Start is called.
//   - error: Non-nil if queue or pipeline is nil.
func NewWorker(queue *Queue, pipeline Pipeline, cfg Config) (*Worker, error) {
	if queue == nil {
		return nil, errors.New("queue is required")
	}
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.LoadThreshold == 0 {
		cfg.LoadThreshold = 0.8
	}
	if cfg.LoadBackoff == 0 {
		cfg.LoadBackoff = 5 * time.Second
	}
	if cfg.IdlePoll == 0 {
		cfg.IdlePoll = time.Second
	}

	if err := initMetrics(); err != nil {
		return nil, err
	}
	if err := registerQueueDepth(queue); err != nil {
		return nil, err
	}

	return &Worker{
		queue:    queue,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   cfg.Logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins the worker loop. Subsequent calls are no-ops.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.run(ctx)
	})
}

// Stop signals the loop to exit and waits for the in-flight item to
// finish. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	if w.started.Load() {
		<-w.doneCh
	}
}

// run is the worker loop.
func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if w.deferForLoad(ctx) {
			continue
		}

		item := w.queue.DequeueNext()
		if item == nil {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-w.queue.Wake():
			case <-time.After(w.cfg.IdlePoll):
			}
			continue
		}

		w.processItem(ctx, item)
	}
}

// deferForLoad sleeps instead of dequeuing while system load is high.
// Work is delayed, never lost. Returns true if the loop should re-check.
func (w *Worker) deferForLoad(ctx context.Context) bool {
	if w.cfg.Load == nil {
		return false
	}
	load := w.cfg.Load()
	if load <= w.cfg.LoadThreshold {
		return false
	}

	itemsDeferred.Add(ctx, 1)
	w.logger.Debug("deferring analysis under load",
		slog.Float64("load", load),
		slog.Float64("threshold", w.cfg.LoadThreshold))

	select {
	case <-w.stopCh:
	case <-ctx.Done():
	case <-time.After(w.cfg.LoadBackoff):
	}
	return true
}

// processItem runs the pipeline for one item with bounded retries.
func (w *Worker) processItem(ctx context.Context, item *Item) {
	spanCtx, span := startItemSpan(ctx, item)
	defer span.End()

	start := time.Now()
	attempts, err := retry(spanCtx, w.cfg.Retry, func(ctx context.Context) error {
		return w.pipeline.Process(ctx, item.Path, item.Type)
	})
	elapsed := time.Since(start)

	analysisLatency.Record(spanCtx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("analysis.type", string(item.Type))))
	span.SetAttributes(attribute.Int("analysis.attempts", attempts))

	if err != nil {
		itemsFailed.Add(spanCtx, 1)
		w.logger.Error("analysis item failed, dropping",
			slog.String("path", item.Path),
			slog.String("type", string(item.Type)),
			slog.Int("priority", item.Priority),
			slog.Int("attempts", attempts),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
		return
	}

	itemsProcessed.Add(spanCtx, 1)
	w.logger.Debug("analysis item processed",
		slog.String("path", item.Path),
		slog.String("type", string(item.Type)),
		slog.Duration("elapsed", elapsed))
}
