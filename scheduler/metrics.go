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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for scheduler operations.
var (
	tracer = otel.Tracer("docsentry.scheduler")
	meter  = otel.Meter("docsentry.scheduler")
)

// Metrics for the analysis worker.
var (
	itemsProcessed  metric.Int64Counter
	itemsFailed     metric.Int64Counter
	itemsDeferred   metric.Int64Counter
	analysisLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		itemsProcessed, err = meter.Int64Counter(
			"analysis_items_processed_total",
			metric.WithDescription("Analysis items processed successfully"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		itemsFailed, err = meter.Int64Counter(
			"analysis_items_failed_total",
			metric.WithDescription("Analysis items dropped after exhausting retries"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		itemsDeferred, err = meter.Int64Counter(
			"analysis_items_deferred_total",
			metric.WithDescription("Dequeue deferrals due to system load"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analysisLatency, err = meter.Float64Histogram(
			"analysis_duration_seconds",
			metric.WithDescription("Duration of one analysis unit"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// registerQueueDepth registers an observable gauge over the queue length.
func registerQueueDepth(q *Queue) error {
	if err := initMetrics(); err != nil {
		return err
	}
	_, err := meter.Int64ObservableGauge(
		"analysis_queue_depth",
		metric.WithDescription("Number of queued analysis items"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(q.Len()))
			return nil
		}),
	)
	return err
}

// startItemSpan creates a span for processing one analysis item.
func startItemSpan(ctx context.Context, item *Item) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Worker.ProcessItem",
		trace.WithAttributes(
			attribute.String("analysis.path", item.Path),
			attribute.String("analysis.type", string(item.Type)),
			attribute.Int("analysis.priority", item.Priority),
		),
	)
}
