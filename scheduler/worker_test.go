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
	"sync"
	"testing"
	"time"

	"github.com/docsentry/docsentry/rules"
	"github.com/docsentry/docsentry/storage"
)

// recordingPipeline counts Process calls and returns scripted errors.
type recordingPipeline struct {
	mu      sync.Mutex
	calls   []string
	errs    []error // consumed one per call; nil afterwards
	block   chan struct{}
	started chan struct{}
}

func (p *recordingPipeline) Process(ctx context.Context, path string, _ rules.AnalysisType) error {
	p.mu.Lock()
	p.calls = append(p.calls, path)
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		p.errs = p.errs[1:]
	}
	started := p.started
	block := p.block
	p.mu.Unlock()

	if started != nil {
		close(started)
		p.mu.Lock()
		p.started = nil
		p.mu.Unlock()
	}
	if block != nil {
		<-block
	}
	return err
}

func (p *recordingPipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
		JitterFactor:   0,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorker_ProcessesQueuedItems(t *testing.T) {
	q := NewQueue()
	p := &recordingPipeline{}
	w, err := NewWorker(q, p, Config{Retry: fastRetry(), IdlePoll: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	_ = q.Enqueue("a.md", 0, rules.AnalysisDocDoc)
	w.Start(context.Background())
	defer w.Stop()

	_ = q.Enqueue("b.md", 0, rules.AnalysisDocDoc)
	waitFor(t, func() bool { return p.callCount() == 2 })
}

func TestWorker_RetriesRepositoryErrors(t *testing.T) {
	q := NewQueue()
	p := &recordingPipeline{errs: []error{
		storage.NewRepositoryError("save", errors.New("disk wobble")),
		storage.NewRepositoryError("save", errors.New("disk wobble")),
		nil,
	}}
	w, err := NewWorker(q, p, Config{Retry: fastRetry(), IdlePoll: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	_ = q.Enqueue("a.md", 0, rules.AnalysisDocDoc)
	w.Start(context.Background())
	defer w.Stop()

	// Two failures plus the succeeding attempt, all for the same item.
	waitFor(t, func() bool { return p.callCount() == 3 })
	if q.Len() != 0 {
		t.Fatal("item left queued after success")
	}
}

func TestWorker_DropsAfterExhaustedRetries(t *testing.T) {
	repoErr := storage.NewRepositoryError("save", errors.New("disk gone"))
	q := NewQueue()
	p := &recordingPipeline{errs: []error{repoErr, repoErr, repoErr}}
	w, err := NewWorker(q, p, Config{Retry: fastRetry(), IdlePoll: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	_ = q.Enqueue("a.md", 0, rules.AnalysisDocDoc)
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, func() bool { return p.callCount() == 3 })
	// Give the loop a beat: the item must not be requeued.
	time.Sleep(20 * time.Millisecond)
	if q.Len() != 0 {
		t.Fatal("failed item was requeued")
	}
	if p.callCount() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", p.callCount())
	}
}

func TestWorker_NonRetryableFailsOnce(t *testing.T) {
	q := NewQueue()
	p := &recordingPipeline{errs: []error{errors.New("validation failed")}}
	w, err := NewWorker(q, p, Config{Retry: fastRetry(), IdlePoll: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	_ = q.Enqueue("a.md", 0, rules.AnalysisDocDoc)
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, func() bool { return p.callCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	if p.callCount() != 1 {
		t.Fatalf("non-retryable error was retried: %d attempts", p.callCount())
	}
}

func TestWorker_StopLetsInFlightItemFinish(t *testing.T) {
	q := NewQueue()
	p := &recordingPipeline{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	w, err := NewWorker(q, p, Config{Retry: fastRetry(), IdlePoll: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	_ = q.Enqueue("slow.md", 0, rules.AnalysisDocDoc)
	w.Start(context.Background())

	<-p.started

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an item was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(p.block)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the item finished")
	}
}

func TestWorker_StopWithoutStart(t *testing.T) {
	q := NewQueue()
	w, err := NewWorker(q, &recordingPipeline{}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without a running worker")
	}
}

func TestWorker_DefersUnderLoad(t *testing.T) {
	var mu sync.Mutex
	load := 1.0
	q := NewQueue()
	p := &recordingPipeline{}
	w, err := NewWorker(q, p, Config{
		Retry: fastRetry(),
		Load: func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return load
		},
		LoadThreshold: 0.8,
		LoadBackoff:   10 * time.Millisecond,
		IdlePoll:      10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = q.Enqueue("a.md", 0, rules.AnalysisDocDoc)
	w.Start(context.Background())
	defer w.Stop()

	// Under load nothing is processed, and nothing is lost.
	time.Sleep(50 * time.Millisecond)
	if p.callCount() != 0 {
		t.Fatal("worker processed while load was above threshold")
	}
	if q.Len() != 1 {
		t.Fatal("deferred item disappeared from the queue")
	}

	mu.Lock()
	load = 0.1
	mu.Unlock()
	waitFor(t, func() bool { return p.callCount() == 1 })
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(storage.NewRepositoryError("get", errors.New("io"))) {
		t.Fatal("repository errors must be retryable")
	}
	if IsRetryable(errors.New("bad input")) {
		t.Fatal("plain errors must not be retryable")
	}
}
