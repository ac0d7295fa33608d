// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler orders and throttles analysis work: a priority queue
// feeding a single worker that processes exactly one unit at a time.
package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"

	"github.com/docsentry/docsentry/rules"
)

// Sentinel errors for queue operations.
var (
	// ErrNotQueued indicates a reprioritize call for a path with no
	// queued entries.
	ErrNotQueued = errors.New("path is not queued")

	// ErrEmptyPath indicates an enqueue call without a path.
	ErrEmptyPath = errors.New("path must not be empty")
)

// Item is one queued unit of analysis work.
type Item struct {
	Path     string
	Type     rules.AnalysisType
	Priority int

	// seq is the monotonic enqueue sequence used for FIFO tie-break.
	seq uint64

	// index is the heap position, maintained by heap.Interface.
	index int
}

// itemKey identifies the at-most-one queue entry per (path, type) pair.
type itemKey struct {
	path string
	typ  rules.AnalysisType
}

// itemHeap orders by priority descending, then sequence ascending.
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is the analysis priority queue.
//
// # Description
//
// Entries are keyed by (priority, enqueue sequence): higher priority
// dequeues first, ties break strictly FIFO. At most one entry exists per
// (path, analysis type) pair; re-enqueueing an existing pair with a
// different priority reprioritizes it.
//
// # Thread Safety
//
// Safe for concurrent use. Each operation is atomic under the queue
// mutex; the worker and the ingestion path never observe a half-applied
// mutation.
type Queue struct {
	mu    sync.Mutex
	items itemHeap
	byKey map[itemKey]*Item
	seq   uint64
	wake  chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		byKey: make(map[itemKey]*Item),
		wake:  make(chan struct{}, 1),
	}
}

// Enqueue adds analysis work for a path.
//
// # Description
//
// If the (path, analysis type) pair is already queued with the same
// priority the call is a no-op; with a different priority it behaves like
// Reprioritize for that entry (removed and reinserted, taking a fresh
// sequence number at the new priority).
//
// # Outputs
//
//   - error: ErrEmptyPath on invalid input.
func (q *Queue) Enqueue(path string, priority int, typ rules.AnalysisType) error {
	if path == "" {
		return ErrEmptyPath
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	key := itemKey{path: path, typ: typ}
	if existing, ok := q.byKey[key]; ok {
		if existing.Priority != priority {
			q.reinsert(existing, priority)
		}
		return nil
	}

	q.seq++
	item := &Item{Path: path, Type: typ, Priority: priority, seq: q.seq}
	heap.Push(&q.items, item)
	q.byKey[key] = item
	q.notify()
	return nil
}

// DequeueNext removes and returns the highest-priority item.
//
// # Outputs
//
//   - *Item: The dequeued item, nil when the queue is empty.
func (q *Queue) DequeueNext() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	item := heap.Pop(&q.items).(*Item)
	delete(q.byKey, itemKey{path: item.Path, typ: item.Type})
	return item
}

// Reprioritize moves every queued entry for path to a new priority.
//
// # Outputs
//
//   - error: ErrNotQueued if no entry for the path exists. Surfaced
//     synchronously to the caller, never logged-and-dropped.
func (q *Queue) Reprioritize(path string, newPriority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	found := false
	for key, item := range q.byKey {
		if key.path != path {
			continue
		}
		found = true
		if item.Priority != newPriority {
			q.reinsert(item, newPriority)
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotQueued, path)
	}
	return nil
}

// Contains reports whether any entry for the path is queued.
func (q *Queue) Contains(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key := range q.byKey {
		if key.path == path {
			return true
		}
	}
	return false
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake returns a channel that receives a signal when work is enqueued.
// The worker blocks on it instead of polling an empty queue.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// reinsert removes an item from the heap and pushes it back at the new
// priority with a fresh sequence number, preserving FIFO tie-break within
// the new priority class. Caller must hold the queue mutex.
func (q *Queue) reinsert(item *Item, newPriority int) {
	heap.Remove(&q.items, item.index)
	item.Priority = newPriority
	q.seq++
	item.seq = q.seq
	heap.Push(&q.items, item)
}

// notify signals the wake channel without blocking. Caller must hold the
// queue mutex.
func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
