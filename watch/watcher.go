// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch translates filesystem notifications into the change events
// the engine ingests. Events are debounced per path so an editor save
// storm becomes one modification, and paths are reported relative to the
// watched root.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docsentry/docsentry/metadata"
)

// Handler receives a debounced batch of change events. Called from a
// single goroutine; batches never overlap.
type Handler func(events []metadata.ChangeEvent)

// Options configures the watcher.
type Options struct {
	// DebounceWindow is how long to wait for further changes before a
	// batch is delivered. Default: 200ms
	DebounceWindow time.Duration

	// IgnorePatterns are base-name globs and directory names to skip.
	// Default: .git, node_modules, .idea, *.swp, *.tmp, __pycache__
	IgnorePatterns []string

	// BufferSize is the raw event channel capacity. Default: 1000
	BufferSize int

	// Logger for watch errors. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the default watcher configuration.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 200 * time.Millisecond,
		IgnorePatterns: []string{".git", "node_modules", ".idea", "*.swp", "*.tmp", "__pycache__"},
		BufferSize:     1000,
	}
}

// Watcher monitors a project root for document changes.
//
// # Description
//
// Raw fsnotify events are filtered against the ignore patterns, converted
// to change events with root-relative slash paths, and coalesced per path
// within the debounce window: the batch carries at most one event per
// path, keeping the latest kind, except that a file created and deleted
// within the same window is dropped entirely.
//
// # Thread Safety
//
// Safe for concurrent use. The handler runs on the debounce goroutine
// only.
type Watcher struct {
	root     string
	handler  Handler
	fsw      *fsnotify.Watcher
	debounce time.Duration
	ignore   []string
	logger   *slog.Logger

	raw      chan metadata.ChangeEvent
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	running bool
}

// New creates a watcher over root delivering batches to handler.
func New(root string, handler Handler, opts *Options) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     root,
		handler:  handler,
		fsw:      fsw,
		debounce: opts.DebounceWindow,
		ignore:   opts.IgnorePatterns,
		logger:   opts.Logger,
		raw:      make(chan metadata.ChangeEvent, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the root and all its subdirectories. Calling Start
// on a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.pumpEvents(ctx)
	go w.deliverBatches(ctx)
	return nil
}

// Stop closes the underlying watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()

		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	})
}

// Running reports whether the watcher is active.
func (w *Watcher) Running() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// addRecursive watches every non-ignored directory under root.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// ignored reports whether a path matches any ignore pattern.
func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.ignore {
		if base == pattern {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if strings.Contains(path, string(filepath.Separator)+pattern+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// pumpEvents converts raw fsnotify events into change events.
func (w *Watcher) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}

			kind, ok := kindFor(event.Op)
			if !ok {
				continue
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				continue
			}
			change := metadata.ChangeEvent{
				Path: filepath.ToSlash(rel),
				Kind: kind,
				Time: time.Now().UTC(),
			}

			select {
			case w.raw <- change:
			default:
				w.logger.Warn("change buffer full, dropping event",
					slog.String("path", change.Path))
			}

			// Watch newly created directories so nested changes surface.
			if event.Has(fsnotify.Create) && isDir(event.Name) {
				if err := w.fsw.Add(event.Name); err != nil {
					w.logger.Warn("failed to watch new directory",
						slog.String("path", event.Name),
						slog.String("error", err.Error()))
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// deliverBatches coalesces events per path and invokes the handler when
// the debounce window closes.
func (w *Watcher) deliverBatches(ctx context.Context) {
	pending := make(map[string]metadata.ChangeEvent)
	var timer *time.Timer
	var expired <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]metadata.ChangeEvent, 0, len(pending))
		for _, ev := range pending {
			batch = append(batch, ev)
		}
		pending = make(map[string]metadata.ChangeEvent)
		w.handler(batch)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case ev := <-w.raw:
			coalesce(pending, ev)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			expired = timer.C
		case <-expired:
			expired = nil
			flush()
		}
	}
}

// coalesce folds an event into the pending set: latest kind wins, except a
// create followed by a delete cancels out.
func coalesce(pending map[string]metadata.ChangeEvent, ev metadata.ChangeEvent) {
	prev, ok := pending[ev.Path]
	if ok && prev.Kind == metadata.ChangeCreated && ev.Kind == metadata.ChangeDeleted {
		delete(pending, ev.Path)
		return
	}
	if ok && prev.Kind == metadata.ChangeCreated && ev.Kind == metadata.ChangeModified {
		// Still a brand-new file from the engine's point of view.
		ev.Kind = metadata.ChangeCreated
	}
	pending[ev.Path] = ev
}

// kindFor maps an fsnotify operation to a change kind. Chmod-only events
// carry no content change and are skipped.
func kindFor(op fsnotify.Op) (metadata.ChangeKind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return metadata.ChangeCreated, true
	case op.Has(fsnotify.Write):
		return metadata.ChangeModified, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return metadata.ChangeDeleted, true
	default:
		return "", false
	}
}

// isDir reports whether the path exists and is a directory.
func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
