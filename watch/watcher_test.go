// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docsentry/docsentry/metadata"
)

func TestKindFor(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		kind metadata.ChangeKind
		ok   bool
	}{
		{fsnotify.Create, metadata.ChangeCreated, true},
		{fsnotify.Write, metadata.ChangeModified, true},
		{fsnotify.Remove, metadata.ChangeDeleted, true},
		{fsnotify.Rename, metadata.ChangeDeleted, true},
		{fsnotify.Chmod, "", false},
	}
	for _, tt := range tests {
		kind, ok := kindFor(tt.op)
		if kind != tt.kind || ok != tt.ok {
			t.Fatalf("kindFor(%v) = (%s, %v), want (%s, %v)", tt.op, kind, ok, tt.kind, tt.ok)
		}
	}
}

func TestCoalesce(t *testing.T) {
	ev := func(path string, kind metadata.ChangeKind) metadata.ChangeEvent {
		return metadata.ChangeEvent{Path: path, Kind: kind, Time: time.Now()}
	}

	t.Run("latest kind wins", func(t *testing.T) {
		pending := map[string]metadata.ChangeEvent{}
		coalesce(pending, ev("a.md", metadata.ChangeModified))
		coalesce(pending, ev("a.md", metadata.ChangeDeleted))
		if pending["a.md"].Kind != metadata.ChangeDeleted {
			t.Fatalf("got %s, want deleted", pending["a.md"].Kind)
		}
	})

	t.Run("create then delete cancels", func(t *testing.T) {
		pending := map[string]metadata.ChangeEvent{}
		coalesce(pending, ev("a.md", metadata.ChangeCreated))
		coalesce(pending, ev("a.md", metadata.ChangeDeleted))
		if len(pending) != 0 {
			t.Fatalf("short-lived file not dropped: %+v", pending)
		}
	})

	t.Run("create then modify stays created", func(t *testing.T) {
		pending := map[string]metadata.ChangeEvent{}
		coalesce(pending, ev("a.md", metadata.ChangeCreated))
		coalesce(pending, ev("a.md", metadata.ChangeModified))
		if pending["a.md"].Kind != metadata.ChangeCreated {
			t.Fatalf("got %s, want created", pending["a.md"].Kind)
		}
	})

	t.Run("paths are independent", func(t *testing.T) {
		pending := map[string]metadata.ChangeEvent{}
		coalesce(pending, ev("a.md", metadata.ChangeCreated))
		coalesce(pending, ev("b.md", metadata.ChangeModified))
		if len(pending) != 2 {
			t.Fatalf("expected 2 pending events, got %d", len(pending))
		}
	})
}

func TestWatcher_Ignored(t *testing.T) {
	w := &Watcher{ignore: DefaultOptions().IgnorePatterns}

	for _, path := range []string{
		filepath.Join("project", ".git"),
		filepath.Join("project", ".git", "objects", "ab"),
		filepath.Join("project", "node_modules", "left-pad"),
		filepath.Join("project", "docs", "api.md.swp"),
		filepath.Join("project", "build.tmp"),
	} {
		if !w.ignored(path) {
			t.Errorf("expected %s to be ignored", path)
		}
	}
	for _, path := range []string{
		filepath.Join("project", "docs", "api.md"),
		filepath.Join("project", "main.go"),
	} {
		if w.ignored(path) {
			t.Errorf("did not expect %s to be ignored", path)
		}
	}
}

func TestWatcher_DeliversDebouncedBatches(t *testing.T) {
	root := t.TempDir()

	var mu sync.Mutex
	var batches [][]metadata.ChangeEvent
	handler := func(events []metadata.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, events)
	}

	opts := DefaultOptions()
	opts.DebounceWindow = 50 * time.Millisecond
	w, err := New(root, handler, &opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if !w.Running() {
		t.Fatal("watcher not running after Start")
	}

	if err := os.WriteFile(filepath.Join(root, "a.md"), []byte("# a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(batches)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) == 0 {
		t.Fatal("no batch delivered")
	}
	found := false
	for _, ev := range batches[0] {
		if ev.Path == "a.md" && ev.Kind == metadata.ChangeCreated {
			found = true
		}
	}
	if !found {
		t.Fatalf("batch missing created a.md: %+v", batches[0])
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), func([]metadata.ChangeEvent) {}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
	if w.Running() {
		t.Fatal("watcher still running after Stop")
	}
}
