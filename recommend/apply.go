// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recommend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/docsentry/docsentry/model"
)

// Applier applies an accepted recommendation's suggested changes to the
// working tree.
type Applier interface {
	Apply(ctx context.Context, rec *model.Recommendation) error
}

// FileApplier applies suggested changes to files under a root directory.
//
// # Description
//
// Changes are applied through the same unified-diff form the developer
// reviewed in the artifact: each file's changes are rendered to a diff,
// parsed back, and the hunks applied line by line. A hunk whose original
// lines no longer match the file content fails the whole apply, leaving
// already-written files in place for manual review.
type FileApplier struct {
	// Root is the directory document paths are resolved against.
	Root string
}

// Apply writes every suggested change of the recommendation to disk.
func (a *FileApplier) Apply(ctx context.Context, rec *model.Recommendation) error {
	for _, path := range changedPaths(rec.SuggestedChanges) {
		if err := ctx.Err(); err != nil {
			return err
		}
		rendered := renderFileDiff(path, changesFor(rec.SuggestedChanges, path))
		fd, err := diff.ParseFileDiff([]byte(rendered))
		if err != nil {
			return fmt.Errorf("parse diff for %s: %w", path, err)
		}
		if err := a.applyFileDiff(path, fd); err != nil {
			return err
		}
	}
	return nil
}

// applyFileDiff applies one file's hunks to its on-disk content.
func (a *FileApplier) applyFileDiff(path string, fd *diff.FileDiff) error {
	abs := filepath.Join(a.Root, filepath.FromSlash(path))

	raw, err := os.ReadFile(abs)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", path, err)
	}
	lines := splitNonEmpty(string(raw))

	// Apply bottom-up so earlier hunk line numbers stay valid.
	hunks := make([]*diff.Hunk, len(fd.Hunks))
	copy(hunks, fd.Hunks)
	sort.Slice(hunks, func(i, j int) bool {
		return hunks[i].OrigStartLine > hunks[j].OrigStartLine
	})

	for _, h := range hunks {
		lines, err = applyHunk(lines, h)
		if err != nil {
			return fmt.Errorf("apply hunk to %s: %w", path, err)
		}
	}

	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// applyHunk replaces the hunk's original lines with its new lines.
//
// A zero-length original range inserts after OrigStartLine; OrigStartLine 0
// appends to the end of the file, which is where additions without a known
// anchor land.
func applyHunk(lines []string, h *diff.Hunk) ([]string, error) {
	var removed, added []string
	for _, l := range splitNonEmpty(string(h.Body)) {
		if l == "" {
			continue
		}
		switch l[0] {
		case '-':
			removed = append(removed, l[1:])
		case '+':
			added = append(added, l[1:])
		case ' ':
			removed = append(removed, l[1:])
			added = append(added, l[1:])
		}
	}

	if len(removed) == 0 {
		at := int(h.OrigStartLine)
		if at <= 0 || at > len(lines) {
			at = len(lines)
		}
		out := make([]string, 0, len(lines)+len(added))
		out = append(out, lines[:at]...)
		out = append(out, added...)
		out = append(out, lines[at:]...)
		return out, nil
	}

	start := int(h.OrigStartLine) - 1
	if start < 0 || start+len(removed) > len(lines) {
		return nil, fmt.Errorf("hunk range %d,%d outside file of %d lines",
			h.OrigStartLine, len(removed), len(lines))
	}
	for i, want := range removed {
		if lines[start+i] != want {
			return nil, fmt.Errorf("line %d changed since the recommendation was created", start+i+1)
		}
	}

	out := make([]string, 0, len(lines)-len(removed)+len(added))
	out = append(out, lines[:start]...)
	out = append(out, added...)
	out = append(out, lines[start+len(removed):]...)
	return out, nil
}
