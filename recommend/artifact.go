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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docsentry/docsentry/model"
)

// Markers that structure the decision artifact. The developer edits only
// the region above MarkerDoNotModify; everything below it is machine
// generated and regenerated verbatim on amendment.
const (
	MarkerBeginComments = "<!-- BEGIN COMMENTS -->"
	MarkerEndComments   = "<!-- END COMMENTS -->"
	MarkerDoNotModify   = "<!-- DO NOT MODIFY BELOW THIS LINE -->"

	markerRule = "<!-- ============================================================ -->"
)

// Checkbox labels in the decision header.
const (
	labelAccept = "ACCEPT"
	labelReject = "REJECT"
	labelAmend  = "AMEND"
)

// RenderArtifact produces the markdown decision artifact for a
// recommendation.
//
// # Description
//
// The artifact has two regions. Above the do-not-modify marker: the
// decision checkboxes and the amendment comment block, which the developer
// edits. Below it: the generated recommendation body (title, metadata,
// detected inconsistencies, affected files, suggested changes as unified
// diffs, rationale), which parsing never reads for decision state.
//
// # Inputs
//
//   - rec: The recommendation to render. Must be non-nil.
//   - records: The inconsistency records referenced by rec, in any order.
//
// # Outputs
//
//   - string: The complete artifact text.
func RenderArtifact(rec *model.Recommendation, records []*model.InconsistencyRecord) string {
	var b strings.Builder

	b.WriteString("# Documentation Update Recommendation\n\n")
	b.WriteString("**Decision required.** Mark exactly one option with [x]:\n\n")
	b.WriteString("- [ ] " + labelAccept + "\n")
	b.WriteString("- [ ] " + labelReject + "\n")
	b.WriteString("- [ ] " + labelAmend + "\n\n")
	b.WriteString("## Amendment Comments\n\n")
	b.WriteString("<!-- If AMEND, write comments between these markers -->\n")
	b.WriteString(MarkerBeginComments + "\n")
	b.WriteString(MarkerEndComments + "\n\n")
	b.WriteString(markerRule + "\n")
	b.WriteString(MarkerDoNotModify + "\n")
	b.WriteString(markerRule + "\n\n")

	b.WriteString("## " + rec.Title + "\n\n")
	fmt.Fprintf(&b, "- **Created**: %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Priority**: %s\n\n", priorityOf(records))

	b.WriteString("### Detected Inconsistency\n\n")
	for _, r := range records {
		fmt.Fprintf(&b, "- **%s**: `%s` -> `%s` (severity %s, confidence %.2f)\n",
			r.Type, r.SourceDoc, r.TargetDoc, r.Severity, r.Confidence)
		for _, k := range sortedKeys(r.Details) {
			fmt.Fprintf(&b, "  - %s: %s\n", k, r.Details[k])
		}
	}
	b.WriteString("\n### Affected Files\n\n")
	for _, p := range rec.AffectedDocuments {
		b.WriteString("- " + p + "\n")
	}

	b.WriteString("\n### Suggested Changes\n\n")
	for _, path := range changedPaths(rec.SuggestedChanges) {
		b.WriteString("```diff\n")
		b.WriteString(renderFileDiff(path, changesFor(rec.SuggestedChanges, path)))
		b.WriteString("```\n\n")
	}

	b.WriteString("### Rationale\n\n")
	b.WriteString(rationale(rec, records))
	b.WriteString("\n")

	return b.String()
}

// ParseDecision extracts the developer's decision and amendment comments
// from an edited artifact.
//
// # Description
//
// Only the region above the do-not-modify marker is read. Exactly one
// checked box is required; the comments are the non-marker lines between
// the BEGIN/END comment markers.
//
// # Outputs
//
//   - model.Decision: The checked decision.
//   - string: Trimmed amendment comments, empty if none were written.
//   - error: ErrMarkerMissing, ErrNoDecision, or ErrAmbiguousDecision.
func ParseDecision(artifact string) (model.Decision, string, error) {
	head, _, found := strings.Cut(artifact, MarkerDoNotModify)
	if !found {
		return "", "", ErrMarkerMissing
	}

	var decisions []model.Decision
	for _, line := range strings.Split(head, "\n") {
		d, ok := checkedDecision(line)
		if ok {
			decisions = append(decisions, d)
		}
	}
	switch len(decisions) {
	case 0:
		return "", "", ErrNoDecision
	case 1:
	default:
		return "", "", ErrAmbiguousDecision
	}

	return decisions[0], commentsBetween(head), nil
}

// checkedDecision matches a checked decision checkbox line.
func checkedDecision(line string) (model.Decision, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "- [") {
		return "", false
	}
	rest := strings.TrimPrefix(trimmed, "- [")
	if len(rest) < 2 || (rest[0] != 'x' && rest[0] != 'X') || rest[1] != ']' {
		return "", false
	}
	switch strings.TrimSpace(rest[2:]) {
	case labelAccept:
		return model.DecisionAccept, true
	case labelReject:
		return model.DecisionReject, true
	case labelAmend:
		return model.DecisionAmend, true
	}
	return "", false
}

// commentsBetween returns the trimmed text between the comment markers,
// skipping any HTML comment lines the developer left in place.
func commentsBetween(head string) string {
	_, after, found := strings.Cut(head, MarkerBeginComments)
	if !found {
		return ""
	}
	body, _, found := strings.Cut(after, MarkerEndComments)
	if !found {
		return ""
	}

	var lines []string
	for _, line := range strings.Split(body, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "<!--") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// renderFileDiff renders the suggested changes for one file as a unified
// diff with zero context lines. Hunks appear in the order the changes were
// suggested.
func renderFileDiff(path string, changes []model.SuggestedChange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n", path)
	fmt.Fprintf(&b, "+++ b/%s\n", path)

	for _, c := range changes {
		origLines := splitNonEmpty(c.Before)
		newLines := splitNonEmpty(c.After)

		switch c.Kind {
		case model.ChangeAddition:
			origLines = nil
		case model.ChangeDeletion:
			newLines = nil
		}

		origStart, newStart := hunkStarts(c, len(origLines), len(newLines))
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", origStart, len(origLines), newStart, len(newLines))
		for _, l := range origLines {
			b.WriteString("-" + l + "\n")
		}
		for _, l := range newLines {
			b.WriteString("+" + l + "\n")
		}
	}
	return b.String()
}

// hunkStarts computes the unified-diff start lines for a change. A
// zero-length original range anchors the insertion after the given line,
// per unified diff convention.
func hunkStarts(c model.SuggestedChange, origCount, newCount int) (int, int) {
	line := c.Line
	if line <= 0 {
		if origCount == 0 {
			// Append: anchor after line 0, new text begins at line 1.
			return 0, 1
		}
		line = 1
	}
	if origCount == 0 {
		return line, line + 1
	}
	return line, line
}

// splitNonEmpty splits text into lines, dropping a single trailing newline.
func splitNonEmpty(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// changedPaths returns the distinct paths touched by the changes, in first
// appearance order.
func changedPaths(changes []model.SuggestedChange) []string {
	seen := make(map[string]bool, len(changes))
	var paths []string
	for _, c := range changes {
		if !seen[c.Path] {
			seen[c.Path] = true
			paths = append(paths, c.Path)
		}
	}
	return paths
}

// changesFor filters the changes touching one path, preserving order.
func changesFor(changes []model.SuggestedChange, path string) []model.SuggestedChange {
	var out []model.SuggestedChange
	for _, c := range changes {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// priorityOf maps the bundled records to the artifact priority label:
// the highest severity among them.
func priorityOf(records []*model.InconsistencyRecord) string {
	highest := model.SeverityLow
	for _, r := range records {
		if r.Severity > highest {
			highest = r.Severity
		}
	}
	return highest.String()
}

// rationale summarizes why the recommendation exists.
func rationale(rec *model.Recommendation, records []*model.InconsistencyRecord) string {
	if rec.DeveloperFeedback != "" {
		return fmt.Sprintf(
			"Revised after developer feedback on a prior recommendation: %s",
			rec.DeveloperFeedback)
	}

	counts := make(map[model.InconsistencyType]int, len(records))
	for _, r := range records {
		counts[r.Type]++
	}
	var parts []string
	for _, t := range sortedTypes(counts) {
		parts = append(parts, fmt.Sprintf("%d %s", counts[t], t))
	}
	return fmt.Sprintf(
		"These documents drifted out of agreement (%s). Applying the suggested changes restores consistency across the %d affected files.",
		strings.Join(parts, ", "), len(rec.AffectedDocuments))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTypes(m map[model.InconsistencyType]int) []model.InconsistencyType {
	types := make([]model.InconsistencyType, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
