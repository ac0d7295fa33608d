// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import (
	"context"
	"errors"
	"testing"

	"github.com/docsentry/docsentry/graph"
	"github.com/docsentry/docsentry/model"
)

// buildGraph returns a store with the documents and edges applied.
func buildGraph(t *testing.T, docs []string, rels []graph.DocumentRelationship) *graph.Store {
	t.Helper()
	s := graph.NewStore(nil, nil)
	for _, p := range docs {
		if err := s.UpsertDocument(context.Background(), graph.DocumentReference{Path: p}); err != nil {
			t.Fatal(err)
		}
	}
	for _, rel := range rels {
		if err := s.UpsertRelationship(context.Background(), rel); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestAnalyzer_ImpactOf(t *testing.T) {
	t.Run("unknown path errors", func(t *testing.T) {
		a, err := NewAnalyzer(buildGraph(t, nil, nil), 0)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := a.ImpactOf("ghost.md"); !errors.Is(err, graph.ErrUnknownDocument) {
			t.Fatalf("expected ErrUnknownDocument, got %v", err)
		}
	})

	t.Run("levels decay with depth", func(t *testing.T) {
		// doc1 impacts core.md; doc2 depends on doc1; doc3 depends on doc2.
		s := buildGraph(t,
			[]string{"core.md", "doc1", "doc2", "doc3"},
			[]graph.DocumentRelationship{
				{Source: "doc1", Target: "core.md", Type: graph.RelationImpacts},
				{Source: "doc2", Target: "doc1", Type: graph.RelationDependsOn},
				{Source: "doc3", Target: "doc2", Type: graph.RelationDependsOn},
			})
		a, err := NewAnalyzer(s, 0)
		if err != nil {
			t.Fatal(err)
		}

		impacts, err := a.ImpactOf("core.md")
		if err != nil {
			t.Fatal(err)
		}
		byPath := make(map[string]Impact, len(impacts))
		for _, imp := range impacts {
			byPath[imp.TargetPath] = imp
		}

		if got := byPath["doc1"]; got.Level != LevelHigh || got.Depth != 1 {
			t.Fatalf("doc1: expected High at depth 1, got %+v", got)
		}
		if got := byPath["doc2"]; got.Level != LevelMedium || got.Depth != 2 {
			t.Fatalf("doc2: expected Medium at depth 2, got %+v", got)
		}
		if got := byPath["doc3"]; got.Level != LevelLow || got.Depth != 3 {
			t.Fatalf("doc3: expected Low at depth 3, got %+v", got)
		}
	})

	t.Run("only impacts and depends_on edges propagate", func(t *testing.T) {
		s := buildGraph(t,
			[]string{"core.md", "impl.md"},
			[]graph.DocumentRelationship{
				{Source: "impl.md", Target: "core.md", Type: graph.RelationImplements},
			})
		a, err := NewAnalyzer(s, 0)
		if err != nil {
			t.Fatal(err)
		}
		impacts, err := a.ImpactOf("core.md")
		if err != nil {
			t.Fatal(err)
		}
		if len(impacts) != 0 {
			t.Fatalf("implements edge propagated impact: %+v", impacts)
		}
	})

	t.Run("depth is bounded", func(t *testing.T) {
		s := buildGraph(t,
			[]string{"a", "b", "c"},
			[]graph.DocumentRelationship{
				{Source: "b", Target: "a", Type: graph.RelationDependsOn},
				{Source: "c", Target: "b", Type: graph.RelationDependsOn},
			})
		a, err := NewAnalyzer(s, 1)
		if err != nil {
			t.Fatal(err)
		}
		impacts, err := a.ImpactOf("a")
		if err != nil {
			t.Fatal(err)
		}
		if len(impacts) != 1 || impacts[0].TargetPath != "b" {
			t.Fatalf("expected only b within depth 1, got %+v", impacts)
		}
	})

	t.Run("cycles terminate", func(t *testing.T) {
		s := buildGraph(t,
			[]string{"a", "b"},
			[]graph.DocumentRelationship{
				{Source: "a", Target: "b", Type: graph.RelationDependsOn},
				{Source: "b", Target: "a", Type: graph.RelationDependsOn},
			})
		a, err := NewAnalyzer(s, 0)
		if err != nil {
			t.Fatal(err)
		}
		impacts, err := a.ImpactOf("a")
		if err != nil {
			t.Fatal(err)
		}
		if len(impacts) != 1 {
			t.Fatalf("cycle produced %d impacts, want 1", len(impacts))
		}
	})

	t.Run("graph mutation invalidates cached results", func(t *testing.T) {
		s := buildGraph(t, []string{"core.md", "doc1"}, nil)
		a, err := NewAnalyzer(s, 0)
		if err != nil {
			t.Fatal(err)
		}

		impacts, err := a.ImpactOf("core.md")
		if err != nil {
			t.Fatal(err)
		}
		if len(impacts) != 0 {
			t.Fatalf("expected no impacts yet, got %+v", impacts)
		}

		if err := s.UpsertRelationship(context.Background(), graph.DocumentRelationship{
			Source: "doc1", Target: "core.md", Type: graph.RelationImpacts,
		}); err != nil {
			t.Fatal(err)
		}

		impacts, err = a.ImpactOf("core.md")
		if err != nil {
			t.Fatal(err)
		}
		if len(impacts) != 1 || impacts[0].TargetPath != "doc1" {
			t.Fatalf("stale cache served after mutation: %+v", impacts)
		}
	})
}

func TestEscalate(t *testing.T) {
	t.Run("raises severity on direct high impact", func(t *testing.T) {
		rec := model.NewInconsistency("a", "b", model.InconsistencyIntentMismatch, model.SeverityLow, 1)
		changed := Escalate(rec, []Impact{{TargetPath: "x", Level: LevelHigh, Depth: 1}})
		if !changed || rec.Severity != model.SeverityHigh {
			t.Fatalf("expected escalation to High, got %s (changed=%v)", rec.Severity, changed)
		}
	})

	t.Run("leaves severity without high impacts", func(t *testing.T) {
		rec := model.NewInconsistency("a", "b", model.InconsistencyIntentMismatch, model.SeverityMedium, 1)
		changed := Escalate(rec, []Impact{{TargetPath: "x", Level: LevelMedium, Depth: 2}})
		if changed || rec.Severity != model.SeverityMedium {
			t.Fatalf("unexpected escalation: %s (changed=%v)", rec.Severity, changed)
		}
	})

	t.Run("already high is a no-op", func(t *testing.T) {
		rec := model.NewInconsistency("a", "b", model.InconsistencyIntentMismatch, model.SeverityHigh, 1)
		if Escalate(rec, []Impact{{Level: LevelHigh}}) {
			t.Fatal("escalation reported for an already-High record")
		}
	})
}
