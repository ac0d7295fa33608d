// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/docsentry/docsentry/graph"
	"github.com/docsentry/docsentry/model"
)

// stubGraph is a minimal GraphView for engine tests.
type stubGraph struct {
	docs map[string]graph.DocumentReference
	from map[string][]graph.DocumentRelationship
}

func newStubGraph() *stubGraph {
	return &stubGraph{
		docs: make(map[string]graph.DocumentReference),
		from: make(map[string][]graph.DocumentRelationship),
	}
}

func (g *stubGraph) add(ref graph.DocumentReference) { g.docs[ref.Path] = ref }

func (g *stubGraph) relate(rel graph.DocumentRelationship) {
	g.from[rel.Source] = append(g.from[rel.Source], rel)
}

func (g *stubGraph) Contains(path string) bool { _, ok := g.docs[path]; return ok }

func (g *stubGraph) Document(path string) (graph.DocumentReference, bool) {
	ref, ok := g.docs[path]
	return ref, ok
}

func (g *stubGraph) Documents() []graph.DocumentReference {
	out := make([]graph.DocumentReference, 0, len(g.docs))
	for _, ref := range g.docs {
		out = append(out, ref)
	}
	return out
}

func (g *stubGraph) RelationshipsFrom(path string) []graph.DocumentRelationship {
	return g.from[path]
}

func (g *stubGraph) RelationshipsTo(path string) []graph.DocumentRelationship {
	var out []graph.DocumentRelationship
	for _, rels := range g.from {
		for _, rel := range rels {
			if rel.Target == path {
				out = append(out, rel)
			}
		}
	}
	return out
}

// namedAnalyzer wraps ad-hoc rules for registration in tests.
type namedAnalyzer struct {
	name  string
	rules []Rule
}

func (a *namedAnalyzer) Name() string  { return a.name }
func (a *namedAnalyzer) Rules() []Rule { return a.rules }

func simpleRule(id string, typ AnalysisType, apply func(context.Context, Inputs) ([]*model.InconsistencyRecord, error)) Rule {
	return Rule{ID: id, Type: typ, Apply: apply}
}

func TestEngine_Registration(t *testing.T) {
	t.Run("rejects nil analyzer", func(t *testing.T) {
		e := NewEngine(nil)
		if err := e.RegisterAnalyzer(nil); !errors.Is(err, ErrNilAnalyzer) {
			t.Fatalf("expected ErrNilAnalyzer, got %v", err)
		}
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		e := NewEngine(nil)
		a := &namedAnalyzer{name: "dup"}
		if err := e.RegisterAnalyzer(a); err != nil {
			t.Fatal(err)
		}
		if err := e.RegisterAnalyzer(a); !errors.Is(err, ErrDuplicateAnalyzer) {
			t.Fatalf("expected ErrDuplicateAnalyzer, got %v", err)
		}
	})

	t.Run("lists analyzers in order", func(t *testing.T) {
		e := NewEngine(nil)
		for _, name := range []string{"one", "two", "three"} {
			if err := e.RegisterAnalyzer(&namedAnalyzer{name: name}); err != nil {
				t.Fatal(err)
			}
		}
		got := e.Analyzers()
		want := []string{"one", "two", "three"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("analyzer order %v, want %v", got, want)
			}
		}
	})
}

func TestEngine_Run(t *testing.T) {
	in := Inputs{Graph: newStubGraph()}

	t.Run("rules run in registration order", func(t *testing.T) {
		e := NewEngine(nil)
		var order []string
		mk := func(id string) Rule {
			return simpleRule(id, AnalysisDocDoc, func(context.Context, Inputs) ([]*model.InconsistencyRecord, error) {
				order = append(order, id)
				return nil, nil
			})
		}
		_ = e.RegisterAnalyzer(&namedAnalyzer{name: "a", rules: []Rule{mk("a/1"), mk("a/2")}})
		_ = e.RegisterAnalyzer(&namedAnalyzer{name: "b", rules: []Rule{mk("b/1")}})

		if _, err := e.Run(context.Background(), AnalysisDocDoc, in); err != nil {
			t.Fatal(err)
		}
		want := []string{"a/1", "a/2", "b/1"}
		for i := range want {
			if order[i] != want[i] {
				t.Fatalf("rule order %v, want %v", order, want)
			}
		}
	})

	t.Run("type filter selects matching rules only", func(t *testing.T) {
		e := NewEngine(nil)
		ran := false
		_ = e.RegisterAnalyzer(&namedAnalyzer{name: "a", rules: []Rule{
			simpleRule("a/code", AnalysisCodeDoc, func(context.Context, Inputs) ([]*model.InconsistencyRecord, error) {
				ran = true
				return nil, nil
			}),
		}})
		if _, err := e.Run(context.Background(), AnalysisDocDoc, in); err != nil {
			t.Fatal(err)
		}
		if ran {
			t.Fatal("code_doc rule ran for doc_doc analysis")
		}
	})

	t.Run("a failing rule does not block the rest", func(t *testing.T) {
		e := NewEngine(nil)
		_ = e.RegisterAnalyzer(&namedAnalyzer{name: "bad", rules: []Rule{
			simpleRule("bad/error", AnalysisDocDoc, func(context.Context, Inputs) ([]*model.InconsistencyRecord, error) {
				return nil, errors.New("boom")
			}),
		}})
		_ = e.RegisterAnalyzer(&namedAnalyzer{name: "good", rules: []Rule{
			simpleRule("good/record", AnalysisDocDoc, func(context.Context, Inputs) ([]*model.InconsistencyRecord, error) {
				return []*model.InconsistencyRecord{
					model.NewInconsistency("a.md", "b.md", model.InconsistencyIntentMismatch, model.SeverityLow, 1),
				}, nil
			}),
		}})

		records, err := e.Run(context.Background(), AnalysisDocDoc, in)
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 {
			t.Fatalf("expected the surviving rule's record, got %d", len(records))
		}
	})

	t.Run("a panicking rule is isolated", func(t *testing.T) {
		e := NewEngine(nil)
		_ = e.RegisterAnalyzer(&namedAnalyzer{name: "panicky", rules: []Rule{
			simpleRule("panicky/rule", AnalysisDocDoc, func(context.Context, Inputs) ([]*model.InconsistencyRecord, error) {
				panic("rule bug")
			}),
			simpleRule("panicky/next", AnalysisDocDoc, func(context.Context, Inputs) ([]*model.InconsistencyRecord, error) {
				return []*model.InconsistencyRecord{
					model.NewInconsistency("a.md", "b.md", model.InconsistencyTerminology, model.SeverityLow, 1),
				}, nil
			}),
		}})

		records, err := e.Run(context.Background(), AnalysisDocDoc, in)
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 {
			t.Fatalf("panic aborted remaining rules, got %d records", len(records))
		}
	})

	t.Run("cancellation stops between rules", func(t *testing.T) {
		e := NewEngine(nil)
		ctx, cancel := context.WithCancel(context.Background())
		_ = e.RegisterAnalyzer(&namedAnalyzer{name: "a", rules: []Rule{
			simpleRule("a/first", AnalysisDocDoc, func(context.Context, Inputs) ([]*model.InconsistencyRecord, error) {
				cancel()
				return nil, nil
			}),
			simpleRule("a/second", AnalysisDocDoc, func(context.Context, Inputs) ([]*model.InconsistencyRecord, error) {
				t.Fatal("rule ran after cancellation")
				return nil, nil
			}),
		}})

		if _, err := e.Run(ctx, AnalysisDocDoc, in); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestDedupeOpen(t *testing.T) {
	openRec := model.NewInconsistency("a.md", "b.md", model.InconsistencyIntentMismatch, model.SeverityLow, 1)
	pending := model.NewInconsistency("a.md", "c.md", model.InconsistencyIntentMismatch, model.SeverityLow, 1)
	pending.Status = model.StatusInRecommendation
	resolved := model.NewInconsistency("a.md", "d.md", model.InconsistencyIntentMismatch, model.SeverityLow, 1)
	resolved.Status = model.StatusResolved

	existing := []*model.InconsistencyRecord{openRec, pending, resolved}

	fresh := []*model.InconsistencyRecord{
		// Same key as openRec: dropped.
		model.NewInconsistency("a.md", "b.md", model.InconsistencyIntentMismatch, model.SeverityLow, 1),
		// Same key as pending: dropped.
		model.NewInconsistency("a.md", "c.md", model.InconsistencyIntentMismatch, model.SeverityLow, 1),
		// Same key as resolved: kept, resolution does not block re-detection.
		model.NewInconsistency("a.md", "d.md", model.InconsistencyIntentMismatch, model.SeverityLow, 1),
		// Intra-batch duplicate: second copy dropped.
		model.NewInconsistency("x.md", "y.md", model.InconsistencyTerminology, model.SeverityLow, 1),
		model.NewInconsistency("x.md", "y.md", model.InconsistencyTerminology, model.SeverityLow, 1),
	}

	got := DedupeOpen(fresh, existing)
	if len(got) != 2 {
		t.Fatalf("expected 2 surviving records, got %d", len(got))
	}
	if got[0].TargetDoc != "d.md" || got[1].SourceDoc != "x.md" {
		t.Fatalf("unexpected survivors: %+v", got)
	}

	// Re-running with unchanged inputs yields nothing new.
	again := DedupeOpen(fresh, append(existing, got...))
	if len(again) != 0 {
		t.Fatalf("re-run created %d duplicate records", len(again))
	}
}
