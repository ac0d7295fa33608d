// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"reflect"
	"testing"
)

func TestStore_RelatedTo(t *testing.T) {
	s := newTestStore(t, "a.md", "b.md", "c.md", "d.md")
	mustRelate(t, s, "a.md", "b.md", RelationDependsOn)
	mustRelate(t, s, "b.md", "c.md", RelationDependsOn)
	mustRelate(t, s, "a.md", "d.md", RelationImpacts)

	t.Run("depth below one is invalid", func(t *testing.T) {
		if _, err := s.RelatedTo("a.md", RelationAny, 0); !errors.Is(err, ErrInvalidDepth) {
			t.Fatalf("expected ErrInvalidDepth, got %v", err)
		}
	})

	t.Run("unknown document errors", func(t *testing.T) {
		if _, err := s.RelatedTo("ghost.md", RelationAny, 1); !errors.Is(err, ErrUnknownDocument) {
			t.Fatalf("expected ErrUnknownDocument, got %v", err)
		}
	})

	t.Run("depth bounds the walk", func(t *testing.T) {
		got, err := s.RelatedTo("a.md", RelationAny, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Fatalf("depth 1 expected b.md and d.md, got %v", paths(got))
		}

		got, err = s.RelatedTo("a.md", RelationAny, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("depth 2 expected 3 documents, got %v", paths(got))
		}
	})

	t.Run("type filter restricts edges", func(t *testing.T) {
		got, err := s.RelatedTo("a.md", RelationImpacts, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Path != "d.md" {
			t.Fatalf("expected only d.md, got %v", paths(got))
		}
	})

	t.Run("start document is excluded", func(t *testing.T) {
		mustRelate(t, s, "c.md", "a.md", RelationDependsOn)
		got, err := s.RelatedTo("a.md", RelationAny, 10)
		if err != nil {
			t.Fatal(err)
		}
		for _, ref := range got {
			if ref.Path == "a.md" {
				t.Fatal("start document returned as its own relative")
			}
		}
	})
}

func TestStore_DetectCycles(t *testing.T) {
	t.Run("acyclic graph has no cycles", func(t *testing.T) {
		s := newTestStore(t, "a.md", "b.md")
		mustRelate(t, s, "a.md", "b.md", RelationDependsOn)
		if cycles := s.DetectCycles(); len(cycles) != 0 {
			t.Fatalf("unexpected cycles: %v", cycles)
		}
	})

	t.Run("reports a three-node cycle and terminates", func(t *testing.T) {
		s := newTestStore(t, "A", "B", "C")
		mustRelate(t, s, "A", "B", RelationDependsOn)
		mustRelate(t, s, "B", "C", RelationDependsOn)
		mustRelate(t, s, "C", "A", RelationDependsOn)

		cycles := s.DetectCycles()
		if len(cycles) != 1 {
			t.Fatalf("expected exactly one cycle, got %v", cycles)
		}
		want := []string{"A", "B", "C", "A"}
		if !reflect.DeepEqual(cycles[0], want) {
			t.Fatalf("expected cycle %v, got %v", want, cycles[0])
		}
	})

	t.Run("self-loops cannot exist, two-node cycles can", func(t *testing.T) {
		s := newTestStore(t, "x.md", "y.md")
		mustRelate(t, s, "x.md", "y.md", RelationDependsOn)
		mustRelate(t, s, "y.md", "x.md", RelationDependsOn)
		cycles := s.DetectCycles()
		if len(cycles) != 1 || len(cycles[0]) != 3 {
			t.Fatalf("expected one two-node cycle, got %v", cycles)
		}
	})
}

func paths(refs []DocumentReference) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Path)
	}
	return out
}
