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
	"context"
	"errors"
	"testing"
	"time"
)

// newTestStore returns an in-memory store with the given documents added.
func newTestStore(t *testing.T, paths ...string) *Store {
	t.Helper()
	s := NewStore(nil, nil)
	for _, p := range paths {
		if err := s.UpsertDocument(context.Background(), testDoc(p)); err != nil {
			t.Fatalf("UpsertDocument(%s) failed: %v", p, err)
		}
	}
	return s
}

func testDoc(path string) DocumentReference {
	return DocumentReference{
		Path:         path,
		Kind:         DocumentKindMarkdown,
		LastModified: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func mustRelate(t *testing.T, s *Store, source, target string, typ RelationType) {
	t.Helper()
	rel := DocumentRelationship{Source: source, Target: target, Type: typ}
	if err := s.UpsertRelationship(context.Background(), rel); err != nil {
		t.Fatalf("UpsertRelationship(%s->%s) failed: %v", source, target, err)
	}
}

func TestStore_UpsertDocument(t *testing.T) {
	t.Run("adds and updates a document", func(t *testing.T) {
		s := newTestStore(t, "docs/a.md")
		if !s.Contains("docs/a.md") {
			t.Fatal("expected document to be tracked")
		}
		if s.Len() != 1 {
			t.Fatalf("expected 1 document, got %d", s.Len())
		}

		updated := testDoc("docs/a.md")
		updated.ContentDigest = "abc123"
		if err := s.UpsertDocument(context.Background(), updated); err != nil {
			t.Fatalf("second upsert failed: %v", err)
		}
		if s.Len() != 1 {
			t.Fatalf("upsert duplicated the document, len=%d", s.Len())
		}
		ref, ok := s.Document("docs/a.md")
		if !ok || ref.ContentDigest != "abc123" {
			t.Fatalf("expected updated digest, got %+v ok=%v", ref, ok)
		}
	})

	t.Run("rejects empty path", func(t *testing.T) {
		s := NewStore(nil, nil)
		err := s.UpsertDocument(context.Background(), DocumentReference{})
		if !errors.Is(err, ErrEmptyPath) {
			t.Fatalf("expected ErrEmptyPath, got %v", err)
		}
	})

	t.Run("increments version", func(t *testing.T) {
		s := NewStore(nil, nil)
		before := s.Version()
		if err := s.UpsertDocument(context.Background(), testDoc("docs/a.md")); err != nil {
			t.Fatal(err)
		}
		if s.Version() <= before {
			t.Fatalf("version did not advance: %d -> %d", before, s.Version())
		}
	})
}

func TestStore_UpsertRelationship(t *testing.T) {
	t.Run("requires a known source", func(t *testing.T) {
		s := newTestStore(t, "b.md")
		err := s.UpsertRelationship(context.Background(), DocumentRelationship{
			Source: "missing.md", Target: "b.md", Type: RelationDependsOn,
		})
		if !errors.Is(err, ErrUnknownDocument) {
			t.Fatalf("expected ErrUnknownDocument, got %v", err)
		}
	})

	t.Run("requires a resolvable target", func(t *testing.T) {
		s := newTestStore(t, "a.md")
		err := s.UpsertRelationship(context.Background(), DocumentRelationship{
			Source: "a.md", Target: "missing.md", Type: RelationDependsOn,
		})
		if !errors.Is(err, ErrUnresolvedTarget) {
			t.Fatalf("expected ErrUnresolvedTarget, got %v", err)
		}
	})

	t.Run("rejects self edges", func(t *testing.T) {
		s := newTestStore(t, "a.md")
		err := s.UpsertRelationship(context.Background(), DocumentRelationship{
			Source: "a.md", Target: "a.md", Type: RelationDependsOn,
		})
		if !errors.Is(err, ErrSelfRelationship) {
			t.Fatalf("expected ErrSelfRelationship, got %v", err)
		}
	})

	t.Run("replaces by uniqueness key", func(t *testing.T) {
		s := newTestStore(t, "a.md", "b.md")
		mustRelate(t, s, "a.md", "b.md", RelationDependsOn)
		rel := DocumentRelationship{Source: "a.md", Target: "b.md", Type: RelationDependsOn, Scope: "api"}
		if err := s.UpsertRelationship(context.Background(), rel); err != nil {
			t.Fatal(err)
		}
		out := s.RelationshipsFrom("a.md")
		if len(out) != 1 {
			t.Fatalf("expected 1 edge after replace, got %d", len(out))
		}
		if out[0].Scope != "api" {
			t.Fatalf("expected replaced edge, got %+v", out[0])
		}
	})
}

func TestStore_RemoveDocument(t *testing.T) {
	t.Run("leaves no dangling edges", func(t *testing.T) {
		s := newTestStore(t, "a.md", "b.md", "c.md")
		mustRelate(t, s, "a.md", "b.md", RelationDependsOn)
		mustRelate(t, s, "b.md", "c.md", RelationImpacts)
		mustRelate(t, s, "c.md", "b.md", RelationExtends)

		if err := s.RemoveDocument(context.Background(), "b.md"); err != nil {
			t.Fatalf("RemoveDocument failed: %v", err)
		}

		if s.Contains("b.md") {
			t.Fatal("document still tracked after removal")
		}
		for _, p := range []string{"a.md", "c.md"} {
			for _, rel := range s.RelationshipsFrom(p) {
				if rel.Target == "b.md" {
					t.Fatalf("dangling out-edge %s -> b.md", p)
				}
			}
			for _, rel := range s.RelationshipsTo(p) {
				if rel.Source == "b.md" {
					t.Fatalf("dangling in-edge b.md -> %s", p)
				}
			}
		}
	})

	t.Run("unknown document errors", func(t *testing.T) {
		s := NewStore(nil, nil)
		err := s.RemoveDocument(context.Background(), "ghost.md")
		if !errors.Is(err, ErrUnknownDocument) {
			t.Fatalf("expected ErrUnknownDocument, got %v", err)
		}
	})

	t.Run("slot is recycled", func(t *testing.T) {
		s := newTestStore(t, "a.md", "b.md")
		mustRelate(t, s, "a.md", "b.md", RelationDependsOn)
		if err := s.RemoveDocument(context.Background(), "b.md"); err != nil {
			t.Fatal(err)
		}
		// Reuse the freed slot and make sure old edges do not resurface.
		if err := s.UpsertDocument(context.Background(), testDoc("d.md")); err != nil {
			t.Fatal(err)
		}
		if got := s.RelationshipsTo("d.md"); len(got) != 0 {
			t.Fatalf("recycled slot inherited edges: %+v", got)
		}
	})
}

func TestStore_RemoveRelationships(t *testing.T) {
	s := newTestStore(t, "a.md", "b.md", "c.md")
	mustRelate(t, s, "a.md", "b.md", RelationDependsOn)
	mustRelate(t, s, "a.md", "c.md", RelationImpacts)

	t.Run("filters by target", func(t *testing.T) {
		if err := s.RemoveRelationships(context.Background(), "a.md", "b.md", RelationAny); err != nil {
			t.Fatal(err)
		}
		out := s.RelationshipsFrom("a.md")
		if len(out) != 1 || out[0].Target != "c.md" {
			t.Fatalf("expected only a.md->c.md to survive, got %+v", out)
		}
	})

	t.Run("wildcard clears everything", func(t *testing.T) {
		if err := s.RemoveRelationships(context.Background(), "a.md", "", RelationAny); err != nil {
			t.Fatal(err)
		}
		if out := s.RelationshipsFrom("a.md"); len(out) != 0 {
			t.Fatalf("expected no edges, got %+v", out)
		}
	})
}

func TestStore_Restore(t *testing.T) {
	s := NewStore(nil, nil)
	docs := []DocumentReference{testDoc("a.md"), testDoc("b.md")}
	rels := []DocumentRelationship{
		{Source: "a.md", Target: "b.md", Type: RelationDependsOn},
		{Source: "a.md", Target: "ghost.md", Type: RelationDependsOn},
	}

	s.Restore(docs, rels)

	if s.Len() != 2 {
		t.Fatalf("expected 2 documents, got %d", s.Len())
	}
	// The edge to the missing document is skipped, not fatal.
	if out := s.RelationshipsFrom("a.md"); len(out) != 1 || out[0].Target != "b.md" {
		t.Fatalf("unexpected restored edges: %+v", out)
	}
}

// failingRepo fails every mutation, for partial-write rejection tests.
type failingRepo struct{}

var errRepoDown = errors.New("repository down")

func (failingRepo) SaveDocument(context.Context, DocumentReference) error  { return errRepoDown }
func (failingRepo) DeleteDocument(context.Context, string) error           { return errRepoDown }
func (failingRepo) SaveRelationship(context.Context, DocumentRelationship) error {
	return errRepoDown
}
func (failingRepo) DeleteRelationships(context.Context, string, string, RelationType) error {
	return errRepoDown
}

func TestStore_FailedPersistenceLeavesMemoryUntouched(t *testing.T) {
	s := NewStore(failingRepo{}, nil)
	err := s.UpsertDocument(context.Background(), testDoc("a.md"))
	if !errors.Is(err, errRepoDown) {
		t.Fatalf("expected repository error, got %v", err)
	}
	if s.Contains("a.md") {
		t.Fatal("in-memory graph applied a write the repository rejected")
	}
	if s.Version() != 0 {
		t.Fatalf("version advanced on failed write: %d", s.Version())
	}
}
