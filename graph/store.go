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
	"fmt"
	"log/slog"
	"sync"
)

// Persistence is the repository surface the store mirrors mutations to.
// Every call may block on I/O; the store holds its lock across the call so
// the in-memory index and the repository never diverge.
type Persistence interface {
	// SaveDocument upserts a document record.
	SaveDocument(ctx context.Context, ref DocumentReference) error

	// DeleteDocument removes a document and, in the same repository
	// transaction, every relationship where it is source or target.
	DeleteDocument(ctx context.Context, path string) error

	// SaveRelationship upserts a relationship by its uniqueness key.
	SaveRelationship(ctx context.Context, rel DocumentRelationship) error

	// DeleteRelationships removes relationships from source, optionally
	// filtered by target ("" matches any) and type (RelationAny matches
	// any).
	DeleteRelationships(ctx context.Context, source, target string, relType RelationType) error
}

// edge is one directed relationship stored in the arena.
type edge struct {
	target int
	rel    DocumentRelationship
}

// node is one arena slot. Slots are recycled through a free list so edge
// indices stay valid without pointer-based adjacency.
type node struct {
	ref DocumentReference
	out []edge
	in  []int // arena indices of source nodes, one entry per in-edge
}

// Store is the relationship graph store.
//
// # Description
//
// Holds the document graph in an index-based arena (path → slot map plus
// adjacency lists of slot indices) and mirrors every mutation to a backing
// repository before applying it in memory. A mutation that fails to
// persist leaves the in-memory graph untouched.
//
// # Thread Safety
//
// Safe for concurrent use. Mutations serialize through a single mutex;
// readers never observe a half-applied mutation.
type Store struct {
	mu      sync.RWMutex
	repo    Persistence
	logger  *slog.Logger
	nodes   []node
	free    []int
	index   map[string]int
	version uint64
}

// NewStore creates a graph store backed by the given repository.
//
// # Inputs
//
//   - repo: Backing repository. May be nil for a purely in-memory store
//     (tests, dry runs).
//   - logger: Logger for cycle warnings. Nil uses slog.Default().
func NewStore(repo Persistence, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		logger: logger,
		index:  make(map[string]int),
	}
}

// Version returns the monotonic mutation counter. Any successful mutation
// increments it; readers use it as a cache key.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of live documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Contains reports whether the path resolves to a tracked document.
func (s *Store) Contains(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[path]
	return ok
}

// Document returns a copy of the reference for the given path.
func (s *Store) Document(path string) (DocumentReference, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[path]
	if !ok {
		return DocumentReference{}, false
	}
	return s.nodes[idx].ref, true
}

// Documents returns copies of all tracked document references.
func (s *Store) Documents() []DocumentReference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]DocumentReference, 0, len(s.index))
	for _, idx := range s.index {
		result = append(result, s.nodes[idx].ref)
	}
	return result
}

// UpsertDocument creates or replaces the document record for ref.Path.
//
// # Outputs
//
//   - error: ErrEmptyPath on a missing path, or the repository error if
//     persistence failed (in-memory state is then unchanged).
func (s *Store) UpsertDocument(ctx context.Context, ref DocumentReference) error {
	if ref.Path == "" {
		return ErrEmptyPath
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveDocument(ctx, ref); err != nil {
			return fmt.Errorf("persist document %s: %w", ref.Path, err)
		}
	}

	if idx, ok := s.index[ref.Path]; ok {
		s.nodes[idx].ref = ref
	} else {
		s.index[ref.Path] = s.allocate(ref)
	}
	s.version++
	return nil
}

// RemoveDocument deletes the document and every relationship where it is
// source or target. No dangling edges survive the call.
//
// # Outputs
//
//   - error: ErrUnknownDocument if the path is not tracked, or the
//     repository error if persistence failed.
func (s *Store) RemoveDocument(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, path)
	}

	if s.repo != nil {
		if err := s.repo.DeleteDocument(ctx, path); err != nil {
			return fmt.Errorf("delete document %s: %w", path, err)
		}
	}

	// Drop out-edges: unlink from each target's in-list.
	for _, e := range s.nodes[idx].out {
		s.removeInRef(e.target, idx)
	}
	// Drop in-edges: unlink from each source's out-list.
	for _, src := range dedupeInts(s.nodes[idx].in) {
		s.removeOutEdges(src, idx)
	}

	s.nodes[idx] = node{}
	s.free = append(s.free, idx)
	delete(s.index, path)
	s.version++
	return nil
}

// UpsertRelationship creates or replaces the edge identified by the
// relationship's (source, target, type, topic) key.
//
// # Outputs
//
//   - error: ErrUnknownDocument if the source is not tracked,
//     ErrUnresolvedTarget if the target is not tracked,
//     ErrSelfRelationship for self-edges, or a repository error.
func (s *Store) UpsertRelationship(ctx context.Context, rel DocumentRelationship) error {
	if rel.Source == "" || rel.Target == "" {
		return ErrEmptyPath
	}
	if rel.Source == rel.Target {
		return fmt.Errorf("%w: %s", ErrSelfRelationship, rel.Source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	srcIdx, ok := s.index[rel.Source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, rel.Source)
	}
	dstIdx, ok := s.index[rel.Target]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrUnresolvedTarget, rel.Source, rel.Target)
	}

	if s.repo != nil {
		if err := s.repo.SaveRelationship(ctx, rel); err != nil {
			return fmt.Errorf("persist relationship %s: %w", rel.Key(), err)
		}
	}

	key := rel.Key()
	for i, e := range s.nodes[srcIdx].out {
		if e.rel.Key() == key {
			s.nodes[srcIdx].out[i].rel = rel
			s.version++
			return nil
		}
	}
	s.nodes[srcIdx].out = append(s.nodes[srcIdx].out, edge{target: dstIdx, rel: rel})
	s.nodes[dstIdx].in = append(s.nodes[dstIdx].in, srcIdx)
	s.version++
	return nil
}

// RemoveRelationships deletes edges from source, optionally filtered by
// target ("" matches any) and relation type (RelationAny matches any).
func (s *Store) RemoveRelationships(ctx context.Context, source, target string, relType RelationType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcIdx, ok := s.index[source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, source)
	}

	if s.repo != nil {
		if err := s.repo.DeleteRelationships(ctx, source, target, relType); err != nil {
			return fmt.Errorf("delete relationships from %s: %w", source, err)
		}
	}

	kept := s.nodes[srcIdx].out[:0]
	for _, e := range s.nodes[srcIdx].out {
		if (target == "" || e.rel.Target == target) && (relType == RelationAny || e.rel.Type == relType) {
			s.removeInRef(e.target, srcIdx)
			continue
		}
		kept = append(kept, e)
	}
	s.nodes[srcIdx].out = kept
	s.version++
	return nil
}

// RelationshipsFrom returns copies of all edges whose source is path.
func (s *Store) RelationshipsFrom(path string) []DocumentRelationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[path]
	if !ok {
		return nil
	}
	result := make([]DocumentRelationship, 0, len(s.nodes[idx].out))
	for _, e := range s.nodes[idx].out {
		result = append(result, e.rel)
	}
	return result
}

// RelationshipsTo returns copies of all edges whose target is path.
func (s *Store) RelationshipsTo(path string) []DocumentRelationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[path]
	if !ok {
		return nil
	}
	var result []DocumentRelationship
	for _, src := range dedupeInts(s.nodes[idx].in) {
		for _, e := range s.nodes[src].out {
			if e.target == idx {
				result = append(result, e.rel)
			}
		}
	}
	return result
}

// Restore loads documents and relationships into the in-memory index
// without writing to the repository. Used at startup to rebuild the graph
// from persisted state; invalid entries are skipped with a warning.
func (s *Store) Restore(docs []DocumentReference, rels []DocumentRelationship) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ref := range docs {
		if ref.Path == "" {
			continue
		}
		if idx, ok := s.index[ref.Path]; ok {
			s.nodes[idx].ref = ref
		} else {
			s.index[ref.Path] = s.allocate(ref)
		}
	}
	for _, rel := range rels {
		srcIdx, ok := s.index[rel.Source]
		if !ok {
			s.logger.Warn("restore: dropping relationship with unknown source",
				slog.String("source", rel.Source), slog.String("target", rel.Target))
			continue
		}
		dstIdx, ok := s.index[rel.Target]
		if !ok {
			s.logger.Warn("restore: dropping relationship with unknown target",
				slog.String("source", rel.Source), slog.String("target", rel.Target))
			continue
		}
		s.nodes[srcIdx].out = append(s.nodes[srcIdx].out, edge{target: dstIdx, rel: rel})
		s.nodes[dstIdx].in = append(s.nodes[dstIdx].in, srcIdx)
	}
	s.version++
}

// allocate places a document in a free arena slot, growing if needed.
// Caller must hold the write lock.
func (s *Store) allocate(ref DocumentReference) int {
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.nodes[idx] = node{ref: ref}
		return idx
	}
	s.nodes = append(s.nodes, node{ref: ref})
	return len(s.nodes) - 1
}

// removeInRef removes one in-list entry for src on the target slot.
// Caller must hold the write lock.
func (s *Store) removeInRef(target, src int) {
	in := s.nodes[target].in
	for i, v := range in {
		if v == src {
			s.nodes[target].in = append(in[:i], in[i+1:]...)
			return
		}
	}
}

// removeOutEdges drops every out-edge of src that points at target.
// Caller must hold the write lock.
func (s *Store) removeOutEdges(src, target int) {
	kept := s.nodes[src].out[:0]
	for _, e := range s.nodes[src].out {
		if e.target != target {
			kept = append(kept, e)
		}
	}
	s.nodes[src].out = kept
}

// dedupeInts returns the unique values of xs, preserving first-seen order.
func dedupeInts(xs []int) []int {
	seen := make(map[int]struct{}, len(xs))
	result := make([]int, 0, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		result = append(result, x)
	}
	return result
}
