// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discovery derives relationship edges from extracted file
// metadata. Discovery is pure with respect to the graph snapshot it is
// given: it proposes edges and broken-reference records, and the caller
// applies them to the store.
package discovery

import (
	"github.com/docsentry/docsentry/graph"
	"github.com/docsentry/docsentry/metadata"
	"github.com/docsentry/docsentry/model"
)

// Resolver is the read-only graph view used to resolve reference targets.
// *graph.Store satisfies it.
type Resolver interface {
	Contains(path string) bool
}

// Result holds the outcome of discovering one document's relationships.
type Result struct {
	// Relationships are the candidate edges whose targets resolved.
	Relationships []graph.DocumentRelationship

	// Broken holds one BrokenReference record per unresolved target.
	// No edge is created for these.
	Broken []*model.InconsistencyRecord
}

// Discover derives candidate edges for a document from its metadata.
//
// # Description
//
// Declared references and relationship-declaration entries map to the
// relation type they declare (DependsOn when unspecified); code imports
// map to DependsOn. A reference whose target does not resolve against the
// snapshot becomes exactly one BrokenReference inconsistency for that
// (source, target) pair instead of an edge.
//
// # Inputs
//
//   - meta: Validated metadata for the document.
//   - resolver: Read-only view of the current graph.
//
// # Outputs
//
//   - Result: Candidate edges and broken-reference records. Never nil
//     slices are required; empty result means no declared references.
func Discover(meta *metadata.FileMetadata, resolver Resolver) Result {
	var result Result
	seenEdges := make(map[string]struct{})
	seenBroken := make(map[string]struct{})

	for _, ref := range meta.References {
		if ref.Target == meta.Path {
			// Self-references carry no graph information.
			continue
		}

		if !resolver.Contains(ref.Target) {
			if _, ok := seenBroken[ref.Target]; ok {
				continue
			}
			seenBroken[ref.Target] = struct{}{}
			rec := model.NewInconsistency(meta.Path, ref.Target,
				model.InconsistencyBrokenReference, model.SeverityMedium, 1.0)
			rec.Details = map[string]string{
				"declared_kind": string(ref.Kind),
				"topic":         ref.Topic,
			}
			result.Broken = append(result.Broken, rec)
			continue
		}

		rel := graph.DocumentRelationship{
			Source: meta.Path,
			Target: ref.Target,
			Type:   relationFor(ref),
			Topic:  ref.Topic,
			Scope:  ref.Scope,
		}
		if _, ok := seenEdges[rel.Key()]; ok {
			continue
		}
		seenEdges[rel.Key()] = struct{}{}
		result.Relationships = append(result.Relationships, rel)
	}
	return result
}

// relationFor maps a declared reference to its relation type. Imports and
// plain references default to DependsOn; declaration entries carry an
// explicit relation name.
func relationFor(ref metadata.DeclaredReference) graph.RelationType {
	if ref.Relation != "" {
		if t, ok := graph.ParseRelationType(ref.Relation); ok {
			return t
		}
	}
	return graph.RelationDependsOn
}
