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

import "errors"

// Sentinel errors for the graph store.
var (
	// ErrUnknownDocument indicates the path has no node in the graph.
	ErrUnknownDocument = errors.New("document not in graph")

	// ErrUnresolvedTarget indicates a relationship target that does not
	// resolve to a tracked document.
	ErrUnresolvedTarget = errors.New("relationship target does not resolve")

	// ErrInvalidDepth indicates a traversal depth below the minimum of 1.
	ErrInvalidDepth = errors.New("traversal depth must be at least 1")

	// ErrEmptyPath indicates an empty document path.
	ErrEmptyPath = errors.New("document path must not be empty")

	// ErrSelfRelationship indicates an edge from a document to itself.
	ErrSelfRelationship = errors.New("document cannot relate to itself")
)
