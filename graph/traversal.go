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
	"fmt"
	"log/slog"
	"sort"
)

// RelatedTo returns the documents reachable from path within depth hops,
// following outgoing edges.
//
// # Description
//
// Bounded-depth breadth-first traversal. A per-call visited set makes the
// traversal safe on graphs that accidentally contain cycles. The starting
// document is not included in the result.
//
// # Inputs
//
//   - path: Starting document.
//   - relType: Edge filter; RelationAny follows every edge type.
//   - depth: Maximum hop count, minimum 1.
//
// # Outputs
//
//   - []DocumentReference: Reachable documents in BFS order.
//   - error: ErrInvalidDepth for depth < 1, ErrUnknownDocument if path is
//     not tracked.
func (s *Store) RelatedTo(path string, relType RelationType, depth int) ([]DocumentReference, error) {
	if depth < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDepth, depth)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start, ok := s.index[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, path)
	}

	type hop struct {
		idx   int
		depth int
	}
	visited := map[int]struct{}{start: {}}
	queue := []hop{{idx: start, depth: 0}}
	var result []DocumentReference

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth == depth {
			continue
		}
		for _, e := range s.nodes[cur.idx].out {
			if relType != RelationAny && e.rel.Type != relType {
				continue
			}
			if _, seen := visited[e.target]; seen {
				continue
			}
			visited[e.target] = struct{}{}
			result = append(result, s.nodes[e.target].ref)
			queue = append(queue, hop{idx: e.target, depth: cur.depth + 1})
		}
	}
	return result, nil
}

// DetectCycles finds cycles in the graph.
//
// # Description
//
// Depth-first search with an explicit recursion stack. The graph is
// expected to form a DAG; cycles are reported as warnings and returned as
// path lists (first node repeated at the end), never treated as fatal.
//
// # Outputs
//
//   - [][]string: One path list per detected cycle, e.g.
//     [["a.md","b.md","c.md","a.md"]]. Empty for acyclic graphs.
func (s *Store) DetectCycles() [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // fully explored
	)
	color := make(map[int]int, len(s.index))
	var cycles [][]string

	for _, start := range s.sortedIndices() {
		if color[start] != white {
			continue
		}
		// Iterative DFS; frame.next tracks the next out-edge to explore.
		stack := []dfsFrame{{idx: start}}
		color[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(s.nodes[top.idx].out) {
				color[top.idx] = black
				stack = stack[:len(stack)-1]
				continue
			}
			target := s.nodes[top.idx].out[top.next].target
			top.next++

			switch color[target] {
			case white:
				color[target] = gray
				stack = append(stack, dfsFrame{idx: target})
			case gray:
				// Found a back edge: extract the cycle from the stack.
				cycle := s.extractCycle(stack, target)
				cycles = append(cycles, cycle)
				s.logger.Warn("relationship cycle detected",
					slog.Any("cycle", cycle))
			}
		}
	}
	return cycles
}

// dfsFrame is one frame of the iterative cycle-detection DFS.
type dfsFrame struct {
	idx  int
	next int
}

// extractCycle builds the path list for a back edge to target.
// Caller must hold at least the read lock.
func (s *Store) extractCycle(stack []dfsFrame, target int) []string {
	begin := 0
	for i, f := range stack {
		if f.idx == target {
			begin = i
			break
		}
	}
	cycle := make([]string, 0, len(stack)-begin+1)
	for _, f := range stack[begin:] {
		cycle = append(cycle, s.nodes[f.idx].ref.Path)
	}
	cycle = append(cycle, s.nodes[target].ref.Path)
	return cycle
}

// sortedIndices returns live arena indices ordered by path for
// deterministic traversal order. Caller must hold at least the read lock.
func (s *Store) sortedIndices() []int {
	paths := make([]string, 0, len(s.index))
	for p := range s.index {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	result := make([]int, 0, len(paths))
	for _, p := range paths {
		result = append(result, s.index[p])
	}
	return result
}
