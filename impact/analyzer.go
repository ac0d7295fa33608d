// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package impact computes the blast radius of a document change: the set
// of documents that impact or depend on it, with a level that decays with
// graph distance. Analysis is read-only with respect to the graph.
package impact

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/docsentry/docsentry/graph"
	"github.com/docsentry/docsentry/model"
)

// Level ranks how strongly a document is affected.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "High"
	case LevelMedium:
		return "Medium"
	default:
		return "Low"
	}
}

// Impact is one affected document.
type Impact struct {
	// TargetPath is the affected document.
	TargetPath string

	// RelationType is the edge type the impact propagated through.
	RelationType graph.RelationType

	// Level is High for direct edges and decays with depth.
	Level Level

	// Depth is the hop count from the changed document (1 = direct).
	Depth int
}

// GraphView is the read-only graph surface the analyzer traverses.
// *graph.Store satisfies it.
type GraphView interface {
	Contains(path string) bool
	RelationshipsTo(path string) []graph.DocumentRelationship
	Version() uint64
}

// DefaultMaxDepth bounds the traversal when no depth is configured.
const DefaultMaxDepth = 3

// cacheSize is the number of (path, graph version) results retained.
const cacheSize = 256

type cacheKey struct {
	path    string
	version uint64
}

// Analyzer computes change impact over the relationship graph.
//
// # Thread Safety
//
// Safe for concurrent use. Results are cached per (path, graph version),
// so a graph mutation naturally invalidates stale entries.
type Analyzer struct {
	graph    GraphView
	maxDepth int
	cache    *lru.Cache[cacheKey, []Impact]
}

// NewAnalyzer creates an impact analyzer over the given graph view.
//
// # Inputs
//
//   - g: Graph view. Must not be nil.
//   - maxDepth: Traversal bound; values < 1 use DefaultMaxDepth.
func NewAnalyzer(g GraphView, maxDepth int) (*Analyzer, error) {
	if g == nil {
		return nil, fmt.Errorf("graph view is required")
	}
	if maxDepth < 1 {
		maxDepth = DefaultMaxDepth
	}
	cache, err := lru.New[cacheKey, []Impact](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create impact cache: %w", err)
	}
	return &Analyzer{graph: g, maxDepth: maxDepth, cache: cache}, nil
}

// ImpactOf returns the documents affected by a change to path.
//
// # Description
//
// Breadth-first traversal against the edge direction, following Impacts
// and DependsOn edges only: the documents returned are those whose
// content the changed document feeds. Direct neighbors get LevelHigh,
// depth 2 LevelMedium, deeper hops LevelLow.
//
// # Outputs
//
//   - []Impact: Affected documents in BFS order. Empty when nothing
//     points at path.
//   - error: graph.ErrUnknownDocument if path is not tracked.
func (a *Analyzer) ImpactOf(path string) ([]Impact, error) {
	if !a.graph.Contains(path) {
		return nil, fmt.Errorf("%w: %s", graph.ErrUnknownDocument, path)
	}

	key := cacheKey{path: path, version: a.graph.Version()}
	if cached, ok := a.cache.Get(key); ok {
		return cached, nil
	}

	type hop struct {
		path  string
		depth int
	}
	visited := map[string]struct{}{path: {}}
	queue := []hop{{path: path, depth: 0}}
	var impacts []Impact

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth == a.maxDepth {
			continue
		}
		for _, rel := range a.graph.RelationshipsTo(cur.path) {
			if rel.Type != graph.RelationImpacts && rel.Type != graph.RelationDependsOn {
				continue
			}
			if _, seen := visited[rel.Source]; seen {
				continue
			}
			visited[rel.Source] = struct{}{}
			depth := cur.depth + 1
			impacts = append(impacts, Impact{
				TargetPath:   rel.Source,
				RelationType: rel.Type,
				Level:        levelForDepth(depth),
				Depth:        depth,
			})
			queue = append(queue, hop{path: rel.Source, depth: depth})
		}
	}

	a.cache.Add(key, impacts)
	return impacts, nil
}

// Escalate raises a record's severity to High when any directly impacted
// document carries a High impact level. Returns true if the severity
// changed.
func Escalate(rec *model.InconsistencyRecord, impacts []Impact) bool {
	if rec.Severity >= model.SeverityHigh {
		return false
	}
	for _, imp := range impacts {
		if imp.Level == LevelHigh {
			rec.Severity = model.SeverityHigh
			return true
		}
	}
	return false
}

// levelForDepth maps hop distance to an impact level.
func levelForDepth(depth int) Level {
	switch depth {
	case 1:
		return LevelHigh
	case 2:
		return LevelMedium
	default:
		return LevelLow
	}
}
