// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules implements the inconsistency rule engine: a registry of
// pluggable analyzers whose rules are evaluated against the relationship
// graph and extracted metadata.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/docsentry/docsentry/graph"
	"github.com/docsentry/docsentry/metadata"
	"github.com/docsentry/docsentry/model"
)

// Sentinel errors for analyzer registration.
var (
	// ErrNilAnalyzer indicates a nil analyzer was registered.
	ErrNilAnalyzer = errors.New("analyzer must not be nil")

	// ErrDuplicateAnalyzer indicates an analyzer name is already registered.
	ErrDuplicateAnalyzer = errors.New("analyzer already registered")
)

// AnalysisType selects which rules apply to a unit of work.
type AnalysisType string

const (
	// AnalysisCodeDoc checks a code file against its documentation.
	AnalysisCodeDoc AnalysisType = "code_doc"

	// AnalysisDocDoc checks documentation files against each other.
	AnalysisDocDoc AnalysisType = "doc_doc"

	// AnalysisFullProject checks project-wide invariants.
	AnalysisFullProject AnalysisType = "full_project"
)

// GraphView is the read-only graph surface rules evaluate against.
// *graph.Store satisfies it.
type GraphView interface {
	Contains(path string) bool
	Document(path string) (graph.DocumentReference, bool)
	Documents() []graph.DocumentReference
	RelationshipsFrom(path string) []graph.DocumentRelationship
	RelationshipsTo(path string) []graph.DocumentRelationship
}

// MetaLookup resolves the latest extracted metadata for a path.
type MetaLookup func(path string) (*metadata.FileMetadata, bool)

// Inputs is everything a rule may inspect. Rules must treat all fields as
// read-only.
type Inputs struct {
	// Doc is the document under analysis. Zero for full-project rules.
	Doc graph.DocumentReference

	// Meta is the document's extracted metadata, nil if unavailable.
	Meta *metadata.FileMetadata

	// Graph is the current graph snapshot.
	Graph GraphView

	// Lookup resolves metadata for related documents. Never nil when the
	// engine is driven by the analysis pipeline.
	Lookup MetaLookup
}

// summary renders a compact inputs description for failure logs.
func (in Inputs) summary() string {
	docs := "all"
	if in.Doc.Path != "" {
		docs = in.Doc.Path
	}
	return fmt.Sprintf("doc=%s graph_size=%d", docs, len(in.Graph.Documents()))
}

// Rule is a single named consistency check.
type Rule struct {
	// ID identifies the rule in logs and results.
	ID string

	// Type is the analysis type this rule participates in.
	Type AnalysisType

	// Apply evaluates the rule. Returned records must be freshly created
	// open records; the pipeline deduplicates them against persisted
	// open records.
	Apply func(ctx context.Context, in Inputs) ([]*model.InconsistencyRecord, error)
}

// Analyzer contributes a set of rules to the engine.
type Analyzer interface {
	// Name identifies the analyzer; must be unique per engine.
	Name() string

	// Rules returns the analyzer's rules. Called once at registration.
	Rules() []Rule
}

// Engine is the inconsistency rule engine.
//
// # Description
//
// Holds registered analyzers and evaluates their rules in registration
// order. A failing rule (error or panic) is logged with its rule ID and an
// inputs summary, then skipped — one bad rule must not block unrelated
// analyses. This is the single place where the engine's throw-on-error
// policy is deliberately relaxed.
//
// # Thread Safety
//
// Safe for concurrent use after construction. Registration and evaluation
// may interleave.
type Engine struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	names     map[string]struct{}
	rules     []Rule
	analyzers []Analyzer
}

// NewEngine creates an empty rule engine.
//
// # Inputs
//
//   - logger: Logger for rule-failure isolation. Nil uses slog.Default().
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger: logger,
		names:  make(map[string]struct{}),
	}
}

// RegisterAnalyzer adds an analyzer's rules to the engine.
//
// # Outputs
//
//   - error: ErrNilAnalyzer or ErrDuplicateAnalyzer on invalid input.
func (e *Engine) RegisterAnalyzer(a Analyzer) error {
	if a == nil {
		return ErrNilAnalyzer
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.names[a.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAnalyzer, a.Name())
	}
	e.names[a.Name()] = struct{}{}
	e.analyzers = append(e.analyzers, a)
	e.rules = append(e.rules, a.Rules()...)
	return nil
}

// Analyzers returns the names of registered analyzers in order.
func (e *Engine) Analyzers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.analyzers))
	for _, a := range e.analyzers {
		names = append(names, a.Name())
	}
	return names
}

// Run evaluates every rule matching the analysis type.
//
// # Description
//
// Rules run in registration order. Rule failures are isolated: the error
// (or recovered panic) is logged and evaluation continues with the next
// rule. Context cancellation stops evaluation between rules and returns
// the context error.
//
// # Outputs
//
//   - []*model.InconsistencyRecord: All records produced by matching
//     rules, in rule order. Not yet deduplicated against persisted state.
//   - error: Only a context error; rule failures never surface here.
func (e *Engine) Run(ctx context.Context, analysisType AnalysisType, in Inputs) ([]*model.InconsistencyRecord, error) {
	e.mu.RLock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	var records []*model.InconsistencyRecord
	for _, rule := range rules {
		if rule.Type != analysisType {
			continue
		}
		if err := ctx.Err(); err != nil {
			return records, err
		}

		recs, err := e.applyRule(ctx, rule, in)
		if err != nil {
			e.logger.Error("rule evaluation failed",
				slog.String("rule", rule.ID),
				slog.String("inputs", in.summary()),
				slog.String("error", err.Error()))
			continue
		}
		records = append(records, recs...)
	}
	return records, nil
}

// applyRule runs one rule, converting panics into errors so a misbehaving
// analyzer cannot take down the worker.
func (e *Engine) applyRule(ctx context.Context, rule Rule, in Inputs) (recs []*model.InconsistencyRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			recs = nil
			err = fmt.Errorf("rule %s panicked: %v", rule.ID, r)
		}
	}()
	return rule.Apply(ctx, in)
}

// DedupeOpen drops records whose (source, target, type) key already has an
// open record, and collapses duplicates within the batch itself, so that
// re-running the engine on unchanged inputs never grows the set of open
// records.
func DedupeOpen(records []*model.InconsistencyRecord, open []*model.InconsistencyRecord) []*model.InconsistencyRecord {
	existing := make(map[string]struct{}, len(open))
	for _, rec := range open {
		if rec.Status == model.StatusOpen || rec.Status == model.StatusInRecommendation {
			existing[rec.Key()] = struct{}{}
		}
	}

	result := make([]*model.InconsistencyRecord, 0, len(records))
	for _, rec := range records {
		key := rec.Key()
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}
		result = append(result, rec)
	}
	return result
}
