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
	"strings"

	"github.com/docsentry/docsentry/graph"
	"github.com/docsentry/docsentry/model"
)

// RegisterBuiltins registers the built-in analyzers on the engine.
func RegisterBuiltins(e *Engine) error {
	for _, a := range []Analyzer{
		&ReferenceAnalyzer{},
		&IntentAnalyzer{},
		&ConstraintsAnalyzer{},
		&TerminologyAnalyzer{},
	} {
		if err := e.RegisterAnalyzer(a); err != nil {
			return err
		}
	}
	return nil
}

// ReferenceAnalyzer flags references whose targets changed after the
// referencing document was last updated.
type ReferenceAnalyzer struct{}

// Name implements Analyzer.
func (a *ReferenceAnalyzer) Name() string { return "reference" }

// Rules implements Analyzer.
func (a *ReferenceAnalyzer) Rules() []Rule {
	return []Rule{{
		ID:   "reference/stale",
		Type: AnalysisCodeDoc,
		Apply: func(ctx context.Context, in Inputs) ([]*model.InconsistencyRecord, error) {
			var records []*model.InconsistencyRecord
			for _, rel := range in.Graph.RelationshipsFrom(in.Doc.Path) {
				target, ok := in.Graph.Document(rel.Target)
				if !ok {
					continue
				}
				if target.LastModified.After(in.Doc.LastModified) {
					rec := model.NewInconsistency(in.Doc.Path, rel.Target,
						model.InconsistencyStaleReference, model.SeverityLow, 0.6)
					rec.Details = map[string]string{
						"relation":        rel.Type.String(),
						"target_modified": target.LastModified.UTC().Format("2006-01-02T15:04:05Z07:00"),
						"source_modified": in.Doc.LastModified.UTC().Format("2006-01-02T15:04:05Z07:00"),
					}
					records = append(records, rec)
				}
			}
			return records, nil
		},
	}}
}

// IntentAnalyzer compares the stated intent of documents linked by
// Implements or Extends relationships.
type IntentAnalyzer struct{}

// Name implements Analyzer.
func (a *IntentAnalyzer) Name() string { return "intent" }

// Rules implements Analyzer.
func (a *IntentAnalyzer) Rules() []Rule {
	return []Rule{{
		ID:   "intent/mismatch",
		Type: AnalysisDocDoc,
		Apply: func(ctx context.Context, in Inputs) ([]*model.InconsistencyRecord, error) {
			if in.Doc.Header.Intent == "" {
				return nil, nil
			}
			var records []*model.InconsistencyRecord
			for _, rel := range in.Graph.RelationshipsFrom(in.Doc.Path) {
				if rel.Type != graph.RelationImplements && rel.Type != graph.RelationExtends {
					continue
				}
				target, ok := in.Graph.Document(rel.Target)
				if !ok || target.Header.Intent == "" {
					continue
				}
				overlap := tokenOverlap(in.Doc.Header.Intent, target.Header.Intent)
				if overlap >= 0.2 {
					continue
				}
				rec := model.NewInconsistency(in.Doc.Path, rel.Target,
					model.InconsistencyIntentMismatch, model.SeverityMedium, 1.0-overlap)
				rec.Details = map[string]string{
					"source_intent": in.Doc.Header.Intent,
					"target_intent": target.Header.Intent,
				}
				records = append(records, rec)
			}
			return records, nil
		},
	}}
}

// ConstraintsAnalyzer checks that documents implementing a design carry
// its declared constraints.
type ConstraintsAnalyzer struct{}

// Name implements Analyzer.
func (a *ConstraintsAnalyzer) Name() string { return "constraints" }

// Rules implements Analyzer.
func (a *ConstraintsAnalyzer) Rules() []Rule {
	return []Rule{{
		ID:   "constraints/missing",
		Type: AnalysisCodeDoc,
		Apply: func(ctx context.Context, in Inputs) ([]*model.InconsistencyRecord, error) {
			var records []*model.InconsistencyRecord
			for _, rel := range in.Graph.RelationshipsFrom(in.Doc.Path) {
				if rel.Type != graph.RelationImplements {
					continue
				}
				target, ok := in.Graph.Document(rel.Target)
				if !ok || len(target.Header.Constraints) == 0 {
					continue
				}
				missing := missingConstraints(in.Doc.Header.Constraints, target.Header.Constraints)
				if len(missing) == 0 {
					continue
				}
				rec := model.NewInconsistency(in.Doc.Path, rel.Target,
					model.InconsistencyMissingConstraints, model.SeverityHigh, 0.8)
				rec.Details = map[string]string{
					"missing": strings.Join(missing, "; "),
				}
				records = append(records, rec)
			}
			return records, nil
		},
	}}
}

// TerminologyAnalyzer detects related documents that name the same
// concept with different terms.
type TerminologyAnalyzer struct{}

// Name implements Analyzer.
func (a *TerminologyAnalyzer) Name() string { return "terminology" }

// Rules implements Analyzer.
func (a *TerminologyAnalyzer) Rules() []Rule {
	return []Rule{
		{
			ID:    "terminology/drift",
			Type:  AnalysisDocDoc,
			Apply: terminologyDrift,
		},
		{
			ID:    "terminology/project-consensus",
			Type:  AnalysisFullProject,
			Apply: terminologyConsensus,
		},
	}
}

// terminologyDrift compares the document's terms against each related
// document's terms for the same concepts.
func terminologyDrift(ctx context.Context, in Inputs) ([]*model.InconsistencyRecord, error) {
	if in.Meta == nil || len(in.Meta.Terminology) == 0 || in.Lookup == nil {
		return nil, nil
	}
	var records []*model.InconsistencyRecord
	for _, rel := range in.Graph.RelationshipsFrom(in.Doc.Path) {
		other, ok := in.Lookup(rel.Target)
		if !ok || len(other.Terminology) == 0 {
			continue
		}
		var conflicts []string
		for concept, term := range in.Meta.Terminology {
			otherTerm, ok := other.Terminology[concept]
			if ok && !strings.EqualFold(term, otherTerm) {
				conflicts = append(conflicts, concept+": "+term+" vs "+otherTerm)
			}
		}
		if len(conflicts) == 0 {
			continue
		}
		rec := model.NewInconsistency(in.Doc.Path, rel.Target,
			model.InconsistencyTerminology, model.SeverityLow, 0.7)
		rec.Details = map[string]string{
			"conflicts": strings.Join(conflicts, "; "),
		}
		records = append(records, rec)
	}
	return records, nil
}

// terminologyConsensus flags documents that disagree with the majority
// term for a concept across the whole project.
func terminologyConsensus(ctx context.Context, in Inputs) ([]*model.InconsistencyRecord, error) {
	if in.Lookup == nil {
		return nil, nil
	}

	// concept -> term -> paths using that term
	usage := make(map[string]map[string][]string)
	for _, doc := range in.Graph.Documents() {
		meta, ok := in.Lookup(doc.Path)
		if !ok {
			continue
		}
		for concept, term := range meta.Terminology {
			norm := strings.ToLower(term)
			if usage[concept] == nil {
				usage[concept] = make(map[string][]string)
			}
			usage[concept][norm] = append(usage[concept][norm], doc.Path)
		}
	}

	var records []*model.InconsistencyRecord
	for concept, terms := range usage {
		if len(terms) < 2 {
			continue
		}
		majority, majorityPaths := "", []string(nil)
		for term, paths := range terms {
			if len(paths) > len(majorityPaths) {
				majority, majorityPaths = term, paths
			}
		}
		for term, paths := range terms {
			if term == majority {
				continue
			}
			for _, path := range paths {
				rec := model.NewInconsistency(path, majorityPaths[0],
					model.InconsistencyTerminology, model.SeverityLow, 0.5)
				rec.Details = map[string]string{
					"concept":       concept,
					"term":          term,
					"majority_term": majority,
				}
				records = append(records, rec)
			}
		}
	}
	return records, nil
}

// tokenOverlap computes the Jaccard overlap of the word sets of two
// strings, lowercased.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// tokenSet splits s into a set of lowercased word tokens.
func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?()[]{}\"'")
		if len(tok) > 2 {
			set[tok] = struct{}{}
		}
	}
	return set
}

// missingConstraints returns the wanted constraints that have no
// case-insensitive token overlap with any of the present constraints.
func missingConstraints(present, wanted []string) []string {
	var missing []string
	for _, w := range wanted {
		found := false
		for _, p := range present {
			if tokenOverlap(p, w) >= 0.5 {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, w)
		}
	}
	return missing
}
