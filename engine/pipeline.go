// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docsentry/docsentry/discovery"
	"github.com/docsentry/docsentry/graph"
	"github.com/docsentry/docsentry/impact"
	"github.com/docsentry/docsentry/metadata"
	"github.com/docsentry/docsentry/model"
	"github.com/docsentry/docsentry/rules"
)

// pipeline is the Service's scheduler.Pipeline implementation. A separate
// type keeps Process off the Service's public surface; only the worker
// calls it.
type pipeline Service

// Process runs one full analysis unit for a path.
//
// # Description
//
// The stages run in order: relationship discovery (re-deriving the path's
// outgoing edges from its cached metadata), rule evaluation for the
// requested analysis type, deduplication against persisted open records,
// impact-based severity escalation, persistence, and recommendation
// creation. Records reopened by recommendation invalidation wait as open
// until their path is re-analyzed; they are folded back into the bundle
// here so the inconsistency is presented again. A path whose document or
// metadata vanished between enqueue and dequeue is a no-op, not an error.
//
// # Outputs
//
//   - error: A repository failure (retried by the worker) or a context
//     error. Rule failures never surface here.
func (p *pipeline) Process(ctx context.Context, path string, analysisType rules.AnalysisType) error {
	s := (*Service)(p)

	doc, ok := s.graph.Document(path)
	if !ok {
		s.logger.Debug("skipping analysis for removed document", slog.String("path", path))
		return nil
	}
	meta, ok := s.lookupMeta(path)
	if !ok {
		s.logger.Debug("skipping analysis without metadata", slog.String("path", path))
		return nil
	}

	broken, err := s.refreshRelationships(ctx, meta)
	if err != nil {
		return err
	}

	records, err := s.rules.Run(ctx, analysisType, rules.Inputs{
		Doc:    doc,
		Meta:   meta,
		Graph:  s.graph,
		Lookup: s.lookupMeta,
	})
	if err != nil {
		return err
	}
	records = append(broken, records...)
	if len(records) > 0 {
		records, err = s.dedupeAgainstOpen(ctx, records)
		if err != nil {
			return err
		}
	}

	reopened, err := s.openRecordsFor(ctx, path)
	if err != nil {
		return err
	}
	records = append(records, reopened...)
	if len(records) == 0 {
		return nil
	}

	s.escalateBySeverity(path, records)

	for _, rec := range records {
		if err := s.repo.SaveInconsistency(ctx, rec); err != nil {
			return fmt.Errorf("persist inconsistency: %w", err)
		}
	}

	if _, err := s.manager.CreateFromInconsistencies(ctx, records); err != nil {
		return fmt.Errorf("create recommendations: %w", err)
	}

	s.logger.Info("analysis found inconsistencies",
		slog.String("path", path),
		slog.String("type", string(analysisType)),
		slog.Int("records", len(records)))
	return nil
}

// refreshRelationships re-derives the document's outgoing edges from its
// metadata and applies them to the graph, returning the broken-reference
// records discovery produced.
func (s *Service) refreshRelationships(ctx context.Context, meta *metadata.FileMetadata) ([]*model.InconsistencyRecord, error) {
	result := discovery.Discover(meta, s.graph)

	if err := s.graph.RemoveRelationships(ctx, meta.Path, "", graph.RelationAny); err != nil &&
		!errors.Is(err, graph.ErrUnknownDocument) {
		return nil, fmt.Errorf("clear relationships: %w", err)
	}
	for _, rel := range result.Relationships {
		if err := s.graph.UpsertRelationship(ctx, rel); err != nil {
			// The target resolved during discovery; losing it here means
			// a concurrent removal. Skip the edge, keep the analysis.
			if errors.Is(err, graph.ErrUnresolvedTarget) || errors.Is(err, graph.ErrUnknownDocument) {
				s.logger.Debug("relationship target vanished",
					slog.String("source", rel.Source),
					slog.String("target", rel.Target))
				continue
			}
			return nil, fmt.Errorf("apply relationship: %w", err)
		}
	}

	if cycles := s.graph.DetectCycles(); len(cycles) > 0 {
		s.logger.Warn("relationship cycles present", slog.Int("count", len(cycles)))
	}
	return result.Broken, nil
}

// dedupeAgainstOpen drops records already tracked as open or bundled into
// a pending recommendation.
func (s *Service) dedupeAgainstOpen(ctx context.Context, records []*model.InconsistencyRecord) ([]*model.InconsistencyRecord, error) {
	open, err := s.repo.InconsistenciesByStatus(ctx, model.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("load open records: %w", err)
	}
	pending, err := s.repo.InconsistenciesByStatus(ctx, model.StatusInRecommendation)
	if err != nil {
		return nil, fmt.Errorf("load pending records: %w", err)
	}
	return rules.DedupeOpen(records, append(open, pending...)), nil
}

// openRecordsFor returns open records touching the path. Open records are
// the ones reopened when a recommendation covering them was invalidated;
// fresh detections move straight to in_recommendation.
func (s *Service) openRecordsFor(ctx context.Context, path string) ([]*model.InconsistencyRecord, error) {
	all, err := s.repo.InconsistenciesByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load records for path: %w", err)
	}
	var open []*model.InconsistencyRecord
	for _, r := range all {
		if r.Status == model.StatusOpen {
			open = append(open, r)
		}
	}
	return open, nil
}

// escalateBySeverity raises record severity when the analyzed path has
// high-impact dependents.
func (s *Service) escalateBySeverity(path string, records []*model.InconsistencyRecord) {
	impacts, err := s.impact.ImpactOf(path)
	if err != nil {
		return
	}
	for _, rec := range records {
		if impact.Escalate(rec, impacts) {
			s.logger.Debug("severity escalated by impact",
				slog.String("record", rec.ID),
				slog.String("path", path))
		}
	}
}
