// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine wires the consistency engine together: the relationship
// graph, rule engine, impact analyzer, scheduler, and recommendation
// lifecycle, all owned by one Service value. No package-level singletons;
// every collaborator is injected or constructed here.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docsentry/docsentry/graph"
	"github.com/docsentry/docsentry/impact"
	"github.com/docsentry/docsentry/metadata"
	"github.com/docsentry/docsentry/recommend"
	"github.com/docsentry/docsentry/rules"
	"github.com/docsentry/docsentry/scheduler"
	"github.com/docsentry/docsentry/storage"
)

// maxChangePriority caps the priority derived from incoming edge count.
const maxChangePriority = 10

// Config configures the engine service.
type Config struct {
	// Repo is the persistence layer. Required.
	Repo storage.Repository

	// ArtifactPath is where the presented recommendation artifact is
	// written. Empty uses the lifecycle manager default.
	ArtifactPath string

	// ArchiveDir receives terminal recommendation artifacts. Empty uses
	// the lifecycle manager default.
	ArchiveDir string

	// ApplyRoot is the directory accepted changes are written under.
	// Default: "."
	ApplyRoot string

	// MaxImpactDepth bounds impact traversal. Values < 1 use the impact
	// package default.
	MaxImpactDepth int

	// Load samples system load for worker throttling. Nil disables it.
	Load scheduler.LoadFunc

	// LoadThreshold defers analysis while Load() exceeds it. Zero uses
	// the scheduler default.
	LoadThreshold float64

	// LoadBackoff is how long the worker sleeps when deferring. Zero
	// uses the scheduler default.
	LoadBackoff time.Duration

	// Logger for all components. Nil uses slog.Default().
	Logger *slog.Logger
}

// Service is the assembled consistency engine.
//
// # Description
//
// Two entry points feed it: IngestMetadata, called by the extraction
// collaborator with structured file metadata, and IngestChange, called by
// the change monitor. Both are cheap and synchronous — they update the
// graph and queue state — while the expensive analysis runs on the single
// scheduler worker.
//
// # Thread Safety
//
// Safe for concurrent use. The graph store and queue serialize their own
// mutations; the metadata cache has its own lock.
type Service struct {
	logger  *slog.Logger
	repo    storage.Repository
	graph   *graph.Store
	rules   *rules.Engine
	impact  *impact.Analyzer
	queue   *scheduler.Queue
	worker  *scheduler.Worker
	manager *recommend.Manager

	metaMu sync.RWMutex
	meta   map[string]*metadata.FileMetadata
}

// NewService assembles the engine from its components.
func NewService(cfg Config) (*Service, error) {
	if cfg.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ApplyRoot == "" {
		cfg.ApplyRoot = "."
	}

	store := graph.NewStore(cfg.Repo, cfg.Logger)

	ruleEngine := rules.NewEngine(cfg.Logger)
	if err := rules.RegisterBuiltins(ruleEngine); err != nil {
		return nil, fmt.Errorf("register built-in analyzers: %w", err)
	}

	analyzer, err := impact.NewAnalyzer(store, cfg.MaxImpactDepth)
	if err != nil {
		return nil, fmt.Errorf("create impact analyzer: %w", err)
	}

	manager, err := recommend.NewManager(recommend.Config{
		Repo:         cfg.Repo,
		Applier:      &recommend.FileApplier{Root: cfg.ApplyRoot},
		ArtifactPath: cfg.ArtifactPath,
		ArchiveDir:   cfg.ArchiveDir,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create lifecycle manager: %w", err)
	}

	s := &Service{
		logger:  cfg.Logger,
		repo:    cfg.Repo,
		graph:   store,
		rules:   ruleEngine,
		impact:  analyzer,
		queue:   scheduler.NewQueue(),
		manager: manager,
		meta:    make(map[string]*metadata.FileMetadata),
	}

	worker, err := scheduler.NewWorker(s.queue, (*pipeline)(s), workerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create worker: %w", err)
	}
	s.worker = worker
	return s, nil
}

// workerConfig maps the engine configuration onto the scheduler's. Zero
// values fall through to the scheduler defaults.
func workerConfig(cfg Config) scheduler.Config {
	return scheduler.Config{
		Load:          cfg.Load,
		LoadThreshold: cfg.LoadThreshold,
		LoadBackoff:   cfg.LoadBackoff,
		Logger:        cfg.Logger,
	}
}

// Start warm-loads persisted state and starts the analysis worker.
//
// # Description
//
// The graph is rebuilt from the repository's documents and relationships,
// active recommendations refill the backlog and presented slot, and the
// worker begins draining the queue.
func (s *Service) Start(ctx context.Context) error {
	docs, err := s.repo.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("load documents: %w", err)
	}
	rels, err := s.repo.ListRelationships(ctx)
	if err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}
	s.graph.Restore(docs, rels)
	if err := s.manager.Restore(ctx); err != nil {
		return err
	}

	s.worker.Start(ctx)
	s.logger.Info("engine started",
		slog.Int("documents", s.graph.Len()),
		slog.Int("relationships", len(rels)))
	return nil
}

// Stop stops the worker, letting any in-flight analysis finish.
func (s *Service) Stop() {
	s.worker.Stop()
	s.logger.Info("engine stopped")
}

// IngestMetadata accepts fresh structured metadata for one file.
//
// # Description
//
// Validates the metadata, upserts the document node, caches the metadata
// for rule lookups, invalidates pending recommendations touching the path,
// and queues analysis. Edge derivation and rule evaluation happen on the
// worker, not here.
//
// # Outputs
//
//   - error: A validation sentinel from the metadata package, or a
//     persistence failure from the document upsert.
func (s *Service) IngestMetadata(ctx context.Context, meta *metadata.FileMetadata) error {
	if meta == nil {
		return metadata.ErrEmptyPath
	}
	if err := meta.Validate(); err != nil {
		return err
	}

	ref := graph.DocumentReference{
		Path:          meta.Path,
		Kind:          graph.KindForLanguage(meta.Language),
		LastModified:  meta.ModifiedAt,
		ContentDigest: meta.ContentDigest,
		Header:        meta.Header,
	}
	if err := s.graph.UpsertDocument(ctx, ref); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	s.metaMu.Lock()
	s.meta[meta.Path] = meta
	s.metaMu.Unlock()

	if err := s.manager.InvalidateIfStale(ctx, meta.Path); err != nil {
		return err
	}

	return s.enqueueAnalysis(meta.Path, ref.Kind)
}

// IngestChange accepts a file-change event from the monitoring
// collaborator.
//
// # Description
//
// Deletions remove the document and everything referencing it from the
// graph; creations and modifications queue re-analysis with a priority
// proportional to how many documents depend on the path. Any pending
// recommendation affecting the path is invalidated unconditionally.
func (s *Service) IngestChange(ctx context.Context, ev metadata.ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	if err := s.manager.InvalidateIfStale(ctx, ev.Path); err != nil {
		return err
	}

	if ev.Kind == metadata.ChangeDeleted {
		s.metaMu.Lock()
		delete(s.meta, ev.Path)
		s.metaMu.Unlock()

		err := s.graph.RemoveDocument(ctx, ev.Path)
		if errors.Is(err, graph.ErrUnknownDocument) {
			return nil
		}
		return err
	}

	kind := graph.DocumentKindUnknown
	if ref, ok := s.graph.Document(ev.Path); ok {
		kind = ref.Kind
	}
	return s.enqueueAnalysis(ev.Path, kind)
}

// Graph exposes the relationship store for read-only query tools.
func (s *Service) Graph() *graph.Store { return s.graph }

// Recommendations exposes the lifecycle manager for the decision channel.
func (s *Service) Recommendations() *recommend.Manager { return s.manager }

// QueueLen reports the pending analysis backlog.
func (s *Service) QueueLen() int { return s.queue.Len() }

// enqueueAnalysis queues the analysis type matching the document kind.
// Priority scales with the number of documents pointing at the path, so
// widely depended-on files analyze first.
func (s *Service) enqueueAnalysis(path string, kind graph.DocumentKind) error {
	priority := len(s.graph.RelationshipsTo(path))
	if priority > maxChangePriority {
		priority = maxChangePriority
	}
	return s.queue.Enqueue(path, priority, analysisTypeFor(kind))
}

// analysisTypeFor maps a document kind to the analysis that applies to it.
func analysisTypeFor(kind graph.DocumentKind) rules.AnalysisType {
	if kind == graph.DocumentKindMarkdown {
		return rules.AnalysisDocDoc
	}
	return rules.AnalysisCodeDoc
}

// lookupMeta resolves cached metadata for rule evaluation.
func (s *Service) lookupMeta(path string) (*metadata.FileMetadata, bool) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	m, ok := s.meta[path]
	return m, ok
}
