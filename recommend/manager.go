// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recommend manages the recommendation lifecycle: bundling
// inconsistency records into developer-reviewable recommendations, holding
// the single presented slot, applying decisions, and invalidating
// recommendations made stale by further changes.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docsentry/docsentry/model"
	"github.com/docsentry/docsentry/storage"
)

// Repo is the persistence surface the manager needs. storage.Repository
// satisfies it.
type Repo interface {
	SaveInconsistency(ctx context.Context, rec *model.InconsistencyRecord) error
	GetInconsistency(ctx context.Context, id string) (*model.InconsistencyRecord, error)
	SaveRecommendation(ctx context.Context, rec *model.Recommendation) error
	RecommendationsByStatus(ctx context.Context, status model.RecommendationStatus) ([]*model.Recommendation, error)
	SaveDecision(ctx context.Context, dec *model.DeveloperDecision) error
}

// Suggester derives the suggested text edits for a bundle of records.
type Suggester interface {
	Suggest(records []*model.InconsistencyRecord) []model.SuggestedChange
}

// Config configures the lifecycle manager.
type Config struct {
	// Repo persists recommendations, decisions, and record status
	// transitions. Required.
	Repo Repo

	// Applier writes accepted changes to the working tree. Nil uses a
	// FileApplier rooted at the current directory.
	Applier Applier

	// Suggester produces suggested changes when bundling records. Nil
	// uses the built-in note suggester.
	Suggester Suggester

	// ArtifactPath is where the presented recommendation's artifact is
	// written. Default: RECOMMENDATION.md
	ArtifactPath string

	// ArchiveDir receives a timestamped copy of each artifact when its
	// recommendation reaches a terminal state. Default: a sibling
	// "archive" directory of ArtifactPath.
	ArchiveDir string

	// Logger for lifecycle transitions. Nil uses slog.Default().
	Logger *slog.Logger
}

// Manager owns the recommendation state machine.
//
// # Description
//
// At most one recommendation is presented at a time; the rest wait in a
// FIFO backlog. Creating recommendations appends to the backlog and fills
// the slot if empty. A decision terminalizes the presented recommendation
// (Accept applies its changes, Reject ignores its records, Amend seeds a
// successor at the front of the backlog), archives its artifact, and
// promotes the oldest waiting recommendation. A change to any affected
// document invalidates pending recommendations unconditionally and reopens
// their records for re-analysis.
//
// # Thread Safety
//
// Safe for concurrent use. All state transitions happen under the manager
// mutex; repository writes for a transition complete before the slot moves.
type Manager struct {
	repo      Repo
	applier   Applier
	suggester Suggester
	artifact  string
	archive   string
	logger    *slog.Logger

	mu        sync.Mutex
	presented *model.Recommendation
	backlog   []*model.Recommendation
}

// NewManager creates a lifecycle manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if cfg.Applier == nil {
		cfg.Applier = &FileApplier{Root: "."}
	}
	if cfg.Suggester == nil {
		cfg.Suggester = noteSuggester{}
	}
	if cfg.ArtifactPath == "" {
		cfg.ArtifactPath = "RECOMMENDATION.md"
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = filepath.Join(filepath.Dir(cfg.ArtifactPath), "archive")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		repo:      cfg.Repo,
		applier:   cfg.Applier,
		suggester: cfg.Suggester,
		artifact:  cfg.ArtifactPath,
		archive:   cfg.ArchiveDir,
		logger:    cfg.Logger,
	}, nil
}

// Restore reloads active recommendations from the repository, rebuilding
// the backlog in creation order and re-presenting the oldest. Called once
// at startup.
func (m *Manager) Restore(ctx context.Context) error {
	active, err := m.repo.RecommendationsByStatus(ctx, model.RecommendationActive)
	if err != nil {
		return fmt.Errorf("restore recommendations: %w", err)
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.presented = nil
	m.backlog = active
	return m.promoteLocked(ctx)
}

// CreateFromInconsistencies bundles open records into recommendations.
//
// # Description
//
// Records sharing an affected document land in the same recommendation, so
// a developer never reviews two pending recommendations that touch the same
// file. Each new recommendation is persisted, its records move to
// in_recommendation, and it joins the back of the backlog. If the presented
// slot is empty the oldest waiting recommendation is promoted.
//
// # Outputs
//
//   - []*model.Recommendation: The created recommendations, in backlog order.
//   - error: ErrNoRecords if records is empty, or the first persistence
//     failure.
func (m *Manager) CreateFromInconsistencies(ctx context.Context, records []*model.InconsistencyRecord) ([]*model.Recommendation, error) {
	records = nonNil(records)
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var created []*model.Recommendation
	for _, group := range groupByOverlap(records) {
		rec := model.NewRecommendation(titleFor(group))
		rec.AffectedDocuments = affectedDocs(group)
		rec.SuggestedChanges = m.suggester.Suggest(group)
		for _, r := range group {
			rec.InconsistencyIDs = append(rec.InconsistencyIDs, r.ID)
			if r.DetectedAt.After(rec.LastCodebaseChange) {
				rec.LastCodebaseChange = r.DetectedAt
			}
		}

		if err := m.repo.SaveRecommendation(ctx, rec); err != nil {
			return created, fmt.Errorf("save recommendation: %w", err)
		}
		for _, r := range group {
			r.Status = model.StatusInRecommendation
			if err := m.repo.SaveInconsistency(ctx, r); err != nil {
				return created, fmt.Errorf("mark record in recommendation: %w", err)
			}
		}

		m.backlog = append(m.backlog, rec)
		created = append(created, rec)
		m.logger.Info("recommendation created",
			slog.String("id", rec.ID),
			slog.String("title", rec.Title),
			slog.Int("records", len(group)))
	}

	if err := m.promoteLocked(ctx); err != nil {
		return created, err
	}
	return created, nil
}

// Present renders the presented recommendation's artifact and writes it to
// the pending path.
//
// # Outputs
//
//   - string: The artifact text.
//   - error: ErrNoPending when the slot is empty.
func (m *Manager) Present(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.presented == nil {
		return "", ErrNoPending
	}
	return m.writeArtifactLocked(ctx, m.presented)
}

// Presented returns the recommendation currently holding the slot, nil if
// none.
func (m *Manager) Presented() *model.Recommendation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.presented
}

// BacklogLen returns the number of recommendations waiting behind the slot.
func (m *Manager) BacklogLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backlog)
}

// ApplyDecision applies a developer decision to a pending recommendation.
//
// # Description
//
// Exactly one DeveloperDecision is recorded per terminal transition.
// Accept applies the suggested changes to the working tree and resolves the
// bundled records; Reject marks them ignored; Amend terminalizes the
// recommendation and seeds a successor carrying the developer's comments at
// the front of the backlog, so the revision is the next thing presented.
// In every case the artifact is archived and the slot refills from the
// backlog.
//
// # Inputs
//
//   - id: Recommendation ID the decision targets.
//   - decision: accept, reject, or amend.
//   - comments: Developer feedback; carried onto the Amend successor.
//
// # Outputs
//
//   - error: ErrUnknownRecommendation, ErrNotActive, or a persistence or
//     apply failure.
func (m *Manager) ApplyDecision(ctx context.Context, id string, decision model.Decision, comments string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.findLocked(id)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownRecommendation, id)
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotActive, id, rec.Status)
	}

	now := time.Now().UTC()
	dec := &model.DeveloperDecision{
		RecommendationID: rec.ID,
		Timestamp:        now,
		Decision:         decision,
		Comments:         comments,
	}

	switch decision {
	case model.DecisionAccept:
		if err := m.applier.Apply(ctx, rec); err != nil {
			return fmt.Errorf("apply suggested changes: %w", err)
		}
		rec.Status = model.RecommendationAccepted
		dec.ImplementedAt = &now
		if err := m.markRecordsLocked(ctx, rec, model.StatusResolved, &now); err != nil {
			return err
		}

	case model.DecisionReject:
		rec.Status = model.RecommendationRejected
		if err := m.markRecordsLocked(ctx, rec, model.StatusIgnored, nil); err != nil {
			return err
		}

	case model.DecisionAmend:
		rec.Status = model.RecommendationAmended
		rec.DeveloperFeedback = comments
		successor := amendedSuccessor(rec, comments)
		if err := m.repo.SaveRecommendation(ctx, successor); err != nil {
			return fmt.Errorf("save amended successor: %w", err)
		}
		m.backlog = append([]*model.Recommendation{successor}, m.backlog...)

	default:
		return fmt.Errorf("unknown decision %q", decision)
	}

	if err := m.repo.SaveRecommendation(ctx, rec); err != nil {
		return fmt.Errorf("save recommendation: %w", err)
	}
	if err := m.repo.SaveDecision(ctx, dec); err != nil {
		return fmt.Errorf("save decision: %w", err)
	}

	m.retireLocked(rec)
	m.logger.Info("decision applied",
		slog.String("id", rec.ID),
		slog.String("decision", string(decision)),
		slog.String("status", string(rec.Status)))
	return m.promoteLocked(ctx)
}

// DecideFromArtifact reads the pending artifact from disk, parses the
// developer's edits, and applies the decision to the presented
// recommendation.
func (m *Manager) DecideFromArtifact(ctx context.Context) error {
	m.mu.Lock()
	presented := m.presented
	path := m.artifact
	m.mu.Unlock()

	if presented == nil {
		return ErrNoPending
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	decision, comments, err := ParseDecision(string(raw))
	if err != nil {
		return err
	}
	return m.ApplyDecision(ctx, presented.ID, decision, comments)
}

// InvalidateIfStale invalidates every pending recommendation whose affected
// documents include the changed path.
//
// # Description
//
// Invalidation is unconditional: any change to an affected document retires
// the recommendation, even if the change would not have altered its
// content. The bundled records reopen so the next analysis pass can regroup
// them against the document's new state. No DeveloperDecision is recorded.
func (m *Manager) InvalidateIfStale(ctx context.Context, changedPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []*model.Recommendation
	if m.presented != nil && m.presented.Affects(changedPath) {
		stale = append(stale, m.presented)
	}
	for _, rec := range m.backlog {
		if rec.Affects(changedPath) {
			stale = append(stale, rec)
		}
	}

	for _, rec := range stale {
		rec.Status = model.RecommendationInvalidated
		if err := m.repo.SaveRecommendation(ctx, rec); err != nil {
			return fmt.Errorf("save invalidated recommendation: %w", err)
		}
		if err := m.markRecordsLocked(ctx, rec, model.StatusOpen, nil); err != nil {
			return err
		}
		m.retireLocked(rec)
		m.logger.Info("recommendation invalidated",
			slog.String("id", rec.ID),
			slog.String("changed_path", changedPath))
	}

	if len(stale) == 0 {
		return nil
	}
	return m.promoteLocked(ctx)
}

// findLocked locates a pending recommendation by ID. Caller holds the
// mutex.
func (m *Manager) findLocked(id string) *model.Recommendation {
	if m.presented != nil && m.presented.ID == id {
		return m.presented
	}
	for _, rec := range m.backlog {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// retireLocked removes a terminalized recommendation from the slot or
// backlog, archiving its artifact if it was presented. Caller holds the
// mutex.
func (m *Manager) retireLocked(rec *model.Recommendation) {
	if m.presented != nil && m.presented.ID == rec.ID {
		m.archiveLocked(rec)
		m.presented = nil
		return
	}
	for i, b := range m.backlog {
		if b.ID == rec.ID {
			m.backlog = append(m.backlog[:i], m.backlog[i+1:]...)
			return
		}
	}
}

// promoteLocked fills an empty presented slot from the front of the
// backlog and writes the artifact. Caller holds the mutex.
func (m *Manager) promoteLocked(ctx context.Context) error {
	if m.presented != nil || len(m.backlog) == 0 {
		return nil
	}
	m.presented = m.backlog[0]
	m.backlog = m.backlog[1:]
	if _, err := m.writeArtifactLocked(ctx, m.presented); err != nil {
		return err
	}
	m.logger.Info("recommendation presented",
		slog.String("id", m.presented.ID),
		slog.String("title", m.presented.Title),
		slog.Int("backlog", len(m.backlog)))
	return nil
}

// writeArtifactLocked renders the recommendation and writes the pending
// artifact file. Caller holds the mutex.
func (m *Manager) writeArtifactLocked(ctx context.Context, rec *model.Recommendation) (string, error) {
	records := make([]*model.InconsistencyRecord, 0, len(rec.InconsistencyIDs))
	for _, id := range rec.InconsistencyIDs {
		r, err := m.repo.GetInconsistency(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				m.logger.Warn("recommendation references missing record",
					slog.String("recommendation", rec.ID),
					slog.String("record", id))
				continue
			}
			return "", fmt.Errorf("load record %s: %w", id, err)
		}
		records = append(records, r)
	}

	artifact := RenderArtifact(rec, records)
	if err := os.MkdirAll(filepath.Dir(m.artifact), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(m.artifact, []byte(artifact), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return artifact, nil
}

// archiveLocked copies the pending artifact into the archive directory.
// Archival is best-effort: a failure is logged, never surfaced, because
// the state transition it trails has already been persisted.
func (m *Manager) archiveLocked(rec *model.Recommendation) {
	raw, err := os.ReadFile(m.artifact)
	if err != nil {
		m.logger.Warn("artifact not archived",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()))
		return
	}
	if err := os.MkdirAll(m.archive, 0o755); err != nil {
		m.logger.Warn("archive dir not created", slog.String("error", err.Error()))
		return
	}
	name := fmt.Sprintf("%s-%s.md", time.Now().UTC().Format("20060102T150405"), rec.ID)
	if err := os.WriteFile(filepath.Join(m.archive, name), raw, 0o644); err != nil {
		m.logger.Warn("artifact not archived",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()))
	}
}

// markRecordsLocked moves every bundled record to the given status. Caller
// holds the mutex.
func (m *Manager) markRecordsLocked(ctx context.Context, rec *model.Recommendation, status model.InconsistencyStatus, resolvedAt *time.Time) error {
	for _, id := range rec.InconsistencyIDs {
		r, err := m.repo.GetInconsistency(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("load record %s: %w", id, err)
		}
		r.Status = status
		r.ResolvedAt = resolvedAt
		if err := m.repo.SaveInconsistency(ctx, r); err != nil {
			return fmt.Errorf("save record %s: %w", id, err)
		}
	}
	return nil
}

// amendedSuccessor builds the revision recommendation created by an Amend
// decision. It carries the same records and feedback for the next analysis
// of the bundle.
func amendedSuccessor(rec *model.Recommendation, comments string) *model.Recommendation {
	successor := model.NewRecommendation(rec.Title)
	successor.InconsistencyIDs = append([]string(nil), rec.InconsistencyIDs...)
	successor.AffectedDocuments = append([]string(nil), rec.AffectedDocuments...)
	successor.SuggestedChanges = append([]model.SuggestedChange(nil), rec.SuggestedChanges...)
	successor.DeveloperFeedback = comments
	successor.LastCodebaseChange = rec.LastCodebaseChange
	successor.PredecessorID = rec.ID
	return successor
}

// groupByOverlap partitions records so any two records sharing an affected
// document land in the same group. Group order follows first appearance.
func groupByOverlap(records []*model.InconsistencyRecord) [][]*model.InconsistencyRecord {
	parent := make([]int, len(records))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	byDoc := make(map[string]int)
	for i, r := range records {
		for _, doc := range []string{r.SourceDoc, r.TargetDoc} {
			if doc == "" {
				continue
			}
			if j, ok := byDoc[doc]; ok {
				union(j, i)
			} else {
				byDoc[doc] = i
			}
		}
	}

	groupIdx := make(map[int]int)
	var groups [][]*model.InconsistencyRecord
	for i, r := range records {
		root := find(i)
		g, ok := groupIdx[root]
		if !ok {
			g = len(groups)
			groupIdx[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], r)
	}
	return groups
}

// affectedDocs returns the sorted distinct documents a group touches.
func affectedDocs(group []*model.InconsistencyRecord) []string {
	seen := make(map[string]bool)
	var docs []string
	for _, r := range group {
		for _, doc := range []string{r.SourceDoc, r.TargetDoc} {
			if doc != "" && !seen[doc] {
				seen[doc] = true
				docs = append(docs, doc)
			}
		}
	}
	sort.Strings(docs)
	return docs
}

// titleFor names a recommendation after its bundle.
func titleFor(group []*model.InconsistencyRecord) string {
	if len(group) == 1 {
		r := group[0]
		return fmt.Sprintf("Resolve %s between %s and %s",
			strings.ReplaceAll(string(r.Type), "_", " "), r.SourceDoc, r.TargetDoc)
	}
	return fmt.Sprintf("Resolve %d related documentation inconsistencies", len(group))
}

// nonNil filters nil entries from a record slice.
func nonNil(records []*model.InconsistencyRecord) []*model.InconsistencyRecord {
	out := records[:0]
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// noteSuggester is the built-in change suggester: it appends one
// consistency note per record to the record's source document. Notes are
// pure additions, so accepting them can never conflict with unrelated
// edits to the file.
type noteSuggester struct{}

func (noteSuggester) Suggest(records []*model.InconsistencyRecord) []model.SuggestedChange {
	changes := make([]model.SuggestedChange, 0, len(records))
	for _, r := range records {
		changes = append(changes, model.SuggestedChange{
			Path: r.SourceDoc,
			Kind: model.ChangeAddition,
			After: fmt.Sprintf("> CONSISTENCY %s: review relationship with `%s` (%s).",
				strings.ToUpper(strings.ReplaceAll(string(r.Type), "_", " ")),
				r.TargetDoc, r.Severity),
		})
	}
	return changes
}
