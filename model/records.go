// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the persisted record types shared across the
// consistency engine: inconsistency records, recommendations, and the
// developer decisions that resolve them.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InconsistencyType classifies what kind of mismatch was detected.
type InconsistencyType string

const (
	// InconsistencyIntentMismatch indicates a document's stated intent
	// disagrees with a related document.
	InconsistencyIntentMismatch InconsistencyType = "intent_mismatch"

	// InconsistencyBrokenReference indicates a declared reference points
	// at a document that does not exist in the graph.
	InconsistencyBrokenReference InconsistencyType = "broken_reference"

	// InconsistencyMissingConstraints indicates a document implements or
	// extends another but omits its declared constraints.
	InconsistencyMissingConstraints InconsistencyType = "missing_constraints"

	// InconsistencyTerminology indicates related documents use conflicting
	// terms for the same concept.
	InconsistencyTerminology InconsistencyType = "terminology_inconsistency"

	// InconsistencyStaleReference indicates a referenced document changed
	// after the referencing document was last updated.
	InconsistencyStaleReference InconsistencyType = "stale_reference"
)

// Severity ranks how urgent an inconsistency is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "High"
	case SeverityMedium:
		return "Medium"
	case SeverityLow:
		return "Low"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a string produced by Severity.String back to a
// Severity value.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "High":
		return SeverityHigh, nil
	case "Medium":
		return SeverityMedium, nil
	case "Low":
		return SeverityLow, nil
	default:
		return SeverityLow, fmt.Errorf("unknown severity %q", s)
	}
}

// InconsistencyStatus tracks a record through its lifecycle.
type InconsistencyStatus string

const (
	// StatusOpen means the inconsistency is detected and unhandled.
	StatusOpen InconsistencyStatus = "open"

	// StatusInRecommendation means the record is bundled into a
	// recommendation awaiting a developer decision.
	StatusInRecommendation InconsistencyStatus = "in_recommendation"

	// StatusResolved means the developer accepted a fix.
	StatusResolved InconsistencyStatus = "resolved"

	// StatusIgnored means the developer rejected the recommendation.
	StatusIgnored InconsistencyStatus = "ignored"
)

// InconsistencyRecord is evidence of a detected mismatch between two
// related documents.
//
// # Ownership
//
// Records are created by rule applications and never mutated by the rule
// engine afterwards. Status transitions belong to the recommendation
// lifecycle manager; severity escalation belongs to the impact analyzer.
type InconsistencyRecord struct {
	ID         string              `json:"id"`
	SourceDoc  string              `json:"source_doc"`
	TargetDoc  string              `json:"target_doc"`
	Type       InconsistencyType   `json:"type"`
	Severity   Severity            `json:"severity"`
	Status     InconsistencyStatus `json:"status"`
	Confidence float64             `json:"confidence"`
	DetectedAt time.Time           `json:"detected_at"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty"`

	// Details carries analyzer-specific structured context.
	Details map[string]string `json:"details,omitempty"`
}

// NewInconsistency creates an open record with a fresh UUID.
//
// Confidence is clamped to [0, 1].
func NewInconsistency(source, target string, typ InconsistencyType, severity Severity, confidence float64) *InconsistencyRecord {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return &InconsistencyRecord{
		ID:         uuid.NewString(),
		SourceDoc:  source,
		TargetDoc:  target,
		Type:       typ,
		Severity:   severity,
		Status:     StatusOpen,
		Confidence: confidence,
		DetectedAt: time.Now().UTC(),
	}
}

// Key returns the deduplication key for open records. Re-detection of the
// same (source, target, type) tuple must not create a second open record.
func (r *InconsistencyRecord) Key() string {
	return r.SourceDoc + "\x00" + r.TargetDoc + "\x00" + string(r.Type)
}

// RecommendationStatus tracks a recommendation through its state machine.
type RecommendationStatus string

const (
	// RecommendationActive means the recommendation is eligible for
	// presentation (or currently presented).
	RecommendationActive RecommendationStatus = "active"

	// RecommendationAccepted is terminal: the developer accepted it.
	RecommendationAccepted RecommendationStatus = "accepted"

	// RecommendationRejected is terminal: the developer rejected it.
	RecommendationRejected RecommendationStatus = "rejected"

	// RecommendationAmended is terminal: the developer requested changes
	// and a successor recommendation was created.
	RecommendationAmended RecommendationStatus = "amended"

	// RecommendationInvalidated is terminal: the underlying documents
	// changed while the recommendation was pending.
	RecommendationInvalidated RecommendationStatus = "invalidated"
)

// Terminal reports whether the status is a final state.
func (s RecommendationStatus) Terminal() bool {
	return s != RecommendationActive
}

// ChangeKind classifies a suggested text edit.
type ChangeKind string

const (
	ChangeAddition     ChangeKind = "addition"
	ChangeDeletion     ChangeKind = "deletion"
	ChangeModification ChangeKind = "modification"
)

// SuggestedChange is one ordered text edit against a single document.
type SuggestedChange struct {
	Path   string     `json:"path"`
	Kind   ChangeKind `json:"kind"`
	Before string     `json:"before,omitempty"`
	After  string     `json:"after,omitempty"`

	// Line is the 1-based line the change anchors to, 0 if unknown.
	Line int `json:"line,omitempty"`
}

// Recommendation bundles one or more inconsistency records into a single
// developer-reviewable unit.
type Recommendation struct {
	ID                string               `json:"id"`
	CreatedAt         time.Time            `json:"created_at"`
	Title             string               `json:"title"`
	InconsistencyIDs  []string             `json:"inconsistency_ids"`
	AffectedDocuments []string             `json:"affected_documents"`
	SuggestedChanges  []SuggestedChange    `json:"suggested_changes"`
	Status            RecommendationStatus `json:"status"`
	DeveloperFeedback string               `json:"developer_feedback,omitempty"`

	// LastCodebaseChange is the newest change event timestamp observed
	// when the recommendation was created.
	LastCodebaseChange time.Time `json:"last_codebase_change"`

	// PredecessorID links an amended successor back to its origin.
	PredecessorID string `json:"predecessor_id,omitempty"`
}

// NewRecommendation creates an active recommendation with a fresh UUID.
func NewRecommendation(title string) *Recommendation {
	return &Recommendation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Title:     title,
		Status:    RecommendationActive,
	}
}

// Affects reports whether the recommendation touches the given path.
func (r *Recommendation) Affects(path string) bool {
	for _, p := range r.AffectedDocuments {
		if p == path {
			return true
		}
	}
	return false
}

// Decision is the developer's verdict on a recommendation.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
	DecisionAmend  Decision = "amend"
)

// DeveloperDecision records the terminal transition of a recommendation.
// Exactly one decision is created per terminal transition.
type DeveloperDecision struct {
	RecommendationID string     `json:"recommendation_id"`
	Timestamp        time.Time  `json:"timestamp"`
	Decision         Decision   `json:"decision"`
	Comments         string     `json:"comments,omitempty"`
	ImplementedAt    *time.Time `json:"implemented_at,omitempty"`
}
