// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the repository abstraction the engine persists
// through, and the error taxonomy for persistence failures. Engine code
// depends on the Repository interface only; the BadgerDB implementation
// lives in the badgerstore subpackage.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/docsentry/docsentry/graph"
	"github.com/docsentry/docsentry/model"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RepositoryError wraps a persistence I/O failure. Repository errors are
// the retryable class: the analysis worker retries them with bounded
// backoff before dropping the item.
type RepositoryError struct {
	// Op names the failed repository operation.
	Op string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *RepositoryError) Unwrap() error { return e.Err }

// NewRepositoryError wraps err as a repository failure for op.
func NewRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{Op: op, Err: err}
}

// IsRepositoryError reports whether err is (or wraps) a RepositoryError.
func IsRepositoryError(err error) bool {
	var re *RepositoryError
	return errors.As(err, &re)
}

// Repository is the persistence surface for every engine record type.
//
// # Description
//
// Implementations must make each call atomic: a failed call leaves the
// repository unchanged. ErrNotFound is returned (wrapped) for missing
// records; every other failure is wrapped in RepositoryError.
type Repository interface {
	// Graph persistence. Satisfies graph.Persistence.
	SaveDocument(ctx context.Context, ref graph.DocumentReference) error
	DeleteDocument(ctx context.Context, path string) error
	SaveRelationship(ctx context.Context, rel graph.DocumentRelationship) error
	DeleteRelationships(ctx context.Context, source, target string, relType graph.RelationType) error

	// ListDocuments returns every persisted document reference.
	ListDocuments(ctx context.Context) ([]graph.DocumentReference, error)

	// ListRelationships returns every persisted relationship.
	ListRelationships(ctx context.Context) ([]graph.DocumentRelationship, error)

	// SaveInconsistency upserts an inconsistency record by ID.
	SaveInconsistency(ctx context.Context, rec *model.InconsistencyRecord) error

	// GetInconsistency fetches a record by ID.
	GetInconsistency(ctx context.Context, id string) (*model.InconsistencyRecord, error)

	// InconsistenciesByStatus returns records with the given status.
	InconsistenciesByStatus(ctx context.Context, status model.InconsistencyStatus) ([]*model.InconsistencyRecord, error)

	// InconsistenciesBySeverity returns records with the given severity.
	InconsistenciesBySeverity(ctx context.Context, severity model.Severity) ([]*model.InconsistencyRecord, error)

	// InconsistenciesByPath returns records where path is source or target.
	InconsistenciesByPath(ctx context.Context, path string) ([]*model.InconsistencyRecord, error)

	// SaveRecommendation upserts a recommendation by ID.
	SaveRecommendation(ctx context.Context, rec *model.Recommendation) error

	// GetRecommendation fetches a recommendation by ID.
	GetRecommendation(ctx context.Context, id string) (*model.Recommendation, error)

	// RecommendationsByStatus returns recommendations with the given status.
	RecommendationsByStatus(ctx context.Context, status model.RecommendationStatus) ([]*model.Recommendation, error)

	// SaveDecision appends a developer decision.
	SaveDecision(ctx context.Context, dec *model.DeveloperDecision) error

	// DecisionsFor returns all decisions recorded for a recommendation.
	DecisionsFor(ctx context.Context, recommendationID string) ([]*model.DeveloperDecision, error)

	// Close releases the underlying storage.
	Close() error
}

// Compile-time check that Repository satisfies the graph store's
// persistence contract.
var _ graph.Persistence = (Repository)(nil)
