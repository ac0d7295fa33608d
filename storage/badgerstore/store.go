// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore implements the storage.Repository interface on
// BadgerDB for low-latency local embedded persistence.
//
// Key layout:
//
//	doc/<path>                         DocumentReference (JSON)
//	rel/<source>\x00<target>\x00<type>\x00<topic>  DocumentRelationship (JSON)
//	inc/<id>                           InconsistencyRecord (JSON)
//	rec/<id>                           Recommendation (JSON)
//	dec/<recommendation id>/<rfc3339nano>  DeveloperDecision (JSON)
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/docsentry/docsentry/graph"
	"github.com/docsentry/docsentry/model"
	"github.com/docsentry/docsentry/storage"
)

// Key prefixes for each record family.
const (
	prefixDocument       = "doc/"
	prefixRelationship   = "rel/"
	prefixInconsistency  = "inc/"
	prefixRecommendation = "rec/"
	prefixDecision       = "dec/"
)

// Config holds configuration for the BadgerDB repository.
type Config struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for the given path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests: in-memory, no sync.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the BadgerDB-backed repository.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide atomicity per
// repository call.
type Store struct {
	db *badger.DB
}

// Compile-time interface check.
var _ storage.Repository = (*Store)(nil)

// Open creates and opens a repository with the given configuration.
//
// # Outputs
//
//   - *Store: The opened repository. Caller must Close() it.
//   - error: Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent repository")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create repository directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger repository: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory repository for testing.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTxn runs fn in a read-write transaction, wrapping failures as
// repository errors.
func (s *Store) withTxn(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return storage.NewRepositoryError(op, err)
	}
	err := s.db.Update(fn)
	if err != nil {
		return storage.NewRepositoryError(op, err)
	}
	return nil
}

// withReadTxn runs fn in a read-only transaction.
func (s *Store) withReadTxn(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return storage.NewRepositoryError(op, err)
	}
	err := s.db.View(fn)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return storage.NewRepositoryError(op, err)
	}
	return nil
}

// setJSON marshals v and writes it under key.
func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// getJSON reads key and unmarshals into v. Maps missing keys to
// storage.ErrNotFound.
func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// scanPrefix iterates all values under prefix, invoking fn per value.
func scanPrefix(txn *badger.Txn, prefix string, fn func(key string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.Key())
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

// relationshipKey builds the rel/ key from the uniqueness tuple.
func relationshipKey(rel graph.DocumentRelationship) string {
	return prefixRelationship + rel.Key()
}

// SaveDocument upserts a document record.
func (s *Store) SaveDocument(ctx context.Context, ref graph.DocumentReference) error {
	return s.withTxn(ctx, "save document", func(txn *badger.Txn) error {
		return setJSON(txn, prefixDocument+ref.Path, ref)
	})
}

// DeleteDocument removes a document and every relationship touching it in
// a single transaction.
func (s *Store) DeleteDocument(ctx context.Context, path string) error {
	return s.withTxn(ctx, "delete document", func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(prefixDocument + path)); err != nil {
			return err
		}
		var doomed []string
		err := scanPrefix(txn, prefixRelationship, func(key string, val []byte) error {
			var rel graph.DocumentRelationship
			if err := json.Unmarshal(val, &rel); err != nil {
				return err
			}
			if rel.Source == path || rel.Target == path {
				doomed = append(doomed, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range doomed {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveRelationship upserts a relationship by its uniqueness key.
func (s *Store) SaveRelationship(ctx context.Context, rel graph.DocumentRelationship) error {
	return s.withTxn(ctx, "save relationship", func(txn *badger.Txn) error {
		return setJSON(txn, relationshipKey(rel), rel)
	})
}

// DeleteRelationships removes relationships from source, optionally
// filtered by target and type.
func (s *Store) DeleteRelationships(ctx context.Context, source, target string, relType graph.RelationType) error {
	return s.withTxn(ctx, "delete relationships", func(txn *badger.Txn) error {
		var doomed []string
		err := scanPrefix(txn, prefixRelationship+source+"\x00", func(key string, val []byte) error {
			var rel graph.DocumentRelationship
			if err := json.Unmarshal(val, &rel); err != nil {
				return err
			}
			if target != "" && rel.Target != target {
				return nil
			}
			if relType != graph.RelationAny && rel.Type != relType {
				return nil
			}
			doomed = append(doomed, key)
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range doomed {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDocuments returns every persisted document reference.
func (s *Store) ListDocuments(ctx context.Context) ([]graph.DocumentReference, error) {
	var docs []graph.DocumentReference
	err := s.withReadTxn(ctx, "list documents", func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixDocument, func(key string, val []byte) error {
			var ref graph.DocumentReference
			if err := json.Unmarshal(val, &ref); err != nil {
				return err
			}
			docs = append(docs, ref)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// ListRelationships returns every persisted relationship.
func (s *Store) ListRelationships(ctx context.Context) ([]graph.DocumentRelationship, error) {
	var rels []graph.DocumentRelationship
	err := s.withReadTxn(ctx, "list relationships", func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixRelationship, func(key string, val []byte) error {
			var rel graph.DocumentRelationship
			if err := json.Unmarshal(val, &rel); err != nil {
				return err
			}
			rels = append(rels, rel)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rels, nil
}

// SaveInconsistency upserts an inconsistency record by ID.
func (s *Store) SaveInconsistency(ctx context.Context, rec *model.InconsistencyRecord) error {
	if rec == nil || rec.ID == "" {
		return storage.NewRepositoryError("save inconsistency", errors.New("record must have an ID"))
	}
	return s.withTxn(ctx, "save inconsistency", func(txn *badger.Txn) error {
		return setJSON(txn, prefixInconsistency+rec.ID, rec)
	})
}

// GetInconsistency fetches a record by ID.
func (s *Store) GetInconsistency(ctx context.Context, id string) (*model.InconsistencyRecord, error) {
	var rec model.InconsistencyRecord
	err := s.withReadTxn(ctx, "get inconsistency", func(txn *badger.Txn) error {
		return getJSON(txn, prefixInconsistency+id, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// listInconsistencies returns records matching the filter.
func (s *Store) listInconsistencies(ctx context.Context, op string, keep func(*model.InconsistencyRecord) bool) ([]*model.InconsistencyRecord, error) {
	var recs []*model.InconsistencyRecord
	err := s.withReadTxn(ctx, op, func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixInconsistency, func(key string, val []byte) error {
			var rec model.InconsistencyRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			if keep(&rec) {
				recs = append(recs, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// InconsistenciesByStatus returns records with the given status.
func (s *Store) InconsistenciesByStatus(ctx context.Context, status model.InconsistencyStatus) ([]*model.InconsistencyRecord, error) {
	return s.listInconsistencies(ctx, "list inconsistencies by status", func(r *model.InconsistencyRecord) bool {
		return r.Status == status
	})
}

// InconsistenciesBySeverity returns records with the given severity.
func (s *Store) InconsistenciesBySeverity(ctx context.Context, severity model.Severity) ([]*model.InconsistencyRecord, error) {
	return s.listInconsistencies(ctx, "list inconsistencies by severity", func(r *model.InconsistencyRecord) bool {
		return r.Severity == severity
	})
}

// InconsistenciesByPath returns records where path is source or target.
func (s *Store) InconsistenciesByPath(ctx context.Context, path string) ([]*model.InconsistencyRecord, error) {
	return s.listInconsistencies(ctx, "list inconsistencies by path", func(r *model.InconsistencyRecord) bool {
		return r.SourceDoc == path || r.TargetDoc == path
	})
}

// SaveRecommendation upserts a recommendation by ID.
func (s *Store) SaveRecommendation(ctx context.Context, rec *model.Recommendation) error {
	if rec == nil || rec.ID == "" {
		return storage.NewRepositoryError("save recommendation", errors.New("recommendation must have an ID"))
	}
	return s.withTxn(ctx, "save recommendation", func(txn *badger.Txn) error {
		return setJSON(txn, prefixRecommendation+rec.ID, rec)
	})
}

// GetRecommendation fetches a recommendation by ID.
func (s *Store) GetRecommendation(ctx context.Context, id string) (*model.Recommendation, error) {
	var rec model.Recommendation
	err := s.withReadTxn(ctx, "get recommendation", func(txn *badger.Txn) error {
		return getJSON(txn, prefixRecommendation+id, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecommendationsByStatus returns recommendations with the given status.
func (s *Store) RecommendationsByStatus(ctx context.Context, status model.RecommendationStatus) ([]*model.Recommendation, error) {
	var recs []*model.Recommendation
	err := s.withReadTxn(ctx, "list recommendations by status", func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixRecommendation, func(key string, val []byte) error {
			var rec model.Recommendation
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			if rec.Status == status {
				recs = append(recs, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// SaveDecision appends a developer decision.
func (s *Store) SaveDecision(ctx context.Context, dec *model.DeveloperDecision) error {
	if dec == nil || dec.RecommendationID == "" {
		return storage.NewRepositoryError("save decision", errors.New("decision must reference a recommendation"))
	}
	ts := dec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	key := prefixDecision + dec.RecommendationID + "/" + ts.Format(time.RFC3339Nano)
	return s.withTxn(ctx, "save decision", func(txn *badger.Txn) error {
		return setJSON(txn, key, dec)
	})
}

// DecisionsFor returns all decisions recorded for a recommendation.
func (s *Store) DecisionsFor(ctx context.Context, recommendationID string) ([]*model.DeveloperDecision, error) {
	var decs []*model.DeveloperDecision
	err := s.withReadTxn(ctx, "list decisions", func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixDecision+recommendationID+"/", func(key string, val []byte) error {
			var dec model.DeveloperDecision
			if err := json.Unmarshal(val, &dec); err != nil {
				return err
			}
			decs = append(decs, &dec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return decs, nil
}
