// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph implements the relationship graph store: a directed,
// typed graph over tracked documents, held in an index-based arena and
// mirrored to a backing repository.
package graph

import (
	"time"

	"github.com/docsentry/docsentry/metadata"
)

// DocumentKind classifies a tracked file.
type DocumentKind int

const (
	// DocumentKindUnknown indicates an unclassified file.
	DocumentKindUnknown DocumentKind = iota

	// DocumentKindCode is a source file.
	DocumentKindCode

	// DocumentKindMarkdown is a markdown document.
	DocumentKindMarkdown

	// DocumentKindHeader is a header or interface-definition file.
	DocumentKindHeader

	// DocumentKindConfig is a configuration file.
	DocumentKindConfig
)

// documentKindNames maps DocumentKind values to their string forms.
var documentKindNames = map[DocumentKind]string{
	DocumentKindUnknown:  "unknown",
	DocumentKindCode:     "code",
	DocumentKindMarkdown: "markdown",
	DocumentKindHeader:   "header",
	DocumentKindConfig:   "config",
}

// String returns the string representation of the DocumentKind.
func (k DocumentKind) String() string {
	if name, ok := documentKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// KindForLanguage maps an extraction language to a DocumentKind.
func KindForLanguage(lang string) DocumentKind {
	switch lang {
	case "markdown":
		return DocumentKindMarkdown
	case "yaml", "toml", "json", "ini":
		return DocumentKindConfig
	case "c-header", "cpp-header", "header":
		return DocumentKindHeader
	case "":
		return DocumentKindUnknown
	default:
		return DocumentKindCode
	}
}

// DocumentReference is a tracked file and its extracted header metadata.
// The path is the unique key. Instances are owned exclusively by the
// Store; callers receive copies.
type DocumentReference struct {
	Path          string                  `json:"path"`
	Kind          DocumentKind            `json:"kind"`
	LastModified  time.Time               `json:"last_modified"`
	ContentDigest string                  `json:"content_digest,omitempty"`
	Header        metadata.HeaderSections `json:"header"`
}

// RelationType defines the type of relationship between documents.
type RelationType int

const (
	// RelationAny is a query wildcard matching every relation type.
	// It is never stored on an edge.
	RelationAny RelationType = iota

	// RelationDependsOn indicates the source requires the target.
	RelationDependsOn

	// RelationImpacts indicates changes to the source affect the target.
	RelationImpacts

	// RelationImplements indicates the source realizes the target's design.
	RelationImplements

	// RelationExtends indicates the source builds on the target.
	RelationExtends
)

// relationTypeNames maps RelationType values to their string forms.
var relationTypeNames = map[RelationType]string{
	RelationAny:        "any",
	RelationDependsOn:  "depends_on",
	RelationImpacts:    "impacts",
	RelationImplements: "implements",
	RelationExtends:    "extends",
}

// String returns the string representation of the RelationType.
func (t RelationType) String() string {
	if name, ok := relationTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseRelationType converts a declared relation name to a RelationType.
// Unknown names return RelationAny and false.
func ParseRelationType(s string) (RelationType, bool) {
	for t, name := range relationTypeNames {
		if name == s && t != RelationAny {
			return t, true
		}
	}
	return RelationAny, false
}

// DocumentRelationship is a directed, typed edge between two documents.
//
// Multiple edges between the same pair are allowed when their topics
// differ; the uniqueness key is (source, target, relation type, topic).
type DocumentRelationship struct {
	Source string       `json:"source"`
	Target string       `json:"target"`
	Type   RelationType `json:"type"`
	Topic  string       `json:"topic,omitempty"`
	Scope  string       `json:"scope,omitempty"`
}

// Key returns the uniqueness key for the relationship.
func (r DocumentRelationship) Key() string {
	return r.Source + "\x00" + r.Target + "\x00" + r.Type.String() + "\x00" + r.Topic
}
