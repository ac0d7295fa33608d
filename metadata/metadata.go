// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metadata defines the structured inputs the engine consumes from
// its extraction and monitoring collaborators. The engine never parses
// source files itself; it receives FileMetadata records and ChangeEvents
// and validates them at the boundary.
package metadata

import (
	"time"
)

// HeaderSections are the structured sections extracted from a document's
// header block.
type HeaderSections struct {
	Intent                 string   `json:"intent,omitempty"`
	DesignPrinciples       []string `json:"design_principles,omitempty"`
	Constraints            []string `json:"constraints,omitempty"`
	ReferenceDocumentation []string `json:"reference_documentation,omitempty"`
}

// DeclaredReference is a reference declared inside a document, either a
// documentation link or a code import.
type DeclaredReference struct {
	// Target is the path the reference points at, relative to the
	// project root.
	Target string `json:"target" validate:"required"`

	// Topic names what the reference is about ("auth flow", "storage").
	Topic string `json:"topic,omitempty"`

	// Kind distinguishes declared doc references from code imports and
	// relationship-declaration entries.
	Kind ReferenceKind `json:"kind" validate:"required,oneof=reference import declaration"`

	// Relation optionally names the declared relationship type for
	// declaration-file entries (depends_on, impacts, implements, extends).
	Relation string `json:"relation,omitempty" validate:"omitempty,oneof=depends_on impacts implements extends"`

	// Scope optionally narrows the relationship ("module", "function").
	Scope string `json:"scope,omitempty"`
}

// ReferenceKind classifies how a reference was declared.
type ReferenceKind string

const (
	// ReferenceKindReference is a documentation cross-reference.
	ReferenceKindReference ReferenceKind = "reference"

	// ReferenceKindImport is a code import statement.
	ReferenceKindImport ReferenceKind = "import"

	// ReferenceKindDeclaration is an entry from a relationship
	// declaration file.
	ReferenceKindDeclaration ReferenceKind = "declaration"
)

// SymbolDoc is extracted documentation for a function or class.
type SymbolDoc struct {
	Name string `json:"name" validate:"required"`
	Kind string `json:"kind,omitempty"`
	Doc  string `json:"doc,omitempty"`
}

// FileMetadata is the structured extraction result for one file, supplied
// by the external extraction collaborator.
type FileMetadata struct {
	// Path is the project-relative path of the file. Required, and must
	// not escape the project root.
	Path string `json:"path" validate:"required"`

	// Language is the detected language or format ("go", "markdown").
	Language string `json:"language,omitempty"`

	// ContentDigest is a hex digest of the file content at extraction.
	ContentDigest string `json:"content_digest,omitempty"`

	// ModifiedAt is the file's modification time at extraction.
	ModifiedAt time.Time `json:"modified_at"`

	// Header carries the header-derived sections.
	Header HeaderSections `json:"header"`

	// References are all declared references and imports.
	References []DeclaredReference `json:"references,omitempty" validate:"dive"`

	// Symbols documents functions and classes in code files.
	Symbols []SymbolDoc `json:"symbols,omitempty" validate:"dive"`

	// Terminology maps concept names to the terms this file uses for
	// them, for cross-document terminology checks.
	Terminology map[string]string `json:"terminology,omitempty"`
}

// ChangeKind classifies a file-change event.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// ChangeEvent is a file-change notification from the monitoring
// collaborator.
type ChangeEvent struct {
	Path string     `json:"path" validate:"required"`
	Kind ChangeKind `json:"kind" validate:"required,oneof=created modified deleted"`
	Time time.Time  `json:"time"`
}
