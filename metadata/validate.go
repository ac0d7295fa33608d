// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metadata

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validation errors surfaced to the caller. Malformed collaborator input
// is never silently downgraded.
var (
	// ErrEmptyPath indicates a metadata record or change event without a path.
	ErrEmptyPath = errors.New("path must not be empty")

	// ErrAbsolutePath indicates a path that is not project-relative.
	ErrAbsolutePath = errors.New("path must be project-relative")

	// ErrPathTraversal indicates a path containing .. traversal sequences.
	ErrPathTraversal = errors.New("path contains traversal sequences")
)

// validate is the shared, concurrency-safe validator instance.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidatePath checks that a path is a clean, project-relative path.
//
// # Outputs
//
//   - error: ErrEmptyPath, ErrAbsolutePath, or ErrPathTraversal on
//     malformed input, nil otherwise.
func ValidatePath(p string) error {
	if p == "" {
		return ErrEmptyPath
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return fmt.Errorf("%w: %s", ErrAbsolutePath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: %s", ErrPathTraversal, p)
	}
	return nil
}

// Validate checks a FileMetadata record against its schema.
//
// # Description
//
// Runs struct-tag validation plus path checks on the record path and every
// declared reference target. Schema mismatches are validation errors and
// surface immediately; they are never logged-and-continued.
func (m *FileMetadata) Validate() error {
	if err := ValidatePath(m.Path); err != nil {
		return fmt.Errorf("metadata for %q: %w", m.Path, err)
	}
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("metadata schema for %q: %w", m.Path, err)
	}
	for _, ref := range m.References {
		if err := ValidatePath(ref.Target); err != nil {
			return fmt.Errorf("reference target in %q: %w", m.Path, err)
		}
	}
	return nil
}

// Validate checks a ChangeEvent against its schema.
func (e *ChangeEvent) Validate() error {
	if err := ValidatePath(e.Path); err != nil {
		return fmt.Errorf("change event: %w", err)
	}
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("change event schema for %q: %w", e.Path, err)
	}
	return nil
}
