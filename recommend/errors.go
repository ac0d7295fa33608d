// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recommend

import "errors"

// Sentinel errors for the recommendation lifecycle.
var (
	// ErrNoPending indicates no recommendation currently holds the
	// presented slot.
	ErrNoPending = errors.New("no recommendation is presented")

	// ErrUnknownRecommendation indicates the ID matches no tracked
	// recommendation.
	ErrUnknownRecommendation = errors.New("unknown recommendation")

	// ErrNotActive indicates a decision was applied to a recommendation
	// already in a terminal state.
	ErrNotActive = errors.New("recommendation is not active")

	// ErrNoDecision indicates the artifact has no checked decision box.
	ErrNoDecision = errors.New("no decision checkbox is marked")

	// ErrAmbiguousDecision indicates more than one checked decision box.
	ErrAmbiguousDecision = errors.New("more than one decision checkbox is marked")

	// ErrNoRecords indicates a create call without inconsistency records.
	ErrNoRecords = errors.New("at least one inconsistency record is required")

	// ErrMarkerMissing indicates the artifact lost its do-not-modify
	// marker and cannot be parsed safely.
	ErrMarkerMissing = errors.New("artifact marker missing")
)
