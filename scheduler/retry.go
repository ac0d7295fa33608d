// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/docsentry/docsentry/storage"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the initial wait before the first retry.
	// Default: 500ms
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries. Default: 10s
	MaxBackoff time.Duration

	// BackoffFactor multiplies the backoff each attempt. Default: 2.0
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of backoff (0-1).
	// Default: 0.2
	JitterFactor float64
}

// DefaultRetryConfig returns sensible defaults for worker retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// IsRetryable reports whether an error should trigger a retry. Only
// repository (persistence I/O) failures are retryable; validation and
// scheduling errors surface immediately.
func IsRetryable(err error) bool {
	return storage.IsRepositoryError(err)
}

// retry executes fn with exponential backoff, retrying only retryable
// errors. Returns the number of attempts made and the final error.
func retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) (int, error) {
	backoff := config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if !IsRetryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(withJitter(backoff, config.JitterFactor)):
		}
		backoff = nextBackoff(backoff, config.BackoffFactor, config.MaxBackoff)
	}
	return config.MaxAttempts, lastErr
}

// withJitter spreads the backoff into [base*(1-jitter), base*(1+jitter)].
func withJitter(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

// nextBackoff calculates the next backoff value, capped at max.
func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
