/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dbsync

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy tunes withRetry's exponential backoff (spec §6
// sync.retry.*). Non-retryable errors (per IsRetryable) are never retried
// regardless of MaxAttempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CapDelay    time.Duration
	Jitter      float64 // fraction, e.g. 0.2 for +/-20%
}

// DefaultRetryPolicy matches spec §4.6: base 1s, factor 2, jitter +/-20%,
// 3 attempts, cap 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, CapDelay: 30 * time.Second, Jitter: 0.2}
}

// withRetry runs fn with exponential backoff, generalizing the teacher's
// compaction.Engine.withRetry: adds a retryability check (SyncError.
// Retryable) so validation/classification failures (TypeUnmappable,
// SchemaDrift) fail on the first attempt instead of burning the retry
// budget, and applies randomized jitter to the delay.
func withRetry(ctx context.Context, log *zap.SugaredLogger, policy RetryPolicy, operation string, fn func() error) error {
	delay := policy.BaseDelay
	var lastErr error

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			wait := jittered(delay, policy.Jitter)
			if log != nil {
				log.Warnw("retrying operation", "operation", operation, "attempt", attempt, "wait", wait, "error", lastErr)
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > policy.CapDelay {
				delay = policy.CapDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, maxAttempts, lastErr)
}

func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	delta := float64(d) * fraction
	offset := (rand.Float64()*2 - 1) * delta
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		return 0
	}
	return result
}
