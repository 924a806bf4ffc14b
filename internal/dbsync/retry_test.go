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
	"errors"
	"testing"
	"time"
)

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), nil, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, CapDelay: 10 * time.Millisecond, Jitter: 0}, "op", func() error {
		calls++
		if calls < 3 {
			return newError(ErrSourceReadError, true, "transient", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry returned unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), nil, DefaultRetryPolicy(), "op", func() error {
		calls++
		return newError(ErrTypeUnmappable, false, "unmappable", nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable must not retry)", calls)
	}
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), nil, RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, CapDelay: 10 * time.Millisecond, Jitter: 0}, "op", func() error {
		calls++
		return newError(ErrSourceReadError, true, "always fails", nil)
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 2 { // MaxAttempts counts the initial call
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestWithRetry_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, nil, DefaultRetryPolicy(), "op", func() error {
		t.Fatal("fn must not be called on an already-cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestJittered_StaysWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := jittered(base, 0.2)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Errorf("jittered(%v, 0.2) = %v, outside +/-20%% bounds", base, got)
		}
	}
}

func TestJittered_ZeroFractionIsExact(t *testing.T) {
	if got := jittered(100*time.Millisecond, 0); got != 100*time.Millisecond {
		t.Errorf("jittered with zero fraction = %v, want exact base", got)
	}
}
