// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"testing"
	"time"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := newBackoff(time.Second, 8*time.Second, func() float64 { return 0.999999 })
	var previous time.Duration
	for attempt := range 6 {
		delay := b.next()
		if delay > 8*time.Second {
			t.Fatalf("attempt %d delay %v exceeds max", attempt, delay)
		}
		if attempt < 4 && delay <= previous {
			t.Errorf("attempt %d delay %v did not grow from %v", attempt, delay, previous)
		}
		previous = delay
	}
}

func TestBackoffJitterRange(t *testing.T) {
	low := newBackoff(time.Second, time.Minute, func() float64 { return 0 })
	if delay := low.next(); delay != 500*time.Millisecond {
		t.Errorf("minimum jitter delay = %v, want 500ms", delay)
	}
	high := newBackoff(time.Second, time.Minute, func() float64 { return 0.5 })
	high.next()
	if delay := high.next(); delay != 1500*time.Millisecond {
		t.Errorf("second delay = %v, want 1.5s", delay)
	}
}

func TestBackoffReset(t *testing.T) {
	b := newBackoff(time.Second, time.Minute, func() float64 { return 0 })
	b.next()
	b.next()
	b.reset()
	if delay := b.next(); delay != 500*time.Millisecond {
		t.Errorf("delay after reset = %v", delay)
	}
}
