// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"math/rand/v2"
	"time"
)

// Default reconnect backoff bounds.
const (
	DefaultBackoffInitial = time.Second
	DefaultBackoffMax     = 2 * time.Minute
)

// backoff computes reconnect delays: initial doubling per failed
// attempt up to max, scaled by a random factor in [0.5, 1.0).
type backoff struct {
	initial  time.Duration
	max      time.Duration
	attempts int
	random   func() float64
}

func newBackoff(initial, maximum time.Duration, random func() float64) *backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if maximum < initial {
		maximum = max(DefaultBackoffMax, initial)
	}
	if random == nil {
		random = rand.Float64
	}
	return &backoff{initial: initial, max: maximum, random: random}
}

// next returns the delay before the next attempt and counts it.
func (b *backoff) next() time.Duration {
	delay := b.initial
	for range b.attempts {
		delay *= 2
		if delay >= b.max {
			delay = b.max
			break
		}
	}
	b.attempts++
	return time.Duration(float64(delay) * (0.5 + b.random()/2))
}

// reset is called once a connection reaches StateReady.
func (b *backoff) reset() { b.attempts = 0 }
