// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source for every component that waits. Sessions,
// the identify queue, rate-limit buckets, and the REST dispatcher take
// a Clock in their config instead of calling the time package, so
// tests can drive heartbeats and bucket resets deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. A
	// non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a one-shot Timer that can be stopped and
	// re-armed. A non-positive d fires immediately.
	NewTimer(d time.Duration) *Timer

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// Since returns the time elapsed on c since t.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Ticker delivers periodic ticks on C. The channel has capacity 1;
// a slow consumer loses ticks rather than queueing them.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Reset changes the period and restarts the cycle from now.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }

// Timer delivers a single event on C.
type Timer struct {
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop prevents the timer from firing. It reports whether the timer
// was still pending. A value already delivered to C is not drained.
func (t *Timer) Stop() bool { return t.stop() }

// Reset re-arms the timer to fire after d and reports whether it was
// pending before the call.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }
