// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bureau-foundation/shardwire/lib/clock"
)

// errBucketRetired is returned by acquire when the bucket was merged
// into another or evicted while the caller waited. The caller looks
// the route up again.
var errBucketRetired = errors.New("rest: bucket retired")

// minimumWindow is assumed for a bucket whose window length has not
// been observed yet.
const minimumWindow = time.Second

// Bucket is the local view of one server-side rate-limit bucket.
//
// Until the first response for the bucket arrives its limit is
// unknown and it admits one probe request at a time. A response
// without quota headers marks it unlimited.
type Bucket struct {
	// key, hash, and provisional are guarded by the owning table's
	// mutex, not by mu.
	key         string
	hash        string
	provisional bool

	mu        sync.Mutex
	limit     int
	remaining int
	resetAt   time.Time
	window    time.Duration
	known     bool
	unlimited bool
	probing   bool
	retired   bool
	waiters   int
	lastUsed  time.Time

	// changed is closed and replaced whenever state changes in a way
	// that may let a waiter through.
	changed chan struct{}
}

func newBucket(key, hash string, provisional bool) *Bucket {
	return &Bucket{
		key:         key,
		hash:        hash,
		provisional: provisional,
		changed:     make(chan struct{}),
	}
}

// newFixedBucket returns a bucket with a known limit per fixed window,
// used for the global quota.
func newFixedBucket(key string, limit int, window time.Duration) *Bucket {
	bucket := newBucket(key, "", false)
	bucket.known = true
	bucket.limit = limit
	bucket.remaining = limit
	bucket.window = window
	return bucket
}

// ticket records one admission so it can be undone.
type ticket struct {
	bucket  *Bucket
	probe   bool
	resetAt time.Time
}

// acquire blocks until the bucket admits a request, ctx ends, or the
// bucket is retired.
func (bucket *Bucket) acquire(ctx context.Context, clk clock.Clock) (*ticket, error) {
	bucket.mu.Lock()
	for {
		if bucket.retired {
			bucket.mu.Unlock()
			return nil, errBucketRetired
		}
		now := clk.Now()
		bucket.lastUsed = now

		var wait time.Duration
		switch {
		case !bucket.known:
			if !bucket.probing {
				bucket.probing = true
				bucket.mu.Unlock()
				return &ticket{bucket: bucket, probe: true}, nil
			}
			// Wait for the probe's response.
		case bucket.unlimited:
			bucket.mu.Unlock()
			return &ticket{bucket: bucket}, nil
		default:
			bucket.refreshLocked(now)
			if bucket.remaining > 0 {
				bucket.remaining--
				if bucket.resetAt.IsZero() {
					bucket.resetAt = now.Add(max(bucket.window, minimumWindow))
				}
				admitted := &ticket{bucket: bucket, resetAt: bucket.resetAt}
				bucket.mu.Unlock()
				return admitted, nil
			}
			if bucket.resetAt.IsZero() {
				// The window ended without a limit ever being reported
				// (the bucket was only exhausted by a 429). Probe again.
				bucket.known = false
				continue
			}
			wait = bucket.resetAt.Sub(now)
		}

		changed := bucket.changed
		bucket.waiters++
		bucket.mu.Unlock()

		err := waitForChange(ctx, clk, changed, wait)

		bucket.mu.Lock()
		bucket.waiters--
		if err != nil {
			bucket.mu.Unlock()
			return nil, err
		}
	}
}

func waitForChange(ctx context.Context, clk clock.Clock, changed <-chan struct{}, wait time.Duration) error {
	var expired <-chan time.Time
	if wait > 0 {
		timer := clk.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-changed:
	case <-expired:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// refreshLocked starts a new window once the reset instant passes.
func (bucket *Bucket) refreshLocked(now time.Time) {
	if bucket.resetAt.IsZero() {
		if bucket.remaining <= 0 {
			bucket.remaining = bucket.limit
		}
		return
	}
	if !now.Before(bucket.resetAt) {
		bucket.remaining = bucket.limit
		bucket.resetAt = time.Time{}
	}
}

// broadcastLocked wakes every waiter.
func (bucket *Bucket) broadcastLocked() {
	close(bucket.changed)
	bucket.changed = make(chan struct{})
}

// update folds one response's quota into the bucket. Within a window
// the lower of the local and reported remaining counts wins: the local
// count already reflects requests the server has not answered yet.
//
// Only a successful response without quota headers proves the route
// is unlimited. An error without them (a proxy 5xx, a global 429)
// says nothing about the bucket, so an unknown bucket stays unknown
// and the next request probes again.
func (bucket *Bucket) update(info rateLimitInfo, status int, now time.Time) {
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	defer bucket.broadcastLocked()

	bucket.probing = false
	if !info.present {
		if !bucket.known && status >= 200 && status < 300 {
			bucket.known = true
			bucket.unlimited = true
		}
		return
	}

	if !bucket.known || bucket.unlimited {
		bucket.remaining = info.remaining
	} else {
		bucket.refreshLocked(now)
		bucket.remaining = min(bucket.remaining, info.remaining)
	}
	bucket.limit = info.limit
	if info.resetAt.After(bucket.resetAt) {
		bucket.resetAt = info.resetAt
	}
	if info.resetAfter > bucket.window {
		bucket.window = info.resetAfter
	}
	bucket.known = true
	bucket.unlimited = false
}

// exhaust blocks admission until until.
func (bucket *Bucket) exhaust(until time.Time) {
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	bucket.remaining = 0
	bucket.known = true
	bucket.unlimited = false
	bucket.probing = false
	if until.After(bucket.resetAt) {
		bucket.resetAt = until
	}
	bucket.broadcastLocked()
}

func (bucket *Bucket) isKnown() bool {
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	return bucket.known
}

// retire makes waiters and future acquirers look the route up again.
func (bucket *Bucket) retire() {
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	bucket.retired = true
	bucket.broadcastLocked()
}

// idle reports whether the bucket holds nothing worth keeping: no
// waiters, no probe, and no pending exhaustion.
func (bucket *Bucket) idle(now time.Time, after time.Duration) bool {
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	if bucket.waiters > 0 || bucket.probing || now.Sub(bucket.lastUsed) < after {
		return false
	}
	return bucket.resetAt.IsZero() || !now.Before(bucket.resetAt)
}

// undo returns an admission that never reached the server.
func (admitted *ticket) undo() {
	bucket := admitted.bucket
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	switch {
	case admitted.probe:
		bucket.probing = false
	case bucket.known && !bucket.unlimited && bucket.resetAt.Equal(admitted.resetAt) && bucket.remaining < bucket.limit:
		bucket.remaining++
	default:
		return
	}
	bucket.broadcastLocked()
}

// abandon releases a probe whose request produced no response. The
// quota consumed by a non-probe admission is kept: the request may
// have reached the server.
func (admitted *ticket) abandon() {
	if !admitted.probe {
		return
	}
	bucket := admitted.bucket
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	if bucket.probing && !bucket.known {
		bucket.probing = false
		bucket.broadcastLocked()
	}
}

// BucketStatus is a snapshot of one bucket for diagnostics.
type BucketStatus struct {
	Key       string
	Hash      string
	Limit     int
	Remaining int
	ResetAt   time.Time
	Known     bool
	Unlimited bool
}

func (bucket *Bucket) status(key, hash string) BucketStatus {
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	return BucketStatus{
		Key:       key,
		Hash:      hash,
		Limit:     bucket.limit,
		Remaining: bucket.remaining,
		ResetAt:   bucket.resetAt,
		Known:     bucket.known,
		Unlimited: bucket.unlimited,
	}
}
