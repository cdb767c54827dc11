// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/shardwire/lib/clock"
)

// bucketTable maps routes to buckets. routes records the hash the
// server assigned to each route; buckets holds resolved buckets keyed
// by hash and major parameter, and provisional buckets keyed by route.
type bucketTable struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	routes  map[string]string
	buckets map[string]*Bucket

	global *Bucket
}

func newBucketTable(clk clock.Clock, logger *slog.Logger, globalLimit int, globalWindow time.Duration) *bucketTable {
	return &bucketTable{
		clock:   clk,
		logger:  logger,
		routes:  make(map[string]string),
		buckets: make(map[string]*Bucket),
		global:  newFixedBucket("global", globalLimit, globalWindow),
	}
}

func resolvedKey(hash, major string) string {
	return hash + ":" + major
}

func provisionalKey(key RouteKey) string {
	return "route:" + key.String()
}

// lookup returns the bucket a request for key is admitted through,
// creating it if needed.
func (table *bucketTable) lookup(key RouteKey) *Bucket {
	table.mu.Lock()
	defer table.mu.Unlock()

	bucketKey := provisionalKey(key)
	hash, resolved := table.routes[key.routeID()]
	if resolved {
		bucketKey = resolvedKey(hash, key.Major)
	}
	bucket, ok := table.buckets[bucketKey]
	if !ok {
		bucket = newBucket(bucketKey, hash, !resolved)
		table.buckets[bucketKey] = bucket
	}
	return bucket
}

// admit blocks until the route's bucket admits a request.
func (table *bucketTable) admit(ctx context.Context, key RouteKey) (*ticket, error) {
	for {
		admitted, err := table.lookup(key).acquire(ctx, table.clock)
		if errors.Is(err, errBucketRetired) {
			continue
		}
		return admitted, err
	}
}

// resolve applies a response's quota to the right bucket and returns
// it. When the response names a bucket hash different from the one
// the request was admitted under, the route is re-pointed; a
// provisional bucket is promoted in place when the hash is new and
// retired when another route already owns the hash. Resolving the
// same mapping twice changes nothing. status is the response's HTTP
// status code.
func (table *bucketTable) resolve(key RouteKey, admitted *Bucket, info rateLimitInfo, status int) *Bucket {
	target := admitted
	if info.bucket != "" {
		target = table.rekey(key, admitted, info.bucket)
	}
	target.update(info, status, table.clock.Now())
	return target
}

func (table *bucketTable) rekey(key RouteKey, admitted *Bucket, hash string) *Bucket {
	table.mu.Lock()
	defer table.mu.Unlock()

	routeID := key.routeID()
	if previous, ok := table.routes[routeID]; !ok || previous != hash {
		table.routes[routeID] = hash
		table.logger.Debug("rate limit bucket assigned",
			"route", routeID,
			"bucket", hash,
			"previous_bucket", previous,
		)
	}

	bucketKey := resolvedKey(hash, key.Major)
	existing, ok := table.buckets[bucketKey]
	switch {
	case ok:
		if existing != admitted {
			table.dropIfUnknownLocked(admitted)
		}
		return existing
	case admitted.provisional:
		if table.buckets[admitted.key] == admitted {
			delete(table.buckets, admitted.key)
		}
		admitted.key = bucketKey
		admitted.hash = hash
		admitted.provisional = false
		table.buckets[bucketKey] = admitted
		return admitted
	default:
		table.dropIfUnknownLocked(admitted)
		bucket := newBucket(bucketKey, hash, false)
		table.buckets[bucketKey] = bucket
		return bucket
	}
}

// dropIfUnknownLocked retires a bucket that the server just moved the
// route away from, if it never learned a limit. Requests queued behind
// its probe look the route up again and find the new bucket.
func (table *bucketTable) dropIfUnknownLocked(bucket *Bucket) {
	if !bucket.provisional && bucket.isKnown() {
		return
	}
	if table.buckets[bucket.key] == bucket {
		delete(table.buckets, bucket.key)
	}
	bucket.retire()
}

// sweep evicts buckets idle for longer than after. A missing bucket
// only means no limit is known yet, so eviction is always safe.
func (table *bucketTable) sweep(after time.Duration) int {
	now := table.clock.Now()
	table.mu.Lock()
	defer table.mu.Unlock()

	evicted := 0
	for bucketKey, bucket := range table.buckets {
		if bucket.idle(now, after) {
			delete(table.buckets, bucketKey)
			bucket.retire()
			evicted++
		}
	}
	return evicted
}

// snapshot returns every bucket's status, sorted by key.
func (table *bucketTable) snapshot() []BucketStatus {
	table.mu.Lock()
	type entry struct {
		bucket *Bucket
		key    string
		hash   string
	}
	entries := make([]entry, 0, len(table.buckets))
	for bucketKey, bucket := range table.buckets {
		entries = append(entries, entry{bucket: bucket, key: bucketKey, hash: bucket.hash})
	}
	table.mu.Unlock()

	statuses := make([]BucketStatus, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, e.bucket.status(e.key, e.hash))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	return statuses
}

// assignedHash returns the bucket hash recorded for key's route.
func (table *bucketTable) assignedHash(key RouteKey) (string, bool) {
	table.mu.Lock()
	defer table.mu.Unlock()
	hash, ok := table.routes[key.routeID()]
	return hash, ok
}
