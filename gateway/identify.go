// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/shardwire/lib/clock"
)

// DefaultIdentifyInterval is the minimum spacing between identify
// batches.
const DefaultIdentifyInterval = 5 * time.Second

// IdentifyGate serializes fresh identifies across shards. Resumes do
// not pass through the gate.
type IdentifyGate interface {
	// Acquire blocks until shardID may identify. The caller sends its
	// identify and then releases the permit.
	Acquire(ctx context.Context, shardID int) (Permit, error)
}

// Permit is one grant from an IdentifyGate.
type Permit interface {
	// Release reports that the identify was sent (or abandoned).
	// Calling it more than once is harmless.
	Release()
}

// IdentifyQueueConfig configures an IdentifyQueue.
type IdentifyQueueConfig struct {
	// Concurrency is how many permits are granted per interval.
	// Values below 1 mean 1.
	Concurrency int

	// Interval is the wait after a batch's permits are released
	// before the next batch is granted. Zero uses
	// DefaultIdentifyInterval.
	Interval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// IdentifyQueue is a FIFO IdentifyGate. Waiters are granted in arrival
// order, up to Concurrency at a time; after every permit in a batch is
// released the queue waits Interval before granting the next batch.
// Run must be running for Acquire to make progress.
type IdentifyQueue struct {
	concurrency int
	interval    time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	requests chan *identifyRequest
}

// NewIdentifyQueue returns a queue. Call Run to start granting.
func NewIdentifyQueue(config IdentifyQueueConfig) *IdentifyQueue {
	queue := &IdentifyQueue{
		concurrency: max(config.Concurrency, 1),
		interval:    config.Interval,
		clock:       config.Clock,
		logger:      config.Logger,
		requests:    make(chan *identifyRequest),
	}
	if queue.interval <= 0 {
		queue.interval = DefaultIdentifyInterval
	}
	if queue.clock == nil {
		queue.clock = clock.Real()
	}
	if queue.logger == nil {
		queue.logger = slog.Default()
	}
	return queue
}

const (
	requestWaiting int32 = iota
	requestGranted
	requestCanceled
)

type identifyRequest struct {
	shardID int
	state   atomic.Int32
	granted chan *identifyPermit
}

type identifyPermit struct {
	once     sync.Once
	released chan struct{}
}

func (permit *identifyPermit) Release() {
	permit.once.Do(func() { close(permit.released) })
}

// Acquire waits for a permit. Blocked senders on an unbuffered channel
// are served in order, which makes the queue FIFO. A caller whose ctx
// ends while waiting leaves no trace in the queue.
func (queue *IdentifyQueue) Acquire(ctx context.Context, shardID int) (Permit, error) {
	request := &identifyRequest{shardID: shardID, granted: make(chan *identifyPermit, 1)}
	select {
	case queue.requests <- request:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case permit := <-request.granted:
		return permit, nil
	case <-ctx.Done():
		if request.state.CompareAndSwap(requestWaiting, requestCanceled) {
			return nil, ctx.Err()
		}
		// Granted concurrently: hand the permit straight back.
		(<-request.granted).Release()
		return nil, ctx.Err()
	}
}

// Run grants permits until ctx ends.
func (queue *IdentifyQueue) Run(ctx context.Context) error {
	for {
		batch := make([]*identifyPermit, 0, queue.concurrency)

		// Block for the first live waiter of the batch.
		for len(batch) == 0 {
			select {
			case request := <-queue.requests:
				if permit := queue.grant(request); permit != nil {
					batch = append(batch, permit)
				}
			case <-ctx.Done():
				return nil
			}
		}

		// Fill the batch with waiters already queued.
	fill:
		for len(batch) < queue.concurrency {
			select {
			case request := <-queue.requests:
				if permit := queue.grant(request); permit != nil {
					batch = append(batch, permit)
				}
			default:
				break fill
			}
		}

		for _, permit := range batch {
			select {
			case <-permit.released:
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-queue.clock.After(queue.interval):
		case <-ctx.Done():
			return nil
		}
	}
}

// grant hands a permit to request unless its caller already gave up.
func (queue *IdentifyQueue) grant(request *identifyRequest) *identifyPermit {
	if !request.state.CompareAndSwap(requestWaiting, requestGranted) {
		return nil
	}
	permit := &identifyPermit{released: make(chan struct{})}
	request.granted <- permit
	queue.logger.Debug("identify permit granted", "shard", request.shardID)
	return permit
}
