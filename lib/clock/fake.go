// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	queue   waiterQueue
	changed *sync.Cond

	// sequence breaks deadline ties in registration order.
	sequence uint64
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

type fakeWaiter struct {
	deadline time.Time
	sequence uint64
	channel  chan time.Time
	period   time.Duration

	// index is the waiter's position in the heap, or -1 when it is
	// not scheduled.
	index int
}

type waiterQueue []*fakeWaiter

func (q waiterQueue) Len() int { return len(q) }

func (q waiterQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].sequence < q[j].sequence
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q waiterQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waiterQueue) Push(x any) {
	waiter := x.(*fakeWaiter)
	waiter.index = len(*q)
	*q = append(*q, waiter)
}

func (q *waiterQueue) Pop() any {
	old := *q
	last := len(old) - 1
	waiter := old[last]
	old[last] = nil
	waiter.index = -1
	*q = old[:last]
	return waiter
}

// scheduleLocked arms waiter for deadline. c.mu must be held.
func (c *FakeClock) scheduleLocked(waiter *fakeWaiter, deadline time.Time) {
	if waiter.index >= 0 {
		heap.Remove(&c.queue, waiter.index)
	}
	c.sequence++
	waiter.deadline = deadline
	waiter.sequence = c.sequence
	heap.Push(&c.queue, waiter)
	c.changed.Broadcast()
}

// unscheduleLocked removes waiter from the queue and reports whether
// it was pending. c.mu must be held.
func (c *FakeClock) unscheduleLocked(waiter *fakeWaiter) bool {
	if waiter.index < 0 {
		return false
	}
	heap.Remove(&c.queue, waiter.index)
	return true
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock has been
// advanced by d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C
}

// NewTimer arms a one-shot timer. A non-positive d delivers the
// current time immediately without registering a waiter.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{channel: make(chan time.Time, 1), index: -1}
	if d <= 0 {
		waiter.channel <- c.current
	} else {
		c.scheduleLocked(waiter, c.current.Add(d))
	}

	return &Timer{
		C: waiter.channel,
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.unscheduleLocked(waiter)
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasPending := c.unscheduleLocked(waiter)
			if d <= 0 {
				select {
				case waiter.channel <- c.current:
				default:
				}
				return wasPending
			}
			c.scheduleLocked(waiter, c.current.Add(d))
			return wasPending
		},
	}
}

// NewTicker arms a periodic waiter. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{channel: make(chan time.Time, 1), period: d, index: -1}
	c.scheduleLocked(waiter, c.current.Add(d))

	return &Ticker{
		C: waiter.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.unscheduleLocked(waiter)
		},
		reset: func(d time.Duration) {
			if d <= 0 {
				panic("clock: non-positive interval for Ticker.Reset")
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.period = d
			c.scheduleLocked(waiter, c.current.Add(d))
		},
	}
}

// Sleep blocks until the clock has been advanced by d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls inside the window in deadline order. Now() reads each
// waiter's deadline while it fires and reads start+d on return. Tickers
// fire once per elapsed period; ticks that find the channel full are
// dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	for len(c.queue) > 0 && !c.queue[0].deadline.After(target) {
		waiter := heap.Pop(&c.queue).(*fakeWaiter)
		fired := waiter.deadline
		if fired.After(c.current) {
			c.current = fired
		}
		if waiter.period > 0 {
			c.scheduleLocked(waiter, fired.Add(waiter.period))
		}
		select {
		case waiter.channel <- fired:
		default:
		}
	}
	c.current = target
	c.mu.Unlock()
}

// WaitForTimers blocks until at least n waiters are pending. Call it
// before Advance when another goroutine is about to arm a timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed timers and tickers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
