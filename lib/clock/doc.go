// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used throughout
// shardwire.
//
// Production code receives Real(). Tests receive Fake(start) and move
// time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	session := gateway.NewSession(gateway.SessionConfig{Clock: fake, ...})
//	go session.Run(ctx)
//	fake.WaitForTimers(1)           // heartbeat ticker registered
//	fake.Advance(41250 * time.Millisecond)
//
// WaitForTimers closes the race between a goroutine arming a timer and
// the test advancing past it. Advance fires waiters one at a time in
// deadline order and moves Now() to each deadline as it fires, so a
// goroutine that re-arms from inside a tick observes the tick's time.
package clock
