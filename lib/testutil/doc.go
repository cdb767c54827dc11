// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the channel helpers shardwire tests use in
// place of ad hoc select statements.
//
// [RequireReceive], [RequireSend], [RequireClosed], and
// [RequireNoReceive] wrap a channel operation in a wall-clock safety
// valve. Tests drive protocol timing with clock.Fake; the wall clock
// here only bounds how long a broken test hangs. [Eventually] polls a
// condition for state that is published without a channel (session
// state, bucket counters).
//
// All helpers fail the test with t.Fatalf.
package testutil
