// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleetui is the live terminal dashboard for a shard fleet,
// built on bubbletea.
//
// The model polls a [Source] (a gateway.Coordinator satisfies it) on a
// fixed interval and renders one row per shard: state, session,
// sequence, heartbeat latency, reconnect count, and time since the
// last heartbeat ack. Rows whose state changed recently are tinted
// so flapping shards stand out. When the source also implements
// [Restarter], a stopped shard can be put back into rotation from
// the dashboard. A [RateLimits] source adds a line listing exhausted
// REST buckets.
package fleetui
