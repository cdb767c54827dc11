// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway maintains sharded gateway connections.
//
// A [Session] owns one shard's websocket: it waits for hello, runs the
// heartbeat, identifies (through an [IdentifyGate]) or resumes, tracks
// the dispatch sequence, and forwards every dispatch to an
// [eventbus.Bus] in receipt order. Closed connections are classified
// by [Classify] into resumable, not resumable, and fatal.
//
// A [Coordinator] runs a fleet of sessions behind a FIFO
// [IdentifyQueue], removes shards that close fatally (publishing
// [ShardDownEvent]), and closes [Coordinator.Ready] once every shard
// has been Ready.
//
// [WebSocketDialer] is the production transport; it speaks
// zlib-stream or zstd-stream transport compression when asked.
// Checkpoints ([FileCheckpointStore]) let a restarted process resume
// its sessions.
package gateway
