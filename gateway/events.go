// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"time"

	"github.com/bureau-foundation/shardwire/eventbus"
)

// Events published on the bus. Sessions publish through their
// dispatch queue, so everything one shard publishes reaches handlers
// in receipt order.

// DispatchEvent carries one op-0 frame. Handlers may claim it with
// MarkHandled to stop later handlers from seeing it.
type DispatchEvent struct {
	eventbus.Mark

	ShardID  int
	Sequence int64
	Type     string
	Data     json.RawMessage
}

// ReadyEvent is published after READY establishes a new session.
type ReadyEvent struct {
	ShardID   int
	SessionID string
	ResumeURL string
	Data      json.RawMessage
}

// ResumedEvent is published after RESUMED; every missed dispatch has
// already been published by then.
type ResumedEvent struct {
	ShardID  int
	Sequence int64
}

// StateChangeEvent reports a session state transition.
type StateChangeEvent struct {
	ShardID int
	From    State
	To      State
}

// ProtocolViolationEvent reports a malformed or out-of-order frame.
// The session reconnects with a fresh identify.
type ProtocolViolationEvent struct {
	ShardID int
	Err     error
}

// ReconnectEvent reports a connection being replaced. Delay is the
// wait before the next dial.
type ReconnectEvent struct {
	ShardID int
	Resume  bool
	Delay   time.Duration
	Err     error
}

// ShardDownEvent reports a shard removed from rotation after a fatal
// close. Restart brings it back.
type ShardDownEvent struct {
	ShardID int
	Err     error
}

// FleetReadyEvent is published once, when every shard has reached
// StateReady at least once.
type FleetReadyEvent struct {
	Shards int
}
