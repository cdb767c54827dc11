// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"

	"github.com/bureau-foundation/shardwire/lib/fault"
)

// CloseClass is how a session reacts to a closed connection.
type CloseClass int

const (
	// Resumable closes keep the session id, sequence, and resume URL;
	// the next connection resumes.
	Resumable CloseClass = iota

	// NotResumable closes discard the session; the next connection
	// identifies afresh.
	NotResumable

	// FatalClose stops the session permanently.
	FatalClose
)

func (class CloseClass) String() string {
	switch class {
	case Resumable:
		return "resumable"
	case NotResumable:
		return "not_resumable"
	default:
		return "fatal"
	}
}

// Gateway close codes.
const (
	CloseNormal               = 1000
	CloseGoingAway            = 1001
	CloseAbnormal             = 1006
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSequence      = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014

	// CloseKeepSession is sent by the client when it closes a
	// connection it intends to resume. Closing with 1000 or 1001
	// would invalidate the session server-side.
	CloseKeepSession = 4900
)

// Classify maps a close code to the session's reaction. Codes not
// listed, including transport failures, are resumable.
func Classify(code int) CloseClass {
	switch code {
	case CloseNormal, CloseGoingAway, CloseInvalidSequence, CloseSessionTimedOut:
		return NotResumable
	case CloseAuthenticationFailed, CloseInvalidShard, CloseShardingRequired,
		CloseInvalidAPIVersion, CloseInvalidIntents, CloseDisallowedIntents:
		return FatalClose
	default:
		return Resumable
	}
}

// CloseError reports a connection closed by the server.
type CloseError struct {
	Code   int
	Reason string
}

func (err *CloseError) Error() string {
	if err.Reason == "" {
		return fmt.Sprintf("gateway: connection closed with code %d", err.Code)
	}
	return fmt.Sprintf("gateway: connection closed with code %d: %s", err.Code, err.Reason)
}

// Class returns Classify(err.Code).
func (err *CloseError) Class() CloseClass { return Classify(err.Code) }

// Kind maps fatal closes to fault.Fatal and everything else to
// fault.Transient.
func (err *CloseError) Kind() fault.Kind {
	if err.Class() == FatalClose {
		return fault.Fatal
	}
	return fault.Transient
}
