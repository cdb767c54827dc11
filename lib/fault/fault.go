// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the error taxonomy shared by the REST
// dispatcher, the gateway sessions, and the voice receiver.
//
// Every error a shardwire component surfaces carries a Kind. Callers
// branch on the kind rather than on concrete types:
//
//	switch fault.KindOf(err) {
//	case fault.ClientError:
//	    // fix the request
//	case fault.ServerError, fault.Transient:
//	    // try again later
//	}
//
// Concrete error types (rest.APIError, gateway.CloseError) implement
// the Kinded interface, so KindOf finds their kind through any amount
// of fmt.Errorf wrapping.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure by how the caller should react to it.
type Kind int

const (
	// Unknown is the kind of errors that carry no classification.
	Unknown Kind = iota

	// Transient failures are expected to succeed on retry: network
	// resets, resumable gateway closes, timeouts.
	Transient

	// RateLimited failures exhausted a quota. Components retry these
	// internally and surface them only after the retry budget is
	// spent.
	RateLimited

	// ClientError is a 4xx response other than 429. Retrying the same
	// request will fail the same way.
	ClientError

	// ServerError is a 5xx response.
	ServerError

	// ProtocolViolation means the peer sent something the state
	// machine cannot accept. The affected session is reset.
	ProtocolViolation

	// Fatal means the affected component must stop permanently:
	// invalid token, invalid shard, disallowed intents.
	Fatal
)

func (kind Kind) String() string {
	switch kind {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case ClientError:
		return "client_error"
	case ServerError:
		return "server_error"
	case ProtocolViolation:
		return "protocol_violation"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind may succeed when
// the same operation is attempted again.
func (kind Kind) Retryable() bool {
	return kind == Transient || kind == RateLimited || kind == ServerError
}

// Kinded is implemented by errors that know their own Kind.
type Kinded interface {
	error
	Kind() Kind
}

// Error is a generic classified error wrapping an optional cause.
type Error struct {
	kind  Kind
	op    string
	cause error
}

// New returns an Error of the given kind. op names the failing
// operation ("gateway: identify", "rest: submit") and is used as the
// message prefix.
func New(kind Kind, op string, cause error) *Error {
	return &Error{kind: kind, op: op, cause: cause}
}

// Errorf returns an Error of the given kind with a formatted cause.
// The %w verb is honored.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{kind: kind, op: op, cause: fmt.Errorf(format, args...)}
}

func (err *Error) Error() string {
	if err.cause == nil {
		return fmt.Sprintf("%s: %s", err.op, err.kind)
	}
	return fmt.Sprintf("%s: %v", err.op, err.cause)
}

// Kind returns the classification.
func (err *Error) Kind() Kind { return err.kind }

// Op returns the operation name the error was created with.
func (err *Error) Op() string { return err.op }

func (err *Error) Unwrap() error { return err.cause }

// KindOf returns the Kind of the outermost Kinded error in err's
// chain. An unclassified context.DeadlineExceeded is Transient. An
// unclassified context.Canceled is Unknown: the caller asked for it,
// and retrying would undo that. A nil error is Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var kinded Kinded
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
