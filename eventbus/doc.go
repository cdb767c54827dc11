// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventbus delivers gateway and voice events to application
// handlers.
//
// Publish walks the subscriber list in subscription order and invokes
// each handler in turn, so a handler observes events from one shard in
// the order the shard received them. A handler error or panic is
// reported to the bus's ErrorHandler and dispatch continues with the
// next handler. Events that embed Mark can be claimed by a handler
// with MarkHandled, which skips the remaining handlers for that
// publish.
//
// Two per-publish options relax the defaults: WithConcurrency runs up
// to n handlers at once (ordering between handlers is then
// unspecified), and WithTimeout bounds how long Publish waits on any
// one handler. A handler that overruns its timeout is reported as a
// *TimeoutError and keeps running in the background; Publish does not
// cancel it.
package eventbus
