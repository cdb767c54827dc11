// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps the bot token out of the Go heap.
//
// [Buffer] maps anonymous memory, locks it against swap, and excludes
// it from core dumps; Close zeroes and unmaps it. [ReadToken] loads a
// token file into a Buffer and zeroes every intermediate copy.
// [Buffer.Fingerprint] is the only form of the token that may appear
// in logs.
//
// The token still becomes a heap string once, in the REST dispatcher's
// Authorization header and the gateway identify payload; those APIs
// take strings.
package secret
