// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rest submits HTTP API requests through the service's rate
// limits.
//
// Every request belongs to a route: an HTTP method, an unparameterized
// path template, and the value of the template's major parameter
// (channel, guild, or webhook id). The server tells the client which
// rate-limit bucket a route belongs to through the X-RateLimit-Bucket
// response header, so the Dispatcher keeps two maps: route to bucket
// hash, and bucket hash plus major parameter to *Bucket. Until a route
// has been seen, its requests share a provisional bucket that admits a
// single probe request at a time; the probe's response names the real
// bucket and the provisional one is promoted or merged into it.
//
// Admission is preemptive: a request waits only while its bucket has
// no remaining quota and the reset time has not passed, and each
// admission decrements the local count before the request is sent so
// concurrent submitters never exceed the declared limit. A separate
// global bucket (50 requests per second by default) applies to every
// route not marked Exempt.
//
// A 429 response marks the offending bucket (or the global bucket,
// for global-scope limits) exhausted until the retry-after instant and
// the request is retried, at most Config.MaxRetries times. Any other
// non-2xx status is returned immediately as an *APIError classified
// with fault.ClientError or fault.ServerError.
package rest
