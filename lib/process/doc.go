// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the binary entrypoint error handler. It is
// one of two places allowed to write to stderr directly (the other is
// the CLI's own help output): errors from main() may arrive before the
// structured logger exists.
package process
