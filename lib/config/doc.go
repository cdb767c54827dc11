// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads shardwire configuration.
//
// Configuration is loaded from a single file specified by either the
// SHARDWIRE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. YAML is the default syntax; files ending in .json or .jsonc
// are JSON with comments and trailing commas.
//
// The file may carry development and production sections. The section
// matching [Config].Environment is decoded over the base values, so it
// only needs the keys it changes. Production logs as JSON unless the
// file picks a format.
//
// ${HOME} and ${VAR:-default} patterns are expanded in path fields
// after loading. No other environment variables override config
// values.
//
// Durations are Go duration strings ("5s", "2m").
package config
