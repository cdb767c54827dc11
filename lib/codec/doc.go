// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration.
//
// JSON is the wire format for everything that talks to the gateway or
// the REST API. CBOR is used for local state: gateway checkpoints are
// CBOR files, and the CLI's checkpoint inspector prints them in
// diagnostic notation.
//
//	data, err := codec.Marshal(checkpoint)
//	err = codec.Unmarshal(data, &checkpoint)
//
// Types serialized only here carry `cbor` struct tags.
package codec
