// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// shardwire runs and inspects a gateway shard fleet.
//
// Subcommands:
//
//	run           connect the configured shards and log fleet events
//	watch         connect the shards and show a live dashboard
//	gateway-info  print GET /gateway/bot for the configured token
//	checkpoints   list or clear saved resume checkpoints
//	seal-token    age-encrypt a token file to one or more recipients
//	keygen        generate an age identity for sealed tokens
//	voice-listen  receive RTP on a UDP port and report per-source loss
//	version       print version information
//
// Configuration comes from --config or SHARDWIRE_CONFIG; see
// lib/config. SHARDWIRE_DEBUG=1 forces debug logging.
package main
