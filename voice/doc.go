// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package voice receives media from a voice connection's UDP socket.
//
// A Receiver reads RTP datagrams, drops multiplexed RTCP, decrypts
// payloads with the negotiated Cipher, and keeps one SequenceTracker
// per SSRC. The tracker turns the wrapping 16-bit RTP sequence number
// into a monotonically increasing counter even when packets straddling
// the wrap arrive out of order, which is what loss and jitter
// accounting downstream needs.
//
// The voice websocket (session description, speaking updates) is not
// handled here; the application feeds its results in: the secret key
// via NewCipher and departures via Receiver.RemoveSource.
package voice
