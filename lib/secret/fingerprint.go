// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// fingerprintKey separates token fingerprints from any other BLAKE3
// use of the same bytes.
var fingerprintKey = blake3.Sum256([]byte("shardwire token fingerprint v1"))

// Fingerprint returns a short keyed BLAKE3 digest of the secret for
// logs: stable for one token, useless for recovering it.
func (b *Buffer) Fingerprint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustBeOpen()
	return fingerprint(b.region)
}

func fingerprint(data []byte) string {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("secret: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var sum [8]byte
	hasher.Digest().Read(sum[:])
	return hex.EncodeToString(sum[:])
}
