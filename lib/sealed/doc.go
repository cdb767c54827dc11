// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed stores the bot token at rest with age encryption.
//
// A sealed token file ends in ".age" and holds the token encrypted to
// one or more x25519 recipients, in binary or ASCII-armored form.
// [OpenTokenFile] decrypts it with an identity file and returns the
// token in a [secret.Buffer]; plain token files pass straight through
// to [secret.ReadToken]. [Seal] produces sealed files for the
// seal-token command.
package sealed
