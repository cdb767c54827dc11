// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/shardwire/lib/secret"
)

// maxSealedSize bounds a sealed token file.
const maxSealedSize = 64 << 10

// Keypair holds an age x25519 keypair. The private key lives in a
// secret.Buffer; the recipient string is safe to publish.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... identity.
	PrivateKey *secret.Buffer

	// Recipient is the age1... public key tokens are sealed to.
	Recipient string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair returns a new x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	// identity.String() is an unavoidable heap copy; the buffer is the
	// one that outlives this call.
	privateKey, err := secret.FromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		Recipient:  identity.Recipient().String(),
	}, nil
}

// ParseRecipients parses age1... public keys.
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

// Seal encrypts plaintext to recipientKeys. With armored set the
// output is PEM-style ASCII armor, otherwise binary age format.
func Seal(plaintext []byte, recipientKeys []string, armored bool) ([]byte, error) {
	recipients, err := ParseRecipients(recipientKeys)
	if err != nil {
		return nil, err
	}

	var output bytes.Buffer
	var sink io.Writer = &output
	var armorWriter io.WriteCloser
	if armored {
		armorWriter = armor.NewWriter(&output)
		sink = armorWriter
	}

	writer, err := age.Encrypt(sink, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if armorWriter != nil {
		if err := armorWriter.Close(); err != nil {
			return nil, fmt.Errorf("finalizing armor: %w", err)
		}
	}
	return output.Bytes(), nil
}

// Open decrypts ciphertext, binary or armored, with any of identities.
// The plaintext is returned in a secret.Buffer; the caller closes it.
func Open(ciphertext []byte, identities ...age.Identity) (*secret.Buffer, error) {
	var source io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimSpace(ciphertext), []byte(armor.Header)) {
		source = armor.NewReader(bytes.NewReader(bytes.TrimSpace(ciphertext)))
	}

	reader, err := age.Decrypt(source, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(io.LimitReader(reader, maxSealedSize))
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("decrypted plaintext is empty")
	}
	return secret.FromBytes(plaintext)
}

// ReadIdentities parses an age identity file (one AGE-SECRET-KEY-1...
// per line, # comments allowed). The file contents are zeroed after
// parsing.
func ReadIdentities(path string) ([]age.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	defer secret.Zero(data)
	identities, err := age.ParseIdentities(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	return identities, nil
}

// IdentityFromBuffer parses a single identity held in a secret.Buffer.
// The buffer is borrowed, not closed.
func IdentityFromBuffer(privateKey *secret.Buffer) (age.Identity, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("invalid age private key: %w", err)
	}
	return identity, nil
}

// OpenTokenFile reads a token file. A path ending in ".age" is
// decrypted with the identities in identityPath first. The result is
// normalized by secret.TokenFromBytes.
func OpenTokenFile(path, identityPath string) (*secret.Buffer, error) {
	if !strings.HasSuffix(path, ".age") {
		return secret.ReadToken(path)
	}
	if identityPath == "" {
		return nil, fmt.Errorf("token file %s is sealed but no identity file is configured", path)
	}
	identities, err := ReadIdentities(identityPath)
	if err != nil {
		return nil, err
	}
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sealed token: %w", err)
	}
	opened, err := Open(ciphertext, identities...)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer opened.Close()
	// TokenFromBytes zeroes its input, which here is the mapped region
	// of a buffer about to be closed anyway.
	return secret.TokenFromBytes(opened.Bytes())
}
