// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age/armor"
)

func newKeypair(t *testing.T) *Keypair {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}

func TestGenerateKeypair(t *testing.T) {
	first := newKeypair(t)
	second := newKeypair(t)

	if !strings.HasPrefix(first.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Error("private key does not have the AGE-SECRET-KEY-1 prefix")
	}
	if !strings.HasPrefix(first.Recipient, "age1") {
		t.Errorf("Recipient = %q, want prefix age1", first.Recipient)
	}
	if first.Recipient == second.Recipient {
		t.Error("two generated keypairs share a recipient")
	}
}

func TestSealOpen(t *testing.T) {
	for _, armored := range []bool{false, true} {
		keypair := newKeypair(t)
		identity, err := IdentityFromBuffer(keypair.PrivateKey)
		if err != nil {
			t.Fatalf("IdentityFromBuffer: %v", err)
		}

		ciphertext, err := Seal([]byte("abc.def.ghi"), []string{keypair.Recipient}, armored)
		if err != nil {
			t.Fatalf("Seal(armored=%v): %v", armored, err)
		}
		if got := bytes.HasPrefix(ciphertext, []byte(armor.Header)); got != armored {
			t.Errorf("armored=%v but output armor header present=%v", armored, got)
		}
		if bytes.Contains(ciphertext, []byte("abc.def.ghi")) {
			t.Error("ciphertext contains the plaintext")
		}

		opened, err := Open(ciphertext, identity)
		if err != nil {
			t.Fatalf("Open(armored=%v): %v", armored, err)
		}
		if opened.String() != "abc.def.ghi" {
			t.Errorf("opened %q", opened.String())
		}
		opened.Close()
	}
}

func TestOpenWrongIdentity(t *testing.T) {
	sender := newKeypair(t)
	stranger := newKeypair(t)
	identity, _ := IdentityFromBuffer(stranger.PrivateKey)

	ciphertext, err := Seal([]byte("abc.def.ghi"), []string{sender.Recipient}, false)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(ciphertext, identity); err == nil {
		t.Error("Open succeeded with the wrong identity")
	}
}

func TestSealRequiresValidRecipients(t *testing.T) {
	if _, err := Seal([]byte("x"), nil, false); err == nil {
		t.Error("Seal with no recipients succeeded")
	}
	if _, err := Seal([]byte("x"), []string{"age1notakey"}, false); err == nil {
		t.Error("Seal with a bad recipient succeeded")
	}
}

func TestOpenTokenFile(t *testing.T) {
	directory := t.TempDir()
	keypair := newKeypair(t)

	identityPath := filepath.Join(directory, "identity.txt")
	identityFile := "# created for the test\n" + keypair.PrivateKey.String() + "\n"
	if err := os.WriteFile(identityPath, []byte(identityFile), 0o600); err != nil {
		t.Fatal(err)
	}

	ciphertext, err := Seal([]byte("Bot abc.def.ghi\n"), []string{keypair.Recipient}, true)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealedPath := filepath.Join(directory, "token.age")
	if err := os.WriteFile(sealedPath, ciphertext, 0o600); err != nil {
		t.Fatal(err)
	}

	token, err := OpenTokenFile(sealedPath, identityPath)
	if err != nil {
		t.Fatalf("OpenTokenFile(sealed): %v", err)
	}
	if token.String() != "abc.def.ghi" {
		t.Errorf("sealed token = %q", token.String())
	}
	token.Close()

	if _, err := OpenTokenFile(sealedPath, ""); err == nil {
		t.Error("sealed token opened without an identity file")
	}

	plainPath := filepath.Join(directory, "token")
	if err := os.WriteFile(plainPath, []byte("abc.def.ghi\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	token, err = OpenTokenFile(plainPath, "")
	if err != nil {
		t.Fatalf("OpenTokenFile(plain): %v", err)
	}
	if token.String() != "abc.def.ghi" {
		t.Errorf("plain token = %q", token.String())
	}
	token.Close()
}

func TestReadIdentitiesRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.txt")
	if err := os.WriteFile(path, []byte("not an identity\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadIdentities(path); err == nil {
		t.Error("garbage identity file accepted")
	}
}
