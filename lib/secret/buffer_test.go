// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	buffer, err := New(64)
	if err != nil {
		t.Fatalf("New(64) failed: %v", err)
	}
	defer buffer.Close()

	if buffer.Len() != 64 {
		t.Errorf("expected length 64, got %d", buffer.Len())
	}
	for index, value := range buffer.Bytes() {
		if value != 0 {
			t.Fatalf("expected zero at index %d, got %d", index, value)
		}
	}

	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) succeeded", size)
		}
	}
}

func TestFromBytesZeroesSource(t *testing.T) {
	source := []byte("MTk4NjIyNDgzNDcxOTI1MjQ4.Cl2FMQ.ZnCjm1XVW7vRze4b7Cq4se7kKWs")
	want := string(source)

	buffer, err := FromBytes(source)
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source byte %d was not zeroed", index)
		}
	}

	if _, err := FromBytes(nil); err == nil {
		t.Error("FromBytes(nil) succeeded")
	}
}

func TestCloseZeroesAndIsIdempotent(t *testing.T) {
	buffer, err := FromBytes([]byte("token"))
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if buffer.region != nil || buffer.Len() != 0 {
		t.Error("region still attached after Close")
	}
}

func TestReadAfterClosePanics(t *testing.T) {
	for name, read := range map[string]func(*Buffer){
		"Bytes":       func(b *Buffer) { b.Bytes() },
		"String":      func(b *Buffer) { _ = b.String() },
		"Fingerprint": func(b *Buffer) { b.Fingerprint() },
	} {
		t.Run(name, func(t *testing.T) {
			buffer, err := New(8)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			buffer.Close()
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic on %s after Close", name)
				}
			}()
			read(buffer)
		})
	}
}

func TestReadToken(t *testing.T) {
	directory := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
		wantErr string
	}{
		{"plain", "abc.def.ghi\n", "abc.def.ghi", ""},
		{"bot prefix", "  Bot abc.def.ghi \n", "abc.def.ghi", ""},
		{"empty", "\n\n", "", "empty"},
		{"two tokens", "abc def\n", "", "whitespace"},
		{"oversized", strings.Repeat("a", maxTokenFileSize+1), "", "larger than"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(directory, strings.ReplaceAll(test.name, " ", "-"))
			if err := os.WriteFile(path, []byte(test.content), 0o600); err != nil {
				t.Fatal(err)
			}
			buffer, err := ReadToken(path)
			if test.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("ReadToken error = %v, want %q", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadToken: %v", err)
			}
			defer buffer.Close()
			if buffer.String() != test.want {
				t.Errorf("token = %q, want %q", buffer.String(), test.want)
			}
		})
	}

	if _, err := ReadToken(filepath.Join(directory, "absent")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestFingerprint(t *testing.T) {
	first, _ := FromBytes([]byte("abc.def.ghi"))
	defer first.Close()
	second, _ := FromBytes([]byte("abc.def.ghi"))
	defer second.Close()
	other, _ := FromBytes([]byte("abc.def.ghj"))
	defer other.Close()

	fingerprint := first.Fingerprint()
	if len(fingerprint) != 16 {
		t.Errorf("fingerprint %q is not 16 hex digits", fingerprint)
	}
	if second.Fingerprint() != fingerprint {
		t.Error("fingerprint not stable for the same token")
	}
	if other.Fingerprint() == fingerprint {
		t.Error("different tokens share a fingerprint")
	}
	if strings.Contains(fingerprint, "abc") {
		t.Error("fingerprint leaks token text")
	}
}
