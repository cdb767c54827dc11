// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"
	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptionMode is the transport encryption mode name negotiated with
// the voice server.
const EncryptionMode = "aead_xchacha20_poly1305_rtpsize"

const (
	rtpFixedHeaderSize  = 12
	extensionHeaderSize = 4
	nonceSuffixSize     = 4
	extensionBit        = 0x10
)

// ErrShortPacket is returned for datagrams too small to hold an RTP
// header, a tag, and a nonce suffix.
var ErrShortPacket = errors.New("voice: packet too short")

// Cipher seals and opens RTP packets in the rtpsize XChaCha20-Poly1305
// mode. The RTP header, CSRC list, and extension preamble travel in
// the clear as additional data; the extension body and payload are
// encrypted; a 4-byte big-endian nonce counter trails the packet and
// is zero-extended to the 24-byte nonce.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher returns a Cipher for the 32-byte session secret key the
// voice server sends in its session description.
func NewCipher(secretKey []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(secretKey)
	if err != nil {
		return nil, fmt.Errorf("voice: creating cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Open authenticates and decrypts packet. It returns the parsed header
// and the media payload with any extension body and RTP padding
// removed. The returned payload does not alias packet.
func (c *Cipher) Open(packet []byte) (rtp.Header, []byte, error) {
	header, clearSize, err := parseClearHeader(packet)
	if err != nil {
		return rtp.Header{}, nil, err
	}
	if len(packet) < clearSize+c.aead.Overhead()+nonceSuffixSize {
		return rtp.Header{}, nil, ErrShortPacket
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	copy(nonce, packet[len(packet)-nonceSuffixSize:])
	sealed := packet[clearSize : len(packet)-nonceSuffixSize]

	plaintext, err := c.aead.Open(nil, nonce, sealed, packet[:clearSize])
	if err != nil {
		return rtp.Header{}, nil, fmt.Errorf("voice: decrypting packet from ssrc %d: %w", header.SSRC, err)
	}

	if header.Extension {
		words := int(binary.BigEndian.Uint16(packet[clearSize-2 : clearSize]))
		if len(plaintext) < words*4 {
			return rtp.Header{}, nil, fmt.Errorf("voice: extension of %d words exceeds payload", words)
		}
		plaintext = plaintext[words*4:]
	}
	if header.Padding && len(plaintext) > 0 {
		padding := int(plaintext[len(plaintext)-1])
		if padding == 0 || padding > len(plaintext) {
			return rtp.Header{}, nil, fmt.Errorf("voice: invalid padding length %d", padding)
		}
		plaintext = plaintext[:len(plaintext)-padding]
	}
	return header, plaintext, nil
}

// Seal encrypts payload under header using nonce as the trailing
// counter. Extension elements on header are encrypted along with the
// payload.
func (c *Cipher) Seal(header rtp.Header, payload []byte, nonce uint32) ([]byte, error) {
	header.Padding = false
	marshaled, err := header.Marshal()
	if err != nil {
		return nil, fmt.Errorf("voice: marshaling header: %w", err)
	}
	clearSize := rtpFixedHeaderSize + 4*len(header.CSRC)
	if header.Extension {
		clearSize += extensionHeaderSize
	}

	plaintext := append(append([]byte(nil), marshaled[clearSize:]...), payload...)
	nonceBytes := make([]byte, chacha20poly1305.NonceSizeX)
	binary.BigEndian.PutUint32(nonceBytes, nonce)

	out := make([]byte, clearSize, clearSize+len(plaintext)+c.aead.Overhead()+nonceSuffixSize)
	copy(out, marshaled[:clearSize])
	out = c.aead.Seal(out, nonceBytes, plaintext, out[:clearSize])
	return append(out, nonceBytes[:nonceSuffixSize]...), nil
}

// parseClearHeader parses the unencrypted prefix of an rtpsize packet
// and returns its length. The extension body is ciphertext, so the
// header is parsed with the extension bit cleared and the preamble
// accounted for separately.
func parseClearHeader(packet []byte) (rtp.Header, int, error) {
	if len(packet) < rtpFixedHeaderSize {
		return rtp.Header{}, 0, ErrShortPacket
	}
	hasExtension := packet[0]&extensionBit != 0

	scratch := make([]byte, len(packet))
	copy(scratch, packet)
	scratch[0] &^= extensionBit

	var header rtp.Header
	size, err := header.Unmarshal(scratch)
	if err != nil {
		return rtp.Header{}, 0, fmt.Errorf("voice: parsing rtp header: %w", err)
	}
	if hasExtension {
		if len(packet) < size+extensionHeaderSize {
			return rtp.Header{}, 0, ErrShortPacket
		}
		header.Extension = true
		header.ExtensionProfile = binary.BigEndian.Uint16(packet[size : size+2])
		size += extensionHeaderSize
	}
	return header, size, nil
}
