// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err means the socket is gone
// rather than broken: EOF, use of a closed socket, EPIPE, or
// ECONNRESET. A reader whose socket was closed to stop it sees one of
// these and should return quietly.
func IsExpectedCloseError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return true
	}
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}

// IsTransientReadError reports whether a datagram read failed for a
// reason that does not affect later reads. On Linux a connected or
// recently-written UDP socket returns ECONNREFUSED once after an ICMP
// port unreachable; the next read proceeds normally.
func IsTransientReadError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
