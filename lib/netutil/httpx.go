// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides network I/O helpers shared by the REST
// dispatcher and the voice receiver.
//
// ReadResponse bounds HTTP response body reads at MaxResponseSize and
// reports an oversized body as ErrResponseTooLarge instead of silently
// truncating it, which would turn into a confusing JSON error later.
//
// IsExpectedCloseError classifies errors that occur when a socket is
// torn down on purpose.
package netutil

import (
	"errors"
	"fmt"
	"io"
)

// MaxResponseSize bounds REST response body reads: 32 MB. The largest
// legitimate responses (member lists, audit logs) are well below it.
const MaxResponseSize int64 = 32 << 20

// ErrResponseTooLarge is returned when a body exceeds the read bound.
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return ReadLimited(body, MaxResponseSize)
}

// ReadLimited reads body up to limit bytes. A body with more data
// returns ErrResponseTooLarge.
func ReadLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, limit)
	}
	return data, nil
}
