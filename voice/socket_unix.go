// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package voice

import (
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

func markExpeditedForwarding(network, _ string, raw syscall.RawConn) error {
	return raw.Control(func(fd uintptr) {
		if strings.HasSuffix(network, "6") {
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, dscpExpeditedForwarding)
			return
		}
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, dscpExpeditedForwarding)
	})
}
