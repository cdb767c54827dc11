// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"context"
	"fmt"
	"net"
)

// dscpExpeditedForwarding is the IP TOS byte for DSCP EF (46 << 2),
// the class for interactive audio.
const dscpExpeditedForwarding = 0xB8

// ListenUDP opens the local voice socket. On unix platforms outgoing
// packets are marked DSCP EF; a kernel that refuses the option leaves
// the socket unmarked without failing.
func ListenUDP(ctx context.Context, address string) (net.PacketConn, error) {
	config := net.ListenConfig{Control: markExpeditedForwarding}
	conn, err := config.ListenPacket(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("voice: listening on %s: %w", address, err)
	}
	return conn, nil
}
