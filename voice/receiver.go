// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"

	"github.com/pion/rtp"

	"github.com/bureau-foundation/shardwire/eventbus"
	"github.com/bureau-foundation/shardwire/lib/fault"
	"github.com/bureau-foundation/shardwire/lib/netutil"
)

// maxDatagramSize bounds a single voice datagram. Opus frames at the
// highest bitrate the service allows fit well inside this.
const maxDatagramSize = 1500

// Packet is one decrypted media packet with its reconstructed counter.
type Packet struct {
	SSRC        uint32
	Sequence    uint16
	Counter     uint64
	Timestamp   uint32
	PayloadType uint8
	Payload     []byte

	// Lost is the number of counters skipped between the previous
	// highest packet from this source and this one.
	Lost uint64

	// Late is set when the packet's counter is not above the highest
	// already seen: a reordered or duplicated packet.
	Late bool
}

// Sink is the decode pipeline downstream of the receiver.
type Sink interface {
	WritePacket(ctx context.Context, packet Packet) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, packet Packet) error

// WritePacket calls f.
func (f SinkFunc) WritePacket(ctx context.Context, packet Packet) error { return f(ctx, packet) }

// PacketError is published when a datagram cannot be processed. SSRC
// is zero when the header could not be parsed.
type PacketError struct {
	SSRC uint32
	Err  error
}

func (err *PacketError) Error() string {
	return fmt.Sprintf("voice: ssrc %d: %v", err.SSRC, err.Err)
}

func (err *PacketError) Unwrap() error { return err.Err }

// Kind classifies malformed media as a protocol violation.
func (err *PacketError) Kind() fault.Kind { return fault.ProtocolViolation }

// SourceStats counts what the receiver has seen from one SSRC.
type SourceStats struct {
	Received uint64
	Lost     uint64
	Late     uint64
	Highest  uint64
}

type source struct {
	tracker *SequenceTracker
	stats   SourceStats
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Conn is the voice UDP socket. The receiver closes it when Run
	// returns.
	Conn net.PacketConn

	// Cipher decrypts payloads. Nil treats payloads as cleartext RTP.
	Cipher *Cipher

	// Sink receives packets in arrival order. Optional.
	Sink Sink

	// Bus receives Packet and *PacketError events. Optional.
	Bus *eventbus.Bus

	// OverflowZone tunes every source's SequenceTracker. Zero uses
	// DefaultOverflowZone.
	OverflowZone int

	Logger *slog.Logger
}

// Receiver reads one voice socket, demultiplexes packets by SSRC, and
// assigns each an extended sequence counter. A failure processing one
// datagram affects only that datagram.
type Receiver struct {
	conn   net.PacketConn
	cipher *Cipher
	sink   Sink
	bus    *eventbus.Bus
	zone   int
	logger *slog.Logger

	mu      sync.Mutex
	sources map[uint32]*source
}

// NewReceiver returns a Receiver for config.Conn.
func NewReceiver(config ReceiverConfig) *Receiver {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		conn:    config.Conn,
		cipher:  config.Cipher,
		sink:    config.Sink,
		bus:     config.Bus,
		zone:    config.OverflowZone,
		logger:  logger,
		sources: make(map[uint32]*source),
	}
}

// Run reads datagrams until ctx is canceled or the socket fails. It
// returns nil on cancellation.
func (receiver *Receiver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { receiver.conn.Close() })
	defer stop()
	defer receiver.conn.Close()

	buffer := make([]byte, maxDatagramSize)
	for {
		n, _, err := receiver.conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			if netutil.IsTransientReadError(err) {
				receiver.logger.Debug("voice socket read interrupted", "error", err)
				continue
			}
			return fmt.Errorf("voice: reading socket: %w", err)
		}
		packet, err := receiver.Process(buffer[:n])
		if err != nil {
			receiver.report(ctx, err)
			continue
		}
		if packet == nil {
			continue
		}
		receiver.deliver(ctx, *packet)
	}
}

// Process decodes one datagram and advances its source's tracker. It
// returns (nil, nil) for RTCP and other non-media datagrams.
func (receiver *Receiver) Process(datagram []byte) (*Packet, error) {
	if isRTCP(datagram) {
		return nil, nil
	}

	var header rtp.Header
	var payload []byte
	if receiver.cipher != nil {
		var err error
		header, payload, err = receiver.cipher.Open(datagram)
		if err != nil {
			return nil, &PacketError{SSRC: peekSSRC(datagram), Err: err}
		}
	} else {
		var packet rtp.Packet
		if err := packet.Unmarshal(datagram); err != nil {
			return nil, &PacketError{SSRC: peekSSRC(datagram), Err: err}
		}
		header = packet.Header
		payload = append([]byte(nil), packet.Payload...)
	}

	receiver.mu.Lock()
	src, ok := receiver.sources[header.SSRC]
	if !ok {
		src = &source{tracker: NewSequenceTracker(receiver.zone)}
		receiver.sources[header.SSRC] = src
	}
	counter := src.tracker.Next(header.SequenceNumber)
	packet := &Packet{
		SSRC:        header.SSRC,
		Sequence:    header.SequenceNumber,
		Counter:     counter,
		Timestamp:   header.Timestamp,
		PayloadType: header.PayloadType,
		Payload:     payload,
	}
	src.stats.Received++
	switch {
	case src.stats.Received == 1:
		src.stats.Highest = counter
	case counter > src.stats.Highest:
		packet.Lost = counter - src.stats.Highest - 1
		src.stats.Lost += packet.Lost
		src.stats.Highest = counter
	default:
		packet.Late = true
		src.stats.Late++
	}
	receiver.mu.Unlock()

	if !ok {
		receiver.logger.Debug("voice source appeared", "ssrc", header.SSRC)
	}
	return packet, nil
}

// RemoveSource drops the tracker for ssrc. Call it when the
// participant behind ssrc leaves; a later packet with the same SSRC
// starts a fresh counter.
func (receiver *Receiver) RemoveSource(ssrc uint32) {
	receiver.mu.Lock()
	_, existed := receiver.sources[ssrc]
	delete(receiver.sources, ssrc)
	receiver.mu.Unlock()
	if existed {
		receiver.logger.Debug("voice source removed", "ssrc", ssrc)
	}
}

// Stats returns counters for ssrc.
func (receiver *Receiver) Stats(ssrc uint32) (SourceStats, bool) {
	receiver.mu.Lock()
	defer receiver.mu.Unlock()
	src, ok := receiver.sources[ssrc]
	if !ok {
		return SourceStats{}, false
	}
	return src.stats, true
}

func (receiver *Receiver) deliver(ctx context.Context, packet Packet) {
	if receiver.sink != nil {
		var panicked *sinkPanic
		if err := receiver.writeSink(ctx, packet); errors.As(err, &panicked) {
			receiver.logger.Error("voice sink panicked",
				"ssrc", packet.SSRC,
				"counter", packet.Counter,
				"panic", panicked.value,
				"stack", string(panicked.stack),
			)
			receiver.report(ctx, &PacketError{SSRC: packet.SSRC, Err: err})
		} else if err != nil {
			receiver.logger.Warn("voice sink rejected packet",
				"ssrc", packet.SSRC,
				"counter", packet.Counter,
				"error", err,
			)
		}
	}
	if receiver.bus != nil {
		receiver.bus.Publish(ctx, packet)
	}
}

// sinkPanic is a value recovered from a panicking Sink.
type sinkPanic struct {
	value any
	stack []byte
}

func (err *sinkPanic) Error() string {
	return fmt.Sprintf("sink panic: %v", err.value)
}

// writeSink keeps one bad packet from taking down the read loop.
func (receiver *Receiver) writeSink(ctx context.Context, packet Packet) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &sinkPanic{value: recovered, stack: debug.Stack()}
		}
	}()
	return receiver.sink.WritePacket(ctx, packet)
}

func (receiver *Receiver) report(ctx context.Context, err error) {
	receiver.logger.Debug("dropping voice packet", "error", err)
	var packetErr *PacketError
	if receiver.bus != nil && errors.As(err, &packetErr) {
		receiver.bus.Publish(ctx, packetErr)
	}
}

// isRTCP reports whether datagram is an RTCP packet multiplexed on the
// media socket (RFC 5761 payload type range 192-223 with the marker
// bit folded in).
func isRTCP(datagram []byte) bool {
	if len(datagram) < 2 {
		return false
	}
	return datagram[1] >= 192 && datagram[1] <= 223
}

func peekSSRC(datagram []byte) uint32 {
	if len(datagram) < rtpFixedHeaderSize {
		return 0
	}
	return uint32(datagram[8])<<24 | uint32(datagram[9])<<16 | uint32(datagram[10])<<8 | uint32(datagram[11])
}
