// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package voice

// DefaultOverflowZone is the width, in sequence numbers, of the band
// on either side of the 16-bit wrap point in which the tracker watches
// for a wrap.
const DefaultOverflowZone = 3000

const sequenceCycle = 1 << 16

type wrapState uint8

const (
	stateNormal wrapState = iota
	// A sequence near the top of the range was seen; the next low
	// sequence is a wrap.
	stateExpectLowOverflow
	// A wrap was just counted; late packets from the previous cycle
	// may still arrive with high sequence numbers.
	stateExpectHighOutOfOrder
)

func (state wrapState) String() string {
	switch state {
	case stateExpectLowOverflow:
		return "expect_low_overflow"
	case stateExpectHighOutOfOrder:
		return "expect_high_out_of_order"
	default:
		return "normal"
	}
}

// SequenceTracker extends a source's 16-bit RTP sequence numbers into
// an unbounded counter, tolerating reordering across the wrap point.
// One tracker serves one SSRC. It is not safe for concurrent use.
type SequenceTracker struct {
	zone  uint16
	high  uint16
	base  uint64
	state wrapState
}

// NewSequenceTracker returns a tracker whose overflow zone is zone
// sequence numbers wide. Zero selects DefaultOverflowZone; values of
// half the sequence space or more are clamped below it.
func NewSequenceTracker(zone int) *SequenceTracker {
	if zone <= 0 {
		zone = DefaultOverflowZone
	}
	if zone >= sequenceCycle/2 {
		zone = sequenceCycle/2 - 1
	}
	return &SequenceTracker{
		zone: uint16(zone),
		high: uint16(sequenceCycle - 1 - zone),
		// One cycle of headroom, subtracted again on output, so a late
		// packet from before the first wrap never underflows.
		base: sequenceCycle,
	}
}

// Next folds seq into the counter and returns its extended value. A
// source starting at 0 yields 0, 1, 2, ...; a wrap from 65535 to 0
// yields 65535, 65536.
func (tracker *SequenceTracker) Next(seq uint16) uint64 {
	var adjustment uint64
	switch tracker.state {
	case stateNormal:
		if seq > tracker.high {
			tracker.state = stateExpectLowOverflow
		}
	case stateExpectLowOverflow:
		if seq < tracker.zone {
			tracker.base += sequenceCycle
			tracker.state = stateExpectHighOutOfOrder
		}
	case stateExpectHighOutOfOrder:
		if seq > tracker.high {
			adjustment = sequenceCycle
		} else if seq > tracker.zone {
			tracker.state = stateNormal
		}
	}
	return tracker.base + uint64(seq) - adjustment - sequenceCycle
}

// Cycles returns how many times the sequence has wrapped.
func (tracker *SequenceTracker) Cycles() uint64 {
	return tracker.base/sequenceCycle - 1
}
