// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/bureau-foundation/shardwire/lib/fault"
	"github.com/bureau-foundation/shardwire/lib/testutil"
)

func decodePayload[T any](t *testing.T, frame Frame) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(frame.D, &payload); err != nil {
		t.Fatalf("decoding %s payload %s: %v", frame.Op, frame.D, err)
	}
	return payload
}

// reconnectAfter waits for the reconnect timer and fires it.
func (h *sessionHarness) reconnectAfter(t *testing.T, delay time.Duration) *fakeConn {
	t.Helper()
	h.clock.WaitForTimers(1)
	h.clock.Advance(delay)
	return h.dialer.next(t)
}

// firstBackoff is DefaultBackoffInitial scaled by the harness's fixed
// jitter factor.
const firstBackoff = 750 * time.Millisecond

func TestIdentifyAndReady(t *testing.T) {
	h := startSession(t, nil)

	conn := h.dialer.next(t)
	if conn.url != "wss://gateway.test" {
		t.Errorf("dialed %q, want the configured gateway URL", conn.url)
	}
	if state := h.session.State(); state != StateConnecting {
		t.Errorf("state before hello = %s, want connecting", state)
	}
	conn.hello(t, 45000)

	identify := decodePayload[Identify](t, conn.expect(t, OpIdentify))
	if identify.Token != "test-token" {
		t.Errorf("identify token = %q", identify.Token)
	}
	if identify.Shard != [2]int{0, 1} {
		t.Errorf("identify shard = %v, want [0 1]", identify.Shard)
	}
	if identify.Intents != IntentGuilds|IntentGuildMessages {
		t.Errorf("identify intents = %d", identify.Intents)
	}
	if identify.Properties.Browser != "shardwire" {
		t.Errorf("identify properties = %+v", identify.Properties)
	}

	conn.dispatch(t, 1, "READY", Ready{Version: APIVersion, SessionID: "abc", ResumeGatewayURL: "wss://resume.test"})
	ready := waitFor[*ReadyEvent](t, h.recorder)
	if ready.SessionID != "abc" || ready.ResumeURL != "wss://resume.test" {
		t.Errorf("ReadyEvent = %+v", ready)
	}
	if state := h.session.State(); state != StateReady {
		t.Errorf("state after READY = %s", state)
	}
	if sequence, ok := h.session.Sequence(); !ok || sequence != 1 {
		t.Errorf("Sequence() = %d, %v; want 1", sequence, ok)
	}
}

func TestDispatchesArePublishedInOrder(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 1)

	for sequence := int64(2); sequence <= 6; sequence++ {
		conn.dispatch(t, sequence, "MESSAGE_CREATE", map[string]string{"id": strconv.FormatInt(sequence, 10)})
	}
	for want := int64(2); want <= 6; want++ {
		event := waitFor[*DispatchEvent](t, h.recorder)
		if event.Sequence != want || event.Type != "MESSAGE_CREATE" || event.ShardID != 0 {
			t.Fatalf("dispatch %d = %+v", want, event)
		}
	}
}

func TestSequenceNeverRegresses(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 5)

	conn.dispatch(t, 9, "TYPING_START", struct{}{})
	conn.dispatch(t, 7, "TYPING_START", struct{}{})
	waitFor[*DispatchEvent](t, h.recorder)
	late := waitFor[*DispatchEvent](t, h.recorder)
	if late.Sequence != 7 {
		t.Fatalf("second dispatch sequence = %d", late.Sequence)
	}

	if sequence, _ := h.session.Sequence(); sequence != 9 {
		t.Errorf("Sequence() = %d, want 9", sequence)
	}
}

func TestHeartbeatCarriesSequenceAndMeasuresLatency(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 4)

	// First beat comes after half the 45s interval.
	h.clock.Advance(22499 * time.Millisecond)
	testutil.RequireNoReceive(t, conn.written, 20*time.Millisecond, "heartbeat before the jittered delay")
	h.clock.Advance(time.Millisecond)

	beat := conn.expect(t, OpHeartbeat)
	if sequence := decodePayload[*int64](t, beat); sequence == nil || *sequence != 4 {
		t.Errorf("heartbeat payload = %s, want 4", beat.D)
	}

	h.clock.Advance(40 * time.Millisecond)
	conn.send(t, OpHeartbeatACK, nil)
	testutil.Eventually(t, func() bool { return h.session.Latency() == 40*time.Millisecond }, receiveTimeout,
		"latency = %v, want 40ms", h.session.Latency())
}

func TestServerHeartbeatRequestIsAnsweredImmediately(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 2)

	conn.send(t, OpHeartbeat, nil)
	beat := conn.expect(t, OpHeartbeat)
	if sequence := decodePayload[*int64](t, beat); sequence == nil || *sequence != 2 {
		t.Errorf("heartbeat payload = %s, want 2", beat.D)
	}
}

func TestAnsweredHeartbeatRequestRestartsSchedule(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 3)

	h.clock.Advance(22500 * time.Millisecond)
	conn.expect(t, OpHeartbeat)
	h.clock.Advance(40 * time.Millisecond)
	conn.send(t, OpHeartbeatACK, nil)
	testutil.Eventually(t, func() bool { return h.session.Latency() == 40*time.Millisecond }, receiveTimeout,
		"latency = %v, want 40ms", h.session.Latency())

	// The server asks for a beat just before the scheduled one is due.
	h.clock.Advance(44950 * time.Millisecond)
	conn.send(t, OpHeartbeat, nil)
	conn.expect(t, OpHeartbeat)

	// The old deadline passes without a zombie verdict.
	h.clock.Advance(10 * time.Millisecond)
	testutil.RequireNoReceive(t, conn.written, 20*time.Millisecond, "heartbeat right after the answered request")
	select {
	case <-conn.closed:
		t.Fatalf("connection closed with %d after an answered heartbeat request", conn.code())
	default:
	}

	h.clock.Advance(20 * time.Millisecond)
	conn.send(t, OpHeartbeatACK, nil)
	testutil.Eventually(t, func() bool { return h.session.Latency() == 30*time.Millisecond }, receiveTimeout,
		"latency = %v, want 30ms", h.session.Latency())

	// The next scheduled beat is one interval after the answer.
	h.clock.Advance(44969 * time.Millisecond)
	testutil.RequireNoReceive(t, conn.written, 20*time.Millisecond, "heartbeat before a full interval")
	h.clock.Advance(time.Millisecond)
	conn.expect(t, OpHeartbeat)

	if id := h.session.SessionID(); id != "abc" {
		t.Errorf("SessionID() = %q, want abc", id)
	}
	if state := h.session.State(); state != StateReady {
		t.Errorf("state = %s, want ready", state)
	}
}

func TestZombieConnectionReidentifies(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 3)

	h.clock.Advance(22500 * time.Millisecond)
	conn.expect(t, OpHeartbeat)
	// No ack before the next beat.
	h.clock.Advance(45 * time.Second)

	if code := conn.requireClosed(t); code != CloseNormal {
		t.Errorf("zombie closed with %d, want %d", code, CloseNormal)
	}
	next := h.reconnectAfter(t, firstBackoff)
	if next.url != "wss://gateway.test" {
		t.Errorf("reconnected to %q, want the gateway URL", next.url)
	}
	next.hello(t, 45000)
	next.expect(t, OpIdentify)
}

func TestReconnectRequestResumes(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 5)

	conn.send(t, OpReconnect, nil)
	if code := conn.requireClosed(t); code != CloseKeepSession {
		t.Errorf("closed with %d, want %d", code, CloseKeepSession)
	}
	reconnect := waitFor[*ReconnectEvent](t, h.recorder)
	if !reconnect.Resume || !errors.Is(reconnect.Err, errReconnectRequested) {
		t.Errorf("ReconnectEvent = %+v", reconnect)
	}

	next := h.reconnectAfter(t, firstBackoff)
	if next.url != "wss://resume.test" {
		t.Errorf("resumed on %q, want the resume URL", next.url)
	}
	next.hello(t, 45000)
	resume := decodePayload[Resume](t, next.expect(t, OpResume))
	if resume.SessionID != "abc" || resume.Sequence != 5 || resume.Token != "test-token" {
		t.Errorf("resume payload = %+v", resume)
	}
	if state := h.session.State(); state != StateResuming {
		t.Errorf("state while resuming = %s", state)
	}

	next.dispatch(t, 6, "MESSAGE_CREATE", struct{}{})
	next.dispatch(t, 7, "RESUMED", struct{}{})
	replayed := waitFor[*DispatchEvent](t, h.recorder)
	if replayed.Sequence != 6 {
		t.Errorf("first replayed dispatch = %d", replayed.Sequence)
	}
	resumed := waitFor[*ResumedEvent](t, h.recorder)
	if resumed.Sequence != 7 {
		t.Errorf("ResumedEvent.Sequence = %d, want 7", resumed.Sequence)
	}
	if state := h.session.State(); state != StateReady {
		t.Errorf("state after RESUMED = %s", state)
	}
}

func TestCloseClassification(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		wantResume bool
	}{
		{"unknown error resumes", CloseUnknownError, true},
		{"rate limited resumes", CloseRateLimited, true},
		{"invalid sequence reidentifies", CloseInvalidSequence, false},
		{"session timeout reidentifies", CloseSessionTimedOut, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := startSession(t, nil)
			conn := h.ready(t, "abc", 2)

			conn.closeWith(t, test.code)
			conn.requireClosed(t)
			next := h.reconnectAfter(t, firstBackoff)
			next.hello(t, 45000)
			frame := testutil.RequireReceive(t, next.written, receiveTimeout, "handshake frame")

			switch {
			case test.wantResume && frame.Op != OpResume:
				t.Errorf("after close %d wrote %s, want resume", test.code, frame.Op)
			case !test.wantResume && frame.Op != OpIdentify:
				t.Errorf("after close %d wrote %s, want identify", test.code, frame.Op)
			}
			if !test.wantResume && h.session.SessionID() != "" {
				t.Errorf("session id kept after close %d", test.code)
			}
		})
	}
}

func TestFatalCloseStopsSession(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 2)

	conn.closeWith(t, CloseAuthenticationFailed)
	err := h.wait(t)
	if !fault.Is(err, fault.Fatal) {
		t.Fatalf("Run = %v, want a fatal error", err)
	}
	var closed *CloseError
	if !errors.As(err, &closed) || closed.Code != CloseAuthenticationFailed {
		t.Errorf("Run error does not carry the close code: %v", err)
	}
	if state := h.session.State(); state != StateStopped {
		t.Errorf("state = %s, want stopped", state)
	}
	testutil.RequireNoReceive(t, h.dialer.conns, 50*time.Millisecond, "redial after a fatal close")
}

func TestInvalidSessionWaitsBeforeReidentifying(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 2)

	conn.send(t, OpInvalidSession, false)
	conn.requireClosed(t)
	h.clock.WaitForTimers(1)

	// 1s plus half of the 4s random spread.
	h.clock.Advance(2999 * time.Millisecond)
	testutil.RequireNoReceive(t, h.dialer.conns, 20*time.Millisecond, "redial before the invalid-session wait")
	h.clock.Advance(time.Millisecond)

	next := h.dialer.next(t)
	next.hello(t, 45000)
	next.expect(t, OpIdentify)
}

func TestResumableInvalidSessionResumes(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 2)

	conn.send(t, OpInvalidSession, true)
	conn.requireClosed(t)
	next := h.reconnectAfter(t, firstBackoff)
	next.hello(t, 45000)
	next.expect(t, OpResume)
}

func TestMalformedInvalidSessionIsProtocolViolation(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 2)

	conn.send(t, OpInvalidSession, "maybe")
	violation := waitFor[*ProtocolViolationEvent](t, h.recorder)
	if !fault.Is(violation.Err, fault.ProtocolViolation) {
		t.Errorf("violation error = %v", violation.Err)
	}
	conn.requireClosed(t)

	next := h.reconnectAfter(t, firstBackoff)
	next.hello(t, 45000)
	next.expect(t, OpIdentify)
}

func TestHelloTimeoutIsProtocolViolation(t *testing.T) {
	h := startSession(t, nil)
	conn := h.dialer.next(t)

	h.clock.WaitForTimers(1)
	h.clock.Advance(DefaultHelloTimeout)

	violation := waitFor[*ProtocolViolationEvent](t, h.recorder)
	if !fault.Is(violation.Err, fault.ProtocolViolation) {
		t.Errorf("violation error = %v", violation.Err)
	}
	conn.requireClosed(t)

	next := h.reconnectAfter(t, firstBackoff)
	next.hello(t, 45000)
	next.expect(t, OpIdentify)
}

func TestFrameBeforeHelloIsProtocolViolation(t *testing.T) {
	h := startSession(t, nil)
	conn := h.dialer.next(t)

	conn.send(t, OpHeartbeatACK, nil)
	waitFor[*ProtocolViolationEvent](t, h.recorder)
	conn.requireClosed(t)
}

func TestDialFailuresBackOffExponentially(t *testing.T) {
	dialer := newFakeDialer()
	dialer.failNext(errors.New("connection refused"))
	dialer.failNext(errors.New("connection refused"))
	h := startSession(t, func(config *SessionConfig) { config.Dialer = dialer })

	h.clock.WaitForTimers(1)
	h.clock.Advance(firstBackoff)
	// The second consecutive failure doubles the delay.
	h.clock.WaitForTimers(1)
	h.clock.Advance(1499 * time.Millisecond)
	testutil.RequireNoReceive(t, dialer.conns, 20*time.Millisecond, "dial before the doubled backoff")
	h.clock.Advance(time.Millisecond)

	conn := dialer.next(t)
	conn.hello(t, 45000)
	conn.expect(t, OpIdentify)
}

func TestOutboundCommandsWaitForReady(t *testing.T) {
	h := startSession(t, nil)
	channelA, channelB, channelC := "100", "200", "300"

	h.session.UpdateVoiceState(VoiceStateUpdate{GuildID: "1", ChannelID: &channelA})
	h.session.UpdateVoiceState(VoiceStateUpdate{GuildID: "2", ChannelID: &channelB})
	h.session.UpdateVoiceState(VoiceStateUpdate{GuildID: "1", ChannelID: &channelC, SelfDeaf: true})

	conn := h.ready(t, "abc", 1)

	first := decodePayload[VoiceStateUpdate](t, conn.expect(t, OpVoiceStateUpdate))
	if first.GuildID != "1" || first.ChannelID == nil || *first.ChannelID != "300" || !first.SelfDeaf {
		t.Errorf("first voice update = %+v, want the latest for guild 1", first)
	}
	second := decodePayload[VoiceStateUpdate](t, conn.expect(t, OpVoiceStateUpdate))
	if second.GuildID != "2" {
		t.Errorf("second voice update = %+v", second)
	}
	testutil.RequireNoReceive(t, conn.written, 20*time.Millisecond, "superseded voice update")
}

func TestPresenceRidesIdentify(t *testing.T) {
	h := startSession(t, func(config *SessionConfig) {
		config.Presence = &PresenceUpdate{Status: "idle"}
	})
	h.session.UpdatePresence(PresenceUpdate{Status: "dnd"})

	conn := h.dialer.next(t)
	conn.hello(t, 45000)
	identify := decodePayload[Identify](t, conn.expect(t, OpIdentify))
	if identify.Presence == nil || identify.Presence.Status != "dnd" {
		t.Errorf("identify presence = %+v, want the latest update", identify.Presence)
	}
	conn.dispatch(t, 1, "READY", Ready{SessionID: "abc"})
	waitFor[*ReadyEvent](t, h.recorder)
	testutil.RequireNoReceive(t, conn.written, 20*time.Millisecond, "presence repeated after identify")
}

func TestSendBudgetDefersExcessCommands(t *testing.T) {
	h := startSession(t, nil)
	conn := h.ready(t, "abc", 1)

	for i := range 60 {
		h.session.RequestGuildMembers(RequestGuildMembers{GuildID: "1", Limit: 0, Nonce: strconv.Itoa(i)})
	}
	for i := range sendBurst {
		request := decodePayload[RequestGuildMembers](t, conn.expect(t, OpRequestGuildMembers))
		if request.Nonce != strconv.Itoa(i) {
			t.Fatalf("request %d has nonce %q", i, request.Nonce)
		}
	}
	testutil.RequireNoReceive(t, conn.written, 50*time.Millisecond, "command beyond the send budget")

	// Heartbeat timer plus the send retry timer.
	h.clock.WaitForTimers(2)
	h.clock.Advance(time.Second)
	request := decodePayload[RequestGuildMembers](t, conn.expect(t, OpRequestGuildMembers))
	if request.Nonce != strconv.Itoa(sendBurst) {
		t.Errorf("next request nonce = %q", request.Nonce)
	}
	testutil.RequireNoReceive(t, conn.written, 20*time.Millisecond, "second command within one second")
}

type manualGate struct {
	grants   chan struct{}
	released chan int
}

type manualPermit struct {
	shardID  int
	released chan int
}

func (permit manualPermit) Release() { permit.released <- permit.shardID }

func (gate *manualGate) Acquire(ctx context.Context, shardID int) (Permit, error) {
	select {
	case <-gate.grants:
		return manualPermit{shardID: shardID, released: gate.released}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestIdentifyWaitsForPermit(t *testing.T) {
	gate := &manualGate{grants: make(chan struct{}), released: make(chan int, 4)}
	h := startSession(t, func(config *SessionConfig) { config.Gate = gate })

	conn := h.dialer.next(t)
	conn.hello(t, 45000)
	testutil.RequireNoReceive(t, conn.written, 50*time.Millisecond, "identify without a permit")
	if state := h.session.State(); state != StateIdentifying {
		t.Errorf("state while waiting = %s", state)
	}

	testutil.RequireSend(t, gate.grants, struct{}{}, receiveTimeout, "grant")
	conn.expect(t, OpIdentify)
	if shardID := testutil.RequireReceive(t, gate.released, receiveTimeout, "permit release"); shardID != 0 {
		t.Errorf("released shard %d", shardID)
	}
}

func TestShutdownCheckpointsAndKeepsSession(t *testing.T) {
	store := &MemoryCheckpointStore{}
	h := startSession(t, func(config *SessionConfig) { config.Checkpoints = store })
	conn := h.ready(t, "abc", 3)
	conn.dispatch(t, 4, "MESSAGE_CREATE", struct{}{})
	waitFor[*DispatchEvent](t, h.recorder)

	if err := h.stop(t); err != nil {
		t.Fatalf("Run = %v, want nil on shutdown", err)
	}
	if code := conn.requireClosed(t); code != CloseKeepSession {
		t.Errorf("shutdown closed with %d, want %d", code, CloseKeepSession)
	}
	checkpoint, ok, _ := store.Load(0)
	if !ok {
		t.Fatal("no checkpoint saved")
	}
	if checkpoint.SessionID != "abc" || checkpoint.Sequence != 4 || checkpoint.ResumeURL != "wss://resume.test" || checkpoint.ShardCount != 1 {
		t.Errorf("checkpoint = %+v", checkpoint)
	}

	restarted := startSession(t, func(config *SessionConfig) { config.Checkpoints = store })
	next := restarted.dialer.next(t)
	if next.url != "wss://resume.test" {
		t.Errorf("restarted session dialed %q", next.url)
	}
	next.hello(t, 45000)
	resume := decodePayload[Resume](t, next.expect(t, OpResume))
	if resume.SessionID != "abc" || resume.Sequence != 4 {
		t.Errorf("resume payload = %+v", resume)
	}
}

func TestStaleCheckpointIsDiscarded(t *testing.T) {
	store := &MemoryCheckpointStore{}
	store.Save(Checkpoint{
		ShardID:    0,
		ShardCount: 1,
		SessionID:  "old",
		Sequence:   10,
		ResumeURL:  "wss://resume.test",
		SavedAt:    epoch.Add(-time.Hour),
	})
	h := startSession(t, func(config *SessionConfig) { config.Checkpoints = store })

	conn := h.dialer.next(t)
	conn.hello(t, 45000)
	conn.expect(t, OpIdentify)
	if _, ok, _ := store.Load(0); ok {
		t.Error("stale checkpoint was not deleted")
	}
}

func TestCheckpointFromDifferentShardCountIsDiscarded(t *testing.T) {
	store := &MemoryCheckpointStore{}
	store.Save(Checkpoint{ShardID: 0, ShardCount: 4, SessionID: "old", Sequence: 1, SavedAt: epoch})
	h := startSession(t, func(config *SessionConfig) { config.Checkpoints = store })

	conn := h.dialer.next(t)
	conn.hello(t, 45000)
	conn.expect(t, OpIdentify)
}

func TestNewSessionValidatesShard(t *testing.T) {
	_, err := NewSession(SessionConfig{ShardID: 2, ShardCount: 2, GatewayURL: "wss://x", Dialer: newFakeDialer()})
	if err == nil {
		t.Error("shard id equal to the shard count was accepted")
	}
}
