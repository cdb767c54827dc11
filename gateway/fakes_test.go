// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/shardwire/eventbus"
	"github.com/bureau-foundation/shardwire/lib/clock"
	"github.com/bureau-foundation/shardwire/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const receiveTimeout = 5 * time.Second

var errFakeConnClosed = errors.New("fake connection closed")

// fakeConn is an in-memory gateway connection. The test plays the
// server: it pushes frames with serve and reads what the client wrote
// from written.
type fakeConn struct {
	url      string
	incoming chan readResult
	written  chan Frame

	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closeCode int
}

func newFakeConn(url string) *fakeConn {
	return &fakeConn{
		url:      url,
		incoming: make(chan readResult, 64),
		written:  make(chan Frame, 256),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case result := <-c.incoming:
		return result.data, result.err
	case <-c.closed:
		return nil, errFakeConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	frame, err := DecodeFrame(data)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errFakeConnClosed
	default:
	}
	select {
	case c.written <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// send delivers a server frame.
func (c *fakeConn) send(t *testing.T, op Opcode, payload any) {
	t.Helper()
	c.sendFrame(t, op, payload, nil, "")
}

func (c *fakeConn) dispatch(t *testing.T, sequence int64, eventType string, payload any) {
	t.Helper()
	c.sendFrame(t, OpDispatch, payload, &sequence, eventType)
}

func (c *fakeConn) sendFrame(t *testing.T, op Opcode, payload any, sequence *int64, eventType string) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	frame, err := json.Marshal(Frame{Op: op, D: data, S: sequence, T: eventType})
	if err != nil {
		t.Fatalf("marshaling frame: %v", err)
	}
	testutil.RequireSend(t, c.incoming, readResult{data: frame}, receiveTimeout, "server frame %s", op)
}

func (c *fakeConn) hello(t *testing.T, intervalMillis int64) {
	t.Helper()
	c.send(t, OpHello, Hello{HeartbeatInterval: intervalMillis})
}

// closeWith simulates the server closing the connection.
func (c *fakeConn) closeWith(t *testing.T, code int) {
	t.Helper()
	testutil.RequireSend(t, c.incoming, readResult{err: &CloseError{Code: code, Reason: "test"}}, receiveTimeout, "server close")
}

// expect returns the next frame the client wrote and checks its
// opcode.
func (c *fakeConn) expect(t *testing.T, op Opcode) Frame {
	t.Helper()
	frame := testutil.RequireReceive(t, c.written, receiveTimeout, "client frame %s", op)
	if frame.Op != op {
		t.Fatalf("client wrote %s, want %s (payload %s)", frame.Op, op, frame.D)
	}
	return frame
}

func (c *fakeConn) requireClosed(t *testing.T) int {
	t.Helper()
	testutil.RequireClosed(t, c.closed, receiveTimeout, "connection close")
	return c.code()
}

type fakeDialer struct {
	conns chan *fakeConn

	mu       sync.Mutex
	failures []error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) failNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, err)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()
	conn := newFakeConn(url)
	select {
	case d.conns <- conn:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return conn, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	return testutil.RequireReceive(t, d.conns, receiveTimeout, "dial")
}

// recorder collects bus events in publish order.
type recorder struct {
	events chan any
}

func newRecorder(bus *eventbus.Bus) *recorder {
	r := &recorder{events: make(chan any, 1024)}
	bus.Subscribe(func(_ context.Context, event any) error {
		r.events <- event
		return nil
	})
	return r
}

// waitFor returns the next event of type T, skipping others.
func waitFor[T any](t *testing.T, r *recorder) T {
	t.Helper()
	deadline := time.After(receiveTimeout)
	for {
		select {
		case event := <-r.events:
			if typed, ok := event.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// sessionHarness runs one Session against a fakeDialer on a fake
// clock. Random is fixed at 0.5: the first heartbeat comes after half
// the interval and backoff delays are 0.75 of their nominal value.
type sessionHarness struct {
	clock    *clock.FakeClock
	dialer   *fakeDialer
	bus      *eventbus.Bus
	recorder *recorder
	session  *Session
	cancel   context.CancelFunc

	finished chan struct{}
	err      error
}

func startSession(t *testing.T, mutate func(*SessionConfig)) *sessionHarness {
	t.Helper()
	fake := clock.Fake(epoch)
	bus := eventbus.New(eventbus.Config{Clock: fake})
	harness := &sessionHarness{
		clock:    fake,
		dialer:   newFakeDialer(),
		bus:      bus,
		recorder: newRecorder(bus),
		finished: make(chan struct{}),
	}
	config := SessionConfig{
		ShardID:    0,
		ShardCount: 1,
		Token:      "test-token",
		Intents:    IntentGuilds | IntentGuildMessages,
		GatewayURL: "wss://gateway.test",
		Dialer:     harness.dialer,
		Bus:        bus,
		Clock:      fake,
		Random:     func() float64 { return 0.5 },
	}
	if mutate != nil {
		mutate(&config)
	}
	session, err := NewSession(config)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	harness.session = session

	ctx, cancel := context.WithCancel(context.Background())
	harness.cancel = cancel
	go func() {
		harness.err = session.Run(ctx)
		close(harness.finished)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-harness.finished:
		case <-time.After(receiveTimeout):
			t.Error("session did not stop")
		}
	})
	return harness
}

// ready connects, identifies, and completes READY with the given
// session id, returning the live connection.
func (h *sessionHarness) ready(t *testing.T, sessionID string, sequence int64) *fakeConn {
	t.Helper()
	conn := h.dialer.next(t)
	conn.hello(t, 45000)
	conn.expect(t, OpIdentify)
	conn.dispatch(t, sequence, "READY", Ready{
		Version:          APIVersion,
		SessionID:        sessionID,
		ResumeGatewayURL: "wss://resume.test",
	})
	waitFor[*ReadyEvent](t, h.recorder)
	return conn
}

func (h *sessionHarness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	return h.wait(t)
}

// wait blocks until Run returns and yields its error.
func (h *sessionHarness) wait(t *testing.T) error {
	t.Helper()
	testutil.RequireClosed(t, h.finished, receiveTimeout, "Run to return")
	return h.err
}
