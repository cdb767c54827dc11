// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/shardwire/eventbus"
	"github.com/bureau-foundation/shardwire/lib/clock"
	"github.com/bureau-foundation/shardwire/lib/fault"
)

// Session defaults.
const (
	DefaultHelloTimeout      = 20 * time.Second
	DefaultDispatchQueueSize = 256
	DefaultCheckpointMaxAge  = 5 * time.Minute
)

// The gateway accepts 120 frames per 60 seconds per connection. Three
// of those are left for heartbeats and the identify or resume; the
// limiter admits at most sendBurst + sendRate*60s = 117 other frames in
// any minute.
const (
	sendBurst = 57
	sendRate  = rate.Limit(1)
)

var (
	errZombie             = errors.New("gateway: no heartbeat ack before the next beat")
	errReconnectRequested = errors.New("gateway: server requested reconnect")
	errInvalidSession     = errors.New("gateway: session invalidated")
)

// SessionConfig configures a Session.
type SessionConfig struct {
	ShardID    int
	ShardCount int

	// Token authenticates identify and resume. It is never logged.
	Token   string
	Intents Intents

	// GatewayURL is dialed for fresh sessions. Resumes dial the
	// resume URL from READY.
	GatewayURL string
	Dialer     Dialer

	// Gate serializes identifies across shards. Nil identifies
	// without waiting.
	Gate IdentifyGate

	// Bus receives dispatches and session events. Nil discards them.
	Bus *eventbus.Bus

	// PublishTimeout bounds each handler invocation. Zero waits
	// indefinitely.
	PublishTimeout time.Duration

	// DispatchQueueSize bounds the events waiting for the bus. When
	// the queue is full the session stops reading until it drains.
	DispatchQueueSize int

	// Checkpoints persists resumable state. Nil disables it.
	Checkpoints CheckpointStore

	// CheckpointMaxAge discards older checkpoints at startup. Zero
	// uses DefaultCheckpointMaxAge.
	CheckpointMaxAge time.Duration

	Properties     IdentifyProperties
	Presence       *PresenceUpdate
	LargeThreshold int

	// HelloTimeout bounds the wait for hello after connecting.
	HelloTimeout time.Duration

	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// OnStateChange is called synchronously from the session goroutine
	// on every transition.
	OnStateChange func(shardID int, state State)

	Clock  clock.Clock
	Logger *slog.Logger

	// Random returns values in [0, 1) for jitter. Nil uses
	// math/rand/v2.
	Random func() float64
}

// Session is one gateway connection lifecycle for one shard. A single
// goroutine (Run) owns the connection and all protocol state; other
// goroutines observe it through the accessor methods and queue
// outbound commands.
type Session struct {
	config SessionConfig
	clock  clock.Clock
	logger *slog.Logger
	random func() float64
	outbox *outbox

	mu          sync.Mutex
	state       State
	sessionID   string
	resumeURL   string
	sequence    int64
	hasSequence bool
	latency     time.Duration
	reconnects  int
	lastAck     time.Time
	presence    *PresenceUpdate

	// Owned by the Run goroutine.
	events  chan any
	backoff *backoff
	limiter *rate.Limiter
}

// NewSession validates config and returns an idle session.
func NewSession(config SessionConfig) (*Session, error) {
	if config.Dialer == nil {
		return nil, errors.New("gateway: session needs a Dialer")
	}
	if config.GatewayURL == "" {
		return nil, errors.New("gateway: session needs a GatewayURL")
	}
	if config.ShardCount < 1 || config.ShardID < 0 || config.ShardID >= config.ShardCount {
		return nil, fmt.Errorf("gateway: shard %d of %d is out of range", config.ShardID, config.ShardCount)
	}
	if config.HelloTimeout <= 0 {
		config.HelloTimeout = DefaultHelloTimeout
	}
	if config.DispatchQueueSize <= 0 {
		config.DispatchQueueSize = DefaultDispatchQueueSize
	}
	if config.CheckpointMaxAge <= 0 {
		config.CheckpointMaxAge = DefaultCheckpointMaxAge
	}
	if config.Properties == (IdentifyProperties{}) {
		config.Properties = IdentifyProperties{OS: runtime.GOOS, Browser: "shardwire", Device: "shardwire"}
	}

	session := &Session{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
		random: config.Random,
		outbox: newOutbox(),
	}
	if session.clock == nil {
		session.clock = clock.Real()
	}
	if session.logger == nil {
		session.logger = slog.Default()
	}
	session.logger = session.logger.With("shard_id", config.ShardID)
	if session.random == nil {
		session.random = rand.Float64
	}
	if config.Presence != nil {
		presence := *config.Presence
		session.presence = &presence
	}
	return session, nil
}

// ShardID returns the shard this session serves.
func (s *Session) ShardID() int { return s.config.ShardID }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sequence returns the last dispatch sequence number, if any.
func (s *Session) Sequence() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence, s.hasSequence
}

// SessionID returns the current session id, empty when there is no
// resumable session.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Latency returns the round trip of the last acknowledged heartbeat.
func (s *Session) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

// ShardStatus is a point-in-time view of a session.
type ShardStatus struct {
	ShardID     int
	State       State
	SessionID   string
	Sequence    int64
	HasSequence bool
	Latency     time.Duration
	Reconnects  int
	LastAck     time.Time
}

// Status returns a snapshot of the session.
func (s *Session) Status() ShardStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ShardStatus{
		ShardID:     s.config.ShardID,
		State:       s.state,
		SessionID:   s.sessionID,
		Sequence:    s.sequence,
		HasSequence: s.hasSequence,
		Latency:     s.latency,
		Reconnects:  s.reconnects,
		LastAck:     s.lastAck,
	}
}

// UpdatePresence sends a presence update once the session is Ready.
// Only the latest pending presence is kept.
func (s *Session) UpdatePresence(presence PresenceUpdate) {
	s.mu.Lock()
	s.presence = &presence
	s.mu.Unlock()
	s.outbox.setPresence(presence)
}

// UpdateVoiceState joins, moves, or leaves voice in a guild. Pending
// updates for the same guild replace each other.
func (s *Session) UpdateVoiceState(update VoiceStateUpdate) {
	s.outbox.setVoiceState(update)
}

// RequestGuildMembers asks for a guild's member list. Requests are
// sent in order.
func (s *Session) RequestGuildMembers(request RequestGuildMembers) {
	s.outbox.addMemberRequest(request)
}

// Run connects and keeps the session alive until ctx ends or a fatal
// close. It returns nil after a clean shutdown, during which a
// resumable session is checkpointed and closed with CloseKeepSession.
// A fatal close returns an error of kind fault.Fatal wrapping the
// *CloseError.
func (s *Session) Run(ctx context.Context) error {
	s.events = make(chan any, s.config.DispatchQueueSize)
	published := make(chan struct{})
	go s.publishEvents(ctx, s.events, published)
	defer func() {
		close(s.events)
		<-published
	}()

	s.backoff = newBackoff(s.config.BackoffInitial, s.config.BackoffMax, s.random)
	s.loadCheckpoint()

	for {
		result := s.connect(ctx)

		if ctx.Err() != nil {
			s.saveCheckpoint()
			s.setState(ctx, StateDisconnected)
			s.logger.Info("gateway session stopped")
			return nil
		}

		switch result.class {
		case FatalClose:
			s.discardSession()
			s.setState(ctx, StateStopped)
			s.logger.Error("gateway session closed fatally", "error", result.err)
			return fault.New(fault.Fatal, fmt.Sprintf("gateway shard %d", s.config.ShardID), result.err)
		case NotResumable:
			s.discardSession()
		}

		delay := result.delay
		if delay <= 0 {
			delay = s.backoff.next()
		}
		resume := s.canResume()
		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()
		s.setState(ctx, StateDisconnected)
		s.logger.Info("gateway reconnecting",
			"resume", resume,
			"delay", delay,
			"reason", result.err,
		)
		s.enqueue(ctx, &ReconnectEvent{ShardID: s.config.ShardID, Resume: resume, Delay: delay, Err: result.err})

		timer := s.clock.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			s.saveCheckpoint()
			s.setState(ctx, StateDisconnected)
			return nil
		}
	}
}

// outcome is how one connection ended.
type outcome struct {
	class CloseClass
	err   error

	// delay overrides the backoff before the next dial.
	delay time.Duration
}

type readResult struct {
	data []byte
	err  error
}

// connect runs one connection from dial to close.
func (s *Session) connect(ctx context.Context) outcome {
	resume := s.canResume()
	target := s.config.GatewayURL
	if resume {
		s.mu.Lock()
		if s.resumeURL != "" {
			target = s.resumeURL
		}
		s.mu.Unlock()
	}

	s.setState(ctx, StateConnecting)
	conn, err := s.config.Dialer.Dial(ctx, target)
	if err != nil {
		return outcome{class: Resumable, err: err}
	}

	connCtx, cancel := context.WithCancel(ctx)
	frames := make(chan readResult)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			data, err := conn.Read(connCtx)
			select {
			case frames <- readResult{data: data, err: err}:
			case <-connCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	result := s.serve(connCtx, conn, frames, resume)

	code, reason := CloseKeepSession, "reconnecting"
	if result.class != Resumable && ctx.Err() == nil {
		code, reason = CloseNormal, "session discarded"
	}
	conn.Close(code, reason)
	cancel()
	<-readerDone
	return result
}

// protocolViolation publishes the violation and forces a fresh
// identify.
func (s *Session) protocolViolation(ctx context.Context, format string, args ...any) outcome {
	err := fault.Errorf(fault.ProtocolViolation, "gateway", format, args...)
	s.logger.Warn("gateway protocol violation", "error", err)
	s.enqueue(ctx, &ProtocolViolationEvent{ShardID: s.config.ShardID, Err: err})
	return outcome{class: NotResumable, err: err}
}

// readFailure classifies a failed read.
func (s *Session) readFailure(err error) outcome {
	var closed *CloseError
	if errors.As(err, &closed) {
		return outcome{class: closed.Class(), err: closed}
	}
	return outcome{class: Resumable, err: fault.New(fault.Transient, "gateway read", err)}
}

type permitResult struct {
	permit Permit
	err    error
}

// serve drives one open connection: hello, identify or resume, then
// the heartbeat and dispatch loop.
func (s *Session) serve(ctx context.Context, conn Conn, frames <-chan readResult, resume bool) outcome {
	helloTimer := s.clock.NewTimer(s.config.HelloTimeout)
	var interval time.Duration
	select {
	case result := <-frames:
		helloTimer.Stop()
		if result.err != nil {
			return s.readFailure(result.err)
		}
		frame, err := DecodeFrame(result.data)
		if err != nil {
			return s.protocolViolation(ctx, "%v", err)
		}
		if frame.Op != OpHello {
			return s.protocolViolation(ctx, "expected hello, received %s", frame.Op)
		}
		var hello Hello
		if err := json.Unmarshal(frame.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
			return s.protocolViolation(ctx, "invalid hello payload %s", frame.D)
		}
		interval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
	case <-helloTimer.C:
		return s.protocolViolation(ctx, "no hello within %v", s.config.HelloTimeout)
	case <-ctx.Done():
		helloTimer.Stop()
		return outcome{class: Resumable, err: ctx.Err()}
	}

	s.limiter = rate.NewLimiter(sendRate, sendBurst)

	beat := s.clock.NewTimer(time.Duration(float64(interval) * s.random()))
	defer beat.Stop()
	awaitingAck := false
	var lastBeat time.Time

	var permits chan permitResult
	if resume {
		s.setState(ctx, StateResuming)
		s.mu.Lock()
		payload := Resume{Token: s.config.Token, SessionID: s.sessionID, Sequence: s.sequence}
		s.mu.Unlock()
		if err := s.send(ctx, conn, OpResume, payload); err != nil {
			return s.readFailure(err)
		}
		s.logger.Info("gateway resuming", "sequence", payload.Sequence)
	} else {
		s.setState(ctx, StateIdentifying)
		permits = s.requestPermit(ctx)
		defer func() {
			if permits == nil {
				return
			}
			// The connection ended while waiting; hand back a permit
			// granted after this point.
			go func(pending chan permitResult) {
				if result := <-pending; result.permit != nil {
					result.permit.Release()
				}
			}(permits)
		}()
	}

	var retry *clock.Timer
	var retryC <-chan time.Time
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()
	flush := func() error {
		delay, err := s.flushOutbox(ctx, conn)
		if err != nil || delay <= 0 {
			retryC = nil
			return err
		}
		if retry == nil {
			retry = s.clock.NewTimer(delay)
		} else {
			retry.Reset(delay)
		}
		retryC = retry.C
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return outcome{class: Resumable, err: ctx.Err()}

		case result := <-permits:
			permits = nil
			if result.err != nil {
				return outcome{class: Resumable, err: result.err}
			}
			err := s.identify(ctx, conn)
			result.permit.Release()
			if err != nil {
				return s.readFailure(err)
			}

		case <-beat.C:
			if awaitingAck {
				s.logger.Warn("gateway connection is a zombie", "interval", interval)
				return outcome{class: NotResumable, err: errZombie}
			}
			lastBeat = s.clock.Now()
			awaitingAck = true
			beat.Reset(interval)
			if err := s.heartbeat(ctx, conn); err != nil {
				return s.readFailure(err)
			}

		case <-s.outbox.notify:
			if s.State() == StateReady {
				if err := flush(); err != nil {
					return s.readFailure(err)
				}
			}

		case <-retryC:
			if err := flush(); err != nil {
				return s.readFailure(err)
			}

		case result := <-frames:
			if result.err != nil {
				return s.readFailure(result.err)
			}
			frame, err := DecodeFrame(result.data)
			if err != nil {
				return s.protocolViolation(ctx, "%v", err)
			}

			switch frame.Op {
			case OpDispatch:
				ready, violation := s.dispatch(ctx, frame)
				if violation != nil {
					return *violation
				}
				if ready {
					s.backoff.reset()
					if err := flush(); err != nil {
						return s.readFailure(err)
					}
				}

			case OpHeartbeat:
				// The answer takes the place of the next scheduled beat
				// unless one is still awaiting its ack.
				if !awaitingAck {
					lastBeat = s.clock.Now()
					awaitingAck = true
					if !beat.Stop() {
						select {
						case <-beat.C:
						default:
						}
					}
					beat.Reset(interval)
				}
				if err := s.heartbeat(ctx, conn); err != nil {
					return s.readFailure(err)
				}

			case OpHeartbeatACK:
				if awaitingAck {
					now := s.clock.Now()
					s.mu.Lock()
					s.latency = now.Sub(lastBeat)
					s.lastAck = now
					s.mu.Unlock()
				}
				awaitingAck = false
				if s.State() == StateReady {
					s.saveCheckpoint()
				}

			case OpReconnect:
				return outcome{class: Resumable, err: errReconnectRequested}

			case OpInvalidSession:
				var resumable bool
				if len(frame.D) > 0 {
					if err := json.Unmarshal(frame.D, &resumable); err != nil {
						return s.protocolViolation(ctx, "invalid session payload %s: %v", frame.D, err)
					}
				}
				if resumable && s.canResume() {
					return outcome{class: Resumable, err: errInvalidSession}
				}
				wait := time.Second + time.Duration(s.random()*float64(4*time.Second))
				return outcome{class: NotResumable, err: errInvalidSession, delay: wait}

			case OpHello:
				return s.protocolViolation(ctx, "hello received twice")

			default:
				return s.protocolViolation(ctx, "unexpected %s from server", frame.Op)
			}
		}
	}
}

// dispatch handles an op-0 frame. It reports whether the frame
// completed a handshake (READY or RESUMED).
func (s *Session) dispatch(ctx context.Context, frame Frame) (bool, *outcome) {
	s.mu.Lock()
	if frame.S != nil && (!s.hasSequence || *frame.S > s.sequence) {
		s.sequence = *frame.S
		s.hasSequence = true
	}
	sequence := s.sequence
	s.mu.Unlock()

	var followup any
	switch frame.T {
	case "READY":
		var ready Ready
		if err := json.Unmarshal(frame.D, &ready); err != nil || ready.SessionID == "" {
			violation := s.protocolViolation(ctx, "malformed READY payload")
			return false, &violation
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.mu.Unlock()
		s.setState(ctx, StateReady)
		s.saveCheckpoint()
		s.logger.Info("gateway session ready", "session_id", ready.SessionID)
		followup = &ReadyEvent{
			ShardID:   s.config.ShardID,
			SessionID: ready.SessionID,
			ResumeURL: ready.ResumeGatewayURL,
			Data:      frame.D,
		}
	case "RESUMED":
		s.setState(ctx, StateReady)
		s.saveCheckpoint()
		s.logger.Info("gateway session resumed", "sequence", sequence)
		followup = &ResumedEvent{ShardID: s.config.ShardID, Sequence: sequence}
	}

	var eventSequence int64
	if frame.S != nil {
		eventSequence = *frame.S
	}
	s.enqueue(ctx, &DispatchEvent{
		ShardID:  s.config.ShardID,
		Sequence: eventSequence,
		Type:     frame.T,
		Data:     frame.D,
	})
	if followup != nil {
		s.enqueue(ctx, followup)
		return true, nil
	}
	return false, nil
}

func (s *Session) requestPermit(ctx context.Context) chan permitResult {
	permits := make(chan permitResult, 1)
	if s.config.Gate == nil {
		permits <- permitResult{permit: noPermit{}}
		return permits
	}
	go func() {
		permit, err := s.config.Gate.Acquire(ctx, s.config.ShardID)
		permits <- permitResult{permit: permit, err: err}
	}()
	return permits
}

type noPermit struct{}

func (noPermit) Release() {}

// identify sends a fresh identify. Sequence tracking restarts with the
// new session.
func (s *Session) identify(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	s.sequence = 0
	s.hasSequence = false
	s.mu.Unlock()

	payload := Identify{
		Token:          s.config.Token,
		Properties:     s.config.Properties,
		LargeThreshold: s.config.LargeThreshold,
		Shard:          [2]int{s.config.ShardID, s.config.ShardCount},
		Intents:        s.config.Intents,
	}
	// The latest presence rides along with identify; a pending update
	// would only repeat it.
	s.outbox.takePresence()
	s.mu.Lock()
	payload.Presence = s.presence
	s.mu.Unlock()
	if err := s.send(ctx, conn, OpIdentify, payload); err != nil {
		return err
	}
	s.logger.Info("gateway identify sent", "shard_count", s.config.ShardCount, "intents", uint64(s.config.Intents))
	return nil
}

func (s *Session) heartbeat(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	var payload *int64
	if s.hasSequence {
		sequence := s.sequence
		payload = &sequence
	}
	s.mu.Unlock()
	return s.send(ctx, conn, OpHeartbeat, payload)
}

// send writes a control frame. Control frames (heartbeat, identify,
// resume) use the reserved part of the budget and skip the limiter.
func (s *Session) send(ctx context.Context, conn Conn, op Opcode, payload any) error {
	data, err := encodeFrame(op, payload)
	if err != nil {
		return err
	}
	return conn.Write(ctx, data)
}

// flushOutbox sends queued commands while the budget allows. It
// returns how long to wait before the next command fits.
func (s *Session) flushOutbox(ctx context.Context, conn Conn) (time.Duration, error) {
	for {
		command, ok := s.outbox.peek()
		if !ok {
			return 0, nil
		}
		now := s.clock.Now()
		reservation := s.limiter.ReserveN(now, 1)
		if delay := reservation.DelayFrom(now); delay > 0 {
			reservation.CancelAt(now)
			s.logger.Debug("gateway send budget exhausted", "retry_in", delay, "pending", s.outbox.len())
			return delay, nil
		}
		if err := s.send(ctx, conn, command.op, command.payload); err != nil {
			return 0, err
		}
		s.outbox.pop(command.id)
	}
}

func (s *Session) setState(ctx context.Context, state State) {
	s.mu.Lock()
	previous := s.state
	s.state = state
	s.mu.Unlock()
	if previous == state {
		return
	}
	s.logger.Debug("gateway state changed", "from", previous.String(), "to", state.String())
	if s.config.OnStateChange != nil {
		s.config.OnStateChange(s.config.ShardID, state)
	}
	s.enqueue(ctx, &StateChangeEvent{ShardID: s.config.ShardID, From: previous, To: state})
}

func (s *Session) canResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID != "" && s.hasSequence
}

// discardSession forgets the session. The sequence survives until the
// next identify.
func (s *Session) discardSession() {
	s.mu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.mu.Unlock()
	if s.config.Checkpoints != nil {
		if err := s.config.Checkpoints.Delete(s.config.ShardID); err != nil {
			s.logger.Warn("deleting gateway checkpoint failed", "error", err)
		}
	}
}

func (s *Session) saveCheckpoint() {
	if s.config.Checkpoints == nil {
		return
	}
	s.mu.Lock()
	checkpoint := Checkpoint{
		ShardID:    s.config.ShardID,
		ShardCount: s.config.ShardCount,
		SessionID:  s.sessionID,
		Sequence:   s.sequence,
		ResumeURL:  s.resumeURL,
		SavedAt:    s.clock.Now(),
	}
	resumable := s.sessionID != "" && s.hasSequence
	s.mu.Unlock()
	if !resumable {
		return
	}
	if err := s.config.Checkpoints.Save(checkpoint); err != nil {
		s.logger.Warn("saving gateway checkpoint failed", "error", err)
	}
}

func (s *Session) loadCheckpoint() {
	store := s.config.Checkpoints
	if store == nil {
		return
	}
	checkpoint, ok, err := store.Load(s.config.ShardID)
	if err != nil {
		s.logger.Warn("loading gateway checkpoint failed", "error", err)
		return
	}
	if !ok {
		return
	}
	age := clock.Since(s.clock, checkpoint.SavedAt)
	if checkpoint.ShardCount != s.config.ShardCount || checkpoint.SessionID == "" || age > s.config.CheckpointMaxAge {
		s.logger.Info("discarding stale gateway checkpoint",
			"checkpoint_shard_count", checkpoint.ShardCount,
			"age", age,
		)
		store.Delete(s.config.ShardID)
		return
	}
	s.mu.Lock()
	s.sessionID = checkpoint.SessionID
	s.resumeURL = checkpoint.ResumeURL
	s.sequence = checkpoint.Sequence
	s.hasSequence = true
	s.mu.Unlock()
	s.logger.Info("gateway checkpoint loaded", "sequence", checkpoint.Sequence, "age", age)
}

// enqueue hands an event to the publisher. Once ctx has ended it makes
// one non-blocking attempt so shutdown never waits on a full queue.
func (s *Session) enqueue(ctx context.Context, event any) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- event:
		return
	case <-ctx.Done():
	}
	select {
	case s.events <- event:
	default:
		s.logger.Debug("dropping gateway event during shutdown", "event", fmt.Sprintf("%T", event))
	}
}

// publishEvents delivers queued events in order. It keeps draining
// after ctx ends so events already accepted still reach handlers.
func (s *Session) publishEvents(ctx context.Context, events <-chan any, done chan<- struct{}) {
	defer close(done)
	publishCtx := context.WithoutCancel(ctx)
	var options []eventbus.PublishOption
	if s.config.PublishTimeout > 0 {
		options = append(options, eventbus.WithTimeout(s.config.PublishTimeout))
	}
	for event := range events {
		if s.config.Bus == nil {
			continue
		}
		s.config.Bus.Publish(publishCtx, event, options...)
	}
}
