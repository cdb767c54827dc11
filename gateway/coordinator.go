// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/shardwire/eventbus"
	"github.com/bureau-foundation/shardwire/lib/clock"
	"github.com/bureau-foundation/shardwire/lib/fault"
	"github.com/bureau-foundation/shardwire/rest"
)

// DefaultRestartDelay is the pause before a session that exited
// unexpectedly is run again.
const DefaultRestartDelay = 5 * time.Second

// GatewayInfoSource reports the gateway URL, recommended shard count,
// and session start limit. *rest.Dispatcher implements it.
type GatewayInfoSource interface {
	GatewayBot(ctx context.Context) (*rest.GatewayBotInfo, error)
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Session is the template for every shard's session. ShardID,
	// ShardCount, Gate, and OnStateChange are set by the coordinator.
	// An empty GatewayURL is filled from GatewayInfo.
	Session SessionConfig

	// ShardCount is the total shard count. Zero uses the recommended
	// count from GatewayInfo.
	ShardCount int

	// Shards lists the shard ids this process runs. Nil runs all of
	// them.
	Shards []int

	// IdentifyConcurrency is the number of identifies per interval.
	// Zero uses the session start limit's max_concurrency, or 1.
	IdentifyConcurrency int
	IdentifyInterval    time.Duration

	// GatewayInfo is consulted once at startup. Nil skips the lookup
	// and the session start limit check.
	GatewayInfo GatewayInfoSource

	RestartDelay time.Duration
}

// Coordinator runs a fleet of sessions. It owns the identify queue,
// supervises each session, removes shards that fail fatally, and
// reports fleet readiness.
type Coordinator struct {
	config CoordinatorConfig
	clock  clock.Clock
	logger *slog.Logger
	bus    *eventbus.Bus

	ready     chan struct{}
	readyOnce sync.Once
	started   chan struct{}

	mu         sync.Mutex
	shards     map[int]*shardEntry
	shardCount int
	group      *errgroup.Group
	groupCtx   context.Context
	queue      *IdentifyQueue
}

type shardEntry struct {
	session   *Session
	down      bool
	everReady bool
}

// NewCoordinator returns a coordinator. Call Run to start the fleet.
func NewCoordinator(config CoordinatorConfig) (*Coordinator, error) {
	if config.Session.Dialer == nil {
		return nil, errors.New("gateway: coordinator needs a Dialer")
	}
	if config.ShardCount == 0 && config.GatewayInfo == nil {
		return nil, errors.New("gateway: shard count is zero and no gateway info source is configured")
	}
	if config.RestartDelay <= 0 {
		config.RestartDelay = DefaultRestartDelay
	}
	coordinator := &Coordinator{
		config:  config,
		clock:   config.Session.Clock,
		logger:  config.Session.Logger,
		bus:     config.Session.Bus,
		ready:   make(chan struct{}),
		started: make(chan struct{}),
		shards:  make(map[int]*shardEntry),
	}
	if coordinator.clock == nil {
		coordinator.clock = clock.Real()
	}
	if coordinator.logger == nil {
		coordinator.logger = slog.Default()
	}
	return coordinator, nil
}

// Ready is closed once every shard in rotation has reached StateReady.
func (c *Coordinator) Ready() <-chan struct{} { return c.ready }

// Started is closed once Run has created every session.
func (c *Coordinator) Started() <-chan struct{} { return c.started }

// ShardCount returns the total shard count in use, zero before Run.
func (c *Coordinator) ShardCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shardCount
}

// Run starts the fleet and blocks until ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	sessionConfig, identifyConcurrency, err := c.resolve(ctx)
	if err != nil {
		return err
	}

	shardIDs := c.config.Shards
	if shardIDs == nil {
		for shardID := range sessionConfig.ShardCount {
			shardIDs = append(shardIDs, shardID)
		}
	}
	for _, shardID := range shardIDs {
		if shardID < 0 || shardID >= sessionConfig.ShardCount {
			return fmt.Errorf("gateway: shard %d is outside the shard count %d", shardID, sessionConfig.ShardCount)
		}
	}
	if len(shardIDs) == 0 {
		return errors.New("gateway: no shards to run")
	}

	queue := NewIdentifyQueue(IdentifyQueueConfig{
		Concurrency: identifyConcurrency,
		Interval:    c.config.IdentifyInterval,
		Clock:       c.clock,
		Logger:      c.logger,
	})

	c.mu.Lock()
	c.config.Session = sessionConfig
	c.shardCount = sessionConfig.ShardCount
	c.queue = queue
	for _, shardID := range shardIDs {
		session, err := c.newSessionLocked(shardID)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.shards[shardID] = &shardEntry{session: session}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	c.group = group
	c.groupCtx = groupCtx
	group.Go(func() error { return queue.Run(groupCtx) })
	for shardID, entry := range c.shards {
		session := entry.session
		group.Go(func() error { return c.supervise(groupCtx, shardID, session) })
	}
	c.mu.Unlock()
	close(c.started)
	c.checkFleetReady()

	c.logger.Info("gateway fleet started",
		"shards", len(shardIDs),
		"shard_count", sessionConfig.ShardCount,
		"identify_concurrency", identifyConcurrency,
	)
	return group.Wait()
}

// resolve fills in the URL, shard count, and identify concurrency from
// GatewayInfo and waits out an exhausted session start limit.
func (c *Coordinator) resolve(ctx context.Context) (SessionConfig, int, error) {
	sessionConfig := c.config.Session
	sessionConfig.ShardCount = c.config.ShardCount
	concurrency := c.config.IdentifyConcurrency

	if c.config.GatewayInfo != nil {
		info, err := c.config.GatewayInfo.GatewayBot(ctx)
		if err != nil {
			if sessionConfig.ShardCount == 0 || sessionConfig.GatewayURL == "" {
				return sessionConfig, 0, fmt.Errorf("gateway: fetching gateway info: %w", err)
			}
			c.logger.Warn("gateway info unavailable, using configured values", "error", err)
		} else {
			if sessionConfig.GatewayURL == "" {
				sessionConfig.GatewayURL = info.URL
			}
			if sessionConfig.ShardCount == 0 {
				sessionConfig.ShardCount = info.Shards
			}
			if concurrency == 0 {
				concurrency = info.SessionStartLimit.MaxConcurrency
			}
			needed := len(c.config.Shards)
			if needed == 0 {
				needed = sessionConfig.ShardCount
			}
			if info.SessionStartLimit.Remaining < needed {
				wait := info.SessionStartLimit.ResetIn()
				c.logger.Warn("session start limit exhausted, waiting for reset",
					"remaining", info.SessionStartLimit.Remaining,
					"needed", needed,
					"reset_in", wait,
				)
				select {
				case <-c.clock.After(wait):
				case <-ctx.Done():
					return sessionConfig, 0, ctx.Err()
				}
			}
		}
	}

	if sessionConfig.ShardCount < 1 {
		return sessionConfig, 0, errors.New("gateway: shard count must be at least 1")
	}
	if sessionConfig.GatewayURL == "" {
		return sessionConfig, 0, errors.New("gateway: no gateway URL configured")
	}
	return sessionConfig, max(concurrency, 1), nil
}

func (c *Coordinator) newSessionLocked(shardID int) (*Session, error) {
	config := c.config.Session
	config.ShardID = shardID
	config.Gate = c.queue
	config.OnStateChange = c.stateChanged
	return NewSession(config)
}

// supervise runs one session until ctx ends or it fails fatally. Any
// other exit, including a panic, restarts it after RestartDelay.
func (c *Coordinator) supervise(ctx context.Context, shardID int, session *Session) error {
	for {
		err := runRecovered(ctx, session)
		if ctx.Err() != nil {
			return nil
		}
		if fault.Is(err, fault.Fatal) {
			c.shardDown(ctx, shardID, err)
			return nil
		}
		c.logger.Error("gateway session exited unexpectedly, restarting",
			"shard_id", shardID,
			"error", err,
			"delay", c.config.RestartDelay,
		)
		select {
		case <-c.clock.After(c.config.RestartDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

func runRecovered(ctx context.Context, session *Session) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("gateway: session panicked: %v", recovered)
		}
	}()
	return session.Run(ctx)
}

func (c *Coordinator) shardDown(ctx context.Context, shardID int, err error) {
	c.mu.Lock()
	if entry, ok := c.shards[shardID]; ok {
		entry.down = true
	}
	c.mu.Unlock()

	c.logger.Error("gateway shard removed from rotation", "shard_id", shardID, "error", err)
	if c.bus != nil {
		c.bus.Publish(context.WithoutCancel(ctx), &ShardDownEvent{ShardID: shardID, Err: err})
	}
	c.checkFleetReady()
}

func (c *Coordinator) stateChanged(shardID int, state State) {
	if state != StateReady {
		return
	}
	c.mu.Lock()
	entry, ok := c.shards[shardID]
	if ok {
		entry.everReady = true
	}
	c.mu.Unlock()
	c.checkFleetReady()
}

// checkFleetReady closes Ready once every shard not down has been
// Ready at least once.
func (c *Coordinator) checkFleetReady() {
	c.mu.Lock()
	readyShards := 0
	for _, entry := range c.shards {
		switch {
		case entry.everReady:
			readyShards++
		case !entry.down:
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()
	if readyShards == 0 {
		return
	}
	select {
	case <-c.started:
	default:
		// Sessions are still being created.
		return
	}
	c.readyOnce.Do(func() {
		close(c.ready)
		c.logger.Info("gateway fleet ready", "shards", readyShards)
		if c.bus != nil {
			go c.bus.Publish(context.Background(), &FleetReadyEvent{Shards: readyShards})
		}
	})
}

// Restart puts a shard removed after a fatal close back into rotation
// with a new session.
func (c *Coordinator) Restart(shardID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group == nil || c.groupCtx.Err() != nil {
		return errors.New("gateway: coordinator is not running")
	}
	entry, ok := c.shards[shardID]
	if !ok {
		return fmt.Errorf("gateway: shard %d is not run by this coordinator", shardID)
	}
	if !entry.down {
		return fmt.Errorf("gateway: shard %d is still running", shardID)
	}
	session, err := c.newSessionLocked(shardID)
	if err != nil {
		return err
	}
	entry.session = session
	entry.down = false
	groupCtx := c.groupCtx
	c.group.Go(func() error { return c.supervise(groupCtx, shardID, session) })
	c.logger.Info("gateway shard restarted", "shard_id", shardID)
	return nil
}

// Session returns the session serving shardID.
func (c *Coordinator) Session(shardID int) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.shards[shardID]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// Status returns every shard's status, sorted by shard id. Shards
// removed from rotation report StateStopped.
func (c *Coordinator) Status() []ShardStatus {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.shards))
	for _, entry := range c.shards {
		sessions = append(sessions, entry.session)
	}
	c.mu.Unlock()

	statuses := make([]ShardStatus, 0, len(sessions))
	for _, session := range sessions {
		statuses = append(statuses, session.Status())
	}
	slices.SortFunc(statuses, func(a, b ShardStatus) int { return a.ShardID - b.ShardID })
	return statuses
}

// UpdatePresence sets the presence on every shard.
func (c *Coordinator) UpdatePresence(presence PresenceUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.shards {
		entry.session.UpdatePresence(presence)
	}
}

// UpdateVoiceState routes a voice state update to the guild's shard.
func (c *Coordinator) UpdateVoiceState(update VoiceStateUpdate) error {
	session, err := c.sessionForGuild(update.GuildID)
	if err != nil {
		return err
	}
	session.UpdateVoiceState(update)
	return nil
}

// RequestGuildMembers routes a member request to the guild's shard.
func (c *Coordinator) RequestGuildMembers(request RequestGuildMembers) error {
	session, err := c.sessionForGuild(request.GuildID)
	if err != nil {
		return err
	}
	session.RequestGuildMembers(request)
	return nil
}

func (c *Coordinator) sessionForGuild(guildID string) (*Session, error) {
	shardCount := c.ShardCount()
	if shardCount == 0 {
		return nil, errors.New("gateway: coordinator is not running")
	}
	shardID, err := ShardForGuild(guildID, shardCount)
	if err != nil {
		return nil, err
	}
	session, ok := c.Session(shardID)
	if !ok {
		return nil, fmt.Errorf("gateway: guild %s belongs to shard %d, which this process does not run", guildID, shardID)
	}
	return session, nil
}

// ShardForGuild returns the shard that receives a guild's events:
// (guild_id >> 22) % shard_count.
func ShardForGuild(guildID string, shardCount int) (int, error) {
	if shardCount < 1 {
		return 0, fmt.Errorf("gateway: invalid shard count %d", shardCount)
	}
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("gateway: guild id %q is not a snowflake: %w", guildID, err)
	}
	return int((id >> 22) % uint64(shardCount)), nil
}
