// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/shardwire/eventbus"
	"github.com/bureau-foundation/shardwire/gateway"
	"github.com/bureau-foundation/shardwire/lib/config"
	"github.com/bureau-foundation/shardwire/lib/fault"
	"github.com/bureau-foundation/shardwire/lib/version"
	"github.com/bureau-foundation/shardwire/rest"
)

// fleet is everything one process needs to run its shards.
type fleet struct {
	dispatcher  *rest.Dispatcher
	coordinator *gateway.Coordinator
	bus         *eventbus.Bus
}

// newDispatcher builds the REST dispatcher from config.
func newDispatcher(cfg *config.Config, token string, logger *slog.Logger) (*rest.Dispatcher, error) {
	maxRetries := cfg.REST.MaxRetries
	if maxRetries == 0 {
		// rest.Config treats zero as "use the default".
		maxRetries = -1
	}
	return rest.NewDispatcher(rest.Config{
		BaseURL:      cfg.APIBaseURL,
		Token:        token,
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.REST.Timeout.Std(),
		MaxRetries:   maxRetries,
		GlobalLimit:  cfg.REST.GlobalLimit,
		GlobalWindow: cfg.REST.GlobalWindow.Std(),
		BucketIdle:   cfg.REST.BucketIdle.Std(),
		Logger:       logger,
	})
}

func newFleet(cfg *config.Config, token string, logger *slog.Logger) (*fleet, error) {
	dispatcher, err := newDispatcher(cfg, token, logger)
	if err != nil {
		return nil, err
	}

	compression, err := gateway.ParseCompression(cfg.Gateway.Compression)
	if err != nil {
		return nil, err
	}

	var checkpoints gateway.CheckpointStore = &gateway.MemoryCheckpointStore{}
	if cfg.Gateway.CheckpointDir != "" {
		if err := cfg.EnsurePaths(); err != nil {
			return nil, err
		}
		checkpoints = &gateway.FileCheckpointStore{Directory: cfg.Gateway.CheckpointDir}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	bus := eventbus.New(eventbus.Config{Logger: logger})
	coordinator, err := gateway.NewCoordinator(gateway.CoordinatorConfig{
		Session: gateway.SessionConfig{
			Token:      token,
			Intents:    gateway.Intents(cfg.Gateway.Intents),
			GatewayURL: cfg.Gateway.URL,
			Dialer: &gateway.WebSocketDialer{
				Compression: compression,
				UserAgent:   userAgent,
			},
			Bus:               bus,
			DispatchQueueSize: cfg.Gateway.DispatchQueueSize,
			Checkpoints:       checkpoints,
			CheckpointMaxAge:  cfg.Gateway.CheckpointMaxAge.Std(),
			LargeThreshold:    cfg.Gateway.LargeThreshold,
			HelloTimeout:      cfg.Gateway.HelloTimeout.Std(),
			Logger:            logger,
		},
		ShardCount:          cfg.Gateway.ShardCount,
		Shards:              cfg.Gateway.Shards,
		IdentifyConcurrency: cfg.Gateway.IdentifyConcurrency,
		IdentifyInterval:    cfg.Gateway.IdentifyInterval.Std(),
		GatewayInfo:         dispatcher,
		RestartDelay:        cfg.Gateway.RestartDelay.Std(),
	})
	if err != nil {
		return nil, err
	}
	return &fleet{dispatcher: dispatcher, coordinator: coordinator, bus: bus}, nil
}

// logEvents subscribes handlers that log fleet-level events. Dispatches
// are counted per type at debug level rather than logged one by one.
func (running *fleet) logEvents(logger *slog.Logger) {
	eventbus.On(running.bus, func(_ context.Context, event *gateway.ReadyEvent) error {
		logger.Info("shard ready", "shard_id", event.ShardID, "session_id", event.SessionID)
		return nil
	})
	eventbus.On(running.bus, func(_ context.Context, event *gateway.ResumedEvent) error {
		logger.Info("shard resumed", "shard_id", event.ShardID, "sequence", event.Sequence)
		return nil
	})
	eventbus.On(running.bus, func(_ context.Context, event *gateway.ReconnectEvent) error {
		logger.Info("shard reconnecting", "shard_id", event.ShardID, "resume", event.Resume,
			"delay", event.Delay, "error", event.Err)
		return nil
	})
	eventbus.On(running.bus, func(_ context.Context, event *gateway.ProtocolViolationEvent) error {
		logger.Warn("gateway protocol violation", "shard_id", event.ShardID, "error", event.Err)
		return nil
	})
	eventbus.On(running.bus, func(_ context.Context, event *gateway.ShardDownEvent) error {
		logger.Error("shard down", "shard_id", event.ShardID, "error", event.Err,
			"fatal", fault.Is(event.Err, fault.Fatal))
		return nil
	})
	eventbus.On(running.bus, func(_ context.Context, event *gateway.FleetReadyEvent) error {
		logger.Info("fleet ready", "shards", event.Shards)
		return nil
	})
	eventbus.On(running.bus, func(_ context.Context, event *gateway.DispatchEvent) error {
		logger.Debug("dispatch", "shard_id", event.ShardID, "sequence", event.Sequence, "type", event.Type)
		return nil
	})
}

func runFleet(args []string) error {
	var flags commonFlags
	flagSet := pflag.NewFlagSet("shardwire run", pflag.ContinueOnError)
	flags.add(flagSet)
	if helped, err := parseFlags(flagSet, args); helped || err != nil {
		return err
	}

	cfg, logger, err := flags.load(os.Stderr)
	if err != nil {
		return err
	}
	token, err := openToken(cfg, logger)
	if err != nil {
		return err
	}
	defer token.Close()

	running, err := newFleet(cfg, token.String(), logger)
	if err != nil {
		return err
	}
	running.logEvents(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting shards", "version", version.Short(), "environment", cfg.Environment)
	err = running.coordinator.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("shutting down", "signal", context.Cause(ctx))
		return nil
	}
	return err
}
