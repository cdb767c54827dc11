// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/shardwire/lib/process"
	"github.com/bureau-foundation/shardwire/lib/secret"
	"github.com/bureau-foundation/shardwire/voice"
)

func runVoiceListen(args []string) error {
	var flags commonFlags
	var listen, keyFile string
	var reportInterval time.Duration
	flagSet := pflag.NewFlagSet("shardwire voice-listen", pflag.ContinueOnError)
	flags.add(flagSet)
	flagSet.StringVar(&listen, "listen", "", "UDP address to receive on (required)")
	flagSet.StringVar(&keyFile, "key-file", "", "hex-encoded 32-byte session key; unset treats packets as cleartext RTP")
	flagSet.DurationVar(&reportInterval, "report", 10*time.Second, "interval between per-source reports")
	if helped, err := parseFlags(flagSet, args); helped || err != nil {
		return err
	}
	if listen == "" {
		return process.Usage("--listen is required")
	}
	if reportInterval <= 0 {
		return process.Usage("--report must be positive")
	}

	cfg, logger, err := flags.load(os.Stderr)
	if err != nil {
		return err
	}

	var packetCipher *voice.Cipher
	if keyFile != "" {
		packetCipher, err = loadVoiceKey(keyFile)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := voice.ListenUDP(ctx, listen)
	if err != nil {
		return err
	}
	logger.Info("listening for voice", "address", conn.LocalAddr().String(), "encrypted", packetCipher != nil)

	sources := &sourceSet{seen: make(map[uint32]struct{})}
	receiver := voice.NewReceiver(voice.ReceiverConfig{
		Conn:   conn,
		Cipher: packetCipher,
		Sink: voice.SinkFunc(func(_ context.Context, packet voice.Packet) error {
			sources.add(packet.SSRC)
			return nil
		}),
		OverflowZone: cfg.Voice.OverflowZone,
		Logger:       logger,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	groupCtx, cancel := context.WithCancel(groupCtx)
	defer cancel()
	group.Go(func() error {
		defer cancel()
		return receiver.Run(groupCtx)
	})
	group.Go(func() error {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				reportSources(logger, receiver, sources.list())
				return nil
			case <-ticker.C:
				reportSources(logger, receiver, sources.list())
			}
		}
	})
	return group.Wait()
}

// loadVoiceKey reads a hex session key and builds the packet cipher.
func loadVoiceKey(path string) (*voice.Cipher, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	defer secret.Zero(encoded)
	key, err := hex.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("decoding key file %s: %w", path, err)
	}
	defer secret.Zero(key)
	return voice.NewCipher(key)
}

// sourceSet records every SSRC the receiver has delivered.
type sourceSet struct {
	mu   sync.Mutex
	seen map[uint32]struct{}
}

func (set *sourceSet) add(ssrc uint32) {
	set.mu.Lock()
	set.seen[ssrc] = struct{}{}
	set.mu.Unlock()
}

func (set *sourceSet) list() []uint32 {
	set.mu.Lock()
	defer set.mu.Unlock()
	ssrcs := make([]uint32, 0, len(set.seen))
	for ssrc := range set.seen {
		ssrcs = append(ssrcs, ssrc)
	}
	slices.Sort(ssrcs)
	return ssrcs
}

func reportSources(logger *slog.Logger, receiver *voice.Receiver, ssrcs []uint32) {
	for _, ssrc := range ssrcs {
		stats, ok := receiver.Stats(ssrc)
		if !ok {
			continue
		}
		logger.Info("voice source",
			"ssrc", ssrc,
			"received", stats.Received,
			"lost", stats.Lost,
			"late", stats.Late,
			"highest", stats.Highest,
			"loss_ratio", lossRatio(stats),
		)
	}
}

// lossRatio is lost / (received + lost), or zero before any traffic.
func lossRatio(stats voice.SourceStats) float64 {
	total := stats.Received + stats.Lost
	if total == 0 {
		return 0
	}
	return float64(stats.Lost) / float64(total)
}
