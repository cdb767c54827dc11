// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/shardwire/lib/fleetui"
)

func runWatch(args []string) error {
	var flags commonFlags
	var logOutput string
	var noColor bool
	flagSet := pflag.NewFlagSet("shardwire watch", pflag.ContinueOnError)
	flags.add(flagSet)
	flagSet.StringVar(&logOutput, "log-output", "", "append logs to this file (default: discard)")
	flagSet.BoolVar(&noColor, "no-color", false, "render without colors")
	if helped, err := parseFlags(flagSet, args); helped || err != nil {
		return err
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("watch needs a terminal; use 'shardwire run' for unattended operation")
	}

	// The dashboard owns the screen, so logs go to a file or nowhere.
	var logWriter io.Writer = io.Discard
	if logOutput != "" {
		file, err := os.OpenFile(logOutput, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("opening log output: %w", err)
		}
		defer file.Close()
		logWriter = file
	}

	cfg, logger, err := flags.load(logWriter)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- running.coordinator.Run(ctx) }()

	model := fleetui.NewModel(running.coordinator, fleetui.Options{
		RateLimits: running.dispatcher,
		Renderer:   fleetui.NewRenderer(os.Stdout, noColor),
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, uiErr := program.Run()

	cancel()
	err = <-runErr
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return uiErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
