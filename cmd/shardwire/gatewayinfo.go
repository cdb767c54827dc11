// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/shardwire/rest"
)

func runGatewayInfo(args []string) error {
	var flags commonFlags
	var asJSON bool
	flagSet := pflag.NewFlagSet("shardwire gateway-info", pflag.ContinueOnError)
	flags.add(flagSet)
	flagSet.BoolVar(&asJSON, "json", false, "print the raw response as JSON")
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

	dispatcher, err := newDispatcher(cfg, token.String(), logger)
	if err != nil {
		return err
	}
	info, err := dispatcher.GatewayBot(context.Background())
	if err != nil {
		return err
	}
	return printGatewayInfo(os.Stdout, info, asJSON)
}

func printGatewayInfo(w io.Writer, info *rest.GatewayBotInfo, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(info)
	}
	limit := info.SessionStartLimit
	_, err := fmt.Fprintf(w, "url:              %s\nshards:           %d\nsession starts:   %d of %d remaining\nresets in:        %s\nmax concurrency:  %d\n",
		info.URL, info.Shards, limit.Remaining, limit.Total, limit.ResetIn(), limit.MaxConcurrency)
	return err
}
