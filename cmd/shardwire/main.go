// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/shardwire/lib/config"
	"github.com/bureau-foundation/shardwire/lib/process"
	"github.com/bureau-foundation/shardwire/lib/sealed"
	"github.com/bureau-foundation/shardwire/lib/secret"
	"github.com/bureau-foundation/shardwire/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return process.Usage("subcommand required")
	}

	subcommand, rest := args[0], args[1:]
	switch subcommand {
	case "run":
		return runFleet(rest)
	case "watch":
		return runWatch(rest)
	case "gateway-info":
		return runGatewayInfo(rest)
	case "checkpoints":
		return runCheckpoints(rest)
	case "seal-token":
		return runSealToken(rest)
	case "keygen":
		return runKeygen(rest)
	case "voice-listen":
		return runVoiceListen(rest)
	case "version", "--version":
		fmt.Printf("shardwire %s\n", version.Full())
		return nil
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return process.Usage("unknown subcommand: %q", subcommand)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: shardwire <subcommand> [flags]

Subcommands:
  run           Connect the configured shards and log fleet events
  watch         Connect the shards and show a live dashboard
  gateway-info  Print the gateway URL, shard count, and session start limit
  checkpoints   List or clear saved resume checkpoints
  seal-token    Encrypt a token file with age
  keygen        Generate an age identity for sealed tokens
  voice-listen  Receive RTP on a UDP port and report per-source loss
  version       Print version information

Run 'shardwire <subcommand> --help' for subcommand flags.
`)
}

// commonFlags are shared by every subcommand that reads the config.
type commonFlags struct {
	configPath string
	debug      bool
}

func (flags *commonFlags) add(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&flags.configPath, "config", "c", "", "config file (default: $SHARDWIRE_CONFIG)")
	flagSet.BoolVar(&flags.debug, "debug", false, "log at debug level")
}

// parseFlags parses args and turns --help into a clean return.
func parseFlags(flagSet *pflag.FlagSet, args []string) (helped bool, err error) {
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return true, nil
		}
		return false, &process.UsageError{Err: err}
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return false, process.Usage("unexpected argument: %s", extra[0])
	}
	return false, nil
}

// load reads and validates the config and builds the logger on w.
func (flags *commonFlags) load(w io.Writer) (*config.Config, *slog.Logger, error) {
	var cfg *config.Config
	var err error
	if flags.configPath != "" {
		cfg, err = config.LoadFile(flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	debug := flags.debug || os.Getenv("SHARDWIRE_DEBUG") == "1"
	logger, err := cfg.NewLogger(w, debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openToken reads the configured token and logs its fingerprint. The
// caller closes the buffer.
//
// rest.Config and gateway.SessionConfig take the token as a string for
// the Authorization header and the identify payload. The token.String()
// copy handed to them is ordinary heap memory: it is not locked, Close
// does not wipe it, and it lives as long as the dispatcher and shards.
// Only the buffer itself stays out of swap and core dumps.
func openToken(cfg *config.Config, logger *slog.Logger) (*secret.Buffer, error) {
	token, err := sealed.OpenTokenFile(cfg.TokenFile, cfg.TokenIdentityFile)
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}
	logger.Info("token loaded", "token_fingerprint", token.Fingerprint(), "sealed", strings.HasSuffix(cfg.TokenFile, ".age"))
	return token, nil
}
