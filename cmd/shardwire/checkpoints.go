// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/shardwire/gateway"
)

func runCheckpoints(args []string) error {
	var flags commonFlags
	var clearAll bool
	flagSet := pflag.NewFlagSet("shardwire checkpoints", pflag.ContinueOnError)
	flags.add(flagSet)
	flagSet.BoolVar(&clearAll, "clear", false, "delete every checkpoint so the next start identifies fresh")
	if helped, err := parseFlags(flagSet, args); helped || err != nil {
		return err
	}

	cfg, _, err := flags.load(os.Stderr)
	if err != nil {
		return err
	}
	if cfg.Gateway.CheckpointDir == "" {
		return errors.New("gateway.checkpoint_dir is not set; checkpoints are kept in memory only")
	}
	store := &gateway.FileCheckpointStore{Directory: cfg.Gateway.CheckpointDir}
	return listCheckpoints(os.Stdout, store, clearAll, time.Now())
}

func listCheckpoints(w io.Writer, store *gateway.FileCheckpointStore, clearAll bool, now time.Time) error {
	paths, err := store.Paths()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintf(w, "no checkpoints in %s\n", store.Directory)
		return nil
	}

	var problems []error
	for _, path := range paths {
		shardID, ok := checkpointShard(path)
		if !ok {
			continue
		}
		if clearAll {
			if err := store.Delete(shardID); err != nil {
				problems = append(problems, err)
				continue
			}
			fmt.Fprintf(w, "shard %d: deleted\n", shardID)
			continue
		}
		checkpoint, found, err := store.Load(shardID)
		switch {
		case err != nil:
			fmt.Fprintf(w, "shard %d: unreadable: %v\n", shardID, err)
		case !found:
			continue
		default:
			fmt.Fprintf(w, "shard %d: session %s  seq %d  saved %s ago\n",
				shardID, checkpoint.SessionID, checkpoint.Sequence, now.Sub(checkpoint.SavedAt).Round(time.Second))
		}
	}
	return errors.Join(problems...)
}

// checkpointShard extracts the shard id from a "shard-N.cbor" path.
func checkpointShard(path string) (int, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".cbor")
	digits, found := strings.CutPrefix(name, "shard-")
	if !found {
		return 0, false
	}
	shardID, err := strconv.Atoi(digits)
	if err != nil || shardID < 0 {
		return 0, false
	}
	return shardID, true
}
