// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/shardwire/lib/codec"
)

// Checkpoint is the resumable part of a session, saved so a restarted
// process can resume instead of identifying.
type Checkpoint struct {
	ShardID    int       `cbor:"shard_id"`
	ShardCount int       `cbor:"shard_count"`
	SessionID  string    `cbor:"session_id"`
	Sequence   int64     `cbor:"sequence"`
	ResumeURL  string    `cbor:"resume_url"`
	SavedAt    time.Time `cbor:"saved_at"`
}

// CheckpointStore persists checkpoints by shard. Load returns
// (Checkpoint{}, false, nil) when nothing is stored.
type CheckpointStore interface {
	Save(checkpoint Checkpoint) error
	Load(shardID int) (Checkpoint, bool, error)
	Delete(shardID int) error
}

// FileCheckpointStore keeps one CBOR file per shard in Directory.
// Writes go to a temporary file that is fsynced and renamed into
// place, so a crash never leaves a torn checkpoint.
type FileCheckpointStore struct {
	Directory string
}

func (store *FileCheckpointStore) path(shardID int) string {
	return filepath.Join(store.Directory, "shard-"+strconv.Itoa(shardID)+".cbor")
}

// Save writes checkpoint atomically.
func (store *FileCheckpointStore) Save(checkpoint Checkpoint) error {
	data, err := codec.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("encoding checkpoint for shard %d: %w", checkpoint.ShardID, err)
	}
	if err := os.MkdirAll(store.Directory, 0o700); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	path := store.path(checkpoint.ShardID)
	file, err := os.CreateTemp(store.Directory, ".shard-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary checkpoint: %w", err)
	}
	temporaryPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary checkpoint: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary checkpoint: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary checkpoint: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming checkpoint into place: %w", err)
	}

	if directory, err := os.Open(store.Directory); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

// Load reads the shard's checkpoint.
func (store *FileCheckpointStore) Load(shardID int) (Checkpoint, bool, error) {
	data, err := os.ReadFile(store.path(shardID))
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}
	var checkpoint Checkpoint
	if err := codec.Unmarshal(data, &checkpoint); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parsing checkpoint %s: %w", store.path(shardID), err)
	}
	return checkpoint, true, nil
}

// Delete removes the shard's checkpoint. Deleting a missing checkpoint
// succeeds.
func (store *FileCheckpointStore) Delete(shardID int) error {
	err := os.Remove(store.path(shardID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Paths lists the checkpoint files in Directory, sorted by name.
func (store *FileCheckpointStore) Paths() ([]string, error) {
	entries, err := os.ReadDir(store.Directory)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.Type().IsRegular() && strings.HasPrefix(name, "shard-") && strings.HasSuffix(name, ".cbor") {
			paths = append(paths, filepath.Join(store.Directory, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// MemoryCheckpointStore keeps checkpoints in memory. Restarting a
// session inside the same process (Coordinator.Restart) resumes from
// it.
type MemoryCheckpointStore struct {
	mu          sync.Mutex
	checkpoints map[int]Checkpoint
}

func (store *MemoryCheckpointStore) Save(checkpoint Checkpoint) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.checkpoints == nil {
		store.checkpoints = make(map[int]Checkpoint)
	}
	store.checkpoints[checkpoint.ShardID] = checkpoint
	return nil
}

func (store *MemoryCheckpointStore) Load(shardID int) (Checkpoint, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	checkpoint, ok := store.checkpoints[shardID]
	return checkpoint, ok, nil
}

func (store *MemoryCheckpointStore) Delete(shardID int) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.checkpoints, shardID)
	return nil
}
