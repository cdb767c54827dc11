// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import "sync"

// outbox holds commands waiting for a Ready connection and for send
// budget. A newer presence replaces a pending one, and a newer voice
// state for a guild replaces that guild's pending update, each keeping
// its place in line.
type outbox struct {
	mu       sync.Mutex
	commands []command
	nextID   uint64

	// notify has capacity 1 and is signaled on every change.
	notify chan struct{}
}

type command struct {
	id      uint64
	op      Opcode
	key     string
	payload any
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

func (box *outbox) signal() {
	select {
	case box.notify <- struct{}{}:
	default:
	}
}

// putLocked replaces the command with the same key, or appends.
func (box *outbox) putLocked(op Opcode, key string, payload any) {
	box.nextID++
	entry := command{id: box.nextID, op: op, key: key, payload: payload}
	if key != "" {
		for index := range box.commands {
			if box.commands[index].key == key {
				box.commands[index] = entry
				return
			}
		}
	}
	box.commands = append(box.commands, entry)
}

func (box *outbox) setPresence(presence PresenceUpdate) {
	box.mu.Lock()
	box.putLocked(OpPresenceUpdate, "presence", presence)
	box.mu.Unlock()
	box.signal()
}

func (box *outbox) setVoiceState(update VoiceStateUpdate) {
	box.mu.Lock()
	box.putLocked(OpVoiceStateUpdate, "voice:"+update.GuildID, update)
	box.mu.Unlock()
	box.signal()
}

func (box *outbox) addMemberRequest(request RequestGuildMembers) {
	box.mu.Lock()
	box.putLocked(OpRequestGuildMembers, "", request)
	box.mu.Unlock()
	box.signal()
}

// takePresence removes the pending presence so identify can carry it.
func (box *outbox) takePresence() (PresenceUpdate, bool) {
	box.mu.Lock()
	defer box.mu.Unlock()
	for index, entry := range box.commands {
		if entry.key == "presence" {
			box.commands = append(box.commands[:index], box.commands[index+1:]...)
			return entry.payload.(PresenceUpdate), true
		}
	}
	return PresenceUpdate{}, false
}

func (box *outbox) peek() (command, bool) {
	box.mu.Lock()
	defer box.mu.Unlock()
	if len(box.commands) == 0 {
		return command{}, false
	}
	return box.commands[0], true
}

// pop removes the command with id if it is still first. A command
// replaced after peek stays queued so its newer payload is sent too.
func (box *outbox) pop(id uint64) {
	box.mu.Lock()
	defer box.mu.Unlock()
	if len(box.commands) > 0 && box.commands[0].id == id {
		box.commands = box.commands[1:]
	}
}

func (box *outbox) len() int {
	box.mu.Lock()
	defer box.mu.Unlock()
	return len(box.commands)
}
