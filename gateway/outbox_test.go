// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import "testing"

func TestOutboxReplacesKeyedCommandsInPlace(t *testing.T) {
	box := newOutbox()
	channel := "100"
	box.setVoiceState(VoiceStateUpdate{GuildID: "1", ChannelID: &channel})
	box.addMemberRequest(RequestGuildMembers{GuildID: "1"})
	box.setPresence(PresenceUpdate{Status: "idle"})
	box.setVoiceState(VoiceStateUpdate{GuildID: "1"})
	box.setPresence(PresenceUpdate{Status: "dnd"})

	if box.len() != 3 {
		t.Fatalf("len = %d, want 3", box.len())
	}
	first, _ := box.peek()
	if first.op != OpVoiceStateUpdate || first.payload.(VoiceStateUpdate).ChannelID != nil {
		t.Errorf("first command = %+v, want the newer voice state", first)
	}

	presence, ok := box.takePresence()
	if !ok || presence.Status != "dnd" {
		t.Errorf("takePresence = %+v, %v", presence, ok)
	}
	if _, ok := box.takePresence(); ok {
		t.Error("presence taken twice")
	}
	if box.len() != 2 {
		t.Errorf("len after takePresence = %d", box.len())
	}
}

func TestOutboxPopSkipsReplacedCommand(t *testing.T) {
	box := newOutbox()
	box.setVoiceState(VoiceStateUpdate{GuildID: "1", SelfMute: true})
	first, _ := box.peek()

	// Replaced between peek and pop: the newer payload must still go out.
	box.setVoiceState(VoiceStateUpdate{GuildID: "1", SelfDeaf: true})
	box.pop(first.id)
	if box.len() != 1 {
		t.Fatalf("len = %d, want the replacement still queued", box.len())
	}
	next, _ := box.peek()
	if !next.payload.(VoiceStateUpdate).SelfDeaf {
		t.Errorf("queued payload = %+v", next.payload)
	}
	box.pop(next.id)
	if _, ok := box.peek(); ok {
		t.Error("outbox not empty")
	}
}

func TestOutboxSignalCoalesces(t *testing.T) {
	box := newOutbox()
	box.addMemberRequest(RequestGuildMembers{GuildID: "1"})
	box.addMemberRequest(RequestGuildMembers{GuildID: "2"})
	select {
	case <-box.notify:
	default:
		t.Fatal("no signal")
	}
	select {
	case <-box.notify:
		t.Error("second signal buffered")
	default:
	}
	if box.len() != 2 {
		t.Errorf("member requests coalesced: len %d", box.len())
	}
}
