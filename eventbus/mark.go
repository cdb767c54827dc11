// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventbus

import "sync/atomic"

// Handleable is implemented by events that a handler can claim.
type Handleable interface {
	Handled() bool
}

// Mark is embedded in event structs to make them Handleable. Publish
// such events by pointer so every handler sees the same flag.
//
//	type MessageCreate struct {
//	    eventbus.Mark
//	    ...
//	}
type Mark struct {
	handled atomic.Bool
}

// MarkHandled claims the event. Handlers after the current one are
// skipped for this publish.
func (mark *Mark) MarkHandled() { mark.handled.Store(true) }

// Handled reports whether a handler claimed the event.
func (mark *Mark) Handled() bool { return mark.handled.Load() }

func handled(event any) bool {
	handleable, ok := event.(Handleable)
	return ok && handleable.Handled()
}
