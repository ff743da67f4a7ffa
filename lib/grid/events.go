// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package grid

import "github.com/gridlink/gridlink/lib/values"

type EventType int

const (
	EntryInserted EventType = iota + 1
	EntryUpdated
	EntryDeleted
)

func (t EventType) String() string {
	switch t {
	case EntryInserted:
		return "Inserted"
	case EntryUpdated:
		return "Updated"
	case EntryDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// EventCause records why a mutation happened.
type EventCause int

const (
	CauseRegular EventCause = iota
	CauseEvicted
	CauseExpired
	CauseSynthetic
)

func (c EventCause) String() string {
	switch c {
	case CauseRegular:
		return "regular"
	case CauseEvicted:
		return "evicted"
	case CauseExpired:
		return "expired"
	case CauseSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// A MapEvent describes one committed cache mutation. Lite events omit the
// old and new values.
type MapEvent struct {
	Cache    string
	Type     EventType
	Key      values.Value
	OldValue values.Value
	NewValue values.Value
	Cause    EventCause
	Lite     bool
}

// A MapListener receives cache events on the event dispatcher thread.
// Removal matches listeners by interface equality, so a listener that will
// be removed again must be a comparable type, typically a pointer.
type MapListener interface {
	OnMapEvent(ev MapEvent)
}

// MapListenerFunc adapts a function to MapListener.
type MapListenerFunc func(ev MapEvent)

func (f MapListenerFunc) OnMapEvent(ev MapEvent) { f(ev) }
