// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package messaging

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/sync"
)

// A Gate brackets client operations on a connection. While open it admits
// any number of concurrent enterers without blocking; closing stops new
// entries and waits for the current ones to leave. If the closer cannot wait
// long enough it arms a latch instead, and the last enterer out runs it.
type Gate struct {
	clock       clockwork.Clock
	mut         sync.Mutex
	open        bool
	enterers    int
	changed     chan struct{} // closed and replaced when enterers or open changes
	closeOnExit func()
}

func newGate(clock clockwork.Clock) *Gate {
	return &Gate{
		clock:   clock,
		mut:     sync.NewMutex(),
		open:    true,
		changed: make(chan struct{}),
	}
}

// Enter admits the caller, or fails with ErrConnectionClosed when the gate
// is closed. Never blocks while the gate is open; entries are counted, not
// tied to goroutine identity, so nested Enter/Exit pairs are fine.
func (g *Gate) Enter() error {
	g.mut.Lock()
	defer g.mut.Unlock()
	if !g.open {
		return grid.ErrConnectionClosed
	}
	g.enterers++
	return nil
}

// Exit marks the caller as done. The last one out runs the close-on-exit
// latch, if armed.
func (g *Gate) Exit() {
	g.mut.Lock()
	if g.enterers <= 0 {
		g.mut.Unlock()
		panic("gate exit without enter")
	}
	g.enterers--
	g.broadcast()
	var latch func()
	if g.enterers == 0 && g.closeOnExit != nil {
		latch = g.closeOnExit
		g.closeOnExit = nil
	}
	g.mut.Unlock()

	if latch != nil {
		latch()
	}
}

// broadcast must be called with the mutex held.
func (g *Gate) broadcast() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// Close shuts the gate and waits up to timeout for current enterers to
// leave; timeout <= 0 waits forever. On timeout it arms onExit to be run by
// the last exiter and returns false.
func (g *Gate) Close(timeout time.Duration, onExit func()) bool {
	g.mut.Lock()
	g.open = false
	g.broadcast()

	var deadlineC <-chan time.Time
	if timeout > 0 {
		timer := g.clock.NewTimer(timeout)
		defer timer.Stop()
		deadlineC = timer.Chan()
	}

	for g.enterers > 0 {
		ch := g.changed
		g.mut.Unlock()
		select {
		case <-ch:
		case <-deadlineC:
			g.mut.Lock()
			if g.enterers > 0 {
				g.closeOnExit = onExit
				g.mut.Unlock()
				return false
			}
			g.mut.Unlock()
			return true
		}
		g.mut.Lock()
	}
	g.mut.Unlock()
	return true
}

// Shut closes the gate without waiting for enterers to leave and without
// arming a latch. Used on hard teardown, where pending operations fail
// through their own error paths.
func (g *Gate) Shut() {
	g.mut.Lock()
	g.open = false
	g.closeOnExit = nil
	g.broadcast()
	g.mut.Unlock()
}

// Reopen reopens a closed gate and clears any armed latch.
func (g *Gate) Reopen() {
	g.mut.Lock()
	g.open = true
	g.closeOnExit = nil
	g.broadcast()
	g.mut.Unlock()
}
