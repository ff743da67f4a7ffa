// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package cache

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/sync"
	"github.com/gridlink/gridlink/lib/values"
)

type lease struct {
	owner grid.LockOwner
	depth int
}

// The lock table hands out advisory per-key leases plus one global lease
// that conflicts with every key lease and with in-flight mutations. Leases
// are reentrant by owner.
type lockTable struct {
	clock     clockwork.Clock
	mut       sync.Mutex
	byKey     map[values.Key]*lease
	global    *lease
	mutations int           // in-flight cache mutations
	changed   chan struct{} // closed and replaced on any release
}

func newLockTable(clock clockwork.Clock) *lockTable {
	return &lockTable{
		clock:   clock,
		mut:     sync.NewMutex(),
		byKey:   make(map[values.Key]*lease),
		changed: make(chan struct{}),
	}
}

func (t *lockTable) broadcast() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// lock acquires the lease on key for owner. wait == 0 returns immediately,
// negative waits indefinitely.
func (t *lockTable) lock(key values.Value, owner grid.LockOwner, wait time.Duration) bool {
	k := key.MapKey()
	return t.acquire(wait, func() bool {
		if t.global != nil && t.global.owner != owner {
			return false
		}
		le := t.byKey[k]
		switch {
		case le == nil:
			t.byKey[k] = &lease{owner: owner, depth: 1}
			return true
		case le.owner == owner:
			le.depth++
			return true
		default:
			return false
		}
	})
}

func (t *lockTable) unlock(key values.Value, owner grid.LockOwner) bool {
	t.mut.Lock()
	defer t.mut.Unlock()
	k := key.MapKey()
	le := t.byKey[k]
	if le == nil || le.owner != owner {
		return false
	}
	le.depth--
	if le.depth == 0 {
		delete(t.byKey, k)
		t.broadcast()
	}
	return true
}

// lockAll acquires the global lease, which requires that nobody else holds
// any key lease.
func (t *lockTable) lockAll(owner grid.LockOwner, wait time.Duration) bool {
	return t.acquire(wait, func() bool {
		if t.global != nil {
			if t.global.owner != owner {
				return false
			}
			t.global.depth++
			return true
		}
		if t.mutations > 0 {
			return false
		}
		for _, le := range t.byKey {
			if le.owner != owner {
				return false
			}
		}
		t.global = &lease{owner: owner, depth: 1}
		return true
	})
}

// beginMutation registers a cache mutation with the table. Mutations carry
// no owner identity, so every mutation counts as a non-holder and waits out
// the global lease; conversely the global lease waits out in-flight
// mutations.
func (t *lockTable) beginMutation() {
	t.acquire(-1, func() bool {
		if t.global != nil {
			return false
		}
		t.mutations++
		return true
	})
}

func (t *lockTable) endMutation() {
	t.mut.Lock()
	t.mutations--
	if t.mutations == 0 {
		t.broadcast()
	}
	t.mut.Unlock()
}

func (t *lockTable) unlockAll(owner grid.LockOwner) bool {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.global == nil || t.global.owner != owner {
		return false
	}
	t.global.depth--
	if t.global.depth == 0 {
		t.global = nil
		t.broadcast()
	}
	return true
}

// acquire runs try under the mutex, retrying on lease releases until it
// succeeds or the wait budget runs out.
func (t *lockTable) acquire(wait time.Duration, try func() bool) bool {
	var deadlineC <-chan time.Time
	if wait > 0 {
		timer := t.clock.NewTimer(wait)
		defer timer.Stop()
		deadlineC = timer.Chan()
	}

	for {
		t.mut.Lock()
		if try() {
			t.mut.Unlock()
			return true
		}
		changed := t.changed
		t.mut.Unlock()

		if wait == 0 {
			return false
		}
		select {
		case <-changed:
		case <-deadlineC:
			// One last try; the release may have raced the deadline.
			t.mut.Lock()
			ok := try()
			t.mut.Unlock()
			return ok
		}
	}
}
