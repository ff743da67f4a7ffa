// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package grid declares the shared contracts of the data grid client: the
// cache and invocation service surfaces, the entry, filter, extractor and
// listener model, and the error taxonomy. The local engine (lib/cache) and
// the remote facades (lib/remote) both implement these, so application code
// is location transparent.
package grid

import (
	"time"

	"github.com/gridlink/gridlink/lib/values"
)

// An Entry is a key/value pair from a cache.
type Entry struct {
	Key   values.Value
	Value values.Value
}

// A Filter selects entries. Built-in filters live in lib/filters and are
// portable for remote evaluation.
type Filter interface {
	Evaluate(e Entry) bool
}

// An Extractor derives a value from an entry, typically for indexing or
// filtering. ID returns a canonical identity; two extractors with equal IDs
// must extract identically, which is what index matching relies on.
type Extractor interface {
	Extract(e Entry) (values.Value, error)
	ID() string
}

// A Comparator imposes an ordering on values. A nil Comparator means the
// natural ordering of the values union.
type Comparator interface {
	Compare(a, b values.Value) int
}

// A LockOwner identifies the holder of a cache lock lease. The local engine
// uses caller supplied tokens; the remote engine keys by connection UUID.
type LockOwner string

// Expiry sentinels for PutWithExpiry.
const (
	// ExpiryDefault applies the cache's configured default expiry.
	ExpiryDefault time.Duration = 0
	// ExpiryNever disables expiry for the entry.
	ExpiryNever time.Duration = -1
)

// NamedCache is the full cache surface, identical for the local engine and
// the remote proxy-backed cache.
type NamedCache interface {
	Name() string

	Get(key values.Value) (values.Value, bool, error)
	GetAll(keys []values.Value) ([]Entry, error)
	Put(key, value values.Value) (values.Value, error)
	PutWithExpiry(key, value values.Value, expiry time.Duration) (values.Value, error)
	PutAll(entries []Entry) error
	Remove(key values.Value) (values.Value, error)
	ContainsKey(key values.Value) (bool, error)
	Size() (int, error)
	Clear() error

	// Truncate removes all entries without firing per-entry events. The
	// local engine does not support it.
	Truncate() error

	Keys(filter Filter) ([]values.Value, error)
	Entries(filter Filter) ([]Entry, error)
	Values(filter Filter, comp Comparator) ([]values.Value, error)

	Invoke(key values.Value, proc EntryProcessor) (values.Value, error)
	InvokeAllKeys(keys []values.Value, proc EntryProcessor) ([]Entry, error)
	InvokeAllFilter(filter Filter, proc EntryProcessor) ([]Entry, error)
	AggregateKeys(keys []values.Value, agg Aggregator) (values.Value, error)
	AggregateFilter(filter Filter, agg Aggregator) (values.Value, error)

	AddIndex(extr Extractor, ordered bool, comp Comparator) error
	RemoveIndex(extr Extractor) error

	AddListener(lis MapListener, lite bool) error
	RemoveListener(lis MapListener) error
	AddKeyListener(lis MapListener, key values.Value, lite bool) error
	RemoveKeyListener(lis MapListener, key values.Value) error
	AddFilterListener(lis MapListener, filter Filter, lite bool) error
	RemoveFilterListener(lis MapListener, filter Filter) error

	// Lock acquires an exclusive lease on key for owner. wait=0 returns
	// immediately, negative waits indefinitely. Unlock by a non-owner
	// fails silently (returns false).
	Lock(key values.Value, owner LockOwner, wait time.Duration) (bool, error)
	Unlock(key values.Value, owner LockOwner) (bool, error)

	// Release detaches this handle without affecting cache contents;
	// Destroy removes the cache from the grid.
	Release() error
	Destroy() error
}

// CacheService hands out NamedCache handles.
type CacheService interface {
	EnsureCache(name string) (NamedCache, error)
	DestroyCache(name string) error
	ReleaseCache(name string) error
}

// An Invocable is a task executed by the invocation service. Remote
// invocables must also be Portable so they can cross the wire.
type Invocable interface {
	Run() (values.Value, error)
}

// InvocationService executes invocables on the grid.
type InvocationService interface {
	Query(inv Invocable) (values.Value, error)
}
