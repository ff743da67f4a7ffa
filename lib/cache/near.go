// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/values"
)

// A NearCache fronts another cache with a small LRU map. Reads populate the
// front; every event from the back cache invalidates the affected front
// entry, so a front hit is at worst as stale as the event propagation
// delay. Writes go through to the back and invalidate locally.
type NearCache struct {
	back        grid.NamedCache
	front       *lru.Cache[values.Key, values.Value]
	invalidator *frontInvalidator
}

// frontInvalidator is a pointer type so Release can remove it again;
// listener removal matches by interface equality.
type frontInvalidator struct {
	front *lru.Cache[values.Key, values.Value]
}

func (i *frontInvalidator) OnMapEvent(ev grid.MapEvent) {
	i.front.Remove(ev.Key.MapKey())
}

func NewNear(frontSize int, back grid.NamedCache) (*NearCache, error) {
	front, err := lru.New[values.Key, values.Value](frontSize)
	if err != nil {
		return nil, err
	}
	nc := &NearCache{back: back, front: front, invalidator: &frontInvalidator{front: front}}
	// Lite is enough: invalidation only needs the key.
	if err := back.AddListener(nc.invalidator, true); err != nil {
		return nil, err
	}
	return nc, nil
}

func (n *NearCache) Name() string { return n.back.Name() }

// FrontLen reports how many entries the front map currently holds.
func (n *NearCache) FrontLen() int { return n.front.Len() }

func (n *NearCache) Get(key values.Value) (values.Value, bool, error) {
	if v, ok := n.front.Get(key.MapKey()); ok {
		return v, true, nil
	}
	v, ok, err := n.back.Get(key)
	if err != nil || !ok {
		return v, ok, err
	}
	n.front.Add(key.MapKey(), v)
	return v, true, nil
}

func (n *NearCache) GetAll(keys []values.Value) ([]grid.Entry, error) {
	var out []grid.Entry
	var missing []values.Value
	for _, key := range keys {
		if v, ok := n.front.Get(key.MapKey()); ok {
			out = append(out, grid.Entry{Key: key, Value: v})
		} else {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		fetched, err := n.back.GetAll(missing)
		if err != nil {
			return nil, err
		}
		for _, e := range fetched {
			n.front.Add(e.Key.MapKey(), e.Value)
		}
		out = append(out, fetched...)
	}
	return out, nil
}

func (n *NearCache) Put(key, value values.Value) (values.Value, error) {
	n.front.Remove(key.MapKey())
	return n.back.Put(key, value)
}

func (n *NearCache) PutWithExpiry(key, value values.Value, expiry time.Duration) (values.Value, error) {
	n.front.Remove(key.MapKey())
	return n.back.PutWithExpiry(key, value, expiry)
}

func (n *NearCache) PutAll(entries []grid.Entry) error {
	for _, e := range entries {
		n.front.Remove(e.Key.MapKey())
	}
	return n.back.PutAll(entries)
}

func (n *NearCache) Remove(key values.Value) (values.Value, error) {
	n.front.Remove(key.MapKey())
	return n.back.Remove(key)
}

func (n *NearCache) ContainsKey(key values.Value) (bool, error) {
	if _, ok := n.front.Get(key.MapKey()); ok {
		return true, nil
	}
	return n.back.ContainsKey(key)
}

func (n *NearCache) Size() (int, error) { return n.back.Size() }

func (n *NearCache) Clear() error {
	n.front.Purge()
	return n.back.Clear()
}

func (n *NearCache) Truncate() error {
	n.front.Purge()
	return n.back.Truncate()
}

func (n *NearCache) Keys(f grid.Filter) ([]values.Value, error) { return n.back.Keys(f) }

func (n *NearCache) Entries(f grid.Filter) ([]grid.Entry, error) { return n.back.Entries(f) }

func (n *NearCache) Values(f grid.Filter, comp grid.Comparator) ([]values.Value, error) {
	return n.back.Values(f, comp)
}

func (n *NearCache) Invoke(key values.Value, proc grid.EntryProcessor) (values.Value, error) {
	n.front.Remove(key.MapKey())
	return n.back.Invoke(key, proc)
}

func (n *NearCache) InvokeAllKeys(keys []values.Value, proc grid.EntryProcessor) ([]grid.Entry, error) {
	for _, key := range keys {
		n.front.Remove(key.MapKey())
	}
	return n.back.InvokeAllKeys(keys, proc)
}

func (n *NearCache) InvokeAllFilter(f grid.Filter, proc grid.EntryProcessor) ([]grid.Entry, error) {
	// The affected key set is unknown up front.
	n.front.Purge()
	return n.back.InvokeAllFilter(f, proc)
}

func (n *NearCache) AggregateKeys(keys []values.Value, agg grid.Aggregator) (values.Value, error) {
	return n.back.AggregateKeys(keys, agg)
}

func (n *NearCache) AggregateFilter(f grid.Filter, agg grid.Aggregator) (values.Value, error) {
	return n.back.AggregateFilter(f, agg)
}

func (n *NearCache) AddIndex(extr grid.Extractor, ordered bool, comp grid.Comparator) error {
	return n.back.AddIndex(extr, ordered, comp)
}

func (n *NearCache) RemoveIndex(extr grid.Extractor) error { return n.back.RemoveIndex(extr) }

func (n *NearCache) AddListener(lis grid.MapListener, lite bool) error {
	return n.back.AddListener(lis, lite)
}

func (n *NearCache) RemoveListener(lis grid.MapListener) error {
	return n.back.RemoveListener(lis)
}

func (n *NearCache) AddKeyListener(lis grid.MapListener, key values.Value, lite bool) error {
	return n.back.AddKeyListener(lis, key, lite)
}

func (n *NearCache) RemoveKeyListener(lis grid.MapListener, key values.Value) error {
	return n.back.RemoveKeyListener(lis, key)
}

func (n *NearCache) AddFilterListener(lis grid.MapListener, filter grid.Filter, lite bool) error {
	return n.back.AddFilterListener(lis, filter, lite)
}

func (n *NearCache) RemoveFilterListener(lis grid.MapListener, filter grid.Filter) error {
	return n.back.RemoveFilterListener(lis, filter)
}

func (n *NearCache) Lock(key values.Value, owner grid.LockOwner, wait time.Duration) (bool, error) {
	return n.back.Lock(key, owner, wait)
}

func (n *NearCache) Unlock(key values.Value, owner grid.LockOwner) (bool, error) {
	return n.back.Unlock(key, owner)
}

func (n *NearCache) Release() error {
	_ = n.back.RemoveListener(n.invalidator)
	n.front.Purge()
	return n.back.Release()
}

func (n *NearCache) Destroy() error {
	n.front.Purge()
	return n.back.Destroy()
}
