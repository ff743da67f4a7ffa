// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cache implements the in-process cache engine: a sized, expiring,
// observable key/value map with indices, queries, entry processors,
// aggregators and lock leases, behaviorally identical to the remote cache so
// applications can address either transparently.
package cache

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rcrowley/go-metrics"

	"github.com/gridlink/gridlink/lib/events"
	"github.com/gridlink/gridlink/lib/filters"
	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/sync"
	"github.com/gridlink/gridlink/lib/values"
)

var errDestroyed = errors.New("cache has been destroyed")

type entry struct {
	key       values.Value
	value     values.Value
	units     int64
	expiresAt time.Time // zero means never
	inserted  int64     // tick at insert
	touched   int64     // tick at last access
	touches   int64
}

// A LocalCache is the in-process grid.NamedCache. Mutations commit under one
// mutex; listener events are handed to the dispatcher after the mutex is
// released, in commit order.
type LocalCache struct {
	name   string
	cfg    Config
	clock  clockwork.Clock
	disp   *events.Dispatcher
	policy EvictionPolicy
	calc   UnitCalculator
	locks  *lockTable

	mut        sync.Mutex
	destroyed  bool
	entries    map[values.Key]*entry
	totalUnits int64
	tick       int64
	listeners  *listenerRegistry
	indices    map[string]*index

	hits, misses, puts, removes, evictions, expiries metrics.Counter
}

// An Option adjusts a LocalCache at construction.
type Option func(*LocalCache)

// WithEvictionPolicy supplies the implementation for the "external"
// eviction policy.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(c *LocalCache) { c.policy = p }
}

// WithUnitCalculator supplies the implementation for the "external" unit
// calculator.
func WithUnitCalculator(uc UnitCalculator) Option {
	return func(c *LocalCache) { c.calc = uc }
}

func NewLocalCache(name string, cfg Config, clock clockwork.Clock, disp *events.Dispatcher, opts ...Option) (*LocalCache, error) {
	c := &LocalCache{
		name:      name,
		cfg:       cfg,
		clock:     clock,
		disp:      disp,
		locks:     newLockTable(clock),
		mut:       sync.NewMutex(),
		entries:   make(map[values.Key]*entry),
		listeners: newListenerRegistry(),
		indices:   make(map[string]*index),
	}
	for _, opt := range opts {
		opt(c)
	}
	var err error
	if c.policy, err = policyByName(cfg.EvictionPolicy, c.policy); err != nil {
		return nil, err
	}
	if c.calc, err = calculatorByName(cfg.UnitCalculator, c.calc); err != nil {
		return nil, err
	}

	prefix := "gridlink.cache." + name + "."
	c.hits = metrics.GetOrRegisterCounter(prefix+"hits", nil)
	c.misses = metrics.GetOrRegisterCounter(prefix+"misses", nil)
	c.puts = metrics.GetOrRegisterCounter(prefix+"puts", nil)
	c.removes = metrics.GetOrRegisterCounter(prefix+"removes", nil)
	c.evictions = metrics.GetOrRegisterCounter(prefix+"evictions", nil)
	c.expiries = metrics.GetOrRegisterCounter(prefix+"expiries", nil)
	return c, nil
}

func (c *LocalCache) Name() string { return c.name }

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Size      int
	Units     int64
	Hits      int64
	Misses    int64
	Puts      int64
	Removes   int64
	Evictions int64
	Expiries  int64
}

func (c *LocalCache) Stats() Stats {
	c.mut.Lock()
	size := len(c.entries)
	units := c.totalUnits
	c.mut.Unlock()
	return Stats{
		Size:      size,
		Units:     units,
		Hits:      c.hits.Count(),
		Misses:    c.misses.Count(),
		Puts:      c.puts.Count(),
		Removes:   c.removes.Count(),
		Evictions: c.evictions.Count(),
		Expiries:  c.expiries.Count(),
	}
}

// A delivery pairs a committed event with the listener snapshot taken at
// commit time, so registrations racing the dispatch do not shift delivery.
type delivery struct {
	ev   grid.MapEvent
	regs []listenerReg
}

func (c *LocalCache) newDeliveryLocked(ev grid.MapEvent) delivery {
	return delivery{ev: ev, regs: c.listeners.matching(ev)}
}

// dispatch hands committed events to the dispatcher, one task per batch so
// per-mutation order is preserved. Listener panics are contained per
// listener.
func (c *LocalCache) dispatch(deliveries []delivery) {
	if len(deliveries) == 0 {
		return
	}
	c.disp.Dispatch(func() {
		for _, d := range deliveries {
			for _, reg := range d.regs {
				c.notify(reg, d.ev)
			}
		}
	})
}

func (c *LocalCache) notify(reg listenerReg, ev grid.MapEvent) {
	defer func() {
		if r := recover(); r != nil {
			l.Warnf("cache %s: listener panicked on %v event for %v: %v", c.name, ev.Type, ev.Key, r)
			events.Default.Log(events.ListenerPanic, map[string]string{
				"cache": c.name,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	if reg.lite {
		ev.OldValue = values.None()
		ev.NewValue = values.None()
		ev.Lite = true
	}
	reg.lis.OnMapEvent(ev)
}

func (c *LocalCache) nextTickLocked() int64 {
	c.tick++
	return c.tick
}

func (c *LocalCache) touchLocked(e *entry) {
	e.touches++
	e.touched = c.nextTickLocked()
}

func (c *LocalCache) expiredLocked(e *entry) bool {
	return !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt)
}

// removeEntryLocked unlinks an entry from the map and every index and
// returns the resulting delivery.
func (c *LocalCache) removeEntryLocked(e *entry, cause grid.EventCause) delivery {
	delete(c.entries, e.key.MapKey())
	c.totalUnits -= e.units
	for _, ix := range c.indices {
		ix.remove(grid.Entry{Key: e.key, Value: e.value})
	}
	switch cause {
	case grid.CauseExpired:
		c.expiries.Inc(1)
	case grid.CauseEvicted:
		c.evictions.Inc(1)
	}
	return c.newDeliveryLocked(grid.MapEvent{
		Cache:    c.name,
		Type:     grid.EntryDeleted,
		Key:      e.key,
		OldValue: e.value,
		Cause:    cause,
	})
}

// expireLocked handles lazy expiry for a single entry found by a read.
func (c *LocalCache) expireLocked(e *entry) delivery {
	l.Debugf("cache %s: entry %v expired", c.name, e.key)
	return c.removeEntryLocked(e, grid.CauseExpired)
}

// sweepLocked removes every expired entry.
func (c *LocalCache) sweepLocked() []delivery {
	var out []delivery
	for _, e := range c.entries {
		if c.expiredLocked(e) {
			out = append(out, c.expireLocked(e))
		}
	}
	return out
}

// evictLocked prunes the cache to LowUnits when the HighUnits bound is
// exceeded, expired entries first, then by ascending policy rank.
func (c *LocalCache) evictLocked() []delivery {
	if c.cfg.HighUnits <= 0 || c.totalUnits <= c.cfg.HighUnits {
		return nil
	}
	out := c.sweepLocked()
	low := c.cfg.LowUnits()
	if c.totalUnits <= low {
		return out
	}

	type candidate struct {
		e    *entry
		rank float64
	}
	now := c.tick
	cands := make([]candidate, 0, len(c.entries))
	for _, e := range c.entries {
		cands = append(cands, candidate{e: e, rank: c.policy.Rank(EntryStats{
			Key:       e.key,
			Units:     e.units,
			Inserted:  e.inserted,
			LastTouch: e.touched,
			Touches:   e.touches,
		}, now)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].rank < cands[j].rank })
	for _, cand := range cands {
		if c.totalUnits <= low {
			break
		}
		out = append(out, c.removeEntryLocked(cand.e, grid.CauseEvicted))
	}
	return out
}

func (c *LocalCache) expiresAt(expiry time.Duration) time.Time {
	if expiry == grid.ExpiryDefault {
		expiry = c.cfg.DefaultExpiry()
	}
	if expiry <= 0 {
		return time.Time{} // never
	}
	return c.clock.Now().Add(expiry)
}

// --- Reads ---

func (c *LocalCache) Get(key values.Value) (values.Value, bool, error) {
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		return values.None(), false, errDestroyed
	}
	e := c.entries[key.MapKey()]
	if e == nil {
		c.mut.Unlock()
		c.misses.Inc(1)
		return values.None(), false, nil
	}
	if c.expiredLocked(e) {
		d := c.expireLocked(e)
		c.mut.Unlock()
		c.dispatch([]delivery{d})
		// The expiry event is observable before the read returns.
		c.disp.Flush()
		c.misses.Inc(1)
		return values.None(), false, nil
	}
	c.touchLocked(e)
	v := e.value
	c.mut.Unlock()
	c.hits.Inc(1)
	return v, true, nil
}

func (c *LocalCache) GetAll(keys []values.Value) ([]grid.Entry, error) {
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		return nil, errDestroyed
	}
	var out []grid.Entry
	var deliveries []delivery
	for _, key := range keys {
		e := c.entries[key.MapKey()]
		if e == nil {
			c.misses.Inc(1)
			continue
		}
		if c.expiredLocked(e) {
			deliveries = append(deliveries, c.expireLocked(e))
			c.misses.Inc(1)
			continue
		}
		c.touchLocked(e)
		c.hits.Inc(1)
		out = append(out, grid.Entry{Key: e.key, Value: e.value})
	}
	c.mut.Unlock()
	if len(deliveries) > 0 {
		c.dispatch(deliveries)
		c.disp.Flush()
	}
	return out, nil
}

func (c *LocalCache) ContainsKey(key values.Value) (bool, error) {
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		return false, errDestroyed
	}
	e := c.entries[key.MapKey()]
	if e == nil {
		c.mut.Unlock()
		return false, nil
	}
	if c.expiredLocked(e) {
		d := c.expireLocked(e)
		c.mut.Unlock()
		c.dispatch([]delivery{d})
		c.disp.Flush()
		return false, nil
	}
	c.mut.Unlock()
	return true, nil
}

func (c *LocalCache) Size() (int, error) {
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		return 0, errDestroyed
	}
	deliveries := c.sweepLocked()
	n := len(c.entries)
	c.mut.Unlock()
	if len(deliveries) > 0 {
		c.dispatch(deliveries)
		c.disp.Flush()
	}
	return n, nil
}

// --- Mutations ---
//
// Every mutation registers with the lock table and waits out the global
// lease before committing. Event dispatch happens after deregistering.

func (c *LocalCache) Put(key, value values.Value) (values.Value, error) {
	return c.PutWithExpiry(key, value, grid.ExpiryDefault)
}

func (c *LocalCache) PutWithExpiry(key, value values.Value, expiry time.Duration) (values.Value, error) {
	c.locks.beginMutation()
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		c.locks.endMutation()
		return values.None(), errDestroyed
	}
	old, deliveries := c.putLocked(key, value, c.expiresAt(expiry))
	deliveries = append(deliveries, c.evictLocked()...)
	c.mut.Unlock()
	c.locks.endMutation()
	c.dispatch(deliveries)
	c.puts.Inc(1)
	return old, nil
}

func (c *LocalCache) PutAll(entries []grid.Entry) error {
	c.locks.beginMutation()
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		c.locks.endMutation()
		return errDestroyed
	}
	var deliveries []delivery
	expiresAt := c.expiresAt(grid.ExpiryDefault)
	for _, e := range entries {
		_, ds := c.putLocked(e.Key, e.Value, expiresAt)
		deliveries = append(deliveries, ds...)
	}
	deliveries = append(deliveries, c.evictLocked()...)
	c.mut.Unlock()
	c.locks.endMutation()
	c.dispatch(deliveries)
	c.puts.Inc(int64(len(entries)))
	return nil
}

// putLocked commits an insert or update and returns the previous value.
// An expired previous entry counts as absent and produces its own expiry
// event first.
func (c *LocalCache) putLocked(key, value values.Value, expiresAt time.Time) (values.Value, []delivery) {
	var deliveries []delivery
	k := key.MapKey()
	e := c.entries[k]
	if e != nil && c.expiredLocked(e) {
		deliveries = append(deliveries, c.expireLocked(e))
		e = nil
	}

	units := c.calc.Units(key, value)
	old := values.None()
	if e != nil {
		old = e.value
		c.totalUnits += units - e.units
		e.value = value
		e.units = units
		e.expiresAt = expiresAt
		c.touchLocked(e)
		deliveries = append(deliveries, c.newDeliveryLocked(grid.MapEvent{
			Cache:    c.name,
			Type:     grid.EntryUpdated,
			Key:      key,
			OldValue: old,
			NewValue: value,
		}))
	} else {
		tick := c.nextTickLocked()
		e = &entry{
			key:       key,
			value:     value,
			units:     units,
			expiresAt: expiresAt,
			inserted:  tick,
			touched:   tick,
			touches:   1,
		}
		c.entries[k] = e
		c.totalUnits += units
		deliveries = append(deliveries, c.newDeliveryLocked(grid.MapEvent{
			Cache:    c.name,
			Type:     grid.EntryInserted,
			Key:      key,
			NewValue: value,
		}))
	}
	for _, ix := range c.indices {
		ix.update(grid.Entry{Key: key, Value: value})
	}
	return old, deliveries
}

func (c *LocalCache) Remove(key values.Value) (values.Value, error) {
	c.locks.beginMutation()
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		c.locks.endMutation()
		return values.None(), errDestroyed
	}
	e := c.entries[key.MapKey()]
	if e == nil {
		c.mut.Unlock()
		c.locks.endMutation()
		return values.None(), nil
	}
	if c.expiredLocked(e) {
		d := c.expireLocked(e)
		c.mut.Unlock()
		c.locks.endMutation()
		c.dispatch([]delivery{d})
		c.disp.Flush()
		return values.None(), nil
	}
	old := e.value
	d := c.removeEntryLocked(e, grid.CauseRegular)
	c.mut.Unlock()
	c.locks.endMutation()
	c.dispatch([]delivery{d})
	c.removes.Inc(1)
	return old, nil
}

func (c *LocalCache) Clear() error {
	c.locks.beginMutation()
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		c.locks.endMutation()
		return errDestroyed
	}
	deliveries := c.sweepLocked()
	for _, e := range c.entries {
		deliveries = append(deliveries, c.removeEntryLocked(e, grid.CauseRegular))
	}
	c.mut.Unlock()
	c.locks.endMutation()
	c.dispatch(deliveries)
	return nil
}

// Truncate is a remote-only operation.
func (c *LocalCache) Truncate() error {
	return grid.WrapError(grid.ErrUnsupported, errors.New("truncate on a local cache"))
}

// --- Queries ---

// selectLocked returns the live entries matching f, via an index when the
// filter is index-aware and a complete index exists, otherwise by scan.
func (c *LocalCache) selectLocked(f grid.Filter) []*entry {
	if ia, ok := f.(filters.IndexAware); ok {
		if id, match, ok := ia.IndexLookup(); ok {
			if ix := c.indices[id]; ix != nil && !ix.partial {
				keys := ix.lookup(match)
				out := make([]*entry, 0, len(keys))
				for _, key := range keys {
					if e := c.entries[key.MapKey()]; e != nil {
						out = append(out, e)
					}
				}
				l.Debugf("cache %s: query answered from index %s (%d hits)", c.name, id, len(out))
				return out
			}
		}
	}
	var out []*entry
	for _, e := range c.entries {
		if f == nil || f.Evaluate(grid.Entry{Key: e.key, Value: e.value}) {
			out = append(out, e)
		}
	}
	return out
}

func (c *LocalCache) query(f grid.Filter) ([]*entry, error) {
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		return nil, errDestroyed
	}
	deliveries := c.sweepLocked()
	selected := c.selectLocked(f)
	c.mut.Unlock()
	if len(deliveries) > 0 {
		c.dispatch(deliveries)
		c.disp.Flush()
	}
	return selected, nil
}

func (c *LocalCache) Keys(f grid.Filter) ([]values.Value, error) {
	selected, err := c.query(f)
	if err != nil {
		return nil, err
	}
	out := make([]values.Value, 0, len(selected))
	for _, e := range selected {
		out = append(out, e.key)
	}
	return out, nil
}

func (c *LocalCache) Entries(f grid.Filter) ([]grid.Entry, error) {
	selected, err := c.query(f)
	if err != nil {
		return nil, err
	}
	out := make([]grid.Entry, 0, len(selected))
	for _, e := range selected {
		out = append(out, grid.Entry{Key: e.key, Value: e.value})
	}
	return out, nil
}

func (c *LocalCache) Values(f grid.Filter, comp grid.Comparator) ([]values.Value, error) {
	selected, err := c.query(f)
	if err != nil {
		return nil, err
	}
	out := make([]values.Value, 0, len(selected))
	for _, e := range selected {
		out = append(out, e.value)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if comp != nil {
			return comp.Compare(out[i], out[j]) < 0
		}
		return out[i].Compare(out[j]) < 0
	})
	return out, nil
}

// --- Entry processors ---

type entryView struct {
	key     values.Value
	value   values.Value
	present bool
	dirty   bool
	removed bool
}

func (v *entryView) Key() values.Value   { return v.key }
func (v *entryView) Value() values.Value { return v.value }
func (v *entryView) Present() bool       { return v.present }

func (v *entryView) SetValue(nv values.Value) {
	v.value = nv
	v.present = true
	v.dirty = true
	v.removed = false
}

func (v *entryView) Remove() {
	v.value = values.None()
	v.present = false
	v.dirty = true
	v.removed = true
}

// invokeLocked runs proc against one key and commits its effect. The cache
// mutex is held throughout, which is what makes the invocation atomic;
// processors must not call back into the cache.
func (c *LocalCache) invokeLocked(key values.Value, proc grid.EntryProcessor) (values.Value, []delivery, error) {
	var deliveries []delivery
	e := c.entries[key.MapKey()]
	if e != nil && c.expiredLocked(e) {
		deliveries = append(deliveries, c.expireLocked(e))
		e = nil
	}

	view := &entryView{key: key}
	if e != nil {
		view.value = e.value
		view.present = true
	}
	result, err := proc.Process(view)
	if err != nil {
		return values.None(), deliveries, err
	}
	if view.dirty {
		switch {
		case view.removed && e != nil:
			deliveries = append(deliveries, c.removeEntryLocked(e, grid.CauseRegular))
		case !view.removed:
			_, ds := c.putLocked(key, view.value, c.expiresAt(grid.ExpiryDefault))
			deliveries = append(deliveries, ds...)
		}
	}
	return result, deliveries, nil
}

func (c *LocalCache) Invoke(key values.Value, proc grid.EntryProcessor) (values.Value, error) {
	c.locks.beginMutation()
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		c.locks.endMutation()
		return values.None(), errDestroyed
	}
	result, deliveries, err := c.invokeLocked(key, proc)
	if err == nil {
		deliveries = append(deliveries, c.evictLocked()...)
	}
	c.mut.Unlock()
	c.locks.endMutation()
	c.dispatch(deliveries)
	return result, err
}

func (c *LocalCache) InvokeAllKeys(keys []values.Value, proc grid.EntryProcessor) ([]grid.Entry, error) {
	c.locks.beginMutation()
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		c.locks.endMutation()
		return nil, errDestroyed
	}
	var out []grid.Entry
	var deliveries []delivery
	for _, key := range keys {
		result, ds, err := c.invokeLocked(key, proc)
		deliveries = append(deliveries, ds...)
		if err != nil {
			c.mut.Unlock()
			c.locks.endMutation()
			c.dispatch(deliveries)
			return nil, err
		}
		out = append(out, grid.Entry{Key: key, Value: result})
	}
	deliveries = append(deliveries, c.evictLocked()...)
	c.mut.Unlock()
	c.locks.endMutation()
	c.dispatch(deliveries)
	return out, nil
}

func (c *LocalCache) InvokeAllFilter(f grid.Filter, proc grid.EntryProcessor) ([]grid.Entry, error) {
	c.locks.beginMutation()
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		c.locks.endMutation()
		return nil, errDestroyed
	}
	deliveries := c.sweepLocked()
	selected := c.selectLocked(f)
	keys := make([]values.Value, 0, len(selected))
	for _, e := range selected {
		keys = append(keys, e.key)
	}
	var out []grid.Entry
	for _, key := range keys {
		result, ds, err := c.invokeLocked(key, proc)
		deliveries = append(deliveries, ds...)
		if err != nil {
			c.mut.Unlock()
			c.locks.endMutation()
			c.dispatch(deliveries)
			return nil, err
		}
		out = append(out, grid.Entry{Key: key, Value: result})
	}
	deliveries = append(deliveries, c.evictLocked()...)
	c.mut.Unlock()
	c.locks.endMutation()
	c.dispatch(deliveries)
	return out, nil
}

// --- Aggregators ---

func (c *LocalCache) AggregateKeys(keys []values.Value, agg grid.Aggregator) (values.Value, error) {
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		return values.None(), errDestroyed
	}
	agg.Init(true)
	for _, key := range keys {
		e := c.entries[key.MapKey()]
		if e == nil || c.expiredLocked(e) {
			continue
		}
		agg.Process(e.value, true)
	}
	c.mut.Unlock()
	return agg.Finalize(true)
}

func (c *LocalCache) AggregateFilter(f grid.Filter, agg grid.Aggregator) (values.Value, error) {
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		return values.None(), errDestroyed
	}
	agg.Init(true)
	for _, e := range c.selectLocked(f) {
		if c.expiredLocked(e) {
			continue
		}
		agg.Process(e.value, true)
	}
	c.mut.Unlock()
	return agg.Finalize(true)
}

// --- Indices ---

func (c *LocalCache) AddIndex(extr grid.Extractor, ordered bool, comp grid.Comparator) error {
	return c.addIndex(extr, ordered, comp, nil)
}

// AddConditionalIndex builds an index covering only the entries the filter
// accepts. Such an index goes partial when entries are rejected and is then
// no longer consulted by queries.
func (c *LocalCache) AddConditionalIndex(extr grid.Extractor, ordered bool, comp grid.Comparator, filter grid.Filter) error {
	return c.addIndex(extr, ordered, comp, filter)
}

func (c *LocalCache) addIndex(extr grid.Extractor, ordered bool, comp grid.Comparator, filter grid.Filter) error {
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		return errDestroyed
	}
	id := extr.ID()
	if _, exists := c.indices[id]; exists {
		c.mut.Unlock()
		return nil
	}
	ix := newIndex(extr, ordered, comp, filter)
	for _, e := range c.entries {
		if c.expiredLocked(e) {
			continue
		}
		ix.update(grid.Entry{Key: e.key, Value: e.value})
	}
	c.indices[id] = ix
	c.mut.Unlock()

	l.Debugf("cache %s: added index %s (ordered=%v, partial=%v)", c.name, id, ordered, ix.partial)
	events.Default.Log(events.IndexAdded, map[string]string{
		"cache":     c.name,
		"extractor": id,
	})
	return nil
}

func (c *LocalCache) RemoveIndex(extr grid.Extractor) error {
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		return errDestroyed
	}
	id := extr.ID()
	_, existed := c.indices[id]
	delete(c.indices, id)
	c.mut.Unlock()

	if existed {
		events.Default.Log(events.IndexRemoved, map[string]string{
			"cache":     c.name,
			"extractor": id,
		})
	}
	return nil
}

// --- Listeners ---

func (c *LocalCache) AddListener(lis grid.MapListener, lite bool) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.destroyed {
		return errDestroyed
	}
	c.listeners.addGlobal(lis, lite)
	return nil
}

func (c *LocalCache) RemoveListener(lis grid.MapListener) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.listeners.removeGlobal(lis)
	return nil
}

func (c *LocalCache) AddKeyListener(lis grid.MapListener, key values.Value, lite bool) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.destroyed {
		return errDestroyed
	}
	c.listeners.addKey(lis, key, lite)
	return nil
}

func (c *LocalCache) RemoveKeyListener(lis grid.MapListener, key values.Value) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.listeners.removeKey(lis, key)
	return nil
}

func (c *LocalCache) AddFilterListener(lis grid.MapListener, filter grid.Filter, lite bool) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.destroyed {
		return errDestroyed
	}
	c.listeners.addFilter(lis, filter, lite)
	return nil
}

func (c *LocalCache) RemoveFilterListener(lis grid.MapListener, filter grid.Filter) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.listeners.removeFilter(lis, filter)
	return nil
}

// --- Locks ---

func (c *LocalCache) Lock(key values.Value, owner grid.LockOwner, wait time.Duration) (bool, error) {
	if c.isDestroyed() {
		return false, errDestroyed
	}
	return c.locks.lock(key, owner, wait), nil
}

func (c *LocalCache) Unlock(key values.Value, owner grid.LockOwner) (bool, error) {
	return c.locks.unlock(key, owner), nil
}

// LockAll acquires the global lease, which conflicts with every key lease.
func (c *LocalCache) LockAll(owner grid.LockOwner, wait time.Duration) (bool, error) {
	if c.isDestroyed() {
		return false, errDestroyed
	}
	return c.locks.lockAll(owner, wait), nil
}

func (c *LocalCache) UnlockAll(owner grid.LockOwner) (bool, error) {
	return c.locks.unlockAll(owner), nil
}

func (c *LocalCache) isDestroyed() bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.destroyed
}

// --- Lifecycle ---

// Release detaches the handle. The local engine keeps its contents; the
// owning service may hand the same cache out again.
func (c *LocalCache) Release() error {
	events.Default.Log(events.CacheReleased, map[string]string{"cache": c.name})
	return nil
}

// Destroy drops all contents and poisons the handle. No per-entry events
// fire; destruction is announced through the lifecycle event stream.
func (c *LocalCache) Destroy() error {
	c.mut.Lock()
	if c.destroyed {
		c.mut.Unlock()
		return nil
	}
	c.destroyed = true
	c.entries = make(map[values.Key]*entry)
	c.totalUnits = 0
	c.indices = make(map[string]*index)
	c.mut.Unlock()

	events.Default.Log(events.CacheDestroyed, map[string]string{"cache": c.name})
	return nil
}
