// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package remote

import (
	"sort"
	"time"

	"github.com/gridlink/gridlink/lib/events"
	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/messaging"
	"github.com/gridlink/gridlink/lib/serializer"
	"github.com/gridlink/gridlink/lib/sync"
	"github.com/gridlink/gridlink/lib/values"
)

// NamedCache is the client facade for one remote cache, carried by a
// dedicated channel on the service's connection. Values are serialized at
// this boundary with the channel's negotiated serializer. Listener matching
// is mirrored locally: the proxy relays every event once and the facade
// fans it out to the interested registrations through the runtime's
// dispatcher.
type NamedCache struct {
	name string
	svc  *CacheService

	mut      sync.Mutex
	ch       *messaging.Channel
	ser      serializer.Serializer
	detached bool

	nextOrder int64
	global    []registration
	byKey     map[values.Key][]registration
	byFilter  []filterRegistration
}

type registration struct {
	lis   grid.MapListener
	lite  bool
	order int64
}

type filterRegistration struct {
	registration
	filter grid.Filter
}

func newNamedCache(name string, svc *CacheService) *NamedCache {
	return &NamedCache{
		name:  name,
		svc:   svc,
		mut:   sync.NewMutex(),
		byKey: make(map[values.Key][]registration),
	}
}

func (c *NamedCache) attach(ch *messaging.Channel) {
	c.mut.Lock()
	c.ch = ch
	c.ser = ch.Serializer()
	c.mut.Unlock()
}

// detach closes the cache channel and poisons the handle.
func (c *NamedCache) detach() {
	c.mut.Lock()
	if c.detached {
		c.mut.Unlock()
		return
	}
	c.detached = true
	ch := c.ch
	c.global = nil
	c.byKey = make(map[values.Key][]registration)
	c.byFilter = nil
	c.mut.Unlock()
	if ch != nil {
		ch.Close()
	}
}

func (c *NamedCache) isDetached() bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.detached
}

func (c *NamedCache) channel() (*messaging.Channel, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.detached || c.ch == nil {
		return nil, grid.ErrChannelClosed
	}
	return c.ch, nil
}

func (c *NamedCache) call(msg messaging.Message, timeout time.Duration) (*Response, error) {
	ch, err := c.channel()
	if err != nil {
		return nil, err
	}
	return call(ch, msg, timeout)
}

func (c *NamedCache) enc(v values.Value) ([]byte, error) {
	return c.ser.Marshal(v)
}

func (c *NamedCache) dec(b []byte) (values.Value, error) {
	if len(b) == 0 {
		return values.None(), nil
	}
	return c.ser.Unmarshal(b)
}

func (c *NamedCache) encKeys(keys []values.Value) ([][]byte, error) {
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		b, err := c.enc(k)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (c *NamedCache) decEntries(pairs []ValuePair) ([]grid.Entry, error) {
	out := make([]grid.Entry, 0, len(pairs))
	for _, p := range pairs {
		k, err := c.dec(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := c.dec(p.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, grid.Entry{Key: k, Value: v})
	}
	return out, nil
}

func (c *NamedCache) Name() string { return c.name }

func (c *NamedCache) Get(key values.Value) (values.Value, bool, error) {
	kb, err := c.enc(key)
	if err != nil {
		return values.None(), false, err
	}
	resp, err := c.call(&GetRequest{Key: kb}, 0)
	if err != nil {
		return values.None(), false, err
	}
	if !resp.Present {
		return values.None(), false, nil
	}
	v, err := c.dec(resp.Value)
	return v, err == nil, err
}

func (c *NamedCache) GetAll(keys []values.Value) ([]grid.Entry, error) {
	kbs, err := c.encKeys(keys)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(&GetAllRequest{Keys: kbs}, 0)
	if err != nil {
		return nil, err
	}
	return c.decEntries(resp.Pairs)
}

func (c *NamedCache) Put(key, value values.Value) (values.Value, error) {
	return c.PutWithExpiry(key, value, grid.ExpiryDefault)
}

func (c *NamedCache) PutWithExpiry(key, value values.Value, expiry time.Duration) (values.Value, error) {
	kb, err := c.enc(key)
	if err != nil {
		return values.None(), err
	}
	vb, err := c.enc(value)
	if err != nil {
		return values.None(), err
	}
	resp, err := c.call(&PutRequest{Key: kb, Value: vb, ExpiryMillis: expiryMillis(expiry)}, 0)
	if err != nil {
		return values.None(), err
	}
	return c.dec(resp.Value)
}

func (c *NamedCache) PutAll(entries []grid.Entry) error {
	pairs := make([]ValuePair, 0, len(entries))
	for _, e := range entries {
		kb, err := c.enc(e.Key)
		if err != nil {
			return err
		}
		vb, err := c.enc(e.Value)
		if err != nil {
			return err
		}
		pairs = append(pairs, ValuePair{Key: kb, Value: vb})
	}
	_, err := c.call(&PutAllRequest{Entries: pairs}, 0)
	return err
}

func (c *NamedCache) Remove(key values.Value) (values.Value, error) {
	kb, err := c.enc(key)
	if err != nil {
		return values.None(), err
	}
	resp, err := c.call(&RemoveRequest{Key: kb}, 0)
	if err != nil {
		return values.None(), err
	}
	return c.dec(resp.Value)
}

func (c *NamedCache) ContainsKey(key values.Value) (bool, error) {
	kb, err := c.enc(key)
	if err != nil {
		return false, err
	}
	resp, err := c.call(&ContainsKeyRequest{Key: kb}, 0)
	if err != nil {
		return false, err
	}
	return resp.Flag, nil
}

func (c *NamedCache) Size() (int, error) {
	resp, err := c.call(&SizeRequest{}, 0)
	if err != nil {
		return 0, err
	}
	return int(resp.Num), nil
}

func (c *NamedCache) Clear() error {
	_, err := c.call(&ClearRequest{}, 0)
	return err
}

func (c *NamedCache) Truncate() error {
	_, err := c.call(&TruncateRequest{}, 0)
	return err
}

func (c *NamedCache) Keys(filter grid.Filter) ([]values.Value, error) {
	resp, err := c.call(&QueryRequest{Filter: filter}, 0)
	if err != nil {
		return nil, err
	}
	keys := make([]values.Value, 0, len(resp.Pairs))
	for _, p := range resp.Pairs {
		k, err := c.dec(p.Key)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (c *NamedCache) Entries(filter grid.Filter) ([]grid.Entry, error) {
	resp, err := c.call(&QueryRequest{Filter: filter, WantEntries: true}, 0)
	if err != nil {
		return nil, err
	}
	return c.decEntries(resp.Pairs)
}

func (c *NamedCache) Values(filter grid.Filter, comp grid.Comparator) ([]values.Value, error) {
	resp, err := c.call(&ValuesRequest{Filter: filter, Comparator: comp}, 0)
	if err != nil {
		return nil, err
	}
	vals := make([]values.Value, 0, len(resp.Pairs))
	for _, p := range resp.Pairs {
		v, err := c.dec(p.Value)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func (c *NamedCache) Invoke(key values.Value, proc grid.EntryProcessor) (values.Value, error) {
	kb, err := c.enc(key)
	if err != nil {
		return values.None(), err
	}
	resp, err := c.call(&InvokeRequest{Key: kb, Processor: proc}, 0)
	if err != nil {
		return values.None(), err
	}
	return c.dec(resp.Value)
}

func (c *NamedCache) InvokeAllKeys(keys []values.Value, proc grid.EntryProcessor) ([]grid.Entry, error) {
	kbs, err := c.encKeys(keys)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(&InvokeAllRequest{Keys: kbs, Processor: proc}, 0)
	if err != nil {
		return nil, err
	}
	return c.decEntries(resp.Pairs)
}

func (c *NamedCache) InvokeAllFilter(filter grid.Filter, proc grid.EntryProcessor) ([]grid.Entry, error) {
	resp, err := c.call(&InvokeAllRequest{ByFilter: true, Filter: filter, Processor: proc}, 0)
	if err != nil {
		return nil, err
	}
	return c.decEntries(resp.Pairs)
}

func (c *NamedCache) AggregateKeys(keys []values.Value, agg grid.Aggregator) (values.Value, error) {
	kbs, err := c.encKeys(keys)
	if err != nil {
		return values.None(), err
	}
	resp, err := c.call(&AggregateRequest{Keys: kbs, Aggregator: agg}, 0)
	if err != nil {
		return values.None(), err
	}
	return c.dec(resp.Value)
}

func (c *NamedCache) AggregateFilter(filter grid.Filter, agg grid.Aggregator) (values.Value, error) {
	resp, err := c.call(&AggregateRequest{ByFilter: true, Filter: filter, Aggregator: agg}, 0)
	if err != nil {
		return values.None(), err
	}
	return c.dec(resp.Value)
}

func (c *NamedCache) AddIndex(extr grid.Extractor, ordered bool, comp grid.Comparator) error {
	_, err := c.call(&IndexRequest{Add: true, Extractor: extr, Ordered: ordered, Comparator: comp}, 0)
	return err
}

func (c *NamedCache) RemoveIndex(extr grid.Extractor) error {
	_, err := c.call(&IndexRequest{Extractor: extr}, 0)
	return err
}

// Lock acquires the key lease. Leases are scoped to the connection on the
// remote side; the owner token is not transmitted. The await has no local
// deadline for waiting acquisitions, since the slot fails when the channel
// closes.
func (c *NamedCache) Lock(key values.Value, _ grid.LockOwner, wait time.Duration) (bool, error) {
	kb, err := c.enc(key)
	if err != nil {
		return false, err
	}
	timeout := time.Duration(0)
	if wait != 0 {
		timeout = -1
	}
	resp, err := c.call(&LockRequest{Key: kb, WaitMillis: waitMillis(wait)}, timeout)
	if err != nil {
		return false, err
	}
	return resp.Flag, nil
}

func (c *NamedCache) Unlock(key values.Value, _ grid.LockOwner) (bool, error) {
	kb, err := c.enc(key)
	if err != nil {
		return false, err
	}
	resp, err := c.call(&UnlockRequest{Key: kb}, 0)
	if err != nil {
		return false, err
	}
	return resp.Flag, nil
}

func (c *NamedCache) AddListener(lis grid.MapListener, lite bool) error {
	return c.addListener(&ListenerRequest{Add: true, Mode: ListenGlobal, Lite: lite}, func() {
		c.nextOrder++
		c.global = append(c.global, registration{lis: lis, lite: lite, order: c.nextOrder})
	})
}

func (c *NamedCache) RemoveListener(lis grid.MapListener) error {
	return c.removeListener(&ListenerRequest{Mode: ListenGlobal}, func() {
		c.global = removeRegistration(c.global, lis)
	})
}

func (c *NamedCache) AddKeyListener(lis grid.MapListener, key values.Value, lite bool) error {
	kb, err := c.enc(key)
	if err != nil {
		return err
	}
	k := key.MapKey()
	return c.addListener(&ListenerRequest{Add: true, Mode: ListenKey, Key: kb, Lite: lite}, func() {
		c.nextOrder++
		c.byKey[k] = append(c.byKey[k], registration{lis: lis, lite: lite, order: c.nextOrder})
	})
}

func (c *NamedCache) RemoveKeyListener(lis grid.MapListener, key values.Value) error {
	kb, err := c.enc(key)
	if err != nil {
		return err
	}
	k := key.MapKey()
	return c.removeListener(&ListenerRequest{Mode: ListenKey, Key: kb}, func() {
		regs := removeRegistration(c.byKey[k], lis)
		if len(regs) == 0 {
			delete(c.byKey, k)
		} else {
			c.byKey[k] = regs
		}
	})
}

func (c *NamedCache) AddFilterListener(lis grid.MapListener, filter grid.Filter, lite bool) error {
	return c.addListener(&ListenerRequest{Add: true, Mode: ListenFilter, Filter: filter, Lite: lite}, func() {
		c.nextOrder++
		c.byFilter = append(c.byFilter, filterRegistration{
			registration: registration{lis: lis, lite: lite, order: c.nextOrder},
			filter:       filter,
		})
	})
}

func (c *NamedCache) RemoveFilterListener(lis grid.MapListener, filter grid.Filter) error {
	return c.removeListener(&ListenerRequest{Mode: ListenFilter, Filter: filter}, func() {
		for i, reg := range c.byFilter {
			if reg.lis == lis && reg.filter == filter {
				c.byFilter = append(c.byFilter[:i], c.byFilter[i+1:]...)
				return
			}
		}
	})
}

// addListener registers locally under the mutex, then announces the
// interest; the registration is rolled back if the wire call fails.
func (c *NamedCache) addListener(req *ListenerRequest, register func()) error {
	c.mut.Lock()
	if c.detached {
		c.mut.Unlock()
		return grid.ErrChannelClosed
	}
	register()
	c.mut.Unlock()

	if _, err := c.call(req, 0); err != nil {
		// Roll back by removing whatever register added last. The simple
		// approach is enough because registrations append in order.
		c.mut.Lock()
		c.rollbackLastLocked()
		c.mut.Unlock()
		return err
	}
	return nil
}

func (c *NamedCache) rollbackLastLocked() {
	var bestOrder int64
	where := 0 // 1 global, 2 key, 3 filter
	var bestKey values.Key
	if n := len(c.global); n > 0 && c.global[n-1].order > bestOrder {
		bestOrder, where = c.global[n-1].order, 1
	}
	for k, regs := range c.byKey {
		if n := len(regs); n > 0 && regs[n-1].order > bestOrder {
			bestOrder, where, bestKey = regs[n-1].order, 2, k
		}
	}
	if n := len(c.byFilter); n > 0 && c.byFilter[n-1].order > bestOrder {
		where = 3
	}
	switch where {
	case 1:
		c.global = c.global[:len(c.global)-1]
	case 2:
		regs := c.byKey[bestKey][:len(c.byKey[bestKey])-1]
		if len(regs) == 0 {
			delete(c.byKey, bestKey)
		} else {
			c.byKey[bestKey] = regs
		}
	case 3:
		c.byFilter = c.byFilter[:len(c.byFilter)-1]
	}
}

func (c *NamedCache) removeListener(req *ListenerRequest, unregister func()) error {
	c.mut.Lock()
	if c.detached {
		c.mut.Unlock()
		return grid.ErrChannelClosed
	}
	unregister()
	c.mut.Unlock()

	_, err := c.call(req, 0)
	return err
}

func removeRegistration(regs []registration, lis grid.MapListener) []registration {
	for i, reg := range regs {
		if reg.lis == lis {
			return append(regs[:i], regs[i+1:]...)
		}
	}
	return regs
}

// onMessage is the cache channel receiver. The only unsolicited message is
// the event relay.
func (c *NamedCache) onMessage(_ *messaging.ChannelContext, msg messaging.Message) {
	ev, ok := msg.(*MapEventMessage)
	if !ok {
		l.Warnf("remote cache %q: unexpected inbound %T", c.name, msg)
		return
	}
	c.deliver(ev)
}

func (c *NamedCache) deliver(msg *MapEventMessage) {
	c.mut.Lock()
	if c.detached {
		c.mut.Unlock()
		return
	}
	ser := c.ser
	c.mut.Unlock()

	dec := func(b []byte) values.Value {
		if len(b) == 0 {
			return values.None()
		}
		v, err := ser.Unmarshal(b)
		if err != nil {
			l.Warnf("remote cache %q: undecodable event payload: %v", c.name, err)
			return values.None()
		}
		return v
	}
	ev := grid.MapEvent{
		Cache:    c.name,
		Type:     grid.EventType(msg.EventType),
		Key:      dec(msg.Key),
		OldValue: dec(msg.OldValue),
		NewValue: dec(msg.NewValue),
		Cause:    grid.EventCause(msg.Cause),
	}

	// Snapshot the interested registrations now so later listener changes
	// do not shift this event's delivery.
	c.mut.Lock()
	regs := c.matchingLocked(ev)
	c.mut.Unlock()
	if len(regs) == 0 {
		return
	}

	c.svc.rt.Dispatcher().Dispatch(func() {
		for _, reg := range regs {
			c.notify(reg, ev)
		}
	})
}

// matchingLocked returns the registrations interested in ev in registration
// order. Filter registrations evaluate against the new value, or the old
// one for deletes.
func (c *NamedCache) matchingLocked(ev grid.MapEvent) []registration {
	var out []registration
	out = append(out, c.global...)
	out = append(out, c.byKey[ev.Key.MapKey()]...)
	if len(c.byFilter) > 0 {
		probe := grid.Entry{Key: ev.Key, Value: ev.NewValue}
		if ev.Type == grid.EntryDeleted {
			probe.Value = ev.OldValue
		}
		for _, reg := range c.byFilter {
			if reg.filter == nil || reg.filter.Evaluate(probe) {
				out = append(out, reg.registration)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

func (c *NamedCache) notify(reg registration, ev grid.MapEvent) {
	defer func() {
		if r := recover(); r != nil {
			l.Warnf("listener panic on remote cache %q: %v", c.name, r)
			events.Default.Log(events.ListenerPanic, map[string]string{"cache": c.name})
		}
	}()
	if reg.lite {
		ev.OldValue = values.None()
		ev.NewValue = values.None()
		ev.Lite = true
	}
	reg.lis.OnMapEvent(ev)
}

// Release detaches this handle; contents stay on the grid.
func (c *NamedCache) Release() error {
	c.svc.forget(c.name, c)
	c.detach()
	return nil
}

// Destroy removes the cache from the grid and poisons every handle on it.
func (c *NamedCache) Destroy() error {
	return c.svc.DestroyCache(c.name)
}

func expiryMillis(expiry time.Duration) int64 {
	switch {
	case expiry < 0:
		return -1
	case expiry == 0:
		return 0
	default:
		ms := expiry.Milliseconds()
		if ms == 0 {
			ms = 1
		}
		return ms
	}
}

func waitMillis(wait time.Duration) int64 {
	switch {
	case wait < 0:
		return -1
	case wait == 0:
		return 0
	default:
		ms := wait.Milliseconds()
		if ms == 0 {
			ms = 1
		}
		return ms
	}
}
