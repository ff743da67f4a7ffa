// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package cache

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gridlink/gridlink/lib/events"
	"github.com/gridlink/gridlink/lib/filters"
	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/values"
)

func newTestDispatcher(t *testing.T) *events.Dispatcher {
	t.Helper()
	disp := events.NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = disp.Serve(ctx) }()
	t.Cleanup(cancel)
	return disp
}

func newTestCache(t *testing.T, cfg Config, clock clockwork.Clock, opts ...Option) *LocalCache {
	t.Helper()
	c, err := NewLocalCache(fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano()), cfg, clock, newTestDispatcher(t), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// recorder collects events in delivery order.
type recorder struct {
	mut stdsync.Mutex
	evs []grid.MapEvent
}

func (r *recorder) OnMapEvent(ev grid.MapEvent) {
	r.mut.Lock()
	r.evs = append(r.evs, ev)
	r.mut.Unlock()
}

func (r *recorder) events() []grid.MapEvent {
	r.mut.Lock()
	defer r.mut.Unlock()
	return append([]grid.MapEvent(nil), r.evs...)
}

func TestPutGetRemove(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())

	if _, ok, _ := c.Get(values.String("a")); ok {
		t.Fatal("empty cache should miss")
	}
	old, err := c.Put(values.String("a"), values.Int64(1))
	if err != nil {
		t.Fatal(err)
	}
	if !old.IsNone() {
		t.Errorf("first put old = %v", old)
	}
	old, _ = c.Put(values.String("a"), values.Int64(2))
	if old.Int64() != 1 {
		t.Errorf("second put old = %v", old)
	}

	v, ok, _ := c.Get(values.String("a"))
	if !ok || v.Int64() != 2 {
		t.Errorf("get = %v, %v", v, ok)
	}
	if ok, _ := c.ContainsKey(values.String("a")); !ok {
		t.Error("contains should be true")
	}
	if n, _ := c.Size(); n != 1 {
		t.Errorf("size = %d", n)
	}

	old, _ = c.Remove(values.String("a"))
	if old.Int64() != 2 {
		t.Errorf("remove old = %v", old)
	}
	if old, _ := c.Remove(values.String("a")); !old.IsNone() {
		t.Errorf("second remove old = %v", old)
	}
	if n, _ := c.Size(); n != 0 {
		t.Errorf("size after remove = %d", n)
	}
}

func TestEvictionBoundLRU(t *testing.T) {
	c := newTestCache(t, Config{
		HighUnits:      3,
		PruneLevel:     0.75, // low water mark: 2
		EvictionPolicy: "lru",
	}, clockwork.NewRealClock())

	rec := &recorder{}
	if err := c.AddListener(rec, false); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"a", "b", "c"} {
		if _, err := c.Put(values.String(k), values.Int64(1)); err != nil {
			t.Fatal(err)
		}
	}
	// Refresh a so that b and c are the least recently used.
	if _, ok, _ := c.Get(values.String("a")); !ok {
		t.Fatal("a should be present")
	}
	if _, err := c.Put(values.String("d"), values.Int64(1)); err != nil {
		t.Fatal(err)
	}

	for k, want := range map[string]bool{"a": true, "b": false, "c": false, "d": true} {
		if _, ok, _ := c.Get(values.String(k)); ok != want {
			t.Errorf("%s present = %v, want %v", k, ok, want)
		}
	}
	if c.totalUnits > c.cfg.LowUnits() {
		t.Errorf("units = %d, want <= %d", c.totalUnits, c.cfg.LowUnits())
	}

	c.disp.Flush()
	var evicted int
	for _, ev := range rec.events() {
		if ev.Type == grid.EntryDeleted && ev.Cause == grid.CauseEvicted {
			evicted++
		}
	}
	if evicted != 2 {
		t.Errorf("evicted events = %d, want 2", evicted)
	}
}

func TestExpiryLazyWithFakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, Config{ExpiryMillis: 50}, clock)

	rec := &recorder{}
	if err := c.AddListener(rec, false); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Put(values.String("k"), values.String("v")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(49 * time.Millisecond)
	if _, ok, _ := c.Get(values.String("k")); !ok {
		t.Fatal("entry should still be live at 49ms")
	}
	clock.Advance(2 * time.Millisecond)
	if _, ok, _ := c.Get(values.String("k")); ok {
		t.Fatal("entry should have expired at 51ms")
	}

	// The expiry event is observable as soon as the read returns.
	evs := rec.events()
	if len(evs) == 0 {
		t.Fatal("no events recorded")
	}
	last := evs[len(evs)-1]
	if last.Type != grid.EntryDeleted || last.Cause != grid.CauseExpired {
		t.Errorf("last event = %v/%v", last.Type, last.Cause)
	}
	if n, _ := c.Size(); n != 0 {
		t.Errorf("size = %d", n)
	}
}

func TestPutWithExpiryNever(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, Config{ExpiryMillis: 50}, clock)

	if _, err := c.PutWithExpiry(values.String("k"), values.String("v"), grid.ExpiryNever); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Hour)
	if _, ok, _ := c.Get(values.String("k")); !ok {
		t.Error("never-expiring entry should survive")
	}
}

func TestListenerModesAndOrder(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())

	var mut stdsync.Mutex
	var log []string
	add := func(name string, ev grid.MapEvent) {
		mut.Lock()
		log = append(log, fmt.Sprintf("%s:%v:%v", name, ev.Type, ev.Key))
		mut.Unlock()
	}
	c.AddListener(grid.MapListenerFunc(func(ev grid.MapEvent) { add("global", ev) }), false)
	c.AddKeyListener(grid.MapListenerFunc(func(ev grid.MapEvent) { add("key", ev) }), values.String("a"), false)
	c.AddFilterListener(grid.MapListenerFunc(func(ev grid.MapEvent) { add("filter", ev) }),
		filters.Equals{Extractor: filters.IdentityExtractor{}, Match: values.Int64(2)}, false)

	c.Put(values.String("a"), values.Int64(1)) // global, key
	c.Put(values.String("a"), values.Int64(2)) // global, key, filter
	c.Put(values.String("b"), values.Int64(2)) // global, filter
	c.Remove(values.String("a"))               // global, key (old value 2 matches filter too)
	c.disp.Flush()

	mut.Lock()
	defer mut.Unlock()
	want := []string{
		"global:Inserted:a", "key:Inserted:a",
		"global:Updated:a", "key:Updated:a", "filter:Updated:a",
		"global:Inserted:b", "filter:Inserted:b",
		"global:Deleted:a", "key:Deleted:a", "filter:Deleted:a",
	}
	if len(log) != len(want) {
		t.Fatalf("log = %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestLiteListener(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())

	rec := &recorder{}
	c.AddListener(rec, true)
	c.Put(values.String("a"), values.Int64(1))
	c.disp.Flush()

	evs := rec.events()
	if len(evs) != 1 {
		t.Fatalf("events = %d", len(evs))
	}
	ev := evs[0]
	if !ev.Lite || !ev.NewValue.IsNone() || !ev.OldValue.IsNone() {
		t.Errorf("lite event carries values: %+v", ev)
	}
	if !ev.Key.Equal(values.String("a")) {
		t.Errorf("key = %v", ev.Key)
	}
}

func TestListenerPanicIsolation(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())

	rec := &recorder{}
	c.AddListener(grid.MapListenerFunc(func(grid.MapEvent) { panic("bad listener") }), false)
	c.AddListener(rec, false)

	c.Put(values.String("a"), values.Int64(1))
	c.disp.Flush()

	if len(rec.events()) != 1 {
		t.Error("the second listener should still be notified")
	}
}

func TestIndexCoherence(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())

	if err := c.AddIndex(filters.IdentityExtractor{}, true, nil); err != nil {
		t.Fatal(err)
	}

	red := values.String("red")
	blue := values.String("blue")
	c.Put(values.String("k1"), red)
	c.Put(values.String("k2"), red)
	c.Put(values.String("k3"), blue)
	c.Put(values.String("k2"), blue) // moves k2 between index buckets
	c.Remove(values.String("k1"))

	query := filters.Equals{Extractor: filters.IdentityExtractor{}, Match: blue}
	keys, err := c.Keys(query)
	if err != nil {
		t.Fatal(err)
	}
	got := map[values.Key]bool{}
	for _, k := range keys {
		got[k.MapKey()] = true
	}
	if len(got) != 2 || !got[values.String("k2").MapKey()] || !got[values.String("k3").MapKey()] {
		t.Errorf("blue keys = %v", keys)
	}
	if keys, _ := c.Keys(filters.Equals{Extractor: filters.IdentityExtractor{}, Match: red}); len(keys) != 0 {
		t.Errorf("red keys = %v", keys)
	}

	// The inverse and forward maps agree after the mutation sequence.
	ix := c.indices["identity"]
	if len(ix.forward) != 2 {
		t.Errorf("forward size = %d", len(ix.forward))
	}
	if ix.partial {
		t.Error("unconditional identity index should not be partial")
	}
	n := 0
	for _, set := range ix.inverse {
		n += len(set)
	}
	if n != len(ix.forward) {
		t.Errorf("inverse entries = %d, forward = %d", n, len(ix.forward))
	}
}

func TestConditionalIndexPartial(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())

	onlyBig := filters.Equals{Extractor: filters.IdentityExtractor{}, Match: values.Int64(10)}
	if err := c.AddConditionalIndex(filters.IdentityExtractor{}, false, nil, onlyBig); err != nil {
		t.Fatal(err)
	}

	c.Put(values.String("a"), values.Int64(10))
	c.Put(values.String("b"), values.Int64(5)) // rejected, index goes partial

	if !c.indices["identity"].partial {
		t.Fatal("index should be partial after a rejection")
	}

	// Queries must not trust a partial index: the scan finds b.
	keys, err := c.Keys(filters.Equals{Extractor: filters.IdentityExtractor{}, Match: values.Int64(5)})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || !keys[0].Equal(values.String("b")) {
		t.Errorf("keys = %v", keys)
	}
}

func TestIndexExtractionFailure(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())

	flaky := filters.FuncExtractor{
		Name: "flaky",
		Fn: func(e grid.Entry) (values.Value, error) {
			if e.Value.Kind() == values.KindBytes {
				return values.None(), errors.New("cannot extract bytes")
			}
			return e.Value, nil
		},
	}
	if err := c.AddIndex(flaky, false, nil); err != nil {
		t.Fatal(err)
	}

	c.Put(values.String("good"), values.Int64(1))
	c.Put(values.String("bad"), values.Bytes([]byte{1}))
	ix := c.indices["func:flaky"]
	if !ix.partial {
		t.Fatal("extraction failure should mark the index partial")
	}

	// The delete path still cleans the index, extraction failure or not.
	c.Remove(values.String("good"))
	c.Remove(values.String("bad"))
	if len(ix.forward) != 0 {
		t.Errorf("forward map not empty: %v", ix.forward)
	}
}

func TestValuesSorted(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())
	c.Put(values.String("a"), values.Int64(3))
	c.Put(values.String("b"), values.Int64(1))
	c.Put(values.String("c"), values.Int64(2))

	vals, err := c.Values(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int64{1, 2, 3} {
		if vals[i].Int64() != want {
			t.Errorf("vals[%d] = %v", i, vals[i])
		}
	}

	vals, _ = c.Values(nil, filters.Reverse{})
	for i, want := range []int64{3, 2, 1} {
		if vals[i].Int64() != want {
			t.Errorf("reversed vals[%d] = %v", i, vals[i])
		}
	}
}

func TestInvoke(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())

	// Increment on an absent key starts from zero.
	res, err := c.Invoke(values.String("n"), filters.NumberIncrementor{Delta: values.Int64(5)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Int64() != 5 {
		t.Errorf("result = %v", res)
	}
	v, ok, _ := c.Get(values.String("n"))
	if !ok || v.Int64() != 5 {
		t.Errorf("committed = %v, %v", v, ok)
	}

	// Removal through the view.
	res, err = c.Invoke(values.String("n"), filters.ConditionalRemove{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Bool() {
		t.Error("conditional remove should report true")
	}
	if _, ok, _ := c.Get(values.String("n")); ok {
		t.Error("entry should be gone")
	}

	// A failing processor commits nothing.
	c.Put(values.String("x"), values.String("keep"))
	_, err = c.Invoke(values.String("x"), procFunc(func(view grid.EntryView) (values.Value, error) {
		view.SetValue(values.String("clobbered"))
		return values.None(), errors.New("abort")
	}))
	if err == nil {
		t.Fatal("expected processor error")
	}
	if v, _, _ := c.Get(values.String("x")); v.Str() != "keep" {
		t.Errorf("value = %v", v)
	}
}

type procFunc func(view grid.EntryView) (values.Value, error)

func (f procFunc) Process(view grid.EntryView) (values.Value, error) { return f(view) }

func TestInvokeAllFilter(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())
	for i := 1; i <= 4; i++ {
		c.Put(values.Int64(int64(i)), values.Int64(int64(i)))
	}

	even := filters.FuncExtractor{Name: "even", Fn: func(e grid.Entry) (values.Value, error) {
		return values.Bool(e.Value.Int64()%2 == 0), nil
	}}
	results, err := c.InvokeAllFilter(
		filters.Equals{Extractor: even, Match: values.Bool(true)},
		filters.NumberIncrementor{Delta: values.Int64(100)},
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	for _, r := range results {
		if r.Value.Int64() != r.Key.Int64()+100 {
			t.Errorf("key %v incremented to %v", r.Key, r.Value)
		}
	}
}

func TestAggregate(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())
	for i := 1; i <= 5; i++ {
		c.Put(values.Int64(int64(i)), values.Int64(int64(i)))
	}

	sum, err := c.AggregateFilter(nil, &filters.Sum{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Int64() != 15 {
		t.Errorf("sum = %v", sum)
	}

	count, _ := c.AggregateKeys([]values.Value{values.Int64(1), values.Int64(2), values.Int64(99)}, &filters.Count{})
	if count.Int64() != 2 {
		t.Errorf("count = %v (absent keys must not be processed)", count)
	}
}

func TestLocks(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())
	k := values.String("k")

	if ok, _ := c.Lock(k, "alice", 0); !ok {
		t.Fatal("first lock should succeed")
	}
	if ok, _ := c.Lock(k, "alice", 0); !ok {
		t.Fatal("reentrant lock should succeed")
	}
	if ok, _ := c.Lock(k, "bob", 0); ok {
		t.Fatal("conflicting lock should fail immediately")
	}
	if ok, _ := c.Unlock(k, "bob"); ok {
		t.Fatal("unlock by non-owner must fail silently")
	}
	c.Unlock(k, "alice")
	if ok, _ := c.Lock(k, "bob", 0); ok {
		t.Fatal("lease depth should still hold the lock for alice")
	}
	c.Unlock(k, "alice")

	// Now bob can wait for it.
	if ok, _ := c.Lock(k, "bob", 50*time.Millisecond); !ok {
		t.Fatal("lock should be free")
	}

	// A blocked waiter wakes when the holder releases.
	got := make(chan bool)
	go func() {
		ok, _ := c.Lock(k, "carol", -1)
		got <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	c.Unlock(k, "bob")
	select {
	case ok := <-got:
		if !ok {
			t.Fatal("waiter should acquire after release")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestGlobalLockConflictsWithKeyLeases(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())

	if ok, _ := c.Lock(values.String("k"), "alice", 0); !ok {
		t.Fatal("key lock should succeed")
	}
	if ok, _ := c.LockAll("bob", 0); ok {
		t.Fatal("global lock must conflict with a foreign key lease")
	}
	c.Unlock(values.String("k"), "alice")

	if ok, _ := c.LockAll("bob", 0); !ok {
		t.Fatal("global lock should succeed once leases are gone")
	}
	if ok, _ := c.Lock(values.String("x"), "alice", 0); ok {
		t.Fatal("key lock must conflict with a foreign global lease")
	}
	if ok, _ := c.Lock(values.String("x"), "bob", 0); !ok {
		t.Fatal("the global holder can still take key leases")
	}
	c.Unlock(values.String("x"), "bob")
	c.UnlockAll("bob")
}

func TestGlobalLockBlocksMutations(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())
	c.Put(values.String("a"), values.Int64(1))

	if ok, _ := c.LockAll("alice", 0); !ok {
		t.Fatal("global lock should succeed")
	}

	done := make(chan struct{})
	go func() {
		c.Put(values.String("b"), values.Int64(2))
		c.Remove(values.String("a"))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("mutations must wait while the global lease is held")
	case <-time.After(50 * time.Millisecond):
	}

	if v, ok, _ := c.Get(values.String("a")); !ok || v.Int64() != 1 {
		t.Fatal("reads should pass, and nothing may change under the lease")
	}

	c.UnlockAll("alice")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mutations never proceeded after release")
	}

	if _, ok, _ := c.Get(values.String("a")); ok {
		t.Error("remove should have committed after release")
	}
	if v, _, _ := c.Get(values.String("b")); v.Int64() != 2 {
		t.Error("put should have committed after release")
	}
}

func TestTruncateUnsupported(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())
	if err := c.Truncate(); !errors.Is(err, grid.ErrUnsupported) {
		t.Errorf("err = %v", err)
	}
}

func TestDestroy(t *testing.T) {
	c := newTestCache(t, Config{}, clockwork.NewRealClock())
	c.Put(values.String("a"), values.Int64(1))
	if err := c.Destroy(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Put(values.String("b"), values.Int64(2)); err == nil {
		t.Error("put after destroy should fail")
	}
	if _, _, err := c.Get(values.String("a")); err == nil {
		t.Error("get after destroy should fail")
	}
}

func TestServiceEnsureReleaseDestroy(t *testing.T) {
	s := NewService(Config{}, clockwork.NewRealClock())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Serve(ctx) }()
	t.Cleanup(cancel)

	c1, err := s.EnsureCache("orders")
	if err != nil {
		t.Fatal(err)
	}
	c2, _ := s.EnsureCache("orders")
	if c1 != c2 {
		t.Error("ensure should return the same instance")
	}

	c1.Put(values.String("a"), values.Int64(1))
	if err := s.ReleaseCache("orders"); err != nil {
		t.Fatal(err)
	}
	c3, _ := s.EnsureCache("orders")
	if v, ok, _ := c3.Get(values.String("a")); !ok || v.Int64() != 1 {
		t.Error("release must not drop contents")
	}

	if err := s.DestroyCache("orders"); err != nil {
		t.Fatal(err)
	}
	c4, _ := s.EnsureCache("orders")
	if c4 == c1 {
		t.Error("destroy should force a fresh cache")
	}
	if v, ok, _ := c4.Get(values.String("a")); ok {
		t.Errorf("destroyed contents resurfaced: %v", v)
	}
}

func TestNearCache(t *testing.T) {
	s := NewService(Config{}, clockwork.NewRealClock())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Serve(ctx) }()
	t.Cleanup(cancel)

	back, err := s.EnsureCache("near-backed")
	if err != nil {
		t.Fatal(err)
	}
	near, err := NewNear(2, back)
	if err != nil {
		t.Fatal(err)
	}

	back.Put(values.String("a"), values.Int64(1))
	if v, ok, _ := near.Get(values.String("a")); !ok || v.Int64() != 1 {
		t.Fatalf("read-through get = %v, %v", v, ok)
	}
	if near.FrontLen() != 1 {
		t.Errorf("front len = %d", near.FrontLen())
	}

	// A mutation through another handle invalidates the front entry.
	back.Put(values.String("a"), values.Int64(2))
	s.Dispatcher().Flush()
	if near.FrontLen() != 0 {
		t.Errorf("front len after invalidation = %d", near.FrontLen())
	}
	if v, _, _ := near.Get(values.String("a")); v.Int64() != 2 {
		t.Errorf("near read = %v", v)
	}

	// The front map is bounded.
	near.Get(values.String("a"))
	back.Put(values.String("b"), values.Int64(3))
	back.Put(values.String("c"), values.Int64(4))
	s.Dispatcher().Flush()
	near.Get(values.String("b"))
	near.Get(values.String("c"))
	if near.FrontLen() > 2 {
		t.Errorf("front len = %d, want <= 2", near.FrontLen())
	}

	// Write-through put updates the back and drops the stale front entry.
	near.Put(values.String("c"), values.Int64(40))
	if v, _, _ := back.Get(values.String("c")); v.Int64() != 40 {
		t.Errorf("back value = %v", v)
	}
}
