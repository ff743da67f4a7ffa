// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package remote_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gridlink/gridlink/lib/cache"
	"github.com/gridlink/gridlink/lib/filters"
	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/messaging"
	"github.com/gridlink/gridlink/lib/proxy"
	"github.com/gridlink/gridlink/lib/remote"
	"github.com/gridlink/gridlink/lib/service"
	"github.com/gridlink/gridlink/lib/values"
	"github.com/gridlink/gridlink/lib/wire"
)

// wordCountTask is a portable invocable for the invocation service tests.
type wordCountTask struct {
	Text string
}

const tagWordCountTask = 501

func init() {
	grid.RegisterPortable(tagWordCountTask, func() grid.Portable { return &wordCountTask{} })
}

func (*wordCountTask) TypeTag() int32 { return tagWordCountTask }

func (t *wordCountTask) EncodeTo(w *wire.Writer) {
	w.WriteString(t.Text)
}

func (t *wordCountTask) DecodeFrom(r *wire.Reader) error {
	t.Text = r.ReadString()
	return r.Err()
}

func (t *wordCountTask) Run() (values.Value, error) {
	if t.Text == "" {
		return values.None(), errors.New("nothing to count")
	}
	n := int64(1)
	for _, c := range t.Text {
		if c == ' ' {
			n++
		}
	}
	return values.Int64(n), nil
}

// testGrid is an in-process proxy plus a connected client.
type testGrid struct {
	caches *cache.Service
	proxy  *proxy.Proxy
	rt     *service.Service
	conn   *messaging.Connection
	svc    *remote.CacheService
}

func newTestGrid(t *testing.T, cacheCfg cache.Config) *testGrid {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	caches := cache.NewService(cacheCfg, clockwork.NewRealClock())
	go func() { _ = caches.Serve(ctx) }()

	p := proxy.New(nil, messaging.ConnectionConfig{}, caches, nil)

	rt := service.New("client", service.Config{}, clockwork.NewRealClock(), service.Hooks{})
	if err := rt.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rt.Shutdown)

	conn := dialGrid(t, p)
	svc, err := remote.NewCacheService(ctx, conn, rt)
	if err != nil {
		t.Fatal(err)
	}
	return &testGrid{caches: caches, proxy: p, rt: rt, conn: conn, svc: svc}
}

// dialGrid connects a fresh client connection to the proxy over a pipe.
func dialGrid(t *testing.T, p *proxy.Proxy) *messaging.Connection {
	t.Helper()
	cli, srv := net.Pipe()
	p.ServeConn(srv)

	conn := messaging.NewConnection(cli, messaging.Options{Initiator: true})
	conn.Start()
	octx, ocancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ocancel()
	if err := conn.Open(octx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close(nil) })
	return conn
}

func cacheName(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestRemotePutGetRemove(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	nc, err := g.svc.EnsureCache(cacheName(t))
	if err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := nc.Get(values.String("a")); ok {
		t.Fatal("empty cache should miss")
	}
	old, err := nc.Put(values.String("a"), values.Int64(1))
	if err != nil {
		t.Fatal(err)
	}
	if !old.IsNone() {
		t.Errorf("first put old = %v", old)
	}
	v, ok, err := nc.Get(values.String("a"))
	if err != nil || !ok || v.Int64() != 1 {
		t.Errorf("get = %v, %v, %v", v, ok, err)
	}
	if ok, _ := nc.ContainsKey(values.String("a")); !ok {
		t.Error("contains should be true")
	}
	if n, _ := nc.Size(); n != 1 {
		t.Errorf("size = %d", n)
	}
	old, _ = nc.Remove(values.String("a"))
	if old.Int64() != 1 {
		t.Errorf("remove old = %v", old)
	}
	if n, _ := nc.Size(); n != 0 {
		t.Errorf("size after remove = %d", n)
	}
}

func TestRemoteEnsureReturnsSameHandle(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	name := cacheName(t)
	c1, err := g.svc.EnsureCache(name)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := g.svc.EnsureCache(name)
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Error("ensure should return the cached handle")
	}
}

func TestProxyReceiverNames(t *testing.T) {
	g := newTestGrid(t, cache.Config{})

	// The proxy registers its services under these wire-visible names;
	// opening by literal catches any drift in the constants.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := g.conn.OpenChannel(ctx, "CacheServiceProtocol", "CacheServiceProxy", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ch.ID() <= 0 {
		t.Errorf("channel id = %d, want > 0", ch.ID())
	}
	if _, err := g.conn.OpenChannel(ctx, "InvocationServiceProtocol", "InvocationServiceProxy", nil); err != nil {
		t.Fatal(err)
	}
}

func TestRemoteBulkAndClear(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	nc, err := g.svc.EnsureCache(cacheName(t))
	if err != nil {
		t.Fatal(err)
	}

	entries := []grid.Entry{
		{Key: values.String("a"), Value: values.Int64(1)},
		{Key: values.String("b"), Value: values.Int64(2)},
		{Key: values.String("c"), Value: values.Int64(3)},
	}
	if err := nc.PutAll(entries); err != nil {
		t.Fatal(err)
	}
	got, err := nc.GetAll([]values.Value{values.String("a"), values.String("c"), values.String("zz")})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("getall = %v", got)
	}
	if err := nc.Clear(); err != nil {
		t.Fatal(err)
	}
	if n, _ := nc.Size(); n != 0 {
		t.Errorf("size after clear = %d", n)
	}
}

func TestRemoteIndexedQuery(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	nc, err := g.svc.EnsureCache(cacheName(t))
	if err != nil {
		t.Fatal(err)
	}

	if err := nc.AddIndex(&filters.IdentityExtractor{}, true, nil); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 5; i++ {
		color := "red"
		if i%2 == 0 {
			color = "blue"
		}
		if _, err := nc.Put(values.Int64(int64(i)), values.String(color)); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := nc.Keys(&filters.Equals{Extractor: &filters.IdentityExtractor{}, Match: values.String("blue")})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("blue keys = %v", keys)
	}

	entries, err := nc.Entries(&filters.Equals{Extractor: &filters.IdentityExtractor{}, Match: values.String("red")})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("red entries = %v", entries)
	}

	vals, err := nc.Values(nil, &filters.Reverse{})
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 5 || vals[0].Str() != "red" {
		t.Errorf("values = %v", vals)
	}

	if err := nc.RemoveIndex(&filters.IdentityExtractor{}); err != nil {
		t.Fatal(err)
	}
}

func TestRemoteInvokeAndAggregate(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	nc, err := g.svc.EnsureCache(cacheName(t))
	if err != nil {
		t.Fatal(err)
	}

	res, err := nc.Invoke(values.String("n"), &filters.NumberIncrementor{Delta: values.Int64(5)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Int64() != 5 {
		t.Errorf("increment result = %v", res)
	}

	for i := 1; i <= 4; i++ {
		nc.Put(values.Int64(int64(i)), values.Int64(int64(i)))
	}
	results, err := nc.InvokeAllKeys([]values.Value{values.Int64(1), values.Int64(2)},
		&filters.NumberIncrementor{Delta: values.Int64(10)})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("invokeall = %v", results)
	}

	sum, err := nc.AggregateFilter(nil, &filters.Sum{})
	if err != nil {
		t.Fatal(err)
	}
	// Keys 1 and 2 were incremented to 11 and 12, plus the counter entry.
	if sum.Int64() != 11+12+3+4+5 {
		t.Errorf("sum = %v", sum)
	}

	count, err := nc.AggregateKeys([]values.Value{values.Int64(3), values.Int64(4)}, &filters.Count{})
	if err != nil {
		t.Fatal(err)
	}
	if count.Int64() != 2 {
		t.Errorf("count = %v", count)
	}
}

func TestRemoteListener(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	name := cacheName(t)
	nc, err := g.svc.EnsureCache(name)
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan grid.MapEvent, 16)
	lis := grid.MapListenerFunc(func(ev grid.MapEvent) { got <- ev })
	if err := nc.AddListener(lis, false); err != nil {
		t.Fatal(err)
	}

	// Mutate through the backing cache directly; the event must cross the
	// wire and come out of the client runtime's dispatcher.
	back, err := g.caches.EnsureCache(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := back.Put(values.String("k"), values.Int64(7)); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-got:
		if ev.Type != grid.EntryInserted || !ev.Key.Equal(values.String("k")) || ev.NewValue.Int64() != 7 {
			t.Errorf("event = %+v", ev)
		}
		if ev.Cache != name {
			t.Errorf("event cache = %q", ev.Cache)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestRemoteKeyListener(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	nc, err := g.svc.EnsureCache(cacheName(t))
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan grid.MapEvent, 16)
	lis := grid.MapListenerFunc(func(ev grid.MapEvent) { got <- ev })
	if err := nc.AddKeyListener(lis, values.String("watched"), false); err != nil {
		t.Fatal(err)
	}

	nc.Put(values.String("other"), values.Int64(1))
	nc.Put(values.String("watched"), values.Int64(2))

	select {
	case ev := <-got:
		if !ev.Key.Equal(values.String("watched")) {
			t.Errorf("unexpected event for key %v", ev.Key)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case ev := <-got:
		t.Errorf("extra event delivered: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoteListenerRemove(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	name := cacheName(t)
	nc, err := g.svc.EnsureCache(name)
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan grid.MapEvent, 16)
	lis := &chanListener{ch: got}
	if err := nc.AddListener(lis, false); err != nil {
		t.Fatal(err)
	}
	nc.Put(values.String("a"), values.Int64(1))
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("no event before removal")
	}

	if err := nc.RemoveListener(lis); err != nil {
		t.Fatal(err)
	}
	nc.Put(values.String("b"), values.Int64(2))
	select {
	case ev := <-got:
		t.Errorf("event after removal: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

type chanListener struct {
	ch chan grid.MapEvent
}

func (c *chanListener) OnMapEvent(ev grid.MapEvent) { c.ch <- ev }

func TestRemoteExpiry(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	nc, err := g.svc.EnsureCache(cacheName(t))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := nc.PutWithExpiry(values.String("k"), values.Int64(1), 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := nc.Get(values.String("k")); !ok {
		t.Fatal("entry should be live")
	}
	time.Sleep(75 * time.Millisecond)
	if _, ok, _ := nc.Get(values.String("k")); ok {
		t.Error("entry should have expired")
	}
}

func TestRemoteLockAcrossConnections(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	name := cacheName(t)
	nc1, err := g.svc.EnsureCache(name)
	if err != nil {
		t.Fatal(err)
	}

	conn2 := dialGrid(t, g.proxy)
	rt2 := service.New("client2", service.Config{}, clockwork.NewRealClock(), service.Hooks{})
	if err := rt2.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rt2.Shutdown)
	svc2, err := remote.NewCacheService(context.Background(), conn2, rt2)
	if err != nil {
		t.Fatal(err)
	}
	nc2, err := svc2.EnsureCache(name)
	if err != nil {
		t.Fatal(err)
	}

	k := values.String("k")
	if ok, err := nc1.Lock(k, "ignored", 0); err != nil || !ok {
		t.Fatalf("lock = %v, %v", ok, err)
	}
	// Same connection is the same owner: reentrant.
	if ok, _ := nc1.Lock(k, "ignored", 0); !ok {
		t.Error("reentrant lock on the same connection should succeed")
	}
	if ok, _ := nc2.Lock(k, "ignored", 0); ok {
		t.Error("lock from another connection should fail immediately")
	}
	if ok, _ := nc2.Unlock(k, "ignored"); ok {
		t.Error("unlock by a non-owner must fail")
	}

	nc1.Unlock(k, "ignored")
	nc1.Unlock(k, "ignored")

	if ok, err := nc2.Lock(k, "ignored", 2*time.Second); err != nil || !ok {
		t.Errorf("lock after release = %v, %v", ok, err)
	}
}

func TestRemoteTruncateUnsupported(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	nc, err := g.svc.EnsureCache(cacheName(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := nc.Truncate(); !errors.Is(err, grid.ErrUnsupported) {
		t.Errorf("err = %v", err)
	}
}

func TestRemoteDestroy(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	name := cacheName(t)
	nc, err := g.svc.EnsureCache(name)
	if err != nil {
		t.Fatal(err)
	}
	nc.Put(values.String("a"), values.Int64(1))

	if err := nc.Destroy(); err != nil {
		t.Fatal(err)
	}
	if _, err := nc.Put(values.String("b"), values.Int64(2)); err == nil {
		t.Error("put on a destroyed handle should fail")
	}

	fresh, err := g.svc.EnsureCache(name)
	if err != nil {
		t.Fatal(err)
	}
	if fresh == nc {
		t.Error("ensure after destroy should build a fresh handle")
	}
	if n, _ := fresh.Size(); n != 0 {
		t.Errorf("fresh cache size = %d", n)
	}
}

func TestRemoteRelease(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	name := cacheName(t)
	nc, err := g.svc.EnsureCache(name)
	if err != nil {
		t.Fatal(err)
	}
	nc.Put(values.String("a"), values.Int64(1))

	if err := nc.Release(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := nc.Get(values.String("a")); err == nil {
		t.Error("released handle should be dead")
	}

	again, err := g.svc.EnsureCache(name)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := again.Get(values.String("a")); !ok || v.Int64() != 1 {
		t.Error("release must not drop contents")
	}
}

func TestInvocationService(t *testing.T) {
	g := newTestGrid(t, cache.Config{})
	inv, err := remote.NewInvocationService(context.Background(), g.conn)
	if err != nil {
		t.Fatal(err)
	}

	res, err := inv.Query(&wordCountTask{Text: "one two three"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Int64() != 3 {
		t.Errorf("result = %v", res)
	}

	if _, err := inv.Query(&wordCountTask{}); err == nil {
		t.Error("task error should propagate")
	}
}
