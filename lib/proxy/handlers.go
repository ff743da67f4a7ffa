// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package proxy

import (
	"fmt"
	"time"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/messaging"
	"github.com/gridlink/gridlink/lib/remote"
	"github.com/gridlink/gridlink/lib/serializer"
	"github.com/gridlink/gridlink/lib/sync"
	"github.com/gridlink/gridlink/lib/values"
)

func respond(ctx *messaging.ChannelContext, resp *remote.Response) {
	if err := ctx.Respond(resp); err != nil {
		l.Debugf("dropping response on channel %d: %v", ctx.Channel().ID(), err)
	}
}

// cacheServiceReceiver answers ensure and destroy requests on the cache
// service channel. Each ensured cache gets a back-channel with its own
// handler; the response carries the channel URI for the client to accept.
type cacheServiceReceiver struct {
	proxy *Proxy
}

func (r *cacheServiceReceiver) OnMessage(ctx *messaging.ChannelContext, msg messaging.Message) {
	switch m := msg.(type) {
	case *remote.EnsureCacheRequest:
		back, err := r.proxy.caches.EnsureCache(m.Name)
		if err != nil {
			respond(ctx, remote.ErrorResponse(err))
			return
		}
		conn := ctx.Channel().Connection()
		h := newCacheHandler(m.Name, back, conn)
		ch, err := conn.CreateChannel(remote.NamedCacheProtocolName, h)
		if err != nil {
			respond(ctx, remote.ErrorResponse(err))
			return
		}
		h.ch = ch
		l.Debugf("ensured cache %q for %s on %s", m.Name, conn.ID(), ch.URI())
		respond(ctx, &remote.Response{URI: ch.URI()})

	case *remote.DestroyCacheRequest:
		if err := r.proxy.caches.DestroyCache(m.Name); err != nil {
			respond(ctx, remote.ErrorResponse(err))
			return
		}
		respond(ctx, &remote.Response{})

	default:
		respond(ctx, remote.ErrorResponse(grid.WrapError(grid.ErrProtocol,
			fmt.Errorf("unexpected %T on cache service channel", msg))))
	}
}

// cacheHandler serves one cache channel against the backing cache. Lock
// requests may block and run on their own goroutines; everything else runs
// inline on the connection's dispatcher goroutine.
type cacheHandler struct {
	name string
	back grid.NamedCache
	conn *messaging.Connection
	ch   *messaging.Channel

	mut        sync.Mutex
	relay      *eventRelay
	relayCount int
}

func newCacheHandler(name string, back grid.NamedCache, conn *messaging.Connection) *cacheHandler {
	return &cacheHandler{
		name: name,
		back: back,
		conn: conn,
		mut:  sync.NewMutex(),
	}
}

func (h *cacheHandler) ser() serializer.Serializer { return h.ch.Serializer() }

func (h *cacheHandler) dec(b []byte) (values.Value, error) {
	if len(b) == 0 {
		return values.None(), nil
	}
	v, err := h.ser().Unmarshal(b)
	if err != nil {
		return values.None(), grid.WrapError(grid.ErrProtocol, err)
	}
	return v, nil
}

func (h *cacheHandler) decKeys(bs [][]byte) ([]values.Value, error) {
	keys := make([]values.Value, 0, len(bs))
	for _, b := range bs {
		k, err := h.dec(b)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (h *cacheHandler) enc(v values.Value) []byte {
	b, err := h.ser().Marshal(v)
	if err != nil {
		l.Warnf("cache %q: unmarshalable value %v: %v", h.name, v, err)
		return nil
	}
	return b
}

func (h *cacheHandler) encEntries(entries []grid.Entry) []remote.ValuePair {
	pairs := make([]remote.ValuePair, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, remote.ValuePair{Key: h.enc(e.Key), Value: h.enc(e.Value)})
	}
	return pairs
}

func (h *cacheHandler) OnMessage(ctx *messaging.ChannelContext, msg messaging.Message) {
	resp, err := h.handle(ctx, msg)
	if err != nil {
		respond(ctx, remote.ErrorResponse(err))
		return
	}
	if resp != nil {
		respond(ctx, resp)
	}
}

// handle executes one request. A nil, nil return means the response is
// deferred to another goroutine.
func (h *cacheHandler) handle(ctx *messaging.ChannelContext, msg messaging.Message) (*remote.Response, error) {
	switch m := msg.(type) {
	case *remote.GetRequest:
		key, err := h.dec(m.Key)
		if err != nil {
			return nil, err
		}
		v, ok, err := h.back.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &remote.Response{}, nil
		}
		return &remote.Response{Present: true, Value: h.enc(v)}, nil

	case *remote.PutRequest:
		key, err := h.dec(m.Key)
		if err != nil {
			return nil, err
		}
		value, err := h.dec(m.Value)
		if err != nil {
			return nil, err
		}
		old, err := h.back.PutWithExpiry(key, value, expiryFromMillis(m.ExpiryMillis))
		if err != nil {
			return nil, err
		}
		return &remote.Response{Value: h.enc(old)}, nil

	case *remote.RemoveRequest:
		key, err := h.dec(m.Key)
		if err != nil {
			return nil, err
		}
		old, err := h.back.Remove(key)
		if err != nil {
			return nil, err
		}
		return &remote.Response{Value: h.enc(old)}, nil

	case *remote.ContainsKeyRequest:
		key, err := h.dec(m.Key)
		if err != nil {
			return nil, err
		}
		ok, err := h.back.ContainsKey(key)
		if err != nil {
			return nil, err
		}
		return &remote.Response{Flag: ok}, nil

	case *remote.SizeRequest:
		n, err := h.back.Size()
		if err != nil {
			return nil, err
		}
		return &remote.Response{Num: int64(n)}, nil

	case *remote.ClearRequest:
		return &remote.Response{}, h.back.Clear()

	case *remote.TruncateRequest:
		return &remote.Response{}, h.back.Truncate()

	case *remote.GetAllRequest:
		keys, err := h.decKeys(m.Keys)
		if err != nil {
			return nil, err
		}
		entries, err := h.back.GetAll(keys)
		if err != nil {
			return nil, err
		}
		return &remote.Response{Pairs: h.encEntries(entries)}, nil

	case *remote.PutAllRequest:
		entries := make([]grid.Entry, 0, len(m.Entries))
		for _, p := range m.Entries {
			k, err := h.dec(p.Key)
			if err != nil {
				return nil, err
			}
			v, err := h.dec(p.Value)
			if err != nil {
				return nil, err
			}
			entries = append(entries, grid.Entry{Key: k, Value: v})
		}
		return &remote.Response{}, h.back.PutAll(entries)

	case *remote.QueryRequest:
		if m.WantEntries {
			entries, err := h.back.Entries(m.Filter)
			if err != nil {
				return nil, err
			}
			return &remote.Response{Pairs: h.encEntries(entries)}, nil
		}
		keys, err := h.back.Keys(m.Filter)
		if err != nil {
			return nil, err
		}
		pairs := make([]remote.ValuePair, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, remote.ValuePair{Key: h.enc(k)})
		}
		return &remote.Response{Pairs: pairs}, nil

	case *remote.ValuesRequest:
		vals, err := h.back.Values(m.Filter, m.Comparator)
		if err != nil {
			return nil, err
		}
		pairs := make([]remote.ValuePair, 0, len(vals))
		for _, v := range vals {
			pairs = append(pairs, remote.ValuePair{Value: h.enc(v)})
		}
		return &remote.Response{Pairs: pairs}, nil

	case *remote.InvokeRequest:
		key, err := h.dec(m.Key)
		if err != nil {
			return nil, err
		}
		res, err := h.back.Invoke(key, m.Processor)
		if err != nil {
			return nil, err
		}
		return &remote.Response{Value: h.enc(res)}, nil

	case *remote.InvokeAllRequest:
		var entries []grid.Entry
		var err error
		if m.ByFilter {
			entries, err = h.back.InvokeAllFilter(m.Filter, m.Processor)
		} else {
			var keys []values.Value
			if keys, err = h.decKeys(m.Keys); err == nil {
				entries, err = h.back.InvokeAllKeys(keys, m.Processor)
			}
		}
		if err != nil {
			return nil, err
		}
		return &remote.Response{Pairs: h.encEntries(entries)}, nil

	case *remote.AggregateRequest:
		var res values.Value
		var err error
		if m.ByFilter {
			res, err = h.back.AggregateFilter(m.Filter, m.Aggregator)
		} else {
			var keys []values.Value
			if keys, err = h.decKeys(m.Keys); err == nil {
				res, err = h.back.AggregateKeys(keys, m.Aggregator)
			}
		}
		if err != nil {
			return nil, err
		}
		return &remote.Response{Value: h.enc(res)}, nil

	case *remote.IndexRequest:
		if m.Add {
			return &remote.Response{}, h.back.AddIndex(m.Extractor, m.Ordered, m.Comparator)
		}
		return &remote.Response{}, h.back.RemoveIndex(m.Extractor)

	case *remote.ListenerRequest:
		return h.handleListener(m)

	case *remote.LockRequest:
		// Lock acquisitions may wait; never block the dispatcher goroutine.
		go h.handleLock(ctx, m)
		return nil, nil

	case *remote.UnlockRequest:
		var ok bool
		var err error
		if m.Global {
			gl, has := h.back.(globalLocker)
			if !has {
				return nil, grid.WrapError(grid.ErrUnsupported, fmt.Errorf("cache %q has no global lease", h.name))
			}
			ok, err = gl.UnlockAll(h.owner())
		} else {
			var key values.Value
			if key, err = h.dec(m.Key); err == nil {
				ok, err = h.back.Unlock(key, h.owner())
			}
		}
		if err != nil {
			return nil, err
		}
		return &remote.Response{Flag: ok}, nil

	default:
		return nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("unexpected %T on cache channel", msg))
	}
}

// The lease owner on the proxy side is the connection, not the individual
// client goroutine.
func (h *cacheHandler) owner() grid.LockOwner {
	return grid.LockOwner(h.conn.ConnectionUUID().String())
}

// globalLocker is the optional global lease surface of the backing cache.
type globalLocker interface {
	LockAll(owner grid.LockOwner, wait time.Duration) (bool, error)
	UnlockAll(owner grid.LockOwner) (bool, error)
}

func (h *cacheHandler) handleLock(ctx *messaging.ChannelContext, m *remote.LockRequest) {
	var wait time.Duration
	switch {
	case m.WaitMillis < 0:
		wait = -1
	case m.WaitMillis > 0:
		wait = time.Duration(m.WaitMillis) * time.Millisecond
	}

	var ok bool
	var err error
	if m.Global {
		gl, has := h.back.(globalLocker)
		if !has {
			respond(ctx, remote.ErrorResponse(grid.WrapError(grid.ErrUnsupported,
				fmt.Errorf("cache %q has no global lease", h.name))))
			return
		}
		ok, err = gl.LockAll(h.owner(), wait)
	} else {
		var key values.Value
		if key, err = h.dec(m.Key); err == nil {
			ok, err = h.back.Lock(key, h.owner(), wait)
		}
	}
	if err != nil {
		respond(ctx, remote.ErrorResponse(err))
		return
	}
	respond(ctx, &remote.Response{Flag: ok})
}

func (h *cacheHandler) handleListener(m *remote.ListenerRequest) (*remote.Response, error) {
	h.mut.Lock()
	defer h.mut.Unlock()

	if m.Add {
		h.relayCount++
		if h.relay == nil {
			relay := &eventRelay{ch: h.ch, name: h.name}
			if err := h.back.AddListener(relay, false); err != nil {
				h.relayCount--
				return nil, err
			}
			h.relay = relay
			// Drop the relay when the connection goes away, whether or not
			// the client deregistered first.
			go func() {
				<-h.conn.Closed()
				_ = h.back.RemoveListener(relay)
			}()
		}
		return &remote.Response{}, nil
	}

	if h.relayCount > 0 {
		h.relayCount--
	}
	if h.relayCount == 0 && h.relay != nil {
		if err := h.back.RemoveListener(h.relay); err != nil {
			return nil, err
		}
		h.relay = nil
	}
	return &remote.Response{}, nil
}

// eventRelay forwards committed cache events to the client as notifications
// on the cache channel. It runs on the cache service's dispatcher
// goroutine; the client does its own key and filter matching.
type eventRelay struct {
	ch   *messaging.Channel
	name string
}

func (r *eventRelay) OnMapEvent(ev grid.MapEvent) {
	ser := r.ch.Serializer()
	enc := func(v values.Value) []byte {
		b, err := ser.Marshal(v)
		if err != nil {
			return nil
		}
		return b
	}
	msg := &remote.MapEventMessage{
		EventType: int32(ev.Type),
		Key:       enc(ev.Key),
		OldValue:  enc(ev.OldValue),
		NewValue:  enc(ev.NewValue),
		Cause:     int32(ev.Cause),
	}
	if err := r.ch.Send(msg); err != nil {
		l.Debugf("cache %q: dropping event relay: %v", r.name, err)
	}
}

// invocationReceiver runs portable tasks. Each task gets its own goroutine
// so slow invocables do not stall the channel.
type invocationReceiver struct{}

func (r *invocationReceiver) OnMessage(ctx *messaging.ChannelContext, msg messaging.Message) {
	m, ok := msg.(*remote.InvocationRequest)
	if !ok {
		respond(ctx, remote.ErrorResponse(grid.WrapError(grid.ErrProtocol,
			fmt.Errorf("unexpected %T on invocation channel", msg))))
		return
	}
	go func() {
		res, err := m.Task.Run()
		if err != nil {
			respond(ctx, remote.ErrorResponse(err))
			return
		}
		b, err := ctx.Channel().Serializer().Marshal(res)
		if err != nil {
			respond(ctx, remote.ErrorResponse(err))
			return
		}
		respond(ctx, &remote.Response{Value: b})
	}()
}

func expiryFromMillis(ms int64) time.Duration {
	switch {
	case ms < 0:
		return grid.ExpiryNever
	case ms == 0:
		return grid.ExpiryDefault
	default:
		return time.Duration(ms) * time.Millisecond
	}
}
