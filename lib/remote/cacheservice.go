// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/messaging"
	"github.com/gridlink/gridlink/lib/service"
	"github.com/gridlink/gridlink/lib/sync"
)

// call sends a request on a channel bracketed by the connection gate and
// waits for the typed response. timeout zero uses the channel default,
// negative waits until the slot completes (a closing channel fails it).
func call(ch *messaging.Channel, msg messaging.Message, timeout time.Duration) (*Response, error) {
	gate := ch.Connection().Gate()
	if err := gate.Enter(); err != nil {
		return nil, err
	}
	defer gate.Exit()

	st, err := ch.Request(msg)
	if err != nil {
		return nil, err
	}
	rm, err := st.Await(timeout)
	if err != nil {
		return nil, err
	}
	resp, ok := rm.(*Response)
	if !ok {
		return nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("unexpected %T response to %T", rm, msg))
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// CacheService is the client facade for a remote cache service. EnsureCache
// requests a cache from the proxy and accepts the back-channel the proxy
// mints for it; handles are cached per name until released or destroyed.
type CacheService struct {
	conn *messaging.Connection
	rt   *service.Service
	ch   *messaging.Channel

	mut    sync.Mutex
	caches map[string]*NamedCache
}

// NewCacheService opens the cache service channel on an open connection.
// The runtime's dispatcher delivers map events to listeners registered on
// the caches this service hands out.
func NewCacheService(ctx context.Context, conn *messaging.Connection, rt *service.Service) (*CacheService, error) {
	ch, err := conn.OpenChannel(ctx, CacheServiceProtocolName, CacheServiceReceiverName, nil)
	if err != nil {
		return nil, err
	}
	return &CacheService{
		conn:   conn,
		rt:     rt,
		ch:     ch,
		mut:    sync.NewMutex(),
		caches: make(map[string]*NamedCache),
	}, nil
}

func (s *CacheService) EnsureCache(name string) (grid.NamedCache, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if c, ok := s.caches[name]; ok && !c.isDetached() {
		return c, nil
	}

	resp, err := call(s.ch, &EnsureCacheRequest{Name: name}, 0)
	if err != nil {
		return nil, err
	}

	nc := newNamedCache(name, s)
	ch, err := s.conn.AcceptChannel(context.Background(), resp.URI, messaging.ReceiverFunc(nc.onMessage))
	if err != nil {
		return nil, err
	}
	nc.attach(ch)
	s.caches[name] = nc
	l.Debugf("ensured remote cache %q on %v", name, ch.URI())
	return nc, nil
}

func (s *CacheService) DestroyCache(name string) error {
	s.mut.Lock()
	c, ok := s.caches[name]
	delete(s.caches, name)
	s.mut.Unlock()

	if _, err := call(s.ch, &DestroyCacheRequest{Name: name}, 0); err != nil {
		return err
	}
	if ok {
		c.detach()
	}
	return nil
}

// ReleaseCache drops the local handle. The remote cache and its contents
// are untouched; a later EnsureCache obtains them again.
func (s *CacheService) ReleaseCache(name string) error {
	s.mut.Lock()
	c, ok := s.caches[name]
	delete(s.caches, name)
	s.mut.Unlock()
	if ok {
		c.detach()
	}
	return nil
}

// forget drops a handle that detached itself, e.g. via NamedCache.Release.
func (s *CacheService) forget(name string, c *NamedCache) {
	s.mut.Lock()
	if s.caches[name] == c {
		delete(s.caches, name)
	}
	s.mut.Unlock()
}
