// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package cache

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/gridlink/gridlink/lib/events"
	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/sync"
)

// Service is the in-process grid.CacheService. All caches it hands out
// share one event dispatcher, so listener callbacks across caches come from
// a single goroutine, same as the remote service.
type Service struct {
	cfg   Config
	clock clockwork.Clock
	disp  *events.Dispatcher

	mut    sync.Mutex
	caches map[string]*LocalCache
}

func NewService(cfg Config, clock clockwork.Clock) *Service {
	return &Service{
		cfg:    cfg,
		clock:  clock,
		disp:   events.NewDispatcher(),
		mut:    sync.NewMutex(),
		caches: make(map[string]*LocalCache),
	}
}

// Serve runs the shared event dispatcher until ctx is canceled.
func (s *Service) Serve(ctx context.Context) error {
	return s.disp.Serve(ctx)
}

func (s *Service) String() string { return "cache.Service" }

// Dispatcher exposes the shared dispatcher, mainly so callers can Flush in
// tests and the proxy can reuse it.
func (s *Service) Dispatcher() *events.Dispatcher { return s.disp }

func (s *Service) EnsureCache(name string) (grid.NamedCache, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if c, ok := s.caches[name]; ok && !c.isDestroyed() {
		return c, nil
	}
	c, err := NewLocalCache(name, s.cfg, s.clock, s.disp)
	if err != nil {
		return nil, err
	}
	s.caches[name] = c
	l.Debugf("ensured cache %q", name)
	events.Default.Log(events.CacheCreated, map[string]string{"cache": name})
	return c, nil
}

func (s *Service) DestroyCache(name string) error {
	s.mut.Lock()
	c, ok := s.caches[name]
	delete(s.caches, name)
	s.mut.Unlock()
	if !ok {
		return nil
	}
	return c.Destroy()
}

// ReleaseCache detaches the handle; the cache and its contents stay, and a
// later EnsureCache returns them again.
func (s *Service) ReleaseCache(name string) error {
	s.mut.Lock()
	c, ok := s.caches[name]
	s.mut.Unlock()
	if !ok {
		return nil
	}
	return c.Release()
}
