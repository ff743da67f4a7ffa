// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package proxy serves the cache and invocation protocols over accepted
// connections, backed by the local cache engine. It is what gridping
// --serve runs and what the end-to-end tests dial.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/gridlink/gridlink/lib/cache"
	"github.com/gridlink/gridlink/lib/messaging"
	"github.com/gridlink/gridlink/lib/remote"
)

// A Proxy accepts connections and answers cache service, named cache and
// invocation requests against a cache.Service. Supervise it with suture via
// Serve, or feed it individual pipes with ServeConn.
type Proxy struct {
	lis     net.Listener
	cfg     messaging.ConnectionConfig
	caches  *cache.Service
	auth    messaging.Authenticator
	manager *messaging.Manager
}

// New builds a proxy accepting on lis. lis may be nil when only ServeConn
// is used. A nil authenticator accepts every identity.
func New(lis net.Listener, cfg messaging.ConnectionConfig, caches *cache.Service, auth messaging.Authenticator) *Proxy {
	return &Proxy{
		lis:     lis,
		cfg:     cfg,
		caches:  caches,
		auth:    auth,
		manager: messaging.NewManager(),
	}
}

// Manager exposes the tracked connections.
func (p *Proxy) Manager() *messaging.Manager { return p.manager }

func (p *Proxy) String() string {
	if p.lis == nil {
		return "proxy"
	}
	return "proxy@" + p.lis.Addr().String()
}

// Serve accepts connections until ctx is canceled, then closes every live
// connection. It satisfies suture.Service.
func (p *Proxy) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = p.lis.Close()
	}()

	for {
		conn, err := p.lis.Accept()
		if err != nil {
			p.manager.CloseAll(errors.New("proxy shutting down"))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p.ServeConn(conn)
	}
}

// ServeConn runs the proxy protocols over one accepted pipe. It returns as
// soon as the connection loops are started.
func (p *Proxy) ServeConn(rw io.ReadWriteCloser) *messaging.Connection {
	conn := messaging.NewConnection(rw, messaging.Options{
		Config:       p.cfg,
		Initiator:    false,
		Authenticate: p.auth,
	})
	conn.RegisterReceiver(remote.CacheServiceReceiverName, &cacheServiceReceiver{proxy: p})
	conn.RegisterReceiver(remote.InvocationServiceReceiverName, &invocationReceiver{})
	conn.Start()
	p.manager.Add(conn)
	l.Debugf("%v: serving connection %s", p, conn.ID())
	return conn
}
