// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package dialer

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/url"

	"golang.org/x/net/proxy"
)

func init() {
	Register("socks+tcp", socksDialer{})
}

// socksDialer reaches the grid through a SOCKS5 proxy. The proxy address
// comes from the environment (ALL_PROXY et al); the URI host is the final
// destination.
type socksDialer struct{}

func (socksDialer) Dial(ctx context.Context, uri *url.URL, _ *tls.Config) (io.ReadWriteCloser, error) {
	env := proxy.FromEnvironment()
	d, ok := env.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("environment proxy does not support context dialing")
	}
	conn, err := d.DialContext(ctx, "tcp", uri.Host)
	if err != nil {
		return nil, err
	}
	if err := setTCPOptions(conn); err != nil {
		l.Debugln("dial (socks+tcp): setting tcp options:", err)
	}
	if env == proxy.Direct {
		return conn, nil
	}
	// Proxied connections report the proxy in RemoteAddr, which confuses
	// anything keying on the peer address. Pin the intended destination.
	return proxiedConn{conn, resolveAddr("tcp", uri.Host)}, nil
}

type proxiedConn struct {
	net.Conn

	addr net.Addr
}

func (c proxiedConn) RemoteAddr() net.Addr { return c.addr }

func resolveAddr(network, addr string) net.Addr {
	if tcpAddr, err := net.ResolveTCPAddr(network, addr); err == nil {
		return tcpAddr
	}
	return fallbackAddr{network, addr}
}

type fallbackAddr struct {
	network string
	addr    string
}

func (a fallbackAddr) Network() string { return a.network }
func (a fallbackAddr) String() string  { return a.addr }
