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
	"time"
)

const tcpDialTimeout = 10 * time.Second

func init() {
	Register("tcp", tcpDialer{})
	Register("tls", tlsDialer{})
}

type tcpDialer struct{}

func (tcpDialer) Dial(ctx context.Context, uri *url.URL, _ *tls.Config) (io.ReadWriteCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, tcpDialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", uri.Host)
	if err != nil {
		return nil, err
	}
	if err := setTCPOptions(conn); err != nil {
		l.Debugln("dial (tcp): setting tcp options:", err)
	}
	return conn, nil
}

type tlsDialer struct{}

func (tlsDialer) Dial(ctx context.Context, uri *url.URL, tlsCfg *tls.Config) (io.ReadWriteCloser, error) {
	if tlsCfg == nil {
		return nil, errors.New("tls endpoint requires a TLS configuration")
	}

	conn, err := (tcpDialer{}).Dial(ctx, uri, nil)
	if err != nil {
		return nil, err
	}

	cfg := tlsCfg.Clone()
	if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		host, _, err := net.SplitHostPort(uri.Host)
		if err != nil {
			host = uri.Host
		}
		cfg.ServerName = host
	}

	tc := tls.Client(conn.(net.Conn), cfg)
	hsCtx, cancel := context.WithTimeout(ctx, tcpDialTimeout)
	defer cancel()
	if err := tc.HandshakeContext(hsCtx); err != nil {
		_ = tc.Close()
		return nil, err
	}
	return tc, nil
}
