// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package dialer resolves endpoint URIs into byte pipes suitable for
// messaging connections. Schemes live in a registry; tcp, tls, quic and
// socks+tcp ship with the package and embedders may register their own.
package dialer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gridlink/gridlink/lib/sync"
)

// DefaultPort is assumed when an endpoint URI carries no port.
const DefaultPort = 20808

// A Dialer turns one endpoint URI scheme into a byte pipe. The TLS
// configuration is nil for plaintext schemes.
type Dialer interface {
	Dial(ctx context.Context, uri *url.URL, tlsCfg *tls.Config) (io.ReadWriteCloser, error)
}

var (
	mut     = sync.NewMutex()
	dialers = make(map[string]Dialer)
)

// Register adds a dialer for a URI scheme. Registering a scheme twice is a
// programming error and panics.
func Register(scheme string, d Dialer) {
	mut.Lock()
	defer mut.Unlock()
	if _, ok := dialers[scheme]; ok {
		panic("dialer: duplicate registration of scheme " + scheme)
	}
	dialers[scheme] = d
}

func lookup(scheme string) (Dialer, bool) {
	mut.Lock()
	defer mut.Unlock()
	d, ok := dialers[scheme]
	return d, ok
}

// Dial parses the endpoint URI and hands it to the dialer registered for
// its scheme. A missing port becomes DefaultPort.
func Dial(ctx context.Context, endpoint string, tlsCfg *tls.Config) (io.ReadWriteCloser, error) {
	uri, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "parse endpoint")
	}
	d, ok := lookup(uri.Scheme)
	if !ok {
		return nil, fmt.Errorf("unknown endpoint scheme %q", uri.Scheme)
	}
	uri = fixupPort(uri, DefaultPort)
	l.Debugf("dialing %v", uri)
	return d.Dial(ctx, uri, tlsCfg)
}

func fixupPort(uri *url.URL, defaultPort int) *url.URL {
	copyURI := *uri

	host, port, err := net.SplitHostPort(uri.Host)
	if err != nil && strings.Contains(err.Error(), "missing port") {
		// addr is on the form "1.2.3.4" or "[fe80::1]"
		host = uri.Host
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			// net.JoinHostPort will add the brackets again
			host = host[1 : len(host)-1]
		}
		copyURI.Host = net.JoinHostPort(host, strconv.Itoa(defaultPort))
	} else if err == nil && port == "" {
		// addr is on the form "1.2.3.4:" or "[fe80::1]:"
		copyURI.Host = net.JoinHostPort(host, strconv.Itoa(defaultPort))
	}

	return &copyURI
}

// setTCPOptions applies our defaults to freshly dialed TCP connections.
func setTCPOptions(conn net.Conn) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcp.SetLinger(0); err != nil {
		return err
	}
	if err := tcp.SetNoDelay(true); err != nil {
		return err
	}
	if err := tcp.SetKeepAlivePeriod(60 * time.Second); err != nil {
		return err
	}
	return tcp.SetKeepAlive(true)
}
