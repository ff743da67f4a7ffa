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
	"net/url"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// The timeout for dialing the session and opening the stream.
	quicOperationTimeout = 10 * time.Second

	quicALPN = "gridlink"
)

var quicConfig = &quic.Config{
	MaxIdleTimeout:  60 * time.Second,
	KeepAlivePeriod: 15 * time.Second,
}

func init() {
	Register("quic", quicDialer{})
}

// quicDialer carries the messaging byte stream over a single bidirectional
// QUIC stream.
type quicDialer struct{}

func (quicDialer) Dial(ctx context.Context, uri *url.URL, tlsCfg *tls.Config) (io.ReadWriteCloser, error) {
	if tlsCfg == nil {
		return nil, errors.New("quic endpoint requires a TLS configuration")
	}
	cfg := tlsCfg.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{quicALPN}
	}

	ctx, cancel := context.WithTimeout(ctx, quicOperationTimeout)
	defer cancel()

	session, err := quic.DialAddr(ctx, uri.Host, cfg, quicConfig)
	if err != nil {
		return nil, err
	}
	stream, err := session.OpenStreamSync(ctx)
	if err != nil {
		_ = session.CloseWithError(1, err.Error())
		return nil, err
	}
	return &quicStreamConn{session, stream}, nil
}

type quicStreamConn struct {
	session quic.Connection
	quic.Stream
}

func (q *quicStreamConn) Close() error {
	serr := q.Stream.Close()
	qerr := q.session.CloseWithError(0, "closed")
	if serr != nil {
		return serr
	}
	return qerr
}
