// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package dialer

import (
	"context"
	"net"
	"net/url"
	"testing"
	"time"
)

func TestDialTCP(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer lis.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, "tcp://"+lis.Addr().String(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	srv := <-accepted
	defer srv.Close()
	buf := make([]byte, 5)
	if _, err := srv.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Errorf("got %q", buf)
	}
}

func TestDialUnknownScheme(t *testing.T) {
	_, err := Dial(context.Background(), "carrierpigeon://somewhere:1", nil)
	if err == nil {
		t.Fatal("expected an error for an unregistered scheme")
	}
}

func TestDialTLSRequiresConfig(t *testing.T) {
	_, err := Dial(context.Background(), "tls://127.0.0.1:1", nil)
	if err == nil {
		t.Fatal("expected an error when dialing tls without a TLS configuration")
	}
}

func TestDialQUICRequiresConfig(t *testing.T) {
	_, err := Dial(context.Background(), "quic://127.0.0.1:1", nil)
	if err == nil {
		t.Fatal("expected an error when dialing quic without a TLS configuration")
	}
}

func TestFixupPort(t *testing.T) {
	cases := [][2]string{
		{"tcp://1.2.3.4:5", "tcp://1.2.3.4:5"},
		{"tcp://1.2.3.4:", "tcp://1.2.3.4:20808"},
		{"tcp://1.2.3.4", "tcp://1.2.3.4:20808"},
		{"tcp://[fe80::1]", "tcp://[fe80::1]:20808"},
		{"tcp://[fe80::1]:5", "tcp://[fe80::1]:5"},
	}

	for _, tc := range cases {
		u, err := url.Parse(tc[0])
		if err != nil {
			t.Fatal(err)
		}
		res := fixupPort(u, DefaultPort).String()
		if res != tc[1] {
			t.Errorf("fixupPort(%q) => %q, expected %q", tc[0], res, tc[1])
		}
	}
}
