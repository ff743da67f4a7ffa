// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command gridping dials a grid proxy, opens a connection and measures
// control channel round trips. With --serve it spins up an in-process
// proxy first and pings that, which makes it a handy smoke test.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	"github.com/thejerf/suture/v4"

	_ "github.com/gridlink/gridlink/lib/automaxprocs"
	"github.com/gridlink/gridlink/lib/cache"
	"github.com/gridlink/gridlink/lib/config"
	"github.com/gridlink/gridlink/lib/dialer"
	"github.com/gridlink/gridlink/lib/messaging"
	"github.com/gridlink/gridlink/lib/proxy"
)

type cli struct {
	ConfigFile string        `name:"config" help:"Configuration file to load" env:"GRIDLINK_CONFIG" placeholder:"PATH"`
	Endpoint   string        `help:"Proxy endpoint URI, overriding the configuration" placeholder:"URI"`
	Count      int           `help:"Number of pings to send" default:"10"`
	Interval   time.Duration `help:"Delay between pings" default:"1s"`
	Timeout    time.Duration `help:"Per-ping timeout" default:"5s"`
	Serve      bool          `help:"Run an in-process proxy and ping that"`
	Listen     string        `help:"Listen address for --serve" default:"127.0.0.1:0"`
}

func main() {
	var params cli
	kong.Parse(&params)

	if err := run(params); err != nil {
		fmt.Fprintln(os.Stderr, "gridping:", err)
		os.Exit(1)
	}
}

func run(params cli) error {
	cfg := config.New()
	if params.ConfigFile != "" {
		var err error
		cfg, err = config.Load(params.ConfigFile)
		if err != nil {
			return err
		}
	}
	if params.Endpoint != "" {
		cfg.Endpoint = params.Endpoint
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if params.Serve {
		endpoint, err := serveProxy(ctx, params.Listen, cfg)
		if err != nil {
			return err
		}
		cfg.Endpoint = endpoint
	}

	tlsCfg, err := cfg.TLS.ClientConfig()
	if err != nil {
		return err
	}

	fmt.Printf("dialing %s\n", cfg.Endpoint)
	rw, err := dialer.Dial(ctx, cfg.Endpoint, tlsCfg)
	if err != nil {
		return err
	}

	conn := messaging.NewConnection(rw, messaging.Options{
		Config:    cfg.Connection,
		Initiator: true,
		Identity:  []byte(cfg.Identity),
	})
	conn.Start()

	openCtx, openCancel := context.WithTimeout(ctx, cfg.Connection.OpenTimeout())
	err = conn.Open(openCtx)
	openCancel()
	if err != nil {
		return err
	}
	defer conn.Close(nil)

	fmt.Printf("connected, connection uuid %s\n", conn.ConnectionUUID())

	return ping(conn, params)
}

// ping sends count pings on the control channel and prints the stats.
func ping(conn *messaging.Connection, params cli) error {
	var sent, received int
	var total, min, max time.Duration

	for i := 0; i < params.Count; i++ {
		if i > 0 {
			time.Sleep(params.Interval)
		}

		sent++
		t0 := time.Now()
		st, err := conn.ControlChannel().Request(&messaging.PingRequest{})
		if err != nil {
			return err
		}
		if _, err := st.Await(params.Timeout); err != nil {
			fmt.Printf("ping %d: %v\n", i+1, err)
			continue
		}
		rtt := time.Since(t0)

		received++
		total += rtt
		if min == 0 || rtt < min {
			min = rtt
		}
		if rtt > max {
			max = rtt
		}
		fmt.Printf("ping %d: %v\n", i+1, rtt)
	}

	stats := conn.Statistics()
	fmt.Printf("\n%d sent, %d received, %.0f%% loss\n", sent, received, 100*float64(sent-received)/float64(sent))
	if received > 0 {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n", min, total/time.Duration(received), max)
	}
	fmt.Printf("%d bytes in, %d bytes out\n", stats.InBytesTotal, stats.OutBytesTotal)

	if received < sent {
		return fmt.Errorf("lost %d of %d pings", sent-received, sent)
	}
	return nil
}

// serveProxy starts a supervised in-process proxy and returns its endpoint.
func serveProxy(ctx context.Context, listen string, cfg config.Configuration) (string, error) {
	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return "", err
	}

	caches := cache.NewService(cfg.Cache, clockwork.NewRealClock())
	p := proxy.New(lis, cfg.Connection, caches, nil)

	spv := suture.New("gridping", suture.Spec{})
	spv.Add(caches)
	spv.Add(p)
	spv.ServeBackground(ctx)

	endpoint := "tcp://" + lis.Addr().String()
	fmt.Printf("serving in-process proxy at %s\n", endpoint)
	return endpoint, nil
}
