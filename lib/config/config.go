// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config holds the client configuration: where to find the grid,
// how to secure the pipe, and the tunables for the connection, the service
// runtime and the cache layer. Configurations round-trip through XML.
package config

import (
	"encoding/xml"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/gridlink/gridlink/lib/cache"
	"github.com/gridlink/gridlink/lib/messaging"
	"github.com/gridlink/gridlink/lib/service"
	"github.com/gridlink/gridlink/lib/util"
)

// CurrentVersion is written to new configurations. Older versions load as
// is; there are no migrations yet.
const CurrentVersion = 1

// Configuration is everything a client needs to reach and use a grid.
type Configuration struct {
	XMLName xml.Name `xml:"configuration"`
	Version int      `xml:"version,attr"`

	// Endpoint is the proxy URI. Supported schemes are tcp, tls, quic and
	// socks+tcp; a missing port means the dialer default.
	Endpoint string `xml:"endpoint" default:"tcp://127.0.0.1:20808"`

	// Identity is the token presented when opening connections and
	// channels. Opaque to the client; the grid side interprets it.
	Identity string `xml:"identity,omitempty"`

	TLS        TLSConfiguration           `xml:"tls"`
	Connection messaging.ConnectionConfig `xml:"connection"`
	Service    service.Config             `xml:"service"`
	Cache      cache.Config               `xml:"cache"`
}

// New returns a configuration with every field at its default.
func New() Configuration {
	var cfg Configuration
	cfg.Version = CurrentVersion
	util.SetDefaults(&cfg)
	return cfg
}

// ReadXML decodes a configuration. Elements absent from the document keep
// their defaults.
func ReadXML(r io.Reader) (Configuration, error) {
	var cfg Configuration
	util.SetDefaults(&cfg)

	if err := xml.NewDecoder(r).Decode(&cfg); err != nil {
		return Configuration{}, err
	}
	// Normalize so a decoded configuration compares equal to a constructed
	// one.
	cfg.XMLName = xml.Name{}
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	return cfg, nil
}

// WriteXML encodes the configuration, indented, with a trailing newline.
func (cfg *Configuration) WriteXML(w io.Writer) error {
	e := xml.NewEncoder(w)
	e.Indent("", "    ")
	if err := e.Encode(cfg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}

// Load reads a configuration file.
func Load(path string) (Configuration, error) {
	fd, err := os.Open(path)
	if err != nil {
		return Configuration{}, err
	}
	defer fd.Close()

	cfg, err := ReadXML(fd)
	if err != nil {
		return Configuration{}, errors.Wrapf(err, "load %s", path)
	}
	l.Debugf("loaded configuration from %s", path)
	return cfg, nil
}

// Save writes the configuration atomically: a temporary file in the target
// directory, then a rename over the destination.
func (cfg *Configuration) Save(path string) error {
	fd, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	tmp := fd.Name()

	if err := cfg.WriteXML(fd); err != nil {
		_ = fd.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := fd.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	l.Debugf("saved configuration to %s", path)
	return nil
}
