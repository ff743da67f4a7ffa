// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/d4l3k/messagediff"
)

func TestDefaults(t *testing.T) {
	cfg := New()

	if cfg.Version != CurrentVersion {
		t.Errorf("version %d != %d", cfg.Version, CurrentVersion)
	}
	if cfg.Endpoint != "tcp://127.0.0.1:20808" {
		t.Errorf("unexpected default endpoint %q", cfg.Endpoint)
	}
	if cfg.Connection.OpenTimeoutMillis != 30000 {
		t.Errorf("unexpected default open timeout %d", cfg.Connection.OpenTimeoutMillis)
	}
	if cfg.Connection.SerializerName != "binary" {
		t.Errorf("unexpected default serializer %q", cfg.Connection.SerializerName)
	}
	if cfg.Cache.PruneLevel != 0.75 {
		t.Errorf("unexpected default prune level %v", cfg.Cache.PruneLevel)
	}
	if cfg.Service.CloggedCount != 1024 {
		t.Errorf("unexpected default clogged count %d", cfg.Service.CloggedCount)
	}
	if !cfg.TLS.IsZero() {
		t.Errorf("expected zero TLS configuration, got %+v", cfg.TLS)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := New()
	cfg.Endpoint = "tls://grid.example.com:12345"
	cfg.Identity = "s3cret"
	cfg.TLS = TLSConfiguration{
		CAFile:     "/etc/gridlink/ca.pem",
		ServerName: "grid.example.com",
	}
	cfg.Connection.PingIntervalMillis = 15000
	cfg.Connection.MaxRecvKbps = 512
	cfg.Cache.HighUnits = 10000
	cfg.Cache.EvictionPolicy = "lru"
	cfg.Service.RequestTimeoutMillis = 5000

	path := filepath.Join(t.TempDir(), "gridlink.xml")
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff, equal := messagediff.PrettyDiff(cfg, loaded); !equal {
		t.Errorf("configuration did not round-trip:\n%s", diff)
	}
}

func TestReadXMLKeepsDefaults(t *testing.T) {
	doc := `<configuration version="1">
    <endpoint>quic://grid.example.com</endpoint>
</configuration>`

	cfg, err := ReadXML(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint != "quic://grid.example.com" {
		t.Errorf("unexpected endpoint %q", cfg.Endpoint)
	}
	if cfg.Connection.SerializerName != "binary" {
		t.Errorf("absent elements should keep defaults, got serializer %q", cfg.Connection.SerializerName)
	}
	if cfg.Connection.MaxFrameBytes != 67108864 {
		t.Errorf("absent elements should keep defaults, got max frame %d", cfg.Connection.MaxFrameBytes)
	}
	if cfg.Cache.EvictionPolicy != "hybrid" {
		t.Errorf("absent elements should keep defaults, got policy %q", cfg.Cache.EvictionPolicy)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gridlink.xml")

	cfg := New()
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	cfg.Endpoint = "tcp://other.example.com:1"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the config file in %s, found %d entries", dir, len(entries))
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Endpoint != "tcp://other.example.com:1" {
		t.Errorf("unexpected endpoint %q after rewrite", loaded.Endpoint)
	}
}

func TestTLSClientConfig(t *testing.T) {
	if cfg, err := (TLSConfiguration{}).ClientConfig(); err != nil || cfg != nil {
		t.Errorf("zero TLS configuration should yield nil, got %v, %v", cfg, err)
	}

	tc := TLSConfiguration{ServerName: "grid.example.com", Insecure: true}
	cfg, err := tc.ClientConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerName != "grid.example.com" || !cfg.InsecureSkipVerify {
		t.Errorf("unexpected tls.Config %+v", cfg)
	}

	if _, err := (TLSConfiguration{CAFile: filepath.Join(t.TempDir(), "absent.pem")}).ClientConfig(); err == nil {
		t.Error("expected an error for a missing CA file")
	}
}
