// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
)

// TLSConfiguration describes how to secure the endpoint pipe. The zero
// value means plaintext; tls and quic endpoints need at least one field
// set (Insecure counts).
type TLSConfiguration struct {
	CertFile   string `xml:"certFile,omitempty"`
	KeyFile    string `xml:"keyFile,omitempty"`
	CAFile     string `xml:"caFile,omitempty"`
	ServerName string `xml:"serverName,omitempty"`
	Insecure   bool   `xml:"insecure,attr,omitempty"`
}

// IsZero reports whether no TLS at all was configured.
func (c TLSConfiguration) IsZero() bool {
	return c == TLSConfiguration{}
}

// ClientConfig builds the tls.Config for dialing, or nil when nothing was
// configured.
func (c TLSConfiguration) ClientConfig() (*tls.Config, error) {
	if c.IsZero() {
		return nil, nil
	}

	cfg := &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.Insecure, //nolint:gosec
		MinVersion:         tls.VersionTLS12,
	}

	if c.CertFile != "" || c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "load client certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "load CA bundle")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %s", c.CAFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
