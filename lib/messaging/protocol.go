// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package messaging

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// ControlProtocolName is the reserved protocol spoken on channel 0.
const ControlProtocolName = "ControlProtocol"

// A Protocol is a named, versioned message vocabulary. The factory allocates
// empty messages for a negotiated version.
type Protocol struct {
	Name        string
	VersionLow  int32
	VersionHigh int32
	Factory     func(version int32) MessageFactory
}

// Supports reports whether the protocol supports the given version.
func (p *Protocol) Supports(version int32) bool {
	return version >= p.VersionLow && version <= p.VersionHigh
}

// Negotiate picks the version to use against a peer supporting [low, high],
// or false when the ranges do not overlap.
func (p *Protocol) Negotiate(low, high int32) (int32, bool) {
	if high < p.VersionLow || low > p.VersionHigh {
		return 0, false
	}
	if high > p.VersionHigh {
		high = p.VersionHigh
	}
	return high, true
}

// The process-wide protocol registry. Registration happens at init time,
// before any connection opens; lookups afterwards are lock-free.
var protocols = xsync.NewMapOf[string, *Protocol]()

// RegisterProtocol adds a protocol to the registry. Duplicate names and the
// reserved control protocol name panic.
func RegisterProtocol(p *Protocol) {
	if p.Name == ControlProtocolName {
		panic("cannot register the reserved control protocol")
	}
	registerProtocol(p)
}

func registerProtocol(p *Protocol) {
	if p.Name == "" {
		panic("protocol must have a name")
	}
	if p.Factory == nil {
		panic(fmt.Sprintf("protocol %s has no factory", p.Name))
	}
	if _, loaded := protocols.LoadOrStore(p.Name, p); loaded {
		panic(fmt.Sprintf("duplicate protocol %s", p.Name))
	}
}

// LookupProtocol returns a registered protocol by name.
func LookupProtocol(name string) (*Protocol, bool) {
	return protocols.Load(name)
}
