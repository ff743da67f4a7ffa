// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package serializer converts cache values to and from their byte
// representation. Serializers are registered by name; a channel negotiates
// the serializer name at open time and both peers resolve it here.
package serializer

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gridlink/gridlink/lib/values"
)

// Default is the serializer name used when the configuration names none.
const Default = "binary"

type Serializer interface {
	Name() string
	Marshal(v values.Value) ([]byte, error)
	Unmarshal(data []byte) (values.Value, error)
}

var registry = xsync.NewMapOf[string, Serializer]()

// Register makes a serializer resolvable by name. Duplicate registration
// panics; it is a programming error.
func Register(s Serializer) {
	if _, loaded := registry.LoadOrStore(s.Name(), s); loaded {
		panic(fmt.Sprintf("duplicate serializer %q", s.Name()))
	}
}

// Get resolves a serializer by name. The empty name resolves the default.
func Get(name string) (Serializer, error) {
	if name == "" {
		name = Default
	}
	s, ok := registry.Load(name)
	if !ok {
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
	return s, nil
}

func init() {
	Register(&binarySerializer{})
	Register(&xdrSerializer{})
	Register(&lz4Serializer{name: "lz4", inner: &binarySerializer{}})
}
