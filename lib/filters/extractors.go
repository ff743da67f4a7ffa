// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package filters provides the built-in extractors, filters and comparators
// used by queries, indices and filtered listeners. The built-ins are
// portable: they carry a type tag and encode their own fields, so a remote
// peer can reconstruct and evaluate them.
package filters

import (
	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/values"
	"github.com/gridlink/gridlink/lib/wire"
)

// IdentityExtractor extracts the entry value itself.
type IdentityExtractor struct{}

func (IdentityExtractor) Extract(e grid.Entry) (values.Value, error) { return e.Value, nil }
func (IdentityExtractor) ID() string                                 { return "identity" }

func (IdentityExtractor) TypeTag() int32               { return tagIdentityExtractor }
func (IdentityExtractor) EncodeTo(*wire.Writer)        {}
func (*IdentityExtractor) DecodeFrom(*wire.Reader) error { return nil }

// KeyExtractor extracts the entry key.
type KeyExtractor struct{}

func (KeyExtractor) Extract(e grid.Entry) (values.Value, error) { return e.Key, nil }
func (KeyExtractor) ID() string                                  { return "key" }

func (KeyExtractor) TypeTag() int32                 { return tagKeyExtractor }
func (KeyExtractor) EncodeTo(*wire.Writer)          {}
func (*KeyExtractor) DecodeFrom(*wire.Reader) error { return nil }

// FuncExtractor wraps a user function. It is not portable; usable with the
// local engine only.
type FuncExtractor struct {
	Name string
	Fn   func(e grid.Entry) (values.Value, error)
}

func (x FuncExtractor) Extract(e grid.Entry) (values.Value, error) { return x.Fn(e) }
func (x FuncExtractor) ID() string                                  { return "func:" + x.Name }
