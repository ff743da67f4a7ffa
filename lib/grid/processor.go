// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package grid

import "github.com/gridlink/gridlink/lib/values"

// An EntryView is the mutable view an EntryProcessor operates on. The
// engine holds the per-key lock while the processor runs; the processor's
// effect (SetValue or Remove) is committed when it returns without error.
type EntryView interface {
	Key() values.Value
	Value() values.Value
	Present() bool
	SetValue(v values.Value)
	Remove()
}

// An EntryProcessor runs against a locked entry and returns a result.
type EntryProcessor interface {
	Process(view EntryView) (values.Value, error)
}

// An Aggregator reduces a stream of extracted values to a single result.
// The contract supports a parallel split-and-combine mode, but this engine
// only drives the non-parallel path: Init(true), Process(v, true) per
// entry, Finalize(true). Aggregator instances are stateful per run and must
// not be shared.
type Aggregator interface {
	Init(final bool)
	Process(v values.Value, final bool)
	Finalize(final bool) (values.Value, error)
}
