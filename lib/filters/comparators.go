// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package filters

import (
	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/values"
	"github.com/gridlink/gridlink/lib/wire"
)

// Reverse inverts another comparator. A nil Inner reverses the natural
// ordering.
type Reverse struct {
	Inner grid.Comparator
}

func (c Reverse) Compare(a, b values.Value) int {
	if c.Inner == nil {
		return b.Compare(a)
	}
	return c.Inner.Compare(b, a)
}

func (c Reverse) TypeTag() int32 { return tagReverseComparator }

func (c Reverse) EncodeTo(w *wire.Writer) {
	encodeComparator(w, c.Inner)
}

func (c *Reverse) DecodeFrom(r *wire.Reader) error {
	inner, err := decodeComparator(r)
	if err != nil {
		return err
	}
	c.Inner = inner
	return nil
}

// Extracted compares entries' values by an extracted attribute, in the
// natural ordering. Extraction failures sort first.
type Extracted struct {
	Extractor grid.Extractor
}

func (c Extracted) Compare(a, b values.Value) int {
	av, aerr := c.Extractor.Extract(grid.Entry{Value: a})
	bv, berr := c.Extractor.Extract(grid.Entry{Value: b})
	switch {
	case aerr != nil && berr != nil:
		return 0
	case aerr != nil:
		return -1
	case berr != nil:
		return 1
	}
	return av.Compare(bv)
}

func (c Extracted) TypeTag() int32 { return tagExtractedComparator }

func (c Extracted) EncodeTo(w *wire.Writer) {
	encodeExtractor(w, c.Extractor)
}

func (c *Extracted) DecodeFrom(r *wire.Reader) error {
	x, err := decodeExtractor(r)
	if err != nil {
		return err
	}
	c.Extractor = x
	return nil
}

// FuncComparator wraps a user function. It is not portable; usable with the
// local engine only.
type FuncComparator struct {
	Fn func(a, b values.Value) int
}

func (c FuncComparator) Compare(a, b values.Value) int { return c.Fn(a, b) }
