// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package filters

import (
	"fmt"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/values"
	"github.com/gridlink/gridlink/lib/wire"
)

// ValueUpdater unconditionally stores Value, returning the previous value
// (None when the entry was absent).
type ValueUpdater struct {
	Value values.Value
}

func (p ValueUpdater) Process(view grid.EntryView) (values.Value, error) {
	old := values.None()
	if view.Present() {
		old = view.Value()
	}
	view.SetValue(p.Value)
	return old, nil
}

func (p ValueUpdater) TypeTag() int32 { return tagValueUpdater }

func (p ValueUpdater) EncodeTo(w *wire.Writer) {
	p.Value.EncodeTo(w)
}

func (p *ValueUpdater) DecodeFrom(r *wire.Reader) error {
	p.Value = values.DecodeValue(r)
	return r.Err()
}

// ConditionalRemove removes the entry when Filter matches it, returning
// whether it did. A nil Filter matches everything.
type ConditionalRemove struct {
	Filter grid.Filter
}

func (p ConditionalRemove) Process(view grid.EntryView) (values.Value, error) {
	if !view.Present() {
		return values.Bool(false), nil
	}
	e := grid.Entry{Key: view.Key(), Value: view.Value()}
	if p.Filter != nil && !p.Filter.Evaluate(e) {
		return values.Bool(false), nil
	}
	view.Remove()
	return values.Bool(true), nil
}

func (p ConditionalRemove) TypeTag() int32 { return tagConditionalRemove }

func (p ConditionalRemove) EncodeTo(w *wire.Writer) {
	encodeFilter(w, p.Filter)
}

func (p *ConditionalRemove) DecodeFrom(r *wire.Reader) error {
	f, err := decodeFilter(r)
	if err != nil {
		return err
	}
	p.Filter = f
	return nil
}

// NumberIncrementor adds Delta to the entry's numeric value and stores the
// result. An absent entry counts as zero. It returns the previous value when
// PostIncrement is set, the new value otherwise.
type NumberIncrementor struct {
	Delta         values.Value
	PostIncrement bool
}

func (p NumberIncrementor) Process(view grid.EntryView) (values.Value, error) {
	cur := values.Int64(0)
	if view.Present() {
		cur = view.Value()
	}
	next, err := addNumeric(cur, p.Delta)
	if err != nil {
		return values.None(), err
	}
	view.SetValue(next)
	if p.PostIncrement {
		return cur, nil
	}
	return next, nil
}

func (p NumberIncrementor) TypeTag() int32 { return tagNumberIncrementor }

func (p NumberIncrementor) EncodeTo(w *wire.Writer) {
	p.Delta.EncodeTo(w)
	w.WriteBool(p.PostIncrement)
}

func (p *NumberIncrementor) DecodeFrom(r *wire.Reader) error {
	p.Delta = values.DecodeValue(r)
	p.PostIncrement = r.ReadBool()
	return r.Err()
}

func isIntKind(k values.Kind) bool {
	return k == values.KindInt32 || k == values.KindInt64
}

func addNumeric(a, b values.Value) (values.Value, error) {
	if isIntKind(a.Kind()) && isIntKind(b.Kind()) {
		return values.Int64(a.Int64() + b.Int64()), nil
	}
	af, aok := values.Convert(a, values.KindFloat64)
	bf, bok := values.Convert(b, values.KindFloat64)
	if !aok || !bok {
		return values.None(), fmt.Errorf("cannot add %v and %v", a.Kind(), b.Kind())
	}
	return values.Float64(af.Float64() + bf.Float64()), nil
}
