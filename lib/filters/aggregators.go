// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package filters

import (
	"github.com/gridlink/gridlink/lib/values"
	"github.com/gridlink/gridlink/lib/wire"
)

// The built-in aggregators carry no configuration, so their portable form is
// just the type tag. Run state lives in unexported fields reset by Init.

// Count counts processed values.
type Count struct {
	n int64
}

func (a *Count) Init(bool)                  { a.n = 0 }
func (a *Count) Process(values.Value, bool) { a.n++ }
func (a *Count) Finalize(bool) (values.Value, error) {
	return values.Int64(a.n), nil
}

func (a *Count) TypeTag() int32               { return tagCountAggregator }
func (a *Count) EncodeTo(*wire.Writer)        {}
func (a *Count) DecodeFrom(*wire.Reader) error { return nil }

// Sum sums numeric values. Integers accumulate exactly; the first float or
// decimal switches the accumulator to float64. Non-numeric values are
// skipped.
type Sum struct {
	i       int64
	f       float64
	isFloat bool
}

func (a *Sum) Init(bool) {
	a.i, a.f, a.isFloat = 0, 0, false
}

func (a *Sum) Process(v values.Value, _ bool) {
	if isIntKind(v.Kind()) && !a.isFloat {
		a.i += v.Int64()
		return
	}
	f, ok := values.Convert(v, values.KindFloat64)
	if !ok {
		return
	}
	if !a.isFloat {
		a.f = float64(a.i)
		a.isFloat = true
	}
	a.f += f.Float64()
}

func (a *Sum) Finalize(bool) (values.Value, error) {
	if a.isFloat {
		return values.Float64(a.f), nil
	}
	return values.Int64(a.i), nil
}

func (a *Sum) TypeTag() int32                { return tagSumAggregator }
func (a *Sum) EncodeTo(*wire.Writer)         {}
func (a *Sum) DecodeFrom(*wire.Reader) error { return nil }

// Min keeps the smallest value in the natural ordering. None when no values
// were processed.
type Min struct {
	cur values.Value
	any bool
}

func (a *Min) Init(bool) { a.cur, a.any = values.None(), false }

func (a *Min) Process(v values.Value, _ bool) {
	if !a.any || v.Compare(a.cur) < 0 {
		a.cur, a.any = v, true
	}
}

func (a *Min) Finalize(bool) (values.Value, error) { return a.cur, nil }

func (a *Min) TypeTag() int32                { return tagMinAggregator }
func (a *Min) EncodeTo(*wire.Writer)         {}
func (a *Min) DecodeFrom(*wire.Reader) error { return nil }

// Max keeps the largest value in the natural ordering. None when no values
// were processed.
type Max struct {
	cur values.Value
	any bool
}

func (a *Max) Init(bool) { a.cur, a.any = values.None(), false }

func (a *Max) Process(v values.Value, _ bool) {
	if !a.any || v.Compare(a.cur) > 0 {
		a.cur, a.any = v, true
	}
}

func (a *Max) Finalize(bool) (values.Value, error) { return a.cur, nil }

func (a *Max) TypeTag() int32                { return tagMaxAggregator }
func (a *Max) EncodeTo(*wire.Writer)         {}
func (a *Max) DecodeFrom(*wire.Reader) error { return nil }

// Average averages numeric values as float64. None when no numeric values
// were processed.
type Average struct {
	sum float64
	n   int64
}

func (a *Average) Init(bool) { a.sum, a.n = 0, 0 }

func (a *Average) Process(v values.Value, _ bool) {
	f, ok := values.Convert(v, values.KindFloat64)
	if !ok {
		return
	}
	a.sum += f.Float64()
	a.n++
}

func (a *Average) Finalize(bool) (values.Value, error) {
	if a.n == 0 {
		return values.None(), nil
	}
	return values.Float64(a.sum / float64(a.n)), nil
}

func (a *Average) TypeTag() int32                { return tagAverageAggregator }
func (a *Average) EncodeTo(*wire.Writer)         {}
func (a *Average) DecodeFrom(*wire.Reader) error { return nil }

// Distinct counts distinct values.
type Distinct struct {
	seen map[values.Key]struct{}
}

func (a *Distinct) Init(bool) { a.seen = make(map[values.Key]struct{}) }

func (a *Distinct) Process(v values.Value, _ bool) {
	if a.seen == nil {
		a.seen = make(map[values.Key]struct{})
	}
	a.seen[v.MapKey()] = struct{}{}
}

func (a *Distinct) Finalize(bool) (values.Value, error) {
	return values.Int64(int64(len(a.seen))), nil
}

func (a *Distinct) TypeTag() int32                { return tagDistinctAggregator }
func (a *Distinct) EncodeTo(*wire.Writer)         {}
func (a *Distinct) DecodeFrom(*wire.Reader) error { return nil }
