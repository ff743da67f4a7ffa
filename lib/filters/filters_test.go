// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package filters

import (
	"errors"
	"testing"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/values"
	"github.com/gridlink/gridlink/lib/wire"
)

func entry(k, v values.Value) grid.Entry {
	return grid.Entry{Key: k, Value: v}
}

func TestFilterEvaluate(t *testing.T) {
	e := entry(values.String("k"), values.Int64(42))

	cases := []struct {
		name   string
		filter grid.Filter
		want   bool
	}{
		{"always", Always{}, true},
		{"never", Never{}, false},
		{"equals match", Equals{IdentityExtractor{}, values.Int64(42)}, true},
		{"equals mismatch", Equals{IdentityExtractor{}, values.Int64(43)}, false},
		{"equals key", Equals{KeyExtractor{}, values.String("k")}, true},
		{"not", Not{Never{}}, true},
		{"and", And{[]grid.Filter{Always{}, Equals{IdentityExtractor{}, values.Int64(42)}}}, true},
		{"and short", And{[]grid.Filter{Never{}, Always{}}}, false},
		{"or", Or{[]grid.Filter{Never{}, Always{}}}, true},
		{"or none", Or{[]grid.Filter{Never{}, Never{}}}, false},
	}
	for _, tc := range cases {
		if got := tc.filter.Evaluate(e); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEqualsExtractionFailure(t *testing.T) {
	x := FuncExtractor{Name: "boom", Fn: func(grid.Entry) (values.Value, error) {
		return values.None(), errTest
	}}
	f := Equals{x, values.Int64(1)}
	if f.Evaluate(entry(values.Int64(1), values.Int64(1))) {
		t.Error("extraction failure should evaluate as no match")
	}
}

var errTest = errors.New("extraction failed")

func TestPattern(t *testing.T) {
	f, err := NewPattern(IdentityExtractor{}, "foo*")
	if err != nil {
		t.Fatal(err)
	}
	if !f.Evaluate(entry(values.Int64(1), values.String("foobar"))) {
		t.Error("expected match")
	}
	if f.Evaluate(entry(values.Int64(1), values.String("barfoo"))) {
		t.Error("expected no match")
	}
	// Non-string values coerce to their string form.
	if !f.Evaluate(entry(values.Int64(1), values.Bytes([]byte("food")))) {
		t.Error("expected bytes coercion to match")
	}
}

func roundTrip(t *testing.T, p grid.Portable) grid.Portable {
	t.Helper()
	w := wire.NewWriter()
	grid.EncodePortable(w, p)
	if err := w.Err(); err != nil {
		t.Fatal(err)
	}
	got, err := grid.DecodePortable(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestFilterRoundTrip(t *testing.T) {
	pat, err := NewPattern(KeyExtractor{}, "user-*")
	if err != nil {
		t.Fatal(err)
	}
	filters := []grid.Portable{
		&Always{},
		&Never{},
		&Equals{IdentityExtractor{}, values.String("x")},
		&Not{Equals{KeyExtractor{}, values.Int32(7)}},
		&And{[]grid.Filter{Always{}, &Not{Never{}}}},
		&Or{[]grid.Filter{&Equals{IdentityExtractor{}, values.Bool(true)}, Never{}}},
		pat,
	}

	match := entry(values.String("user-1"), values.String("x"))
	miss := entry(values.Int64(9), values.Int64(9))

	for _, p := range filters {
		got, ok := roundTrip(t, p).(grid.Filter)
		if !ok {
			t.Fatalf("%T did not decode as a filter", p)
		}
		orig := p.(grid.Filter)
		if got.Evaluate(match) != orig.Evaluate(match) {
			t.Errorf("%T: decoded filter disagrees on match entry", p)
		}
		if got.Evaluate(miss) != orig.Evaluate(miss) {
			t.Errorf("%T: decoded filter disagrees on miss entry", p)
		}
	}
}

func TestNonPortableFilterFailsEncode(t *testing.T) {
	w := wire.NewWriter()
	EncodeFilter(w, FuncFilter{func(grid.Entry) bool { return true }})
	if w.Err() == nil {
		t.Error("expected sticky error encoding non-portable filter")
	}
}

// FuncFilter is a test-local non-portable filter.
type FuncFilter struct {
	Fn func(grid.Entry) bool
}

func (f FuncFilter) Evaluate(e grid.Entry) bool { return f.Fn(e) }

func TestIndexLookup(t *testing.T) {
	f := Equals{KeyExtractor{}, values.Int64(3)}
	id, match, ok := f.IndexLookup()
	if !ok || id != "key" || !match.Equal(values.Int64(3)) {
		t.Errorf("unexpected lookup: %q %v %v", id, match, ok)
	}
}

func TestReverseComparator(t *testing.T) {
	c := Reverse{}
	if c.Compare(values.Int64(1), values.Int64(2)) <= 0 {
		t.Error("reverse natural should sort 1 after 2")
	}
	cc := Reverse{Inner: Reverse{}}
	if cc.Compare(values.Int64(1), values.Int64(2)) >= 0 {
		t.Error("double reverse should restore natural order")
	}

	got, ok := roundTrip(t, &c).(grid.Comparator)
	if !ok {
		t.Fatal("decoded portable is not a comparator")
	}
	if got.Compare(values.String("a"), values.String("b")) <= 0 {
		t.Error("decoded reverse comparator lost its ordering")
	}
}

type testView struct {
	key     values.Value
	val     values.Value
	present bool
	removed bool
}

func (v *testView) Key() values.Value   { return v.key }
func (v *testView) Value() values.Value { return v.val }
func (v *testView) Present() bool       { return v.present }
func (v *testView) SetValue(nv values.Value) {
	v.val, v.present, v.removed = nv, true, false
}
func (v *testView) Remove() {
	v.val, v.present, v.removed = values.None(), false, true
}

func TestValueUpdater(t *testing.T) {
	view := &testView{key: values.String("k"), val: values.Int64(1), present: true}
	res, err := ValueUpdater{values.Int64(2)}.Process(view)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Equal(values.Int64(1)) {
		t.Errorf("expected previous value 1, got %v", res)
	}
	if !view.val.Equal(values.Int64(2)) {
		t.Errorf("expected stored value 2, got %v", view.val)
	}
}

func TestConditionalRemove(t *testing.T) {
	view := &testView{key: values.String("k"), val: values.Int64(1), present: true}
	res, err := ConditionalRemove{Equals{IdentityExtractor{}, values.Int64(2)}}.Process(view)
	if err != nil {
		t.Fatal(err)
	}
	if res.Bool() || view.removed {
		t.Error("filter mismatch should not remove")
	}

	res, err = ConditionalRemove{Equals{IdentityExtractor{}, values.Int64(1)}}.Process(view)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Bool() || !view.removed {
		t.Error("filter match should remove")
	}
}

func TestNumberIncrementor(t *testing.T) {
	view := &testView{key: values.String("k"), present: false}
	res, err := NumberIncrementor{Delta: values.Int64(5)}.Process(view)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Equal(values.Int64(5)) {
		t.Errorf("absent entry should increment from zero, got %v", res)
	}

	res, err = NumberIncrementor{Delta: values.Int64(3), PostIncrement: true}.Process(view)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Equal(values.Int64(5)) {
		t.Errorf("post-increment should return previous value, got %v", res)
	}
	if !view.val.Equal(values.Int64(8)) {
		t.Errorf("expected stored value 8, got %v", view.val)
	}

	if _, err := (NumberIncrementor{Delta: values.String("x")}).Process(view); err == nil {
		t.Error("expected error adding non-numeric delta")
	}
}

func runAggregator(a grid.Aggregator, vs ...values.Value) (values.Value, error) {
	a.Init(true)
	for _, v := range vs {
		a.Process(v, true)
	}
	return a.Finalize(true)
}

func TestAggregators(t *testing.T) {
	in := []values.Value{values.Int64(1), values.Int64(2), values.Int64(2), values.Int64(5)}

	cases := []struct {
		name string
		agg  grid.Aggregator
		want values.Value
	}{
		{"count", &Count{}, values.Int64(4)},
		{"sum", &Sum{}, values.Int64(10)},
		{"min", &Min{}, values.Int64(1)},
		{"max", &Max{}, values.Int64(5)},
		{"average", &Average{}, values.Float64(2.5)},
		{"distinct", &Distinct{}, values.Int64(3)},
	}
	for _, tc := range cases {
		got, err := runAggregator(tc.agg, in...)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !got.Equal(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSumSwitchesToFloat(t *testing.T) {
	got, err := runAggregator(&Sum{}, values.Int64(1), values.Float64(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(values.Float64(1.5)) {
		t.Errorf("got %v, want 1.5", got)
	}
}

func TestEmptyAggregators(t *testing.T) {
	for _, a := range []grid.Aggregator{&Min{}, &Max{}, &Average{}} {
		got, err := runAggregator(a)
		if err != nil {
			t.Fatal(err)
		}
		if !got.IsNone() {
			t.Errorf("%T over no values: got %v, want none", a, got)
		}
	}
	got, err := runAggregator(&Count{})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(values.Int64(0)) {
		t.Errorf("count over no values: got %v", got)
	}
}
