// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package values

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/gridlink/gridlink/lib/wire"
)

func mustDecimal(t *testing.T, s string) Value {
	t.Helper()
	v, err := Decimal(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Value{
		None(),
		Bool(true),
		Bool(false),
		Int32(-42),
		Int64(1 << 40),
		Float64(2.5),
		String("hello"),
		Bytes([]byte{0, 1, 2, 255}),
		Time(time.Unix(0, 1234567890123456789)),
	}
	for _, v := range cases {
		w := wire.NewWriter()
		v.EncodeTo(w)
		if w.Err() != nil {
			t.Fatal(w.Err())
		}
		r := wire.NewReader(w.Bytes())
		got := DecodeValue(r)
		if r.Err() != nil {
			t.Fatal(r.Err())
		}
		if !got.Equal(v) {
			t.Errorf("round trip mismatch: %v != %v", got, v)
		}
	}
}

func TestIntRoundTripQuick(t *testing.T) {
	f := func(i int64) bool {
		w := wire.NewWriter()
		Int64(i).EncodeTo(w)
		got := DecodeValue(wire.NewReader(w.Bytes()))
		return got.Kind() == KindInt64 && got.Int64() == i
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestConvertMatrix(t *testing.T) {
	cases := []struct {
		src    Value
		target Kind
		want   Value
		ok     bool
	}{
		{Bool(true), KindInt64, Int64(1), true},
		{Bool(false), KindString, String("false"), true},
		{Int32(7), KindInt64, Int64(7), true},
		{Int64(7), KindInt32, Int32(7), true},
		{Int64(1 << 40), KindInt32, None(), false},
		{Int64(2), KindFloat64, Float64(2), true},
		{Int64(1<<62 + 1), KindFloat64, None(), false},
		{Float64(2), KindInt64, Int64(2), true},
		{Float64(2.5), KindInt64, None(), false},
		{Int64(0), KindBool, Bool(false), true},
		{Int64(1), KindBool, Bool(true), true},
		{Int64(2), KindBool, None(), false},
		{String("42"), KindInt64, Int64(42), true},
		{String("2.5"), KindFloat64, Float64(2.5), true},
		{String("nope"), KindInt64, None(), false},
		{String("abc"), KindBytes, Bytes([]byte("abc")), true},
		{Bytes([]byte("abc")), KindString, String("abc"), true},
		{Int64(42), KindString, String("42"), true},
		{Bytes([]byte("x")), KindInt64, None(), false},
	}
	for _, tc := range cases {
		got, ok := Convert(tc.src, tc.target)
		if ok != tc.ok {
			t.Errorf("Convert(%v, %v): ok=%v, expected %v", tc.src, tc.target, ok, tc.ok)
			continue
		}
		if ok && !got.Equal(tc.want) {
			t.Errorf("Convert(%v, %v) = %v, expected %v", tc.src, tc.target, got, tc.want)
		}
	}
}

func TestConvertDecimal(t *testing.T) {
	d := mustDecimal(t, "1.50")
	if got, ok := Convert(d, KindFloat64); !ok || got.Float64() != 1.5 {
		t.Errorf("decimal to float: %v %v", got, ok)
	}
	if _, ok := Convert(d, KindInt64); ok {
		t.Error("fractional decimal should not convert to int")
	}
	whole := mustDecimal(t, "3")
	if got, ok := Convert(whole, KindInt64); !ok || got.Int64() != 3 {
		t.Errorf("whole decimal to int: %v %v", got, ok)
	}
}

func TestCompareNumericKinds(t *testing.T) {
	// Numeric kinds compare by magnitude across kinds.
	if Int32(2).Compare(Int64(2)) != 0 {
		t.Error("int32(2) != int64(2)")
	}
	if Int64(2).Compare(Float64(2.5)) != -1 {
		t.Error("2 should sort before 2.5")
	}
	d := mustDecimal(t, "2.25")
	if Float64(2.5).Compare(d) != 1 {
		t.Error("2.5 should sort after 2.25")
	}
	if String("a").Compare(String("b")) != -1 {
		t.Error("string ordering")
	}
	// Cross category ordering is by kind rank and must be stable.
	if Bool(true).Compare(Int64(0)) != -1 {
		t.Error("bool sorts before numbers")
	}
}

func TestMapKeyDistinguishesKinds(t *testing.T) {
	if Int32(1).MapKey() == Int64(1).MapKey() {
		t.Error("int32 and int64 keys should differ")
	}
	if String("1").MapKey() == Int64(1).MapKey() {
		t.Error("string and int keys should differ")
	}
	a := mustDecimal(t, "1.50")
	b := mustDecimal(t, "1.5")
	if a.MapKey() != b.MapKey() {
		t.Error("equivalent decimals should key identically")
	}
}
