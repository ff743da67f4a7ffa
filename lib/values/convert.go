// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package values

import (
	"math"
	"math/big"
	"strconv"
	"time"
)

// Convert coerces src to the target kind, returning the converted value and
// whether the coercion was value preserving. The coercion matrix:
//
//	          bool  int32 int64 float64 decimal string bytes time
//	bool       =     0/1   0/1    0/1     0/1    text   -     -
//	int32     0/1     =     ✓      *       ✓     text   -     -
//	int64     0/1     *     =      *       ✓     text   -    unix ms
//	float64    -      *     *      =       ✓     text   -     -
//	decimal    -      *     *      *       =     text   -     -
//	string   parse  parse parse  parse   parse    =    raw   RFC3339
//	bytes      -      -     -      -       -     raw    =     -
//	time       -      -   unix ms  -       -    RFC3339 -     =
//
// ✓ always succeeds, * succeeds when the value fits exactly, - never
// succeeds. A failed coercion returns (None, false).
func Convert(src Value, target Kind) (Value, bool) {
	if src.kind == target {
		return src, true
	}
	switch target {
	case KindNone:
		return None(), src.kind == KindNone
	case KindBool:
		return toBool(src)
	case KindInt32:
		return toInt32(src)
	case KindInt64:
		return toInt64(src)
	case KindFloat64:
		return toFloat64(src)
	case KindDecimal:
		return toDecimal(src)
	case KindString:
		return toString(src)
	case KindBytes:
		return toBytes(src)
	case KindTime:
		return toTime(src)
	default:
		return None(), false
	}
}

func toBool(src Value) (Value, bool) {
	switch src.kind {
	case KindInt32, KindInt64:
		switch src.i {
		case 0:
			return Bool(false), true
		case 1:
			return Bool(true), true
		}
	case KindString:
		if v, err := strconv.ParseBool(src.s); err == nil {
			return Bool(v), true
		}
	}
	return None(), false
}

func intFromRat(r *big.Rat) (int64, bool) {
	if !r.IsInt() {
		return 0, false
	}
	n := r.Num()
	if !n.IsInt64() {
		return 0, false
	}
	return n.Int64(), true
}

func toInt32(src Value) (Value, bool) {
	v, ok := toInt64(src)
	if !ok {
		return None(), false
	}
	if v.i < math.MinInt32 || v.i > math.MaxInt32 {
		return None(), false
	}
	return Int32(int32(v.i)), true
}

func toInt64(src Value) (Value, bool) {
	switch src.kind {
	case KindBool:
		if src.b {
			return Int64(1), true
		}
		return Int64(0), true
	case KindInt32:
		return Int64(src.i), true
	case KindInt64:
		// Convert short-circuits same-kind coercion, but toInt32 funnels
		// through here with an int64 source.
		return src, true
	case KindFloat64, KindDecimal:
		if i, ok := intFromRat(src.rat()); ok {
			return Int64(i), true
		}
	case KindString:
		if i, err := strconv.ParseInt(src.s, 10, 64); err == nil {
			return Int64(i), true
		}
	case KindTime:
		return Int64(src.t.UnixMilli()), true
	}
	return None(), false
}

func toFloat64(src Value) (Value, bool) {
	switch src.kind {
	case KindBool:
		if src.b {
			return Float64(1), true
		}
		return Float64(0), true
	case KindInt32:
		return Float64(float64(src.i)), true
	case KindInt64:
		// Exact only within the 53 bit mantissa.
		f := float64(src.i)
		if int64(f) == src.i {
			return Float64(f), true
		}
	case KindDecimal:
		f, exact := src.rat().Float64()
		if exact {
			return Float64(f), true
		}
	case KindString:
		if f, err := strconv.ParseFloat(src.s, 64); err == nil {
			return Float64(f), true
		}
	}
	return None(), false
}

func toDecimal(src Value) (Value, bool) {
	switch src.kind {
	case KindBool:
		if src.b {
			return Value{kind: KindDecimal, s: "1"}, true
		}
		return Value{kind: KindDecimal, s: "0"}, true
	case KindInt32, KindInt64:
		return Value{kind: KindDecimal, s: strconv.FormatInt(src.i, 10)}, true
	case KindFloat64:
		if math.IsNaN(src.f) || math.IsInf(src.f, 0) {
			return None(), false
		}
		return Value{kind: KindDecimal, s: strconv.FormatFloat(src.f, 'g', -1, 64)}, true
	case KindString:
		if d, err := Decimal(src.s); err == nil {
			return d, true
		}
	}
	return None(), false
}

func toString(src Value) (Value, bool) {
	switch src.kind {
	case KindBool, KindInt32, KindInt64, KindFloat64, KindDecimal:
		return String(src.String()), true
	case KindBytes:
		return String(string(src.bs)), true
	case KindTime:
		return String(src.t.Format(time.RFC3339Nano)), true
	}
	return None(), false
}

func toBytes(src Value) (Value, bool) {
	if src.kind == KindString {
		return Bytes([]byte(src.s)), true
	}
	return None(), false
}

func toTime(src Value) (Value, bool) {
	switch src.kind {
	case KindInt64:
		return Time(time.UnixMilli(src.i)), true
	case KindString:
		if t, err := time.Parse(time.RFC3339Nano, src.s); err == nil {
			return Time(t), true
		}
	}
	return None(), false
}
