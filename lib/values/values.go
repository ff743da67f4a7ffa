// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package values implements the tagged value union used for cache keys,
// cache values and configuration values, with value preserving coercions
// between the kinds.
package values

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/gridlink/gridlink/lib/wire"
)

type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindFloat64
	KindDecimal
	KindString
	KindBytes
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// A Value is an immutable tagged union over the supported kinds. The zero
// Value has kind None.
type Value struct {
	kind Kind
	b    bool
	i    int64   // int32, int64
	f    float64 // float64
	s    string  // string, decimal (canonical text)
	bs   []byte  // bytes
	t    time.Time
}

// A Key is the canonical, comparable form of a Value, usable as a Go map
// key. Two Values have equal Keys iff they are the same kind and value.
type Key string

func None() Value              { return Value{} }
func Bool(v bool) Value        { return Value{kind: KindBool, b: v} }
func Int32(v int32) Value      { return Value{kind: KindInt32, i: int64(v)} }
func Int64(v int64) Value      { return Value{kind: KindInt64, i: v} }
func Float64(v float64) Value  { return Value{kind: KindFloat64, f: v} }
func String(v string) Value    { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value     { return Value{kind: KindBytes, bs: v} }
func Time(v time.Time) Value   { return Value{kind: KindTime, t: v} }

// Decimal returns a decimal value from its text form. The text must parse
// as a (possibly fractional) base ten number.
func Decimal(text string) (Value, error) {
	r := new(big.Rat)
	if _, ok := r.SetString(text); !ok {
		return Value{}, fmt.Errorf("invalid decimal %q", text)
	}
	return Value{kind: KindDecimal, s: text}, nil
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNone() bool  { return v.kind == KindNone }
func (v Value) Bool() bool    { return v.b }
func (v Value) Int32() int32  { return int32(v.i) }
func (v Value) Int64() int64  { return v.i }
func (v Value) Float64() float64 {
	return v.f
}
func (v Value) Decimal() string { return v.s }
func (v Value) Str() string     { return v.s }
func (v Value) Bytes() []byte   { return v.bs }
func (v Value) Time() time.Time { return v.t }

func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "<none>"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindDecimal:
		return v.s
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("%x", v.bs)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return "<invalid>"
	}
}

// MapKey returns the canonical comparable form of the value.
func (v Value) MapKey() Key {
	return Key(string([]byte{byte(v.kind)}) + v.keyPayload())
}

func (v Value) keyPayload() string {
	switch v.kind {
	case KindNone:
		return ""
	case KindBool:
		if v.b {
			return "1"
		}
		return "0"
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindDecimal:
		// Normalize so 1.50 and 1.5 key identically.
		r := new(big.Rat)
		r.SetString(v.s)
		return r.RatString()
	case KindString:
		return v.s
	case KindBytes:
		return string(v.bs)
	case KindTime:
		return strconv.FormatInt(v.t.UnixNano(), 10)
	default:
		return ""
	}
}

// Equal reports whether the two values are the same kind and value.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.MapKey() == o.MapKey()
}

// kindRank groups kinds into comparison categories; values within one
// category compare by magnitude, across categories by rank. Numerics share
// a category so int32(2) sorts with int64(2) and float64(2.5).
func kindRank(k Kind) int {
	switch k {
	case KindNone:
		return 0
	case KindBool:
		return 1
	case KindInt32, KindInt64, KindFloat64, KindDecimal:
		return 2
	case KindString:
		return 3
	case KindBytes:
		return 4
	case KindTime:
		return 5
	default:
		return 6
	}
}

func (v Value) rat() *big.Rat {
	r := new(big.Rat)
	switch v.kind {
	case KindInt32, KindInt64:
		r.SetInt64(v.i)
	case KindFloat64:
		r.SetFloat64(v.f)
	case KindDecimal:
		r.SetString(v.s)
	}
	return r
}

// Compare returns -1, 0 or 1 ordering v against o in the natural ordering.
func (v Value) Compare(o Value) int {
	vr, or := kindRank(v.kind), kindRank(o.kind)
	if vr != or {
		if vr < or {
			return -1
		}
		return 1
	}
	switch vr {
	case 0:
		return 0
	case 1:
		switch {
		case v.b == o.b:
			return 0
		case !v.b:
			return -1
		default:
			return 1
		}
	case 2:
		return v.rat().Cmp(o.rat())
	case 3:
		switch {
		case v.s == o.s:
			return 0
		case v.s < o.s:
			return -1
		default:
			return 1
		}
	case 4:
		return bytes.Compare(v.bs, o.bs)
	case 5:
		switch {
		case v.t.Equal(o.t):
			return 0
		case v.t.Before(o.t):
			return -1
		default:
			return 1
		}
	default:
		return 0
	}
}

// EncodeTo writes the value in its wire form: a kind byte followed by the
// kind specific payload.
func (v Value) EncodeTo(w *wire.Writer) {
	w.WriteUint8(uint8(v.kind))
	switch v.kind {
	case KindNone:
	case KindBool:
		w.WriteBool(v.b)
	case KindInt32:
		w.WriteInt32(int32(v.i))
	case KindInt64:
		w.WriteInt64(v.i)
	case KindFloat64:
		w.WriteFloat64(v.f)
	case KindDecimal, KindString:
		w.WriteString(v.s)
	case KindBytes:
		w.WriteBytes(v.bs)
	case KindTime:
		w.WriteInt64(v.t.UnixNano())
	}
}

// DecodeValue reads a value in its wire form.
func DecodeValue(r *wire.Reader) Value {
	kind := Kind(r.ReadUint8())
	switch kind {
	case KindNone:
		return None()
	case KindBool:
		return Bool(r.ReadBool())
	case KindInt32:
		return Int32(r.ReadInt32())
	case KindInt64:
		return Int64(r.ReadInt64())
	case KindFloat64:
		return Float64(r.ReadFloat64())
	case KindDecimal:
		return Value{kind: KindDecimal, s: r.ReadString()}
	case KindString:
		return String(r.ReadString())
	case KindBytes:
		return Bytes(r.ReadBytes())
	case KindTime:
		return Time(time.Unix(0, r.ReadInt64()))
	default:
		return None()
	}
}
