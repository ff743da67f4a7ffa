// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package serializer

import (
	"fmt"
	"math"
	"time"

	"github.com/calmh/xdr"

	"github.com/gridlink/gridlink/lib/values"
)

// xdrSerializer writes the value union in XDR form: kind as a uint32
// followed by the XDR encoding of the payload. Fixed width and padded, so
// larger than binary, but trivially portable.
type xdrSerializer struct{}

func (*xdrSerializer) Name() string { return "xdr" }

func (*xdrSerializer) Marshal(v values.Value) ([]byte, error) {
	m := &xdr.Marshaller{Data: make([]byte, xdrSize(v))}
	m.MarshalUint32(uint32(v.Kind()))
	switch v.Kind() {
	case values.KindNone:
	case values.KindBool:
		m.MarshalBool(v.Bool())
	case values.KindInt32:
		m.MarshalUint32(uint32(v.Int32()))
	case values.KindInt64:
		m.MarshalUint64(uint64(v.Int64()))
	case values.KindFloat64:
		m.MarshalUint64(math.Float64bits(v.Float64()))
	case values.KindDecimal:
		m.MarshalString(v.Decimal())
	case values.KindString:
		m.MarshalString(v.Str())
	case values.KindBytes:
		m.MarshalBytes(v.Bytes())
	case values.KindTime:
		m.MarshalUint64(uint64(v.Time().UnixNano()))
	default:
		return nil, fmt.Errorf("xdr: cannot marshal kind %v", v.Kind())
	}
	if m.Error != nil {
		return nil, m.Error
	}
	return m.Data, nil
}

func (*xdrSerializer) Unmarshal(data []byte) (values.Value, error) {
	u := &xdr.Unmarshaller{Data: data}
	kind := values.Kind(u.UnmarshalUint32())
	var v values.Value
	switch kind {
	case values.KindNone:
		v = values.None()
	case values.KindBool:
		v = values.Bool(u.UnmarshalBool())
	case values.KindInt32:
		v = values.Int32(int32(u.UnmarshalUint32()))
	case values.KindInt64:
		v = values.Int64(int64(u.UnmarshalUint64()))
	case values.KindFloat64:
		v = values.Float64(math.Float64frombits(u.UnmarshalUint64()))
	case values.KindDecimal:
		d, err := values.Decimal(u.UnmarshalString())
		if err != nil {
			return values.None(), err
		}
		v = d
	case values.KindString:
		v = values.String(u.UnmarshalString())
	case values.KindBytes:
		v = values.Bytes(u.UnmarshalBytes())
	case values.KindTime:
		v = values.Time(time.Unix(0, int64(u.UnmarshalUint64())))
	default:
		return values.None(), fmt.Errorf("xdr: cannot unmarshal kind %d", kind)
	}
	if u.Error != nil {
		return values.None(), u.Error
	}
	return v, nil
}

func xdrSize(v values.Value) int {
	const kindField = 4
	switch v.Kind() {
	case values.KindNone:
		return kindField
	case values.KindBool, values.KindInt32:
		return kindField + 4
	case values.KindInt64, values.KindFloat64, values.KindTime:
		return kindField + 8
	case values.KindDecimal:
		l := len(v.Decimal())
		return kindField + 4 + l + xdr.Padding(l)
	case values.KindString:
		l := len(v.Str())
		return kindField + 4 + l + xdr.Padding(l)
	case values.KindBytes:
		l := len(v.Bytes())
		return kindField + 4 + l + xdr.Padding(l)
	default:
		return kindField
	}
}
