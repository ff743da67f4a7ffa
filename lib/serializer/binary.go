// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package serializer

import (
	"github.com/gridlink/gridlink/lib/values"
	"github.com/gridlink/gridlink/lib/wire"
)

// binarySerializer writes the value union in its native wire form: one kind
// byte followed by the varint or length prefixed payload.
type binarySerializer struct{}

func (*binarySerializer) Name() string { return "binary" }

func (*binarySerializer) Marshal(v values.Value) ([]byte, error) {
	w := wire.NewWriter()
	v.EncodeTo(w)
	if err := w.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, len(w.Bytes()))
	copy(buf, w.Bytes())
	return buf, nil
}

func (*binarySerializer) Unmarshal(data []byte) (values.Value, error) {
	r := wire.NewReader(data)
	v := values.DecodeValue(r)
	if err := r.Err(); err != nil {
		return values.None(), err
	}
	return v, nil
}
