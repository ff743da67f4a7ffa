// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package serializer

import (
	"bytes"
	"testing"
	"time"

	"github.com/gridlink/gridlink/lib/values"
)

var testValues = []values.Value{
	values.None(),
	values.Bool(true),
	values.Int32(-17),
	values.Int64(1 << 50),
	values.Float64(3.14159),
	values.String("grid"),
	values.String(""),
	values.Bytes([]byte{1, 2, 3}),
	values.Time(time.Unix(1234567890, 987654321)),
}

func TestRoundTripAllSerializers(t *testing.T) {
	for _, name := range []string{"binary", "xdr", "lz4"} {
		s, err := Get(name)
		if err != nil {
			t.Fatal(err)
		}
		for _, v := range testValues {
			data, err := s.Marshal(v)
			if err != nil {
				t.Fatalf("%s: marshal %v: %v", name, v, err)
			}
			got, err := s.Unmarshal(data)
			if err != nil {
				t.Fatalf("%s: unmarshal %v: %v", name, v, err)
			}
			if !got.Equal(v) {
				t.Errorf("%s: %v != %v", name, got, v)
			}
		}
	}
}

func TestLZ4LargeValue(t *testing.T) {
	s, err := Get("lz4")
	if err != nil {
		t.Fatal(err)
	}
	// Compressible payload well above the threshold.
	v := values.Bytes(bytes.Repeat([]byte("abcdefgh"), 4096))
	data, err := s.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) >= 8*4096 {
		t.Errorf("expected compression, got %d bytes", len(data))
	}
	got, err := s.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(v) {
		t.Error("round trip mismatch")
	}
}

func TestGetDefault(t *testing.T) {
	s, err := Get("")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != Default {
		t.Errorf("expected default serializer, got %q", s.Name())
	}
	if _, err := Get("no-such"); err == nil {
		t.Error("expected error for unknown serializer")
	}
}
