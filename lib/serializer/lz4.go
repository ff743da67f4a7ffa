// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package serializer

import (
	"encoding/binary"
	"errors"
	"fmt"

	lz4 "github.com/pierrec/lz4/v4"

	"github.com/gridlink/gridlink/lib/values"
)

// Values smaller than this many bytes are stored uncompressed; compressing
// them costs more than it saves.
const compressionThreshold = 128

var errNotCompressible = errors.New("not compressible")

// lz4Serializer wraps another serializer and lz4 compresses its output.
// The compressed form is a one byte marker, then for compressed payloads
// the uncompressed size as a big endian uint32 followed by the lz4 block.
type lz4Serializer struct {
	name  string
	inner Serializer
}

func (s *lz4Serializer) Name() string { return s.name }

func (s *lz4Serializer) Marshal(v values.Value) ([]byte, error) {
	raw, err := s.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(raw) < compressionThreshold {
		return append([]byte{0}, raw...), nil
	}
	comp, err := lz4Compress(raw)
	if err != nil {
		// Incompressible data is stored as-is.
		return append([]byte{0}, raw...), nil
	}
	return append([]byte{1}, comp...), nil
}

func (s *lz4Serializer) Unmarshal(data []byte) (values.Value, error) {
	if len(data) < 1 {
		return values.None(), errors.New("lz4: short payload")
	}
	switch data[0] {
	case 0:
		return s.inner.Unmarshal(data[1:])
	case 1:
		raw, err := lz4Decompress(data[1:])
		if err != nil {
			return values.None(), err
		}
		return s.inner.Unmarshal(raw)
	default:
		return values.None(), fmt.Errorf("lz4: unknown marker %d", data[0])
	}
}

func lz4Compress(src []byte) ([]byte, error) {
	buf := make([]byte, 4+lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, buf[4:], nil)
	if err != nil {
		return nil, err
	} else if n == 0 {
		return nil, errNotCompressible
	}

	// The compressed block is prefixed by the size of the uncompressed data.
	binary.BigEndian.PutUint32(buf, uint32(len(src)))

	return buf[:4+n], nil
}

func lz4Decompress(src []byte) ([]byte, error) {
	if len(src) < 4 {
		return nil, errors.New("lz4: short block")
	}
	size := binary.BigEndian.Uint32(src)
	buf := make([]byte, size)

	n, err := lz4.UncompressBlock(src[4:], buf)
	if err != nil {
		return nil, err
	}

	return buf[:n], nil
}
