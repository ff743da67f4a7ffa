// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLen is the largest frame payload allowed on the wire unless the
// reader is configured otherwise. (64 MiB)
const MaxFrameLen = 64 << 20

var ErrFrameTooLarge = errors.New("frame length exceeds maximum")

// A FrameWriter writes length prefixed frames to an underlying writer. Each
// frame is a uvarint payload length followed by the payload, handed to the
// underlying writer in a single Write call so that a peer never observes a
// partial frame from our side.
type FrameWriter struct {
	w   io.Writer
	buf []byte
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

func (fw *FrameWriter) WriteFrame(payload []byte) error {
	fw.buf = fw.buf[:0]
	fw.buf = binary.AppendUvarint(fw.buf, uint64(len(payload)))
	fw.buf = append(fw.buf, payload...)
	if _, err := fw.w.Write(fw.buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// A FrameReader reads length prefixed frames from an underlying reader. Any
// error is terminal: either a whole payload is returned or the connection is
// toast.
type FrameReader struct {
	r       io.Reader
	maxLen  int
	byteBuf [1]byte
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, maxLen: MaxFrameLen}
}

// SetMaxFrameLen overrides the default frame size limit. Zero or negative
// keeps the default.
func (fr *FrameReader) SetMaxFrameLen(n int) {
	if n > 0 {
		fr.maxLen = n
	}
}

func (fr *FrameReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(fr.r, fr.byteBuf[:]); err != nil {
		return 0, err
	}
	return fr.byteBuf[0], nil
}

func (fr *FrameReader) ReadFrame() ([]byte, error) {
	length, err := binary.ReadUvarint(fr)
	if err != nil {
		return nil, err
	}
	if length > uint64(fr.maxLen) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, fr.maxLen)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}
