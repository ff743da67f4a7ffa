// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package wire implements the low level encoding primitives: a sticky-error
// varint writer/reader pair for message bodies, and length prefixed frame
// I/O over a byte pipe.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrElementSizeExceeded is returned when a variable length element
	// (string, byte slice) claims a size beyond the configured maximum.
	ErrElementSizeExceeded = errors.New("element size exceeded")

	errUnexpectedEOB = errors.New("unexpected end of buffer")
)

// MaxElementLen is the largest variable length element we accept when
// decoding, as a guard against nonsense lengths from a broken peer.
const MaxElementLen = 128 << 20

// A Writer accumulates primitive values into a buffer. The first error
// sticks; subsequent writes are no-ops. Signed integers are zigzag varint
// encoded, unsigned ones plain varint.
type Writer struct {
	buf []byte
	tot int
	err error
}

func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated buffer. The buffer remains owned by the
// Writer and is invalidated by further writes or Reset.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reset truncates the buffer and clears any sticky error, making the Writer
// ready for reuse.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.tot = 0
	w.err = nil
}

// Tot returns the number of bytes written so far.
func (w *Writer) Tot() int { return w.tot }

// Err returns the first error that occurred, if any.
func (w *Writer) Err() error { return w.err }

// Fail sticks an error on the Writer, voiding further writes. Encoders use
// it when a value cannot be represented on the wire.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) grow(n int) {
	w.tot += n
}

func (w *Writer) WriteUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
	w.grow(1)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteUvarint(v uint64) {
	if w.err != nil {
		return
	}
	n := len(w.buf)
	w.buf = binary.AppendUvarint(w.buf, v)
	w.grow(len(w.buf) - n)
}

func (w *Writer) WriteVarint(v int64) {
	if w.err != nil {
		return
	}
	n := len(w.buf)
	w.buf = binary.AppendVarint(w.buf, v)
	w.grow(len(w.buf) - n)
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteVarint(int64(v))
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteVarint(v)
}

func (w *Writer) WriteFloat64(v float64) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))
	w.grow(8)
}

func (w *Writer) WriteBytes(v []byte) {
	w.WriteUvarint(uint64(len(v)))
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v...)
	w.grow(len(v))
}

func (w *Writer) WriteString(v string) {
	w.WriteUvarint(uint64(len(v)))
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v...)
	w.grow(len(v))
}

// A Reader decodes primitive values from a buffer. The first error sticks;
// subsequent reads return zero values.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Tot returns the number of bytes consumed so far.
func (r *Reader) Tot() int { return r.off }

// Err returns the first error that occurred, if any.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unconsumed bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) ReadUint8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.buf) {
		r.fail(errUnexpectedEOB)
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *Reader) ReadBool() bool {
	return r.ReadUint8() != 0
}

func (r *Reader) ReadUvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.fail(errUnexpectedEOB)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) ReadVarint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf[r.off:])
	if n <= 0 {
		r.fail(errUnexpectedEOB)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) ReadInt32() int32 {
	v := r.ReadVarint()
	if v > math.MaxInt32 || v < math.MinInt32 {
		r.fail(errors.New("varint out of int32 range"))
		return 0
	}
	return int32(v)
}

func (r *Reader) ReadInt64() int64 {
	return r.ReadVarint()
}

func (r *Reader) ReadFloat64() float64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.buf) {
		r.fail(errUnexpectedEOB)
		return 0
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v
}

func (r *Reader) ReadBytes() []byte {
	n := r.ReadUvarint()
	if r.err != nil {
		return nil
	}
	if n > MaxElementLen {
		r.fail(ErrElementSizeExceeded)
		return nil
	}
	if r.off+int(n) > len(r.buf) {
		r.fail(errUnexpectedEOB)
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.off:])
	r.off += int(n)
	return v
}

func (r *Reader) ReadString() string {
	n := r.ReadUvarint()
	if r.err != nil {
		return ""
	}
	if n > MaxElementLen {
		r.fail(ErrElementSizeExceeded)
		return ""
	}
	if r.off+int(n) > len(r.buf) {
		r.fail(errUnexpectedEOB)
		return ""
	}
	v := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return v
}
