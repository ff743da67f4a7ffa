// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package grid

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gridlink/gridlink/lib/wire"
)

// A Portable is a value that can cross the wire by type tag: filters,
// extractors, entry processors, aggregators and invocables all register a
// tag and encode their own fields.
type Portable interface {
	TypeTag() int32
	EncodeTo(w *wire.Writer)
	DecodeFrom(r *wire.Reader) error
}

var portables = xsync.NewMapOf[int32, func() Portable]()

// RegisterPortable registers a constructor for the given type tag.
// Registration happens at init time; duplicate tags panic.
func RegisterPortable(tag int32, ctor func() Portable) {
	if _, loaded := portables.LoadOrStore(tag, ctor); loaded {
		panic(fmt.Sprintf("duplicate portable type tag %d", tag))
	}
}

// EncodePortable writes tag then body. A nil Portable encodes as tag zero.
func EncodePortable(w *wire.Writer, p Portable) {
	if p == nil {
		w.WriteInt32(0)
		return
	}
	w.WriteInt32(p.TypeTag())
	p.EncodeTo(w)
}

// DecodePortable reads tag then body. Tag zero decodes as nil.
func DecodePortable(r *wire.Reader) (Portable, error) {
	tag := r.ReadInt32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	ctor, ok := portables.Load(tag)
	if !ok {
		return nil, WrapError(ErrProtocol, fmt.Errorf("unknown portable type tag %d", tag))
	}
	p := ctor()
	if err := p.DecodeFrom(r); err != nil {
		return nil, WrapError(ErrProtocol, err)
	}
	if err := r.Err(); err != nil {
		return nil, WrapError(ErrProtocol, err)
	}
	return p, nil
}
