// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package messaging

import (
	"fmt"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/wire"
)

// A FactoryResolver maps a channel ID to the message factory negotiated for
// that channel's protocol.
type FactoryResolver func(channelID int32) (MessageFactory, error)

// A Codec turns messages into frame payloads and back. Every payload begins
// with the preamble channelID, typeID (both varint int32) and requestID
// (varint int64), followed by the type specific body.
type Codec interface {
	Encode(w *wire.Writer, channelID int32, msg Message)
	Decode(r *wire.Reader, resolve FactoryResolver) (channelID int32, msg Message, err error)
}

// DefaultCodec returns the standard codec.
func DefaultCodec() Codec {
	return defaultCodec{}
}

type defaultCodec struct{}

func (defaultCodec) Encode(w *wire.Writer, channelID int32, msg Message) {
	w.WriteInt32(channelID)
	w.WriteInt32(msg.TypeID())
	w.WriteInt64(msg.RequestID())
	msg.EncodeBody(w)
}

func (defaultCodec) Decode(r *wire.Reader, resolve FactoryResolver) (int32, Message, error) {
	channelID := r.ReadInt32()
	typeID := r.ReadInt32()
	requestID := r.ReadInt64()
	if err := r.Err(); err != nil {
		return 0, nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("decoding preamble: %w", err))
	}

	factory, err := resolve(channelID)
	if err != nil {
		return channelID, nil, err
	}
	msg, ok := factory(typeID)
	if !ok {
		return channelID, nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("unknown type %d on channel %d", typeID, channelID))
	}
	msg.SetRequestID(requestID)
	if err := msg.DecodeBody(r); err != nil {
		return channelID, nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("decoding %T body: %w", msg, err))
	}
	if err := r.Err(); err != nil {
		return channelID, nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("decoding %T body: %w", msg, err))
	}
	return channelID, msg, nil
}
