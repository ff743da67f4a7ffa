// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package messaging implements the connection/channel multiplexer: one
// full-duplex byte pipe carries many independent ordered message streams
// with request/response correlation, a reserved control channel, ping
// liveness and graceful teardown under concurrent use.
package messaging

import (
	"github.com/gridlink/gridlink/lib/wire"
)

// Class tags a message as an unsolicited notification, a request expecting a
// response, or a response.
type Class int

const (
	ClassNotify Class = iota
	ClassRequest
	ClassResponse
)

func (c Class) String() string {
	switch c {
	case ClassNotify:
		return "notify"
	case ClassRequest:
		return "request"
	case ClassResponse:
		return "response"
	default:
		return "unknown"
	}
}

// A Message is a typed record exchanged over a channel. Type IDs are small
// non-negative integers unique within a protocol. The request ID is zero for
// notifications, positive for requests, and the negated request ID for
// responses.
type Message interface {
	TypeID() int32
	Class() Class
	RequestID() int64
	SetRequestID(id int64)
	EncodeBody(w *wire.Writer)
	DecodeBody(r *wire.Reader) error
}

// MessageBase carries the request ID; concrete messages embed it.
type MessageBase struct {
	requestID int64
}

func (m *MessageBase) RequestID() int64      { return m.requestID }
func (m *MessageBase) SetRequestID(id int64) { m.requestID = id }

// A MessageFactory allocates an empty message for a type ID, ready to decode
// its body. It is specific to one protocol version.
type MessageFactory func(typeID int32) (Message, bool)

// A Receiver handles unsolicited inbound messages (requests and notifies) on
// a channel. It runs on the connection's service goroutine; a panic closes
// the channel with the panic as cause.
type Receiver interface {
	OnMessage(ctx *ChannelContext, msg Message)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx *ChannelContext, msg Message)

func (f ReceiverFunc) OnMessage(ctx *ChannelContext, msg Message) { f(ctx, msg) }

// ChannelContext is handed to a Receiver with each inbound message.
type ChannelContext struct {
	channel   *Channel
	requestID int64
}

// Channel returns the channel the message arrived on.
func (c *ChannelContext) Channel() *Channel { return c.channel }

// Respond sends msg as the response to the inbound request. It is a no-op
// with a warning for notifications.
func (c *ChannelContext) Respond(msg Message) error {
	if c.requestID == 0 {
		l.Warnln("response to a notification dropped on channel", c.channel.ID())
		return nil
	}
	msg.SetRequestID(-c.requestID)
	c.channel.forgetPeerRequest(c.requestID)
	return c.channel.conn.send(c.channel.ID(), msg, nil)
}
