// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/serializer"
	"github.com/gridlink/gridlink/lib/sync"
)

// A Channel is one ordered message stream multiplexed onto a connection. It
// tracks pending outbound requests for correlation and the IDs of inbound
// requests awaiting a response.
type Channel struct {
	id         int32
	conn       *Connection
	protoName  string
	version    int32
	factory    MessageFactory
	serName    string
	ser        serializer.Serializer
	receiver   Receiver
	clock      clockwork.Clock
	reqTimeout time.Duration

	mut           sync.Mutex
	closed        bool
	nextRequestID int64
	pending       map[int64]*status
	peerRequests  map[int64]struct{}
}

func newChannel(conn *Connection, id int32, proto *Protocol, version int32, serName string, receiver Receiver, reqTimeout time.Duration) (*Channel, error) {
	ser, err := serializer.Get(serName)
	if err != nil {
		return nil, err
	}
	return &Channel{
		id:            id,
		conn:          conn,
		protoName:     proto.Name,
		version:       version,
		factory:       proto.Factory(version),
		serName:       serName,
		ser:           ser,
		receiver:      receiver,
		clock:         conn.clock,
		reqTimeout:    reqTimeout,
		mut:           sync.NewMutex(),
		nextRequestID: 1,
		pending:       make(map[int64]*status),
		peerRequests:  make(map[int64]struct{}),
	}, nil
}

// ID returns the channel's connection-unique ID. Zero is the control channel.
func (ch *Channel) ID() int32 { return ch.id }

// Protocol returns the negotiated protocol name.
func (ch *Channel) Protocol() string { return ch.protoName }

// Version returns the negotiated protocol version.
func (ch *Channel) Version() int32 { return ch.version }

// Serializer returns the serializer negotiated for payloads on this channel.
func (ch *Channel) Serializer() serializer.Serializer { return ch.ser }

// SerializerName returns the name of the negotiated serializer.
func (ch *Channel) SerializerName() string { return ch.serName }

// Connection returns the connection this channel runs on.
func (ch *Channel) Connection() *Connection { return ch.conn }

// URI returns the back-channel URI another party can use to accept this
// channel on the same connection.
func (ch *Channel) URI() string {
	return fmt.Sprintf("channel:%d#%s", ch.id, ch.protoName)
}

// SetReceiver installs the handler for unsolicited inbound messages. Must be
// set before the peer can send; typically done at open time.
func (ch *Channel) SetReceiver(r Receiver) {
	ch.mut.Lock()
	ch.receiver = r
	ch.mut.Unlock()
}

// Send transmits a notification. The message's request ID is forced to zero.
func (ch *Channel) Send(msg Message) error {
	ch.mut.Lock()
	if ch.closed {
		ch.mut.Unlock()
		return grid.ErrChannelClosed
	}
	ch.mut.Unlock()
	msg.SetRequestID(0)
	return ch.conn.send(ch.id, msg, nil)
}

// Request transmits a request and returns a Status for its response. The
// slot completes exactly once: by the response, a timeout in Await, an
// explicit Cancel, or the channel closing.
func (ch *Channel) Request(msg Message) (Status, error) {
	ch.mut.Lock()
	if ch.closed {
		ch.mut.Unlock()
		return nil, grid.ErrChannelClosed
	}
	id := ch.nextRequestID
	ch.nextRequestID++
	st := newStatus(id, ch.clock, ch.reqTimeout, ch.forgetPending)
	ch.pending[id] = st
	ch.mut.Unlock()

	msg.SetRequestID(id)
	if err := ch.conn.send(ch.id, msg, nil); err != nil {
		st.complete(nil, err)
		return nil, err
	}
	return st, nil
}

// Call sends a request and waits for the response, honoring the context.
func (ch *Channel) Call(ctx context.Context, msg Message) (Message, error) {
	st, err := ch.Request(msg)
	if err != nil {
		return nil, err
	}
	select {
	case <-st.Done():
		return st.Result()
	case <-ctx.Done():
		st.Cancel(ctx.Err())
		<-st.Done()
		return st.Result()
	}
}

// forgetPending drops a completed slot. It is the status onDone callback and
// must never run with a status completion in flight under ch.mut.
func (ch *Channel) forgetPending(id int64) {
	ch.mut.Lock()
	delete(ch.pending, id)
	ch.mut.Unlock()
}

// forgetPeerRequest marks an inbound request as responded to.
func (ch *Channel) forgetPeerRequest(id int64) {
	ch.mut.Lock()
	delete(ch.peerRequests, id)
	ch.mut.Unlock()
}

// receive handles one inbound message. It runs on the connection's service
// goroutine. A returned error is a protocol violation fatal to the
// connection.
func (ch *Channel) receive(msg Message) error {
	reqID := msg.RequestID()
	switch {
	case reqID < 0:
		// Response: correlate against the pending table. Remove first, then
		// complete outside the mutex.
		id := -reqID
		ch.mut.Lock()
		st, ok := ch.pending[id]
		if ok {
			delete(ch.pending, id)
		}
		ch.mut.Unlock()
		if !ok {
			// Late response after timeout or cancel. Not an error.
			l.Debugf("dropping response %d on channel %d (%s): no pending request", id, ch.id, ch.protoName)
			metricConnDroppedResponses.WithLabelValues(ch.conn.id).Inc()
			return nil
		}
		st.complete(msg, nil)
		return nil

	case reqID > 0:
		ch.mut.Lock()
		if _, dup := ch.peerRequests[reqID]; dup {
			ch.mut.Unlock()
			return grid.WrapError(grid.ErrProtocol, fmt.Errorf("duplicate request ID %d on channel %d", reqID, ch.id))
		}
		ch.peerRequests[reqID] = struct{}{}
		receiver := ch.receiver
		ch.mut.Unlock()
		if receiver == nil {
			l.Warnf("dropping inbound %T on channel %d (%s): no receiver", msg, ch.id, ch.protoName)
			ch.forgetPeerRequest(reqID)
			return nil
		}
		ch.dispatch(receiver, &ChannelContext{channel: ch, requestID: reqID}, msg)
		return nil

	default:
		ch.mut.Lock()
		receiver := ch.receiver
		ch.mut.Unlock()
		if receiver == nil {
			l.Debugf("dropping inbound %T on channel %d (%s): no receiver", msg, ch.id, ch.protoName)
			return nil
		}
		ch.dispatch(receiver, &ChannelContext{channel: ch}, msg)
		return nil
	}
}

// dispatch invokes the receiver, containing panics. A panicking receiver
// closes its channel with the panic as cause; the connection stays up.
func (ch *Channel) dispatch(receiver Receiver, ctx *ChannelContext, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			l.Warnf("receiver for channel %d (%s) panicked on %T: %v", ch.id, ch.protoName, msg, r)
			ch.conn.closeChannel(ch, fmt.Errorf("receiver panic: %v", r))
		}
	}()
	receiver.OnMessage(ctx, msg)
}

// Close detaches the channel from its connection and fails its pending
// requests. Closing the control channel closes the whole connection.
func (ch *Channel) Close() error {
	if ch.id == 0 {
		return ch.conn.Close(nil)
	}
	ch.conn.closeChannel(ch, nil)
	return nil
}

// close fails all pending requests and marks the channel closed. Idempotent.
// Called by the connection with the channel already removed from its table.
func (ch *Channel) close(cause error) {
	ch.mut.Lock()
	if ch.closed {
		ch.mut.Unlock()
		return
	}
	ch.closed = true
	pending := make([]*status, 0, len(ch.pending))
	for _, st := range ch.pending {
		pending = append(pending, st)
	}
	ch.pending = make(map[int64]*status)
	ch.peerRequests = make(map[int64]struct{})
	ch.mut.Unlock()

	err := grid.WrapError(grid.ErrChannelClosed, cause)
	for _, st := range pending {
		st.complete(nil, err)
	}
}
