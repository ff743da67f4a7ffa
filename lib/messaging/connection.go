// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/gridlink/gridlink/lib/events"
	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/rand"
	"github.com/gridlink/gridlink/lib/serializer"
	"github.com/gridlink/gridlink/lib/sync"
	"github.com/gridlink/gridlink/lib/wire"
)

type connState int

const (
	stateCreated connState = iota
	stateOpening
	stateOpen
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// An Authenticator vets the identity token a peer presents when opening a
// connection or a channel. A nil Authenticator accepts everything.
type Authenticator func(identity []byte) error

// Options configure a Connection beyond its config block.
type Options struct {
	Config ConnectionConfig

	// Initiator marks the side that dials and sends OpenConnectionRequest.
	// Initiators mint positive channel IDs, acceptors negative ones, so the
	// two sides never collide.
	Initiator bool

	// Identity is the token presented to the peer on open. May be nil.
	Identity []byte

	// Authenticate vets tokens presented by the peer. Nil accepts all.
	Authenticate Authenticator

	// RequestTimeout is the default Await timeout for requests on channels
	// of this connection. Zero means 30 seconds.
	RequestTimeout time.Duration

	// Clock defaults to the real clock. Tests inject a fake one.
	Clock clockwork.Clock
}

type asyncMessage struct {
	channelID int32
	msg       Message
	done      chan struct{}
}

type inboundMessage struct {
	ch  *Channel
	msg Message
	err error // reader-side termination, delivered after queued messages
}

// A Connection multiplexes channels over one full-duplex byte pipe. Frames
// are read, decoded and dispatched by internal goroutines; sends go through
// a single writer goroutine so frames never interleave.
type Connection struct {
	id         string
	cfg        ConnectionConfig
	clock      clockwork.Clock
	codec      Codec
	initiator  bool
	identity   []byte
	auth       Authenticator
	reqTimeout time.Duration

	localUUID  uuid.UUID
	remoteUUID uuid.UUID
	connUUID   uuid.UUID

	closer io.Closer
	cr     *countingReader
	cw     *countingWriter
	fr     *wire.FrameReader
	fw     *wire.FrameWriter

	gate    *Gate
	control *Channel

	mut          sync.Mutex
	state        connState
	changed      chan struct{} // closed and replaced on state change
	channels     map[int32]*Channel
	pendingChans map[int32]*Channel // minted back-channels awaiting AcceptChannelRequest
	versions     map[string]int32   // negotiated protocol versions
	receivers    map[string]Receiver
	closeCause   error

	outbox chan asyncMessage
	inbox  chan inboundMessage
	closed chan struct{}

	closeOnce     stdsync.Once
	sendCloseOnce stdsync.Once

	startedAt    time.Time
	msgsSent     atomic.Int64
	msgsRecv     atomic.Int64
	statsResetAt atomic.Int64 // unix nanos
	lastRecv     atomic.Int64 // unix nanos, on the connection clock
}

// NewConnection wraps rw in a connection. Call Start to launch the loops,
// then Open (initiator) or WaitOpen (acceptor).
func NewConnection(rw io.ReadWriteCloser, opts Options) *Connection {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	reqTimeout := opts.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = 30 * time.Second
	}
	local := uuid.New()
	id := local.String()

	c := &Connection{
		id:         id,
		cfg:        opts.Config,
		clock:      clock,
		codec:      DefaultCodec(),
		initiator:  opts.Initiator,
		identity:   opts.Identity,
		auth:       opts.Authenticate,
		reqTimeout: reqTimeout,

		localUUID: local,
		closer:    rw,

		gate: newGate(clock),

		mut:          sync.NewMutex(),
		state:        stateCreated,
		changed:      make(chan struct{}),
		channels:     make(map[int32]*Channel),
		pendingChans: make(map[int32]*Channel),
		versions:     make(map[string]int32),
		receivers:    make(map[string]Receiver),

		outbox: make(chan asyncMessage),
		inbox:  make(chan inboundMessage),
		closed: make(chan struct{}),
	}

	c.cr = &countingReader{Reader: rw, connID: id}
	readSrc := io.Reader(c.cr)
	if lim := newRateLimiter(opts.Config.MaxRecvKbps); lim != nil {
		readSrc = &limitedReader{reader: readSrc, limiter: lim}
	}
	c.fr = wire.NewFrameReader(readSrc)
	if opts.Config.MaxFrameBytes > 0 {
		c.fr.SetMaxFrameLen(opts.Config.MaxFrameBytes)
	}

	c.cw = &countingWriter{Writer: rw, connID: id}
	writeDst := io.Writer(c.cw)
	if lim := newRateLimiter(opts.Config.MaxSendKbps); lim != nil {
		writeDst = &limitedWriter{writer: writeDst, limiter: lim}
	}
	c.fw = wire.NewFrameWriter(writeDst)

	ctrl, ok := LookupProtocol(ControlProtocolName)
	if !ok {
		panic("control protocol not registered")
	}
	control, err := newChannel(c, 0, ctrl, controlVersion, opts.Config.SerializerName, ReceiverFunc(c.handleControl), reqTimeout)
	if err != nil {
		panic(fmt.Sprintf("control channel: %v", err))
	}
	c.control = control
	c.channels[0] = control

	return c
}

// Start launches the reader, writer and dispatcher goroutines and, when a
// ping interval is configured, the ping loop.
func (c *Connection) Start() {
	registerConnMetrics(c.id)
	c.startedAt = time.Now()
	c.statsResetAt.Store(c.startedAt.UnixNano())
	c.lastRecv.Store(c.clock.Now().UnixNano())
	go c.readerLoop()
	go c.dispatcherLoop()
	go c.writerLoop()
	if c.cfg.PingInterval() > 0 {
		go c.pingLoop()
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("connection-%s", c.id)
}

// ID returns the connection's local identifier, used in logs and metrics.
func (c *Connection) ID() string { return c.id }

// LocalUUID is this side's UUID, minted at construction.
func (c *Connection) LocalUUID() uuid.UUID { return c.localUUID }

// RemoteUUID is the peer's UUID, known once the connection is open.
func (c *Connection) RemoteUUID() uuid.UUID {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.remoteUUID
}

// ConnectionUUID is the UUID the acceptor assigned to this connection.
func (c *Connection) ConnectionUUID() uuid.UUID {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.connUUID
}

// Gate brackets client operations against the connection lifecycle.
func (c *Connection) Gate() *Gate { return c.gate }

// ControlChannel returns channel zero.
func (c *Connection) ControlChannel() *Channel { return c.control }

// State returns the current lifecycle state.
func (c *Connection) State() string {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.state.String()
}

// Closed is closed once the connection is fully torn down.
func (c *Connection) Closed() <-chan struct{} { return c.closed }

// CloseCause returns the error the connection closed with, if any.
func (c *Connection) CloseCause() error {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.closeCause
}

// NegotiatedVersion returns the version agreed for a protocol on this
// connection, or false when the peer does not speak it.
func (c *Connection) NegotiatedVersion(protocolName string) (int32, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	v, ok := c.versions[protocolName]
	return v, ok
}

// RegisterReceiver publishes a named receiver that peers can address in
// OpenChannelRequest.
func (c *Connection) RegisterReceiver(name string, r Receiver) {
	c.mut.Lock()
	c.receivers[name] = r
	c.mut.Unlock()
}

// Statistics are point-in-time transfer counters for a connection.
type Statistics struct {
	StartedAt        time.Time
	ResetAt          time.Time
	InBytesTotal     int64
	OutBytesTotal    int64
	MessagesSent     int64
	MessagesReceived int64
	ChannelCount     int
}

func (c *Connection) Statistics() Statistics {
	c.mut.Lock()
	n := len(c.channels)
	c.mut.Unlock()
	return Statistics{
		StartedAt:        c.startedAt,
		ResetAt:          time.Unix(0, c.statsResetAt.Load()),
		InBytesTotal:     c.cr.Tot(),
		OutBytesTotal:    c.cw.Tot(),
		MessagesSent:     c.msgsSent.Load(),
		MessagesReceived: c.msgsRecv.Load(),
		ChannelCount:     n,
	}
}

// ResetStatistics zeroes the per-connection byte and message counters and
// records the reset time. The prometheus counters are process-wide and stay
// monotonic.
func (c *Connection) ResetStatistics() {
	c.msgsSent.Store(0)
	c.msgsRecv.Store(0)
	c.cr.ResetTot()
	c.cw.ResetTot()
	c.statsResetAt.Store(time.Now().UnixNano())
}

// setStateLocked transitions the lifecycle state and wakes waiters. Must be
// called with c.mut held.
func (c *Connection) setStateLocked(s connState) {
	if s == c.state {
		return
	}
	l.Debugf("%v: state %v -> %v", c, c.state, s)
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

// Open performs the initiator side of the handshake: announce all registered
// protocols, authenticate, and record the negotiated versions. Blocks until
// the acceptor responds or the open timeout passes.
func (c *Connection) Open(ctx context.Context) error {
	if !c.initiator {
		return errors.New("open called on the accepting side")
	}
	c.mut.Lock()
	if c.state != stateCreated {
		state := c.state
		c.mut.Unlock()
		return fmt.Errorf("open in state %v", state)
	}
	c.setStateLocked(stateOpening)
	c.mut.Unlock()

	req := &OpenConnectionRequest{
		ClientUUID: c.localUUID,
		Edition:    c.cfg.Edition,
		Identity:   c.identity,
	}
	protocols.Range(func(name string, p *Protocol) bool {
		if name == ControlProtocolName {
			return true
		}
		req.Protocols = append(req.Protocols, ProtocolRange{Name: name, Low: p.VersionLow, High: p.VersionHigh})
		return true
	})
	sort.Slice(req.Protocols, func(i, j int) bool { return req.Protocols[i].Name < req.Protocols[j].Name })

	octx, cancel := context.WithTimeout(ctx, c.cfg.OpenTimeout())
	defer cancel()
	resp, err := c.control.Call(octx, req)
	if err != nil {
		c.internalClose(err)
		return err
	}
	ocr, ok := resp.(*OpenConnectionResponse)
	if !ok {
		err := grid.WrapError(grid.ErrProtocol, fmt.Errorf("unexpected %T in open handshake", resp))
		c.internalClose(err)
		return err
	}
	if !ocr.OK {
		err := grid.WrapError(grid.ErrAuthFailed, errors.New(ocr.Reason))
		c.internalClose(err)
		return err
	}

	c.mut.Lock()
	c.remoteUUID = ocr.AcceptorUUID
	c.connUUID = ocr.AssignedUUID
	for _, v := range ocr.Versions {
		if v.Version > 0 {
			c.versions[v.Name] = v.Version
		}
	}
	c.setStateLocked(stateOpen)
	c.mut.Unlock()

	l.Infof("%v: open to %v as %v", c, ocr.AcceptorUUID, ocr.AssignedUUID)
	events.Default.Log(events.ConnectionOpened, map[string]string{
		"id":     c.id,
		"remote": ocr.AcceptorUUID.String(),
	})
	return nil
}

// WaitOpen blocks until the connection is open. On the accepting side the
// state flips when the initiator's handshake arrives.
func (c *Connection) WaitOpen(ctx context.Context) error {
	for {
		c.mut.Lock()
		state := c.state
		changed := c.changed
		c.mut.Unlock()
		switch {
		case state == stateOpen:
			return nil
		case state >= stateClosing:
			return grid.WrapError(grid.ErrConnectionClosed, c.CloseCause())
		}
		select {
		case <-changed:
		case <-c.closed:
			return grid.WrapError(grid.ErrConnectionClosed, c.CloseCause())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// allocChannelIDLocked mints an unused channel ID from this side's
// partition. Must be called with c.mut held.
func (c *Connection) allocChannelIDLocked() int32 {
	for {
		id := rand.Int31()
		if id == 0 {
			continue
		}
		if !c.initiator {
			id = -id
		}
		if _, used := c.channels[id]; used {
			continue
		}
		if _, used := c.pendingChans[id]; used {
			continue
		}
		return id
	}
}

// OpenChannel opens a channel toward the peer's named receiver. The protocol
// must have been negotiated at open time.
func (c *Connection) OpenChannel(ctx context.Context, protocolName, receiverName string, receiver Receiver) (*Channel, error) {
	proto, version, err := c.negotiated(protocolName)
	if err != nil {
		return nil, err
	}

	c.mut.Lock()
	if c.state != stateOpen {
		state := c.state
		c.mut.Unlock()
		return nil, grid.WrapError(grid.ErrConnectionClosed, fmt.Errorf("open channel in state %v", state))
	}
	id := c.allocChannelIDLocked()
	c.mut.Unlock()

	req := &OpenChannelRequest{
		ChannelID:      id,
		ProtocolName:   protocolName,
		ReceiverName:   receiverName,
		SerializerName: c.cfg.SerializerName,
		Identity:       c.identity,
	}
	octx, cancel := context.WithTimeout(ctx, c.cfg.OpenTimeout())
	defer cancel()
	resp, err := c.control.Call(octx, req)
	if err != nil {
		return nil, err
	}
	ocr, ok := resp.(*OpenChannelResponse)
	if !ok {
		return nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("unexpected %T opening channel", resp))
	}
	if !ocr.OK {
		return nil, fmt.Errorf("channel open rejected: %s", ocr.Reason)
	}

	ch, err := newChannel(c, id, proto, version, c.cfg.SerializerName, receiver, c.reqTimeout)
	if err != nil {
		return nil, err
	}
	c.mut.Lock()
	c.channels[id] = ch
	c.mut.Unlock()

	l.Debugf("%v: opened channel %d (%s) to receiver %q", c, id, protocolName, receiverName)
	events.Default.Log(events.ChannelOpened, map[string]string{
		"connection": c.id,
		"channel":    strconv.FormatInt(int64(id), 10),
		"protocol":   protocolName,
	})
	return ch, nil
}

// CreateChannel mints a back-channel that the peer claims later with
// AcceptChannel against the returned channel's URI. Until then the channel
// is pending: it does not receive and cannot send.
func (c *Connection) CreateChannel(protocolName string, receiver Receiver) (*Channel, error) {
	proto, version, err := c.negotiated(protocolName)
	if err != nil {
		return nil, err
	}

	c.mut.Lock()
	defer c.mut.Unlock()
	if c.state >= stateClosing {
		return nil, grid.ErrConnectionClosed
	}
	id := c.allocChannelIDLocked()
	ch, err := newChannel(c, id, proto, version, c.cfg.SerializerName, receiver, c.reqTimeout)
	if err != nil {
		return nil, err
	}
	c.pendingChans[id] = ch
	if max := c.cfg.MaxPendingChannels; max > 0 && len(c.pendingChans) > max {
		l.Warnf("%v: %d pending channels exceeds the configured maximum %d; the peer may be leaking channel URIs", c, len(c.pendingChans), max)
	}
	return ch, nil
}

// ParseChannelURI splits a channel URI of the form channel:<id>#<protocol>.
func ParseChannelURI(uri string) (int32, string, error) {
	rest, ok := strings.CutPrefix(uri, "channel:")
	if !ok {
		return 0, "", fmt.Errorf("not a channel URI: %q", uri)
	}
	idStr, protoName, ok := strings.Cut(rest, "#")
	if !ok {
		return 0, "", fmt.Errorf("channel URI %q has no protocol fragment", uri)
	}
	id, err := strconv.ParseInt(idStr, 10, 32)
	if err != nil || id == 0 {
		return 0, "", fmt.Errorf("channel URI %q has a bad channel ID", uri)
	}
	return int32(id), protoName, nil
}

// AcceptChannel claims a back-channel minted by the peer, identified by the
// URI the peer handed out.
func (c *Connection) AcceptChannel(ctx context.Context, uri string, receiver Receiver) (*Channel, error) {
	id, protoName, err := ParseChannelURI(uri)
	if err != nil {
		return nil, err
	}
	proto, version, err := c.negotiated(protoName)
	if err != nil {
		return nil, err
	}

	octx, cancel := context.WithTimeout(ctx, c.cfg.OpenTimeout())
	defer cancel()
	resp, err := c.control.Call(octx, &AcceptChannelRequest{ChannelID: id})
	if err != nil {
		return nil, err
	}
	acr, ok := resp.(*AcceptChannelResponse)
	if !ok {
		return nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("unexpected %T accepting channel", resp))
	}
	if !acr.OK {
		return nil, fmt.Errorf("channel accept rejected: %s", acr.Reason)
	}

	ch, err := newChannel(c, id, proto, version, c.cfg.SerializerName, receiver, c.reqTimeout)
	if err != nil {
		return nil, err
	}
	c.mut.Lock()
	c.channels[id] = ch
	c.mut.Unlock()
	l.Debugf("%v: accepted channel %d (%s)", c, id, protoName)
	return ch, nil
}

// negotiated resolves a protocol and the version agreed with the peer.
func (c *Connection) negotiated(protocolName string) (*Protocol, int32, error) {
	proto, ok := LookupProtocol(protocolName)
	if !ok {
		return nil, 0, grid.WrapError(grid.ErrUnsupported, fmt.Errorf("protocol %q not registered", protocolName))
	}
	c.mut.Lock()
	version, ok := c.versions[protocolName]
	c.mut.Unlock()
	if !ok {
		return nil, 0, grid.WrapError(grid.ErrUnsupported, fmt.Errorf("protocol %q not negotiated with the peer", protocolName))
	}
	return proto, version, nil
}

// closeChannel detaches a channel and fails its pending requests. There is
// no wire-level close for channels; the peer notices on its own protocol's
// terms.
func (c *Connection) closeChannel(ch *Channel, cause error) {
	c.mut.Lock()
	_, present := c.channels[ch.id]
	delete(c.channels, ch.id)
	delete(c.pendingChans, ch.id)
	c.mut.Unlock()

	ch.close(cause)
	if present {
		l.Debugf("%v: closed channel %d (%s): %v", c, ch.id, ch.protoName, cause)
		events.Default.Log(events.ChannelClosed, map[string]string{
			"connection": c.id,
			"channel":    strconv.FormatInt(int64(ch.id), 10),
			"protocol":   ch.protoName,
		})
	}
}

// send queues a message for the writer goroutine. done, when non-nil, is
// closed after the frame hits the wire (or the connection dies).
func (c *Connection) send(channelID int32, msg Message, done chan struct{}) error {
	select {
	case c.outbox <- asyncMessage{channelID: channelID, msg: msg, done: done}:
		return nil
	case <-c.closed:
		if done != nil {
			close(done)
		}
		return grid.WrapError(grid.ErrConnectionClosed, c.CloseCause())
	}
}

func (c *Connection) writerLoop() {
	w := wire.NewWriter()
	for {
		select {
		case am := <-c.outbox:
			err := c.writeMessage(w, am)
			if am.done != nil {
				close(am.done)
			}
			if err != nil {
				c.internalClose(err)
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) writeMessage(w *wire.Writer, am asyncMessage) error {
	w.Reset()
	c.codec.Encode(w, am.channelID, am.msg)
	if err := w.Err(); err != nil {
		return fmt.Errorf("encoding %T: %w", am.msg, err)
	}
	l.Debugf("%v: -> %T on channel %d (req %d)", c, am.msg, am.channelID, am.msg.RequestID())
	if err := c.fw.WriteFrame(w.Bytes()); err != nil {
		return err
	}
	c.msgsSent.Add(1)
	metricConnSentMessages.WithLabelValues(c.id).Inc()
	return nil
}

func (c *Connection) readerLoop() {
	for {
		frame, err := c.fr.ReadFrame()
		if err != nil {
			c.readerDone(err)
			return
		}
		channelID, msg, err := c.codec.Decode(wire.NewReader(frame), c.resolveFactory)
		if err != nil {
			l.Infof("%v: %v", c, err)
			c.readerDone(err)
			return
		}
		c.msgsRecv.Add(1)
		metricConnRecvMessages.WithLabelValues(c.id).Inc()
		c.lastRecv.Store(c.clock.Now().UnixNano())

		c.mut.Lock()
		ch := c.channels[channelID]
		c.mut.Unlock()
		if ch == nil {
			// Raced with a local channel close between decode and here.
			l.Debugf("%v: dropping %T for closed channel %d", c, msg, channelID)
			continue
		}
		select {
		case c.inbox <- inboundMessage{ch: ch, msg: msg}:
		case <-c.closed:
			return
		}
	}
}

// readerDone queues the terminal read error behind whatever the reader
// already handed to the dispatcher. A final response or close notification
// must not lose the race against the transport EOF that follows it, so the
// teardown travels the same queue as the messages.
func (c *Connection) readerDone(err error) {
	select {
	case c.inbox <- inboundMessage{err: err}:
	case <-c.closed:
	}
}

func (c *Connection) dispatcherLoop() {
	for {
		select {
		case in := <-c.inbox:
			if in.err != nil {
				// Everything queued before this has been delivered.
				c.internalClose(in.err)
				return
			}
			l.Debugf("%v: <- %T on channel %d (req %d)", c, in.msg, in.ch.id, in.msg.RequestID())
			if err := in.ch.receive(in.msg); err != nil {
				l.Infof("%v: %v", c, err)
				c.sendClose(err)
				c.internalClose(err)
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) resolveFactory(channelID int32) (MessageFactory, error) {
	c.mut.Lock()
	ch, ok := c.channels[channelID]
	c.mut.Unlock()
	if !ok {
		return nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("message on unknown channel %d", channelID))
	}
	return ch.factory, nil
}

// handleControl is the receiver for channel zero.
func (c *Connection) handleControl(ctx *ChannelContext, msg Message) {
	switch m := msg.(type) {
	case *OpenConnectionRequest:
		c.handleOpenConnection(ctx, m)
	case *OpenChannelRequest:
		c.handleOpenChannel(ctx, m)
	case *AcceptChannelRequest:
		c.handleAcceptChannel(ctx, m)
	case *NotifyConnectionClosed:
		l.Infof("%v: closed by peer: %s", c, m.Reason)
		c.internalClose(grid.WrapError(grid.ErrConnectionClosed, fmt.Errorf("closed by peer: %s", m.Reason)))
	case *PingRequest:
		_ = ctx.Respond(&PingResponse{})
	default:
		err := grid.WrapError(grid.ErrProtocol, fmt.Errorf("unexpected %T on the control channel", msg))
		l.Infof("%v: %v", c, err)
		c.sendClose(err)
		c.internalClose(err)
	}
}

func (c *Connection) handleOpenConnection(ctx *ChannelContext, m *OpenConnectionRequest) {
	reject := func(reason string, cause error) {
		// Wait for the rejection to flush before tearing down, so the peer
		// sees the reason rather than a dead pipe.
		resp := &OpenConnectionResponse{Reason: reason}
		resp.SetRequestID(-m.RequestID())
		done := make(chan struct{})
		if err := c.send(0, resp, done); err == nil {
			timer := c.clock.NewTimer(time.Second)
			defer timer.Stop()
			select {
			case <-done:
			case <-timer.Chan():
			case <-c.closed:
			}
		}
		c.internalClose(cause)
	}

	if c.initiator {
		reject("unexpected open from the accepting side", grid.WrapError(grid.ErrProtocol, errors.New("open request from acceptor")))
		return
	}
	c.mut.Lock()
	if c.state != stateCreated {
		state := c.state
		c.mut.Unlock()
		reject("connection already open", grid.WrapError(grid.ErrProtocol, fmt.Errorf("duplicate open in state %v", state)))
		return
	}
	c.setStateLocked(stateOpening)
	c.mut.Unlock()

	if c.auth != nil {
		if err := c.auth(m.Identity); err != nil {
			l.Infof("%v: rejecting connection from %v: %v", c, m.ClientUUID, err)
			reject("authentication failed", grid.WrapError(grid.ErrAuthFailed, err))
			return
		}
	}

	assigned := uuid.New()
	versions := make([]ProtocolVersion, 0, len(m.Protocols))
	negotiated := make(map[string]int32, len(m.Protocols))
	for _, pr := range m.Protocols {
		v := int32(0)
		if proto, ok := LookupProtocol(pr.Name); ok {
			if nv, ok := proto.Negotiate(pr.Low, pr.High); ok {
				v = nv
				negotiated[pr.Name] = nv
			}
		}
		versions = append(versions, ProtocolVersion{Name: pr.Name, Version: v})
	}

	c.mut.Lock()
	c.remoteUUID = m.ClientUUID
	c.connUUID = assigned
	c.versions = negotiated
	c.setStateLocked(stateOpen)
	c.mut.Unlock()

	if err := ctx.Respond(&OpenConnectionResponse{
		OK:           true,
		AcceptorUUID: c.localUUID,
		AssignedUUID: assigned,
		Versions:     versions,
	}); err != nil {
		return
	}
	l.Infof("%v: accepted connection from %v as %v", c, m.ClientUUID, assigned)
	events.Default.Log(events.ConnectionOpened, map[string]string{
		"id":     c.id,
		"remote": m.ClientUUID.String(),
	})
}

func (c *Connection) handleOpenChannel(ctx *ChannelContext, m *OpenChannelRequest) {
	reject := func(reason string) {
		l.Debugf("%v: rejecting channel %d (%s): %s", c, m.ChannelID, m.ProtocolName, reason)
		_ = ctx.Respond(&OpenChannelResponse{Reason: reason})
	}

	proto, version, err := c.negotiated(m.ProtocolName)
	if err != nil {
		reject(err.Error())
		return
	}
	if c.auth != nil {
		if err := c.auth(m.Identity); err != nil {
			reject("authentication failed")
			return
		}
	}
	serName := m.SerializerName
	if _, err := serializer.Get(serName); err != nil {
		reject(err.Error())
		return
	}

	c.mut.Lock()
	receiver, ok := c.receivers[m.ReceiverName]
	if !ok {
		c.mut.Unlock()
		reject(fmt.Sprintf("unknown receiver %q", m.ReceiverName))
		return
	}
	if _, used := c.channels[m.ChannelID]; used || m.ChannelID == 0 {
		c.mut.Unlock()
		reject(fmt.Sprintf("channel ID %d already in use", m.ChannelID))
		return
	}
	ch, err := newChannel(c, m.ChannelID, proto, version, serName, receiver, c.reqTimeout)
	if err != nil {
		c.mut.Unlock()
		reject(err.Error())
		return
	}
	c.channels[m.ChannelID] = ch
	c.mut.Unlock()

	if err := ctx.Respond(&OpenChannelResponse{OK: true}); err != nil {
		return
	}
	l.Debugf("%v: peer opened channel %d (%s) to receiver %q", c, m.ChannelID, m.ProtocolName, m.ReceiverName)
	events.Default.Log(events.ChannelOpened, map[string]string{
		"connection": c.id,
		"channel":    strconv.FormatInt(int64(m.ChannelID), 10),
		"protocol":   m.ProtocolName,
	})
}

func (c *Connection) handleAcceptChannel(ctx *ChannelContext, m *AcceptChannelRequest) {
	c.mut.Lock()
	ch, ok := c.pendingChans[m.ChannelID]
	if ok {
		delete(c.pendingChans, m.ChannelID)
		c.channels[m.ChannelID] = ch
	}
	c.mut.Unlock()

	if !ok {
		_ = ctx.Respond(&AcceptChannelResponse{Reason: fmt.Sprintf("no pending channel %d", m.ChannelID)})
		return
	}
	if err := ctx.Respond(&AcceptChannelResponse{OK: true}); err != nil {
		return
	}
	l.Debugf("%v: peer accepted channel %d (%s)", c, ch.id, ch.protoName)
	events.Default.Log(events.ChannelOpened, map[string]string{
		"connection": c.id,
		"channel":    strconv.FormatInt(int64(ch.id), 10),
		"protocol":   ch.protoName,
	})
}

// pingLoop keeps the connection verified live. When nothing has been read
// for a full interval it sends a ping and closes the connection if the
// response does not arrive within the ping timeout. At most one ping is in
// flight; the ticks that fire while it awaits its response are dropped.
func (c *Connection) pingLoop() {
	interval := c.cfg.PingInterval()
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	var pending atomic.Bool
	for {
		select {
		case <-ticker.Chan():
			if c.clock.Now().Sub(time.Unix(0, c.lastRecv.Load())) < interval {
				continue
			}
			if !pending.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				c.ping()
				pending.Store(false)
			}()
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) ping() {
	st, err := c.control.Request(&PingRequest{})
	if err != nil {
		return
	}
	if _, err := st.Await(c.cfg.PingTimeout()); err != nil && errors.Is(err, grid.ErrTimeout) {
		l.Infof("%v: no ping response within %v", c, c.cfg.PingTimeout())
		c.internalClose(grid.WrapError(grid.ErrTimeout, errors.New("ping timeout")))
	}
}

// Close tears the connection down gracefully: the gate stops admitting new
// operations and in-flight ones get CloseNotifyTimeout to drain (forever
// when zero); then the peer is notified and the connection hard-closed. If
// the drain times out the last operation out finishes the close instead.
func (c *Connection) Close(cause error) error {
	c.mut.Lock()
	if c.state < stateClosing {
		c.setStateLocked(stateClosing)
	}
	c.mut.Unlock()

	finish := func() {
		c.sendClose(cause)
		c.internalClose(cause)
	}
	if c.gate.Close(c.cfg.CloseNotifyTimeout(), finish) {
		finish()
	}
	return nil
}

// sendClose notifies the peer, once, waiting briefly for the frame to make
// it out.
func (c *Connection) sendClose(cause error) {
	c.sendCloseOnce.Do(func() {
		reason := ""
		if cause != nil {
			reason = cause.Error()
		}
		done := make(chan struct{})
		if err := c.send(0, &NotifyConnectionClosed{Reason: reason}, done); err != nil {
			return
		}
		timeout := c.cfg.CloseNotifyTimeout()
		if timeout <= 0 {
			timeout = time.Second
		}
		timer := c.clock.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.Chan():
		case <-c.closed:
		}
	})
}

// internalClose is the hard teardown: stop the loops, close the transport,
// fail every channel. Idempotent; the first cause wins.
func (c *Connection) internalClose(cause error) {
	c.closeOnce.Do(func() {
		c.gate.Shut()

		c.mut.Lock()
		c.closeCause = cause
		chans := make([]*Channel, 0, len(c.channels)+len(c.pendingChans))
		for _, ch := range c.channels {
			chans = append(chans, ch)
		}
		for _, ch := range c.pendingChans {
			chans = append(chans, ch)
		}
		c.channels = make(map[int32]*Channel)
		c.pendingChans = make(map[int32]*Channel)
		c.setStateLocked(stateClosed)
		c.mut.Unlock()

		close(c.closed)
		_ = c.closer.Close()
		for _, ch := range chans {
			ch.close(grid.WrapError(grid.ErrConnectionClosed, cause))
		}

		reason := ""
		if cause != nil {
			reason = cause.Error()
		}
		l.Infof("%v: closed: %v", c, cause)
		events.Default.Log(events.ConnectionClosed, map[string]string{
			"id":    c.id,
			"error": reason,
		})
	})
}
