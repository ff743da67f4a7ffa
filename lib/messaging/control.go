// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package messaging

import (
	"github.com/google/uuid"

	"github.com/gridlink/gridlink/lib/wire"
)

// Control protocol type IDs, fixed forever. Channel 0 speaks nothing else.
const (
	typeOpenConnectionRequest  = 1
	typeOpenConnectionResponse = 2
	typeOpenChannelRequest     = 3
	typeOpenChannelResponse    = 4
	typeAcceptChannelRequest   = 5
	typeAcceptChannelResponse  = 6
	typeNotifyConnectionClosed = 7
	typePingRequest            = 8
	typePingResponse           = 9
)

const controlVersion = 1

func init() {
	registerProtocol(&Protocol{
		Name:        ControlProtocolName,
		VersionLow:  controlVersion,
		VersionHigh: controlVersion,
		Factory:     func(int32) MessageFactory { return controlFactory },
	})
}

func controlFactory(typeID int32) (Message, bool) {
	switch typeID {
	case typeOpenConnectionRequest:
		return &OpenConnectionRequest{}, true
	case typeOpenConnectionResponse:
		return &OpenConnectionResponse{}, true
	case typeOpenChannelRequest:
		return &OpenChannelRequest{}, true
	case typeOpenChannelResponse:
		return &OpenChannelResponse{}, true
	case typeAcceptChannelRequest:
		return &AcceptChannelRequest{}, true
	case typeAcceptChannelResponse:
		return &AcceptChannelResponse{}, true
	case typeNotifyConnectionClosed:
		return &NotifyConnectionClosed{}, true
	case typePingRequest:
		return &PingRequest{}, true
	case typePingResponse:
		return &PingResponse{}, true
	default:
		return nil, false
	}
}

// ProtocolRange announces one protocol and its supported version range in
// the open handshake.
type ProtocolRange struct {
	Name      string
	Low, High int32
}

// ProtocolVersion is one negotiated protocol version in the open response.
type ProtocolVersion struct {
	Name    string
	Version int32
}

// OpenConnectionRequest is the first message on a new connection.
type OpenConnectionRequest struct {
	MessageBase
	ClientUUID uuid.UUID
	Edition    string
	Identity   []byte
	Protocols  []ProtocolRange
}

func (*OpenConnectionRequest) TypeID() int32 { return typeOpenConnectionRequest }
func (*OpenConnectionRequest) Class() Class  { return ClassRequest }

func (m *OpenConnectionRequest) EncodeBody(w *wire.Writer) {
	w.WriteBytes(m.ClientUUID[:])
	w.WriteString(m.Edition)
	w.WriteBytes(m.Identity)
	w.WriteUvarint(uint64(len(m.Protocols)))
	for _, p := range m.Protocols {
		w.WriteString(p.Name)
		w.WriteInt32(p.Low)
		w.WriteInt32(p.High)
	}
}

func (m *OpenConnectionRequest) DecodeBody(r *wire.Reader) error {
	copy(m.ClientUUID[:], r.ReadBytes())
	m.Edition = r.ReadString()
	m.Identity = r.ReadBytes()
	n := int(r.ReadUvarint())
	if err := r.Err(); err != nil {
		return err
	}
	m.Protocols = make([]ProtocolRange, 0, n)
	for i := 0; i < n; i++ {
		m.Protocols = append(m.Protocols, ProtocolRange{
			Name: r.ReadString(),
			Low:  r.ReadInt32(),
			High: r.ReadInt32(),
		})
	}
	return r.Err()
}

// OpenConnectionResponse carries the acceptor's UUID, the connection UUID it
// assigned to the initiator, and the version chosen for each protocol.
type OpenConnectionResponse struct {
	MessageBase
	OK           bool
	Reason       string
	AcceptorUUID uuid.UUID
	AssignedUUID uuid.UUID
	Versions     []ProtocolVersion
}

func (*OpenConnectionResponse) TypeID() int32 { return typeOpenConnectionResponse }
func (*OpenConnectionResponse) Class() Class  { return ClassResponse }

func (m *OpenConnectionResponse) EncodeBody(w *wire.Writer) {
	w.WriteBool(m.OK)
	w.WriteString(m.Reason)
	w.WriteBytes(m.AcceptorUUID[:])
	w.WriteBytes(m.AssignedUUID[:])
	w.WriteUvarint(uint64(len(m.Versions)))
	for _, v := range m.Versions {
		w.WriteString(v.Name)
		w.WriteInt32(v.Version)
	}
}

func (m *OpenConnectionResponse) DecodeBody(r *wire.Reader) error {
	m.OK = r.ReadBool()
	m.Reason = r.ReadString()
	copy(m.AcceptorUUID[:], r.ReadBytes())
	copy(m.AssignedUUID[:], r.ReadBytes())
	n := int(r.ReadUvarint())
	if err := r.Err(); err != nil {
		return err
	}
	m.Versions = make([]ProtocolVersion, 0, n)
	for i := 0; i < n; i++ {
		m.Versions = append(m.Versions, ProtocolVersion{
			Name:    r.ReadString(),
			Version: r.ReadInt32(),
		})
	}
	return r.Err()
}

// OpenChannelRequest asks the peer to open a channel for a protocol.
type OpenChannelRequest struct {
	MessageBase
	ChannelID      int32
	ProtocolName   string
	ReceiverName   string
	SerializerName string
	Identity       []byte
}

func (*OpenChannelRequest) TypeID() int32 { return typeOpenChannelRequest }
func (*OpenChannelRequest) Class() Class  { return ClassRequest }

func (m *OpenChannelRequest) EncodeBody(w *wire.Writer) {
	w.WriteInt32(m.ChannelID)
	w.WriteString(m.ProtocolName)
	w.WriteString(m.ReceiverName)
	w.WriteString(m.SerializerName)
	w.WriteBytes(m.Identity)
}

func (m *OpenChannelRequest) DecodeBody(r *wire.Reader) error {
	m.ChannelID = r.ReadInt32()
	m.ProtocolName = r.ReadString()
	m.ReceiverName = r.ReadString()
	m.SerializerName = r.ReadString()
	m.Identity = r.ReadBytes()
	return r.Err()
}

// OpenChannelResponse accepts or rejects a channel open.
type OpenChannelResponse struct {
	MessageBase
	OK     bool
	Reason string
}

func (*OpenChannelResponse) TypeID() int32 { return typeOpenChannelResponse }
func (*OpenChannelResponse) Class() Class  { return ClassResponse }

func (m *OpenChannelResponse) EncodeBody(w *wire.Writer) {
	w.WriteBool(m.OK)
	w.WriteString(m.Reason)
}

func (m *OpenChannelResponse) DecodeBody(r *wire.Reader) error {
	m.OK = r.ReadBool()
	m.Reason = r.ReadString()
	return r.Err()
}

// AcceptChannelRequest claims a back-channel minted by the peer, by the ID
// from its channel URI.
type AcceptChannelRequest struct {
	MessageBase
	ChannelID int32
}

func (*AcceptChannelRequest) TypeID() int32 { return typeAcceptChannelRequest }
func (*AcceptChannelRequest) Class() Class  { return ClassRequest }

func (m *AcceptChannelRequest) EncodeBody(w *wire.Writer) {
	w.WriteInt32(m.ChannelID)
}

func (m *AcceptChannelRequest) DecodeBody(r *wire.Reader) error {
	m.ChannelID = r.ReadInt32()
	return r.Err()
}

// AcceptChannelResponse accepts or rejects a back-channel claim.
type AcceptChannelResponse struct {
	MessageBase
	OK     bool
	Reason string
}

func (*AcceptChannelResponse) TypeID() int32 { return typeAcceptChannelResponse }
func (*AcceptChannelResponse) Class() Class  { return ClassResponse }

func (m *AcceptChannelResponse) EncodeBody(w *wire.Writer) {
	w.WriteBool(m.OK)
	w.WriteString(m.Reason)
}

func (m *AcceptChannelResponse) DecodeBody(r *wire.Reader) error {
	m.OK = r.ReadBool()
	m.Reason = r.ReadString()
	return r.Err()
}

// NotifyConnectionClosed tells the peer we are going away.
type NotifyConnectionClosed struct {
	MessageBase
	Reason string
}

func (*NotifyConnectionClosed) TypeID() int32 { return typeNotifyConnectionClosed }
func (*NotifyConnectionClosed) Class() Class  { return ClassNotify }

func (m *NotifyConnectionClosed) EncodeBody(w *wire.Writer) {
	w.WriteString(m.Reason)
}

func (m *NotifyConnectionClosed) DecodeBody(r *wire.Reader) error {
	m.Reason = r.ReadString()
	return r.Err()
}

// PingRequest and PingResponse carry no body.
type PingRequest struct {
	MessageBase
}

func (*PingRequest) TypeID() int32                { return typePingRequest }
func (*PingRequest) Class() Class                 { return ClassRequest }
func (*PingRequest) EncodeBody(*wire.Writer)      {}
func (*PingRequest) DecodeBody(*wire.Reader) error { return nil }

type PingResponse struct {
	MessageBase
}

func (*PingResponse) TypeID() int32                { return typePingResponse }
func (*PingResponse) Class() Class                 { return ClassResponse }
func (*PingResponse) EncodeBody(*wire.Writer)      {}
func (*PingResponse) DecodeBody(*wire.Reader) error { return nil }
