// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package remote implements the client-side facades for grid services
// reached over a connection: the cache service, named caches and the
// invocation service. Each facade maps the grid contracts onto protocol
// messages; values cross the wire in the channel's negotiated serializer,
// filters and processors in their portable form.
package remote

import (
	"errors"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/messaging"
	"github.com/gridlink/gridlink/lib/wire"
)

// Protocol names and the receiver names a proxy registers for them.
const (
	CacheServiceProtocolName      = "CacheServiceProtocol"
	NamedCacheProtocolName        = "NamedCacheProtocol"
	InvocationServiceProtocolName = "InvocationServiceProtocol"

	CacheServiceReceiverName      = "CacheServiceProxy"
	InvocationServiceReceiverName = "InvocationServiceProxy"
)

const protocolVersion = 1

// Cache service protocol type IDs.
const (
	typeResponse            = 0
	typeEnsureCacheRequest  = 1
	typeDestroyCacheRequest = 2
)

// Named cache protocol type IDs.
const (
	typeGetRequest         = 1
	typePutRequest         = 2
	typeRemoveRequest      = 3
	typeContainsKeyRequest = 4
	typeSizeRequest        = 5
	typeClearRequest       = 6
	typeGetAllRequest      = 7
	typePutAllRequest      = 8
	typeQueryRequest       = 9
	typeInvokeRequest      = 10
	typeInvokeAllRequest   = 11
	typeAggregateRequest   = 12
	typeIndexRequest       = 13
	typeListenerRequest    = 14
	typeLockRequest        = 15
	typeUnlockRequest      = 16
	typeTruncateRequest    = 17
	typeMapEventMessage    = 18
	typeValuesRequest      = 19
)

// Invocation service protocol type IDs.
const (
	typeInvocationRequest = 1
)

func init() {
	messaging.RegisterProtocol(&messaging.Protocol{
		Name:        CacheServiceProtocolName,
		VersionLow:  protocolVersion,
		VersionHigh: protocolVersion,
		Factory:     func(int32) messaging.MessageFactory { return cacheServiceFactory },
	})
	messaging.RegisterProtocol(&messaging.Protocol{
		Name:        NamedCacheProtocolName,
		VersionLow:  protocolVersion,
		VersionHigh: protocolVersion,
		Factory:     func(int32) messaging.MessageFactory { return namedCacheFactory },
	})
	messaging.RegisterProtocol(&messaging.Protocol{
		Name:        InvocationServiceProtocolName,
		VersionLow:  protocolVersion,
		VersionHigh: protocolVersion,
		Factory:     func(int32) messaging.MessageFactory { return invocationFactory },
	})
}

func cacheServiceFactory(typeID int32) (messaging.Message, bool) {
	switch typeID {
	case typeResponse:
		return &Response{}, true
	case typeEnsureCacheRequest:
		return &EnsureCacheRequest{}, true
	case typeDestroyCacheRequest:
		return &DestroyCacheRequest{}, true
	default:
		return nil, false
	}
}

func namedCacheFactory(typeID int32) (messaging.Message, bool) {
	switch typeID {
	case typeResponse:
		return &Response{}, true
	case typeGetRequest:
		return &GetRequest{}, true
	case typePutRequest:
		return &PutRequest{}, true
	case typeRemoveRequest:
		return &RemoveRequest{}, true
	case typeContainsKeyRequest:
		return &ContainsKeyRequest{}, true
	case typeSizeRequest:
		return &SizeRequest{}, true
	case typeClearRequest:
		return &ClearRequest{}, true
	case typeGetAllRequest:
		return &GetAllRequest{}, true
	case typePutAllRequest:
		return &PutAllRequest{}, true
	case typeQueryRequest:
		return &QueryRequest{}, true
	case typeInvokeRequest:
		return &InvokeRequest{}, true
	case typeInvokeAllRequest:
		return &InvokeAllRequest{}, true
	case typeAggregateRequest:
		return &AggregateRequest{}, true
	case typeIndexRequest:
		return &IndexRequest{}, true
	case typeListenerRequest:
		return &ListenerRequest{}, true
	case typeLockRequest:
		return &LockRequest{}, true
	case typeUnlockRequest:
		return &UnlockRequest{}, true
	case typeTruncateRequest:
		return &TruncateRequest{}, true
	case typeMapEventMessage:
		return &MapEventMessage{}, true
	case typeValuesRequest:
		return &ValuesRequest{}, true
	default:
		return nil, false
	}
}

func invocationFactory(typeID int32) (messaging.Message, bool) {
	switch typeID {
	case typeResponse:
		return &Response{}, true
	case typeInvocationRequest:
		return &InvocationRequest{}, true
	default:
		return nil, false
	}
}

// Error kinds carried in responses, mapped to the grid error taxonomy on
// the receiving side.
const (
	errKindNone int32 = iota
	errKindGeneric
	errKindUnsupported
	errKindProtocol
	errKindTimeout
	errKindNotReady
)

func errToWire(err error) (int32, string) {
	switch {
	case err == nil:
		return errKindNone, ""
	case errors.Is(err, grid.ErrUnsupported):
		return errKindUnsupported, err.Error()
	case errors.Is(err, grid.ErrProtocol):
		return errKindProtocol, err.Error()
	case errors.Is(err, grid.ErrTimeout):
		return errKindTimeout, err.Error()
	case errors.Is(err, grid.ErrNotReady):
		return errKindNotReady, err.Error()
	default:
		return errKindGeneric, err.Error()
	}
}

func errFromWire(kind int32, text string) error {
	if kind == errKindNone {
		return nil
	}
	cause := errors.New(text)
	switch kind {
	case errKindUnsupported:
		return grid.WrapError(grid.ErrUnsupported, cause)
	case errKindProtocol:
		return grid.WrapError(grid.ErrProtocol, cause)
	case errKindTimeout:
		return grid.WrapError(grid.ErrTimeout, cause)
	case errKindNotReady:
		return grid.WrapError(grid.ErrNotReady, cause)
	default:
		return cause
	}
}

// A ValuePair is one serialized key/value pair in a response or bulk
// request. Key-only and value-only lists leave the other side empty.
type ValuePair struct {
	Key   []byte
	Value []byte
}

func encodePairs(w *wire.Writer, pairs []ValuePair) {
	w.WriteUvarint(uint64(len(pairs)))
	for _, p := range pairs {
		w.WriteBytes(p.Key)
		w.WriteBytes(p.Value)
	}
}

func decodePairs(r *wire.Reader) []ValuePair {
	n := int(r.ReadUvarint())
	if r.Err() != nil {
		return nil
	}
	pairs := make([]ValuePair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, ValuePair{
			Key:   r.ReadBytes(),
			Value: r.ReadBytes(),
		})
	}
	return pairs
}

func encodeByteLists(w *wire.Writer, lists [][]byte) {
	w.WriteUvarint(uint64(len(lists)))
	for _, b := range lists {
		w.WriteBytes(b)
	}
}

func decodeByteLists(r *wire.Reader) [][]byte {
	n := int(r.ReadUvarint())
	if r.Err() != nil {
		return nil
	}
	lists := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		lists = append(lists, r.ReadBytes())
	}
	return lists
}

// Response is the single response shape shared by all three protocols. The
// populated fields depend on the request: Present and Value for point
// reads, Flag for boolean results, Num for counts, Pairs for bulk results
// and URI for the ensure-cache back-channel.
type Response struct {
	messaging.MessageBase
	ErrKind int32
	ErrText string
	Present bool
	Flag    bool
	Num     int64
	Value   []byte
	Pairs   []ValuePair
	URI     string
}

func (*Response) TypeID() int32          { return typeResponse }
func (*Response) Class() messaging.Class { return messaging.ClassResponse }

func (m *Response) EncodeBody(w *wire.Writer) {
	w.WriteInt32(m.ErrKind)
	w.WriteString(m.ErrText)
	w.WriteBool(m.Present)
	w.WriteBool(m.Flag)
	w.WriteVarint(m.Num)
	w.WriteBytes(m.Value)
	encodePairs(w, m.Pairs)
	w.WriteString(m.URI)
}

func (m *Response) DecodeBody(r *wire.Reader) error {
	m.ErrKind = r.ReadInt32()
	m.ErrText = r.ReadString()
	m.Present = r.ReadBool()
	m.Flag = r.ReadBool()
	m.Num = r.ReadVarint()
	m.Value = r.ReadBytes()
	m.Pairs = decodePairs(r)
	m.URI = r.ReadString()
	return r.Err()
}

// Err returns the error carried by the response, nil for success.
func (m *Response) Err() error {
	return errFromWire(m.ErrKind, m.ErrText)
}

// ErrorResponse builds a response carrying err, preserving its grid error
// kind across the wire.
func ErrorResponse(err error) *Response {
	kind, text := errToWire(err)
	return &Response{ErrKind: kind, ErrText: text}
}
