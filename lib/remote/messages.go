// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package remote

import (
	"fmt"

	"github.com/gridlink/gridlink/lib/filters"
	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/messaging"
	"github.com/gridlink/gridlink/lib/wire"
)

// EnsureCacheRequest asks the proxy for a cache channel. The response URI
// names a back-channel to accept on the same connection.
type EnsureCacheRequest struct {
	messaging.MessageBase
	Name string
}

func (*EnsureCacheRequest) TypeID() int32          { return typeEnsureCacheRequest }
func (*EnsureCacheRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *EnsureCacheRequest) EncodeBody(w *wire.Writer) {
	w.WriteString(m.Name)
}

func (m *EnsureCacheRequest) DecodeBody(r *wire.Reader) error {
	m.Name = r.ReadString()
	return r.Err()
}

// DestroyCacheRequest removes a cache from the grid.
type DestroyCacheRequest struct {
	messaging.MessageBase
	Name string
}

func (*DestroyCacheRequest) TypeID() int32          { return typeDestroyCacheRequest }
func (*DestroyCacheRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *DestroyCacheRequest) EncodeBody(w *wire.Writer) {
	w.WriteString(m.Name)
}

func (m *DestroyCacheRequest) DecodeBody(r *wire.Reader) error {
	m.Name = r.ReadString()
	return r.Err()
}

type GetRequest struct {
	messaging.MessageBase
	Key []byte
}

func (*GetRequest) TypeID() int32          { return typeGetRequest }
func (*GetRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *GetRequest) EncodeBody(w *wire.Writer) {
	w.WriteBytes(m.Key)
}

func (m *GetRequest) DecodeBody(r *wire.Reader) error {
	m.Key = r.ReadBytes()
	return r.Err()
}

// PutRequest stores a value. ExpiryMillis zero applies the cache default,
// negative disables expiry for the entry.
type PutRequest struct {
	messaging.MessageBase
	Key          []byte
	Value        []byte
	ExpiryMillis int64
}

func (*PutRequest) TypeID() int32          { return typePutRequest }
func (*PutRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *PutRequest) EncodeBody(w *wire.Writer) {
	w.WriteBytes(m.Key)
	w.WriteBytes(m.Value)
	w.WriteVarint(m.ExpiryMillis)
}

func (m *PutRequest) DecodeBody(r *wire.Reader) error {
	m.Key = r.ReadBytes()
	m.Value = r.ReadBytes()
	m.ExpiryMillis = r.ReadVarint()
	return r.Err()
}

type RemoveRequest struct {
	messaging.MessageBase
	Key []byte
}

func (*RemoveRequest) TypeID() int32          { return typeRemoveRequest }
func (*RemoveRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *RemoveRequest) EncodeBody(w *wire.Writer) {
	w.WriteBytes(m.Key)
}

func (m *RemoveRequest) DecodeBody(r *wire.Reader) error {
	m.Key = r.ReadBytes()
	return r.Err()
}

type ContainsKeyRequest struct {
	messaging.MessageBase
	Key []byte
}

func (*ContainsKeyRequest) TypeID() int32          { return typeContainsKeyRequest }
func (*ContainsKeyRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *ContainsKeyRequest) EncodeBody(w *wire.Writer) {
	w.WriteBytes(m.Key)
}

func (m *ContainsKeyRequest) DecodeBody(r *wire.Reader) error {
	m.Key = r.ReadBytes()
	return r.Err()
}

type SizeRequest struct {
	messaging.MessageBase
}

func (*SizeRequest) TypeID() int32                 { return typeSizeRequest }
func (*SizeRequest) Class() messaging.Class        { return messaging.ClassRequest }
func (*SizeRequest) EncodeBody(*wire.Writer)       {}
func (*SizeRequest) DecodeBody(*wire.Reader) error { return nil }

type ClearRequest struct {
	messaging.MessageBase
}

func (*ClearRequest) TypeID() int32                 { return typeClearRequest }
func (*ClearRequest) Class() messaging.Class        { return messaging.ClassRequest }
func (*ClearRequest) EncodeBody(*wire.Writer)       {}
func (*ClearRequest) DecodeBody(*wire.Reader) error { return nil }

type GetAllRequest struct {
	messaging.MessageBase
	Keys [][]byte
}

func (*GetAllRequest) TypeID() int32          { return typeGetAllRequest }
func (*GetAllRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *GetAllRequest) EncodeBody(w *wire.Writer) {
	encodeByteLists(w, m.Keys)
}

func (m *GetAllRequest) DecodeBody(r *wire.Reader) error {
	m.Keys = decodeByteLists(r)
	return r.Err()
}

type PutAllRequest struct {
	messaging.MessageBase
	Entries []ValuePair
}

func (*PutAllRequest) TypeID() int32          { return typePutAllRequest }
func (*PutAllRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *PutAllRequest) EncodeBody(w *wire.Writer) {
	encodePairs(w, m.Entries)
}

func (m *PutAllRequest) DecodeBody(r *wire.Reader) error {
	m.Entries = decodePairs(r)
	return r.Err()
}

// QueryRequest selects entries by filter. A nil filter selects everything;
// WantEntries false returns keys only.
type QueryRequest struct {
	messaging.MessageBase
	Filter      grid.Filter
	WantEntries bool
}

func (*QueryRequest) TypeID() int32          { return typeQueryRequest }
func (*QueryRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *QueryRequest) EncodeBody(w *wire.Writer) {
	filters.EncodeFilter(w, m.Filter)
	w.WriteBool(m.WantEntries)
}

func (m *QueryRequest) DecodeBody(r *wire.Reader) error {
	var err error
	if m.Filter, err = filters.DecodeFilter(r); err != nil {
		return err
	}
	m.WantEntries = r.ReadBool()
	return r.Err()
}

type InvokeRequest struct {
	messaging.MessageBase
	Key       []byte
	Processor grid.EntryProcessor
}

func (*InvokeRequest) TypeID() int32          { return typeInvokeRequest }
func (*InvokeRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *InvokeRequest) EncodeBody(w *wire.Writer) {
	w.WriteBytes(m.Key)
	filters.EncodeProcessor(w, m.Processor)
}

func (m *InvokeRequest) DecodeBody(r *wire.Reader) error {
	m.Key = r.ReadBytes()
	var err error
	if m.Processor, err = filters.DecodeProcessor(r); err != nil {
		return err
	}
	return r.Err()
}

// InvokeAllRequest runs a processor against a key set or a filter
// selection, depending on ByFilter.
type InvokeAllRequest struct {
	messaging.MessageBase
	ByFilter  bool
	Keys      [][]byte
	Filter    grid.Filter
	Processor grid.EntryProcessor
}

func (*InvokeAllRequest) TypeID() int32          { return typeInvokeAllRequest }
func (*InvokeAllRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *InvokeAllRequest) EncodeBody(w *wire.Writer) {
	w.WriteBool(m.ByFilter)
	encodeByteLists(w, m.Keys)
	filters.EncodeFilter(w, m.Filter)
	filters.EncodeProcessor(w, m.Processor)
}

func (m *InvokeAllRequest) DecodeBody(r *wire.Reader) error {
	m.ByFilter = r.ReadBool()
	m.Keys = decodeByteLists(r)
	var err error
	if m.Filter, err = filters.DecodeFilter(r); err != nil {
		return err
	}
	if m.Processor, err = filters.DecodeProcessor(r); err != nil {
		return err
	}
	return r.Err()
}

type AggregateRequest struct {
	messaging.MessageBase
	ByFilter   bool
	Keys       [][]byte
	Filter     grid.Filter
	Aggregator grid.Aggregator
}

func (*AggregateRequest) TypeID() int32          { return typeAggregateRequest }
func (*AggregateRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *AggregateRequest) EncodeBody(w *wire.Writer) {
	w.WriteBool(m.ByFilter)
	encodeByteLists(w, m.Keys)
	filters.EncodeFilter(w, m.Filter)
	filters.EncodeAggregator(w, m.Aggregator)
}

func (m *AggregateRequest) DecodeBody(r *wire.Reader) error {
	m.ByFilter = r.ReadBool()
	m.Keys = decodeByteLists(r)
	var err error
	if m.Filter, err = filters.DecodeFilter(r); err != nil {
		return err
	}
	if m.Aggregator, err = filters.DecodeAggregator(r); err != nil {
		return err
	}
	return r.Err()
}

// IndexRequest adds or removes an index on the remote cache.
type IndexRequest struct {
	messaging.MessageBase
	Add        bool
	Extractor  grid.Extractor
	Ordered    bool
	Comparator grid.Comparator
}

func (*IndexRequest) TypeID() int32          { return typeIndexRequest }
func (*IndexRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *IndexRequest) EncodeBody(w *wire.Writer) {
	w.WriteBool(m.Add)
	filters.EncodeExtractor(w, m.Extractor)
	w.WriteBool(m.Ordered)
	filters.EncodeComparator(w, m.Comparator)
}

func (m *IndexRequest) DecodeBody(r *wire.Reader) error {
	m.Add = r.ReadBool()
	var err error
	if m.Extractor, err = filters.DecodeExtractor(r); err != nil {
		return err
	}
	m.Ordered = r.ReadBool()
	if m.Comparator, err = filters.DecodeComparator(r); err != nil {
		return err
	}
	return r.Err()
}

// Listener registration modes.
const (
	ListenGlobal uint8 = iota
	ListenKey
	ListenFilter
)

// ListenerRequest announces listener interest. The proxy maintains one
// event relay per cache channel and refcounts registrations; key and filter
// matching happens on the client, so the mode and predicate fields are
// informational for the proxy.
type ListenerRequest struct {
	messaging.MessageBase
	Add    bool
	Mode   uint8
	Key    []byte
	Filter grid.Filter
	Lite   bool
}

func (*ListenerRequest) TypeID() int32          { return typeListenerRequest }
func (*ListenerRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *ListenerRequest) EncodeBody(w *wire.Writer) {
	w.WriteBool(m.Add)
	w.WriteUint8(m.Mode)
	w.WriteBytes(m.Key)
	filters.EncodeFilter(w, m.Filter)
	w.WriteBool(m.Lite)
}

func (m *ListenerRequest) DecodeBody(r *wire.Reader) error {
	m.Add = r.ReadBool()
	m.Mode = r.ReadUint8()
	m.Key = r.ReadBytes()
	var err error
	if m.Filter, err = filters.DecodeFilter(r); err != nil {
		return err
	}
	m.Lite = r.ReadBool()
	return r.Err()
}

// LockRequest acquires a key lease, or the global lease when Global is set.
// The lease owner is the requesting connection; WaitMillis zero returns
// immediately, negative waits indefinitely.
type LockRequest struct {
	messaging.MessageBase
	Global     bool
	Key        []byte
	WaitMillis int64
}

func (*LockRequest) TypeID() int32          { return typeLockRequest }
func (*LockRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *LockRequest) EncodeBody(w *wire.Writer) {
	w.WriteBool(m.Global)
	w.WriteBytes(m.Key)
	w.WriteVarint(m.WaitMillis)
}

func (m *LockRequest) DecodeBody(r *wire.Reader) error {
	m.Global = r.ReadBool()
	m.Key = r.ReadBytes()
	m.WaitMillis = r.ReadVarint()
	return r.Err()
}

type UnlockRequest struct {
	messaging.MessageBase
	Global bool
	Key    []byte
}

func (*UnlockRequest) TypeID() int32          { return typeUnlockRequest }
func (*UnlockRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *UnlockRequest) EncodeBody(w *wire.Writer) {
	w.WriteBool(m.Global)
	w.WriteBytes(m.Key)
}

func (m *UnlockRequest) DecodeBody(r *wire.Reader) error {
	m.Global = r.ReadBool()
	m.Key = r.ReadBytes()
	return r.Err()
}

type TruncateRequest struct {
	messaging.MessageBase
}

func (*TruncateRequest) TypeID() int32                 { return typeTruncateRequest }
func (*TruncateRequest) Class() messaging.Class        { return messaging.ClassRequest }
func (*TruncateRequest) EncodeBody(*wire.Writer)       {}
func (*TruncateRequest) DecodeBody(*wire.Reader) error { return nil }

// MapEventMessage is the unsolicited event notification from the proxy to a
// cache channel with registered listeners.
type MapEventMessage struct {
	messaging.MessageBase
	EventType int32
	Key       []byte
	OldValue  []byte
	NewValue  []byte
	Cause     int32
}

func (*MapEventMessage) TypeID() int32          { return typeMapEventMessage }
func (*MapEventMessage) Class() messaging.Class { return messaging.ClassNotify }

func (m *MapEventMessage) EncodeBody(w *wire.Writer) {
	w.WriteInt32(m.EventType)
	w.WriteBytes(m.Key)
	w.WriteBytes(m.OldValue)
	w.WriteBytes(m.NewValue)
	w.WriteInt32(m.Cause)
}

func (m *MapEventMessage) DecodeBody(r *wire.Reader) error {
	m.EventType = r.ReadInt32()
	m.Key = r.ReadBytes()
	m.OldValue = r.ReadBytes()
	m.NewValue = r.ReadBytes()
	m.Cause = r.ReadInt32()
	return r.Err()
}

// ValuesRequest returns values selected by a filter, sorted by the
// comparator or the natural ordering when nil.
type ValuesRequest struct {
	messaging.MessageBase
	Filter     grid.Filter
	Comparator grid.Comparator
}

func (*ValuesRequest) TypeID() int32          { return typeValuesRequest }
func (*ValuesRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *ValuesRequest) EncodeBody(w *wire.Writer) {
	filters.EncodeFilter(w, m.Filter)
	filters.EncodeComparator(w, m.Comparator)
}

func (m *ValuesRequest) DecodeBody(r *wire.Reader) error {
	var err error
	if m.Filter, err = filters.DecodeFilter(r); err != nil {
		return err
	}
	if m.Comparator, err = filters.DecodeComparator(r); err != nil {
		return err
	}
	return r.Err()
}

// InvocationRequest carries a portable task for the invocation service.
type InvocationRequest struct {
	messaging.MessageBase
	Task grid.Invocable
}

func (*InvocationRequest) TypeID() int32          { return typeInvocationRequest }
func (*InvocationRequest) Class() messaging.Class { return messaging.ClassRequest }

func (m *InvocationRequest) EncodeBody(w *wire.Writer) {
	p, ok := m.Task.(grid.Portable)
	if !ok {
		w.Fail(fmt.Errorf("invocable %T is not portable", m.Task))
		return
	}
	grid.EncodePortable(w, p)
}

func (m *InvocationRequest) DecodeBody(r *wire.Reader) error {
	p, err := grid.DecodePortable(r)
	if err != nil {
		return err
	}
	task, ok := p.(grid.Invocable)
	if !ok {
		return grid.WrapError(grid.ErrProtocol, fmt.Errorf("portable %T is not an invocable", p))
	}
	m.Task = task
	return r.Err()
}
