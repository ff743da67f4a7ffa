// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package filters

import (
	"github.com/gobwas/glob"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/values"
	"github.com/gridlink/gridlink/lib/wire"
)

// IndexAware filters can be answered from an index inverse map instead of a
// full scan. The query planner consults this when an index exists for the
// returned extractor ID.
type IndexAware interface {
	grid.Filter
	IndexLookup() (extractorID string, match values.Value, ok bool)
}

// Always matches every entry.
type Always struct{}

func (Always) Evaluate(grid.Entry) bool        { return true }
func (Always) TypeTag() int32                  { return tagAlways }
func (Always) EncodeTo(*wire.Writer)           {}
func (*Always) DecodeFrom(*wire.Reader) error  { return nil }

// Never matches no entry.
type Never struct{}

func (Never) Evaluate(grid.Entry) bool        { return false }
func (Never) TypeTag() int32                  { return tagNever }
func (Never) EncodeTo(*wire.Writer)           {}
func (*Never) DecodeFrom(*wire.Reader) error  { return nil }

// Equals matches entries whose extracted value equals Match. Extraction
// failures evaluate as no match.
type Equals struct {
	Extractor grid.Extractor
	Match     values.Value
}

func (f Equals) Evaluate(e grid.Entry) bool {
	v, err := f.Extractor.Extract(e)
	if err != nil {
		return false
	}
	return v.Equal(f.Match)
}

func (f Equals) IndexLookup() (string, values.Value, bool) {
	return f.Extractor.ID(), f.Match, true
}

func (f Equals) TypeTag() int32 { return tagEquals }

func (f Equals) EncodeTo(w *wire.Writer) {
	encodeExtractor(w, f.Extractor)
	f.Match.EncodeTo(w)
}

func (f *Equals) DecodeFrom(r *wire.Reader) error {
	x, err := decodeExtractor(r)
	if err != nil {
		return err
	}
	f.Extractor = x
	f.Match = values.DecodeValue(r)
	return r.Err()
}

// Not inverts another filter.
type Not struct {
	Inner grid.Filter
}

func (f Not) Evaluate(e grid.Entry) bool { return !f.Inner.Evaluate(e) }

func (f Not) TypeTag() int32 { return tagNot }

func (f Not) EncodeTo(w *wire.Writer) {
	encodeFilter(w, f.Inner)
}

func (f *Not) DecodeFrom(r *wire.Reader) error {
	inner, err := decodeFilter(r)
	if err != nil {
		return err
	}
	f.Inner = inner
	return nil
}

// And matches when all inner filters match.
type And struct {
	Filters []grid.Filter
}

func (f And) Evaluate(e grid.Entry) bool {
	for _, inner := range f.Filters {
		if !inner.Evaluate(e) {
			return false
		}
	}
	return true
}

func (f And) TypeTag() int32 { return tagAnd }

func (f And) EncodeTo(w *wire.Writer) {
	w.WriteUvarint(uint64(len(f.Filters)))
	for _, inner := range f.Filters {
		encodeFilter(w, inner)
	}
}

func (f *And) DecodeFrom(r *wire.Reader) error {
	n := int(r.ReadUvarint())
	f.Filters = make([]grid.Filter, 0, n)
	for i := 0; i < n; i++ {
		inner, err := decodeFilter(r)
		if err != nil {
			return err
		}
		f.Filters = append(f.Filters, inner)
	}
	return r.Err()
}

// Or matches when any inner filter matches.
type Or struct {
	Filters []grid.Filter
}

func (f Or) Evaluate(e grid.Entry) bool {
	for _, inner := range f.Filters {
		if inner.Evaluate(e) {
			return true
		}
	}
	return false
}

func (f Or) TypeTag() int32 { return tagOr }

func (f Or) EncodeTo(w *wire.Writer) {
	w.WriteUvarint(uint64(len(f.Filters)))
	for _, inner := range f.Filters {
		encodeFilter(w, inner)
	}
}

func (f *Or) DecodeFrom(r *wire.Reader) error {
	n := int(r.ReadUvarint())
	f.Filters = make([]grid.Filter, 0, n)
	for i := 0; i < n; i++ {
		inner, err := decodeFilter(r)
		if err != nil {
			return err
		}
		f.Filters = append(f.Filters, inner)
	}
	return r.Err()
}

// Pattern matches entries whose extracted value, coerced to string,
// matches a glob pattern.
type Pattern struct {
	Extractor grid.Extractor
	Pattern   string

	compiled glob.Glob
}

func NewPattern(x grid.Extractor, pattern string) (*Pattern, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Pattern{Extractor: x, Pattern: pattern, compiled: g}, nil
}

func (f *Pattern) Evaluate(e grid.Entry) bool {
	if f.compiled == nil {
		g, err := glob.Compile(f.Pattern)
		if err != nil {
			return false
		}
		f.compiled = g
	}
	v, err := f.Extractor.Extract(e)
	if err != nil {
		return false
	}
	s, ok := values.Convert(v, values.KindString)
	if !ok {
		return false
	}
	return f.compiled.Match(s.Str())
}

func (f *Pattern) TypeTag() int32 { return tagPattern }

func (f *Pattern) EncodeTo(w *wire.Writer) {
	encodeExtractor(w, f.Extractor)
	w.WriteString(f.Pattern)
}

func (f *Pattern) DecodeFrom(r *wire.Reader) error {
	x, err := decodeExtractor(r)
	if err != nil {
		return err
	}
	f.Extractor = x
	f.Pattern = r.ReadString()
	if err := r.Err(); err != nil {
		return err
	}
	g, err := glob.Compile(f.Pattern)
	if err != nil {
		return err
	}
	f.compiled = g
	return nil
}
