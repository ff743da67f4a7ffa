// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package filters

import (
	"fmt"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/wire"
)

// Portable type tags. Filters take the 1xx range, extractors 2xx,
// comparators 25x, entry processors 3xx and aggregators 4xx. The 5xx range
// is reserved for invocables.
const (
	tagAlways  = 101
	tagNever   = 102
	tagEquals  = 103
	tagNot     = 104
	tagAnd     = 105
	tagOr      = 106
	tagPattern = 107

	tagIdentityExtractor = 201
	tagKeyExtractor      = 202

	tagReverseComparator   = 251
	tagExtractedComparator = 252

	tagValueUpdater      = 301
	tagConditionalRemove = 302
	tagNumberIncrementor = 303

	tagCountAggregator    = 401
	tagSumAggregator      = 402
	tagMinAggregator      = 403
	tagMaxAggregator      = 404
	tagAverageAggregator  = 405
	tagDistinctAggregator = 406
)

func init() {
	grid.RegisterPortable(tagAlways, func() grid.Portable { return &Always{} })
	grid.RegisterPortable(tagNever, func() grid.Portable { return &Never{} })
	grid.RegisterPortable(tagEquals, func() grid.Portable { return &Equals{} })
	grid.RegisterPortable(tagNot, func() grid.Portable { return &Not{} })
	grid.RegisterPortable(tagAnd, func() grid.Portable { return &And{} })
	grid.RegisterPortable(tagOr, func() grid.Portable { return &Or{} })
	grid.RegisterPortable(tagPattern, func() grid.Portable { return &Pattern{} })

	grid.RegisterPortable(tagIdentityExtractor, func() grid.Portable { return &IdentityExtractor{} })
	grid.RegisterPortable(tagKeyExtractor, func() grid.Portable { return &KeyExtractor{} })

	grid.RegisterPortable(tagReverseComparator, func() grid.Portable { return &Reverse{} })
	grid.RegisterPortable(tagExtractedComparator, func() grid.Portable { return &Extracted{} })

	grid.RegisterPortable(tagValueUpdater, func() grid.Portable { return &ValueUpdater{} })
	grid.RegisterPortable(tagConditionalRemove, func() grid.Portable { return &ConditionalRemove{} })
	grid.RegisterPortable(tagNumberIncrementor, func() grid.Portable { return &NumberIncrementor{} })

	grid.RegisterPortable(tagCountAggregator, func() grid.Portable { return &Count{} })
	grid.RegisterPortable(tagSumAggregator, func() grid.Portable { return &Sum{} })
	grid.RegisterPortable(tagMinAggregator, func() grid.Portable { return &Min{} })
	grid.RegisterPortable(tagMaxAggregator, func() grid.Portable { return &Max{} })
	grid.RegisterPortable(tagAverageAggregator, func() grid.Portable { return &Average{} })
	grid.RegisterPortable(tagDistinctAggregator, func() grid.Portable { return &Distinct{} })
}

// The encode/decode helpers wrap grid.(En|De)codePortable with the type
// assertion to the relevant contract. Encoding a non-portable implementation
// sticks an error on the writer; callers that cross the wire must use the
// portable built-ins.

func encodeFilter(w *wire.Writer, f grid.Filter) {
	if f == nil {
		grid.EncodePortable(w, nil)
		return
	}
	p, ok := f.(grid.Portable)
	if !ok {
		w.Fail(fmt.Errorf("filter %T is not portable", f))
		return
	}
	grid.EncodePortable(w, p)
}

func decodeFilter(r *wire.Reader) (grid.Filter, error) {
	p, err := grid.DecodePortable(r)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	f, ok := p.(grid.Filter)
	if !ok {
		return nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("portable %T is not a filter", p))
	}
	return f, nil
}

func encodeExtractor(w *wire.Writer, x grid.Extractor) {
	if x == nil {
		grid.EncodePortable(w, nil)
		return
	}
	p, ok := x.(grid.Portable)
	if !ok {
		w.Fail(fmt.Errorf("extractor %T is not portable", x))
		return
	}
	grid.EncodePortable(w, p)
}

func decodeExtractor(r *wire.Reader) (grid.Extractor, error) {
	p, err := grid.DecodePortable(r)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	x, ok := p.(grid.Extractor)
	if !ok {
		return nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("portable %T is not an extractor", p))
	}
	return x, nil
}

func encodeComparator(w *wire.Writer, c grid.Comparator) {
	if c == nil {
		grid.EncodePortable(w, nil)
		return
	}
	p, ok := c.(grid.Portable)
	if !ok {
		w.Fail(fmt.Errorf("comparator %T is not portable", c))
		return
	}
	grid.EncodePortable(w, p)
}

func decodeComparator(r *wire.Reader) (grid.Comparator, error) {
	p, err := grid.DecodePortable(r)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	c, ok := p.(grid.Comparator)
	if !ok {
		return nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("portable %T is not a comparator", p))
	}
	return c, nil
}

// EncodeFilter writes a filter in portable form; a nil filter encodes as tag
// zero. Exported for the protocol message codecs.
func EncodeFilter(w *wire.Writer, f grid.Filter) { encodeFilter(w, f) }

// DecodeFilter reads a filter written by EncodeFilter.
func DecodeFilter(r *wire.Reader) (grid.Filter, error) { return decodeFilter(r) }

// EncodeExtractor writes an extractor in portable form.
func EncodeExtractor(w *wire.Writer, x grid.Extractor) { encodeExtractor(w, x) }

// DecodeExtractor reads an extractor written by EncodeExtractor.
func DecodeExtractor(r *wire.Reader) (grid.Extractor, error) { return decodeExtractor(r) }

// EncodeComparator writes a comparator in portable form.
func EncodeComparator(w *wire.Writer, c grid.Comparator) { encodeComparator(w, c) }

// DecodeComparator reads a comparator written by EncodeComparator.
func DecodeComparator(r *wire.Reader) (grid.Comparator, error) { return decodeComparator(r) }

// EncodeProcessor writes an entry processor in portable form.
func EncodeProcessor(w *wire.Writer, p grid.EntryProcessor) {
	if p == nil {
		grid.EncodePortable(w, nil)
		return
	}
	pp, ok := p.(grid.Portable)
	if !ok {
		w.Fail(fmt.Errorf("processor %T is not portable", p))
		return
	}
	grid.EncodePortable(w, pp)
}

// DecodeProcessor reads an entry processor written by EncodeProcessor.
func DecodeProcessor(r *wire.Reader) (grid.EntryProcessor, error) {
	p, err := grid.DecodePortable(r)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	proc, ok := p.(grid.EntryProcessor)
	if !ok {
		return nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("portable %T is not a processor", p))
	}
	return proc, nil
}

// EncodeAggregator writes an aggregator in portable form.
func EncodeAggregator(w *wire.Writer, a grid.Aggregator) {
	if a == nil {
		grid.EncodePortable(w, nil)
		return
	}
	pa, ok := a.(grid.Portable)
	if !ok {
		w.Fail(fmt.Errorf("aggregator %T is not portable", a))
		return
	}
	grid.EncodePortable(w, pa)
}

// DecodeAggregator reads an aggregator written by EncodeAggregator.
func DecodeAggregator(r *wire.Reader) (grid.Aggregator, error) {
	p, err := grid.DecodePortable(r)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	agg, ok := p.(grid.Aggregator)
	if !ok {
		return nil, grid.WrapError(grid.ErrProtocol, fmt.Errorf("portable %T is not an aggregator", p))
	}
	return agg, nil
}
