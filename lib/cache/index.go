// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package cache

import (
	"sort"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/values"
)

// An index maps extracted values back to the keys of the entries they were
// extracted from. Ordered indices additionally keep the distinct extracted
// values sorted. A conditional index (filter != nil) only covers entries its
// filter accepts and flags itself partial once anything was rejected or
// failed extraction, which disqualifies it from answering queries.
//
// All methods run under the owning cache's mutex.
type index struct {
	extractor grid.Extractor
	ordered   bool
	comp      grid.Comparator
	filter    grid.Filter
	partial   bool

	inverse map[values.Key]map[values.Key]values.Value // extracted → entry keys
	vals    map[values.Key]values.Value                // extracted key → extracted value
	forward map[values.Key]values.Value                // entry key → extracted value
	sorted  []values.Value                             // distinct extracted values, ordered only
}

func newIndex(extr grid.Extractor, ordered bool, comp grid.Comparator, filter grid.Filter) *index {
	return &index{
		extractor: extr,
		ordered:   ordered,
		comp:      comp,
		filter:    filter,
		inverse:   make(map[values.Key]map[values.Key]values.Value),
		vals:      make(map[values.Key]values.Value),
		forward:   make(map[values.Key]values.Value),
	}
}

func (ix *index) cmp(a, b values.Value) int {
	if ix.comp != nil {
		return ix.comp.Compare(a, b)
	}
	return a.Compare(b)
}

// update reflects an inserted or updated entry. Entries the conditional
// filter now rejects, or whose extraction fails, are dropped from the index
// and mark it partial; no cache event accompanies that.
func (ix *index) update(e grid.Entry) {
	ekey := e.Key.MapKey()
	if ix.filter != nil && !ix.filter.Evaluate(e) {
		ix.partial = true
		ix.removeMapping(ekey)
		return
	}
	extracted, err := ix.extractor.Extract(e)
	if err != nil {
		ix.partial = true
		ix.removeMapping(ekey)
		return
	}

	ix.removeMapping(ekey)
	vkey := extracted.MapKey()
	set := ix.inverse[vkey]
	if set == nil {
		set = make(map[values.Key]values.Value)
		ix.inverse[vkey] = set
		ix.vals[vkey] = extracted
		if ix.ordered {
			ix.insertSorted(extracted)
		}
	}
	set[ekey] = e.Key
	ix.forward[ekey] = extracted
}

// remove reflects a deleted entry. Removal works off the forward map, so it
// succeeds even when re-extracting the value would fail.
func (ix *index) remove(e grid.Entry) {
	ix.removeMapping(e.Key.MapKey())
}

func (ix *index) removeMapping(ekey values.Key) {
	old, ok := ix.forward[ekey]
	if !ok {
		return
	}
	delete(ix.forward, ekey)
	vkey := old.MapKey()
	set := ix.inverse[vkey]
	delete(set, ekey)
	if len(set) == 0 {
		delete(ix.inverse, vkey)
		delete(ix.vals, vkey)
		if ix.ordered {
			ix.removeSorted(old)
		}
	}
}

func (ix *index) insertSorted(v values.Value) {
	i := sort.Search(len(ix.sorted), func(i int) bool { return ix.cmp(ix.sorted[i], v) >= 0 })
	ix.sorted = append(ix.sorted, values.Value{})
	copy(ix.sorted[i+1:], ix.sorted[i:])
	ix.sorted[i] = v
}

func (ix *index) removeSorted(v values.Value) {
	i := sort.Search(len(ix.sorted), func(i int) bool { return ix.cmp(ix.sorted[i], v) >= 0 })
	for i < len(ix.sorted) {
		if ix.sorted[i].MapKey() == v.MapKey() {
			ix.sorted = append(ix.sorted[:i], ix.sorted[i+1:]...)
			return
		}
		if ix.cmp(ix.sorted[i], v) != 0 {
			return
		}
		i++
	}
}

// lookup returns the keys of entries whose extracted value equals match.
func (ix *index) lookup(match values.Value) []values.Value {
	set := ix.inverse[match.MapKey()]
	keys := make([]values.Value, 0, len(set))
	for _, k := range set {
		keys = append(keys, k)
	}
	return keys
}
