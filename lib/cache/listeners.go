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

// The listener registry tracks global, per-key and per-filter registrations
// in registration order. It is guarded by the owning cache's mutex.
type listenerRegistry struct {
	nextOrder int64
	global    []listenerReg
	byKey     map[values.Key][]listenerReg
	byFilter  []filterReg
}

type listenerReg struct {
	lis   grid.MapListener
	lite  bool
	order int64
}

type filterReg struct {
	listenerReg
	filter grid.Filter
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{
		byKey: make(map[values.Key][]listenerReg),
	}
}

func (r *listenerRegistry) addGlobal(lis grid.MapListener, lite bool) {
	r.nextOrder++
	r.global = append(r.global, listenerReg{lis: lis, lite: lite, order: r.nextOrder})
}

func (r *listenerRegistry) removeGlobal(lis grid.MapListener) {
	r.global = removeReg(r.global, lis)
}

func (r *listenerRegistry) addKey(lis grid.MapListener, key values.Value, lite bool) {
	r.nextOrder++
	k := key.MapKey()
	r.byKey[k] = append(r.byKey[k], listenerReg{lis: lis, lite: lite, order: r.nextOrder})
}

func (r *listenerRegistry) removeKey(lis grid.MapListener, key values.Value) {
	k := key.MapKey()
	regs := removeReg(r.byKey[k], lis)
	if len(regs) == 0 {
		delete(r.byKey, k)
	} else {
		r.byKey[k] = regs
	}
}

func (r *listenerRegistry) addFilter(lis grid.MapListener, filter grid.Filter, lite bool) {
	r.nextOrder++
	r.byFilter = append(r.byFilter, filterReg{
		listenerReg: listenerReg{lis: lis, lite: lite, order: r.nextOrder},
		filter:      filter,
	})
}

func (r *listenerRegistry) removeFilter(lis grid.MapListener, filter grid.Filter) {
	for i, reg := range r.byFilter {
		if reg.lis == lis && reg.filter == filter {
			r.byFilter = append(r.byFilter[:i], r.byFilter[i+1:]...)
			return
		}
	}
}

func (r *listenerRegistry) empty() bool {
	return len(r.global) == 0 && len(r.byKey) == 0 && len(r.byFilter) == 0
}

func removeReg(regs []listenerReg, lis grid.MapListener) []listenerReg {
	for i, reg := range regs {
		if reg.lis == lis {
			return append(regs[:i], regs[i+1:]...)
		}
	}
	return regs
}

// matching returns the registrations interested in ev, in registration
// order across the three modes. Filter registrations evaluate against the
// new value, or the old one for deletes.
func (r *listenerRegistry) matching(ev grid.MapEvent) []listenerReg {
	var out []listenerReg
	out = append(out, r.global...)
	out = append(out, r.byKey[ev.Key.MapKey()]...)
	if len(r.byFilter) > 0 {
		probe := grid.Entry{Key: ev.Key, Value: ev.NewValue}
		if ev.Type == grid.EntryDeleted {
			probe.Value = ev.OldValue
		}
		for _, reg := range r.byFilter {
			if reg.filter == nil || reg.filter.Evaluate(probe) {
				out = append(out, reg.listenerReg)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}
