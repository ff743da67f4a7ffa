// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package cache

import (
	"fmt"

	"github.com/gridlink/gridlink/lib/values"
)

// EntryStats is the read-only view an eviction policy ranks entries by.
// Ticks are a cache-local logical clock bumped on every access.
type EntryStats struct {
	Key       values.Value
	Units     int64
	Inserted  int64 // tick at insert
	LastTouch int64 // tick at last access
	Touches   int64 // access count
}

// An EvictionPolicy ranks entries for eviction; lower ranks evict first.
// now is the cache's current tick.
type EvictionPolicy interface {
	Rank(s EntryStats, now int64) float64
}

// EvictionPolicyFunc adapts a function to EvictionPolicy.
type EvictionPolicyFunc func(s EntryStats, now int64) float64

func (f EvictionPolicyFunc) Rank(s EntryStats, now int64) float64 { return f(s, now) }

type lruPolicy struct{}

func (lruPolicy) Rank(s EntryStats, _ int64) float64 { return float64(s.LastTouch) }

type lfuPolicy struct{}

func (lfuPolicy) Rank(s EntryStats, _ int64) float64 { return float64(s.Touches) }

// hybridPolicy weights the touch count by recency so that a frequently used
// but stale entry can still fall behind a recently active one.
type hybridPolicy struct{}

func (hybridPolicy) Rank(s EntryStats, now int64) float64 {
	age := float64(now - s.LastTouch)
	span := float64(now - s.Inserted + 1)
	recency := 1 - age/(span+age)
	return float64(s.Touches) * recency
}

func policyByName(name string, external EvictionPolicy) (EvictionPolicy, error) {
	switch name {
	case "", "hybrid":
		return hybridPolicy{}, nil
	case "lru":
		return lruPolicy{}, nil
	case "lfu":
		return lfuPolicy{}, nil
	case "external":
		if external == nil {
			return nil, fmt.Errorf("eviction policy %q needs an external implementation", name)
		}
		return external, nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", name)
	}
}

// A UnitCalculator prices an entry for the HighUnits bound.
type UnitCalculator interface {
	Units(key, value values.Value) int64
}

// UnitCalculatorFunc adapts a function to UnitCalculator.
type UnitCalculatorFunc func(key, value values.Value) int64

func (f UnitCalculatorFunc) Units(key, value values.Value) int64 { return f(key, value) }

type fixedCalculator struct{}

func (fixedCalculator) Units(_, _ values.Value) int64 { return 1 }

// binaryCalculator approximates the wire size of an entry. Strings and byte
// slices count exactly, fixed-width kinds by their width, anything else by a
// flat constant.
type binaryCalculator struct{}

func (binaryCalculator) Units(key, value values.Value) int64 {
	return binarySize(key) + binarySize(value)
}

func binarySize(v values.Value) int64 {
	switch v.Kind() {
	case values.KindNone:
		return 1
	case values.KindBool:
		return 1
	case values.KindInt32:
		return 4
	case values.KindInt64, values.KindFloat64:
		return 8
	case values.KindTime:
		return 12
	case values.KindString, values.KindDecimal:
		return int64(len(v.Str()))
	case values.KindBytes:
		return int64(len(v.Bytes()))
	default:
		return 16
	}
}

func calculatorByName(name string, external UnitCalculator) (UnitCalculator, error) {
	switch name {
	case "", "fixed":
		return fixedCalculator{}, nil
	case "binary":
		return binaryCalculator{}, nil
	case "external":
		if external == nil {
			return nil, fmt.Errorf("unit calculator %q needs an external implementation", name)
		}
		return external, nil
	default:
		return nil, fmt.Errorf("unknown unit calculator %q", name)
	}
}
